package entity

import (
	"fmt"
	"strings"
	"time"
)

// SpecialReviewStatus is the status of the finance review of exception items
type SpecialReviewStatus string

const (
	SpecialReviewPending  SpecialReviewStatus = "PENDING"
	SpecialReviewRejected SpecialReviewStatus = "REJECTED"
	SpecialReviewApproved SpecialReviewStatus = "APPROVED"
)

// Outcome is a finance decision on a single exception item
type Outcome string

const (
	OutcomeApprove Outcome = "APPROVE"
	OutcomeReject  Outcome = "REJECT"
)

// ParseOutcome normalizes a decision value
func ParseOutcome(v string) (Outcome, bool) {
	switch Outcome(strings.ToUpper(strings.TrimSpace(v))) {
	case OutcomeApprove:
		return OutcomeApprove, true
	case OutcomeReject:
		return OutcomeReject, true
	default:
		return "", false
	}
}

// SpecialReview holds the finance decisions on a report's exception items
type SpecialReview struct {
	ID              int64               `json:"id"`
	ReportID        int64               `json:"report_id"`
	Status          SpecialReviewStatus `json:"status"`
	Items           []SpecialReviewItem `json:"items"`
	ReviewerID      *int64              `json:"reviewer_id,omitempty"`
	ReviewerComment string              `json:"reviewer_comment,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	DecidedAt       *time.Time          `json:"decided_at,omitempty"`
}

// SpecialReviewItem is one exception item awaiting or carrying a decision
type SpecialReviewItem struct {
	Code            string  `json:"code"`
	PolicyCode      string  `json:"policy_code"`
	Message         string  `json:"message"`
	EmployeeReason  string  `json:"employee_reason,omitempty"`
	FinanceDecision Outcome `json:"finance_decision,omitempty"`
	FinanceReason   string  `json:"finance_reason,omitempty"`
}

// Decision is a reviewer's verdict on one exception item
type Decision struct {
	Code          string
	Outcome       Outcome
	FinanceReason string
}

// Clone returns a deep copy of the review
func (s *SpecialReview) Clone() *SpecialReview {
	c := *s
	c.Items = append([]SpecialReviewItem(nil), s.Items...)
	c.DecidedAt = cloneTime(s.DecidedAt)
	if s.ReviewerID != nil {
		id := *s.ReviewerID
		c.ReviewerID = &id
	}
	return &c
}

// HasRejection reports whether any decision in the set rejects an item
func HasRejection(decisions []Decision) bool {
	for _, d := range decisions {
		if d.Outcome == OutcomeReject {
			return true
		}
	}
	return false
}

// CheckDecisions validates a decision set against the review without changing it.
// Every review item must be decided exactly once and rejections need a reason.
func (s *SpecialReview) CheckDecisions(decisions []Decision) error {
	pending := make(map[string]bool, len(s.Items))
	for _, item := range s.Items {
		pending[item.Code] = true
	}

	seen := make(map[string]bool, len(decisions))
	for _, d := range decisions {
		code := strings.TrimSpace(d.Code)
		if code == "" {
			return fmt.Errorf("decision code is required")
		}
		if !pending[code] {
			return fmt.Errorf("unknown item code %s", code)
		}
		if seen[code] {
			return fmt.Errorf("duplicate decision for %s", code)
		}
		seen[code] = true

		switch d.Outcome {
		case OutcomeApprove:
		case OutcomeReject:
			if strings.TrimSpace(d.FinanceReason) == "" {
				return fmt.Errorf("finance reason is required to reject %s", code)
			}
		default:
			return fmt.Errorf("decision for %s must be APPROVE or REJECT", code)
		}
	}

	for _, item := range s.Items {
		if !seen[item.Code] {
			return fmt.Errorf("missing decision for %s", item.Code)
		}
	}
	return nil
}

// Apply folds validated decisions into the review and returns true when every item was approved
func (s *SpecialReview) Apply(reviewerID int64, comment string, decisions []Decision, now time.Time) bool {
	byCode := make(map[string]Decision, len(decisions))
	for _, d := range decisions {
		byCode[strings.TrimSpace(d.Code)] = d
	}

	allApproved := true
	for i := range s.Items {
		d := byCode[s.Items[i].Code]
		s.Items[i].FinanceDecision = d.Outcome
		s.Items[i].FinanceReason = strings.TrimSpace(d.FinanceReason)
		if d.Outcome == OutcomeReject {
			allApproved = false
		}
	}

	s.ReviewerID = &reviewerID
	s.ReviewerComment = comment
	s.DecidedAt = &now
	if allApproved {
		s.Status = SpecialReviewApproved
	} else {
		s.Status = SpecialReviewRejected
	}
	return allApproved
}

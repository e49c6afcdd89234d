package http

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/application/service"
	appwf "github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

const dateLayout = "2006-01-02"

// LoginRequest represents the body of POST /api/auth/login
type LoginRequest struct {
	Email string `json:"email"`
}

// ItemRequest is one line item of a create or update request
type ItemRequest struct {
	Code        string          `json:"code"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
}

// ReportRequest represents the body of report create and update calls
type ReportRequest struct {
	SubmitterID   int64         `json:"submitterId"`
	Title         string        `json:"title"`
	Destination   string        `json:"destination"`
	DepartureDate string        `json:"departureDate"`
	ReturnDate    string        `json:"returnDate"`
	Items         []ItemRequest `json:"items"`
}

// ReasonRequest is the submitter's justification for one flagged item
type ReasonRequest struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// SubmitRequest represents the body of POST /:id/submit
type SubmitRequest struct {
	SubmitterID int64           `json:"submitterId"`
	Reasons     []ReasonRequest `json:"reasons"`
}

// ApprovalRequest represents the body of approve and reject calls
type ApprovalRequest struct {
	ApproverID   int64  `json:"approverId"`
	ApproverRole string `json:"approverRole"`
	Comment      string `json:"comment"`
}

// ItemDecisionRequest is the reviewer's verdict on one exception item
type ItemDecisionRequest struct {
	Code          string `json:"code"`
	Decision      string `json:"decision"`
	FinanceReason string `json:"financeReason"`
}

// DecideRequest represents the body of POST /:id/special-review/decide
type DecideRequest struct {
	ReviewerID      int64                 `json:"reviewerId"`
	ReviewerRole    string                `json:"reviewerRole"`
	ReviewerComment string                `json:"reviewerComment"`
	Decisions       []ItemDecisionRequest `json:"decisions"`
}

// ItemResponse is a report line item in API responses
type ItemResponse struct {
	Code        string          `json:"code"`
	Date        *string         `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
}

// ReportResponse represents an expense report in API responses
type ReportResponse struct {
	ID              int64           `json:"id"`
	Title           string          `json:"title"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Status          workflow.State  `json:"status"`
	Destination     string          `json:"destination"`
	DepartureDate   *string         `json:"departureDate"`
	ReturnDate      *string         `json:"returnDate"`
	CreatedAt       time.Time       `json:"createdAt"`
	LastActivityAt  time.Time       `json:"lastActivityAt"`
	ApprovedAt      *time.Time      `json:"approvedAt"`
	SubmitterID     int64           `json:"submitterId"`
	SubmitterName   string          `json:"submitterName,omitempty"`
	ApproverID      *int64          `json:"approverId"`
	ApproverName    string          `json:"approverName,omitempty"`
	ApprovalComment string          `json:"approvalComment,omitempty"`
	Items           []ItemResponse  `json:"items"`
}

// SummaryResponse represents a report in listing responses
type SummaryResponse struct {
	ID             int64           `json:"id"`
	Title          string          `json:"title"`
	Destination    string          `json:"destination"`
	SubmitterID    int64           `json:"submitterId"`
	SubmitterName  string          `json:"submitterName"`
	Status         workflow.State  `json:"status"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	ItemCount      int             `json:"itemCount"`
	Flagged        bool            `json:"flagged"`
	ExceptionCount int             `json:"exceptionCount"`
	CreatedAt      time.Time       `json:"createdAt"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
}

// ReviewItemResponse is one exception item of a special review
type ReviewItemResponse struct {
	Code            string `json:"code"`
	PolicyCode      string `json:"policyCode"`
	Message         string `json:"message"`
	EmployeeReason  string `json:"employeeReason,omitempty"`
	FinanceDecision string `json:"financeDecision,omitempty"`
	FinanceReason   string `json:"financeReason,omitempty"`
}

// SpecialReviewResponse is the reviewer's view of a pending special review
type SpecialReviewResponse struct {
	ID              int64                `json:"id"`
	ReportID        int64                `json:"reportId"`
	Status          string               `json:"status"`
	CreatedAt       time.Time            `json:"createdAt"`
	DecidedAt       *time.Time           `json:"decidedAt"`
	ReviewerID      *int64               `json:"reviewerId"`
	ReviewerName    string               `json:"reviewerName,omitempty"`
	ReviewerComment string               `json:"reviewerComment,omitempty"`
	Items           []ReviewItemResponse `json:"items"`
}

// FeedbackResponse is the submitter's view of a decided special review
type FeedbackResponse struct {
	ReportID            int64                `json:"reportId"`
	ReportStatus        workflow.State       `json:"reportStatus"`
	SpecialReviewStatus string               `json:"specialReviewStatus"`
	DecidedAt           *time.Time           `json:"decidedAt"`
	ReviewerName        string               `json:"reviewerName,omitempty"`
	ReviewerComment     string               `json:"reviewerComment"`
	Items               []ReviewItemResponse `json:"items"`
}

// AuditLogResponse is one entry of a report's audit trail
type AuditLogResponse struct {
	ID         int64          `json:"id"`
	Action     string         `json:"action"`
	FromStatus workflow.State `json:"fromStatus,omitempty"`
	ToStatus   workflow.State `json:"toStatus"`
	ActorID    int64          `json:"actorId"`
	ActorName  string         `json:"actorName"`
	Comment    string         `json:"comment,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// StatsResponse aggregates the reports visible to the requester
type StatsResponse struct {
	TotalReports int                    `json:"totalReports"`
	Approved     int                    `json:"approved"`
	Rejected     int                    `json:"rejected"`
	Pending      int                    `json:"pending"`
	TotalAmount  decimal.Decimal        `json:"totalAmount"`
	ByStatus     map[workflow.State]int `json:"byStatus"`
	ByCategory   []CategoryResponse     `json:"byCategory"`
	ByMonth      []MonthResponse        `json:"byMonth"`
}

// CategoryResponse totals one expense category
type CategoryResponse struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Count    int             `json:"count"`
}

// MonthResponse totals reports created in one month
type MonthResponse struct {
	Month  string          `json:"month"`
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

// toInput converts a create or update request into lifecycle input
func (r ReportRequest) toInput() (appwf.ReportInput, error) {
	departure, err := parseDate("departureDate", r.DepartureDate)
	if err != nil {
		return appwf.ReportInput{}, err
	}
	ret, err := parseDate("returnDate", r.ReturnDate)
	if err != nil {
		return appwf.ReportInput{}, err
	}

	items := make([]entity.ExpenseItem, 0, len(r.Items))
	for i, item := range r.Items {
		date, err := parseDate(fmt.Sprintf("items[%d].date", i), item.Date)
		if err != nil {
			return appwf.ReportInput{}, err
		}
		items = append(items, entity.ExpenseItem{
			Code:        strings.TrimSpace(item.Code),
			Date:        date,
			Description: item.Description,
			Amount:      item.Amount,
			Category:    item.Category,
		})
	}

	return appwf.ReportInput{
		Title:         r.Title,
		Destination:   r.Destination,
		DepartureDate: departure,
		ReturnDate:    ret,
		Items:         items,
	}, nil
}

func (r SubmitRequest) toReasons() []appwf.ExceptionReason {
	reasons := make([]appwf.ExceptionReason, 0, len(r.Reasons))
	for _, reason := range r.Reasons {
		reasons = append(reasons, appwf.ExceptionReason{Code: reason.Code, Reason: reason.Reason})
	}
	return reasons
}

// toDecisions converts the request decisions, rejecting unknown verdicts
func (r DecideRequest) toDecisions() ([]entity.Decision, error) {
	decisions := make([]entity.Decision, 0, len(r.Decisions))
	for _, d := range r.Decisions {
		outcome, ok := entity.ParseOutcome(d.Decision)
		if !ok {
			return nil, workflow.Validation("decide_special_review", "decision for item %s must be APPROVE or REJECT", d.Code)
		}
		decisions = append(decisions, entity.Decision{
			Code:          d.Code,
			Outcome:       outcome,
			FinanceReason: d.FinanceReason,
		})
	}
	return decisions, nil
}

func parseDate(field, v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, workflow.Validation("", "%s must be a date in YYYY-MM-DD format", field)
	}
	return &t, nil
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func newReportResponse(r *entity.ExpenseReport, names map[int64]string) ReportResponse {
	items := make([]ItemResponse, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, ItemResponse{
			Code:        item.Code,
			Date:        formatDate(item.Date),
			Description: item.Description,
			Amount:      item.Amount,
			Category:    item.Category,
		})
	}

	resp := ReportResponse{
		ID:              r.ID,
		Title:           r.Title,
		TotalAmount:     r.TotalAmount(),
		Status:          r.Status,
		Destination:     r.Destination,
		DepartureDate:   formatDate(r.DepartureDate),
		ReturnDate:      formatDate(r.ReturnDate),
		CreatedAt:       r.CreatedAt,
		LastActivityAt:  r.LastActivityAt,
		ApprovedAt:      r.ApprovedAt,
		SubmitterID:     r.SubmitterID,
		SubmitterName:   names[r.SubmitterID],
		ApproverID:      r.ApproverID,
		ApprovalComment: r.ApprovalComment,
		Items:           items,
	}
	if r.ApproverID != nil {
		resp.ApproverName = names[*r.ApproverID]
	}
	return resp
}

func newSummaryResponses(summaries []service.ReportSummary) []SummaryResponse {
	out := make([]SummaryResponse, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, SummaryResponse{
			ID:             s.ID,
			Title:          s.Title,
			Destination:    s.Destination,
			SubmitterID:    s.SubmitterID,
			SubmitterName:  s.SubmitterName,
			Status:         s.Status,
			TotalAmount:    s.TotalAmount,
			ItemCount:      s.ItemCount,
			Flagged:        s.Flagged,
			ExceptionCount: s.ExceptionCount,
			CreatedAt:      s.CreatedAt,
			LastActivityAt: s.LastActivityAt,
		})
	}
	return out
}

func newReviewItems(items []entity.SpecialReviewItem) []ReviewItemResponse {
	out := make([]ReviewItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, ReviewItemResponse{
			Code:            item.Code,
			PolicyCode:      item.PolicyCode,
			Message:         item.Message,
			EmployeeReason:  item.EmployeeReason,
			FinanceDecision: string(item.FinanceDecision),
			FinanceReason:   item.FinanceReason,
		})
	}
	return out
}

func newSpecialReviewResponse(d *appwf.ReviewDetail) SpecialReviewResponse {
	r := d.Review
	return SpecialReviewResponse{
		ID:              r.ID,
		ReportID:        r.ReportID,
		Status:          string(r.Status),
		CreatedAt:       r.CreatedAt,
		DecidedAt:       r.DecidedAt,
		ReviewerID:      r.ReviewerID,
		ReviewerName:    d.ReviewerName,
		ReviewerComment: r.ReviewerComment,
		Items:           newReviewItems(r.Items),
	}
}

func newFeedbackResponse(f *appwf.Feedback) FeedbackResponse {
	return FeedbackResponse{
		ReportID:            f.ReportID,
		ReportStatus:        f.ReportStatus,
		SpecialReviewStatus: string(f.SpecialReviewStatus),
		DecidedAt:           f.DecidedAt,
		ReviewerName:        f.ReviewerName,
		ReviewerComment:     f.ReviewerComment,
		Items:               newReviewItems(f.Items),
	}
}

func newAuditLogResponses(logs []*entity.AuditLog) []AuditLogResponse {
	out := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, AuditLogResponse{
			ID:         l.ID,
			Action:     l.Action,
			FromStatus: l.FromStatus,
			ToStatus:   l.ToStatus,
			ActorID:    l.ActorID,
			ActorName:  l.ActorName,
			Comment:    l.Comment,
			CreatedAt:  l.CreatedAt,
		})
	}
	return out
}

func newStatsResponse(s *service.Stats) StatsResponse {
	resp := StatsResponse{
		TotalReports: s.TotalReports,
		Approved:     s.Approved,
		Rejected:     s.Rejected,
		Pending:      s.Pending,
		TotalAmount:  s.TotalAmount,
		ByStatus:     s.ByStatus,
		ByCategory:   make([]CategoryResponse, 0, len(s.ByCategory)),
		ByMonth:      make([]MonthResponse, 0, len(s.ByMonth)),
	}
	for _, c := range s.ByCategory {
		resp.ByCategory = append(resp.ByCategory, CategoryResponse{Category: c.Category, Amount: c.Amount, Count: c.Count})
	}
	for _, m := range s.ByMonth {
		resp.ByMonth = append(resp.ByMonth, MonthResponse{Month: m.Month, Amount: m.Amount, Count: m.Count})
	}
	return resp
}

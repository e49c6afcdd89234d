package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/expense-approval/internal/application/guard"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	"github.com/garyjia/expense-approval/internal/domain/policy"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

// DecideSpecialReview applies itemized decisions to a pending special review.
// Approving every item sends the report to the chain entry; any rejection
// requests changes and keeps the review as feedback.
func (e *engineImpl) DecideSpecialReview(ctx context.Context, reportID int64, actor guard.Actor, reviewerComment string, decisions []entity.Decision) (domainwf.State, error) {
	const op = "decide_special_review"

	var status domainwf.State
	err := e.mutate(ctx, op, reportID, actor, func(txCtx context.Context, report *entity.ExpenseReport, user *entity.User) ([]*event.Event, error) {
		if err := e.guard.Authorize(guard.OpDecide, guard.Actor{ID: user.ID, Role: user.Role}, report); err != nil {
			return nil, err
		}
		if report.Status != domainwf.StateCFOSpecialReview {
			return nil, domainwf.InvalidState(op, "report %d is %s, not in special review", report.ID, report.Status)
		}

		review, err := e.reviews.GetByReportID(txCtx, report.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load special review: %w", err)
		}
		if review == nil || review.Status != entity.SpecialReviewPending {
			return nil, domainwf.InvalidState(op, "report %d has no pending special review", report.ID)
		}

		comment := strings.TrimSpace(reviewerComment)
		if comment == "" {
			return nil, domainwf.Validation(op, "reviewer comment is required")
		}
		if err := review.CheckDecisions(decisions); err != nil {
			return nil, &domainwf.Error{Kind: domainwf.ErrValidation, Op: op, Message: err.Error(), Err: err}
		}

		trigger := domainwf.TriggerClearExceptions
		action := entity.AuditActionExceptionsApproved
		if entity.HasRejection(decisions) {
			trigger = domainwf.TriggerRequestChanges
			action = entity.AuditActionExceptionRejected
		}

		from := report.Status
		to, err := e.fire(ctx, op, report, trigger, user.Role)
		if err != nil {
			return nil, err
		}

		now := e.clock.Now()
		allApproved := review.Apply(user.ID, comment, decisions, now)
		if allApproved {
			if err := e.reviews.DeleteByReportID(txCtx, report.ID); err != nil {
				return nil, fmt.Errorf("failed to delete special review: %w", err)
			}
		} else {
			if err := e.reviews.Update(txCtx, review); err != nil {
				return nil, fmt.Errorf("failed to update special review: %w", err)
			}
		}

		report.Status = to
		report.Touch(now)
		if err := e.reports.Update(txCtx, report); err != nil {
			return nil, fmt.Errorf("failed to update report: %w", err)
		}
		if err := e.appendAudit(txCtx, report, action, from, user, comment); err != nil {
			return nil, err
		}

		status = to
		return []*event.Event{
			event.NewEvent(event.TypeSpecialReviewDecided, report.ID, user.ID, map[string]interface{}{
				"review_id":    review.ID,
				"all_approved": allApproved,
				"items":        len(review.Items),
			}),
			statusChanged(report, user.ID, from, trigger),
		}, nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// SubmitterFeedback returns the special review outcome to the submitter
func (e *engineImpl) SubmitterFeedback(ctx context.Context, reportID int64, actor guard.Actor) (*Feedback, error) {
	const op = "submitter_feedback"

	var feedback *Feedback
	err := e.read(ctx, op, reportID, actor, func(readCtx context.Context, report *entity.ExpenseReport, user *entity.User) error {
		if err := e.guard.Authorize(guard.OpFeedback, guard.Actor{ID: user.ID, Role: user.Role}, report); err != nil {
			return err
		}

		review, err := e.reviews.GetByReportID(readCtx, report.ID)
		if err != nil {
			return fmt.Errorf("failed to load special review: %w", err)
		}
		if review == nil {
			return domainwf.NotFound(op, "report %d has no special review", report.ID)
		}

		reviewerName, err := e.reviewerName(readCtx, review)
		if err != nil {
			return err
		}

		feedback = &Feedback{
			ReportID:            report.ID,
			ReportStatus:        report.Status,
			SpecialReviewStatus: review.Status,
			ReviewerComment:     review.ReviewerComment,
			ReviewerName:        reviewerName,
			DecidedAt:           review.DecidedAt,
			Items:               review.Items,
		}
		return nil
	})
	return feedback, err
}

// SpecialReview returns the pending special review to the reviewer
func (e *engineImpl) SpecialReview(ctx context.Context, reportID int64, actor guard.Actor) (*ReviewDetail, error) {
	const op = "special_review"

	var detail *ReviewDetail
	err := e.read(ctx, op, reportID, actor, func(readCtx context.Context, report *entity.ExpenseReport, user *entity.User) error {
		if err := e.guard.Authorize(guard.OpViewSpecialReview, guard.Actor{ID: user.ID, Role: user.Role}, report); err != nil {
			return err
		}

		review, err := e.reviews.GetByReportID(readCtx, report.ID)
		if err != nil {
			return fmt.Errorf("failed to load special review: %w", err)
		}
		if review == nil || review.Status != entity.SpecialReviewPending {
			return domainwf.NotFound(op, "report %d has no pending special review", report.ID)
		}

		reviewerName, err := e.reviewerName(readCtx, review)
		if err != nil {
			return err
		}

		detail = &ReviewDetail{Review: review, ReviewerName: reviewerName}
		return nil
	})
	return detail, err
}

func (e *engineImpl) reviewerName(ctx context.Context, review *entity.SpecialReview) (string, error) {
	if review.ReviewerID == nil {
		return "", nil
	}
	reviewer, err := e.users.GetByID(ctx, *review.ReviewerID)
	if err != nil {
		return "", fmt.Errorf("failed to load reviewer: %w", err)
	}
	if reviewer == nil {
		return "", nil
	}
	return reviewer.Name, nil
}

// newSpecialReview opens a PENDING review with one item per exception,
// copying the submitter's reason for each flagged code
func newSpecialReview(reportID int64, exceptions []policy.Exception, reasons []ExceptionReason, now time.Time) *entity.SpecialReview {
	byCode := make(map[string]string, len(reasons))
	for _, r := range reasons {
		byCode[strings.TrimSpace(r.Code)] = strings.TrimSpace(r.Reason)
	}

	items := make([]entity.SpecialReviewItem, 0, len(exceptions))
	for _, ex := range exceptions {
		items = append(items, entity.SpecialReviewItem{
			Code:           ex.ItemCode,
			PolicyCode:     ex.PolicyCode,
			Message:        ex.Message,
			EmployeeReason: byCode[ex.ItemCode],
		})
	}

	return &entity.SpecialReview{
		ReportID:  reportID,
		Status:    entity.SpecialReviewPending,
		Items:     items,
		CreatedAt: now,
	}
}

package workflow

import (
	"context"
	"time"

	"github.com/garyjia/expense-approval/internal/application/guard"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

// ReportLifecycle owns the status of expense reports and every transition between statuses
type ReportLifecycle interface {
	// Create stores a new DRAFT report submitted by actor
	Create(ctx context.Context, actor guard.Actor, input ReportInput) (*entity.ExpenseReport, error)

	// Update replaces the fields and items of an editable report. Status is unchanged.
	Update(ctx context.Context, reportID int64, actor guard.Actor, input ReportInput) (domainwf.State, error)

	// Submit evaluates policy and routes the report into special review or the approval chain
	Submit(ctx context.Context, reportID int64, actor guard.Actor, reasons []ExceptionReason) (domainwf.State, error)

	// Approve advances a report in a chain review state to the next tier
	Approve(ctx context.Context, reportID int64, actor guard.Actor, comment string) (domainwf.State, error)

	// Reject ends a report in a chain review state. A comment is required.
	Reject(ctx context.Context, reportID int64, actor guard.Actor, comment string) (domainwf.State, error)

	// Get returns a snapshot of the report
	Get(ctx context.Context, reportID int64, actor guard.Actor) (*entity.ExpenseReport, error)

	// AuditLog returns the report's audit trail
	AuditLog(ctx context.Context, reportID int64, actor guard.Actor) ([]*entity.AuditLog, error)

	// DecideSpecialReview applies itemized decisions to a pending special review
	DecideSpecialReview(ctx context.Context, reportID int64, actor guard.Actor, reviewerComment string, decisions []entity.Decision) (domainwf.State, error)

	// SubmitterFeedback returns the special review outcome to the submitter
	SubmitterFeedback(ctx context.Context, reportID int64, actor guard.Actor) (*Feedback, error)

	// SpecialReview returns the pending special review to the reviewer
	SpecialReview(ctx context.Context, reportID int64, actor guard.Actor) (*ReviewDetail, error)
}

// ReportInput carries the editable fields of a report
type ReportInput struct {
	Title         string
	Destination   string
	DepartureDate *time.Time
	ReturnDate    *time.Time
	Items         []entity.ExpenseItem
}

// ExceptionReason is the submitter's justification for an item flagged by policy
type ExceptionReason struct {
	Code   string
	Reason string
}

// Feedback is the submitter's view of a decided special review
type Feedback struct {
	ReportID            int64
	ReportStatus        domainwf.State
	SpecialReviewStatus entity.SpecialReviewStatus
	ReviewerComment     string
	ReviewerName        string
	DecidedAt           *time.Time
	Items               []entity.SpecialReviewItem
}

// ReviewDetail is the reviewer's view of a pending special review
type ReviewDetail struct {
	Review       *entity.SpecialReview
	ReviewerName string
}

package port

import (
	"context"
	"time"

	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// ReportQuery filters and orders report listings
type ReportQuery struct {
	// SubmitterID restricts results to one submitter when non-zero
	SubmitterID int64
	Statuses    []workflow.State
	// Text matches title or destination, case-insensitively
	Text  string
	Sort  string
	Limit int
}

// ReportRepository defines persistence operations for ExpenseReport and its items
type ReportRepository interface {
	// Create stores the report with its items and assigns the ID
	Create(ctx context.Context, report *entity.ExpenseReport) error

	// GetByID returns nil, nil when the report does not exist
	GetByID(ctx context.Context, id int64) (*entity.ExpenseReport, error)

	// Update stores every mutable field and replaces the items
	Update(ctx context.Context, report *entity.ExpenseReport) error

	// List returns reports matching the query, items included
	List(ctx context.Context, query ReportQuery) ([]*entity.ExpenseReport, error)
}

// SpecialReviewRepository defines persistence operations for SpecialReview
type SpecialReviewRepository interface {
	// Create stores a review and its items. Any retained review of the same report is replaced.
	Create(ctx context.Context, review *entity.SpecialReview) error

	// GetByReportID returns nil, nil when the report has no review
	GetByReportID(ctx context.Context, reportID int64) (*entity.SpecialReview, error)

	// Update stores the status, decisions and reviewer fields
	Update(ctx context.Context, review *entity.SpecialReview) error

	// DeleteByReportID removes the report's review if any
	DeleteByReportID(ctx context.Context, reportID int64) error
}

// UserRepository defines persistence operations for User
type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error

	// GetByID returns nil, nil when the user does not exist
	GetByID(ctx context.Context, id int64) (*entity.User, error)

	// GetByEmail matches case-insensitively and returns nil, nil when absent
	GetByEmail(ctx context.Context, email string) (*entity.User, error)

	List(ctx context.Context) ([]*entity.User, error)
}

// AuditLogRepository defines persistence operations for AuditLog
type AuditLogRepository interface {
	Create(ctx context.Context, log *entity.AuditLog) error

	// GetByReportID returns the report's trail, oldest first
	GetByReportID(ctx context.Context, reportID int64) ([]*entity.AuditLog, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// DataResetter wipes every table, used by the demo reset
type DataResetter interface {
	ResetAll(ctx context.Context) error
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock
type SystemClock struct{}

// Now returns the current time
func (SystemClock) Now() time.Time {
	return time.Now()
}

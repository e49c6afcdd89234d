package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// SpecialReviewRepository implements port.SpecialReviewRepository
type SpecialReviewRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSpecialReviewRepository creates a new special review repository
func NewSpecialReviewRepository(db *sql.DB, logger *zap.Logger) port.SpecialReviewRepository {
	return &SpecialReviewRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a review with its items, replacing any earlier review of the report
func (r *SpecialReviewRepository) Create(ctx context.Context, review *entity.SpecialReview) error {
	exec := r.getExecutor(ctx)

	if _, err := exec.ExecContext(ctx, `DELETE FROM special_reviews WHERE report_id = ?`, review.ReportID); err != nil {
		r.logger.Error("Failed to replace special review", zap.Int64("report_id", review.ReportID), zap.Error(err))
		return fmt.Errorf("failed to replace special review: %w", err)
	}

	query := `
		INSERT INTO special_reviews (report_id, status, reviewer_id, reviewer_comment, created_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := exec.ExecContext(ctx, query,
		review.ReportID,
		review.Status,
		nullInt64(review.ReviewerID),
		review.ReviewerComment,
		review.CreatedAt.UTC(),
		nullTime(review.DecidedAt),
	)
	if err != nil {
		r.logger.Error("Failed to create special review", zap.Int64("report_id", review.ReportID), zap.Error(err))
		return fmt.Errorf("failed to create special review: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	if err := r.insertItems(ctx, exec, id, review.Items); err != nil {
		return err
	}

	review.ID = id
	return nil
}

// GetByReportID retrieves the review of a report
func (r *SpecialReviewRepository) GetByReportID(ctx context.Context, reportID int64) (*entity.SpecialReview, error) {
	query := `
		SELECT id, report_id, status, reviewer_id, reviewer_comment, created_at, decided_at
		FROM special_reviews
		WHERE report_id = ?
	`

	var (
		review     entity.SpecialReview
		reviewerID sql.NullInt64
		decidedAt  sql.NullTime
	)

	exec := r.getExecutor(ctx)
	err := exec.QueryRowContext(ctx, query, reportID).Scan(
		&review.ID,
		&review.ReportID,
		&review.Status,
		&reviewerID,
		&review.ReviewerComment,
		&review.CreatedAt,
		&decidedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get special review", zap.Int64("report_id", reportID), zap.Error(err))
		return nil, fmt.Errorf("failed to get special review: %w", err)
	}

	if reviewerID.Valid {
		id := reviewerID.Int64
		review.ReviewerID = &id
	}
	review.DecidedAt = timePtr(decidedAt)

	items, err := r.loadItems(ctx, exec, review.ID)
	if err != nil {
		return nil, err
	}
	review.Items = items

	return &review, nil
}

// Update stores the status, reviewer fields and per-item decisions
func (r *SpecialReviewRepository) Update(ctx context.Context, review *entity.SpecialReview) error {
	query := `
		UPDATE special_reviews
		SET status = ?, reviewer_id = ?, reviewer_comment = ?, decided_at = ?
		WHERE id = ?
	`

	exec := r.getExecutor(ctx)
	result, err := exec.ExecContext(ctx, query,
		review.Status,
		nullInt64(review.ReviewerID),
		review.ReviewerComment,
		nullTime(review.DecidedAt),
		review.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update special review", zap.Int64("id", review.ID), zap.Error(err))
		return fmt.Errorf("failed to update special review: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("special review not found: %d", review.ID)
	}

	itemQuery := `
		UPDATE special_review_items
		SET finance_decision = ?, finance_reason = ?
		WHERE review_id = ? AND code = ?
	`
	for _, item := range review.Items {
		if _, err := exec.ExecContext(ctx, itemQuery, item.FinanceDecision, item.FinanceReason, review.ID, item.Code); err != nil {
			r.logger.Error("Failed to update special review item",
				zap.Int64("review_id", review.ID),
				zap.String("code", item.Code),
				zap.Error(err))
			return fmt.Errorf("failed to update special review item %s: %w", item.Code, err)
		}
	}

	return nil
}

// DeleteByReportID removes the review of a report, items included
func (r *SpecialReviewRepository) DeleteByReportID(ctx context.Context, reportID int64) error {
	_, err := r.getExecutor(ctx).ExecContext(ctx, `DELETE FROM special_reviews WHERE report_id = ?`, reportID)
	if err != nil {
		r.logger.Error("Failed to delete special review", zap.Int64("report_id", reportID), zap.Error(err))
		return fmt.Errorf("failed to delete special review: %w", err)
	}
	return nil
}

func (r *SpecialReviewRepository) insertItems(ctx context.Context, exec sqlite.Executor, reviewID int64, items []entity.SpecialReviewItem) error {
	query := `
		INSERT INTO special_review_items (
			review_id, position, code, policy_code, message,
			employee_reason, finance_decision, finance_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	for i, item := range items {
		_, err := exec.ExecContext(ctx, query,
			reviewID,
			i,
			item.Code,
			item.PolicyCode,
			item.Message,
			item.EmployeeReason,
			item.FinanceDecision,
			item.FinanceReason,
		)
		if err != nil {
			r.logger.Error("Failed to insert special review item",
				zap.Int64("review_id", reviewID),
				zap.String("code", item.Code),
				zap.Error(err))
			return fmt.Errorf("failed to insert special review item %s: %w", item.Code, err)
		}
	}
	return nil
}

func (r *SpecialReviewRepository) loadItems(ctx context.Context, exec sqlite.Executor, reviewID int64) ([]entity.SpecialReviewItem, error) {
	query := `
		SELECT code, policy_code, message, employee_reason, finance_decision, finance_reason
		FROM special_review_items
		WHERE review_id = ?
		ORDER BY position
	`

	rows, err := exec.QueryContext(ctx, query, reviewID)
	if err != nil {
		r.logger.Error("Failed to load special review items", zap.Int64("review_id", reviewID), zap.Error(err))
		return nil, fmt.Errorf("failed to load special review items: %w", err)
	}
	defer rows.Close()

	items := []entity.SpecialReviewItem{}
	for rows.Next() {
		var item entity.SpecialReviewItem
		if err := rows.Scan(
			&item.Code,
			&item.PolicyCode,
			&item.Message,
			&item.EmployeeReason,
			&item.FinanceDecision,
			&item.FinanceReason,
		); err != nil {
			return nil, fmt.Errorf("failed to scan special review item: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// getExecutor returns the transaction from context when present
func (r *SpecialReviewRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, r.db)
}

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

// AuditLogRepository implements port.AuditLogRepository
type AuditLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *sql.DB, logger *zap.Logger) port.AuditLogRepository {
	return &AuditLogRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends an audit entry
func (r *AuditLogRepository) Create(ctx context.Context, log *entity.AuditLog) error {
	query := `
		INSERT INTO audit_logs (
			report_id, action, from_status, to_status, actor_id, actor_name, comment, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		log.ReportID,
		log.Action,
		log.FromStatus,
		log.ToStatus,
		log.ActorID,
		log.ActorName,
		log.Comment,
		log.CreatedAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create audit log",
			zap.Int64("report_id", log.ReportID),
			zap.String("action", log.Action),
			zap.Error(err))
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	log.ID = id
	return nil
}

// GetByReportID retrieves the audit trail of a report in insertion order
func (r *AuditLogRepository) GetByReportID(ctx context.Context, reportID int64) ([]*entity.AuditLog, error) {
	query := `
		SELECT id, report_id, action, from_status, to_status, actor_id, actor_name, comment, created_at
		FROM audit_logs
		WHERE report_id = ?
		ORDER BY id ASC
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, reportID)
	if err != nil {
		r.logger.Error("Failed to get audit logs", zap.Int64("report_id", reportID), zap.Error(err))
		return nil, fmt.Errorf("failed to get audit logs: %w", err)
	}
	defer rows.Close()

	logs := []*entity.AuditLog{}
	for rows.Next() {
		var log entity.AuditLog
		if err := rows.Scan(
			&log.ID,
			&log.ReportID,
			&log.Action,
			&log.FromStatus,
			&log.ToStatus,
			&log.ActorID,
			&log.ActorName,
			&log.Comment,
			&log.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, &log)
	}

	return logs, rows.Err()
}

// getExecutor returns the transaction from context when present
func (r *AuditLogRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, r.db)
}

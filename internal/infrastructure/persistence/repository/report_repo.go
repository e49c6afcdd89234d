package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// ReportRepository implements port.ReportRepository
type ReportRepository struct {
	db     *sql.DB
	tx     *sqlite.DB
	logger *zap.Logger
}

// NewReportRepository creates a new expense report repository
func NewReportRepository(db *sql.DB, logger *zap.Logger) port.ReportRepository {
	return &ReportRepository{
		db:     db,
		tx:     sqlite.NewDB(db, logger),
		logger: logger,
	}
}

const reportColumns = `
	id, title, destination, departure_date, return_date, submitter_id, status,
	next_item_seq, approval_comment, approver_id, approved_at, created_at, last_activity_at
`

var reportOrderBy = map[string]string{
	entity.SortActivityDesc: "last_activity_at DESC, id DESC",
	entity.SortActivityAsc:  "last_activity_at ASC, id ASC",
	entity.SortCreatedDesc:  "created_at DESC, id DESC",
	entity.SortCreatedAsc:   "created_at ASC, id ASC",
	entity.SortAmountDesc:   "CAST(total_amount AS REAL) DESC, id DESC",
	entity.SortAmountAsc:    "CAST(total_amount AS REAL) ASC, id ASC",
	entity.SortTitleAsc:     "title COLLATE NOCASE ASC, id ASC",
}

// Create stores a report with its items
func (r *ReportRepository) Create(ctx context.Context, report *entity.ExpenseReport) error {
	query := `
		INSERT INTO expense_reports (
			title, destination, departure_date, return_date, submitter_id, status,
			total_amount, next_item_seq, approval_comment, approver_id, approved_at,
			created_at, last_activity_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	exec := r.getExecutor(ctx)
	result, err := exec.ExecContext(ctx, query,
		report.Title,
		report.Destination,
		nullTime(report.DepartureDate),
		nullTime(report.ReturnDate),
		report.SubmitterID,
		report.Status,
		report.TotalAmount().String(),
		report.NextItemSeq,
		report.ApprovalComment,
		nullInt64(report.ApproverID),
		nullTime(report.ApprovedAt),
		report.CreatedAt.UTC(),
		report.LastActivityAt.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to create report", zap.Error(err))
		return fmt.Errorf("failed to create report: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	if err := r.insertItems(ctx, exec, id, report.Items); err != nil {
		return err
	}

	report.ID = id
	return nil
}

// GetByID retrieves a report and its items
func (r *ReportRepository) GetByID(ctx context.Context, id int64) (*entity.ExpenseReport, error) {
	query := `SELECT ` + reportColumns + ` FROM expense_reports WHERE id = ?`

	var report *entity.ExpenseReport
	err := r.snapshot(ctx, func(ctx context.Context, exec sqlite.Executor) error {
		found, err := scanReport(exec.QueryRowContext(ctx, query, id))
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			r.logger.Error("Failed to get report by ID", zap.Int64("id", id), zap.Error(err))
			return fmt.Errorf("failed to get report: %w", err)
		}

		items, err := r.loadItems(ctx, exec, []int64{id})
		if err != nil {
			return err
		}
		found.Items = itemsOrEmpty(items[id])
		report = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// Update stores the mutable report fields and replaces its items
func (r *ReportRepository) Update(ctx context.Context, report *entity.ExpenseReport) error {
	query := `
		UPDATE expense_reports
		SET title = ?, destination = ?, departure_date = ?, return_date = ?, status = ?,
			total_amount = ?, next_item_seq = ?, approval_comment = ?, approver_id = ?,
			approved_at = ?, last_activity_at = ?
		WHERE id = ?
	`

	exec := r.getExecutor(ctx)
	result, err := exec.ExecContext(ctx, query,
		report.Title,
		report.Destination,
		nullTime(report.DepartureDate),
		nullTime(report.ReturnDate),
		report.Status,
		report.TotalAmount().String(),
		report.NextItemSeq,
		report.ApprovalComment,
		nullInt64(report.ApproverID),
		nullTime(report.ApprovedAt),
		report.LastActivityAt.UTC(),
		report.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update report", zap.Int64("id", report.ID), zap.Error(err))
		return fmt.Errorf("failed to update report: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("report not found: %d", report.ID)
	}

	if _, err := exec.ExecContext(ctx, `DELETE FROM expense_items WHERE report_id = ?`, report.ID); err != nil {
		r.logger.Error("Failed to clear report items", zap.Int64("id", report.ID), zap.Error(err))
		return fmt.Errorf("failed to clear items: %w", err)
	}

	return r.insertItems(ctx, exec, report.ID, report.Items)
}

// List returns the reports matching the query with their items
func (r *ReportRepository) List(ctx context.Context, q port.ReportQuery) ([]*entity.ExpenseReport, error) {
	var (
		where []string
		args  []interface{}
	)

	if q.SubmitterID != 0 {
		where = append(where, "submitter_id = ?")
		args = append(args, q.SubmitterID)
	}
	if len(q.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(q.Statuses))+")")
		for _, s := range q.Statuses {
			args = append(args, s)
		}
	}
	if text := strings.TrimSpace(q.Text); text != "" {
		where = append(where, "(LOWER(title) LIKE ? ESCAPE '\\' OR LOWER(destination) LIKE ? ESCAPE '\\')")
		pattern := "%" + escapeLike(strings.ToLower(text)) + "%"
		args = append(args, pattern, pattern)
	}

	query := `SELECT ` + reportColumns + ` FROM expense_reports`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	order, ok := reportOrderBy[q.Sort]
	if !ok {
		order = reportOrderBy[entity.SortActivityDesc]
	}
	query += " ORDER BY " + order

	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	var reports []*entity.ExpenseReport
	err := r.snapshot(ctx, func(ctx context.Context, exec sqlite.Executor) error {
		var err error
		reports, err = r.queryReports(ctx, exec, query, args)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// snapshot runs fn in one transaction so the report rows and their items come
// from the same database state. A transaction already in ctx is joined.
func (r *ReportRepository) snapshot(ctx context.Context, fn func(ctx context.Context, exec sqlite.Executor) error) error {
	return r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx, r.getExecutor(ctx))
	})
}

func (r *ReportRepository) queryReports(ctx context.Context, exec sqlite.Executor, query string, args []interface{}) ([]*entity.ExpenseReport, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list reports", zap.Error(err))
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var (
		reports []*entity.ExpenseReport
		ids     []int64
	)
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
		ids = append(ids, report.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return reports, nil
	}

	items, err := r.loadItems(ctx, exec, ids)
	if err != nil {
		return nil, err
	}
	for _, report := range reports {
		report.Items = itemsOrEmpty(items[report.ID])
	}
	return reports, nil
}

func (r *ReportRepository) insertItems(ctx context.Context, exec sqlite.Executor, reportID int64, items []entity.ExpenseItem) error {
	query := `
		INSERT INTO expense_items (report_id, position, code, item_date, description, amount, category)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	for i, item := range items {
		_, err := exec.ExecContext(ctx, query,
			reportID,
			i,
			item.Code,
			nullTime(item.Date),
			item.Description,
			item.Amount.String(),
			item.Category,
		)
		if err != nil {
			r.logger.Error("Failed to insert item",
				zap.Int64("report_id", reportID),
				zap.String("code", item.Code),
				zap.Error(err))
			return fmt.Errorf("failed to insert item %s: %w", item.Code, err)
		}
	}
	return nil
}

func (r *ReportRepository) loadItems(ctx context.Context, exec sqlite.Executor, reportIDs []int64) (map[int64][]entity.ExpenseItem, error) {
	query := `
		SELECT report_id, code, item_date, description, amount, category
		FROM expense_items
		WHERE report_id IN (` + placeholders(len(reportIDs)) + `)
		ORDER BY report_id, position
	`

	args := make([]interface{}, len(reportIDs))
	for i, id := range reportIDs {
		args[i] = id
	}

	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to load items", zap.Error(err))
		return nil, fmt.Errorf("failed to load items: %w", err)
	}
	defer rows.Close()

	items := make(map[int64][]entity.ExpenseItem, len(reportIDs))
	for rows.Next() {
		var (
			reportID int64
			item     entity.ExpenseItem
			date     sql.NullTime
		)
		if err := rows.Scan(&reportID, &item.Code, &date, &item.Description, &item.Amount, &item.Category); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		item.Date = timePtr(date)
		items[reportID] = append(items[reportID], item)
	}

	return items, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row rowScanner) (*entity.ExpenseReport, error) {
	var (
		report     entity.ExpenseReport
		departure  sql.NullTime
		returnDate sql.NullTime
		approverID sql.NullInt64
		approvedAt sql.NullTime
	)

	err := row.Scan(
		&report.ID,
		&report.Title,
		&report.Destination,
		&departure,
		&returnDate,
		&report.SubmitterID,
		&report.Status,
		&report.NextItemSeq,
		&report.ApprovalComment,
		&approverID,
		&approvedAt,
		&report.CreatedAt,
		&report.LastActivityAt,
	)
	if err != nil {
		return nil, err
	}

	report.DepartureDate = timePtr(departure)
	report.ReturnDate = timePtr(returnDate)
	report.ApprovedAt = timePtr(approvedAt)
	if approverID.Valid {
		id := approverID.Int64
		report.ApproverID = &id
	}

	return &report, nil
}

func itemsOrEmpty(items []entity.ExpenseItem) []entity.ExpenseItem {
	if items == nil {
		return []entity.ExpenseItem{}
	}
	return items
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// getExecutor returns the transaction from context when present
func (r *ReportRepository) getExecutor(ctx context.Context) sqlite.Executor {
	return sqlite.ExecutorFrom(ctx, r.db)
}

package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

type mockReportRepo struct {
	reports map[int64]*entity.ExpenseReport
	nextID  int64
	listErr error
	queries []port.ReportQuery
}

func newMockReportRepo() *mockReportRepo {
	return &mockReportRepo{reports: make(map[int64]*entity.ExpenseReport)}
}

func (m *mockReportRepo) Create(ctx context.Context, report *entity.ExpenseReport) error {
	m.nextID++
	report.ID = m.nextID
	m.reports[report.ID] = report.Clone()
	return nil
}

func (m *mockReportRepo) GetByID(ctx context.Context, id int64) (*entity.ExpenseReport, error) {
	report, exists := m.reports[id]
	if !exists {
		return nil, nil
	}
	return report.Clone(), nil
}

func (m *mockReportRepo) Update(ctx context.Context, report *entity.ExpenseReport) error {
	if _, exists := m.reports[report.ID]; !exists {
		return errors.New("report not found")
	}
	m.reports[report.ID] = report.Clone()
	return nil
}

func (m *mockReportRepo) List(ctx context.Context, query port.ReportQuery) ([]*entity.ExpenseReport, error) {
	m.queries = append(m.queries, query)
	if m.listErr != nil {
		return nil, m.listErr
	}
	var result []*entity.ExpenseReport
	for _, r := range m.reports {
		if query.SubmitterID != 0 && r.SubmitterID != query.SubmitterID {
			continue
		}
		if len(query.Statuses) > 0 && !containsState(query.Statuses, r.Status) {
			continue
		}
		if query.Text != "" && !strings.Contains(strings.ToLower(r.Title), strings.ToLower(query.Text)) {
			continue
		}
		result = append(result, r.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if query.Limit > 0 && len(result) > query.Limit {
		result = result[:query.Limit]
	}
	return result, nil
}

func (m *mockReportRepo) lastQuery() port.ReportQuery {
	return m.queries[len(m.queries)-1]
}

func containsState(states []workflow.State, s workflow.State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

type mockReviewRepo struct {
	reviews map[int64]*entity.SpecialReview
	nextID  int64
}

func newMockReviewRepo() *mockReviewRepo {
	return &mockReviewRepo{reviews: make(map[int64]*entity.SpecialReview)}
}

func (m *mockReviewRepo) Create(ctx context.Context, review *entity.SpecialReview) error {
	m.nextID++
	review.ID = m.nextID
	m.reviews[review.ReportID] = review.Clone()
	return nil
}

func (m *mockReviewRepo) GetByReportID(ctx context.Context, reportID int64) (*entity.SpecialReview, error) {
	review, exists := m.reviews[reportID]
	if !exists {
		return nil, nil
	}
	return review.Clone(), nil
}

func (m *mockReviewRepo) Update(ctx context.Context, review *entity.SpecialReview) error {
	m.reviews[review.ReportID] = review.Clone()
	return nil
}

func (m *mockReviewRepo) DeleteByReportID(ctx context.Context, reportID int64) error {
	delete(m.reviews, reportID)
	return nil
}

type mockUserRepo struct {
	users  map[int64]*entity.User
	nextID int64
	getErr error
}

func newMockUserRepo(users ...*entity.User) *mockUserRepo {
	m := &mockUserRepo{users: make(map[int64]*entity.User)}
	for _, u := range users {
		m.users[u.ID] = u
		if u.ID > m.nextID {
			m.nextID = u.ID
		}
	}
	return m
}

func (m *mockUserRepo) Create(ctx context.Context, user *entity.User) error {
	m.nextID++
	user.ID = m.nextID
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *mockUserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	user, exists := m.users[id]
	if !exists {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, user := range m.users {
		if strings.EqualFold(user.Email, email) {
			copied := *user
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) List(ctx context.Context) ([]*entity.User, error) {
	var users []*entity.User
	for _, user := range m.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

type mockAuditRepo struct {
	logs []*entity.AuditLog
}

func (m *mockAuditRepo) Create(ctx context.Context, log *entity.AuditLog) error {
	log.ID = int64(len(m.logs) + 1)
	m.logs = append(m.logs, log)
	return nil
}

func (m *mockAuditRepo) GetByReportID(ctx context.Context, reportID int64) ([]*entity.AuditLog, error) {
	var result []*entity.AuditLog
	for _, l := range m.logs {
		if l.ReportID == reportID {
			result = append(result, l)
		}
	}
	return result, nil
}

type mockTxManager struct {
	calls int
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	return fn(ctx)
}

type mockTokenIssuer struct {
	issueErr error
}

func (m *mockTokenIssuer) Issue(userID int64, role workflow.Role, email string) (string, error) {
	if m.issueErr != nil {
		return "", m.issueErr
	}
	return "token-" + email, nil
}

func (m *mockTokenIssuer) Validate(token string) (*port.TokenClaims, error) {
	return nil, errors.New("not implemented")
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

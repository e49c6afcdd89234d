package workflow

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

// Mock implementations. Stores hand out copies so a failed operation can only
// change state through an explicit write.

type mockReportRepo struct {
	mu        sync.Mutex
	reports   map[int64]*entity.ExpenseReport
	nextID    int64
	updateErr error
}

func newMockReportRepo() *mockReportRepo {
	return &mockReportRepo{reports: make(map[int64]*entity.ExpenseReport)}
}

func (m *mockReportRepo) Create(ctx context.Context, report *entity.ExpenseReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	report.ID = m.nextID
	m.reports[report.ID] = report.Clone()
	return nil
}

func (m *mockReportRepo) GetByID(ctx context.Context, id int64) (*entity.ExpenseReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, exists := m.reports[id]
	if !exists {
		return nil, nil
	}
	return report.Clone(), nil
}

func (m *mockReportRepo) Update(ctx context.Context, report *entity.ExpenseReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, exists := m.reports[report.ID]; !exists {
		return errors.New("report not found")
	}
	m.reports[report.ID] = report.Clone()
	return nil
}

func (m *mockReportRepo) List(ctx context.Context, query port.ReportQuery) ([]*entity.ExpenseReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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
	return result, nil
}

func (m *mockReportRepo) status(id int64) domainwf.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reports[id].Status
}

func containsState(states []domainwf.State, s domainwf.State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

type mockReviewRepo struct {
	mu      sync.Mutex
	reviews map[int64]*entity.SpecialReview
	nextID  int64
}

func newMockReviewRepo() *mockReviewRepo {
	return &mockReviewRepo{reviews: make(map[int64]*entity.SpecialReview)}
}

func (m *mockReviewRepo) Create(ctx context.Context, review *entity.SpecialReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	review.ID = m.nextID
	m.reviews[review.ReportID] = review.Clone()
	return nil
}

func (m *mockReviewRepo) GetByReportID(ctx context.Context, reportID int64) (*entity.SpecialReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	review, exists := m.reviews[reportID]
	if !exists {
		return nil, nil
	}
	return review.Clone(), nil
}

func (m *mockReviewRepo) Update(ctx context.Context, review *entity.SpecialReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviews[review.ReportID] = review.Clone()
	return nil
}

func (m *mockReviewRepo) DeleteByReportID(ctx context.Context, reportID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reviews, reportID)
	return nil
}

type mockUserRepo struct {
	users map[int64]*entity.User
}

func (m *mockUserRepo) Create(ctx context.Context, user *entity.User) error {
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	user, exists := m.users[id]
	if !exists {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
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
	return users, nil
}

type mockAuditRepo struct {
	mu   sync.Mutex
	logs []*entity.AuditLog
}

func (m *mockAuditRepo) Create(ctx context.Context, log *entity.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.ID = int64(len(m.logs) + 1)
	m.logs = append(m.logs, log)
	return nil
}

func (m *mockAuditRepo) GetByReportID(ctx context.Context, reportID int64) ([]*entity.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*entity.AuditLog
	for _, l := range m.logs {
		if l.ReportID == reportID {
			result = append(result, l)
		}
	}
	return result, nil
}

type mockTxManager struct {
	beginErr error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.beginErr != nil {
		return m.beginErr
	}
	return fn(ctx)
}

type mockDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (m *mockDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {}

func (m *mockDispatcher) SubscribeNamed(eventType event.Type, name string, handler dispatcher.Handler) {
}

func (m *mockDispatcher) SubscribeAll(name string, handler dispatcher.Handler) {}

func (m *mockDispatcher) Unsubscribe(eventType event.Type, name string) {}

func (m *mockDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	m.DispatchAsync(ctx, evt)
	return nil
}

func (m *mockDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockDispatcher) ListHandlers(eventType event.Type) []dispatcher.HandlerInfo {
	return nil
}

func (m *mockDispatcher) Close() error {
	return nil
}

func (m *mockDispatcher) last(n int) []*event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.events) {
		n = len(m.events)
	}
	return append([]*event.Event(nil), m.events[len(m.events)-n:]...)
}

func (m *mockDispatcher) types() []event.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]event.Type, 0, len(m.events))
	for _, evt := range m.events {
		types = append(types, evt.Type)
	}
	return types
}

type mockMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func (m *mockMetrics) RecordTransition(from, to domainwf.State) {}

func (m *mockMetrics) RecordSpecialReviewDecision(allApproved bool) {}

func (m *mockMetrics) RecordOperationError(op, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors == nil {
		m.errors = make(map[string]int)
	}
	m.errors[op+"/"+kind]++
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

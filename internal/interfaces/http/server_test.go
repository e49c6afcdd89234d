package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/service"
	appwf "github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/domain/policy"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
	"github.com/garyjia/expense-approval/internal/infrastructure/auth"
	"github.com/garyjia/expense-approval/internal/infrastructure/metrics"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-approval/pkg/database"
)

type mockLogger struct {
	mu     sync.Mutex
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

type testEnv struct {
	server  *Server
	demo    service.DemoService
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, cfg ServerConfig) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:         filepath.Join(t.TempDir(), "http.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	zl := zap.NewNop()
	txManager := sqlite.NewDB(db.DB, zl)
	repos := appwf.Repositories{
		Reports:        repository.NewReportRepository(db.DB, zl),
		SpecialReviews: repository.NewSpecialReviewRepository(db.DB, zl),
		Users:          repository.NewUserRepository(db.DB, zl),
		AuditLogs:      repository.NewAuditLogRepository(db.DB, zl),
	}

	logger := &mockLogger{}
	evaluator := policy.NewEvaluator(policy.MustDefault())
	chain := workflow.DefaultChain()
	m := metrics.New()

	lifecycle, err := appwf.NewEngine(repos, txManager, evaluator, chain,
		appwf.WithMetrics(m),
		appwf.WithLogger(logger),
	)
	require.NoError(t, err)

	tokens, err := auth.NewJWTService("test-signing-key-0123456789", "expense-approval-test", time.Hour)
	require.NoError(t, err)

	demo := service.NewDemoService(service.DemoStores{
		Reports:        repos.Reports,
		SpecialReviews: repos.SpecialReviews,
		Users:          repos.Users,
		AuditLogs:      repos.AuditLogs,
	}, txManager, txManager, evaluator, nil, logger)

	seeded, err := demo.SeedIfEmpty(context.Background())
	require.NoError(t, err)
	require.True(t, seeded)

	server := NewServer(cfg, Services{
		Lifecycle: lifecycle,
		Auth:      service.NewAuthService(repos.Users, tokens, logger),
		Queries:   service.NewQueryService(repos.Reports, repos.Users, evaluator, chain, logger),
		Demo:      demo,
		Users:     repos.Users,
		Tokens:    tokens,
		Metrics:   m,
	}, logger)

	return &testEnv{server: server, demo: demo, metrics: m}
}

func mustDecimal(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func unlimitedConfig() ServerConfig {
	cfg := DefaultServerConfig()
	cfg.RateLimit.Enabled = false
	return cfg
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

type session struct {
	ID    int64         `json:"id"`
	Name  string        `json:"name"`
	Role  workflow.Role `json:"role"`
	Token string        `json:"token"`
}

func (e *testEnv) login(t *testing.T, email string) session {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Email: email}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var s session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	require.NotZero(t, s.ID)
	require.NotEmpty(t, s.Token)
	return s
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) findByTitle(t *testing.T, as session, title string) SummaryResponse {
	t.Helper()
	w := e.do(t, http.MethodGet, "/api/expense-reports/search?sort=activity_desc", nil, as.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	for _, s := range decode[[]SummaryResponse](t, w) {
		if s.Title == title {
			return s
		}
	}
	t.Fatalf("report %q not found", title)
	return SummaryResponse{}
}

func (e *testEnv) specialReview(t *testing.T, id int64, as session) SpecialReviewResponse {
	t.Helper()
	w := e.do(t, http.MethodGet, fmt.Sprintf("/api/expense-reports/%d/special-review", id), nil, as.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[SpecialReviewResponse](t, w)
}

func decisionsFor(items []ReviewItemResponse, outcome, reason string) []ItemDecisionRequest {
	out := make([]ItemDecisionRequest, 0, len(items))
	for _, it := range items {
		out = append(out, ItemDecisionRequest{Code: it.Code, Decision: outcome, FinanceReason: reason})
	}
	return out
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, unlimitedConfig())

	for _, path := range []string{"/", "/health"} {
		w := env.do(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "OK", w.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, unlimitedConfig())

	w := env.do(t, http.MethodOptions, "/api/expense-reports", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, unlimitedConfig())

	w := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	w = httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, req)
	assert.Equal(t, "trace-123", w.Header().Get("X-Request-ID"))
}

func TestStartReturnsBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := DefaultServerConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	srv := NewServer(cfg, Services{}, &mockLogger{})

	assert.Error(t, srv.Start(context.Background()))
	assert.NoError(t, srv.Stop())
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, unlimitedConfig())

	t.Run("case insensitive", func(t *testing.T) {
		s := env.login(t, "Manager@Example.com")
		assert.Equal(t, workflow.RoleManager, s.Role)
		assert.Equal(t, "Manager Kim", s.Name)
	})

	t.Run("blank email", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Email: "  "}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, CodeValidation, decode[ErrorResponse](t, w).Error)
	})

	t.Run("unknown email", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Email: "nobody@example.com"}, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, CodeNotFound, decode[ErrorResponse](t, w).Error)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		env.server.Router().ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSubmitCleanDraftEntersManagerReview(t *testing.T) {
	env := newTestEnv(t, unlimitedConfig())
	employee := env.login(t, "jun@example.com")
	manager := env.login(t, "manager@example.com")

	draft := env.findByTitle(t, manager, "Draft - Local Lunch")
	assert.Equal(t, workflow.StateDraft, draft.Status)

	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/expense-reports/%d/submit", draft.ID),
		SubmitRequest{SubmitterID: employee.ID}, employee.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "MANAGER_REVIEW", decode[string](t, w))

	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/expense-reports/%d", draft.ID), nil, manager.Token)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[ReportResponse](t, w)
	assert.Equal(t, workflow.StateManagerReview, report.Status)
	assert.Equal(t, "Jun Employee", report.SubmitterName)
}

func TestSpecialReviewRejectRequiresReasons(t *testing.T) {
	env := newTestEnv(t, unlimitedConfig())
	cfo := env.login(t, "finance@example.com")

	pending := env.findByTitle(t, cfo, "Hotel Exception (needs Finance)")
	review := env.specialReview(t, pending.ID, cfo)
	assert.Equal(t, "PENDING", review.Status)
	require.NotEmpty(t, review.Items)

	path := fmt.Sprintf("/api/expense-reports/%d/special-review/decide", pending.ID)

	bad := env.do(t, http.MethodPost, path, DecideRequest{
		ReviewerID:      cfo.ID,
		ReviewerRole:    "CFO",
		ReviewerComment: "Rejecting due to policy.",
		Decisions:       decisionsFor(review.Items, "REJECT", ""),
	}, cfo.Token)
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	good := env.do(t, http.MethodPost, path, DecideRequest{
		ReviewerID:      cfo.ID,
		ReviewerRole:    "CFO",
		ReviewerComment: "Please revise and resubmit.",
		Decisions:       decisionsFor(review.Items, "REJECT", "Not eligible under policy."),
	}, cfo.Token)
	require.Equal(t, http.StatusOK, good.Code, good.Body.String())
	assert.Equal(t, "CHANGES_REQUESTED", decode[string](t, good))
}

func TestSpecialReviewApproveRoutesToChain(t *testing.T) {
	env := newTestEnv(t, unlimitedConfig())
	cfo := env.login(t, "finance@example.com")
	manager := env.login(t, "manager@example.com")

	pending := env.findByTitle(t, cfo, "Hotel Exception (needs Finance)")
	review := env.specialReview(t, pending.ID, cfo)

	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/expense-reports/%d/special-review/decide", pending.ID), DecideRequest{
		ReviewerID:      cfo.ID,
		ReviewerRole:    "CFO",
		ReviewerComment: "Approved exceptions.",
		Decisions:       decisionsFor(review.Items, "approve", "OK"),
	}, cfo.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "MANAGER_REVIEW", decode[string](t, w))

	// The review is gone once approved
	gone := env.do(t, http.MethodGet, fmt.Sprintf("/api/expense-reports/%d/special-review", pending.ID), nil, cfo.Token)
	assert.Equal(t, http.StatusBadRequest, gone.Code)

	queue := env.do(t, http.MethodGet, "/api/expense-reports/pending-approval?requesterRole=MANAGER", nil, manager.Token)
	require.Equal(t, http.StatusOK, queue.Code)
	var found bool
	for _, s := range decode[[]SummaryResponse](t, queue) {
		if s.ID == pending.ID {
			found = true
			assert.Equal(t, workflow.StateManagerReview, s.Status)
		}
	}
	assert.True(t, found)
}

func TestSubmitterFeedback(t *testing.T) {
	env := newTestEnv(t, unlimitedConfig())
	employee := env.login(t, "jun@example.com")
	manager := env.login(t, "manager@example.com")

	report := env.findByTitle(t, employee, "Changes requested - Meals cap exception")

	w := env.do(t, http.MethodGet,
		fmt.Sprintf("/api/expense-reports/%d/submitter-feedback?requesterId=%d", report.ID, employee.ID), nil, employee.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	feedback := decode[FeedbackResponse](t, w)
	assert.Equal(t, "REJECTED", feedback.SpecialReviewStatus)
	assert.NotEmpty(t, feedback.ReviewerComment)
	require.NotEmpty(t, feedback.Items)
	assert.Equal(t, "REJECT", feedback.Items[0].FinanceDecision)
	assert.NotEmpty(t, feedback.Items[0].FinanceReason)

	// Only the submitter sees feedback
	w = env.do(t, http.MethodGet, fmt.Sprintf("/api/expense-reports/%d/submitter-feedback", report.ID), nil, manager.Token)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestExceptionLoopThroughApproval(t *testing.T) {
	env := newTestEnv(t, unlimitedConfig())
	employee := env.login(t, "jun@example.com")
	manager := env.login(t, "manager@example.com")
	cfo := env.login(t, "finance@example.com")

	create := env.do(t, http.MethodPost, "/api/expense-reports", ReportRequest{
		SubmitterID: employee.ID,
		Title:       "Hotel Exception Loop",
		Items: []ItemRequest{
			{Date: "2026-01-10", Description: "Hotel night", Amount: mustDecimal("400"), Category: "Hotel"},
		},
	}, employee.Token)
	require.Equal(t, http.StatusCreated, create.Code, create.Body.String())
	id := decode[int64](t, create)
	base := fmt.Sprintf("/api/expense-reports/%d", id)

	update := env.do(t, http.MethodPut, base, ReportRequest{
		SubmitterID:   employee.ID,
		Title:         "Hotel Exception Loop",
		Destination:   "Boston, United States",
		DepartureDate: "2026-01-10",
		ReturnDate:    "2026-01-10",
		Items: []ItemRequest{
			{Date: "2026-01-10", Description: "Hotel night", Amount: mustDecimal("400"), Category: "Hotel"},
		},
	}, employee.Token)
	require.Equal(t, http.StatusOK, update.Code, update.Body.String())
	assert.Equal(t, "DRAFT", decode[string](t, update))

	submit := env.do(t, http.MethodPost, base+"/submit", SubmitRequest{SubmitterID: employee.ID}, employee.Token)
	require.Equal(t, http.StatusOK, submit.Code, submit.Body.String())
	assert.Equal(t, "CFO_SPECIAL_REVIEW", decode[string](t, submit))

	review := env.specialReview(t, id, cfo)
	reject := env.do(t, http.MethodPost, base+"/special-review/decide", DecideRequest{
		ReviewerID:      cfo.ID,
		ReviewerRole:    "CFO",
		ReviewerComment: "Please reduce the amount.",
		Decisions:       decisionsFor(review.Items, "REJECT", "Over cap."),
	}, cfo.Token)
	require.Equal(t, http.StatusOK, reject.Code, reject.Body.String())
	assert.Equal(t, "CHANGES_REQUESTED", decode[string](t, reject))

	fixed := env.do(t, http.MethodPut, base, ReportRequest{
		SubmitterID:   employee.ID,
		Title:         "Hotel Fixed",
		Destination:   "Boston, United States",
		DepartureDate: "2026-01-10",
		ReturnDate:    "2026-01-10",
		Items: []ItemRequest{
			{Date: "2026-01-10", Description: "Hotel night (fixed)", Amount: mustDecimal("240"), Category: "Hotel"},
		},
	}, employee.Token)
	require.Equal(t, http.StatusOK, fixed.Code, fixed.Body.String())
	assert.Equal(t, "CHANGES_REQUESTED", decode[string](t, fixed))

	resubmit := env.do(t, http.MethodPost, base+"/submit", SubmitRequest{SubmitterID: employee.ID}, employee.Token)
	require.Equal(t, http.StatusOK, resubmit.Code, resubmit.Body.String())
	assert.Equal(t, "MANAGER_REVIEW", decode[string](t, resubmit))

	// Submitters may not approve their own report
	self := env.do(t, http.MethodPost, base+"/approve", ApprovalRequest{ApproverID: employee.ID, Comment: "mine"}, employee.Token)
	assert.Equal(t, http.StatusForbidden, self.Code)

	a1 := env.do(t, http.MethodPost, base+"/approve", ApprovalRequest{ApproverID: manager.ID, ApproverRole: "MANAGER", Comment: "OK"}, manager.Token)
	require.Equal(t, http.StatusOK, a1.Code, a1.Body.String())
	assert.Equal(t, "CFO_REVIEW", decode[string](t, a1))

	// CFO_REVIEW awaits the CFO, not the manager
	early := env.do(t, http.MethodPost, base+"/approve", ApprovalRequest{ApproverID: manager.ID, Comment: "again"}, manager.Token)
	assert.Equal(t, http.StatusForbidden, early.Code)

	a2 := env.do(t, http.MethodPost, base+"/approve", ApprovalRequest{ApproverID: cfo.ID, ApproverRole: "CFO", Comment: "OK"}, cfo.Token)
	require.Equal(t, http.StatusOK, a2.Code, a2.Body.String())
	assert.Equal(t, "APPROVED", decode[string](t, a2))

	get := env.do(t, http.MethodGet, base, nil, employee.Token)
	require.Equal(t, http.StatusOK, get.Code)
	report := decode[ReportResponse](t, get)
	assert.Equal(t, workflow.StateApproved, report.Status)
	assert.Equal(t, "Hotel Fixed", report.Title)
	require.NotNil(t, report.ApproverID)
	assert.Equal(t, cfo.ID, *report.ApproverID)
	assert.Equal(t, "CFO Lee", report.ApproverName)
	require.NotNil(t, report.DepartureDate)
	assert.Equal(t, "2026-01-10", *report.DepartureDate)

	trail := env.do(t, http.MethodGet, base+"/audit-log", nil, employee.Token)
	require.Equal(t, http.StatusOK, trail.Code)
	entries := decode[[]AuditLogResponse](t, trail)
	require.NotEmpty(t, entries)
	assert.Equal(t, workflow.StateDraft, entries[0].ToStatus)
	assert.Equal(t, workflow.StateApproved, entries[len(entries)-1].ToStatus)
}

func TestRejectRequiresComment(t *testing.T) {
	env := newTestEnv(t, unlimitedConfig())
	manager := env.login(t, "manager@example.com")

	submitted := env.findByTitle(t, manager, "Submitted - NYC Trip")
	path := fmt.Sprintf("/api/expense-reports/%d/reject", submitted.ID)

	w := env.do(t, http.MethodPost, path, ApprovalRequest{ApproverID: manager.ID, Comment: " "}, manager.Token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, path, ApprovalRequest{ApproverID: manager.ID, Comment: "Missing receipts"}, manager.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "REJECTED", decode[string](t, w))
}

func TestActorResolution(t *testing.T) {
	env := newTestEnv(t, unlimitedConfig())
	employee := env.login(t, "jun@example.com")
	manager := env.login(t, "manager@example.com")

	submitted := env.findByTitle(t, manager, "Submitted - NYC Trip")
	path := fmt.Sprintf("/api/expense-reports/%d", submitted.ID)

	t.Run("query id without token", func(t *testing.T) {
		w := env.do(t, http.MethodGet, fmt.Sprintf("%s?requesterId=%d", path, manager.ID), nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing identity", func(t *testing.T) {
		w := env.do(t, http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("id contradicts token", func(t *testing.T) {
		w := env.do(t, http.MethodGet, fmt.Sprintf("%s?requesterId=%d", path, manager.ID), nil, employee.Token)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("role contradicts token", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/expense-reports/pending-approval?requesterRole=CFO", nil, manager.Token)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("role contradicts stored user", func(t *testing.T) {
		w := env.do(t, http.MethodGet,
			fmt.Sprintf("/api/expense-reports/pending-approval?requesterId=%d&requesterRole=CFO", manager.ID), nil, "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unknown role", func(t *testing.T) {
		w := env.do(t, http.MethodGet,
			fmt.Sprintf("/api/expense-reports/pending-approval?requesterId=%d&requesterRole=INTERN", manager.ID), nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		w := env.do(t, http.MethodGet, path, nil, "not-a-token")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown report", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/expense-reports/99999", nil, manager.Token)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("bad report id", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/expense-reports/abc/audit-log", nil, manager.Token)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("employee cannot read others", func(t *testing.T) {
		other := env.do(t, http.MethodPost, "/api/expense-reports", ReportRequest{
			SubmitterID: manager.ID,
			Title:       "Manager lunch",
			Items:       []ItemRequest{{Description: "Lunch", Amount: mustDecimal("20"), Category: "Meals"}},
		}, manager.Token)
		require.Equal(t, http.StatusCreated, other.Code, other.Body.String())

		w := env.do(t, http.MethodGet, fmt.Sprintf("/api/expense-reports/%d", decode[int64](t, other)), nil, employee.Token)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestRequireToken(t *testing.T) {
	cfg := unlimitedConfig()
	cfg.RequireToken = true
	env := newTestEnv(t, cfg)
	manager := env.login(t, "manager@example.com")

	w := env.do(t, http.MethodGet, fmt.Sprintf("/api/expense-reports/search?requesterId=%d", manager.ID), nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, CodeUnauthentic, decode[ErrorResponse](t, w).Error)

	w = env.do(t, http.MethodGet, "/api/expense-reports/search", nil, manager.Token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSearchAndListing(t *testing.T) {
	env := newTestEnv(t, unlimitedConfig())
	employee := env.login(t, "jun@example.com")
	manager := env.login(t, "manager@example.com")

	t.Run("text filter", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/expense-reports/search?q=boston", nil, manager.Token)
		require.Equal(t, http.StatusOK, w.Code)
		results := decode[[]SummaryResponse](t, w)
		require.NotEmpty(t, results)
		for _, r := range results {
			assert.Contains(t, strings.ToLower(r.Title+" "+r.Destination), "boston")
		}
	})

	t.Run("status filter", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/expense-reports/search?status=APPROVED,rejected", nil, manager.Token)
		require.Equal(t, http.StatusOK, w.Code)
		for _, r := range decode[[]SummaryResponse](t, w) {
			assert.Contains(t, []workflow.State{workflow.StateApproved, workflow.StateRejected}, r.Status)
		}
	})

	t.Run("flagged only", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/expense-reports/search?flagged=true", nil, manager.Token)
		require.Equal(t, http.StatusOK, w.Code)
		results := decode[[]SummaryResponse](t, w)
		require.NotEmpty(t, results)
		for _, r := range results {
			assert.True(t, r.Flagged)
			assert.Positive(t, r.ExceptionCount)
		}
	})

	t.Run("limit", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/expense-reports/search?limit=2&sort=amount_desc", nil, manager.Token)
		require.Equal(t, http.StatusOK, w.Code)
		results := decode[[]SummaryResponse](t, w)
		require.Len(t, results, 2)
		assert.True(t, results[0].TotalAmount.GreaterThanOrEqual(results[1].TotalAmount))
	})

	t.Run("unknown sort", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/expense-reports/search?sort=random", nil, manager.Token)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown status", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/expense-reports/search?status=LOST", nil, manager.Token)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("employee has no approval queue", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/expense-reports/pending-approval", nil, employee.Token)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("list by submitter", func(t *testing.T) {
		w := env.do(t, http.MethodGet,
			fmt.Sprintf("/api/expense-reports?submitterId=%d&status=DRAFT", employee.ID), nil, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		results := decode[[]SummaryResponse](t, w)
		require.NotEmpty(t, results)
		for _, r := range results {
			assert.Equal(t, employee.ID, r.SubmitterID)
			assert.Equal(t, workflow.StateDraft, r.Status)
		}
	})

	t.Run("employee cannot list others", func(t *testing.T) {
		w := env.do(t, http.MethodGet, fmt.Sprintf("/api/expense-reports?submitterId=%d", manager.ID), nil, employee.Token)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, unlimitedConfig())
	manager := env.login(t, "manager@example.com")

	w := env.do(t, http.MethodGet, "/api/expense-reports/stats", nil, manager.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stats := decode[StatsResponse](t, w)
	assert.Positive(t, stats.TotalReports)
	assert.Positive(t, stats.Approved)
	assert.Positive(t, stats.Pending)
	assert.NotEmpty(t, stats.ByCategory)
	assert.NotEmpty(t, stats.ByMonth)

	var sum int
	for _, n := range stats.ByStatus {
		sum += n
	}
	assert.Equal(t, stats.TotalReports, sum)
}

func TestDemoReset(t *testing.T) {
	env := newTestEnv(t, unlimitedConfig())
	employee := env.login(t, "jun@example.com")

	create := env.do(t, http.MethodPost, "/api/expense-reports", ReportRequest{
		SubmitterID: employee.ID,
		Title:       "Temporary",
		Items:       []ItemRequest{{Description: "Taxi", Amount: mustDecimal("12"), Category: "Transportation"}},
	}, employee.Token)
	require.Equal(t, http.StatusCreated, create.Code)

	w := env.do(t, http.MethodPost, "/api/demo/reset", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "OK", w.Body.String())

	employee = env.login(t, "jun@example.com")
	search := env.do(t, http.MethodGet, "/api/expense-reports/search?q=Temporary", nil, employee.Token)
	require.Equal(t, http.StatusOK, search.Code)
	assert.Empty(t, decode[[]SummaryResponse](t, search))
}

func TestDemoResetDisabled(t *testing.T) {
	env := newTestEnv(t, unlimitedConfig())
	env.server.services.Demo = nil
	server := NewServer(unlimitedConfig(), env.server.services, &mockLogger{})

	req := httptest.NewRequest(http.MethodPost, "/api/demo/reset", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, unlimitedConfig())
	manager := env.login(t, "manager@example.com")

	submitted := env.findByTitle(t, manager, "Submitted - NYC Trip")
	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/expense-reports/%d/approve", submitted.ID),
		ApprovalRequest{ApproverID: manager.ID, Comment: "OK"}, manager.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "expense_http_request_duration_seconds")
	assert.Contains(t, body, `route="/api/expense-reports/:id/approve"`)
}

package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-approval/pkg/database"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type repos struct {
	tx      *sqlite.DB
	reports port.ReportRepository
	reviews port.SpecialReviewRepository
	users   port.UserRepository
	audit   port.AuditLogRepository
}

func setup(t *testing.T) repos {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:         filepath.Join(t.TempDir(), "repo.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := zap.NewNop()
	return repos{
		tx:      sqlite.NewDB(db.DB, logger),
		reports: NewReportRepository(db.DB, logger),
		reviews: NewSpecialReviewRepository(db.DB, logger),
		users:   NewUserRepository(db.DB, logger),
		audit:   NewAuditLogRepository(db.DB, logger),
	}
}

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func day(d int) *time.Time {
	t := time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func createUser(t *testing.T, r repos, name, email string, role workflow.Role) *entity.User {
	t.Helper()
	u := &entity.User{Name: name, Email: email, Role: role, CreatedAt: base}
	require.NoError(t, r.users.Create(context.Background(), u))
	return u
}

func newReport(submitterID int64, title string, at time.Time, amounts ...string) *entity.ExpenseReport {
	report := &entity.ExpenseReport{
		Title:          title,
		Destination:    "Berlin",
		DepartureDate:  day(4),
		ReturnDate:     day(6),
		SubmitterID:    submitterID,
		Status:         workflow.StateDraft,
		CreatedAt:      at,
		LastActivityAt: at,
	}
	var items []entity.ExpenseItem
	for _, a := range amounts {
		items = append(items, entity.ExpenseItem{
			Date:        day(4),
			Description: "stay",
			Amount:      decimal.RequireFromString(a),
			Category:    "Hotel",
		})
	}
	report.ReplaceItems(items)
	return report
}

func TestUserRepository(t *testing.T) {
	r := setup(t)
	ctx := context.Background()

	jun := createUser(t, r, "Jun", "jun@example.com", workflow.RoleEmployee)
	createUser(t, r, "Frances", "frances@example.com", workflow.RoleCFO)
	assert.NotZero(t, jun.ID)

	got, err := r.users.GetByID(ctx, jun.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jun", got.Name)
	assert.Equal(t, workflow.RoleEmployee, got.Role)

	got, err = r.users.GetByEmail(ctx, "  JUN@Example.com ")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, jun.ID, got.ID)

	missing, err := r.users.GetByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	missing, err = r.users.GetByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)

	all, err := r.users.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	dup := &entity.User{Name: "Jun 2", Email: "Jun@example.com", Role: workflow.RoleEmployee, CreatedAt: base}
	assert.Error(t, r.users.Create(ctx, dup))
}

func TestReportRepository_CreateGetUpdate(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	jun := createUser(t, r, "Jun", "jun@example.com", workflow.RoleEmployee)

	report := newReport(jun.ID, "Berlin trip", base, "400", "120.50")
	require.NoError(t, r.reports.Create(ctx, report))
	require.NotZero(t, report.ID)

	got, err := r.reports.GetByID(ctx, report.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Berlin trip", got.Title)
	assert.Equal(t, workflow.StateDraft, got.Status)
	assert.Equal(t, 2, got.NextItemSeq)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "HOTEL-1", got.Items[0].Code)
	assert.True(t, got.Items[1].Amount.Equal(decimal.RequireFromString("120.50")))
	assert.True(t, got.TotalAmount().Equal(decimal.RequireFromString("520.5")))
	require.NotNil(t, got.DepartureDate)
	assert.True(t, got.DepartureDate.Equal(*day(4)))
	assert.True(t, got.CreatedAt.Equal(base))
	assert.Nil(t, got.ApproverID)
	assert.Nil(t, got.ApprovedAt)

	approver := createUser(t, r, "Frances", "frances@example.com", workflow.RoleCFO)
	later := base.Add(time.Hour)
	got.Status = workflow.StateApproved
	got.ApproverID = &approver.ID
	got.ApprovalComment = "fine"
	got.ApprovedAt = &later
	got.Touch(later)
	got.ReplaceItems([]entity.ExpenseItem{
		{Code: "HOTEL-1", Amount: decimal.RequireFromString("240"), Category: "Hotel"},
	})
	require.NoError(t, r.reports.Update(ctx, got))

	updated, err := r.reports.GetByID(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateApproved, updated.Status)
	require.NotNil(t, updated.ApproverID)
	assert.Equal(t, approver.ID, *updated.ApproverID)
	assert.Equal(t, "fine", updated.ApprovalComment)
	require.NotNil(t, updated.ApprovedAt)
	assert.True(t, updated.ApprovedAt.Equal(later))
	assert.True(t, updated.LastActivityAt.Equal(later))
	require.Len(t, updated.Items, 1)
	assert.Equal(t, "HOTEL-1", updated.Items[0].Code)
	assert.True(t, updated.Items[0].Amount.Equal(decimal.NewFromInt(240)))

	missing, err := r.reports.GetByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	ghost := newReport(jun.ID, "ghost", base, "1")
	ghost.ID = 999
	assert.Error(t, r.reports.Update(ctx, ghost))
}

func TestReportRepository_EmptyItems(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	jun := createUser(t, r, "Jun", "jun@example.com", workflow.RoleEmployee)

	report := newReport(jun.ID, "Nothing yet", base)
	require.NoError(t, r.reports.Create(ctx, report))

	got, err := r.reports.GetByID(ctx, report.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.Items)
	assert.Empty(t, got.Items)
}

func TestReportRepository_List(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	jun := createUser(t, r, "Jun", "jun@example.com", workflow.RoleEmployee)
	ana := createUser(t, r, "Ana", "ana@example.com", workflow.RoleEmployee)

	berlin := newReport(jun.ID, "Berlin trip", base, "90")
	paris := newReport(jun.ID, "Paris summit", base.Add(time.Hour), "1000")
	paris.Destination = "Paris"
	paris.Status = workflow.StateManagerReview
	office := newReport(ana.ID, "office_supplies 100%", base.Add(2*time.Hour), "9.5")
	office.Destination = ""
	for _, rep := range []*entity.ExpenseReport{berlin, paris, office} {
		require.NoError(t, r.reports.Create(ctx, rep))
	}

	titles := func(reports []*entity.ExpenseReport) []string {
		var out []string
		for _, rep := range reports {
			out = append(out, rep.Title)
		}
		return out
	}

	all, err := r.reports.List(ctx, port.ReportQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"office_supplies 100%", "Paris summit", "Berlin trip"}, titles(all))
	for _, rep := range all {
		assert.Len(t, rep.Items, 1)
	}

	mine, err := r.reports.List(ctx, port.ReportQuery{SubmitterID: jun.ID, Sort: entity.SortCreatedAsc})
	require.NoError(t, err)
	assert.Equal(t, []string{"Berlin trip", "Paris summit"}, titles(mine))

	byAmount, err := r.reports.List(ctx, port.ReportQuery{Sort: entity.SortAmountDesc})
	require.NoError(t, err)
	assert.Equal(t, []string{"Paris summit", "Berlin trip", "office_supplies 100%"}, titles(byAmount))

	byTitle, err := r.reports.List(ctx, port.ReportQuery{Sort: entity.SortTitleAsc})
	require.NoError(t, err)
	assert.Equal(t, []string{"Berlin trip", "office_supplies 100%", "Paris summit"}, titles(byTitle))

	inReview, err := r.reports.List(ctx, port.ReportQuery{Statuses: []workflow.State{workflow.StateManagerReview, workflow.StateCFOReview}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Paris summit"}, titles(inReview))

	byText, err := r.reports.List(ctx, port.ReportQuery{Text: "PARIS"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Paris summit"}, titles(byText))

	byDestination, err := r.reports.List(ctx, port.ReportQuery{Text: "berl"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Berlin trip"}, titles(byDestination))

	literal, err := r.reports.List(ctx, port.ReportQuery{Text: "100%"})
	require.NoError(t, err)
	assert.Equal(t, []string{"office_supplies 100%"}, titles(literal))

	underscore, err := r.reports.List(ctx, port.ReportQuery{Text: "e_s"})
	require.NoError(t, err)
	assert.Equal(t, []string{"office_supplies 100%"}, titles(underscore))

	limited, err := r.reports.List(ctx, port.ReportQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := r.reports.List(ctx, port.ReportQuery{Text: "tokyo"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSpecialReviewRepository(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	jun := createUser(t, r, "Jun", "jun@example.com", workflow.RoleEmployee)
	cfo := createUser(t, r, "Frances", "frances@example.com", workflow.RoleCFO)

	report := newReport(jun.ID, "Berlin trip", base, "400")
	require.NoError(t, r.reports.Create(ctx, report))

	review := &entity.SpecialReview{
		ReportID:  report.ID,
		Status:    entity.SpecialReviewPending,
		CreatedAt: base,
		Items: []entity.SpecialReviewItem{
			{Code: "HOTEL-1", PolicyCode: "HOTEL_ABOVE_CAP", Message: "Hotel above cap ($250)", EmployeeReason: "conference rate"},
		},
	}
	require.NoError(t, r.reviews.Create(ctx, review))
	require.NotZero(t, review.ID)

	got, err := r.reviews.GetByReportID(ctx, report.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entity.SpecialReviewPending, got.Status)
	assert.Nil(t, got.ReviewerID)
	assert.Nil(t, got.DecidedAt)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "conference rate", got.Items[0].EmployeeReason)

	decided := got.Clone()
	decided.Apply(cfo.ID, "too expensive", []entity.Decision{
		{Code: "HOTEL-1", Outcome: entity.OutcomeReject, FinanceReason: "book the partner hotel"},
	}, base.Add(time.Hour))
	require.NoError(t, r.reviews.Update(ctx, decided))

	got, err = r.reviews.GetByReportID(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.SpecialReviewRejected, got.Status)
	require.NotNil(t, got.ReviewerID)
	assert.Equal(t, cfo.ID, *got.ReviewerID)
	assert.Equal(t, "too expensive", got.ReviewerComment)
	require.NotNil(t, got.DecidedAt)
	assert.Equal(t, entity.OutcomeReject, got.Items[0].FinanceDecision)
	assert.Equal(t, "book the partner hotel", got.Items[0].FinanceReason)

	// A new review replaces the retained one
	again := &entity.SpecialReview{
		ReportID:  report.ID,
		Status:    entity.SpecialReviewPending,
		CreatedAt: base.Add(2 * time.Hour),
		Items:     []entity.SpecialReviewItem{{Code: "HOTEL-2", PolicyCode: "HOTEL_ABOVE_CAP"}},
	}
	require.NoError(t, r.reviews.Create(ctx, again))
	got, err = r.reviews.GetByReportID(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, again.ID, got.ID)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "HOTEL-2", got.Items[0].Code)

	require.NoError(t, r.reviews.DeleteByReportID(ctx, report.ID))
	got, err = r.reviews.GetByReportID(ctx, report.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, r.reviews.DeleteByReportID(ctx, report.ID))
}

func TestAuditLogRepository(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	jun := createUser(t, r, "Jun", "jun@example.com", workflow.RoleEmployee)
	report := newReport(jun.ID, "Berlin trip", base, "90")
	require.NoError(t, r.reports.Create(ctx, report))

	entries := []*entity.AuditLog{
		{ReportID: report.ID, Action: entity.AuditActionCreated, ToStatus: workflow.StateDraft, ActorID: jun.ID, ActorName: "Jun", CreatedAt: base},
		{ReportID: report.ID, Action: entity.AuditActionSubmitted, FromStatus: workflow.StateDraft, ToStatus: workflow.StateManagerReview, ActorID: jun.ID, ActorName: "Jun", CreatedAt: base},
	}
	for _, e := range entries {
		require.NoError(t, r.audit.Create(ctx, e))
	}

	logs, err := r.audit.GetByReportID(ctx, report.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, entity.AuditActionCreated, logs[0].Action)
	assert.Equal(t, workflow.State(""), logs[0].FromStatus)
	assert.Equal(t, workflow.StateManagerReview, logs[1].ToStatus)

	empty, err := r.audit.GetByReportID(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRepositories_ShareTransaction(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	jun := createUser(t, r, "Jun", "jun@example.com", workflow.RoleEmployee)

	report := newReport(jun.ID, "Rolled back", base, "10")
	err := r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, r.reports.Create(ctx, report))
		require.NoError(t, r.audit.Create(ctx, &entity.AuditLog{
			ReportID: report.ID, Action: entity.AuditActionCreated, ToStatus: workflow.StateDraft,
			ActorID: jun.ID, ActorName: "Jun", CreatedAt: base,
		}))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := r.reports.GetByID(ctx, report.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReportRepository_ListReadsItemsWithTheirReport(t *testing.T) {
	r := setup(t)
	ctx := context.Background()
	jun := createUser(t, r, "Jun", "jun@example.com", workflow.RoleEmployee)

	report := newReport(jun.ID, "v0", base, "0")
	require.NoError(t, r.reports.Create(ctx, report))

	const rounds = 200
	done := make(chan error, 1)
	go func() {
		for n := 1; n <= rounds; n++ {
			err := r.tx.WithTransaction(ctx, func(ctx context.Context) error {
				report.Title = fmt.Sprintf("v%d", n)
				report.ReplaceItems([]entity.ExpenseItem{{
					Date:        day(4),
					Description: "stay",
					Amount:      decimal.NewFromInt(int64(n)),
					Category:    "Hotel",
				}})
				return r.reports.Update(ctx, report)
			})
			if err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			return
		default:
		}

		listed, err := r.reports.List(ctx, port.ReportQuery{SubmitterID: jun.ID})
		require.NoError(t, err)
		require.Len(t, listed, 1)
		require.Len(t, listed[0].Items, 1)
		assert.Equal(t, "v"+listed[0].Items[0].Amount.String(), listed[0].Title)
	}
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/policy"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
	"github.com/shopspring/decimal"
)

// DemoService wipes and reseeds the sample data set
type DemoService interface {
	// Reset deletes every row and seeds the sample data in one transaction
	Reset(ctx context.Context) error

	// SeedIfEmpty seeds only when no user exists yet
	SeedIfEmpty(ctx context.Context) (bool, error)
}

// DemoStores groups the stores written by the seed
type DemoStores struct {
	Reports        port.ReportRepository
	SpecialReviews port.SpecialReviewRepository
	Users          port.UserRepository
	AuditLogs      port.AuditLogRepository
}

type demoServiceImpl struct {
	stores    DemoStores
	resetter  port.DataResetter
	txManager port.TransactionManager
	evaluator *policy.Evaluator
	clock     port.Clock
	logger    Logger
}

// NewDemoService creates a new DemoService
func NewDemoService(
	stores DemoStores,
	resetter port.DataResetter,
	txManager port.TransactionManager,
	evaluator *policy.Evaluator,
	clock port.Clock,
	logger Logger,
) DemoService {
	if clock == nil {
		clock = port.SystemClock{}
	}
	return &demoServiceImpl{
		stores:    stores,
		resetter:  resetter,
		txManager: txManager,
		evaluator: evaluator,
		clock:     clock,
		logger:    logger,
	}
}

type seedUser struct {
	key   string
	name  string
	email string
	role  workflow.Role
}

type seedItem struct {
	daysAgo     int
	description string
	amount      string
	category    string
}

type seedStep struct {
	action   string
	from, to workflow.State
	actor    string
	comment  string
	hoursAgo int
}

// seedReview attaches a special review built from the policy exceptions of the report's items
type seedReview struct {
	status         entity.SpecialReviewStatus
	employeeReason string
	reviewer       string
	comment        string
	financeReason  string
}

type seedReport struct {
	submitter   string
	title       string
	destination string
	departAgo   int
	returnAgo   int
	status      workflow.State
	items       []seedItem
	trail       []seedStep
	review      *seedReview
}

var demoUsers = []seedUser{
	{key: "employee", name: "Jun Employee", email: "jun@example.com", role: workflow.RoleEmployee},
	{key: "manager", name: "Manager Kim", email: "manager@example.com", role: workflow.RoleManager},
	{key: "cfo", name: "CFO Lee", email: "finance@example.com", role: workflow.RoleCFO},
	{key: "ceo", name: "CEO Park", email: "ceo@example.com", role: workflow.RoleCEO},
}

var demoReports = []seedReport{
	{
		submitter: "employee", title: "Draft - Local Lunch", destination: "New York",
		departAgo: 2, returnAgo: 2, status: workflow.StateDraft,
		items: []seedItem{{2, "Lunch", "18.50", "Meals"}},
		trail: []seedStep{{entity.AuditActionCreated, "", workflow.StateDraft, "employee", "", 36}},
	},
	{
		submitter: "employee", title: "Draft - Office Supplies", destination: "New York",
		departAgo: 1, returnAgo: 1, status: workflow.StateDraft,
		items: []seedItem{{1, "Monitor cable", "19.99", "Office"}, {1, "Notebooks", "12.40", "Office"}},
		trail: []seedStep{{entity.AuditActionCreated, "", workflow.StateDraft, "employee", "", 34}},
	},
	{
		submitter: "employee", title: "Hotel Exception (needs Finance)", destination: "Boston, United States",
		departAgo: 6, returnAgo: 5, status: workflow.StateCFOSpecialReview,
		items: []seedItem{{6, "Hotel", "410.00", "Hotel"}, {5, "Meal", "48.20", "Meal"}},
		trail: []seedStep{
			{entity.AuditActionCreated, "", workflow.StateDraft, "employee", "", 144},
			{entity.AuditActionSubmittedForReview, workflow.StateDraft, workflow.StateCFOSpecialReview, "employee", "", 118},
		},
		review: &seedReview{status: entity.SpecialReviewPending, employeeReason: "Client conference rate was higher."},
	},
	{
		submitter: "employee", title: "Changes requested - Meals cap exception", destination: "Chicago",
		departAgo: 12, returnAgo: 10, status: workflow.StateChangesRequested,
		items: []seedItem{{12, "Lunch", "40.00", "Meals"}, {12, "Dinner", "95.00", "Meals"}},
		trail: []seedStep{
			{entity.AuditActionCreated, "", workflow.StateDraft, "employee", "", 264},
			{entity.AuditActionSubmittedForReview, workflow.StateDraft, workflow.StateCFOSpecialReview, "employee", "", 240},
			{entity.AuditActionExceptionRejected, workflow.StateCFOSpecialReview, workflow.StateChangesRequested, "cfo", "Please revise meals to align with policy.", 216},
		},
		review: &seedReview{
			status:         entity.SpecialReviewRejected,
			employeeReason: "Team dinner during onsite work.",
			reviewer:       "cfo",
			comment:        "Please revise meals to align with policy.",
			financeReason:  "Not eligible under meals policy; please split personal portion.",
		},
	},
	{
		submitter: "employee", title: "Submitted - NYC Trip", destination: "New York, United States",
		departAgo: 4, returnAgo: 2, status: workflow.StateManagerReview,
		items: []seedItem{{4, "Airfare", "320.45", "Airfare"}, {3, "Hotel", "240.00", "Hotel"}, {3, "Meal", "58.90", "Meal"}},
		trail: []seedStep{
			{entity.AuditActionCreated, "", workflow.StateDraft, "employee", "", 96},
			{entity.AuditActionSubmitted, workflow.StateDraft, workflow.StateManagerReview, "employee", "", 72},
		},
	},
	{
		submitter: "employee", title: "Submitted - Local Travel - NJ", destination: "New Jersey, United States",
		departAgo: 3, returnAgo: 3, status: workflow.StateManagerReview,
		items: []seedItem{{3, "Mileage", "42.00", "Mileage"}, {3, "Parking", "18.00", "Transportation"}},
		trail: []seedStep{
			{entity.AuditActionCreated, "", workflow.StateDraft, "employee", "", 72},
			{entity.AuditActionSubmitted, workflow.StateDraft, workflow.StateManagerReview, "employee", "", 48},
		},
	},
	{
		submitter: "employee", title: "Manager approved - Vendor dinner", destination: "New York, United States",
		departAgo: 5, returnAgo: 5, status: workflow.StateCFOReview,
		items: []seedItem{{5, "Team dinner with vendor", "90.00", "Entertainment"}},
		trail: []seedStep{
			{entity.AuditActionCreated, "", workflow.StateDraft, "employee", "", 120},
			{entity.AuditActionSubmitted, workflow.StateDraft, workflow.StateManagerReview, "employee", "", 96},
			{entity.AuditActionApproved, workflow.StateManagerReview, workflow.StateCFOReview, "manager", "Vendor relationship, fine.", 80},
		},
	},
	{
		submitter: "employee", title: "Approved - Client Visit", destination: "Seattle",
		departAgo: 20, returnAgo: 19, status: workflow.StateApproved,
		items: []seedItem{{20, "Train", "89.00", "Travel"}, {19, "Meals", "34.75", "Meals"}},
		trail: []seedStep{
			{entity.AuditActionCreated, "", workflow.StateDraft, "employee", "", 432},
			{entity.AuditActionSubmitted, workflow.StateDraft, workflow.StateManagerReview, "employee", "", 408},
			{entity.AuditActionApproved, workflow.StateManagerReview, workflow.StateCFOReview, "manager", "", 384},
			{entity.AuditActionApproved, workflow.StateCFOReview, workflow.StateApproved, "cfo", "Approved. Thanks!", 360},
		},
	},
	{
		submitter: "employee", title: "Rejected - Missing details", destination: "New Jersey",
		departAgo: 30, returnAgo: 30, status: workflow.StateRejected,
		items: []seedItem{{30, "Ride share", "23.40", "Transport"}},
		trail: []seedStep{
			{entity.AuditActionCreated, "", workflow.StateDraft, "employee", "", 672},
			{entity.AuditActionSubmitted, workflow.StateDraft, workflow.StateManagerReview, "employee", "", 648},
			{entity.AuditActionRejected, workflow.StateManagerReview, workflow.StateRejected, "manager", "Please add item details and resubmit.", 624},
		},
	},
	{
		submitter: "employee", title: "Draft - London Conference", destination: "London, United Kingdom",
		departAgo: 5, returnAgo: 2, status: workflow.StateDraft,
		items: []seedItem{{5, "Hotel", "280.00", "Hotel"}, {4, "Airfare", "650.00", "Airfare"}, {3, "Meal", "45.00", "Meal"}},
		trail: []seedStep{{entity.AuditActionCreated, "", workflow.StateDraft, "employee", "", 32}},
	},
	{
		submitter: "employee", title: "Draft - Same-day DC Trip", destination: "Washington, DC, United States",
		departAgo: 1, returnAgo: 1, status: workflow.StateDraft,
		items: []seedItem{{1, "Train", "65.00", "Transportation"}, {1, "Lunch", "22.00", "Meal"}},
		trail: []seedStep{{entity.AuditActionCreated, "", workflow.StateDraft, "employee", "", 30}},
	},
	{
		submitter: "employee", title: "Approved - LA Training", destination: "Los Angeles, United States",
		departAgo: 22, returnAgo: 16, status: workflow.StateApproved,
		items: []seedItem{{22, "Airfare", "350.00", "Airfare"}, {21, "Hotel (5 nights)", "1100.00", "Hotel"}, {20, "Taxi", "45.00", "Transportation"}},
		trail: []seedStep{
			{entity.AuditActionCreated, "", workflow.StateDraft, "employee", "", 480},
			{entity.AuditActionSubmittedForReview, workflow.StateDraft, workflow.StateCFOSpecialReview, "employee", "", 456},
			{entity.AuditActionExceptionsApproved, workflow.StateCFOSpecialReview, workflow.StateManagerReview, "cfo", "Five nights at the training hotel.", 444},
			{entity.AuditActionApproved, workflow.StateManagerReview, workflow.StateCFOReview, "manager", "", 432},
			{entity.AuditActionApproved, workflow.StateCFOReview, workflow.StateApproved, "cfo", "Approved for training program.", 408},
		},
	},
	{
		submitter: "employee", title: "Submitted - Tokyo Client Meeting", destination: "Tokyo, Japan",
		departAgo: 7, returnAgo: 4, status: workflow.StateManagerReview,
		items: []seedItem{{7, "Airfare", "1200.00", "Airfare"}, {6, "Hotel (3 nights)", "600.00", "Hotel"}, {5, "Client dinner", "85.00", "Entertainment"}},
		trail: []seedStep{
			{entity.AuditActionCreated, "", workflow.StateDraft, "employee", "", 144},
			{entity.AuditActionSubmittedForReview, workflow.StateDraft, workflow.StateCFOSpecialReview, "employee", "", 120},
			{entity.AuditActionExceptionsApproved, workflow.StateCFOSpecialReview, workflow.StateManagerReview, "cfo", "International fares accepted.", 100},
		},
	},
}

// Reset deletes every row and seeds the sample data in one transaction
func (s *demoServiceImpl) Reset(ctx context.Context) error {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.resetter.ResetAll(txCtx); err != nil {
			return fmt.Errorf("failed to reset data: %w", err)
		}
		return s.seed(txCtx)
	})
	if err != nil {
		s.logger.Error("Demo reset failed", "error", err)
		return err
	}

	s.logger.Info("Demo data reset", "users", len(demoUsers), "reports", len(demoReports))
	return nil
}

// SeedIfEmpty seeds only when no user exists yet
func (s *demoServiceImpl) SeedIfEmpty(ctx context.Context) (bool, error) {
	seeded := false
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		users, err := s.stores.Users.List(txCtx)
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}
		if len(users) > 0 {
			return nil
		}
		seeded = true
		return s.seed(txCtx)
	})
	if err != nil {
		return false, err
	}
	if seeded {
		s.logger.Info("Demo data seeded", "users", len(demoUsers), "reports", len(demoReports))
	}
	return seeded, nil
}

func (s *demoServiceImpl) seed(ctx context.Context) error {
	now := s.clock.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	daysAgo := func(n int) *time.Time {
		d := today.AddDate(0, 0, -n)
		return &d
	}
	hoursAgo := func(n int) time.Time {
		return now.Add(-time.Duration(n) * time.Hour)
	}

	users := make(map[string]*entity.User, len(demoUsers))
	for _, u := range demoUsers {
		user := &entity.User{Name: u.name, Email: u.email, Role: u.role, CreatedAt: now}
		if err := s.stores.Users.Create(ctx, user); err != nil {
			return fmt.Errorf("failed to seed user %s: %w", u.email, err)
		}
		users[u.key] = user
	}

	for _, seed := range demoReports {
		submitter := users[seed.submitter]
		report := &entity.ExpenseReport{
			Title:         seed.title,
			Destination:   seed.destination,
			DepartureDate: daysAgo(seed.departAgo),
			ReturnDate:    daysAgo(seed.returnAgo),
			SubmitterID:   submitter.ID,
			Status:        seed.status,
			CreatedAt:     hoursAgo(seed.trail[0].hoursAgo),
		}

		items := make([]entity.ExpenseItem, 0, len(seed.items))
		for _, it := range seed.items {
			items = append(items, entity.ExpenseItem{
				Date:        daysAgo(it.daysAgo),
				Description: it.description,
				Amount:      decimal.RequireFromString(it.amount),
				Category:    it.category,
			})
		}
		report.ReplaceItems(items)

		last := seed.trail[len(seed.trail)-1]
		report.Touch(hoursAgo(last.hoursAgo))
		if seed.status.IsTerminal() {
			approver := users[last.actor]
			approvedAt := hoursAgo(last.hoursAgo)
			report.ApproverID = &approver.ID
			report.ApprovalComment = last.comment
			report.ApprovedAt = &approvedAt
		}

		if err := s.stores.Reports.Create(ctx, report); err != nil {
			return fmt.Errorf("failed to seed report %q: %w", seed.title, err)
		}

		for _, step := range seed.trail {
			actor := users[step.actor]
			entry := &entity.AuditLog{
				ReportID:   report.ID,
				Action:     step.action,
				FromStatus: step.from,
				ToStatus:   step.to,
				ActorID:    actor.ID,
				ActorName:  actor.Name,
				Comment:    step.comment,
				CreatedAt:  hoursAgo(step.hoursAgo),
			}
			if err := s.stores.AuditLogs.Create(ctx, entry); err != nil {
				return fmt.Errorf("failed to seed audit log for %q: %w", seed.title, err)
			}
		}

		if seed.review != nil {
			if err := s.seedReview(ctx, report, seed, users, hoursAgo); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *demoServiceImpl) seedReview(
	ctx context.Context,
	report *entity.ExpenseReport,
	seed seedReport,
	users map[string]*entity.User,
	hoursAgo func(int) time.Time,
) error {
	exceptions := s.evaluator.Evaluate(report.Items)
	if len(exceptions) == 0 {
		return fmt.Errorf("seed report %q has no policy exceptions to review", seed.title)
	}

	opened := seed.trail[1]
	review := &entity.SpecialReview{
		ReportID:  report.ID,
		Status:    entity.SpecialReviewPending,
		CreatedAt: hoursAgo(opened.hoursAgo),
	}
	for _, exc := range exceptions {
		review.Items = append(review.Items, entity.SpecialReviewItem{
			Code:           exc.ItemCode,
			PolicyCode:     exc.PolicyCode,
			Message:        exc.Message,
			EmployeeReason: seed.review.employeeReason,
		})
	}

	if seed.review.status == entity.SpecialReviewRejected {
		decisions := make([]entity.Decision, 0, len(review.Items))
		for _, item := range review.Items {
			decisions = append(decisions, entity.Decision{
				Code:          item.Code,
				Outcome:       entity.OutcomeReject,
				FinanceReason: seed.review.financeReason,
			})
		}
		decided := seed.trail[len(seed.trail)-1]
		review.Apply(users[seed.review.reviewer].ID, seed.review.comment, decisions, hoursAgo(decided.hoursAgo))
	}

	if err := s.stores.SpecialReviews.Create(ctx, review); err != nil {
		return fmt.Errorf("failed to seed special review for %q: %w", seed.title, err)
	}
	return nil
}

package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/garyjia/expense-approval/internal/application/guard"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/policy"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
	"github.com/shopspring/decimal"
)

// DefaultSearchLimit caps a search when the caller gives no limit
const DefaultSearchLimit = 200

// ReportSummary is the listing view of a report
type ReportSummary struct {
	ID             int64           `json:"id"`
	Title          string          `json:"title"`
	Destination    string          `json:"destination"`
	SubmitterID    int64           `json:"submitter_id"`
	SubmitterName  string          `json:"submitter_name"`
	Status         workflow.State  `json:"status"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	ItemCount      int             `json:"item_count"`
	Flagged        bool            `json:"flagged"`
	ExceptionCount int             `json:"exception_count"`
	CreatedAt      time.Time       `json:"created_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`
}

// SearchParams filters a report search
type SearchParams struct {
	Text     string
	Sort     string
	Statuses []workflow.State
	// Flagged keeps only reports with (true) or without (false) policy exceptions when set
	Flagged *bool
	Limit   int
}

// CategoryStat totals item amounts of one category
type CategoryStat struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Count    int             `json:"count"`
}

// MonthStat totals reports created in one month, formatted 2006-01
type MonthStat struct {
	Month  string          `json:"month"`
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

// Stats summarizes the reports visible to an actor
type Stats struct {
	TotalReports int                    `json:"total_reports"`
	Approved     int                    `json:"approved"`
	Rejected     int                    `json:"rejected"`
	Pending      int                    `json:"pending"`
	TotalAmount  decimal.Decimal        `json:"total_amount"`
	ByStatus     map[workflow.State]int `json:"by_status"`
	ByCategory   []CategoryStat         `json:"by_category"`
	ByMonth      []MonthStat            `json:"by_month"`
}

// QueryService serves read-only report listings
type QueryService interface {
	// Search lists reports visible to actor: employees see their own, reviewers see all
	Search(ctx context.Context, actor guard.Actor, params SearchParams) ([]ReportSummary, error)

	// PendingApproval lists the reports awaiting actor's role, oldest activity first
	PendingApproval(ctx context.Context, actor guard.Actor) ([]ReportSummary, error)

	// ListBySubmitter lists one submitter's reports, optionally in one status
	ListBySubmitter(ctx context.Context, actor guard.Actor, submitterID int64, status workflow.State) ([]ReportSummary, error)

	// Stats aggregates the reports visible to actor
	Stats(ctx context.Context, actor guard.Actor) (*Stats, error)
}

type queryServiceImpl struct {
	reports   port.ReportRepository
	users     port.UserRepository
	evaluator *policy.Evaluator
	chain     workflow.ApprovalChain
	guard     *guard.Guard
	logger    Logger
}

// NewQueryService creates a new QueryService
func NewQueryService(
	reports port.ReportRepository,
	users port.UserRepository,
	evaluator *policy.Evaluator,
	chain workflow.ApprovalChain,
	logger Logger,
) QueryService {
	return &queryServiceImpl{
		reports:   reports,
		users:     users,
		evaluator: evaluator,
		chain:     chain,
		guard:     guard.New(chain),
		logger:    logger,
	}
}

var validSorts = map[string]bool{
	entity.SortActivityDesc: true,
	entity.SortActivityAsc:  true,
	entity.SortCreatedDesc:  true,
	entity.SortCreatedAsc:   true,
	entity.SortAmountDesc:   true,
	entity.SortAmountAsc:    true,
	entity.SortTitleAsc:     true,
}

// Search lists reports visible to actor
func (s *queryServiceImpl) Search(ctx context.Context, actor guard.Actor, params SearchParams) ([]ReportSummary, error) {
	const op = "search"

	if _, err := s.resolveActor(ctx, op, &actor); err != nil {
		return nil, err
	}

	sortKey := strings.ToLower(strings.TrimSpace(params.Sort))
	if sortKey == "" {
		sortKey = entity.SortActivityDesc
	}
	if !validSorts[sortKey] {
		return nil, workflow.Validation(op, "unknown sort %q", params.Sort)
	}

	limit := params.Limit
	if limit <= 0 || limit > DefaultSearchLimit {
		limit = DefaultSearchLimit
	}

	query := port.ReportQuery{
		Statuses: params.Statuses,
		Text:     params.Text,
		Sort:     sortKey,
	}
	if !s.guard.CanSeeAll(actor) {
		query.SubmitterID = actor.ID
	}
	// Flag filtering happens after loading, so the limit is applied afterwards too
	if params.Flagged == nil {
		query.Limit = limit
	}

	reports, err := s.reports.List(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search reports: %w", err)
	}

	summaries, err := s.summarize(ctx, reports)
	if err != nil {
		return nil, err
	}

	if params.Flagged != nil {
		filtered := summaries[:0]
		for _, summary := range summaries {
			if summary.Flagged == *params.Flagged {
				filtered = append(filtered, summary)
			}
		}
		summaries = filtered
		if len(summaries) > limit {
			summaries = summaries[:limit]
		}
	}

	return summaries, nil
}

// PendingApproval lists every report awaiting actor's role, oldest activity first
func (s *queryServiceImpl) PendingApproval(ctx context.Context, actor guard.Actor) ([]ReportSummary, error) {
	const op = "pending_approval"

	if _, err := s.resolveActor(ctx, op, &actor); err != nil {
		return nil, err
	}

	states, err := s.guard.QueueStates(actor)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return []ReportSummary{}, nil
	}

	reports, err := s.reports.List(ctx, port.ReportQuery{
		Statuses: states,
		Sort:     entity.SortActivityAsc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reports: %w", err)
	}

	return s.summarize(ctx, reports)
}

// ListBySubmitter lists one submitter's reports
func (s *queryServiceImpl) ListBySubmitter(ctx context.Context, actor guard.Actor, submitterID int64, status workflow.State) ([]ReportSummary, error) {
	const op = "list"

	if _, err := s.resolveActor(ctx, op, &actor); err != nil {
		return nil, err
	}
	if submitterID != actor.ID && !s.guard.CanSeeAll(actor) {
		return nil, workflow.Unauthorized(op, "user %d may not list reports of user %d", actor.ID, submitterID)
	}

	query := port.ReportQuery{SubmitterID: submitterID, Sort: entity.SortCreatedDesc}
	if status != "" {
		if !status.IsValid() {
			return nil, workflow.Validation(op, "unknown status %q", status)
		}
		query.Statuses = []workflow.State{status}
	}

	reports, err := s.reports.List(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	return s.summarize(ctx, reports)
}

// Stats aggregates the reports visible to actor
func (s *queryServiceImpl) Stats(ctx context.Context, actor guard.Actor) (*Stats, error) {
	const op = "stats"

	if _, err := s.resolveActor(ctx, op, &actor); err != nil {
		return nil, err
	}

	query := port.ReportQuery{Sort: entity.SortCreatedAsc}
	if !s.guard.CanSeeAll(actor) {
		query.SubmitterID = actor.ID
	}

	reports, err := s.reports.List(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load reports for stats: %w", err)
	}

	stats := &Stats{
		TotalReports: len(reports),
		TotalAmount:  decimal.Zero,
		ByStatus:     make(map[workflow.State]int),
		ByCategory:   []CategoryStat{},
		ByMonth:      []MonthStat{},
	}

	categories := make(map[string]*CategoryStat)
	months := make(map[string]*MonthStat)

	for _, report := range reports {
		total := report.TotalAmount()
		stats.TotalAmount = stats.TotalAmount.Add(total)
		stats.ByStatus[report.Status]++

		switch {
		case report.Status == workflow.StateApproved:
			stats.Approved++
		case report.Status == workflow.StateRejected:
			stats.Rejected++
		case report.Status == workflow.StateCFOSpecialReview || s.chain.IsReviewState(report.Status):
			stats.Pending++
		}

		month := report.CreatedAt.Format("2006-01")
		m, ok := months[month]
		if !ok {
			m = &MonthStat{Month: month, Amount: decimal.Zero}
			months[month] = m
		}
		m.Amount = m.Amount.Add(total)
		m.Count++

		for _, item := range report.Items {
			c, ok := categories[item.Category]
			if !ok {
				c = &CategoryStat{Category: item.Category, Amount: decimal.Zero}
				categories[item.Category] = c
			}
			c.Amount = c.Amount.Add(item.Amount)
			c.Count++
		}
	}

	for _, c := range categories {
		stats.ByCategory = append(stats.ByCategory, *c)
	}
	sort.Slice(stats.ByCategory, func(i, j int) bool {
		a, b := stats.ByCategory[i], stats.ByCategory[j]
		if !a.Amount.Equal(b.Amount) {
			return a.Amount.GreaterThan(b.Amount)
		}
		return a.Category < b.Category
	})

	for _, m := range months {
		stats.ByMonth = append(stats.ByMonth, *m)
	}
	sort.Slice(stats.ByMonth, func(i, j int) bool {
		return stats.ByMonth[i].Month < stats.ByMonth[j].Month
	})

	return stats, nil
}

// resolveActor loads the acting user and fills in its role and name
func (s *queryServiceImpl) resolveActor(ctx context.Context, op string, actor *guard.Actor) (*entity.User, error) {
	user, err := s.users.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", actor.ID, err)
	}
	if user == nil {
		return nil, workflow.NotFound(op, "user %d not found", actor.ID)
	}
	if actor.Role != "" && actor.Role != user.Role {
		return nil, workflow.Unauthorized(op, "user %d does not have role %s", actor.ID, actor.Role)
	}
	actor.Role = user.Role
	actor.Name = user.Name
	return user, nil
}

func (s *queryServiceImpl) summarize(ctx context.Context, reports []*entity.ExpenseReport) ([]ReportSummary, error) {
	names := make(map[int64]string)
	summaries := make([]ReportSummary, 0, len(reports))

	for _, report := range reports {
		name, ok := names[report.SubmitterID]
		if !ok {
			user, err := s.users.GetByID(ctx, report.SubmitterID)
			if err != nil {
				return nil, fmt.Errorf("failed to load submitter %d: %w", report.SubmitterID, err)
			}
			if user != nil {
				name = user.Name
			}
			names[report.SubmitterID] = name
		}

		exceptions := s.evaluator.Evaluate(report.Items)
		summaries = append(summaries, ReportSummary{
			ID:             report.ID,
			Title:          report.Title,
			Destination:    report.Destination,
			SubmitterID:    report.SubmitterID,
			SubmitterName:  name,
			Status:         report.Status,
			TotalAmount:    report.TotalAmount(),
			ItemCount:      len(report.Items),
			Flagged:        len(exceptions) > 0,
			ExceptionCount: len(exceptions),
			CreatedAt:      report.CreatedAt,
			LastActivityAt: report.LastActivityAt,
		})
	}

	return summaries, nil
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/guard"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	"github.com/garyjia/expense-approval/internal/domain/policy"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Repositories groups the stores the lifecycle reads and writes
type Repositories struct {
	Reports        port.ReportRepository
	SpecialReviews port.SpecialReviewRepository
	Users          port.UserRepository
	AuditLogs      port.AuditLogRepository
}

// engineImpl is the concrete implementation of ReportLifecycle
type engineImpl struct {
	reports   port.ReportRepository
	reviews   port.SpecialReviewRepository
	users     port.UserRepository
	audits    port.AuditLogRepository
	txManager port.TransactionManager

	evaluator *policy.Evaluator
	chain     domainwf.ApprovalChain
	table     domainwf.StateMachineBuilder
	guard     *guard.Guard
	locks     *keyedMutex

	dispatcher dispatcher.Dispatcher
	metrics    port.WorkflowMetrics
	clock      port.Clock
	logger     Logger
}

// EngineOption configures the lifecycle engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithMetrics records rejected operations
func WithMetrics(m port.WorkflowMetrics) EngineOption {
	return func(e *engineImpl) {
		e.metrics = m
	}
}

// WithClock overrides the wall clock
func WithClock(c port.Clock) EngineOption {
	return func(e *engineImpl) {
		e.clock = c
	}
}

// WithLogger sets a logger for the engine
func WithLogger(l Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = l
	}
}

// NewEngine creates a new report lifecycle engine
func NewEngine(
	repos Repositories,
	txManager port.TransactionManager,
	evaluator *policy.Evaluator,
	chain domainwf.ApprovalChain,
	opts ...EngineOption,
) (ReportLifecycle, error) {
	if err := chain.Validate(); err != nil {
		return nil, fmt.Errorf("invalid approval chain: %w", err)
	}

	e := &engineImpl{
		reports:   repos.Reports,
		reviews:   repos.SpecialReviews,
		users:     repos.Users,
		audits:    repos.AuditLogs,
		txManager: txManager,
		evaluator: evaluator,
		chain:     chain,
		table:     BuildTransitionTable(chain),
		guard:     guard.New(chain),
		locks:     newKeyedMutex(),
		clock:     port.SystemClock{},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Create stores a new DRAFT report submitted by actor
func (e *engineImpl) Create(ctx context.Context, actor guard.Actor, input ReportInput) (*entity.ExpenseReport, error) {
	const op = "create"

	var created *entity.ExpenseReport
	var events []*event.Event

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		user, err := e.resolveActor(txCtx, op, actor)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		report := &entity.ExpenseReport{
			SubmitterID:    user.ID,
			Status:         domainwf.StateDraft,
			CreatedAt:      now,
			LastActivityAt: now,
		}
		applyInput(report, input)

		if err := validateReport(op, report); err != nil {
			return err
		}

		if err := e.reports.Create(txCtx, report); err != nil {
			return fmt.Errorf("failed to create report: %w", err)
		}

		if err := e.appendAudit(txCtx, report, entity.AuditActionCreated, "", user, ""); err != nil {
			return err
		}

		created = report
		events = append(events, event.NewEvent(event.TypeReportCreated, report.ID, user.ID, map[string]interface{}{
			"title": report.Title,
			"total": report.TotalAmount().String(),
			"items": len(report.Items),
		}))
		return nil
	})
	if err != nil {
		return nil, e.fail(op, 0, err)
	}

	e.publish(ctx, events)
	return created, nil
}

// Update replaces the fields and items of an editable report
func (e *engineImpl) Update(ctx context.Context, reportID int64, actor guard.Actor, input ReportInput) (domainwf.State, error) {
	const op = "update"

	var status domainwf.State
	err := e.mutate(ctx, op, reportID, actor, func(txCtx context.Context, report *entity.ExpenseReport, user *entity.User) ([]*event.Event, error) {
		if err := e.guard.Authorize(guard.OpUpdate, guard.Actor{ID: user.ID, Role: user.Role}, report); err != nil {
			return nil, err
		}
		if !report.Status.IsEditable() {
			return nil, domainwf.InvalidState(op, "report %d is %s; only DRAFT or CHANGES_REQUESTED reports can be updated", report.ID, report.Status)
		}

		applyInput(report, input)
		if err := validateReport(op, report); err != nil {
			return nil, err
		}

		report.Touch(e.clock.Now())
		if err := e.reports.Update(txCtx, report); err != nil {
			return nil, fmt.Errorf("failed to update report: %w", err)
		}
		if err := e.appendAudit(txCtx, report, entity.AuditActionUpdated, report.Status, user, ""); err != nil {
			return nil, err
		}

		status = report.Status
		return []*event.Event{
			event.NewEvent(event.TypeReportUpdated, report.ID, user.ID, map[string]interface{}{
				"total": report.TotalAmount().String(),
				"items": len(report.Items),
			}),
		}, nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// Submit evaluates policy and routes the report
func (e *engineImpl) Submit(ctx context.Context, reportID int64, actor guard.Actor, reasons []ExceptionReason) (domainwf.State, error) {
	const op = "submit"

	var status domainwf.State
	err := e.mutate(ctx, op, reportID, actor, func(txCtx context.Context, report *entity.ExpenseReport, user *entity.User) ([]*event.Event, error) {
		if err := e.guard.Authorize(guard.OpSubmit, guard.Actor{ID: user.ID, Role: user.Role}, report); err != nil {
			return nil, err
		}

		exceptions := e.evaluator.Evaluate(report.Items)
		route := e.chain.RouteOnSubmit(policy.Codes(exceptions), report.TotalAmount())

		trigger := domainwf.TriggerSubmit
		if route.SpecialReviewNeeded {
			trigger = domainwf.TriggerSubmitFlagged
		}

		from := report.Status
		to, err := e.fire(ctx, op, report, trigger, user.Role)
		if err != nil {
			return nil, err
		}
		if to != route.Target {
			return nil, fmt.Errorf("transition table routed report %d to %s, router expected %s", report.ID, to, route.Target)
		}

		now := e.clock.Now()

		// A retained rejected review is superseded by this submission
		if err := e.reviews.DeleteByReportID(txCtx, report.ID); err != nil {
			return nil, fmt.Errorf("failed to clear previous special review: %w", err)
		}

		var events []*event.Event
		action := entity.AuditActionSubmitted
		if route.SpecialReviewNeeded {
			review := newSpecialReview(report.ID, exceptions, reasons, now)
			if err := e.reviews.Create(txCtx, review); err != nil {
				return nil, fmt.Errorf("failed to create special review: %w", err)
			}
			action = entity.AuditActionSubmittedForReview
			events = append(events, event.NewEvent(event.TypeSpecialReviewOpened, report.ID, user.ID, map[string]interface{}{
				"review_id": review.ID,
				"items":     len(review.Items),
			}))
		}

		report.Status = to
		report.Touch(now)
		if err := e.reports.Update(txCtx, report); err != nil {
			return nil, fmt.Errorf("failed to update report: %w", err)
		}
		if err := e.appendAudit(txCtx, report, action, from, user, ""); err != nil {
			return nil, err
		}

		status = to
		return append(events, statusChanged(report, user.ID, from, trigger)), nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// Approve advances a report to the next tier of the approval chain
func (e *engineImpl) Approve(ctx context.Context, reportID int64, actor guard.Actor, comment string) (domainwf.State, error) {
	return e.review(ctx, "approve", reportID, actor, comment)
}

// Reject ends a report under chain review
func (e *engineImpl) Reject(ctx context.Context, reportID int64, actor guard.Actor, comment string) (domainwf.State, error) {
	return e.review(ctx, "reject", reportID, actor, comment)
}

func (e *engineImpl) review(ctx context.Context, op string, reportID int64, actor guard.Actor, comment string) (domainwf.State, error) {
	trigger, guardOp, action := domainwf.TriggerApprove, guard.OpApprove, entity.AuditActionApproved
	if op == "reject" {
		trigger, guardOp, action = domainwf.TriggerReject, guard.OpReject, entity.AuditActionRejected
	}

	var status domainwf.State
	err := e.mutate(ctx, op, reportID, actor, func(txCtx context.Context, report *entity.ExpenseReport, user *entity.User) ([]*event.Event, error) {
		if err := e.guard.Authorize(guardOp, guard.Actor{ID: user.ID, Role: user.Role}, report); err != nil {
			return nil, err
		}

		from := report.Status
		to, err := e.fire(ctx, op, report, trigger, user.Role)
		if err != nil {
			return nil, err
		}

		comment = strings.TrimSpace(comment)
		if trigger == domainwf.TriggerReject && comment == "" {
			return nil, domainwf.Validation(op, "a comment is required to reject a report")
		}

		now := e.clock.Now()
		report.Status = to
		report.ApproverID = &user.ID
		report.ApprovalComment = comment
		if to.IsTerminal() {
			report.ApprovedAt = &now
		}
		report.Touch(now)

		if err := e.reports.Update(txCtx, report); err != nil {
			return nil, fmt.Errorf("failed to update report: %w", err)
		}
		if err := e.appendAudit(txCtx, report, action, from, user, comment); err != nil {
			return nil, err
		}

		status = to
		return []*event.Event{statusChanged(report, user.ID, from, trigger)}, nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// Get returns a snapshot of the report
func (e *engineImpl) Get(ctx context.Context, reportID int64, actor guard.Actor) (*entity.ExpenseReport, error) {
	const op = "get"

	var snapshot *entity.ExpenseReport
	err := e.read(ctx, op, reportID, actor, func(_ context.Context, report *entity.ExpenseReport, user *entity.User) error {
		if err := e.guard.Authorize(guard.OpRead, guard.Actor{ID: user.ID, Role: user.Role}, report); err != nil {
			return err
		}
		snapshot = report
		return nil
	})
	return snapshot, err
}

// AuditLog returns the report's audit trail
func (e *engineImpl) AuditLog(ctx context.Context, reportID int64, actor guard.Actor) ([]*entity.AuditLog, error) {
	const op = "audit_log"

	var logs []*entity.AuditLog
	err := e.read(ctx, op, reportID, actor, func(readCtx context.Context, report *entity.ExpenseReport, user *entity.User) error {
		if err := e.guard.Authorize(guard.OpAuditLog, guard.Actor{ID: user.ID, Role: user.Role}, report); err != nil {
			return err
		}
		var err error
		logs, err = e.audits.GetByReportID(readCtx, report.ID)
		if err != nil {
			return fmt.Errorf("failed to load audit log: %w", err)
		}
		return nil
	})
	return logs, err
}

// mutate runs fn under the report's exclusive lock inside one transaction and
// publishes the returned events after commit
func (e *engineImpl) mutate(
	ctx context.Context,
	op string,
	reportID int64,
	actor guard.Actor,
	fn func(txCtx context.Context, report *entity.ExpenseReport, user *entity.User) ([]*event.Event, error),
) error {
	unlock := e.locks.Lock(reportID)
	defer unlock()

	var events []*event.Event
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		report, user, err := e.load(txCtx, op, reportID, actor)
		if err != nil {
			return err
		}
		events, err = fn(txCtx, report, user)
		return err
	})
	if err != nil {
		return e.fail(op, reportID, err)
	}

	e.publish(ctx, events)
	return nil
}

// read runs fn under the report's shared lock
func (e *engineImpl) read(
	ctx context.Context,
	op string,
	reportID int64,
	actor guard.Actor,
	fn func(ctx context.Context, report *entity.ExpenseReport, user *entity.User) error,
) error {
	unlock := e.locks.RLock(reportID)
	defer unlock()

	report, user, err := e.load(ctx, op, reportID, actor)
	if err == nil {
		err = fn(ctx, report, user)
	}
	if err != nil {
		return e.fail(op, reportID, err)
	}
	return nil
}

func (e *engineImpl) load(ctx context.Context, op string, reportID int64, actor guard.Actor) (*entity.ExpenseReport, *entity.User, error) {
	report, err := e.reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load report %d: %w", reportID, err)
	}
	if report == nil {
		return nil, nil, domainwf.NotFound(op, "report %d not found", reportID)
	}

	user, err := e.resolveActor(ctx, op, actor)
	if err != nil {
		return nil, nil, err
	}
	return report, user, nil
}

// resolveActor confirms the actor exists and holds the role it claims
func (e *engineImpl) resolveActor(ctx context.Context, op string, actor guard.Actor) (*entity.User, error) {
	user, err := e.users.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", actor.ID, err)
	}
	if user == nil {
		return nil, domainwf.NotFound(op, "user %d not found", actor.ID)
	}
	if actor.Role != "" && actor.Role != user.Role {
		return nil, domainwf.Unauthorized(op, "user %d does not have role %s", actor.ID, actor.Role)
	}
	return user, nil
}

// fire runs trigger through a machine positioned at the report's status and
// returns the target. The report itself is not modified.
func (e *engineImpl) fire(ctx context.Context, op string, report *entity.ExpenseReport, trigger domainwf.Trigger, role domainwf.Role) (domainwf.State, error) {
	machine := e.table.Build(report.Status)
	if err := machine.Fire(ctx, trigger, role, report); err != nil {
		switch {
		case errors.Is(err, domainwf.ErrRoleNotPermitted):
			return "", &domainwf.Error{
				Kind:    domainwf.ErrUnauthorized,
				Op:      op,
				Message: fmt.Sprintf("report %d is %s and awaits role %v, not %s", report.ID, report.Status, machine.RequiredRoles(trigger), role),
				Err:     err,
			}
		case errors.Is(err, domainwf.ErrInvalidTransition):
			return "", &domainwf.Error{
				Kind:    domainwf.ErrInvalidState,
				Op:      op,
				Message: fmt.Sprintf("cannot %s report %d in status %s", op, report.ID, report.Status),
				Err:     err,
			}
		default:
			return "", fmt.Errorf("%s: %w", op, err)
		}
	}
	return machine.State(), nil
}

func (e *engineImpl) appendAudit(ctx context.Context, report *entity.ExpenseReport, action string, from domainwf.State, user *entity.User, comment string) error {
	entry := &entity.AuditLog{
		ReportID:   report.ID,
		Action:     action,
		FromStatus: from,
		ToStatus:   report.Status,
		ActorID:    user.ID,
		ActorName:  user.Name,
		Comment:    comment,
		CreatedAt:  e.clock.Now(),
	}
	if err := e.audits.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to record audit log: %w", err)
	}
	return nil
}

func (e *engineImpl) publish(ctx context.Context, events []*event.Event) {
	if e.dispatcher == nil {
		return
	}
	event.Correlate(events)
	for _, evt := range events {
		e.dispatcher.DispatchAsync(ctx, evt)
	}
}

// fail records and logs a failed operation and returns err unchanged
func (e *engineImpl) fail(op string, reportID int64, err error) error {
	kind := domainwf.KindOf(err)

	if e.metrics != nil {
		label := "internal"
		if kind != nil {
			label = kind.Error()
		}
		e.metrics.RecordOperationError(op, label)
	}

	if e.logger != nil {
		if kind == nil {
			e.logger.Error("Report operation failed", "op", op, "report_id", reportID, "error", err)
		} else {
			e.logger.Info("Report operation refused", "op", op, "report_id", reportID, "reason", err.Error())
		}
	}
	return err
}

func applyInput(report *entity.ExpenseReport, input ReportInput) {
	report.Title = strings.TrimSpace(input.Title)
	report.Destination = strings.TrimSpace(input.Destination)
	report.DepartureDate = input.DepartureDate
	report.ReturnDate = input.ReturnDate

	items := make([]entity.ExpenseItem, len(input.Items))
	for i, item := range input.Items {
		item.Category = strings.TrimSpace(item.Category)
		item.Description = strings.TrimSpace(item.Description)
		items[i] = item
	}
	report.ReplaceItems(items)
}

func validateReport(op string, report *entity.ExpenseReport) error {
	if len(report.Items) == 0 {
		return domainwf.Validation(op, "at least one item is required")
	}
	if err := report.Validate(); err != nil {
		return &domainwf.Error{Kind: domainwf.ErrValidation, Op: op, Message: err.Error(), Err: err}
	}
	return nil
}

func statusChanged(report *entity.ExpenseReport, actorID int64, from domainwf.State, trigger domainwf.Trigger) *event.Event {
	return event.NewEvent(event.TypeStatusChanged, report.ID, actorID, map[string]interface{}{
		"from":    from.String(),
		"to":      report.Status.String(),
		"trigger": trigger.String(),
		"total":   report.TotalAmount().String(),
	})
}

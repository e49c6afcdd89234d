// Package guard decides whether an actor may perform an operation on a report.
// State-dependent role checks belong to the transition table; this package checks
// identity and the roles an operation needs regardless of state.
package guard

import (
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/workflow"
)

// Actor is the resolved identity performing an operation
type Actor struct {
	ID   int64
	Role workflow.Role
	Name string
}

// Operation names an access-controlled lifecycle operation
type Operation string

const (
	OpRead              Operation = "read"
	OpUpdate            Operation = "update"
	OpSubmit            Operation = "submit"
	OpApprove           Operation = "approve"
	OpReject            Operation = "reject"
	OpDecide            Operation = "decide"
	OpFeedback          Operation = "submitter_feedback"
	OpViewSpecialReview Operation = "view_special_review"
	OpAuditLog          Operation = "audit_log"
)

// Guard checks actors against operations
type Guard struct {
	chain workflow.ApprovalChain
}

// New creates a guard for the given approval chain
func New(chain workflow.ApprovalChain) *Guard {
	return &Guard{chain: chain}
}

// Authorize returns an authorization error when actor may not perform op on report
func (g *Guard) Authorize(op Operation, actor Actor, report *entity.ExpenseReport) error {
	isSubmitter := actor.ID == report.SubmitterID

	switch op {
	case OpRead, OpAuditLog:
		if !isSubmitter && !actor.Role.IsReviewer() {
			return workflow.Unauthorized(string(op), "user %d may not view report %d", actor.ID, report.ID)
		}

	case OpUpdate, OpSubmit, OpFeedback:
		if !isSubmitter {
			return workflow.Unauthorized(string(op), "only the submitter may %s report %d", op, report.ID)
		}

	case OpApprove, OpReject:
		if !actor.Role.IsReviewer() {
			return workflow.Unauthorized(string(op), "role %s may not %s reports", actor.Role, op)
		}
		if isSubmitter {
			return workflow.Unauthorized(string(op), "submitters may not %s their own report", op)
		}

	case OpDecide, OpViewSpecialReview:
		if actor.Role != g.chain.SpecialReviewRole {
			return workflow.Unauthorized(string(op), "special review requires role %s", g.chain.SpecialReviewRole)
		}
		if op == OpDecide && isSubmitter {
			return workflow.Unauthorized(string(op), "submitters may not decide their own special review")
		}

	default:
		return workflow.Unauthorized(string(op), "unknown operation")
	}

	return nil
}

// QueueStates returns the states whose reports await actor's decision
func (g *Guard) QueueStates(actor Actor) ([]workflow.State, error) {
	if !actor.Role.IsReviewer() {
		return nil, workflow.Unauthorized("pending_approval", "role %s has no approval queue", actor.Role)
	}
	return g.chain.QueueStates(actor.Role), nil
}

// CanSeeAll reports whether actor may list every submitter's reports
func (g *Guard) CanSeeAll(actor Actor) bool {
	return actor.Role.IsReviewer()
}

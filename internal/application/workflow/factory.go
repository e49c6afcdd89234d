package workflow

import (
	"context"

	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

// BuildTransitionTable derives the (state, trigger, role) -> state table from an approval chain.
// Targets that depend on the report total are guarded so exactly one of them matches.
func BuildTransitionTable(chain domainwf.ApprovalChain) domainwf.StateMachineBuilder {
	builder := domainwf.NewBuilder()

	entryIs := func(target domainwf.State) domainwf.GuardFunc {
		return func(_ context.Context, s domainwf.Subject) bool {
			return chain.Entry(s.TotalAmount()) == target
		}
	}
	nextIs := func(from, target domainwf.State) domainwf.GuardFunc {
		return func(_ context.Context, s domainwf.Subject) bool {
			next, err := chain.Next(from, s.TotalAmount())
			return err == nil && next == target
		}
	}

	// Submitter identity is checked by the guard, so any role may submit
	for _, editable := range []domainwf.State{domainwf.StateDraft, domainwf.StateChangesRequested} {
		cfg := builder.Configure(editable).
			Permit(domainwf.TriggerSubmitFlagged, domainwf.RoleAny, domainwf.StateCFOSpecialReview)
		for _, tier := range chain.Tiers {
			cfg.PermitIf(domainwf.TriggerSubmit, domainwf.RoleAny, tier.State, entryIs(tier.State))
		}
	}

	special := builder.Configure(domainwf.StateCFOSpecialReview).
		Permit(domainwf.TriggerRequestChanges, chain.SpecialReviewRole, domainwf.StateChangesRequested)
	for _, tier := range chain.Tiers {
		special.PermitIf(domainwf.TriggerClearExceptions, chain.SpecialReviewRole, tier.State, entryIs(tier.State))
	}

	for i, tier := range chain.Tiers {
		cfg := builder.Configure(tier.State).
			Permit(domainwf.TriggerReject, tier.Role, domainwf.StateRejected)
		for _, later := range chain.Tiers[i+1:] {
			cfg.PermitIf(domainwf.TriggerApprove, tier.Role, later.State, nextIs(tier.State, later.State))
		}
		cfg.PermitIf(domainwf.TriggerApprove, tier.Role, domainwf.StateApproved, nextIs(tier.State, domainwf.StateApproved))
	}

	// APPROVED and REJECTED are terminal states - no outgoing transitions

	builder.Freeze()
	return builder
}

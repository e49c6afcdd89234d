package workflow

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tier is one stage of the normal approval chain
type Tier struct {
	State State
	Role  Role
	// MinTotal restricts the tier to reports whose total is strictly above it. Zero means always.
	MinTotal decimal.Decimal
}

// AppliesTo reports whether a report with the given total passes through this tier
func (t Tier) AppliesTo(total decimal.Decimal) bool {
	return t.MinTotal.IsZero() || total.GreaterThan(t.MinTotal)
}

// Route is the outcome of routing a submitted report
type Route struct {
	Target              State
	SpecialReviewNeeded bool
}

// ApprovalChain is the ordered list of review tiers a report passes after submission
type ApprovalChain struct {
	Tiers             []Tier
	SpecialReviewRole Role
}

// DefaultChain returns the manager then CFO chain
func DefaultChain() ApprovalChain {
	return ApprovalChain{
		Tiers: []Tier{
			{State: StateManagerReview, Role: RoleManager},
			{State: StateCFOReview, Role: RoleCFO},
		},
		SpecialReviewRole: RoleCFO,
	}
}

// WithCEOTier appends a CEO tier for reports whose total exceeds threshold.
// A non-positive threshold leaves the chain unchanged.
func (c ApprovalChain) WithCEOTier(threshold decimal.Decimal) ApprovalChain {
	if !threshold.IsPositive() {
		return c
	}
	tiers := append([]Tier{}, c.Tiers...)
	tiers = append(tiers, Tier{State: StateCEOReview, Role: RoleCEO, MinTotal: threshold})
	return ApprovalChain{Tiers: tiers, SpecialReviewRole: c.SpecialReviewRole}
}

// Validate checks that the chain is usable by the lifecycle
func (c ApprovalChain) Validate() error {
	if len(c.Tiers) == 0 {
		return fmt.Errorf("approval chain has no tiers")
	}
	if !c.Tiers[0].MinTotal.IsZero() {
		return fmt.Errorf("first tier %s must apply to every report", c.Tiers[0].State)
	}
	if c.SpecialReviewRole == "" {
		return fmt.Errorf("approval chain has no special review role")
	}

	seen := make(map[State]bool, len(c.Tiers))
	for _, tier := range c.Tiers {
		if !tier.State.IsValid() || tier.State.IsTerminal() || tier.State.IsEditable() || tier.State == StateCFOSpecialReview {
			return fmt.Errorf("state %s cannot be an approval tier", tier.State)
		}
		if seen[tier.State] {
			return fmt.Errorf("duplicate approval tier %s", tier.State)
		}
		if tier.Role == "" || tier.Role == RoleAny {
			return fmt.Errorf("approval tier %s needs a concrete role", tier.State)
		}
		if tier.MinTotal.IsNegative() {
			return fmt.Errorf("approval tier %s has a negative minimum total", tier.State)
		}
		seen[tier.State] = true
	}
	return nil
}

// RouteOnSubmit decides where a submitted report goes
func (c ApprovalChain) RouteOnSubmit(exceptionCodes []string, total decimal.Decimal) Route {
	if len(exceptionCodes) > 0 {
		return Route{Target: StateCFOSpecialReview, SpecialReviewNeeded: true}
	}
	return Route{Target: c.Entry(total)}
}

// Entry returns the first tier that applies to total
func (c ApprovalChain) Entry(total decimal.Decimal) State {
	return c.nextFrom(0, total)
}

// Next returns the state after current for a report with the given total
func (c ApprovalChain) Next(current State, total decimal.Decimal) (State, error) {
	idx := c.indexOf(current)
	if idx < 0 {
		return "", fmt.Errorf("%w: %s is not an approval tier", ErrInvalidTransition, current)
	}
	return c.nextFrom(idx+1, total), nil
}

// RoleFor returns the role that decides a report in the given tier state
func (c ApprovalChain) RoleFor(state State) (Role, bool) {
	if state == StateCFOSpecialReview {
		return c.SpecialReviewRole, true
	}
	idx := c.indexOf(state)
	if idx < 0 {
		return "", false
	}
	return c.Tiers[idx].Role, true
}

// IsReviewState reports whether state is one of the chain's tiers
func (c ApprovalChain) IsReviewState(state State) bool {
	return c.indexOf(state) >= 0
}

// QueueStates returns the states whose reports await a decision by role
func (c ApprovalChain) QueueStates(role Role) []State {
	var states []State
	for _, tier := range c.Tiers {
		if tier.Role == role {
			states = append(states, tier.State)
		}
	}
	if role == c.SpecialReviewRole {
		states = append(states, StateCFOSpecialReview)
	}
	return states
}

func (c ApprovalChain) nextFrom(start int, total decimal.Decimal) State {
	for i := start; i < len(c.Tiers); i++ {
		if c.Tiers[i].AppliesTo(total) {
			return c.Tiers[i].State
		}
	}
	return StateApproved
}

func (c ApprovalChain) indexOf(state State) int {
	for i, tier := range c.Tiers {
		if tier.State == state {
			return i
		}
	}
	return -1
}

package workflow

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// Subject is the data a guard may inspect when deciding a transition
type Subject interface {
	TotalAmount() decimal.Decimal
}

// GuardFunc decides whether a permitted transition applies to subject
type GuardFunc func(ctx context.Context, subject Subject) bool

// StateMachineBuilder collects the transition table of the report lifecycle.
// The first Build freezes the table; every machine built afterwards shares it.
type StateMachineBuilder interface {
	// Configure returns the transitions leaving state
	Configure(state State) StateConfiguration

	// Freeze makes the table read-only. Build freezes it too.
	Freeze()

	// Build creates a machine positioned at initialState. Safe for concurrent use once frozen.
	Build(initialState State) StateMachine
}

// StateConfiguration declares the transitions leaving one state.
// Candidates for the same trigger are tried in declaration order.
type StateConfiguration interface {
	// Permit lets role fire trigger, moving to toState
	Permit(trigger Trigger, role Role, toState State) StateConfiguration

	// PermitIf is Permit restricted to subjects the guard accepts
	PermitIf(trigger Trigger, role Role, toState State, guard GuardFunc) StateConfiguration
}

type transition struct {
	role    Role
	toState State
	guard   GuardFunc
}

func (t transition) allows(role Role) bool {
	return t.role == RoleAny || t.role == role
}

// table maps a state and trigger to its candidate transitions. Read-only once frozen.
type table map[State]map[Trigger][]transition

type stateMachineBuilder struct {
	rules  table
	frozen atomic.Bool
}

type stateConfig struct {
	builder *stateMachineBuilder
	from    State
}

// NewBuilder creates an empty builder
func NewBuilder() StateMachineBuilder {
	return &stateMachineBuilder{rules: table{}}
}

func (b *stateMachineBuilder) Configure(state State) StateConfiguration {
	if !state.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", state))
	}
	if b.frozen.Load() {
		panic(fmt.Sprintf("transition table is frozen, cannot configure %s", state))
	}
	if _, ok := b.rules[state]; !ok {
		b.rules[state] = map[Trigger][]transition{}
	}
	return &stateConfig{builder: b, from: state}
}

func (b *stateMachineBuilder) Build(initialState State) StateMachine {
	if !initialState.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %s", initialState))
	}
	b.Freeze()
	return &stateMachine{current: initialState, rules: b.rules}
}

func (b *stateMachineBuilder) Freeze() {
	if !b.frozen.Load() {
		b.frozen.Store(true)
	}
}

func (c *stateConfig) Permit(trigger Trigger, role Role, toState State) StateConfiguration {
	return c.PermitIf(trigger, role, toState, nil)
}

func (c *stateConfig) PermitIf(trigger Trigger, role Role, toState State, guard GuardFunc) StateConfiguration {
	if !toState.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", toState))
	}
	if role == "" {
		panic(fmt.Sprintf("empty role for trigger %s from %s", trigger, c.from))
	}
	if c.builder.frozen.Load() {
		panic(fmt.Sprintf("transition table is frozen, cannot add %s from %s", trigger, c.from))
	}

	triggers := c.builder.rules[c.from]
	triggers[trigger] = append(triggers[trigger], transition{role: role, toState: toState, guard: guard})
	return c
}

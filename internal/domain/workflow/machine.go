package workflow

import (
	"context"
	"fmt"
	"sort"
)

// StateMachine tracks the status of one report against the shared transition table
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire reports whether role may fire trigger now, guards not evaluated
	CanFire(trigger Trigger, role Role) bool

	// Fire moves to the target of the first permitted transition whose guard accepts subject
	Fire(ctx context.Context, trigger Trigger, role Role, subject Subject) error

	// PermittedTriggers lists the triggers role may fire now, sorted
	PermittedTriggers(role Role) []Trigger

	// RequiredRoles lists the roles that may fire trigger now, in declaration order
	RequiredRoles(trigger Trigger) []Role
}

type stateMachine struct {
	current State
	rules   table
}

func (m *stateMachine) State() State {
	return m.current
}

func (m *stateMachine) CanFire(trigger Trigger, role Role) bool {
	for _, t := range m.rules[m.current][trigger] {
		if t.allows(role) {
			return true
		}
	}
	return false
}

func (m *stateMachine) Fire(ctx context.Context, trigger Trigger, role Role, subject Subject) error {
	candidates := m.rules[m.current][trigger]
	if len(candidates) == 0 {
		return fmt.Errorf("%w: cannot fire trigger %s from state %s", ErrInvalidTransition, trigger, m.current)
	}

	permitted := false
	for _, t := range candidates {
		if !t.allows(role) {
			continue
		}
		permitted = true
		if t.guard == nil || t.guard(ctx, subject) {
			m.current = t.toState
			return nil
		}
	}

	if !permitted {
		return fmt.Errorf("%w: %s cannot fire trigger %s from state %s", ErrRoleNotPermitted, role, trigger, m.current)
	}
	return fmt.Errorf("%w: trigger %s from state %s", ErrGuardFailed, trigger, m.current)
}

func (m *stateMachine) PermittedTriggers(role Role) []Trigger {
	triggers := []Trigger{}
	for trigger := range m.rules[m.current] {
		if m.CanFire(trigger, role) {
			triggers = append(triggers, trigger)
		}
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i] < triggers[j] })
	return triggers
}

func (m *stateMachine) RequiredRoles(trigger Trigger) []Role {
	var roles []Role
	for _, t := range m.rules[m.current][trigger] {
		seen := false
		for _, r := range roles {
			if r == t.role {
				seen = true
				break
			}
		}
		if !seen {
			roles = append(roles, t.role)
		}
	}
	return roles
}

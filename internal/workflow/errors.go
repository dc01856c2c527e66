package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// TerminalStateError is returned when any action is attempted on an entity
// whose state accepts no further transitions.
type TerminalStateError struct {
	Entity EntityType
	State  State
}

func (e TerminalStateError) Error() string {
	return fmt.Sprintf("%s is %s; no further actions are permitted", e.Entity, e.State)
}

// IllegalTransitionError is returned when no rule exists for the current
// state and requested action. Valid lists the actions the rule table does
// define for the state, to aid callers in correcting the request.
type IllegalTransitionError struct {
	Entity EntityType
	From   State
	Action Action
	Valid  []Action
}

func (e IllegalTransitionError) Error() string {
	if len(e.Valid) == 0 {
		return fmt.Sprintf("action %s not valid for %s in state %s", e.Action, e.Entity, e.From)
	}
	names := make([]string, len(e.Valid))
	for i, a := range e.Valid {
		names[i] = string(a)
	}
	return fmt.Sprintf("action %s not valid for %s in state %s (valid: %s)",
		e.Action, e.Entity, e.From, strings.Join(names, ", "))
}

// RoleError is returned when the actor's roles do not include any role the
// rule permits.
type RoleError struct {
	Action Action
	Roles  []string
}

func (e RoleError) Error() string {
	return fmt.Sprintf("role %s required for action %s", strings.Join(e.Roles, " or "), e.Action)
}

// ValidationError carries every violated field, not just the first, so
// callers can surface all problems at once.
type ValidationError struct {
	Fields map[string]string
}

func (e ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, f)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, f := range names {
		parts[i] = f + ": " + e.Fields[f]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// SideEffectError wraps a failed side effect. The engine rolls back the
// whole action when one occurs; retrying is not safe without re-validation.
type SideEffectError struct {
	Effect SideEffect
	Err    error
}

func (e SideEffectError) Error() string {
	return fmt.Sprintf("side effect %s failed: %v", e.Effect, e.Err)
}

func (e SideEffectError) Unwrap() error { return e.Err }

package workflow

import (
	"fmt"
	"math"
	"time"
)

// Result is the validator output: the full field-error map, never just the
// first violation.
type Result struct {
	Valid  bool
	Errors map[string]string
}

// Err converts an invalid result into a ValidationError; nil when valid.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return ValidationError{Fields: r.Errors}
}

// Allowed reports whether any of the actor's roles satisfies the rule's
// role gate. Admin always passes.
func Allowed(rule Rule, roles []string) bool {
	for _, have := range roles {
		if have == RoleAdmin {
			return true
		}
		for _, want := range rule.Roles {
			if have == want {
				return true
			}
		}
	}
	return len(rule.Roles) == 0
}

// Validate checks a payload against the rule for the given entity snapshot.
// Pure and side-effect-free; safe to call speculatively. All checks run,
// none short-circuits the others, so the result enumerates every violated
// field. now anchors the no-past-date check for scheduling fields.
func Validate(rule Rule, snap Snapshot, p Payload, now time.Time) Result {
	errs := map[string]string{}

	for _, f := range rule.Required {
		if !p.Has(f.Name) {
			errs[f.Name] = "required"
			continue
		}
		checkField(f, p, now, errs)
	}
	for _, f := range rule.Optional {
		if p.Has(f.Name) {
			checkField(f, p, now, errs)
		}
	}
	for _, c := range rule.Conditional {
		if !c.When(snap, p) {
			continue
		}
		if !p.Has(c.Field.Name) {
			if _, seen := errs[c.Field.Name]; !seen {
				errs[c.Field.Name] = "required"
			}
			continue
		}
		checkField(c.Field, p, now, errs)
	}
	for _, pre := range rule.Preconditions {
		if !pre.Check(snap) {
			if _, seen := errs[pre.Field]; !seen {
				errs[pre.Field] = pre.Message
			}
		}
	}

	if len(errs) == 0 {
		return Result{Valid: true}
	}
	return Result{Valid: false, Errors: errs}
}

func checkField(f FieldSpec, p Payload, now time.Time, errs map[string]string) {
	switch f.Kind {
	case FieldString:
		s, ok := p.String(f.Name)
		if !ok {
			errs[f.Name] = "must be a string"
			return
		}
		if f.MaxLen > 0 && len(s) > f.MaxLen {
			errs[f.Name] = fmt.Sprintf("must be at most %d characters", f.MaxLen)
		}
	case FieldNumber:
		n, ok := p.Number(f.Name)
		if !ok {
			errs[f.Name] = "must be a number"
			return
		}
		if math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
			errs[f.Name] = "must be a finite number >= 0"
		}
	case FieldEnum:
		s, ok := p.String(f.Name)
		if !ok {
			errs[f.Name] = "must be a string"
			return
		}
		for _, v := range f.Values {
			if s == v {
				return
			}
		}
		errs[f.Name] = "must be one of " + joinValues(f.Values)
	case FieldDate, FieldFutureDate:
		s, ok := p.String(f.Name)
		if !ok {
			errs[f.Name] = "must be a date string"
			return
		}
		t, err := parseDate(s)
		if err != nil {
			errs[f.Name] = "must be an RFC 3339 date"
			return
		}
		if f.Kind == FieldFutureDate && t.Before(now.Truncate(24*time.Hour)) {
			errs[f.Name] = "must not be in the past"
		}
	}
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func joinValues(vs []string) string {
	out := ""
	for i, v := range vs {
		if i > 0 {
			out += ", "
		}
		out += v
	}
	return out
}

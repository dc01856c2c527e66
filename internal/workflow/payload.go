package workflow

import "strconv"

// Payload carries the caller-supplied fields for one action. Values arrive
// as decoded JSON (string, float64, bool) and are read through the typed
// accessors below.
type Payload map[string]any

// String returns the named field as a string. The second return is false
// when the field is absent or not a string.
func (p Payload) String(name string) (string, bool) {
	v, ok := p[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Number returns the named field as a float64, accepting JSON numbers and
// numeric strings (form posts encode numbers as strings).
func (p Payload) Number(name string) (float64, bool) {
	v, ok := p[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Has reports whether the field is present and non-empty.
func (p Payload) Has(name string) bool {
	v, ok := p[name]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return s != ""
	}
	return true
}

// Snapshot is the read-only view of an entity the pure workflow functions
// need: enough to evaluate conditionals and action preconditions without
// touching storage.
type Snapshot struct {
	Entity           EntityType
	State            State
	Severity         string
	NotificationType string
	HasAsset         bool
	HasLinkedOrder   bool
	ChecklistTotal   int
	ChecklistDone    int
}

// ChecklistComplete reports whether every checklist item is done. An order
// without checklist items has nothing outstanding.
func (s Snapshot) ChecklistComplete() bool {
	return s.ChecklistDone >= s.ChecklistTotal
}

// ChecklistPercent returns completion as 0-100.
func (s Snapshot) ChecklistPercent() int {
	if s.ChecklistTotal == 0 {
		return 100
	}
	return s.ChecklistDone * 100 / s.ChecklistTotal
}

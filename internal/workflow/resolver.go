package workflow

// NextActions enumerates every action currently permitted for the entity
// and actor: a rule must exist for the state, the actor's roles must pass
// the rule's gate, and every state-independent precondition must hold
// (submit_acceptance is not offered while the checklist is incomplete).
// Terminal states offer nothing. Pure; usable for audit replay as well as
// for driving UI affordances.
func NextActions(snap Snapshot, roles []string) []Action {
	if Terminal(snap.Entity, snap.State) {
		return nil
	}
	var out []Action
	for _, action := range actionOrder[snap.Entity][snap.State] {
		rule := ruleIndex[snap.Entity][snap.State][action]
		if !Allowed(rule, roles) {
			continue
		}
		if !preconditionsHold(rule, snap) {
			continue
		}
		out = append(out, action)
	}
	return out
}

func preconditionsHold(rule Rule, snap Snapshot) bool {
	for _, pre := range rule.Preconditions {
		if !pre.Check(snap) {
			return false
		}
	}
	return true
}

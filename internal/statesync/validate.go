package statesync

import "fmt"

// Validate checks a GameState-shaped map against the bridge's structural
// invariants: normalized scalars stay within their bounds, relationship
// scalars stay within [-1,1], entity ids are unique within their
// collection, and turn_number is at least 1. The state's domain semantics
// remain opaque to the bridge; only shape and bounds are enforced.
func Validate(state map[string]any) []error {
	var errs []error

	if turnState, ok := state["turn_state"].(map[string]any); ok {
		errs = append(errs, validateTurnState(turnState)...)
	}

	errs = append(errs, validateCollection(state["civilizations"], "civilization_id", validateCivilization)...)
	errs = append(errs, validateCollection(state["advisors"], "advisor_id", validateAdvisor)...)

	return errs
}

func validateTurnState(turnState map[string]any) []error {
	var errs []error
	turnNumber, ok := asFloat(turnState["turn_number"])
	if ok && turnNumber < 1 {
		errs = append(errs, fmt.Errorf("turn_state.turn_number must be >= 1, got %v", turnNumber))
	}
	return errs
}

func validateCollection(raw any, idField string, validateOne func(map[string]any) []error) []error {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	var errs []error
	seen := make(map[string]bool, len(items))
	for i, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := entry[idField].(string); ok {
			if seen[id] {
				errs = append(errs, fmt.Errorf("duplicate %s %q at index %d", idField, id, i))
			}
			seen[id] = true
		}
		errs = append(errs, validateOne(entry)...)
	}
	return errs
}

func validateAdvisor(advisor map[string]any) []error {
	var errs []error
	errs = append(errs, boundedField(advisor, "loyalty", 0, 1)...)
	errs = append(errs, boundedField(advisor, "influence", 0, 1)...)
	errs = append(errs, boundedField(advisor, "stress_level", 0, 1)...)
	errs = append(errs, relationshipMap(advisor, "relationships")...)
	return errs
}

func validateCivilization(civ map[string]any) []error {
	var errs []error
	errs = append(errs, boundedField(civ, "political_stability", 0, 1)...)
	errs = append(errs, boundedField(civ, "economic_strength", 0, 1)...)
	errs = append(errs, boundedField(civ, "military_power", 0, 1)...)
	errs = append(errs, relationshipMap(civ, "diplomatic_relations")...)
	return errs
}

func boundedField(entry map[string]any, field string, min, max float64) []error {
	value, ok := asFloat(entry[field])
	if !ok {
		return nil
	}
	if value < min || value > max {
		return []error{fmt.Errorf("%s must be in [%v,%v], got %v", field, min, max, value)}
	}
	return nil
}

func relationshipMap(entry map[string]any, field string) []error {
	relations, ok := entry[field].(map[string]any)
	if !ok {
		return nil
	}
	var errs []error
	for key, raw := range relations {
		value, ok := asFloat(raw)
		if !ok {
			continue
		}
		if value < -1 || value > 1 {
			errs = append(errs, fmt.Errorf("%s[%q] must be in [-1,1], got %v", field, key, value))
		}
	}
	return errs
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

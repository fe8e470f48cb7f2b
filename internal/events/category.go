package events

import (
	"strings"

	"politicalsim/bridge/internal/protocol"
)

// categoryKeywords maps substrings of event_type to a Category, checked in
// order so more specific keywords can be listed ahead of general ones.
var categoryKeywords = []struct {
	keyword  string
	category Category
}{
	{"advisor", CategoryAdvisor},
	{"loyalty", CategoryAdvisor},
	{"crisis", CategoryCrisis},
	{"emergency", CategoryCrisis},
	{"conspiracy", CategoryConspiracy},
	{"coup", CategoryConspiracy},
	{"diplomatic", CategoryDiplomatic},
	{"negotiation", CategoryDiplomatic},
	{"economic", CategoryEconomic},
	{"trade", CategoryEconomic},
	{"military", CategoryMilitary},
	{"war", CategoryMilitary},
	{"social", CategorySocial},
	{"public", CategorySocial},
}

// DetermineCategory derives a Category from an event_type string by
// keyword match, falling back to CategorySystem when nothing matches.
func DetermineCategory(eventType string) Category {
	lower := strings.ToLower(eventType)
	for _, entry := range categoryKeywords {
		if strings.Contains(lower, entry.keyword) {
			return entry.category
		}
	}
	return CategorySystem
}

// PriorityFromSeverity derives a default message priority for an event
// whose caller did not supply one explicitly: minor/moderate severities
// are routine (normal priority), major/critical severities are urgent
// (high priority).
func PriorityFromSeverity(severity string) protocol.Priority {
	switch strings.ToLower(severity) {
	case "minor", "moderate":
		return protocol.PriorityNormal
	default:
		return protocol.PriorityHigh
	}
}

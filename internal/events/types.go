// Package events implements the political event broadcaster: a
// priority-queued, filter-matched, batched pub/sub with bounded replay
// history.
package events

import (
	"strings"
	"time"

	"politicalsim/bridge/internal/protocol"
)

// Category classifies an event for subscription filtering.
type Category string

const (
	CategoryAdvisor     Category = "advisor"
	CategoryCrisis      Category = "crisis"
	CategoryConspiracy  Category = "conspiracy"
	CategoryDiplomatic  Category = "diplomatic"
	CategoryEconomic    Category = "economic"
	CategoryMilitary    Category = "military"
	CategorySocial      Category = "social"
	CategorySystem      Category = "system"
)

// Event is a single political occurrence published to the broadcaster.
type Event struct {
	EventID        string         `json:"event_id"`
	EventType      string         `json:"event_type"`
	CivilizationID string         `json:"civilization_id,omitempty"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Severity       string         `json:"severity"`
	Participants   []string       `json:"participants,omitempty"`
	Consequences   map[string]any `json:"consequences,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Duration       *time.Duration `json:"duration,omitempty"`

	// Category is derived from EventType unless the caller overrides it.
	Category Category `json:"category"`
}

// SubscriptionFilter gates which events a subscription receives. All
// non-empty dimensions are AND-combined; an empty dimension matches
// everything.
type SubscriptionFilter struct {
	Categories    []Category
	Severities    []string
	Civilizations []string
	Participants  []string
	Keywords      []string
}

// Matches reports whether e satisfies every configured dimension of f.
func (f SubscriptionFilter) Matches(e Event) bool {
	if len(f.Categories) > 0 && !containsCategory(f.Categories, e.Category) {
		return false
	}
	if len(f.Severities) > 0 && !containsString(f.Severities, e.Severity) {
		return false
	}
	if len(f.Civilizations) > 0 && !containsString(f.Civilizations, e.CivilizationID) {
		return false
	}
	if len(f.Participants) > 0 && !anyParticipantMatches(f.Participants, e.Participants) {
		return false
	}
	if len(f.Keywords) > 0 && !anyKeywordMatches(f.Keywords, e.Title, e.Description) {
		return false
	}
	return true
}

func containsCategory(haystack []Category, needle Category) bool {
	for _, c := range haystack {
		if c == needle {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func anyParticipantMatches(wanted, actual []string) bool {
	for _, w := range wanted {
		if containsString(actual, w) {
			return true
		}
	}
	return false
}

func anyKeywordMatches(keywords []string, title, description string) bool {
	haystack := strings.ToLower(title + " " + description)
	for _, kw := range keywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Subscription records one connection's standing interest in events.
type Subscription struct {
	SubscriptionID string
	ConnectionID   string
	Filter         SubscriptionFilter
	CreatedAt      time.Time
	LastEventAt    time.Time
	EventCount     int
}

// Batch is a flushed group of events destined for one subscription,
// wrapped in a political_event envelope by the caller.
type Batch struct {
	BatchID   string           `json:"batch_id"`
	Events    []Event          `json:"events"`
	Timestamp time.Time        `json:"timestamp"`
	Priority  protocol.Priority `json:"priority"`
}

// EventCount reports the number of events carried by the batch.
func (b Batch) EventCount() int { return len(b.Events) }

// Package bridge wires the protocol, statesync, events, profiler, turnsync,
// and transport packages into the single Manager that owns the process's
// political-simulation-bridge lifetime.
package bridge

import (
	"sync"
	"time"

	"politicalsim/bridge/internal/events"
	"politicalsim/bridge/internal/profiler"
	"politicalsim/bridge/internal/turnsync"
)

// ClientInfo summarizes one connected peer for diagnostics.
type ClientInfo struct {
	ConnectionID   string    `json:"connection_id"`
	RemoteIdentity string    `json:"remote_identity"`
	ConnectedAt    time.Time `json:"connected_at"`
}

// stateHolder guards the current game state under a single mutex, separate
// from the Manager's own bookkeeping lock.
type stateHolder struct {
	mu      sync.RWMutex
	current map[string]any
	have    bool
}

func (s *stateHolder) get() (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.have
}

func (s *stateHolder) set(state map[string]any) {
	s.mu.Lock()
	s.current = state
	s.have = true
	s.mu.Unlock()
}

// turnEventToName maps a turnsync.Event to the bridge-level event name
// surfaced to subscribe_to_event-style internal callbacks.
func turnEventToName(evt turnsync.Event) string {
	return evt.Name
}

// alertEvent converts a profiler.Alert into a political-event-shaped
// notification so performance alerts travel the same broadcast path as
// simulation events.
func alertEvent(a profiler.Alert) events.Event {
	return events.Event{
		EventID:     a.ID,
		EventType:   "performance_alert",
		Title:       "performance threshold exceeded",
		Description: a.MetricName,
		Severity:    string(a.Severity),
		Timestamp:   a.TriggeredAt,
		Category:    events.CategorySystem,
		Consequences: map[string]any{
			"metric_name":  a.MetricName,
			"actual_value": a.ActualValue,
			"threshold":    a.Threshold,
		},
	}
}

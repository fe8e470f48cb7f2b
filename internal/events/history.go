package events

import (
	"encoding/json"

	"github.com/golang/snappy"
)

const rawHistoryWindow = 256

// historyEntry is one retained event, either held raw (recent) or
// snappy-compressed (older, to keep the bounded ring cheap in memory).
type historyEntry struct {
	event      Event
	compressed []byte
	isRaw      bool
}

func (e historyEntry) decode() (Event, bool) {
	if e.isRaw {
		return e.event, true
	}
	raw, err := snappy.Decode(nil, e.compressed)
	if err != nil {
		return Event{}, false
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, false
	}
	return ev, true
}

// history is a bounded, FIFO-evicted ring of published events, keeping the
// most recent rawHistoryWindow entries uncompressed and compacting the
// rest with snappy.
type history struct {
	capacity int
	entries  []historyEntry
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = 1
	}
	return &history{capacity: capacity}
}

// Append records ev, evicting the oldest entry if at capacity and
// compacting any entry that falls out of the raw window.
func (h *history) Append(ev Event) {
	h.entries = append(h.entries, historyEntry{event: ev, isRaw: true})
	if len(h.entries) > h.capacity {
		h.entries = h.entries[len(h.entries)-h.capacity:]
	}
	h.compactLocked()
}

func (h *history) compactLocked() {
	cutoff := len(h.entries) - rawHistoryWindow
	for i := 0; i < cutoff; i++ {
		if !h.entries[i].isRaw {
			continue
		}
		raw, err := json.Marshal(h.entries[i].event)
		if err != nil {
			continue
		}
		h.entries[i] = historyEntry{compressed: snappy.Encode(nil, raw)}
	}
}

// Since returns every retained event with Timestamp >= start (and, if end
// is non-zero, Timestamp <= end) matching filter.
func (h *history) Since(start, end int64, filter SubscriptionFilter) []Event {
	var out []Event
	for _, entry := range h.entries {
		ev, ok := entry.decode()
		if !ok {
			continue
		}
		ts := ev.Timestamp.Unix()
		if ts < start {
			continue
		}
		if end > 0 && ts > end {
			continue
		}
		if !filter.Matches(ev) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Len returns the number of retained entries.
func (h *history) Len() int { return len(h.entries) }

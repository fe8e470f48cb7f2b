package events

import "politicalsim/bridge/internal/protocol"

// BatchMessage wraps a flushed batch in a political_event envelope per the
// wire payload shape: {"event_batch": {...}, "is_batch": true}.
func BatchMessage(sender, recipient string, batch Batch) *protocol.Envelope {
	payload := map[string]any{
		"event_batch": map[string]any{
			"batch_id":    batch.BatchID,
			"events":      batch.Events,
			"timestamp":   batch.Timestamp,
			"priority":    batch.Priority,
			"event_count": batch.EventCount(),
		},
		"is_batch": true,
	}
	return protocol.NewEnvelope(protocol.MessagePoliticalEvent, sender, recipient, batch.Priority, payload)
}

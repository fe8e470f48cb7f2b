package turnsync

import (
	"time"

	"politicalsim/bridge/internal/protocol"
)

// TurnStartMessage builds the high-priority envelope announcing a new turn.
func TurnStartMessage(sender, recipient string, st State) *protocol.Envelope {
	var deadline any
	if !st.TimeoutDeadline.IsZero() {
		deadline = st.TimeoutDeadline.UTC().Format(time.RFC3339)
	}
	payload := map[string]any{
		"turn_state": map[string]any{
			"turn_number":            st.TurnNumber,
			"phase":                  string(st.Phase),
			"sync_status":            string(st.Status),
			"political_engine_ready": st.PoliticalEngineReady,
			"game_engine_ready":      st.GameEngineReady,
			"timeout_deadline":       deadline,
		},
		"turn_number":      st.TurnNumber,
		"phase":            string(st.Phase),
		"timeout_deadline": deadline,
	}
	return protocol.NewEnvelope(protocol.MessageTurnStart, sender, recipient, protocol.PriorityHigh, payload)
}

// TurnEndMessage builds the high-priority envelope announcing a turn's completion.
func TurnEndMessage(sender, recipient string, st State) *protocol.Envelope {
	payload := map[string]any{
		"turn_number": st.TurnNumber,
	}
	return protocol.NewEnvelope(protocol.MessageTurnEnd, sender, recipient, protocol.PriorityHigh, payload)
}

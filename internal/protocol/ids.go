package protocol

import (
	"time"

	"github.com/google/uuid"
)

// NewMessageID returns a fresh unique message identifier.
func NewMessageID() string { return uuid.NewString() }

// NewEnvelope builds an envelope with a fresh message id and current
// timestamp, defaulting priority to normal and api_version to current.
func NewEnvelope(msgType MessageType, sender, recipient string, priority Priority, payload map[string]any) *Envelope {
	if priority == "" {
		priority = PriorityNormal
	}
	return &Envelope{
		Header: Header{
			MessageID:   NewMessageID(),
			MessageType: msgType,
			Timestamp:   time.Now().UTC(),
			Sender:      sender,
			Recipient:   recipient,
			Priority:    priority,
			APIVersion:  CurrentAPIVersion,
		},
		Payload: payload,
	}
}

// ReplyEnvelope builds an envelope correlated to a prior message id.
func ReplyEnvelope(msgType MessageType, sender, recipient string, priority Priority, correlationID string, payload map[string]any) *Envelope {
	env := NewEnvelope(msgType, sender, recipient, priority, payload)
	env.Header.CorrelationID = correlationID
	return env
}

// NewErrorEnvelope builds a MessageError envelope from a BridgeError.
func NewErrorEnvelope(sender, recipient string, bridgeErr *BridgeError) *Envelope {
	payload, _ := ToPayload(ErrorPayload{
		ErrorCode:    bridgeErr.Code,
		ErrorMessage: bridgeErr.Message,
		Timestamp:    time.Now().UTC(),
	})
	return ReplyEnvelope(MessageError, sender, recipient, PriorityHigh, bridgeErr.CorrelationID, payload)
}

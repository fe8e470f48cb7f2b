package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MaxFrameBytes is the maximum encoded envelope size accepted by the codec.
const MaxFrameBytes = 1 << 20 // 1 MiB

// Encode serializes an envelope to its UTF-8 JSON wire form. It rejects
// envelopes whose encoded size exceeds MaxFrameBytes.
func Encode(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrInvalidMessageFormat)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessageFormat, err)
	}
	if len(data) > MaxFrameBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	return data, nil
}

// Decode parses a raw frame into an Envelope, validating size, required
// header fields, and API version compatibility. It does not reject unknown
// message types; the router does that.
func Decode(data []byte) (*Envelope, error) {
	if len(data) > MaxFrameBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessageFormat, err)
	}
	if err := validateHeader(&env.Header); err != nil {
		return nil, err
	}
	return &env, nil
}

func validateHeader(h *Header) error {
	switch {
	case h.MessageID == "":
		return fmt.Errorf("%w: message_id", ErrMissingRequiredField)
	case h.MessageType == "":
		return fmt.Errorf("%w: message_type", ErrMissingRequiredField)
	case h.Sender == "":
		return fmt.Errorf("%w: sender", ErrMissingRequiredField)
	case h.Recipient == "":
		return fmt.Errorf("%w: recipient", ErrMissingRequiredField)
	case h.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp", ErrMissingRequiredField)
	}
	if h.Priority == "" {
		h.Priority = PriorityNormal
	}
	if h.APIVersion == "" {
		h.APIVersion = CurrentAPIVersion
	}
	if !compatibleAPIVersion(h.APIVersion) {
		return fmt.Errorf("%w: %s", ErrUnsupportedAPIVersion, h.APIVersion)
	}
	return nil
}

// compatibleAPIVersion accepts any version sharing CurrentAPIVersion's major
// component; only a major mismatch is rejected, per the spec.
func compatibleAPIVersion(version string) bool {
	want := strings.SplitN(CurrentAPIVersion, ".", 2)[0]
	got := strings.SplitN(version, ".", 2)[0]
	if got == "" {
		return false
	}
	if _, err := strconv.Atoi(got); err != nil {
		return false
	}
	return got == want
}

// PayloadAs decodes an envelope's payload map into a typed struct via a
// marshal/unmarshal round trip; callers use this to recover the concrete
// payload shape for their message_type.
func PayloadAs[T any](env *Envelope) (T, error) {
	var out T
	data, err := json.Marshal(env.Payload)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidMessageFormat, err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidMessageFormat, err)
	}
	return out, nil
}

// ToPayload converts a typed payload struct into the map[string]any shape
// Envelope.Payload expects.
func ToPayload(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

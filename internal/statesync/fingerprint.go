package statesync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint computes the checksum of a state: SHA-256 over its canonical
// JSON encoding. Go's encoding/json already sorts map[string]any keys
// lexicographically and emits compact (no-whitespace) separators, which is
// exactly the canonical form the spec requires.
func Fingerprint(state map[string]any) (string, error) {
	canonical, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

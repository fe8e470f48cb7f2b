package statesync

import "errors"

// ErrChecksumMismatch is returned by Apply when the base or resulting state
// fingerprint does not match the incremental update's declared checksum.
var ErrChecksumMismatch = errors.New("checksum mismatch")

package statesync

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"politicalsim/bridge/internal/config"
)

// historyEntry is one retained past snapshot, zstd-compressed in memory to
// keep the bounded history ring cheap to hold.
type historyEntry struct {
	checksum   string
	compressed []byte
}

// Serializer snapshots, diffs, and patches GameState-shaped maps, retaining
// a bounded, FIFO-evicted history of past snapshots for debugging and
// incremental-diff base lookups.
type Serializer struct {
	cfg config.StateSyncConfig

	mu      sync.Mutex
	history []historyEntry

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New constructs a Serializer from the state-sync tuning options.
func New(cfg config.StateSyncConfig) (*Serializer, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Serializer{cfg: cfg, encoder: encoder, decoder: decoder}, nil
}

// Snapshot captures state with its fingerprint and records it in history.
func (s *Serializer) Snapshot(state map[string]any) (*Snapshot, error) {
	checksum, err := Fingerprint(state)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		Metadata: SnapshotMetadata{
			Checksum:    checksum,
			Compression: s.cfg.CompressState,
			Timestamp:   time.Now().UTC(),
		},
		State: state,
	}
	s.recordHistory(checksum, state)
	return snap, nil
}

// EncodeJSON serializes a snapshot to its wire JSON form, optionally gzip
// compressing and base64-encoding the payload per Snapshot.Metadata.Compression.
func (s *Serializer) EncodeJSON(snap *Snapshot) (string, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	if !snap.Metadata.Compression {
		return string(raw), nil
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeJSON parses a snapshot's wire JSON form, detecting and reversing
// gzip+base64 compression via the explicit compressed flag.
func (s *Serializer) DecodeJSON(data string, compressed bool) (*Snapshot, error) {
	raw := []byte(data)
	if compressed {
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("decode base64: %w", err)
		}
		gz, err := gzip.NewReader(bytes.NewReader(decoded))
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(gz); err != nil {
			return nil, fmt.Errorf("read gzip stream: %w", err)
		}
		raw = buf.Bytes()
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Diff returns nil, nil when old and new are structurally equal, otherwise
// a fully fingerprinted IncrementalUpdate.
func (s *Serializer) Diff(old, new map[string]any) (*IncrementalUpdate, error) {
	changes := Diff(old, new)
	if len(changes) == 0 {
		return nil, nil
	}
	baseChecksum, err := Fingerprint(old)
	if err != nil {
		return nil, err
	}
	newChecksum, err := Fingerprint(new)
	if err != nil {
		return nil, err
	}
	return &IncrementalUpdate{
		BaseChecksum: baseChecksum,
		Changes:      changes,
		Metadata: UpdateMetadata{
			Checksum:    newChecksum,
			BaseVersion: baseChecksum,
			Timestamp:   time.Now().UTC(),
		},
	}, nil
}

// ShouldSendIncremental reports whether an incremental update's encoded size
// is small enough, relative to a full snapshot, to prefer sending it over
// the full snapshot.
func (s *Serializer) ShouldSendIncremental(update *IncrementalUpdate, fullSnapshotSize int) bool {
	if update == nil || fullSnapshotSize == 0 {
		return false
	}
	encoded, err := json.Marshal(update)
	if err != nil {
		return false
	}
	ratio := float64(len(encoded)) / float64(fullSnapshotSize)
	return ratio < s.cfg.IncrementalSizeThresholdRatio
}

// ApplyUpdate reconstructs state from base and update, verifying both
// checksums.
func (s *Serializer) ApplyUpdate(base map[string]any, update *IncrementalUpdate) (map[string]any, error) {
	return Apply(base, update)
}

// Validate checks state against the bridge's structural invariants.
func (s *Serializer) Validate(state map[string]any) []error {
	return Validate(state)
}

func (s *Serializer) recordHistory(checksum string, state map[string]any) {
	if s.cfg.MaxHistory <= 0 {
		return
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, historyEntry{
		checksum:   checksum,
		compressed: s.encoder.EncodeAll(raw, nil),
	})
	if len(s.history) > s.cfg.MaxHistory {
		s.history = s.history[len(s.history)-s.cfg.MaxHistory:]
	}
}

// HistoryLen returns the number of snapshots currently retained.
func (s *Serializer) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// LookupHistory returns the state recorded under checksum, if still retained.
func (s *Serializer) LookupHistory(checksum string) (map[string]any, bool) {
	s.mu.Lock()
	var compressed []byte
	for _, entry := range s.history {
		if entry.checksum == checksum {
			compressed = entry.compressed
			break
		}
	}
	s.mu.Unlock()
	if compressed == nil {
		return nil, false
	}
	raw, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false
	}
	var state map[string]any
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false
	}
	return state, true
}

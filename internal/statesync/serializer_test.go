package statesync

import (
	"errors"
	"testing"

	"politicalsim/bridge/internal/config"
)

func advisor(id string, loyalty float64) map[string]any {
	return map[string]any{"advisor_id": id, "name": "A", "loyalty": loyalty}
}

func TestDiffRoundTrip(t *testing.T) {
	t.Parallel()

	old := map[string]any{"advisors": []any{advisor("a1", 0.5)}}
	newState := map[string]any{"advisors": []any{advisor("a1", 0.7)}}

	changes := Diff(old, newState)
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d: %+v", len(changes), changes)
	}
	if changes[0].Path != "advisors.0.loyalty" {
		t.Fatalf("unexpected path: %s", changes[0].Path)
	}
	if changes[0].ChangeType != ChangeModified {
		t.Fatalf("unexpected change type: %s", changes[0].ChangeType)
	}
}

func TestDiffIdenticalReturnsNone(t *testing.T) {
	t.Parallel()

	cfg := config.StateSyncConfig{MaxHistory: 10, IncrementalSizeThresholdRatio: 0.5}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	state := map[string]any{"advisors": []any{advisor("a1", 0.5)}}

	update, err := s.Diff(state, state)
	if err != nil {
		t.Fatalf("Diff returned error: %v", err)
	}
	if update != nil {
		t.Fatalf("expected nil update for identical states, got %+v", update)
	}
}

func TestApplyRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := config.StateSyncConfig{MaxHistory: 10, IncrementalSizeThresholdRatio: 0.5}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	old := map[string]any{"advisors": []any{advisor("a1", 0.5)}}
	newState := map[string]any{"advisors": []any{advisor("a1", 0.7)}}

	update, err := s.Diff(old, newState)
	if err != nil {
		t.Fatalf("Diff returned error: %v", err)
	}
	if update == nil {
		t.Fatalf("expected a non-nil update")
	}

	applied, err := s.ApplyUpdate(old, update)
	if err != nil {
		t.Fatalf("ApplyUpdate returned error: %v", err)
	}

	appliedChecksum, err := Fingerprint(applied)
	if err != nil {
		t.Fatalf("Fingerprint returned error: %v", err)
	}
	wantChecksum, err := Fingerprint(newState)
	if err != nil {
		t.Fatalf("Fingerprint returned error: %v", err)
	}
	if appliedChecksum != wantChecksum {
		t.Fatalf("applied state checksum mismatch: got %s want %s", appliedChecksum, wantChecksum)
	}
	if appliedChecksum != update.Metadata.Checksum {
		t.Fatalf("applied checksum %s does not match update metadata checksum %s", appliedChecksum, update.Metadata.Checksum)
	}
}

func TestApplyRejectsBaseChecksumMismatch(t *testing.T) {
	t.Parallel()

	cfg := config.StateSyncConfig{MaxHistory: 10, IncrementalSizeThresholdRatio: 0.5}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	old := map[string]any{"advisors": []any{advisor("a1", 0.5)}}
	newState := map[string]any{"advisors": []any{advisor("a1", 0.7)}}
	update, _ := s.Diff(old, newState)

	tampered := map[string]any{"advisors": []any{advisor("a1", 0.9)}}
	if _, err := s.ApplyUpdate(tampered, update); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestSnapshotEncodeDecodeCompressed(t *testing.T) {
	t.Parallel()

	cfg := config.StateSyncConfig{MaxHistory: 10, CompressState: true, IncrementalSizeThresholdRatio: 0.5}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	state := map[string]any{"advisors": []any{advisor("a1", 0.5)}}
	snap, err := s.Snapshot(state)
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}

	encoded, err := s.EncodeJSON(snap)
	if err != nil {
		t.Fatalf("EncodeJSON returned error: %v", err)
	}

	decoded, err := s.DecodeJSON(encoded, true)
	if err != nil {
		t.Fatalf("DecodeJSON returned error: %v", err)
	}
	if decoded.Metadata.Checksum != snap.Metadata.Checksum {
		t.Fatalf("checksum mismatch after round trip: got %s want %s", decoded.Metadata.Checksum, snap.Metadata.Checksum)
	}
}

func TestHistoryFIFOEviction(t *testing.T) {
	t.Parallel()

	cfg := config.StateSyncConfig{MaxHistory: 2, IncrementalSizeThresholdRatio: 0.5}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	for i := 0; i < 3; i++ {
		state := map[string]any{"advisors": []any{advisor("a1", float64(i) / 10)}}
		if _, err := s.Snapshot(state); err != nil {
			t.Fatalf("Snapshot returned error: %v", err)
		}
	}
	if got := s.HistoryLen(); got != 2 {
		t.Fatalf("expected history capped at 2, got %d", got)
	}
}

func TestValidateBoundsViolation(t *testing.T) {
	t.Parallel()

	state := map[string]any{
		"advisors": []any{advisor("a1", 1.5)},
		"civilizations": []any{
			map[string]any{"civilization_id": "c1", "political_stability": -0.1},
		},
	}
	errs := Validate(state)
	if len(errs) != 2 {
		t.Fatalf("expected 2 validation errors, got %d: %v", len(errs), errs)
	}
}

func TestValidateDuplicateIDs(t *testing.T) {
	t.Parallel()

	state := map[string]any{
		"advisors": []any{advisor("a1", 0.5), advisor("a1", 0.6)},
	}
	errs := Validate(state)
	if len(errs) != 1 {
		t.Fatalf("expected 1 duplicate id error, got %d: %v", len(errs), errs)
	}
}

package turnsync

import (
	"context"
	"testing"
	"time"

	"politicalsim/bridge/internal/config"
)

func newTestSynchronizer() *Synchronizer {
	cfg := config.TurnSyncConfig{TurnTimeout: 300 * time.Second, PhaseTimeout: 60 * time.Second}
	return New(cfg, nil)
}

func TestInitialStateIsPlanningWaitingForGameEngine(t *testing.T) {
	t.Parallel()

	s := newTestSynchronizer()
	st := s.State()
	if st.TurnNumber != 1 || st.Phase != PhasePlanning {
		t.Fatalf("unexpected initial state: %+v", st)
	}
	if !st.PoliticalEngineReady {
		t.Fatalf("expected political engine to start ready")
	}
	if st.Status != StatusWaitingForGameEngine {
		t.Fatalf("expected waiting_for_game_engine, got %s", st.Status)
	}
}

func TestReadyFlagsDriveSyncStatus(t *testing.T) {
	t.Parallel()

	s := newTestSynchronizer()
	var events []Event
	s.OnEvent(func(e Event) { events = append(events, e) })

	s.SetPoliticalEngineReady(true)
	if s.State().Status != StatusWaitingForGameEngine {
		t.Fatalf("expected waiting_for_game_engine, got %s", s.State().Status)
	}

	s.SetGameEngineReady(true)
	if s.State().Status != StatusSynchronized {
		t.Fatalf("expected synchronized, got %s", s.State().Status)
	}

	var sawSyncChange bool
	for _, e := range events {
		if e.Name == EventSyncStatusChanged {
			sawSyncChange = true
		}
	}
	if !sawSyncChange {
		t.Fatalf("expected at least one sync_status_changed event, got %+v", events)
	}
}

func TestAdvancePhaseRequiresSynchronizedUnlessForced(t *testing.T) {
	t.Parallel()

	s := newTestSynchronizer()
	if err := s.AdvancePhase(false); err != ErrNotSynchronized {
		t.Fatalf("expected ErrNotSynchronized, got %v", err)
	}
	if err := s.AdvancePhase(true); err != nil {
		t.Fatalf("forced advance should succeed, got %v", err)
	}
	if s.State().Phase != PhaseExecution {
		t.Fatalf("expected execution phase after advance, got %s", s.State().Phase)
	}
	if s.State().PoliticalEngineReady || s.State().GameEngineReady {
		t.Fatalf("expected readiness flags reset after phase advance")
	}
}

func TestAdvanceTurnResetsToPlanning(t *testing.T) {
	t.Parallel()

	s := newTestSynchronizer()
	s.SetPoliticalEngineReady(true)
	s.SetGameEngineReady(true)

	if err := s.AdvanceTurn(false); err != nil {
		t.Fatalf("expected synchronized advance to succeed, got %v", err)
	}
	st := s.State()
	if st.TurnNumber != 2 || st.Phase != PhasePlanning {
		t.Fatalf("unexpected state after turn advance: %+v", st)
	}
}

func TestRollbackRestoresPriorState(t *testing.T) {
	t.Parallel()

	s := newTestSynchronizer()
	s.SetPoliticalEngineReady(true)
	s.SetGameEngineReady(true)
	s.AdvancePhase(false)

	if err := s.Rollback(1); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if s.State().Phase != PhasePlanning {
		t.Fatalf("expected rollback to restore planning phase, got %s", s.State().Phase)
	}
}

func TestRollbackUnknownTurnFails(t *testing.T) {
	t.Parallel()

	s := newTestSynchronizer()
	if err := s.Rollback(99); err != ErrUnknownTurn {
		t.Fatalf("expected ErrUnknownTurn, got %v", err)
	}
}

func TestDeadlineMonitorForcesPhaseAdvance(t *testing.T) {
	t.Parallel()

	cfg := config.TurnSyncConfig{TurnTimeout: 50 * time.Millisecond, PhaseTimeout: 50 * time.Millisecond}
	s := New(cfg, nil)

	events := make(chan Event, 8)
	s.OnEvent(func(e Event) { events <- e })

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Name == EventTimeoutOccurred {
				if e.State.Phase != PhaseExecution || e.State.TurnNumber != 1 {
					t.Fatalf("expected forced advance to turn 1 execution, got turn %d phase %s", e.State.TurnNumber, e.State.Phase)
				}
				return
			}
		case <-deadline:
			t.Fatalf("expected a timeout_occurred event within 3s")
		}
	}
}

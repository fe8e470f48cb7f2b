package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"politicalsim/bridge/internal/config"
	"politicalsim/bridge/internal/events"
	"politicalsim/bridge/internal/logging"
	"politicalsim/bridge/internal/protocol"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.Config{
		MaxConnections: 10,
		TurnSync: config.TurnSyncConfig{
			TurnTimeout:  300 * time.Second,
			PhaseTimeout: 60 * time.Second,
		},
		Events: config.EventsConfig{
			BatchSize:       10,
			BatchTimeout:    5 * time.Second,
			MaxEventHistory: 256,
		},
		Profiler: config.ProfilerConfig{
			MeasurementInterval: time.Second,
			HistorySize:         10,
			AlertThresholds:     config.DefaultAlertThresholds(),
		},
		StateSync: config.StateSyncConfig{
			MaxHistory:                    10,
			IncrementalSizeThresholdRatio: 0.5,
		},
	}
	m, err := New(cfg, logging.NewTestLogger(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		m.Stop()
	})
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return m
}

func validState(civID string) map[string]any {
	return map[string]any{
		"civilizations": []any{
			map[string]any{
				"civilization_id":     civID,
				"political_stability": 0.5,
				"economic_strength":   0.5,
				"military_power":      0.5,
			},
		},
		"advisors":   []any{},
		"turn_state": map[string]any{"turn_number": 1.0},
	}
}

func TestUpdateStateRejectsInvalidState(t *testing.T) {
	m := newTestManager(t)

	bad := map[string]any{
		"civilizations": []any{
			map[string]any{"civilization_id": "rome", "political_stability": 1.8},
		},
	}
	if err := m.UpdateState(bad); err == nil {
		t.Fatal("expected validation error for out-of-bounds political_stability")
	}
}

func TestUpdateStateAcceptsValidState(t *testing.T) {
	m := newTestManager(t)

	if err := m.UpdateState(validState("rome")); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	if _, ok := m.state.get(); !ok {
		t.Fatal("expected state to be retained after update")
	}
}

func TestAdvanceTurnRequiresSynchronization(t *testing.T) {
	m := newTestManager(t)

	if err := m.AdvanceTurn(); err == nil {
		t.Fatal("expected AdvanceTurn to fail before both engines are ready")
	}

	m.SetPoliticalEngineReady(true)
	m.turns.SetGameEngineReady(true)

	if err := m.AdvanceTurn(); err != nil {
		t.Fatalf("AdvanceTurn: %v", err)
	}
	if got := m.turns.State().TurnNumber; got != 2 {
		t.Fatalf("expected turn 2, got %d", got)
	}
}

func TestSubscribeAndUnsubscribeClient(t *testing.T) {
	m := newTestManager(t)

	subID := m.SubscribeClient("conn-1", events.SubscriptionFilter{Categories: []events.Category{events.CategoryMilitary}})
	if subID == "" {
		t.Fatal("expected non-empty subscription id")
	}
	m.UnsubscribeClient(subID)
	if _, ok := m.broadcaster.SubscriptionInfo(subID); ok {
		t.Fatal("expected subscription to be removed")
	}
}

func TestBroadcastEventReachesHistory(t *testing.T) {
	m := newTestManager(t)

	m.BroadcastEvent(events.Event{
		EventID:   "evt-1",
		EventType: "crisis_declared",
		Title:     "Border skirmish",
		Severity:  "major",
	}, protocol.PriorityHigh)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.broadcaster.HistoryLen() > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected broadcast event to land in history")
}

func TestOnEventReceivesPlayerDecision(t *testing.T) {
	m := newTestManager(t)

	got := make(chan map[string]any, 1)
	m.OnEvent("player_decision", func(data map[string]any) { got <- data })

	if err := m.handlePlayerDecision(nil, protocol.NewEnvelope(protocol.MessagePlayerDecision, "political-engine", "bridge", protocol.PriorityNormal, map[string]any{"decision": "raise_taxes"})); err != nil {
		t.Fatalf("handlePlayerDecision: %v", err)
	}

	select {
	case data := <-got:
		if data["decision"] != "raise_taxes" {
			t.Fatalf("unexpected payload: %v", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for player_decision callback")
	}
}

func TestDiagnosticsReportsRunningState(t *testing.T) {
	m := newTestManager(t)

	diag := m.Diagnostics()
	if diag["running"] != true {
		t.Fatalf("expected running=true, got %v", diag["running"])
	}
}

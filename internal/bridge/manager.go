package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"politicalsim/bridge/internal/config"
	"politicalsim/bridge/internal/events"
	"politicalsim/bridge/internal/logging"
	"politicalsim/bridge/internal/profiler"
	"politicalsim/bridge/internal/protocol"
	"politicalsim/bridge/internal/statesync"
	"politicalsim/bridge/internal/transport"
	"politicalsim/bridge/internal/turnsync"
)

// Manager is the bridge's composition root: it owns the protocol codec's
// users (serializer, broadcaster, synchronizer, profiler, transport
// manager) for the process lifetime and wires their cross-component event
// flows together.
type Manager struct {
	cfg    config.Config
	logger *logging.Logger

	transport   *transport.Manager
	broadcaster *events.Broadcaster
	turns       *turnsync.Synchronizer
	profile     *profiler.Profiler
	serializer  *statesync.Serializer

	state stateHolder

	mu         sync.Mutex
	running    bool
	startedAt  time.Time
	startupErr error

	callbacksMu sync.RWMutex
	callbacks   map[string][]func(map[string]any)

	performanceMonitoring bool
}

// Option customizes a Manager at construction time, following the
// functional-options shape the transport layer's teacher uses for its
// broker construction.
type Option func(*Manager)

// WithoutPerformanceMonitoring disables the profiler's sampling loop and
// alert routing, mirroring the bridge's optional performance-monitoring
// toggle.
func WithoutPerformanceMonitoring() Option {
	return func(m *Manager) { m.performanceMonitoring = false }
}

// New constructs a Manager and wires inbound transport handlers and
// cross-component event subscriptions. It does not start any background
// loop; call Start for that.
func New(cfg config.Config, logger *logging.Logger, reg prometheus.Registerer, opts ...Option) (*Manager, error) {
	serializer, err := statesync.New(cfg.StateSync)
	if err != nil {
		return nil, fmt.Errorf("bridge: construct serializer: %w", err)
	}

	m := &Manager{
		cfg:                   cfg,
		logger:                logger,
		transport:             transport.NewManager(cfg, logger),
		broadcaster:           events.New(cfg.Events, logger),
		turns:                 turnsync.New(cfg.TurnSync, logger),
		profile:               profiler.New(cfg.Profiler, logger, reg),
		serializer:            serializer,
		callbacks:             make(map[string][]func(map[string]any)),
		performanceMonitoring: true,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.registerTransportHandlers()
	m.turns.OnEvent(m.handleTurnEvent)
	if m.performanceMonitoring {
		m.profile.OnAlert(m.handlePerformanceAlert)
	}
	m.broadcaster.RegisterBroadcastCallback(m.deliverBatch)
	m.transport.OnConnect(func(c *transport.Connection) {
		m.profile.SetConnectionCount(m.transport.ConnectionCount())
	})
	m.transport.OnDisconnect(func(connectionID string) {
		m.broadcaster.UnsubscribeConnection(connectionID)
		m.profile.SetConnectionCount(m.transport.ConnectionCount())
	})

	return m, nil
}

// registerTransportHandlers binds the inbound message types the bridge
// understands to their handling methods.
func (m *Manager) registerTransportHandlers() {
	m.transport.RegisterHandler(protocol.MessagePlayerDecision, m.handlePlayerDecision)
	m.transport.RegisterHandler(protocol.MessageAdvisorAppoint, m.handleAdvisorAppoint)
	m.transport.RegisterHandler(protocol.MessageAdvisorDismissal, m.handleAdvisorDismissal)
	m.transport.RegisterHandler(protocol.MessageTurnAdvance, m.handleTurnAdvanceRequest)
	m.transport.RegisterHandler(protocol.MessageStateRequest, m.handleStateRequest)
}

// Start brings up every owned component. Components are started in
// dependency order: profiler and broadcaster first (so early connections
// have somewhere to publish), then the turn synchronizer. Start does not
// start the transport: it accepts connections once main mounts its upgrade
// handler.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.logger.Info("starting bridge manager")

	if m.performanceMonitoring {
		m.profile.Start(ctx)
	}
	m.broadcaster.Start(ctx)
	m.turns.Start(ctx)

	m.mu.Lock()
	m.running = true
	m.startedAt = time.Now()
	m.mu.Unlock()

	m.logger.Info("bridge manager started")
	return nil
}

// Stop halts every owned component in the reverse of start order.
func (m *Manager) Stop() {
	m.logger.Info("stopping bridge manager")

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()

	m.turns.Stop()
	m.broadcaster.Stop()
	if m.performanceMonitoring {
		m.profile.Stop()
	}

	m.logger.Info("bridge manager stopped")
}

// Transport exposes the owned transport.Manager so main can mount its
// upgrade handler and use it as an httpapi.ReadinessProvider.
func (m *Manager) Transport() *transport.Manager { return m.transport }

// UpdateState records a new authoritative game state, computing an
// incremental update against the prior state when one exists and falling
// back to a full snapshot (also used when the incremental payload would not
// be meaningfully smaller, per the serializer's own size heuristic).
func (m *Manager) UpdateState(newState map[string]any) error {
	m.profile.StartOp("state_update")
	defer func() {
		if d, ok := m.profile.EndOp("state_update", "state_update"); ok && d > time.Second {
			m.logger.Warn("slow state update", logging.Field{Key: "duration_ms", Value: d.Milliseconds()})
		}
	}()

	if errs := m.serializer.Validate(newState); len(errs) > 0 {
		return protocol.NewBridgeError(protocol.ErrCodeStateValidationFailed, fmt.Sprintf("%v", errs), "")
	}

	prior, hadPrior := m.state.get()
	m.state.set(newState)

	if !hadPrior {
		return m.broadcastFullState(newState)
	}

	update, err := m.serializer.Diff(prior, newState)
	if err != nil {
		return fmt.Errorf("bridge: diff state: %w", err)
	}

	snap, err := m.serializer.Snapshot(newState)
	if err != nil {
		return fmt.Errorf("bridge: snapshot state: %w", err)
	}
	if m.serializer.ShouldSendIncremental(update, estimateJSONSize(snap)) {
		return m.broadcastIncrementalUpdate(update)
	}
	return m.broadcastFullState(newState)
}

func (m *Manager) broadcastFullState(state map[string]any) error {
	payload := map[string]any{"state": state}
	env := protocol.NewEnvelope(protocol.MessageFullStateSync, "bridge", "", protocol.PriorityNormal, payload)
	m.transport.Broadcast(env)
	m.logger.Debug("broadcast full state sync")
	return nil
}

func (m *Manager) broadcastIncrementalUpdate(update *statesync.IncrementalUpdate) error {
	payload, err := protocol.ToPayload(update)
	if err != nil {
		return fmt.Errorf("bridge: encode incremental update: %w", err)
	}
	env := protocol.NewEnvelope(protocol.MessageIncrementalUpdate, "bridge", "", protocol.PriorityNormal, payload)
	m.transport.Broadcast(env)
	m.logger.Debug("broadcast incremental state update")
	return nil
}

func estimateJSONSize(snap *statesync.Snapshot) int {
	size := 0
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			for k, vv := range t {
				size += len(k)
				walk(vv)
			}
		case []any:
			for _, vv := range t {
				walk(vv)
			}
		case string:
			size += len(t)
		default:
			size += 8
		}
	}
	walk(snap.State)
	return size
}

// BroadcastEvent publishes a political event through the broadcaster.
func (m *Manager) BroadcastEvent(event events.Event, priority protocol.Priority) {
	m.broadcaster.Publish(event, priority)
	m.logger.Debug("broadcast political event", logging.Field{Key: "event_id", Value: event.EventID})
}

// deliverBatch is the broadcaster's BroadcastFunc: it routes a flushed batch
// to its owning connection, or to every connection when the batch has no
// single owner (used by tests and synthetic replay pushes).
func (m *Manager) deliverBatch(connectionID string, batch events.Batch) {
	env := events.BatchMessage("bridge", connectionID, batch)
	if connectionID != "" {
		m.transport.Send(connectionID, env)
		return
	}
	m.transport.Broadcast(env)
}

// StartTurn rolls the turn synchronizer back to turnNumber when that turn
// differs from the current one and has a retained rollback snapshot (the
// turn number is left unchanged otherwise), resets both engines' readiness
// flags, and announces the resulting turn.
func (m *Manager) StartTurn(turnNumber int) {
	m.profile.StartTurn(turnNumber)

	st := m.turns.State()
	if turnNumber != st.TurnNumber {
		_ = m.turns.Rollback(turnNumber)
	}
	m.turns.SetPoliticalEngineReady(false)
	m.turns.SetGameEngineReady(false)

	msg := turnsync.TurnStartMessage("bridge", "", m.turns.State())
	m.transport.Broadcast(msg)
	m.logger.Info("started turn", logging.Field{Key: "turn_number", Value: turnNumber})
}

// EndCurrentTurn ends performance profiling for the current turn and
// announces its completion.
func (m *Manager) EndCurrentTurn() {
	st := m.turns.State()
	if profile, ok := m.profile.EndTurn(st.TurnNumber); ok {
		m.logger.Debug("turn profile complete",
			logging.Field{Key: "turn_number", Value: profile.TurnNumber})
	}
	msg := turnsync.TurnEndMessage("bridge", "", st)
	m.transport.Broadcast(msg)
	m.logger.Info("ended turn", logging.Field{Key: "turn_number", Value: st.TurnNumber})
}

// SetPoliticalEngineReady updates the political engine's turn readiness.
func (m *Manager) SetPoliticalEngineReady(ready bool) {
	m.turns.SetPoliticalEngineReady(ready)
}

// AdvanceTurn attempts to move to the next turn, starting it if successful.
func (m *Manager) AdvanceTurn() error {
	if err := m.turns.AdvanceTurn(false); err != nil {
		return err
	}
	m.StartTurn(m.turns.State().TurnNumber)
	return nil
}

// SubscribeClient registers a connection's interest in political events.
func (m *Manager) SubscribeClient(connectionID string, filter events.SubscriptionFilter) string {
	return m.broadcaster.Subscribe(connectionID, filter)
}

// UnsubscribeClient removes a standing event subscription.
func (m *Manager) UnsubscribeClient(subscriptionID string) {
	m.broadcaster.Unsubscribe(subscriptionID)
}

// OnEvent registers an internal observer for a named bridge-level event
// (e.g. "player_decision", "turn_advanced", "performance_alert"). Handlers
// run synchronously on the goroutine that triggered the event and must not
// block.
func (m *Manager) OnEvent(name string, fn func(data map[string]any)) {
	m.callbacksMu.Lock()
	defer m.callbacksMu.Unlock()
	m.callbacks[name] = append(m.callbacks[name], fn)
}

func (m *Manager) emit(name string, data map[string]any) {
	m.callbacksMu.RLock()
	handlers := append([]func(map[string]any){}, m.callbacks[name]...)
	m.callbacksMu.RUnlock()
	for _, h := range handlers {
		h(data)
	}
}

// handleTurnEvent relays turn synchronizer transitions as bridge-level
// events and, on a timeout-forced advance, logs at warning level.
func (m *Manager) handleTurnEvent(evt turnsync.Event) {
	data := map[string]any{
		"turn_number": evt.State.TurnNumber,
		"phase":       string(evt.State.Phase),
		"forced":      evt.Forced,
	}
	if evt.Name == turnsync.EventTimeoutOccurred {
		m.logger.Warn("turn timeout", logging.Field{Key: "turn_number", Value: evt.State.TurnNumber})
	}
	m.emit(turnEventToName(evt), data)
}

// handlePerformanceAlert routes a profiler alert into the political event
// stream so subscribed clients see degraded performance the same way they
// see simulation events.
func (m *Manager) handlePerformanceAlert(a profiler.Alert) {
	m.logger.Warn("performance alert",
		logging.Field{Key: "metric", Value: a.MetricName},
		logging.Field{Key: "severity", Value: string(a.Severity)})
	m.broadcaster.Publish(alertEvent(a), protocol.PriorityHigh)
	m.emit("performance_alert", map[string]any{"alert": a})
}

// GetClientInfo summarizes currently connected peers and active
// subscriptions.
func (m *Manager) GetClientInfo() map[string]any {
	return map[string]any{
		"connected_clients":    m.transport.ConnectionCount(),
		"active_subscriptions": m.broadcaster.SubscriptionCount(),
	}
}

// Diagnostics satisfies httpapi.DiagnosticsProvider, aggregating status from
// every owned component.
func (m *Manager) Diagnostics() map[string]any {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	active, pending := m.transport.SnapshotConnectionCounts()
	st := m.turns.State()

	return map[string]any{
		"running": running,
		"bridge_manager": map[string]any{
			"address":                       m.cfg.Address,
			"max_connections":               m.cfg.MaxConnections,
			"performance_monitoring_enabled": m.performanceMonitoring,
		},
		"transport": map[string]any{
			"active_connections":  active,
			"pending_connections": pending,
		},
		"turn_synchronizer": map[string]any{
			"turn_number": st.TurnNumber,
			"phase":       st.Phase,
			"sync_status": st.Status,
		},
		"event_broadcaster": map[string]any{
			"history_len":          m.broadcaster.HistoryLen(),
			"active_subscriptions": m.broadcaster.SubscriptionCount(),
		},
		"performance": map[string]any{
			"active_alerts": m.profile.ActiveAlerts(),
		},
	}
}

// SnapshotConnectionCounts satisfies httpapi.ReadinessProvider.
func (m *Manager) SnapshotConnectionCounts() (active, pending int) {
	return m.transport.SnapshotConnectionCounts()
}

// StartupError satisfies httpapi.ReadinessProvider.
func (m *Manager) StartupError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startupErr
}

// Uptime satisfies httpapi.ReadinessProvider.
func (m *Manager) Uptime() time.Duration {
	m.mu.Lock()
	started := m.startedAt
	m.mu.Unlock()
	if started.IsZero() {
		return 0
	}
	return time.Since(started)
}

// Package profiler samples system resource usage and tracks turn, message,
// and serialization timings, raising threshold alerts when a metric runs hot.
package profiler

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"politicalsim/bridge/internal/config"
	"politicalsim/bridge/internal/logging"
)

// AlertHandler is invoked whenever a metric crosses or clears its threshold.
type AlertHandler func(Alert)

// Profiler samples system metrics on a fixed interval and tracks turn and
// operation timings, raising alerts when any tracked metric exceeds its
// configured threshold.
type Profiler struct {
	cfg     config.ProfilerConfig
	logger  *logging.Logger
	metrics *promMetrics
	system  *systemSampler
	ops     *opTimers
	alerts  *alertTracker

	mu           sync.Mutex
	rings        map[string]*ring
	turns        map[int]*TurnProfile
	connections  int
	handlersMu   sync.RWMutex
	handlers     []AlertHandler

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Profiler. reg may be nil, in which case
// prometheus.DefaultRegisterer is used.
func New(cfg config.ProfilerConfig, logger *logging.Logger, reg prometheus.Registerer) *Profiler {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if cfg.AlertThresholds == nil {
		cfg.AlertThresholds = config.DefaultAlertThresholds()
	}
	return &Profiler{
		cfg:     cfg,
		logger:  logger,
		metrics: newPromMetrics(reg),
		system:  newSystemSampler(),
		ops:     newOpTimers(100),
		alerts:  newAlertTracker(),
		rings:   make(map[string]*ring),
		turns:   make(map[int]*TurnProfile),
	}
}

// OnAlert registers a callback invoked whenever an alert is triggered or cleared.
func (p *Profiler) OnAlert(h AlertHandler) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Start begins the periodic system-metric sampling loop. Stop via ctx cancellation
// or by calling Stop.
func (p *Profiler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.runLoop(ctx)
}

// Stop halts the sampling loop and waits for it to exit.
func (p *Profiler) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (p *Profiler) runLoop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.MeasurementInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sampleSystem()
		}
	}
}

func (p *Profiler) sampleSystem() {
	p.system.sample()
	now := time.Now()
	cpuPct := p.system.cpuUsagePercent()
	memMB := p.system.memoryUsageMB()

	p.metrics.cpuUsage.Set(cpuPct)
	p.metrics.memoryUsageMB.Set(memMB)

	p.recordMetric("cpu_usage_percent", cpuPct, now)
	p.recordMetric("memory_usage_mb", memMB, now)
}

// SetConnectionCount updates the live WebSocket connection gauge and checks
// it against the websocket_connection_count threshold.
func (p *Profiler) SetConnectionCount(n int) {
	p.mu.Lock()
	p.connections = n
	p.mu.Unlock()
	p.metrics.websocketConns.Set(float64(n))
	p.recordMetric("websocket_connection_count", float64(n), time.Now())
}

// RecordMessageLatency logs a message dispatch latency sample.
func (p *Profiler) RecordMessageLatency(d time.Duration) {
	p.metrics.messageLatency.Observe(d.Seconds())
	p.recordMetric("message_latency_ms", float64(d.Milliseconds()), time.Now())
}

// RecordEventProcessingDelay logs the delay between an event's publication and broadcast.
func (p *Profiler) RecordEventProcessingDelay(d time.Duration) {
	p.metrics.eventProcessDelay.Observe(d.Seconds())
	p.recordMetric("event_processing_delay_ms", float64(d.Milliseconds()), time.Now())
}

// RecordStateSerializationTime logs time spent producing a snapshot or diff.
func (p *Profiler) RecordStateSerializationTime(d time.Duration) {
	p.metrics.stateSerializeTime.Observe(d.Seconds())
	p.recordMetric("state_serialization_time_ms", float64(d.Milliseconds()), time.Now())
}

// StartTurn begins tracking a new turn's phase durations.
func (p *Profiler) StartTurn(turnNumber int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.turns[turnNumber] = &TurnProfile{
		TurnNumber:     turnNumber,
		StartedAt:      time.Now(),
		PhaseDurations: make(map[string]time.Duration),
		phaseStarted:   make(map[string]time.Time),
	}
}

// StartPhase marks the beginning of a named phase within a tracked turn.
func (p *Profiler) StartPhase(turnNumber int, phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.turns[turnNumber]
	if !ok {
		return
	}
	t.phaseStarted[phase] = time.Now()
}

// EndPhase records the duration of a named phase started with StartPhase.
func (p *Profiler) EndPhase(turnNumber int, phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.turns[turnNumber]
	if !ok {
		return
	}
	start, ok := t.phaseStarted[phase]
	if !ok {
		return
	}
	t.PhaseDurations[phase] = time.Since(start)
}

// EndTurn finalizes a tracked turn, recording its total duration against the
// turn_duration_seconds threshold, and returns the completed profile.
func (p *Profiler) EndTurn(turnNumber int) (TurnProfile, bool) {
	p.mu.Lock()
	t, ok := p.turns[turnNumber]
	if ok {
		t.EndedAt = time.Now()
		delete(p.turns, turnNumber)
	}
	p.mu.Unlock()
	if !ok {
		return TurnProfile{}, false
	}
	duration := t.EndedAt.Sub(t.StartedAt)
	p.metrics.turnDuration.Observe(duration.Seconds())
	p.recordMetric("turn_duration_seconds", duration.Seconds(), t.EndedAt)
	return *t, true
}

// StartOp begins timing an operation invocation identified by id, used to
// disambiguate concurrent calls sharing the same operation name.
func (p *Profiler) StartOp(id string) {
	p.ops.Start(id, time.Now())
}

// EndOp finishes timing the operation started under id and records it under name.
func (p *Profiler) EndOp(id, name string) (time.Duration, bool) {
	return p.ops.End(id, name, time.Now())
}

// OperationStats reports recent timing statistics for a named operation.
func (p *Profiler) OperationStats(name string) OperationStats {
	return p.ops.Stats(name)
}

// ActiveAlerts returns a snapshot of currently unresolved alerts.
func (p *Profiler) ActiveAlerts() []Alert {
	return p.alerts.Active()
}

func (p *Profiler) recordMetric(name string, value float64, at time.Time) {
	p.mu.Lock()
	r, ok := p.rings[name]
	if !ok {
		r = newRing(p.cfg.HistorySize)
		p.rings[name] = r
	}
	r.add(value, at)
	p.mu.Unlock()

	threshold, hasThreshold := p.cfg.AlertThresholds[name]
	if !hasThreshold {
		return
	}
	if alert := p.alerts.Check(name, value, threshold, at); alert != nil {
		p.notifyAlert(*alert)
	}
}

func (p *Profiler) notifyAlert(a Alert) {
	if p.logger != nil {
		p.logger.Warn("performance threshold crossed",
			logging.Field{Key: "metric", Value: a.MetricName},
			logging.Field{Key: "actual", Value: a.ActualValue},
			logging.Field{Key: "threshold", Value: a.Threshold},
			logging.Field{Key: "severity", Value: string(a.Severity)},
		)
	}
	p.metrics.alertsTriggered.WithLabelValues(a.MetricName).Inc()

	p.handlersMu.RLock()
	defer p.handlersMu.RUnlock()
	for _, h := range p.handlers {
		h(a)
	}
}

// Samples returns the retained samples for a metric name, oldest first.
func (p *Profiler) Samples(name string) []Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.rings[name]
	if !ok {
		return nil
	}
	return r.values()
}

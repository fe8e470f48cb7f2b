// Package turnsync tracks the turn/phase state machine shared by the
// political engine and the game engine, forcing progress when either side
// misses its deadline.
package turnsync

import (
	"context"
	"sync"
	"time"

	"politicalsim/bridge/internal/config"
	"politicalsim/bridge/internal/logging"
)

const monitorPollInterval = time.Second

// Handler receives synchronizer events. Handlers are invoked synchronously
// from the monitor goroutine or the calling goroutine for direct calls; they
// must not block or call back into the Synchronizer.
type Handler func(Event)

// Synchronizer owns the turn/phase state machine and enforces timeout-based
// forced advances when the configured deadline passes before both engines
// report ready.
type Synchronizer struct {
	cfg    config.TurnSyncConfig
	logger *logging.Logger

	mu              sync.Mutex
	state           State
	deadline        time.Time
	rollback        map[int]turnSnapshot
	maxRollback     int

	handlersMu sync.RWMutex
	handlers   []Handler

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Synchronizer starting at turn 1, planning phase.
func New(cfg config.TurnSyncConfig, logger *logging.Logger) *Synchronizer {
	s := &Synchronizer{
		cfg:         cfg,
		logger:      logger,
		rollback:    make(map[int]turnSnapshot),
		maxRollback: 20,
	}
	s.state = State{TurnNumber: 1, Phase: PhasePlanning, PoliticalEngineReady: true, Status: StatusWaitingForGameEngine}
	s.deadline = time.Now().Add(s.phaseDeadline(PhasePlanning))
	s.state.TimeoutDeadline = s.deadline
	return s
}

// OnEvent registers an observer invoked for every synchronizer transition.
func (s *Synchronizer) OnEvent(h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Start begins the deadline-monitor loop. Stop via ctx cancellation or Stop.
func (s *Synchronizer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.runMonitor(ctx)
}

// Stop halts the monitor loop and waits for it to exit.
func (s *Synchronizer) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Synchronizer) runMonitor(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(monitorPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkDeadline()
		}
	}
}

func (s *Synchronizer) checkDeadline() {
	s.mu.Lock()
	if time.Now().Before(s.deadline) {
		s.mu.Unlock()
		return
	}
	phase := s.state.Phase
	s.mu.Unlock()

	if phase == PhaseResolution {
		s.AdvanceTurn(true)
	} else {
		s.AdvancePhase(true)
	}
	s.emit(Event{Name: EventTimeoutOccurred, State: s.State(), Forced: true})
}

// State returns the current synchronizer snapshot.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetPoliticalEngineReady updates the political engine's readiness flag.
func (s *Synchronizer) SetPoliticalEngineReady(ready bool) {
	s.setReady(func(st *State) *bool { return &st.PoliticalEngineReady }, ready)
}

// SetGameEngineReady updates the game engine's readiness flag.
func (s *Synchronizer) SetGameEngineReady(ready bool) {
	s.setReady(func(st *State) *bool { return &st.GameEngineReady }, ready)
}

func (s *Synchronizer) setReady(field func(*State) *bool, ready bool) {
	s.mu.Lock()
	ptr := field(&s.state)
	if *ptr == ready {
		s.mu.Unlock()
		return
	}
	*ptr = ready
	statusChanged := s.recomputeStatusLocked()
	snapshot := s.state
	s.mu.Unlock()

	s.emit(Event{Name: EventReadyChanged, State: snapshot})
	if statusChanged {
		s.emit(Event{Name: EventSyncStatusChanged, State: snapshot})
	}
}

// recomputeStatusLocked must be called with s.mu held. It returns whether
// Status changed as a result.
func (s *Synchronizer) recomputeStatusLocked() bool {
	prev := s.state.Status
	switch {
	case s.state.PoliticalEngineReady && s.state.GameEngineReady:
		s.state.Status = StatusSynchronized
	case !s.state.PoliticalEngineReady:
		s.state.Status = StatusWaitingForPoliticalEngine
	default:
		s.state.Status = StatusWaitingForGameEngine
	}
	return s.state.Status != prev
}

// AdvancePhase moves to the next phase within the current turn. It requires
// Status == StatusSynchronized unless force is true.
func (s *Synchronizer) AdvancePhase(force bool) error {
	s.mu.Lock()
	if s.state.Status != StatusSynchronized && !force {
		s.mu.Unlock()
		return ErrNotSynchronized
	}
	s.snapshotLocked()
	s.state.Phase = s.state.Phase.next()
	s.state.PoliticalEngineReady = false
	s.state.GameEngineReady = false
	s.state.Status = StatusWaitingForPoliticalEngine
	s.deadline = time.Now().Add(s.phaseDeadline(s.state.Phase))
	s.state.TimeoutDeadline = s.deadline
	snapshot := s.state
	s.mu.Unlock()

	s.emit(Event{Name: EventPhaseAdvanced, State: snapshot, Forced: force})
	return nil
}

// AdvanceTurn closes the current turn and begins the next at the planning
// phase. It requires Status == StatusSynchronized unless force is true.
func (s *Synchronizer) AdvanceTurn(force bool) error {
	s.mu.Lock()
	if s.state.Status != StatusSynchronized && !force {
		s.mu.Unlock()
		return ErrNotSynchronized
	}
	s.snapshotLocked()
	s.state.TurnNumber++
	s.state.Phase = PhasePlanning
	s.state.PoliticalEngineReady = false
	s.state.GameEngineReady = false
	s.state.Status = StatusWaitingForPoliticalEngine
	s.deadline = time.Now().Add(s.phaseDeadline(PhasePlanning))
	s.state.TimeoutDeadline = s.deadline
	snapshot := s.state
	s.mu.Unlock()

	s.emit(Event{Name: EventTurnAdvanced, State: snapshot, Forced: force})
	return nil
}

// Rollback restores the synchronizer to the snapshot recorded immediately
// before turnNumber's last recorded transition.
func (s *Synchronizer) Rollback(turnNumber int) error {
	s.mu.Lock()
	snap, ok := s.rollback[turnNumber]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownTurn
	}
	s.state = snap.state
	s.deadline = time.Now().Add(s.phaseDeadline(s.state.Phase))
	s.state.TimeoutDeadline = s.deadline
	snapshot := s.state
	s.mu.Unlock()

	s.emit(Event{Name: EventTurnRolledBack, State: snapshot})
	return nil
}

// snapshotLocked must be called with s.mu held; it records the pre-transition
// state for the current turn, evicting the oldest entry once maxRollback is
// exceeded.
func (s *Synchronizer) snapshotLocked() {
	s.rollback[s.state.TurnNumber] = turnSnapshot{state: s.state, at: time.Now()}
	if len(s.rollback) <= s.maxRollback {
		return
	}
	oldest := -1
	for turn := range s.rollback {
		if oldest == -1 || turn < oldest {
			oldest = turn
		}
	}
	delete(s.rollback, oldest)
}

func (s *Synchronizer) phaseDeadline(phase Phase) time.Duration {
	if phase == PhasePlanning {
		return s.cfg.TurnTimeout
	}
	return s.cfg.PhaseTimeout
}

func (s *Synchronizer) emit(evt Event) {
	if s.logger != nil {
		s.logger.Debug("turn sync event",
			logging.Field{Key: "event", Value: evt.Name},
			logging.Field{Key: "turn_number", Value: evt.State.TurnNumber},
			logging.Field{Key: "phase", Value: string(evt.State.Phase)},
			logging.Field{Key: "forced", Value: evt.Forced},
		)
	}
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	for _, h := range s.handlers {
		h(evt)
	}
}

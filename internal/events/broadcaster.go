package events

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"politicalsim/bridge/internal/config"
	"politicalsim/bridge/internal/logging"
	"politicalsim/bridge/internal/protocol"
)

const flusherPollInterval = time.Second

// BroadcastFunc delivers a flushed batch to one connection. The broadcaster
// calls it outside any internal lock; implementations typically hand the
// batch to the connection manager's outbound send queue.
type BroadcastFunc func(connectionID string, batch Batch)

type pendingBatch struct {
	events    []Event
	openedAt  time.Time
}

// Broadcaster routes published events to matching subscriptions, batches
// deliveries per connection, and retains a bounded replay history.
type Broadcaster struct {
	cfg    config.EventsConfig
	logger *logging.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    priorityQueue
	seq      int64
	stopped  bool
	hist     *history
	subs     map[string]*Subscription
	byConn   map[string]map[string]bool
	pending  map[string]*pendingBatch

	broadcastMu sync.RWMutex
	broadcast   BroadcastFunc

	dispatchDone chan struct{}
	flushDone    chan struct{}
}

// New constructs a Broadcaster from the event-broadcaster tuning options.
func New(cfg config.EventsConfig, logger *logging.Logger) *Broadcaster {
	b := &Broadcaster{
		cfg:     cfg,
		logger:  logger,
		hist:    newHistory(cfg.MaxEventHistory),
		subs:    make(map[string]*Subscription),
		byConn:  make(map[string]map[string]bool),
		pending: make(map[string]*pendingBatch),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// RegisterBroadcastCallback sets the function invoked when a batch is
// flushed to a connection.
func (b *Broadcaster) RegisterBroadcastCallback(fn BroadcastFunc) {
	b.broadcastMu.Lock()
	defer b.broadcastMu.Unlock()
	b.broadcast = fn
}

// Start launches the dispatcher and batch-flusher goroutines.
func (b *Broadcaster) Start(ctx context.Context) {
	b.dispatchDone = make(chan struct{})
	b.flushDone = make(chan struct{})
	go b.runDispatcher()
	go b.runFlusher(ctx)
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		b.stopped = true
		b.cond.Broadcast()
		b.mu.Unlock()
	}()
}

// Stop halts both background goroutines and waits for them to exit.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.cond.Broadcast()
	b.mu.Unlock()
	<-b.dispatchDone
	<-b.flushDone
}

// Publish enqueues event for dispatch. It never blocks and never drops: the
// queue grows unbounded under the priority heap, matching the bridge's
// at-least-once delivery contract.
func (b *Broadcaster) Publish(event Event, priority protocol.Priority) {
	if event.Category == "" {
		event.Category = DetermineCategory(event.EventType)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if priority == "" {
		priority = PriorityFromSeverity(event.Severity)
	}

	b.mu.Lock()
	b.seq++
	heap.Push(&b.queue, &queueEntry{priority: priority, seq: b.seq, event: event})
	b.cond.Signal()
	b.mu.Unlock()
}

func (b *Broadcaster) runDispatcher() {
	defer close(b.dispatchDone)
	for {
		b.mu.Lock()
		for b.queue.Len() == 0 && !b.stopped {
			b.cond.Wait()
		}
		if b.queue.Len() == 0 && b.stopped {
			b.mu.Unlock()
			return
		}
		entry := heap.Pop(&b.queue).(*queueEntry)
		b.mu.Unlock()

		b.dispatch(entry.event)
	}
}

func (b *Broadcaster) dispatch(ev Event) {
	b.mu.Lock()
	b.hist.Append(ev)
	var toFlush []string
	for id, sub := range b.subs {
		if !sub.Filter.Matches(ev) {
			continue
		}
		sub.LastEventAt = ev.Timestamp
		sub.EventCount++
		pb, ok := b.pending[id]
		if !ok {
			pb = &pendingBatch{openedAt: time.Now()}
			b.pending[id] = pb
		}
		pb.events = append(pb.events, ev)
		if len(pb.events) >= b.batchSize() {
			toFlush = append(toFlush, id)
		}
	}
	b.mu.Unlock()

	for _, id := range toFlush {
		b.flushSubscription(id)
	}
}

func (b *Broadcaster) runFlusher(ctx context.Context) {
	defer close(b.flushDone)
	ticker := time.NewTicker(flusherPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.flushExpired()
		}
	}
}

func (b *Broadcaster) flushExpired() {
	timeout := b.batchTimeout()
	b.mu.Lock()
	var expired []string
	now := time.Now()
	for id, pb := range b.pending {
		if len(pb.events) > 0 && now.Sub(pb.openedAt) >= timeout {
			expired = append(expired, id)
		}
	}
	b.mu.Unlock()

	for _, id := range expired {
		b.flushSubscription(id)
	}
}

func (b *Broadcaster) flushSubscription(subscriptionID string) {
	b.mu.Lock()
	pb, ok := b.pending[subscriptionID]
	if !ok || len(pb.events) == 0 {
		b.mu.Unlock()
		return
	}
	sub, subOK := b.subs[subscriptionID]
	delete(b.pending, subscriptionID)
	b.mu.Unlock()
	if !subOK {
		return
	}

	batch := Batch{
		BatchID:   uuid.NewString(),
		Events:    pb.events,
		Timestamp: time.Now().UTC(),
		Priority:  maxBatchPriority(pb.events),
	}

	b.broadcastMu.RLock()
	cb := b.broadcast
	b.broadcastMu.RUnlock()
	if cb != nil {
		cb(sub.ConnectionID, batch)
	}
}

func maxBatchPriority(events []Event) protocol.Priority {
	p := protocol.PriorityLow
	for _, e := range events {
		p = protocol.MaxPriority(p, PriorityFromSeverity(e.Severity))
	}
	return p
}

// Subscribe registers connectionID's interest in events matching filter,
// returning a subscription id used with Unsubscribe.
func (b *Broadcaster) Subscribe(connectionID string, filter SubscriptionFilter) string {
	id := uuid.NewString()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = &Subscription{
		SubscriptionID: id,
		ConnectionID:   connectionID,
		Filter:         filter,
		CreatedAt:      time.Now().UTC(),
	}
	if b.byConn[connectionID] == nil {
		b.byConn[connectionID] = make(map[string]bool)
	}
	b.byConn[connectionID][id] = true
	return id
}

// Unsubscribe removes a single subscription and discards its pending batch.
func (b *Broadcaster) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[subscriptionID]
	if !ok {
		return
	}
	delete(b.subs, subscriptionID)
	delete(b.pending, subscriptionID)
	if conns, ok := b.byConn[sub.ConnectionID]; ok {
		delete(conns, subscriptionID)
		if len(conns) == 0 {
			delete(b.byConn, sub.ConnectionID)
		}
	}
}

// UnsubscribeConnection drops every subscription and pending batch owned by
// connectionID.
func (b *Broadcaster) UnsubscribeConnection(connectionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for subID := range b.byConn[connectionID] {
		delete(b.subs, subID)
		delete(b.pending, subID)
	}
	delete(b.byConn, connectionID)
}

// Replay scans retained history for events between start and end (end==0
// means unbounded) matching filter.
func (b *Broadcaster) Replay(connectionID string, start, end time.Time, filter SubscriptionFilter) []Event {
	var endUnix int64
	if !end.IsZero() {
		endUnix = end.Unix()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hist.Since(start.Unix(), endUnix, filter)
}

// SubscriptionInfo returns the retained subscription metadata, if any.
func (b *Broadcaster) SubscriptionInfo(subscriptionID string) (Subscription, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[subscriptionID]
	if !ok {
		return Subscription{}, false
	}
	return *sub, true
}

// ConnectionSubscriptions lists the subscription ids owned by connectionID.
func (b *Broadcaster) ConnectionSubscriptions(connectionID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.byConn[connectionID]))
	for id := range b.byConn[connectionID] {
		ids = append(ids, id)
	}
	return ids
}

// HistoryLen reports how many events are currently retained for replay.
func (b *Broadcaster) HistoryLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hist.Len()
}

// SubscriptionCount reports how many subscriptions are currently active.
func (b *Broadcaster) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) batchSize() int {
	if b.cfg.BatchSize <= 0 {
		return 10
	}
	return b.cfg.BatchSize
}

func (b *Broadcaster) batchTimeout() time.Duration {
	if b.cfg.BatchTimeout <= 0 {
		return 5 * time.Second
	}
	return b.cfg.BatchTimeout
}

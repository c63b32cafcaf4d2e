// internal/bridge/relay.go
package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"serial-bridge/internal/model"
)

// RelayOptions size the relay queues
type RelayOptions struct {
	Capacity         int
	MaxPendingLines  int
	SubscriberBuffer int
}

// DefaultRelayOptions returns the options used when none are configured
func DefaultRelayOptions() RelayOptions {
	return RelayOptions{
		Capacity:         1000,
		MaxPendingLines:  5000,
		SubscriberBuffer: 256,
	}
}

// RelayStats are cumulative relay counters
type RelayStats struct {
	PublishedLines    int64 `json:"published_lines"`
	PublishedStatus   int64 `json:"published_status"`
	DroppedLines      int64 `json:"dropped_lines"`
	DroppedDeliveries int64 `json:"dropped_deliveries"`
	Subscribers       int   `json:"subscribers"`
	RetainedLines     int   `json:"retained_lines"`
	EvictedLines      int64 `json:"evicted_lines"`
}

type relayItem struct {
	event   *model.Event
	control func(*LineBuffer)
	done    chan struct{}
}

// EventRelay hands lines and status changes from producers to subscribers.
// Publishing never blocks. One delivery goroutine is the only writer of the
// line buffer, so the retained sequence matches publish order.
type EventRelay struct {
	opts   RelayOptions
	logger *zap.Logger
	lines  *LineBuffer

	mu           sync.Mutex
	pending      []*relayItem
	pendingLines int
	started      bool
	stopped      bool

	subMu       sync.RWMutex
	subscribers map[uuid.UUID]*subscriber
	subsClosed  bool

	publishedLines    atomic.Int64
	publishedStatus   atomic.Int64
	droppedLines      atomic.Int64
	droppedDeliveries atomic.Int64

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// NewEventRelay creates a relay. Call Start before expecting deliveries.
func NewEventRelay(opts RelayOptions, logger *zap.Logger) *EventRelay {
	defaults := DefaultRelayOptions()
	if opts.Capacity <= 0 {
		opts.Capacity = defaults.Capacity
	}
	if opts.MaxPendingLines <= 0 {
		opts.MaxPendingLines = defaults.MaxPendingLines
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = defaults.SubscriberBuffer
	}

	return &EventRelay{
		opts:        opts,
		logger:      logger.With(zap.String("component", "relay")),
		lines:       NewLineBuffer(opts.Capacity),
		subscribers: make(map[uuid.UUID]*subscriber),
		wake:        make(chan struct{}, 1),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the delivery goroutine
func (r *EventRelay) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started || r.stopped {
		return
	}
	r.started = true
	go r.run()
}

// Stop delivers what is already queued. Each subscriber channel closes once
// that subscriber has received its backlog or unsubscribes.
func (r *EventRelay) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	close(r.quit)
	r.mu.Unlock()

	if started {
		<-r.done
	}

	r.subMu.Lock()
	r.subsClosed = true
	for id, sub := range r.subscribers {
		sub.drainAndClose()
		delete(r.subscribers, id)
	}
	r.subMu.Unlock()
}

// PublishLines queues lines for delivery. Consecutive batches from the same
// session are coalesced while still pending. When more than MaxPendingLines
// are waiting the oldest pending lines are dropped, status lines excepted.
func (r *EventRelay) PublishLines(sessionID uuid.UUID, lines []model.TerminalLine) {
	if len(lines) == 0 {
		return
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}

	r.publishedLines.Add(int64(len(lines)))

	if last := r.lastPending(); last != nil && last.event != nil &&
		last.event.Kind == model.EventLineAppended && last.event.SessionID == sessionID {
		last.event.Lines = append(last.event.Lines, lines...)
	} else {
		r.pending = append(r.pending, &relayItem{event: &model.Event{
			Kind:      model.EventLineAppended,
			SessionID: sessionID,
			Lines:     append([]model.TerminalLine(nil), lines...),
			Timestamp: time.Now(),
		}})
	}
	r.pendingLines += len(lines)
	dropped := r.trimPending()
	r.mu.Unlock()

	if dropped > 0 {
		r.droppedLines.Add(int64(dropped))
		r.logger.Warn("Relay backlog full, dropping oldest lines",
			zap.Int("dropped", dropped),
			zap.Int("max_pending_lines", r.opts.MaxPendingLines),
		)
	}
	r.signal()
}

// PublishStatus queues a status change with an optional session snapshot.
// Status events are never dropped.
func (r *EventRelay) PublishStatus(sessionID uuid.UUID, status model.Status, session *model.SessionRecord) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.publishedStatus.Add(1)
	st := status
	r.pending = append(r.pending, &relayItem{event: &model.Event{
		Kind:      model.EventStatusChanged,
		SessionID: sessionID,
		Status:    &st,
		Session:   session,
		Timestamp: time.Now(),
	}})
	r.mu.Unlock()

	r.signal()
}

// SetCapacity resizes the line buffer once everything queued before it is delivered
func (r *EventRelay) SetCapacity(capacity int) {
	r.enqueue(&relayItem{control: func(lb *LineBuffer) { lb.SetCapacity(capacity) }})
}

// Clear empties the line buffer and waits until it is applied
func (r *EventRelay) Clear(ctx context.Context) error {
	item := &relayItem{control: func(lb *LineBuffer) { lb.Clear() }, done: make(chan struct{})}
	if !r.enqueue(item) {
		return ErrRelayStopped
	}
	return wait(ctx, item.done)
}

// Flush waits until everything published before the call has been delivered
func (r *EventRelay) Flush(ctx context.Context) error {
	item := &relayItem{done: make(chan struct{})}
	if !r.enqueue(item) {
		return ErrRelayStopped
	}
	return wait(ctx, item.done)
}

// Lines returns retained lines with a sequence number above since
func (r *EventRelay) Lines(since uint64) []model.TerminalLine {
	return r.lines.Since(since)
}

// Subscribe registers a subscriber. Events beyond the channel buffer wait in
// a per-subscriber backlog of at most MaxPendingLines lines; above that the
// oldest backlog lines are dropped for that subscriber only. Status events
// always arrive, in order. The returned function unsubscribes, discards the
// backlog and closes the channel.
func (r *EventRelay) Subscribe(buffer int) (<-chan model.Event, func()) {
	if buffer <= 0 {
		buffer = r.opts.SubscriberBuffer
	}
	sub := newSubscriber(buffer, r.opts.MaxPendingLines)

	r.subMu.Lock()
	if r.subsClosed {
		r.subMu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	r.subscribers[sub.id] = sub
	r.subMu.Unlock()

	go sub.pump()

	return sub.ch, func() {
		r.subMu.Lock()
		delete(r.subscribers, sub.id)
		r.subMu.Unlock()
		sub.stop()
	}
}

// Stats returns the relay counters
func (r *EventRelay) Stats() RelayStats {
	r.subMu.RLock()
	subs := len(r.subscribers)
	r.subMu.RUnlock()

	return RelayStats{
		PublishedLines:    r.publishedLines.Load(),
		PublishedStatus:   r.publishedStatus.Load(),
		DroppedLines:      r.droppedLines.Load(),
		DroppedDeliveries: r.droppedDeliveries.Load(),
		Subscribers:       subs,
		RetainedLines:     r.lines.Len(),
		EvictedLines:      r.lines.Evicted(),
	}
}

func (r *EventRelay) enqueue(item *relayItem) bool {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return false
	}
	r.pending = append(r.pending, item)
	r.mu.Unlock()

	r.signal()
	return true
}

func (r *EventRelay) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *EventRelay) lastPending() *relayItem {
	if n := len(r.pending); n > 0 {
		return r.pending[n-1]
	}
	return nil
}

// trimPending drops the oldest pending lines above the backlog limit.
// Caller holds r.mu.
func (r *EventRelay) trimPending() int {
	excess := r.pendingLines - r.opts.MaxPendingLines
	if excess <= 0 {
		return 0
	}

	dropped := 0
	kept := r.pending[:0]
	for _, item := range r.pending {
		if excess > 0 && item.event != nil && item.event.Kind == model.EventLineAppended {
			var n int
			item.event.Lines, n = dropOldestLines(item.event.Lines, excess)
			excess -= n
			dropped += n
			if len(item.event.Lines) == 0 {
				continue
			}
		}
		kept = append(kept, item)
	}
	for i := len(kept); i < len(r.pending); i++ {
		r.pending[i] = nil
	}
	r.pending = kept
	r.pendingLines -= dropped
	return dropped
}

func (r *EventRelay) run() {
	defer close(r.done)

	for {
		select {
		case <-r.wake:
			r.drain()
		case <-r.quit:
			r.drain()
			return
		}
	}
}

func (r *EventRelay) drain() {
	for {
		r.mu.Lock()
		items := r.pending
		r.pending = nil
		r.pendingLines = 0
		r.mu.Unlock()

		if len(items) == 0 {
			return
		}
		for _, item := range items {
			r.deliver(item)
		}
	}
}

func (r *EventRelay) deliver(item *relayItem) {
	if item.control != nil {
		item.control(r.lines)
	}

	if ev := item.event; ev != nil {
		if ev.Kind == model.EventLineAppended {
			ev.Lines = r.lines.Append(ev.Lines)
		}
		r.fanout(*ev)
	}

	if item.done != nil {
		close(item.done)
	}
}

func (r *EventRelay) fanout(ev model.Event) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()

	for _, sub := range r.subscribers {
		if dropped := sub.offer(ev); dropped > 0 {
			r.droppedDeliveries.Add(int64(dropped))
			r.logger.Warn("Subscriber backlog full, dropping oldest lines",
				zap.String("subscriber_id", sub.id.String()),
				zap.Int("dropped", dropped),
			)
		}
	}
}

func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

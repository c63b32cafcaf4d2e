// internal/bridge/subscriber.go
package bridge

import (
	"sync"

	"github.com/google/uuid"

	"serial-bridge/internal/model"
)

// subscriber owns a backlog between the relay and its channel. Events go
// straight to the channel while it has room; after that they queue in order.
// Queued line batches from one session coalesce and the oldest queued lines
// are dropped above maxLines. Status events and status lines are never dropped.
type subscriber struct {
	id       uuid.UUID
	ch       chan model.Event
	maxLines int

	mu          sync.Mutex
	queue       []*model.Event
	queuedLines int
	inflight    bool
	closing     bool

	wake     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

func newSubscriber(buffer, maxLines int) *subscriber {
	return &subscriber{
		id:       uuid.New(),
		ch:       make(chan model.Event, buffer),
		maxLines: maxLines,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// offer hands ev to the subscriber without blocking and returns the number
// of queued lines dropped to make room
func (s *subscriber) offer(ev model.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 && !s.inflight {
		select {
		case s.ch <- ev:
			return 0
		default:
		}
	}

	if ev.Kind == model.EventLineAppended {
		s.queuedLines += len(ev.Lines)
		if n := len(s.queue); n > 0 && s.queue[n-1].Kind == model.EventLineAppended && s.queue[n-1].SessionID == ev.SessionID {
			s.queue[n-1].Lines = append(s.queue[n-1].Lines, ev.Lines...)
		} else {
			queued := ev
			queued.Lines = append([]model.TerminalLine(nil), ev.Lines...)
			s.queue = append(s.queue, &queued)
		}
	} else {
		queued := ev
		s.queue = append(s.queue, &queued)
	}

	dropped := s.trim()
	s.signal()
	return dropped
}

// trim requires mu
func (s *subscriber) trim() int {
	excess := s.queuedLines - s.maxLines
	if excess <= 0 {
		return 0
	}

	dropped := 0
	kept := s.queue[:0]
	for _, ev := range s.queue {
		if excess > 0 && ev.Kind == model.EventLineAppended {
			var n int
			ev.Lines, n = dropOldestLines(ev.Lines, excess)
			excess -= n
			dropped += n
			if len(ev.Lines) == 0 {
				continue
			}
		}
		kept = append(kept, ev)
	}
	for i := len(kept); i < len(s.queue); i++ {
		s.queue[i] = nil
	}
	s.queue = kept
	s.queuedLines -= dropped
	return dropped
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves queued events to the channel and closes it on exit
func (s *subscriber) pump() {
	defer close(s.done)
	defer close(s.ch)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.quit:
				return
			}
		}

		ev := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		if ev.Kind == model.EventLineAppended {
			s.queuedLines -= len(ev.Lines)
		}
		s.inflight = true
		s.mu.Unlock()

		select {
		case s.ch <- *ev:
		case <-s.quit:
			return
		}

		s.mu.Lock()
		s.inflight = false
		s.mu.Unlock()
	}
}

// drainAndClose closes the channel once the backlog is delivered. No offer
// may follow.
func (s *subscriber) drainAndClose() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.signal()
}

// stop abandons the backlog and closes the channel
func (s *subscriber) stop() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// dropOldestLines removes up to n of the oldest lines, skipping status lines.
// It reuses the backing array of lines.
func dropOldestLines(lines []model.TerminalLine, n int) ([]model.TerminalLine, int) {
	if n <= 0 {
		return lines, 0
	}

	dropped := 0
	kept := lines[:0]
	for _, line := range lines {
		if dropped < n && line.Kind != model.LineStatus {
			dropped++
			continue
		}
		kept = append(kept, line)
	}
	return kept, dropped
}

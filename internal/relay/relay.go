// Package relay carries tool-completion events from a running agent
// to the stream that started it. Each streaming run owns a Session
// keyed by its run id; events for other runs never reach it.
package relay

import (
	"context"
	"sync"

	"github.com/wesm/dashai/internal/logging"
	"github.com/wesm/dashai/internal/metrics"
)

// Event is one completed tool call. Seq is assigned by the session
// on publish, starting at 1.
type Event struct {
	Seq      int64
	Tool     string
	Output   string
	ThreadID string
	RunID    string
}

// Hub routes published events to open sessions by run id.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[string]*Session)}
}

// Open registers a session for runID. Opening a run id that is
// already open closes the previous session.
func (h *Hub) Open(threadID, runID string) *Session {
	s := &Session{
		hub:      h,
		threadID: threadID,
		runID:    runID,
		notify:   make(chan struct{}, 1),
	}
	h.mu.Lock()
	prev := h.sessions[runID]
	h.sessions[runID] = s
	h.mu.Unlock()

	if prev != nil {
		prev.finish()
	} else {
		metrics.RelaySessions.Inc()
	}
	return s
}

// Publish enqueues ev on the session for ev.RunID. It never blocks.
// Events for unknown or closed runs are dropped and Publish
// returns false.
func (h *Hub) Publish(ev Event) bool {
	h.mu.Lock()
	s := h.sessions[ev.RunID]
	h.mu.Unlock()

	if s == nil || !s.push(ev) {
		metrics.RecordRelayEvent(false)
		logging.Warn().
			Str("run_id", ev.RunID).
			Str("tool", ev.Tool).
			Msg("relay: dropping event for unknown run")
		return false
	}
	metrics.RecordRelayEvent(true)
	return true
}

// Len returns the number of open sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// remove drops s from the hub if it is still the registered
// session for its run.
func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[s.runID] == s {
		delete(h.sessions, s.runID)
		metrics.RelaySessions.Dec()
	}
}

// Session is the FIFO of events for one run. The queue is
// unbounded; a single consumer drains it with Next.
type Session struct {
	hub      *Hub
	threadID string
	runID    string

	mu      sync.Mutex
	queue   []Event
	nextSeq int64
	closed  bool
	notify  chan struct{}
}

func (s *Session) push(ev Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.nextSeq++
	ev.Seq = s.nextSeq
	if ev.ThreadID == "" {
		ev.ThreadID = s.threadID
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
	return true
}

func (s *Session) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// finish marks the session closed without touching the hub.
func (s *Session) finish() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

// Close ends the run: later publishes are dropped, and Next
// returns ok=false once the queued events are drained. Close is
// idempotent.
func (s *Session) Close() {
	s.hub.remove(s)
	s.finish()
}

// Next returns the next event in publish order. ok is false when
// the session is closed and drained. A done ctx returns its error.
func (s *Session) Next(ctx context.Context) (Event, bool, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, true, nil
		}
		if s.closed {
			s.mu.Unlock()
			return Event{}, false, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, false, ctx.Err()
		case <-s.notify:
		}
	}
}

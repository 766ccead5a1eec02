package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/corey/parley/internal/ports"
)

// StreamState reports where a Stream is in its subscription lifecycle.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamStarting
	StreamActive
)

func (s StreamState) String() string {
	switch s {
	case StreamStarting:
		return "starting"
	case StreamActive:
		return "active"
	default:
		return "idle"
	}
}

// handle is one Start's claim on the subscription. Stop cancels the live
// handle; a handle cancelled while its Subscribe is pending tears the
// subscription down as soon as the call resolves.
type handle struct {
	cancelled bool
	unsub     ports.Unsubscribe
}

// Stream owns the subscription to one push event and decodes its payloads
// as T. At most one handler is live at a time, whatever the interleaving of
// Start and Stop calls.
type Stream[T any] struct {
	gw      ports.Gateway
	event   string
	handler func(T)
	logger  *slog.Logger

	mu      sync.Mutex
	current *handle
}

// NewStream creates an idle stream for event.
func NewStream[T any](gw ports.Gateway, event string, handler func(T), logger *slog.Logger) *Stream[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream[T]{gw: gw, event: event, handler: handler, logger: logger}
}

// Start subscribes. It blocks until the backend acknowledges the
// subscription. If the stream is already starting or active, Start returns
// nil immediately. If Stop runs before the subscription resolves, the
// subscription is released on resolution and nothing is delivered.
func (s *Stream[T]) Start(ctx context.Context) error {
	_, err := s.start(ctx)
	return err
}

// start is Start reporting the handle it made live, or nil when the stream
// was already claimed or Stop cancelled it while pending.
func (s *Stream[T]) start(ctx context.Context) (*handle, error) {
	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return nil, nil
	}
	h := &handle{}
	s.current = h
	s.mu.Unlock()

	unsub, err := s.gw.Subscribe(ctx, s.event, func(raw json.RawMessage) {
		s.deliver(h, raw)
	})

	s.mu.Lock()
	if err != nil {
		if s.current == h {
			s.current = nil
		}
		s.mu.Unlock()
		return nil, err
	}
	if h.cancelled {
		s.mu.Unlock()
		unsub()
		return nil, nil
	}
	h.unsub = unsub
	s.mu.Unlock()
	return h, nil
}

// Stop tears the subscription down. Safe to call in any state.
func (s *Stream[T]) Stop() {
	s.mu.Lock()
	h := s.current
	s.mu.Unlock()
	s.release(h)
}

// release tears down h if it is still the live handle. A later Start's
// handle is left alone.
func (s *Stream[T]) release(h *handle) {
	if h == nil {
		return
	}
	s.mu.Lock()
	if s.current != h {
		s.mu.Unlock()
		return
	}
	s.current = nil
	h.cancelled = true
	unsub := h.unsub
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// State returns the current lifecycle state.
func (s *Stream[T]) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.current == nil:
		return StreamIdle
	case s.current.unsub == nil:
		return StreamStarting
	default:
		return StreamActive
	}
}

func (s *Stream[T]) deliver(h *handle, raw json.RawMessage) {
	s.mu.Lock()
	live := s.current == h && !h.cancelled
	s.mu.Unlock()
	if !live {
		return
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		s.logger.Warn("drop undecodable event", "event", s.event, "err", err)
		return
	}
	s.handler(v)
}

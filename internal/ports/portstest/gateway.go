// Package portstest provides an in-memory ports.Gateway for tests.
//
// Commands are answered by registered handlers; results travel through a real
// JSON encode/decode so tests exercise the same shapes the socket adapter
// carries. Subscriptions can be held pending to reproduce setup/teardown races.
package portstest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/corey/parley/internal/ports"
)

// Handler answers one command. args is the JSON encoding of the call's args.
type Handler func(args json.RawMessage) (any, error)

// Reply returns a Handler that always answers v.
func Reply(v any) Handler {
	return func(json.RawMessage) (any, error) { return v, nil }
}

// Fail returns a Handler that always fails with msg.
func Fail(msg string) Handler {
	return func(json.RawMessage) (any, error) { return nil, errors.New(msg) }
}

// Gateway is a scriptable ports.Gateway.
type Gateway struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    map[string][]json.RawMessage
	order    []string
	subs     map[string]map[int]ports.EventHandler
	nextSub  int
	gate     chan struct{}
	pending  int
	subErr   error
}

// New creates an empty gateway. Unhandled commands fail.
func New() *Gateway {
	return &Gateway{
		handlers: make(map[string]Handler),
		calls:    make(map[string][]json.RawMessage),
		subs:     make(map[string]map[int]ports.EventHandler),
	}
}

var _ ports.Gateway = (*Gateway)(nil)

// Handle registers (or replaces) the handler for command.
func (g *Gateway) Handle(command string, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[command] = h
}

// Call implements ports.Gateway.
func (g *Gateway) Call(ctx context.Context, command string, args, result any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return errors.Wrap(err, "marshal args")
	}

	g.mu.Lock()
	h := g.handlers[command]
	g.calls[command] = append(g.calls[command], raw)
	g.order = append(g.order, command)
	g.mu.Unlock()

	if h == nil {
		return errors.Errorf("no handler for %s", command)
	}
	out, err := h(raw)
	if err != nil {
		return err
	}
	if result == nil || out == nil {
		return nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return errors.Wrap(err, "marshal result")
	}
	return json.Unmarshal(data, result)
}

// Subscribe implements ports.Gateway. While Hold is in effect it blocks
// until released or ctx is done.
func (g *Gateway) Subscribe(ctx context.Context, event string, handler ports.EventHandler) (ports.Unsubscribe, error) {
	g.mu.Lock()
	gate := g.gate
	g.pending++
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			g.mu.Lock()
			g.pending--
			g.mu.Unlock()
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending--
	if g.subErr != nil {
		return nil, g.subErr
	}
	id := g.nextSub
	g.nextSub++
	if g.subs[event] == nil {
		g.subs[event] = make(map[int]ports.EventHandler)
	}
	g.subs[event][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.subs[event], id)
			g.mu.Unlock()
		})
	}, nil
}

// Hold makes subsequent Subscribe calls block until release is called.
func (g *Gateway) Hold() (release func()) {
	gate := make(chan struct{})
	g.mu.Lock()
	g.gate = gate
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			if g.gate == gate {
				g.gate = nil
			}
			g.mu.Unlock()
			close(gate)
		})
	}
}

// FailSubscribe makes Subscribe return err (nil restores success).
func (g *Gateway) FailSubscribe(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subErr = err
}

// Emit delivers payload to every live handler of event, synchronously.
func (g *Gateway) Emit(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	g.mu.Lock()
	handlers := make([]ports.EventHandler, 0, len(g.subs[event]))
	for _, h := range g.subs[event] {
		handlers = append(handlers, h)
	}
	g.mu.Unlock()

	for _, h := range handlers {
		h(raw)
	}
}

// Listeners returns the number of live handlers for event.
func (g *Gateway) Listeners(event string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs[event])
}

// Pending returns the number of Subscribe calls still waiting on Hold.
func (g *Gateway) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// CallCount returns how many times command was called.
func (g *Gateway) CallCount(command string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls[command])
}

// TotalCalls returns the number of calls across all commands.
func (g *Gateway) TotalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.order)
}

// Commands returns every command called, in call order.
func (g *Gateway) Commands() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.order...)
}

// LastArgs decodes the args of the most recent call to command into v.
// Returns false if command was never called.
func (g *Gateway) LastArgs(command string, v any) bool {
	g.mu.Lock()
	calls := g.calls[command]
	g.mu.Unlock()
	if len(calls) == 0 {
		return false
	}
	return json.Unmarshal(calls[len(calls)-1], v) == nil
}

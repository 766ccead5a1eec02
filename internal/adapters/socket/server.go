package socket

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/corey/parley/internal/ports"
)

const eventWriteTimeout = 2 * time.Second

// Dispatcher executes backend commands for the server.
// Thread safety is the implementor's responsibility.
type Dispatcher interface {
	Dispatch(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// subscriber is one open subscription connection.
type subscriber struct {
	conn net.Conn
	mu   sync.Mutex
}

func (s *subscriber) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
	_, err := s.conn.Write(data)
	return err
}

// Server is the daemon that listens on a Unix socket, dispatches commands
// and fans push events out to subscribers. It implements ports.EventSink.
type Server struct {
	dispatcher Dispatcher
	listener   net.Listener
	sockPath   string
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	subsMu sync.Mutex
	subs   map[string]map[*subscriber]struct{}

	done         chan struct{}
	shutdownCh   chan struct{} // closed when a remote shutdown request is received
	shutdownOnce sync.Once
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

var _ ports.EventSink = (*Server)(nil)

// NewServer creates a daemon server. The dispatcher may be set later with
// SetDispatcher, but must be set before Start.
func NewServer(sockPath string, dispatcher Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		dispatcher: dispatcher,
		sockPath:   sockPath,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		subs:       make(map[string]map[*subscriber]struct{}),
		done:       make(chan struct{}),
		shutdownCh: make(chan struct{}),
	}
}

// SetDispatcher sets the command handler. The backend needs the server as
// its event sink, so the two are wired after construction.
func (s *Server) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// Start begins listening on the Unix socket. It handles stale sockets by
// attempting a connection first. If the connection fails, the stale socket
// is removed before binding.
func (s *Server) Start() error {
	if _, err := os.Stat(s.sockPath); err == nil {
		conn, err := net.DialTimeout("unix", s.sockPath, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return fmt.Errorf("daemon already running at %s", s.sockPath)
		}
		os.Remove(s.sockPath)
	}

	ln, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop gracefully shuts down the server: the listener and every
// subscription are closed and the socket file is removed.
// Idempotent: safe to call after remote shutdown + signal.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
		s.subsMu.Lock()
		for _, set := range s.subs {
			for sub := range set {
				sub.conn.Close()
			}
		}
		s.subsMu.Unlock()
		s.wg.Wait()
		os.Remove(s.sockPath)
	})
	return nil
}

// ShutdownCh returns a channel that is closed when a remote shutdown request
// is received. The daemon's main goroutine should select on this alongside
// OS signals so the process actually exits after a remote stop.
func (s *Server) ShutdownCh() <-chan struct{} {
	return s.shutdownCh
}

// Addr returns the socket path the server is listening on.
func (s *Server) Addr() string {
	return s.sockPath
}

// Subscribers returns the number of open subscriptions to event.
func (s *Server) Subscribers(event string) int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return len(s.subs[event])
}

// Emit implements ports.EventSink. Subscribers whose connection fails are
// dropped.
func (s *Server) Emit(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("marshal event", "event", event, "err", err)
		return
	}
	data, err := json.Marshal(Event{Event: event, Payload: raw})
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.subsMu.Lock()
	targets := make([]*subscriber, 0, len(s.subs[event]))
	for sub := range s.subs[event] {
		targets = append(targets, sub)
	}
	s.subsMu.Unlock()

	for _, sub := range targets {
		if err := sub.write(data); err != nil {
			s.logger.Debug("drop subscriber", "event", event, "err", err)
			s.unsubscribe(event, sub)
			sub.conn.Close()
		}
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	scanner := newScanner(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(conn, Response{Error: "invalid request JSON"})
			continue
		}

		if req.Method == MethodSubscribe {
			s.serveSubscription(conn, scanner, req)
			return
		}

		resp := s.handleRequest(req)
		s.writeResponse(conn, resp)

		if req.Method == ports.CmdShutdown {
			s.shutdownOnce.Do(func() { close(s.shutdownCh) })
			return
		}
	}
}

// serveSubscription registers conn for one event and holds it until the
// client disconnects or the server stops.
func (s *Server) serveSubscription(conn net.Conn, scanner *bufio.Scanner, req Request) {
	var args ports.SubscribeArgs
	if err := json.Unmarshal(req.Params, &args); err != nil || args.Event == "" {
		s.writeResponse(conn, Response{ID: req.ID, Error: "invalid subscribe params"})
		return
	}

	// The ack must be the first line on the connection, so events wait on
	// sub.mu until it is written.
	sub := &subscriber{conn: conn}
	sub.mu.Lock()
	s.subsMu.Lock()
	select {
	case <-s.done:
		s.subsMu.Unlock()
		sub.mu.Unlock()
		return
	default:
	}
	if s.subs[args.Event] == nil {
		s.subs[args.Event] = make(map[*subscriber]struct{})
	}
	s.subs[args.Event][sub] = struct{}{}
	s.subsMu.Unlock()
	defer s.unsubscribe(args.Event, sub)

	ack, _ := json.Marshal(Response{ID: req.ID, Result: json.RawMessage(`{}`)})
	conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
	_, err := conn.Write(append(ack, '\n'))
	sub.mu.Unlock()
	if err != nil {
		return
	}

	// Subscribers send nothing after the request; a read returning means
	// the client went away.
	for scanner.Scan() {
	}
}

func (s *Server) unsubscribe(event string, sub *subscriber) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	delete(s.subs[event], sub)
}

func (s *Server) handleRequest(req Request) Response {
	if req.Method == ports.CmdShutdown {
		return Response{ID: req.ID, Result: json.RawMessage(`{}`)}
	}
	if s.dispatcher == nil {
		return Response{ID: req.ID, Error: fmt.Sprintf("unknown method: %s", req.Method)}
	}

	result, err := s.dispatcher.Dispatch(s.ctx, req.Method, req.Params)
	if err != nil {
		return Response{ID: req.ID, Error: err.Error()}
	}
	if result == nil {
		return Response{ID: req.ID}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return Response{ID: req.ID, Error: fmt.Sprintf("encode %s result: %v", req.Method, err)}
	}
	return Response{ID: req.ID, Result: raw}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	data = append(data, '\n')
	conn.Write(data)
}

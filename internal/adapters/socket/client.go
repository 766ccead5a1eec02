package socket

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/corey/parley/internal/ports"
)

const (
	dialTimeout        = 2 * time.Second
	defaultCallTimeout = 30 * time.Second
	maxLine            = 1024 * 1024 // 1MB max message
)

// Client connects to the parley daemon over a Unix socket.
// It implements ports.Gateway.
type Client struct {
	sockPath string
	timeout  time.Duration
}

// NewClient creates a client that will connect to the given socket path.
func NewClient(sockPath string) *Client {
	return &Client{sockPath: sockPath, timeout: defaultCallTimeout}
}

// WithTimeout sets the per-call timeout used when ctx carries no deadline.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.timeout = d
	return c
}

var _ ports.Gateway = (*Client)(nil)

// Call implements ports.Gateway. Each call uses its own connection.
func (c *Client) Call(ctx context.Context, command string, args, result any) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	conn.SetDeadline(deadline)

	req, err := newRequest(command, args)
	if err != nil {
		return err
	}
	if err := writeLine(conn, req); err != nil {
		return err
	}

	scanner := newScanner(conn)
	resp, err := readResponse(scanner)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if resp.Error != "" {
		return &RemoteError{Method: command, Message: resp.Error}
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return errors.Wrapf(err, "decode %s result", command)
	}
	return nil
}

// Subscribe implements ports.Gateway. It holds a dedicated connection open
// for the subscription; a single reader goroutine delivers events in order.
func (c *Client) Subscribe(ctx context.Context, event string, handler ports.EventHandler) (ports.Unsubscribe, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	conn.SetDeadline(time.Now().Add(c.timeout))
	req, err := newRequest(MethodSubscribe, ports.SubscribeArgs{Event: event})
	if err == nil {
		err = writeLine(conn, req)
	}
	scanner := newScanner(conn)
	var resp *Response
	if err == nil {
		resp, err = readResponse(scanner)
	}
	if !stop() || err != nil || resp.Error != "" {
		conn.Close()
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			return nil, errors.Wrapf(err, "subscribe %s", event)
		default:
			return nil, &RemoteError{Method: MethodSubscribe, Message: resp.Error}
		}
	}
	conn.SetDeadline(time.Time{})

	var closed atomic.Bool
	go func() {
		defer conn.Close()
		for scanner.Scan() {
			if closed.Load() {
				return
			}
			var ev Event
			if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil || ev.Event != event {
				continue
			}
			handler(ev.Payload)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			closed.Store(true)
			conn.Close()
		})
	}, nil
}

// Health asks the daemon for its status.
func (c *Client) Health(ctx context.Context) (*ports.Health, error) {
	var h ports.Health
	if err := c.Call(ctx, ports.CmdHealth, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Shutdown sends a shutdown request to the daemon.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.Call(ctx, ports.CmdShutdown, nil, nil)
}

// Ping returns true if the daemon is reachable.
func (c *Client) Ping() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.Health(ctx)
	return err == nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "unix", c.sockPath)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	return conn, nil
}

func newRequest(method string, params any) (Request, error) {
	req := Request{ID: uuid.NewString(), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Request{}, errors.Wrap(err, "marshal params")
		}
		req.Params = raw
	}
	return req, nil
}

func newScanner(conn net.Conn) *bufio.Scanner {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	return scanner
}

func writeLine(conn net.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal")
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return errors.Wrap(err, "write")
	}
	return nil
}

func readResponse(scanner *bufio.Scanner) (*Response, error) {
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, errors.Wrap(err, "read")
		}
		return nil, errors.New("empty response")
	}
	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, errors.Wrap(err, "unmarshal response")
	}
	return &resp, nil
}

package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/nrcsync/config"
	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/wire"
)

// ClientConfig holds client configuration.
type ClientConfig struct {
	Addr           string
	Token          string
	TLS            bool
	TLSSkipVerify  bool
	ConnectTimeout time.Duration
}

// Client talks to a gateway. Requests may be issued concurrently; replies
// are matched by id.
type Client struct {
	conn net.Conn
	wire *wire.Conn

	pendingMu sync.Mutex
	pending   map[uint64]chan *wire.Response
	requestID atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
	readErr   error
}

// Dial connects and, when a token is configured, authenticates.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Addr == "" {
		cfg.Addr = config.DefaultListenAddress
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = config.DefaultDialTimeout
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	var conn net.Conn
	var err error
	if cfg.TLS {
		td := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify}}
		conn, err = td.DialContext(ctx, "tcp", cfg.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", cfg.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:    conn,
		wire:    wire.NewConn(conn),
		pending: make(map[uint64]chan *wire.Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	if cfg.Token != "" {
		body, _ := structpb.NewStruct(map[string]any{"token": cfg.Token})
		if _, err := c.Call(ctx, OpAuth, body); err != nil {
			c.Close()
			return nil, fmt.Errorf("authenticate: %w", err)
		}
	}
	return c, nil
}

// Close closes the connection. Waiting calls fail with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		<-c.done
	})
	return err
}

func (c *Client) readLoop() {
	defer func() {
		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		close(c.done)
		c.pendingMu.Unlock()
	}()

	for {
		env, err := c.wire.Read()
		if err != nil {
			c.readErr = err
			return
		}
		resp := wire.DecodeResponse(env)

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.pendingMu.Unlock()

		if ok {
			ch <- resp
		}
	}
}

// Call sends op with body and waits for the reply. A failed reply is
// returned as an error wrapping the sentinel of its code.
func (c *Client) Call(ctx context.Context, op string, body *structpb.Struct) (*wire.Response, error) {
	id := c.requestID.Add(1)
	ch := make(chan *wire.Response, 1)

	c.pendingMu.Lock()
	select {
	case <-c.done:
		c.pendingMu.Unlock()
		return nil, errors.ErrClosed
	default:
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.wire.Write(wire.EncodeRequest(&wire.Request{ID: id, Op: op, Body: body})); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("%w: %v", errors.ErrClosed, c.readErr)
		}
		if err := resp.Err(); err != nil {
			return resp, err
		}
		return resp, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("%w: %v", errors.ErrTimeout, ctx.Err())
	}
}

// CallJSON is Call with a JSON object body.
func (c *Client) CallJSON(ctx context.Context, op string, body []byte) (*wire.Response, error) {
	var s *structpb.Struct
	if len(body) > 0 {
		s = &structpb.Struct{}
		if err := protojson.Unmarshal(body, s); err != nil {
			return nil, errors.NewValidation("request", err.Error())
		}
	}
	return c.Call(ctx, op, s)
}

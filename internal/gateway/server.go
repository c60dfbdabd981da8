// Package gateway exposes the ingest operations over TCP.
//
// Each connection carries length-delimited Struct envelopes (see package
// wire). Requests on one connection are handled concurrently, up to a
// per-connection limit, and answered in completion order; clients match
// replies by id.
//
// Besides the ingest operation kinds the gateway answers a few control
// ops: auth, ping, kinds and stats.
package gateway

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/nrcsync/config"
	"github.com/xtxerr/nrcsync/internal/changes"
	"github.com/xtxerr/nrcsync/internal/errors"
	"github.com/xtxerr/nrcsync/internal/logging"
	"github.com/xtxerr/nrcsync/internal/operations"
	"github.com/xtxerr/nrcsync/internal/orchestrator"
	"github.com/xtxerr/nrcsync/internal/production"
	"github.com/xtxerr/nrcsync/internal/wire"
)

var log = logging.Component("gateway")

// Control ops.
const (
	OpAuth  = "auth"
	OpPing  = "ping"
	OpKinds = "kinds"
	OpStats = "stats"
)

// Submitter runs ingest requests, usually a dispatch.Dispatcher.
type Submitter interface {
	Submit(ctx context.Context, req operations.Request) (*orchestrator.Result, error)
}

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Listen is the address to listen on (e.g., "127.0.0.1:10541").
	Listen string

	// TLS configuration (optional).
	TLSCertFile string
	TLSKeyFile  string

	// Tokens enables authentication when not empty: the first message of
	// a connection must be an auth op carrying one of them.
	Tokens      []string
	AuthTimeout time.Duration

	MaxMessageSize int64
	// MaxInFlight bounds concurrent requests per connection.
	MaxInFlight int64

	// Stats answers the stats op; nil disables it.
	Stats func() any
}

// =============================================================================
// Server
// =============================================================================

// Server is the ingest gateway.
type Server struct {
	cfg     Config
	submit  Submitter
	limiter *RateLimiter

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool

	// ctx is cancelled only when a shutdown runs out of time.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new server.
func New(cfg Config, submit Submitter) *Server {
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultListenAddress
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = config.DefaultAuthTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = config.DefaultMaxMessageSize
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = config.DefaultMaxInFlight
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		submit:  submit,
		limiter: NewRateLimiter(config.DefaultAuthFailureLimit, config.DefaultAuthFailureWindow),
		conns:   make(map[net.Conn]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Listen binds the listener without serving yet.
func (s *Server) Listen() error {
	var ln net.Listener
	var err error

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("load TLS cert: %w", err)
		}
		tlsCfg := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		ln, err = tls.Listen("tcp", s.cfg.Listen, tlsCfg)
		if err != nil {
			return fmt.Errorf("TLS listen: %w", err)
		}
		log.Info("listening with TLS", "address", ln.Addr().String())
	} else {
		ln, err = net.Listen("tcp", s.cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		log.Info("listening without TLS", "address", ln.Addr().String())
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe binds and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve accepts connections until Shutdown, then returns nil.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.Wrap(errors.ErrInternal, "serve before listen")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			log.Error("accept error", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.handleConn(conn)
	}
}

// Shutdown stops accepting, stops reading from open connections and
// waits for in-flight requests to be answered. When ctx ends first the
// remaining requests are cancelled and the connections closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		// Unblocks the read loop; replies can still be written.
		conn.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	log.Info("gateway shutting down")
	defer s.limiter.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("gateway shutdown complete")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// =============================================================================
// Connection Handling
// =============================================================================

func (s *Server) handleConn(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	remoteIP := extractIP(remote)
	l := log.With("remote", remote)
	l.Debug("connection accepted")

	if s.limiter.IsBlocked(remoteIP) {
		l.Warn("blocked due to too many failed auth attempts")
		return
	}

	w := wire.NewConn(conn)
	w.SetMaxSize(s.cfg.MaxMessageSize)

	if len(s.cfg.Tokens) > 0 {
		if !s.authenticate(conn, w, remoteIP, l) || s.isClosed() {
			return
		}
	}

	sem := semaphore.NewWeighted(s.cfg.MaxInFlight)
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		env, err := w.Read()
		if err != nil {
			if err != io.EOF && !s.isClosed() {
				l.Debug("read failed, closing connection", "error", err)
			}
			return
		}

		req, err := wire.DecodeRequest(env)
		if err != nil {
			s.reply(w, wire.NewErrorFromErr(req.ID, err), l)
			continue
		}

		if err := sem.Acquire(s.ctx, 1); err != nil {
			return
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer sem.Release(1)
			s.reply(w, s.handle(req), l)
		}()
	}
}

func (s *Server) authenticate(conn net.Conn, w *wire.Conn, remoteIP string, l *slog.Logger) bool {
	conn.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout))
	defer conn.SetReadDeadline(time.Time{})

	env, err := w.Read()
	if err != nil {
		return false
	}
	req, err := wire.DecodeRequest(env)
	if err != nil || req.Op != OpAuth {
		s.limiter.RecordFailure(remoteIP)
		w.Write(wire.NewError(req.ID, errors.CodeInvalidRequest, "first message must be auth"))
		return false
	}

	token := req.Body.GetFields()["token"].GetStringValue()
	if !s.validToken(token) {
		s.limiter.RecordFailure(remoteIP)
		w.Write(wire.NewError(req.ID, errors.CodeInvalidRequest, "invalid token"))
		l.Warn("auth failed", "failure_count", s.limiter.FailureCount(remoteIP))
		return false
	}

	s.limiter.Reset(remoteIP)
	env, _ = wire.NewResult(req.ID, map[string]any{"authenticated": true})
	return w.Write(env) == nil
}

func (s *Server) validToken(token string) bool {
	if token == "" {
		return false
	}
	for _, t := range s.cfg.Tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

func (s *Server) reply(w *wire.Conn, env *structpb.Struct, l *slog.Logger) {
	if err := w.Write(env); err != nil {
		l.Debug("write failed", "error", err)
	}
}

// =============================================================================
// Message Handling
// =============================================================================

func (s *Server) handle(req *wire.Request) *structpb.Struct {
	var result any
	var err error

	switch req.Op {
	case OpAuth, OpPing:
		result = map[string]any{"ok": true}
	case OpKinds:
		result = map[string]any{"kinds": operations.Kinds()}
	case OpStats:
		if s.cfg.Stats == nil {
			err = errors.NewValidation("op", "stats are disabled")
		} else {
			result = map[string]any{"stats": s.cfg.Stats()}
		}
	default:
		result, err = s.ingest(req)
	}

	if err != nil {
		return wire.NewErrorFromErr(req.ID, err)
	}
	env, err := wire.NewResult(req.ID, result)
	if err != nil {
		return wire.NewErrorFromErr(req.ID, errors.Wrap(errors.ErrInternal, err.Error()))
	}
	return env
}

func (s *Server) ingest(req *wire.Request) (*ResultView, error) {
	body, err := wire.StructJSON(req.Body)
	if err != nil {
		return nil, errors.NewValidation("request", err.Error())
	}
	op, err := operations.Decode(req.Op, body)
	if err != nil {
		return nil, err
	}
	res, err := s.submit.Submit(s.ctx, op)
	if err != nil {
		return nil, err
	}
	return NewResultView(res), nil
}

// ResultView is the JSON form of an orchestrator result.
type ResultView struct {
	OperationID       string                          `json:"operationId"`
	RundownExternalID string                          `json:"rundownExternalId"`
	Action            string                          `json:"action"`
	RegenerateRundown bool                            `json:"regenerateRundown,omitempty"`
	Resynced          bool                            `json:"resynced,omitempty"`
	Summary           production.Summary              `json:"summary"`
	DurationMs        float64                         `json:"durationMs"`
	Changes           *changes.NrcsIngestChangeDetails `json:"changes,omitempty"`
}

// NewResultView converts res.
func NewResultView(res *orchestrator.Result) *ResultView {
	return &ResultView{
		OperationID:       res.OperationID,
		RundownExternalID: res.RundownExternalID,
		Action:            res.Action.String(),
		RegenerateRundown: res.RegenerateRundown,
		Resynced:          res.Resynced,
		Summary:           res.Summary,
		DurationMs:        float64(res.Duration) / float64(time.Millisecond),
		Changes:           res.Changes,
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown.
var ErrServerClosed = errors.New("place: server closed")

const (
	DefaultLoginTimeout = 10 * time.Second
	DefaultWriteTimeout = 5 * time.Second
	DefaultSendQueue    = 256

	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Options configures a Server. Zero values take the defaults above.
type Options struct {
	// Addr is the TCP address ListenAndServe binds, e.g. ":5000".
	Addr string

	// LoginTimeout bounds the wait for the first frame.
	LoginTimeout time.Duration

	// WriteTimeout bounds every write to a client.
	WriteTimeout time.Duration

	// SendQueue is the per-session outbound queue capacity. A session that
	// falls this far behind is evicted.
	SendQueue int

	// Cooldown, when positive, limits each session to one placement per
	// interval. Requests arriving early wait rather than being dropped.
	Cooldown time.Duration

	Logger  *logrus.Logger
	Metrics *Metrics
}

func (o *Options) applyDefaults() {
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = DefaultLoginTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.SendQueue <= 0 {
		o.SendQueue = DefaultSendQueue
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
}

// Server accepts client connections and runs a handler per connection
// against a shared Registry.
type Server struct {
	registry *Registry
	opts     Options
	log      *logrus.Entry
	metrics  *Metrics

	mu       sync.Mutex
	listener net.Listener
	conns    map[*conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// New creates a server for registry.
func New(registry *Registry, opts Options) *Server {
	opts.applyDefaults()
	return &Server{
		registry: registry,
		opts:     opts,
		log:      opts.Logger.WithField("component", "server"),
		metrics:  opts.Metrics,
		conns:    make(map[*conn]struct{}),
	}
}

// Registry returns the registry the server serves.
func (s *Server) Registry() *Registry {
	return s.registry
}

// ListenAndServe binds opts.Addr and serves until Shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(l)
}

// Serve runs the accept loop on l. It always returns a non-nil error;
// after Shutdown the error is ErrServerClosed.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"addr": l.Addr().String(),
		"dim":  s.registry.Dim(),
	}).Info("Accepting connections")

	var backoff time.Duration
	for {
		nc, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("listener closed: %w", err)
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff *= 2
			}
			if backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			s.log.WithError(err).WithField("retry_in", backoff).Warn("Accept failed")
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		c := s.newConn(NewStreamTransport(nc))
		if !s.track(c) {
			nc.Close()
			return ErrServerClosed
		}
		go c.serve()
	}
}

// ServeTransport runs a connection handler on t in the calling goroutine.
// Used by the WebSocket gateway; returns when the connection ends.
func (s *Server) ServeTransport(t Transport) {
	c := s.newConn(t)
	if !s.track(c) {
		t.Close()
		return
	}
	c.serve()
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting, closes every connection and waits for their
// handlers to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		c.close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("Server stopped")
		return err
	case <-ctx.Done():
		return fmt.Errorf("shutdown incomplete: %w", ctx.Err())
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	_, ok := s.conns[c]
	delete(s.conns, c)
	s.mu.Unlock()
	if ok {
		s.wg.Done()
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/place/pkg/place"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ConnState is the lifecycle stage of a client connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateLoggingIn
	StateActive
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLoggingIn:
		return "logging_in"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// conn drives one client from LOGIN to teardown. The goroutine running serve
// is the only reader; after login, writeLoop is the only writer.
type conn struct {
	srv *Server
	t   Transport
	id  string
	log *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	state     atomic.Int32
	closeOnce sync.Once

	session    *Session
	limiter    *rate.Limiter
	writerDone chan struct{}
}

func (s *Server) newConn(t Transport) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	c := &conn{
		srv:    s,
		t:      t,
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		log: s.log.WithFields(logrus.Fields{
			"session": id,
			"remote":  t.RemoteAddr(),
		}),
	}
	if s.opts.Cooldown > 0 {
		c.limiter = rate.NewLimiter(rate.Every(s.opts.Cooldown), 1)
	}
	return c
}

// State reports the connection's current lifecycle stage.
func (c *conn) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *conn) setState(s ConnState) {
	c.state.Store(int32(s))
}

// serve runs the connection to completion. Teardown is unconditional.
func (c *conn) serve() {
	defer c.teardown()

	c.log.Debug("Connection accepted")

	name, err := c.readLogin()
	if err != nil {
		c.log.WithError(err).Info("Login handshake failed")
		return
	}

	c.setState(StateLoggingIn)
	if err := c.login(name); err != nil {
		c.log.WithError(err).WithField("name", name).Info("Login rejected")
		return
	}

	c.setState(StateActive)
	c.readLoop()
}

// readLogin waits for the first frame, which must be LOGIN.
func (c *conn) readLogin() (string, error) {
	if err := c.t.SetReadDeadline(time.Now().Add(c.srv.opts.LoginTimeout)); err != nil {
		return "", fmt.Errorf("failed to set login deadline: %w", err)
	}
	msg, err := c.t.ReadMessage()
	if err != nil {
		if place.IsProtocolError(err) {
			c.srv.metrics.protocolError()
			c.writeDirect(place.ErrorMessage("expected LOGIN: " + err.Error()))
		}
		return "", fmt.Errorf("failed to read LOGIN: %w", err)
	}
	if err := c.t.SetReadDeadline(time.Time{}); err != nil {
		return "", fmt.Errorf("failed to clear login deadline: %w", err)
	}

	if msg.Type != place.MessageLogin {
		c.srv.metrics.protocolError()
		c.writeDirect(place.ErrorMessage(fmt.Sprintf("expected LOGIN, got %s", msg.Type)))
		return "", &place.ProtocolError{Reason: fmt.Sprintf("first message was %s", msg.Type)}
	}
	return msg.Name, nil
}

// login registers the session and, on success, starts the writer. On
// rejection the reason is written directly, since no writer exists yet.
func (c *conn) login(name string) error {
	session := NewSession(c.id, c.srv.opts.SendQueue, c.close)
	if err := c.srv.registry.Login(name, session); err != nil {
		c.writeDirect(place.ErrorMessage(err.Error()))
		return err
	}

	c.session = session
	c.log = c.log.WithField("name", name)
	c.writerDone = make(chan struct{})
	go c.writeLoop()
	return nil
}

func (c *conn) readLoop() {
	for {
		msg, err := c.t.ReadMessage()
		if err != nil {
			if place.IsProtocolError(err) {
				c.srv.metrics.protocolError()
				c.log.WithError(err).Warn("Closing connection after malformed message")
			} else if c.ctx.Err() == nil {
				c.log.WithError(err).Debug("Connection read ended")
			}
			return
		}

		switch msg.Type {
		case place.MessageChangeTile:
			if err := c.changeTile(*msg.Tile); err != nil {
				return
			}
		case place.MessageError:
			c.log.WithField("reason", msg.Text).Info("Client closed session")
			return
		default:
			c.srv.metrics.protocolError()
			c.log.WithField("type", msg.Type).Warn("Ignoring unexpected message from client")
		}
	}
}

// changeTile applies a placement on behalf of the session. It returns an
// error only when the connection should stop.
func (c *conn) changeTile(tile place.Tile) error {
	tile.Owner = c.session.Name()

	if c.limiter != nil {
		if err := c.limiter.Wait(c.ctx); err != nil {
			return err
		}
	}

	applied, err := c.srv.registry.Apply(tile)
	switch {
	case err == nil:
		c.log.WithFields(logrus.Fields{
			"row":   applied.Row,
			"col":   applied.Col,
			"color": applied.Color.String(),
		}).Debug("Tile changed")
	case errors.Is(err, place.ErrOutOfBounds):
		c.srv.metrics.tileDropped("out_of_bounds")
		c.log.WithError(err).Info("Dropping out-of-bounds tile")
	default:
		c.srv.metrics.tileDropped("invalid")
		c.log.WithError(err).Warn("Dropping invalid tile")
	}
	return nil
}

// writeLoop drains the session queue until the registry closes it. A failed
// write closes the transport, which unblocks the reader.
func (c *conn) writeLoop() {
	defer close(c.writerDone)

	for msg := range c.session.Outbound() {
		if err := c.t.SetWriteDeadline(time.Now().Add(c.srv.opts.WriteTimeout)); err != nil {
			c.close()
			return
		}
		if err := c.t.WriteMessage(msg); err != nil {
			if c.ctx.Err() == nil {
				c.log.WithError(err).Info("Write failed, closing connection")
			}
			c.close()
			return
		}
	}
}

// writeDirect is used before the writer goroutine exists.
func (c *conn) writeDirect(msg place.Message) {
	if err := c.t.SetWriteDeadline(time.Now().Add(c.srv.opts.WriteTimeout)); err != nil {
		return
	}
	if err := c.t.WriteMessage(msg); err != nil {
		c.log.WithError(err).Debug("Failed to write message")
	}
}

// close terminates the transport; safe to call from any goroutine, any number of times.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.t.Close()
	})
}

func (c *conn) teardown() {
	c.setState(StateClosing)

	if c.session != nil {
		c.srv.registry.Remove(c.session)
	}
	c.close()
	if c.writerDone != nil {
		<-c.writerDone
	}

	c.setState(StateClosed)
	c.srv.untrack(c)
	c.log.Debug("Connection closed")
}

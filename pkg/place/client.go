package place

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultCooldown is the advisory pause between two moves of one client.
	DefaultCooldown = 500 * time.Millisecond

	defaultHandshakeTimeout = 10 * time.Second
	defaultUpdateBuffer     = 256
)

// ErrCoolingDown is returned by SendTile while the client-side cooldown is active.
var ErrCoolingDown = errors.New("wait before making another move")

// ErrClientClosed is returned when using a client whose connection has ended.
var ErrClientClosed = errors.New("connection closed")

// LoginError is returned by Dial when the server rejects the login.
type LoginError struct {
	Name   string
	Reason string
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login as %q rejected: %s", e.Name, e.Reason)
}

// ServerError is recorded when the server sends ERROR during a session.
type ServerError struct {
	Reason string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Reason
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCooldown sets the minimum interval between two SendTile calls.
// Zero disables the cooldown.
func WithCooldown(d time.Duration) ClientOption {
	return func(c *Client) {
		c.cooldown = d
	}
}

// WithUpdateBuffer sets the capacity of the Updates channel.
func WithUpdateBuffer(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.updateBuffer = n
		}
	}
}

// WithHandshakeTimeout bounds the login exchange when the context carries no deadline.
func WithHandshakeTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.handshakeTimeout = d
	}
}

// Client is a logged-in connection to a Place server. It keeps a local copy
// of the board up to date from TILE_CHANGED pushes.
// Client is safe for concurrent use.
type Client struct {
	name    string
	welcome string
	conn    net.Conn
	enc     *Encoder
	dec     *Decoder

	cooldown         time.Duration
	updateBuffer     int
	handshakeTimeout time.Duration
	now              func() time.Time

	mu       sync.Mutex
	board    *Board
	lastMove time.Time
	err      error

	updates   chan Tile
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// Dial connects to addr and logs in as name. It returns only once both
// LOGIN_SUCCESS and BOARD have been received; a rejected login yields a
// *LoginError.
func Dial(ctx context.Context, addr, name string, opts ...ClientOption) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	client, err := Handshake(ctx, conn, name, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

// Handshake performs the login exchange over an established connection and
// starts the receive loop. The caller keeps ownership of conn on error.
func Handshake(ctx context.Context, conn net.Conn, name string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		name:             name,
		conn:             conn,
		enc:              NewEncoder(conn),
		dec:              NewDecoder(conn),
		cooldown:         DefaultCooldown,
		updateBuffer:     defaultUpdateBuffer,
		handshakeTimeout: defaultHandshakeTimeout,
		now:              time.Now,
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.handshakeTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("failed to set handshake deadline: %w", err)
	}

	if err := c.enc.Encode(LoginMessage(name)); err != nil {
		return nil, fmt.Errorf("failed to send login: %w", err)
	}

	reply, err := c.dec.Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to read login reply: %w", err)
	}
	switch reply.Type {
	case MessageLoginSuccess:
		c.welcome = reply.Text
	case MessageError:
		return nil, &LoginError{Name: name, Reason: reply.Text}
	default:
		return nil, &ProtocolError{Reason: fmt.Sprintf("expected %s, got %s", MessageLoginSuccess, reply.Type)}
	}

	snapshot, err := c.dec.Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to read board: %w", err)
	}
	if snapshot.Type != MessageBoard {
		return nil, &ProtocolError{Reason: fmt.Sprintf("expected %s, got %s", MessageBoard, snapshot.Type)}
	}
	c.board = snapshot.Board

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("failed to clear handshake deadline: %w", err)
	}

	c.updates = make(chan Tile, c.updateBuffer)
	go c.receive()

	return c, nil
}

// Name returns the name this client logged in with.
func (c *Client) Name() string {
	return c.name
}

// Welcome returns the server's LOGIN_SUCCESS text.
func (c *Client) Welcome() string {
	return c.welcome
}

// Board returns a copy of the locally maintained board.
func (c *Client) Board() *Board {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board.Clone()
}

// Updates delivers every TILE_CHANGED push after it has been applied to the
// local board. If the consumer falls behind, notifications are dropped; the
// local board is always updated. The channel is closed when the connection ends.
func (c *Client) Updates() <-chan Tile {
	return c.updates
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended: a *ServerError, a *ProtocolError or
// a lost connection. It returns nil while connected and after a local Close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SendTile requests a placement. There is no direct reply: the client sees
// its own move as a TILE_CHANGED push.
func (c *Client) SendTile(row, col int, color Color) error {
	if err := color.Validate(); err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	c.mu.Lock()
	now := c.now()
	if c.cooldown > 0 && !c.lastMove.IsZero() && now.Sub(c.lastMove) < c.cooldown {
		c.mu.Unlock()
		return ErrCoolingDown
	}
	c.lastMove = now
	c.mu.Unlock()

	tile := Tile{Row: row, Col: col, Owner: c.name, Color: color}
	if err := c.enc.Encode(ChangeTileMessage(tile)); err != nil {
		return fmt.Errorf("failed to send move: %w", err)
	}
	return nil
}

// Leave tells the server the client is going away and closes the connection.
func (c *Client) Leave(reason string) error {
	if reason == "" {
		reason = "bye"
	}
	sendErr := c.enc.Encode(ErrorMessage(reason))
	closeErr := c.Close()
	if sendErr != nil && !errors.Is(sendErr, net.ErrClosed) {
		return fmt.Errorf("failed to send leave: %w", sendErr)
	}
	return closeErr
}

// Close closes the connection. Safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) receive() {
	defer close(c.done)
	defer close(c.updates)
	defer c.Close()

	for {
		msg, err := c.dec.Decode()
		if err != nil {
			if !c.closed.Load() {
				c.fail(fmt.Errorf("lost connection to server: %w", err))
			}
			return
		}

		switch msg.Type {
		case MessageTileChanged:
			c.apply(*msg.Tile)
		case MessageError:
			c.fail(&ServerError{Reason: msg.Text})
			return
		default:
			c.fail(&ProtocolError{Reason: fmt.Sprintf("unexpected %s during session", msg.Type)})
			return
		}
	}
}

func (c *Client) apply(tile Tile) {
	c.mu.Lock()
	err := c.board.Set(tile)
	c.mu.Unlock()
	if err != nil {
		// The server only pushes tiles it accepted on a board of the same size.
		c.fail(&ProtocolError{Reason: "pushed tile does not fit the board", Err: err})
		c.Close()
		return
	}

	select {
	case c.updates <- tile:
	default:
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

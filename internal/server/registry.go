package server

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dyluth/place/pkg/place"
	"github.com/sirupsen/logrus"
)

// maxNameLength bounds login names in bytes.
const maxNameLength = 64

var (
	// ErrNameTaken is returned when logging in under a name that is already registered.
	ErrNameTaken = errors.New("login error: name already in use")

	// ErrInvalidName is returned for empty, oversized or non-printable names.
	ErrInvalidName = errors.New("login error: invalid name")
)

// Observer is notified of every accepted placement, in apply order.
// TileChanged runs while the registry lock is held and must not block.
type Observer interface {
	TileChanged(tile place.Tile)
}

// Registry owns the board and the set of logged-in sessions.
//
// A single mutex guards both. Applying a placement, stamping it, and queueing
// the resulting TILE_CHANGED on every session happen as one step under that
// mutex, which gives a total order of placements: every session's queue
// receives pushes in exactly the order the board writes were applied.
// Snapshots taken at login are queued under the same mutex, so a joining
// session sees the board and then every later change, with no gap or overlap.
//
// No network I/O happens under the mutex: queues are buffered and enqueue is
// non-blocking. A session whose queue is full is evicted.
type Registry struct {
	mu        sync.Mutex
	board     *place.Board
	sessions  map[string]*Session
	observers []Observer

	now     func() time.Time
	log     *logrus.Entry
	metrics *Metrics
}

// NewRegistry creates a registry with a fresh dim×dim board.
// logger and metrics may be nil.
func NewRegistry(dim int, logger *logrus.Logger, metrics *Metrics) (*Registry, error) {
	board, err := place.NewBoard(dim)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Registry{
		board:    board,
		sessions: make(map[string]*Session),
		now:      time.Now,
		log:      logger.WithField("component", "registry"),
		metrics:  metrics,
	}, nil
}

// AddObserver registers an observer for accepted placements.
func (r *Registry) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Dim returns the board's side length.
func (r *Registry) Dim() int {
	return r.board.Dim()
}

// Login registers s under name. On success LOGIN_SUCCESS and a BOARD
// snapshot are queued on the session before any other push can reach it.
// Names are matched exactly (case-sensitive).
func (r *Registry) Login(name string, s *Session) error {
	if err := validateName(name); err != nil {
		r.metrics.loginRejected("invalid")
		return err
	}

	r.mu.Lock()
	if _, exists := r.sessions[name]; exists {
		r.mu.Unlock()
		r.metrics.loginRejected("name_taken")
		return fmt.Errorf("%w: there is already a user named %q", ErrNameTaken, name)
	}

	s.name = name
	r.sessions[name] = s
	s.queue <- place.LoginSuccessMessage("Welcome " + name)
	s.queue <- place.BoardMessage(r.board.Clone())
	count := len(r.sessions)
	r.mu.Unlock()

	r.metrics.loginAccepted()
	r.metrics.setSessions(count)
	r.log.WithFields(logrus.Fields{
		"name":     name,
		"session":  s.id,
		"sessions": count,
	}).Info("Session logged in")

	return nil
}

// Logout removes the session registered under name and terminates its
// connection. Unknown names are ignored, so Logout is idempotent.
func (r *Registry) Logout(name string) {
	r.mu.Lock()
	s, ok := r.sessions[name]
	if ok {
		r.removeLocked(s)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}
	s.kick()
	r.metrics.setSessions(count)
	r.log.WithFields(logrus.Fields{"name": name, "session": s.id}).Info("Session logged out")
}

// Remove unregisters s if, and only if, it is the session currently
// registered under its name, and closes its queue. Safe to call repeatedly
// and for sessions that never logged in.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	removed := false
	if current, ok := r.sessions[s.name]; ok && current == s {
		removed = true
	}
	r.removeLocked(s)
	count := len(r.sessions)
	r.mu.Unlock()

	if removed {
		r.metrics.setSessions(count)
		r.log.WithFields(logrus.Fields{
			"name":     s.name,
			"session":  s.id,
			"sessions": count,
		}).Info("Session removed")
	}
}

// Apply stamps the tile with the acceptance time, writes it to the board and
// queues TILE_CHANGED on every registered session, including the mover's.
// Out-of-bounds tiles return place.ErrOutOfBounds and change nothing.
func (r *Registry) Apply(tile place.Tile) (place.Tile, error) {
	r.mu.Lock()
	if !r.board.InBounds(tile.Row, tile.Col) {
		dim := r.board.Dim()
		r.mu.Unlock()
		return place.Tile{}, fmt.Errorf("%w: (%d,%d) on %dx%d board", place.ErrOutOfBounds, tile.Row, tile.Col, dim, dim)
	}

	tile.TimeMs = r.now().UnixMilli()
	if err := r.board.Set(tile); err != nil {
		r.mu.Unlock()
		return place.Tile{}, err
	}

	evicted := r.broadcastLocked(place.TileChangedMessage(tile))
	for _, o := range r.observers {
		o.TileChanged(tile)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	r.metrics.tileAccepted()
	if len(evicted) > 0 {
		r.metrics.setSessions(count)
	}
	for _, s := range evicted {
		r.log.WithFields(logrus.Fields{"name": s.name, "session": s.id}).Warn("Evicting session: outbound queue full")
		r.metrics.sessionEvicted()
		s.kick()
	}

	return tile, nil
}

// Snapshot returns a consistent copy of the board.
func (r *Registry) Snapshot() *place.Board {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.board.Clone()
}

// Get returns the current tile at (row, col).
func (r *Registry) Get(row, col int) (place.Tile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.board.Get(row, col)
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// broadcastLocked queues msg on every session. Sessions that cannot accept it
// are removed and returned so the caller can kick them after unlocking.
func (r *Registry) broadcastLocked(msg place.Message) []*Session {
	var evicted []*Session
	for _, s := range r.sessions {
		select {
		case s.queue <- msg:
		default:
			evicted = append(evicted, s)
		}
	}
	for _, s := range evicted {
		r.removeLocked(s)
	}
	return evicted
}

func (r *Registry) removeLocked(s *Session) {
	if current, ok := r.sessions[s.name]; ok && current == s {
		delete(r.sessions, s.name)
	}
	if !s.queueClosed {
		s.queueClosed = true
		close(s.queue)
	}
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidName, maxNameLength)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: name is not valid UTF-8", ErrInvalidName)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: name contains control characters", ErrInvalidName)
		}
	}
	return nil
}

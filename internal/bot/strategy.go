package bot

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/dyluth/place/pkg/place"
)

// Move is one placement a bot wants to make.
type Move struct {
	Row   int
	Col   int
	Color place.Color
}

// Strategy decides a bot's moves. The runner calls Observe and Next from a
// single goroutine, so implementations need no locking.
type Strategy interface {
	// Prefix is used to build the bot's login name.
	Prefix() string

	// Observe is called for every placement the bot sees, including its own.
	Observe(tile place.Tile, board *place.Board)

	// Next returns the move to make on this tick, or false to skip it.
	Next(board *place.Board) (Move, bool)
}

type factory func(rng *rand.Rand) Strategy

var strategies = map[string]factory{
	"ocean":    func(rng *rand.Rand) Strategy { return &ocean{rng: rng} },
	"random":   func(rng *rand.Rand) Strategy { return &random{rng: rng} },
	"stripes":  func(rng *rand.Rand) Strategy { return &stripes{} },
	"eraser":   func(rng *rand.Rand) Strategy { return &repaint{prefix: "Eraser", color: place.White} },
	"darkness": func(rng *rand.Rand) Strategy { return &repaint{prefix: "Darkness", color: place.Black} },
	"mirror":   func(rng *rand.Rand) Strategy { return &transpose{} },
}

// Names lists the available strategies, sorted.
func Names() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the named strategy. rng may be nil.
func New(name string, rng *rand.Rand) (Strategy, error) {
	f, ok := strategies[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (available: %v)", name, Names())
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return f(rng), nil
}

// oceanColors are the palette's blues.
var oceanColors = []place.Color{place.Teal, place.Aqua, place.Navy, place.Blue}

// ocean paints random tiles in shades of blue.
type ocean struct {
	rng *rand.Rand
}

func (s *ocean) Prefix() string                         { return "Ocean" }
func (s *ocean) Observe(tile place.Tile, b *place.Board) {}

func (s *ocean) Next(board *place.Board) (Move, bool) {
	return Move{
		Row:   s.rng.IntN(board.Dim()),
		Col:   s.rng.IntN(board.Dim()),
		Color: oceanColors[s.rng.IntN(len(oceanColors))],
	}, true
}

// random paints random tiles in random colours.
type random struct {
	rng *rand.Rand
}

func (s *random) Prefix() string                         { return "Random" }
func (s *random) Observe(tile place.Tile, b *place.Board) {}

func (s *random) Next(board *place.Board) (Move, bool) {
	return Move{
		Row:   s.rng.IntN(board.Dim()),
		Col:   s.rng.IntN(board.Dim()),
		Color: place.Color(s.rng.IntN(place.NumColors)),
	}, true
}

// stripes sweeps the board column by column, alternating black and yellow.
type stripes struct {
	row, col int
}

func (s *stripes) Prefix() string                         { return "Bee" }
func (s *stripes) Observe(tile place.Tile, b *place.Board) {}

func (s *stripes) Next(board *place.Board) (Move, bool) {
	dim := board.Dim()
	if s.row >= dim || s.col >= dim {
		s.row, s.col = 0, 0
	}

	color := place.Black
	if s.col%2 == 1 {
		color = place.Yellow
	}
	m := Move{Row: s.row, Col: s.col, Color: color}

	s.row++
	if s.row == dim {
		s.row = 0
		s.col = (s.col + 1) % dim
	}
	return m, true
}

// maxPending bounds the backlog of reactive strategies.
const maxPending = 1024

// pending is a FIFO of moves with set semantics on coordinates.
type pending struct {
	moves  []Move
	queued map[[2]int]bool
}

func (p *pending) push(m Move) {
	if p.queued == nil {
		p.queued = make(map[[2]int]bool)
	}
	key := [2]int{m.Row, m.Col}
	if p.queued[key] || len(p.moves) >= maxPending {
		return
	}
	p.queued[key] = true
	p.moves = append(p.moves, m)
}

func (p *pending) pop() (Move, bool) {
	if len(p.moves) == 0 {
		return Move{}, false
	}
	m := p.moves[0]
	p.moves = p.moves[1:]
	delete(p.queued, [2]int{m.Row, m.Col})
	return m, true
}

// repaint restores every tile somebody paints to a single colour.
type repaint struct {
	prefix string
	color  place.Color
	queue  pending
}

func (s *repaint) Prefix() string { return s.prefix }

func (s *repaint) Observe(tile place.Tile, b *place.Board) {
	if tile.Color != s.color {
		s.queue.push(Move{Row: tile.Row, Col: tile.Col, Color: s.color})
	}
}

func (s *repaint) Next(board *place.Board) (Move, bool) {
	for {
		m, ok := s.queue.pop()
		if !ok {
			return Move{}, false
		}
		// Skip tiles that were repainted by someone else in the meantime.
		if tile, err := board.Get(m.Row, m.Col); err == nil && tile.Color != m.Color {
			return m, true
		}
	}
}

// transpose copies every placement to its transposed coordinate.
type transpose struct {
	queue pending
}

func (s *transpose) Prefix() string { return "Mirror" }

func (s *transpose) Observe(tile place.Tile, board *place.Board) {
	if tile.Row == tile.Col {
		return
	}
	target, err := board.Get(tile.Col, tile.Row)
	if err != nil || target.Color == tile.Color {
		return
	}
	s.queue.push(Move{Row: tile.Col, Col: tile.Row, Color: tile.Color})
}

func (s *transpose) Next(board *place.Board) (Move, bool) {
	return s.queue.pop()
}

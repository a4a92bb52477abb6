package place

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxDim is the largest board side whose snapshot fits in one frame.
const MaxDim = 256

var (
	// ErrOutOfBounds is returned when a coordinate falls outside [0, Dim).
	ErrOutOfBounds = errors.New("tile coordinates out of bounds")

	// ErrInvalidDimension is returned when a board is created with dim outside 1..MaxDim.
	ErrInvalidDimension = errors.New("board dimension out of range")
)

// Tile is one cell of the board. Tiles are values: a placement replaces the
// stored tile as a whole.
type Tile struct {
	Row    int    `json:"row"`
	Col    int    `json:"col"`
	Owner  string `json:"owner"`
	Color  Color  `json:"color"`
	TimeMs int64  `json:"time_ms"` // Unix milliseconds, assigned by the server on acceptance
}

// String renders the tile for logs.
func (t Tile) String() string {
	owner := t.Owner
	if owner == "" {
		owner = "-"
	}
	return fmt.Sprintf("(%d,%d) %s by %s", t.Row, t.Col, t.Color, owner)
}

// Board is the Dim×Dim grid, stored row-major.
// Board is not safe for concurrent use; the server serialises access to it.
type Board struct {
	dim   int
	tiles []Tile
}

// NewBoard creates a board with every tile WHITE and unowned.
func NewBoard(dim int) (*Board, error) {
	if dim < 1 || dim > MaxDim {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDimension, dim)
	}

	tiles := make([]Tile, dim*dim)
	for row := 0; row < dim; row++ {
		for col := 0; col < dim; col++ {
			tiles[row*dim+col] = Tile{Row: row, Col: col, Color: DefaultColor}
		}
	}

	return &Board{dim: dim, tiles: tiles}, nil
}

// Dim returns the side length.
func (b *Board) Dim() int {
	return b.dim
}

// InBounds reports whether (row, col) addresses a tile on this board.
func (b *Board) InBounds(row, col int) bool {
	return row >= 0 && row < b.dim && col >= 0 && col < b.dim
}

// Get returns the tile at (row, col).
func (b *Board) Get(row, col int) (Tile, error) {
	if !b.InBounds(row, col) {
		return Tile{}, fmt.Errorf("%w: (%d,%d) on %dx%d board", ErrOutOfBounds, row, col, b.dim, b.dim)
	}
	return b.tiles[row*b.dim+col], nil
}

// Set replaces the tile at (tile.Row, tile.Col). The board is left untouched
// when the coordinates are out of bounds or the colour is invalid.
func (b *Board) Set(tile Tile) error {
	if !b.InBounds(tile.Row, tile.Col) {
		return fmt.Errorf("%w: (%d,%d) on %dx%d board", ErrOutOfBounds, tile.Row, tile.Col, b.dim, b.dim)
	}
	if err := tile.Color.Validate(); err != nil {
		return err
	}
	b.tiles[tile.Row*b.dim+tile.Col] = tile
	return nil
}

// Clone returns a deep copy suitable for handing to another goroutine.
func (b *Board) Clone() *Board {
	tiles := make([]Tile, len(b.tiles))
	copy(tiles, b.tiles)
	return &Board{dim: b.dim, tiles: tiles}
}

// Tiles returns a row-major copy of every tile.
func (b *Board) Tiles() []Tile {
	tiles := make([]Tile, len(b.tiles))
	copy(tiles, b.tiles)
	return tiles
}

type boardJSON struct {
	Dim   int    `json:"dim"`
	Tiles []Tile `json:"tiles"`
}

// MarshalJSON encodes the board as {"dim": n, "tiles": [...]}.
func (b *Board) MarshalJSON() ([]byte, error) {
	return json.Marshal(boardJSON{Dim: b.dim, Tiles: b.tiles})
}

// UnmarshalJSON decodes a board and checks that every coordinate is present
// exactly once.
func (b *Board) UnmarshalJSON(data []byte) error {
	var raw boardJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	board, err := NewBoard(raw.Dim)
	if err != nil {
		return err
	}
	if len(raw.Tiles) != raw.Dim*raw.Dim {
		return fmt.Errorf("board of dim %d must carry %d tiles, got %d", raw.Dim, raw.Dim*raw.Dim, len(raw.Tiles))
	}

	seen := make([]bool, len(raw.Tiles))
	for _, tile := range raw.Tiles {
		if err := board.Set(tile); err != nil {
			return fmt.Errorf("invalid board tile: %w", err)
		}
		idx := tile.Row*raw.Dim + tile.Col
		if seen[idx] {
			return fmt.Errorf("duplicate board tile at (%d,%d)", tile.Row, tile.Col)
		}
		seen[idx] = true
	}

	*b = *board
	return nil
}

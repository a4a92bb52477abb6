package printer

import (
	"fmt"
	"io"
	"strings"

	"github.com/dyluth/place/pkg/place"
	"github.com/fatih/color"
)

// Swatch returns a two-cell block painted in c. With colour disabled it
// falls back to the palette index as a hex digit, so boards stay readable
// in logs and pipes.
func Swatch(c place.Color) string {
	if color.NoColor {
		return fmt.Sprintf("%x ", c.Index())
	}
	rgb := c.RGB()
	return color.BgRGB(int(rgb.R), int(rgb.G), int(rgb.B)).Sprint("  ")
}

// RenderBoard writes board as a grid of swatches with row and column indices.
func RenderBoard(w io.Writer, board *place.Board) {
	dim := board.Dim()
	width := len(fmt.Sprint(dim - 1))

	var sb strings.Builder
	sb.WriteString(strings.Repeat(" ", width+1))
	for col := 0; col < dim; col++ {
		fmt.Fprintf(&sb, "%-2d", col%100)
	}
	sb.WriteString("\n")

	for row := 0; row < dim; row++ {
		fmt.Fprintf(&sb, "%*d ", width, row)
		for col := 0; col < dim; col++ {
			tile, _ := board.Get(row, col)
			sb.WriteString(Swatch(tile.Color))
		}
		sb.WriteString("\n")
	}

	io.WriteString(w, sb.String())
}

// Board prints board to Stdout.
func Board(board *place.Board) {
	RenderBoard(Stdout, board)
}

// Legend lists the palette as "index name swatch" entries.
func Legend(w io.Writer) {
	for _, c := range place.Palette() {
		fmt.Fprintf(w, "%2d %-8s %s\n", c.Index(), c.String(), Swatch(c))
	}
}

// TileLine formats one placement for a human: "alice painted (0,1) BLUE".
func TileLine(tile place.Tile) string {
	owner := tile.Owner
	if owner == "" {
		owner = "(nobody)"
	}
	return fmt.Sprintf("%s painted (%d,%d) %s %s", owner, tile.Row, tile.Col, tile.Color, Swatch(tile.Color))
}

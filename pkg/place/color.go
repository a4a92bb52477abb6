package place

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownColor is returned when a colour index or name is not part of the palette.
var ErrUnknownColor = errors.New("unknown color")

// Color is one of the 16 palette entries. The underlying value is the stable
// palette index used on the wire.
type Color uint8

const (
	Black Color = iota
	Gray
	Silver
	White
	Maroon
	Red
	Olive
	Yellow
	Green
	Lime
	Teal
	Aqua
	Navy
	Blue
	Purple
	Fuchsia

	// NumColors is the size of the palette.
	NumColors = 16
)

// DefaultColor is the colour of a tile nobody has painted yet.
const DefaultColor = White

// RGB is a colour's red, green and blue components.
type RGB struct {
	R, G, B uint8
}

type paletteEntry struct {
	name string
	rgb  RGB
}

var palette = [NumColors]paletteEntry{
	Black:   {"BLACK", RGB{0, 0, 0}},
	Gray:    {"GRAY", RGB{128, 128, 128}},
	Silver:  {"SILVER", RGB{192, 192, 192}},
	White:   {"WHITE", RGB{255, 255, 255}},
	Maroon:  {"MAROON", RGB{128, 0, 0}},
	Red:     {"RED", RGB{255, 0, 0}},
	Olive:   {"OLIVE", RGB{128, 128, 0}},
	Yellow:  {"YELLOW", RGB{255, 255, 0}},
	Green:   {"GREEN", RGB{0, 128, 0}},
	Lime:    {"LIME", RGB{0, 255, 0}},
	Teal:    {"TEAL", RGB{0, 128, 128}},
	Aqua:    {"AQUA", RGB{0, 255, 255}},
	Navy:    {"NAVY", RGB{0, 0, 128}},
	Blue:    {"BLUE", RGB{0, 0, 255}},
	Purple:  {"PURPLE", RGB{128, 0, 128}},
	Fuchsia: {"FUCHSIA", RGB{255, 0, 255}},
}

// Palette returns every colour in index order.
func Palette() []Color {
	colors := make([]Color, NumColors)
	for i := range colors {
		colors[i] = Color(i)
	}
	return colors
}

// ColorFromIndex maps a palette index to its Color.
// Returns ErrUnknownColor for indices outside 0..15.
func ColorFromIndex(index int) (Color, error) {
	if index < 0 || index >= NumColors {
		return 0, fmt.Errorf("%w: index %d", ErrUnknownColor, index)
	}
	return Color(index), nil
}

// ParseColor accepts a palette name (case-insensitive), a decimal index
// ("13") or a single hex digit ("d").
func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	for i, entry := range palette {
		if entry.name == upper {
			return Color(i), nil
		}
	}

	if n, err := strconv.Atoi(s); err == nil {
		return ColorFromIndex(n)
	}
	if len(s) == 1 {
		if n, err := strconv.ParseUint(s, 16, 8); err == nil {
			return ColorFromIndex(int(n))
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownColor, s)
}

// Index returns the stable palette index.
func (c Color) Index() int {
	return int(c)
}

// Valid reports whether c is a palette entry.
func (c Color) Valid() bool {
	return int(c) < NumColors
}

// Validate returns ErrUnknownColor if c is not a palette entry.
func (c Color) Validate() error {
	if !c.Valid() {
		return fmt.Errorf("%w: index %d", ErrUnknownColor, int(c))
	}
	return nil
}

// RGB returns the colour's components. Invalid colours map to black.
func (c Color) RGB() RGB {
	if !c.Valid() {
		return RGB{}
	}
	return palette[c].rgb
}

// String returns the palette name, e.g. "BLUE".
func (c Color) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Color(%d)", int(c))
	}
	return palette[c].name
}

// MarshalJSON encodes the colour as its palette index.
func (c Color) MarshalJSON() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return []byte(strconv.Itoa(int(c))), nil
}

// UnmarshalJSON decodes a palette index and rejects anything outside the palette.
func (c *Color) UnmarshalJSON(data []byte) error {
	var index int
	if err := json.Unmarshal(data, &index); err != nil {
		return fmt.Errorf("color must be a palette index: %w", err)
	}
	color, err := ColorFromIndex(index)
	if err != nil {
		return err
	}
	*c = color
	return nil
}

package printer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/dyluth/place/pkg/place"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture redirects printer output for the duration of a test and disables colour.
func capture(t *testing.T) (stdout, stderr *bytes.Buffer) {
	t.Helper()
	stdout, stderr = &bytes.Buffer{}, &bytes.Buffer{}

	prevOut, prevErr, prevNoColor := Stdout, Stderr, color.NoColor
	Stdout, Stderr, color.NoColor = stdout, stderr, true
	t.Cleanup(func() {
		Stdout, Stderr, color.NoColor = prevOut, prevErr, prevNoColor
	})
	return stdout, stderr
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		capture(t)
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
	})

	t.Run("single suggestion printed plainly", func(t *testing.T) {
		_, stderr := capture(t)
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, stderr.String(), "Explanation\n")
		assert.Contains(t, stderr.String(), "Try this fix\n")
		assert.NotContains(t, stderr.String(), "Either:")
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		_, stderr := capture(t)
		err := Error("Test Error", "Explanation", []string{
			"First option",
			"Second option",
		})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, stderr.String(), "Either:\n  1. First option\n  2. Second option\n")
	})
}

func TestErrorWithContext(t *testing.T) {
	_, stderr := capture(t)
	context := map[string]string{
		"Port":     "5000",
		"Instance": "test-instance",
	}
	err := ErrorWithContext("Test Error", "Explanation", context, nil)
	require.Equal(t, "Test Error", err.Error())

	out := stderr.String()
	assert.Less(t, strings.Index(out, "Instance: test-instance"), strings.Index(out, "Port: 5000"), "context printed in key order")
}

func TestSuccessAndWarning(t *testing.T) {
	stdout, _ := capture(t)

	Success("Server started\n")
	Warning("Mirror unavailable\n")
	Step("Connecting\n")

	assert.Contains(t, stdout.String(), "✓ Server started")
	assert.Contains(t, stdout.String(), "⚠️  Mirror unavailable")
	assert.Contains(t, stdout.String(), "→ Connecting")
}

func TestRenderBoard(t *testing.T) {
	capture(t)

	board, err := place.NewBoard(2)
	require.NoError(t, err)
	require.NoError(t, board.Set(place.Tile{Row: 0, Col: 1, Color: place.Blue, Owner: "alice"}))

	var buf bytes.Buffer
	RenderBoard(&buf, board)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "  0 1 ", lines[0])
	assert.Equal(t, "0 3 d ", lines[1])
	assert.Equal(t, "1 3 3 ", lines[2])
}

func TestTileLine(t *testing.T) {
	capture(t)

	line := TileLine(place.Tile{Row: 0, Col: 1, Color: place.Blue, Owner: "alice"})
	assert.Equal(t, "alice painted (0,1) BLUE d ", line)

	line = TileLine(place.Tile{Color: place.White})
	assert.Contains(t, line, "(nobody)")
}

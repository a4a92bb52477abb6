package history

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dyluth/place/pkg/place"
	"github.com/olekukonko/tablewriter"
)

// now is replaced in tests.
var now = time.Now

// FormatTable writes tiles as a table with columns TIME, AGE, OWNER, ROW,
// COL and COLOR. Returns the number of tiles formatted.
func FormatTable(w io.Writer, tiles []place.Tile, instanceName string) (int, error) {
	if len(tiles) == 0 {
		fmt.Fprintf(w, "No placements found for instance '%s'\n", instanceName)
		return 0, nil
	}

	fmt.Fprintf(w, "Placements for instance '%s':\n\n", instanceName)

	table := tablewriter.NewWriter(w)
	table.Header([]string{"TIME", "AGE", "OWNER", "ROW", "COL", "COLOR"})
	for _, tile := range tiles {
		row := []string{
			strconv.FormatInt(tile.TimeMs, 10),
			formatAge(tile.TimeMs),
			formatOwner(tile.Owner),
			strconv.Itoa(tile.Row),
			strconv.Itoa(tile.Col),
			tile.Color.String(),
		}
		if err := table.Append(row); err != nil {
			return 0, fmt.Errorf("failed to build table: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return 0, fmt.Errorf("failed to render table: %w", err)
	}

	noun := "placement"
	if len(tiles) != 1 {
		noun = "placements"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(tiles), noun)

	return len(tiles), nil
}

// FormatJSONL writes one compact JSON tile per line, for jq and friends.
func FormatJSONL(w io.Writer, tiles []place.Tile) error {
	for _, tile := range tiles {
		data, err := json.Marshal(tile)
		if err != nil {
			return fmt.Errorf("failed to marshal tile to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

func formatOwner(owner string) string {
	if owner == "" {
		return "-"
	}
	if len(owner) > 24 {
		return owner[:21] + "..."
	}
	return owner
}

// formatAge renders a Unix millisecond timestamp relative to now: "42s ago".
func formatAge(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := now().Sub(time.UnixMilli(timestampMs))
	switch {
	case diff < 0:
		return "just now"
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

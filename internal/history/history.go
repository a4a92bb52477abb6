package history

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/place/internal/mirror"
	"github.com/dyluth/place/internal/timespec"
	"github.com/dyluth/place/pkg/place"
)

// OutputFormat specifies how to format the placement list.
type OutputFormat string

const (
	// OutputFormatTable renders an aligned table with relative times.
	OutputFormatTable OutputFormat = "table"

	// OutputFormatJSONL outputs complete tiles as line-delimited JSON.
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputFormatTable, OutputFormatJSONL:
		return OutputFormat(s), nil
	case "", "default":
		return OutputFormatTable, nil
	default:
		return "", fmt.Errorf("unknown output format: %s", s)
	}
}

// Source reads mirrored placements. Implemented by *mirror.Client.
type Source interface {
	History(ctx context.Context, q mirror.HistoryQuery) ([]place.Tile, error)
}

// FilterCriteria narrows the listing. All filters are ANDed together.
type FilterCriteria struct {
	Range timespec.Range
	Owner string       // exact match, empty = no filter
	Color *place.Color // nil = no filter
	Limit int          // most recent N after filtering, 0 = all
}

func (fc *FilterCriteria) matches(tile place.Tile) bool {
	if !fc.Range.Contains(tile.TimeMs) {
		return false
	}
	if fc.Owner != "" && tile.Owner != fc.Owner {
		return false
	}
	if fc.Color != nil && tile.Color != *fc.Color {
		return false
	}
	return true
}

// ListTiles fetches, filters and writes placements for instanceName.
// Returns the number of placements written.
func ListTiles(ctx context.Context, src Source, instanceName string, criteria FilterCriteria, format OutputFormat, w io.Writer) (int, error) {
	// The time range is pushed down to the mirror; the limit is not, because
	// owner and color filters run after the fetch.
	all, err := src.History(ctx, mirror.HistoryQuery{
		SinceMs: criteria.Range.SinceMs,
		UntilMs: criteria.Range.UntilMs,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch history: %w", err)
	}

	tiles := make([]place.Tile, 0, len(all))
	for _, tile := range all {
		if criteria.matches(tile) {
			tiles = append(tiles, tile)
		}
	}
	if criteria.Limit > 0 && len(tiles) > criteria.Limit {
		tiles = tiles[len(tiles)-criteria.Limit:]
	}

	switch format {
	case OutputFormatJSONL:
		if err := FormatJSONL(w, tiles); err != nil {
			return 0, err
		}
		return len(tiles), nil
	default:
		return FormatTable(w, tiles, instanceName)
	}
}

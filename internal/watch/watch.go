package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/place/internal/mirror"
	"github.com/dyluth/place/internal/printer"
	"github.com/dyluth/place/pkg/place"
)

// OutputFormat selects how streamed placements are rendered.
type OutputFormat string

const (
	// OutputFormatDefault is human-readable, one placement per line.
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON is line-delimited JSON events.
	OutputFormatJSON OutputFormat = "json"
)

// Subscriber opens a stream of mirrored placements. Implemented by *mirror.Client.
type Subscriber interface {
	SubscribeTileEvents(ctx context.Context) (*mirror.Subscription, error)
}

// formatter renders a single event.
type formatter interface {
	FormatTile(tile place.Tile) error
	FormatError(err error) error
}

func newFormatter(format OutputFormat, w io.Writer) formatter {
	if format == OutputFormatJSON {
		return &jsonFormatter{encoder: json.NewEncoder(w)}
	}
	return &defaultFormatter{writer: w}
}

// StreamActivity writes every mirrored placement for the instance to w until
// ctx is cancelled or the subscription ends. Returns nil on cancellation.
func StreamActivity(ctx context.Context, sub Subscriber, instanceName string, format OutputFormat, w io.Writer) error {
	subscription, err := sub.SubscribeTileEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to tile events: %w", err)
	}
	defer subscription.Close()

	f := newFormatter(format, w)
	if format != OutputFormatJSON {
		fmt.Fprintf(w, "Watching placements on instance '%s' (Ctrl+C to stop)\n", instanceName)
	}

	events := subscription.Events()
	errs := subscription.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil

		case tile, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("tile event subscription closed")
			}
			if err := f.FormatTile(tile); err != nil {
				return err
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err := f.FormatError(err); err != nil {
				return err
			}
		}
	}
}

type defaultFormatter struct {
	writer io.Writer
}

func (f *defaultFormatter) FormatTile(tile place.Tile) error {
	ts := time.UnixMilli(tile.TimeMs).Format("15:04:05.000")
	_, err := fmt.Fprintf(f.writer, "[%s] 🎨 %s\n", ts, printer.TileLine(tile))
	return err
}

func (f *defaultFormatter) FormatError(err error) error {
	_, werr := fmt.Fprintf(f.writer, "⚠️  %v\n", err)
	return werr
}

// jsonEvent is one line of --output=json.
type jsonEvent struct {
	Event string      `json:"event"`
	Tile  *place.Tile `json:"tile,omitempty"`
	Error string      `json:"error,omitempty"`
}

type jsonFormatter struct {
	encoder *json.Encoder
}

func (f *jsonFormatter) FormatTile(tile place.Tile) error {
	return f.encoder.Encode(jsonEvent{Event: "tile_changed", Tile: &tile})
}

func (f *jsonFormatter) FormatError(err error) error {
	return f.encoder.Encode(jsonEvent{Event: "error", Error: err.Error()})
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dyluth/place/pkg/place"
	"github.com/sirupsen/logrus"
)

// DefaultInterval matches the client's cooldown.
const DefaultInterval = place.DefaultCooldown

// Client is the part of *place.Client a bot drives.
type Client interface {
	Name() string
	Board() *place.Board
	Updates() <-chan place.Tile
	SendTile(row, col int, color place.Color) error
	Done() <-chan struct{}
	Err() error
}

// Stats summarises a finished run.
type Stats struct {
	Moves   int
	Skipped int
}

// Runner drives one strategy over one connection.
type Runner struct {
	client   Client
	strategy Strategy
	interval time.Duration
	maxMoves int
	log      *logrus.Entry
}

// NewRunner creates a runner. interval <= 0 takes DefaultInterval; maxMoves
// <= 0 runs until the context ends or the connection drops.
func NewRunner(client Client, strategy Strategy, interval time.Duration, maxMoves int, logger *logrus.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		client:   client,
		strategy: strategy,
		interval: interval,
		maxMoves: maxMoves,
		log: logger.WithFields(logrus.Fields{
			"component": "bot",
			"name":      client.Name(),
		}),
	}
}

// Run plays until ctx is cancelled, maxMoves is reached or the server
// closes the connection. Cancellation is not an error.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	updates := r.client.Updates()
	for {
		select {
		case <-ctx.Done():
			return stats, nil

		case <-r.client.Done():
			if err := r.client.Err(); err != nil {
				return stats, fmt.Errorf("connection ended: %w", err)
			}
			return stats, nil

		case tile, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			r.strategy.Observe(tile, r.client.Board())

		case <-ticker.C:
			move, ok := r.strategy.Next(r.client.Board())
			if !ok {
				continue
			}
			err := r.client.SendTile(move.Row, move.Col, move.Color)
			switch {
			case err == nil:
				stats.Moves++
				r.log.WithFields(logrus.Fields{
					"row":   move.Row,
					"col":   move.Col,
					"color": move.Color.String(),
				}).Debug("Move sent")
			case errors.Is(err, place.ErrCoolingDown):
				stats.Skipped++
			default:
				return stats, fmt.Errorf("failed to send move: %w", err)
			}

			if r.maxMoves > 0 && stats.Moves >= r.maxMoves {
				return stats, nil
			}
		}
	}
}

// LoginName builds a bot name from the strategy prefix, like "Ocean-0042".
func LoginName(strategy Strategy, rng *rand.Rand) string {
	if rng == nil {
		return fmt.Sprintf("%s-%04d", strategy.Prefix(), rand.IntN(10000))
	}
	return fmt.Sprintf("%s-%04d", strategy.Prefix(), rng.IntN(10000))
}

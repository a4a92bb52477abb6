package mirror

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dyluth/place/pkg/place"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultQueueSize is the publisher's buffer between the registry and Redis.
	DefaultQueueSize = 4096

	writeTimeout = 2 * time.Second
	flushTimeout = 5 * time.Second
)

// Recorder persists one placement. Implemented by *Client.
type Recorder interface {
	RecordTile(ctx context.Context, tile place.Tile) error
}

// Publisher forwards accepted placements to Redis from a single goroutine,
// preserving apply order. TileChanged never blocks: when the queue is full
// the placement is dropped and counted.
type Publisher struct {
	recorder Recorder
	queue    chan place.Tile
	dropped  atomic.Uint64
	failed   atomic.Uint64
	log      *logrus.Entry
}

// NewPublisher creates a publisher writing through recorder.
func NewPublisher(recorder Recorder, queueSize int, logger *logrus.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Publisher{
		recorder: recorder,
		queue:    make(chan place.Tile, queueSize),
		log:      logger.WithField("component", "mirror"),
	}
}

// TileChanged queues a placement for mirroring.
func (p *Publisher) TileChanged(tile place.Tile) {
	select {
	case p.queue <- tile:
	default:
		if p.dropped.Add(1) == 1 {
			p.log.Warn("Mirror queue full, dropping placements")
		}
	}
}

// Dropped returns the number of placements dropped on a full queue.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Failed returns the number of placements Redis rejected.
func (p *Publisher) Failed() uint64 {
	return p.failed.Load()
}

// Run writes queued placements until ctx is cancelled, then flushes what is
// already queued within a bounded time.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.flush()
			return
		case tile := <-p.queue:
			p.record(ctx, tile)
		}
	}
}

func (p *Publisher) flush() {
	deadline := time.Now().Add(flushTimeout)
	for time.Now().Before(deadline) {
		select {
		case tile := <-p.queue:
			p.record(context.Background(), tile)
		default:
			return
		}
	}
}

// record writes one tile. Writes are bounded by writeTimeout rather than by
// ctx, so a placement dequeued during shutdown is still mirrored.
func (p *Publisher) record(ctx context.Context, tile place.Tile) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := p.recorder.RecordTile(writeCtx, tile); err != nil {
		p.failed.Add(1)
		p.log.WithError(err).WithFields(logrus.Fields{
			"row": tile.Row,
			"col": tile.Col,
		}).Warn("Failed to mirror tile")
	}
}

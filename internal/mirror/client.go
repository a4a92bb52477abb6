package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/dyluth/place/pkg/place"
	"github.com/redis/go-redis/v9"
)

// DefaultHistoryLimit caps the placement stream when no limit is configured.
const DefaultHistoryLimit = 10000

// Client provides instance-scoped Redis operations for the board mirror.
// All keys and channels are namespaced with the instance name.
// The client is safe for concurrent use.
type Client struct {
	rdb          *redis.Client
	instanceName string
	historyLimit int64
}

// NewClient creates a mirror client for the specified instance.
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
		historyLimit: DefaultHistoryLimit,
	}, nil
}

// NewClientFromURL parses a redis:// URL and creates a client.
func NewClientFromURL(url, instanceName string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return NewClient(opts, instanceName)
}

// SetHistoryLimit sets the MAXLEN applied to the placement stream.
// Non-positive values restore the default.
func (c *Client) SetHistoryLimit(n int) {
	if n <= 0 {
		n = DefaultHistoryLimit
	}
	c.historyLimit = int64(n)
}

// Instance returns the instance name the client is scoped to.
func (c *Client) Instance() string {
	return c.instanceName
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// RecordTile mirrors one accepted placement: the board hash field is
// overwritten, the tile is appended to the capped stream and published to
// tile_events. The three writes are sent as one MULTI/EXEC.
func (c *Client) RecordTile(ctx context.Context, tile place.Tile) error {
	if err := tile.Color.Validate(); err != nil {
		return fmt.Errorf("invalid tile: %w", err)
	}

	data, err := json.Marshal(tile)
	if err != nil {
		return fmt.Errorf("failed to marshal tile: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, BoardKey(c.instanceName), TileField(tile.Row, tile.Col), data)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: TileLogKey(c.instanceName),
			MaxLen: c.historyLimit,
			Values: map[string]interface{}{"tile": data},
		})
		pipe.Publish(ctx, TileEventsChannel(c.instanceName), data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mirror tile (%d,%d): %w", tile.Row, tile.Col, err)
	}
	return nil
}

// GetBoardTiles returns every tile that has been painted, in row-major order.
// Tiles never painted since the mirror was populated are absent.
func (c *Client) GetBoardTiles(ctx context.Context) ([]place.Tile, error) {
	fields, err := c.rdb.HGetAll(ctx, BoardKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read board from Redis: %w", err)
	}

	tiles := make([]place.Tile, 0, len(fields))
	for field, value := range fields {
		if _, _, err := ParseTileField(field); err != nil {
			return nil, err
		}
		var tile place.Tile
		if err := json.Unmarshal([]byte(value), &tile); err != nil {
			return nil, fmt.Errorf("failed to deserialize tile %s: %w", field, err)
		}
		tiles = append(tiles, tile)
	}

	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].Row != tiles[j].Row {
			return tiles[i].Row < tiles[j].Row
		}
		return tiles[i].Col < tiles[j].Col
	})
	return tiles, nil
}

// HistoryQuery selects placements from the stream. Zero bounds are open.
type HistoryQuery struct {
	SinceMs int64
	UntilMs int64
	Limit   int
}

// History returns mirrored placements with SinceMs <= TimeMs <= UntilMs in
// apply order. When Limit is positive only the most recent Limit matches
// are returned.
func (c *Client) History(ctx context.Context, q HistoryQuery) ([]place.Tile, error) {
	entries, err := c.rdb.XRange(ctx, TileLogKey(c.instanceName), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read tile history: %w", err)
	}

	var tiles []place.Tile
	for _, entry := range entries {
		raw, ok := entry.Values["tile"].(string)
		if !ok {
			return nil, fmt.Errorf("history entry %s has no tile", entry.ID)
		}
		var tile place.Tile
		if err := json.Unmarshal([]byte(raw), &tile); err != nil {
			return nil, fmt.Errorf("failed to deserialize history entry %s: %w", entry.ID, err)
		}
		if q.SinceMs > 0 && tile.TimeMs < q.SinceMs {
			continue
		}
		if q.UntilMs > 0 && tile.TimeMs > q.UntilMs {
			continue
		}
		tiles = append(tiles, tile)
	}

	if q.Limit > 0 && len(tiles) > q.Limit {
		tiles = tiles[len(tiles)-q.Limit:]
	}
	return tiles, nil
}

// Subscription is an active Pub/Sub subscription to tile events.
// Caller must call Close() when done.
type Subscription struct {
	events <-chan place.Tile
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of mirrored placements. It is closed when the
// subscription is closed or its context is cancelled.
func (s *Subscription) Events() <-chan place.Tile {
	return s.events
}

// Errors returns non-fatal subscription errors. Undecodable messages are
// reported here and skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeTileEvents subscribes to placements mirrored for this instance.
// Delivery is at-most-once (Redis Pub/Sub); a slow subscriber may miss events.
func (c *Client) SubscribeTileEvents(ctx context.Context) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, TileEventsChannel(c.instanceName))

	// Wait for the subscription to be confirmed so no event published after
	// this call returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to tile events: %w", err)
	}

	eventsChan := make(chan place.Tile, 64)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var tile place.Tile
				if err := json.Unmarshal([]byte(msg.Payload), &tile); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal tile event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- tile:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/place/internal/mirror"
	"github.com/dyluth/place/pkg/place"
	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the streaming goroutine and the test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func setupClient(t *testing.T) (*mirror.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := mirror.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func startStream(t *testing.T, client *mirror.Client, format OutputFormat) (*syncBuffer, context.CancelFunc, <-chan error) {
	t.Helper()
	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- StreamActivity(ctx, client, "test-instance", format, out)
	}()
	t.Cleanup(cancel)
	return out, cancel, done
}

// publishUntilSeen republishes until the subscriber has attached and seen
// the event; Redis Pub/Sub drops messages sent before SUBSCRIBE.
func publishUntilSeen(t *testing.T, client *mirror.Client, out *syncBuffer, tile place.Tile, marker string) {
	t.Helper()
	require.Eventually(t, func() bool {
		if err := client.RecordTile(context.Background(), tile); err != nil {
			return false
		}
		return strings.Contains(out.String(), marker)
	}, 3*time.Second, 50*time.Millisecond)
}

func TestStreamActivity_Default(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	client, _ := setupClient(t)
	out, cancel, done := startStream(t, client, OutputFormatDefault)

	tile := place.Tile{Row: 0, Col: 1, Owner: "alice", Color: place.Blue, TimeMs: 1000}
	publishUntilSeen(t, client, out, tile, "alice painted (0,1) BLUE")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StreamActivity did not return after cancel")
	}

	assert.Contains(t, out.String(), "Watching placements on instance 'test-instance'")
	assert.Contains(t, out.String(), "🎨")
}

func TestStreamActivity_JSON(t *testing.T) {
	client, mr := setupClient(t)
	out, cancel, done := startStream(t, client, OutputFormatJSON)

	tile := place.Tile{Row: 2, Col: 3, Owner: "bob", Color: place.Red, TimeMs: 5}
	publishUntilSeen(t, client, out, tile, `"tile_changed"`)

	mr.Publish(mirror.TileEventsChannel("test-instance"), "garbage")
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"event":"error"`)
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var event jsonEvent
		require.NoError(t, json.Unmarshal([]byte(line), &event), "every line is JSON: %q", line)
		if event.Event == "tile_changed" {
			require.NotNil(t, event.Tile)
			assert.Equal(t, "bob", event.Tile.Owner)
			assert.Equal(t, place.Red, event.Tile.Color)
		}
	}
}

type failingSubscriber struct{}

func (failingSubscriber) SubscribeTileEvents(ctx context.Context) (*mirror.Subscription, error) {
	return nil, errors.New("connection refused")
}

func TestStreamActivity_SubscribeError(t *testing.T) {
	err := StreamActivity(context.Background(), failingSubscriber{}, "x", OutputFormatDefault, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to subscribe to tile events")
}

func TestFormatters(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	t.Run("defaultFormatter formats tiles", func(t *testing.T) {
		var buf bytes.Buffer
		f := &defaultFormatter{writer: &buf}
		require.NoError(t, f.FormatTile(place.Tile{Row: 4, Col: 5, Owner: "carol", Color: place.Green}))
		assert.Contains(t, buf.String(), "carol painted (4,5) GREEN")
	})

	t.Run("defaultFormatter formats errors", func(t *testing.T) {
		var buf bytes.Buffer
		f := &defaultFormatter{writer: &buf}
		require.NoError(t, f.FormatError(errors.New("bad payload")))
		assert.Contains(t, buf.String(), "bad payload")
	})

	t.Run("jsonFormatter emits one object per line", func(t *testing.T) {
		var buf bytes.Buffer
		f := newFormatter(OutputFormatJSON, &buf)
		require.NoError(t, f.FormatTile(place.Tile{Row: 1, Col: 1, Owner: "dan", Color: place.Navy, TimeMs: 9}))
		require.NoError(t, f.FormatError(errors.New("oops")))

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 2)
		assert.JSONEq(t, `{"event":"tile_changed","tile":{"row":1,"col":1,"owner":"dan","color":12,"time_ms":9}}`, lines[0])
		assert.JSONEq(t, `{"event":"error","error":"oops"}`, lines[1])
	})
}

package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/place/pkg/place"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func tileAt(row, col int, color place.Color, owner string, ts int64) place.Tile {
	return place.Tile{Row: row, Col: col, Color: color, Owner: owner, TimeMs: ts}
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-instance", client.Instance())
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})

	t.Run("parses redis URL", func(t *testing.T) {
		client, err := NewClientFromURL("redis://localhost:6379/2", "default")
		require.NoError(t, err)
		defer client.Close()
		assert.Equal(t, "default", client.Instance())
	})

	t.Run("rejects malformed redis URL", func(t *testing.T) {
		_, err := NewClientFromURL("http://nope", "default")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid redis URL")
	})
}

func TestPing(t *testing.T) {
	client, _ := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestSchemaKeys(t *testing.T) {
	assert.Equal(t, "place:prod:board", BoardKey("prod"))
	assert.Equal(t, "place:prod:tiles", TileLogKey("prod"))
	assert.Equal(t, "place:prod:tile_events", TileEventsChannel("prod"))
	assert.Equal(t, "3,14", TileField(3, 14))

	row, col, err := ParseTileField("3,14")
	require.NoError(t, err)
	assert.Equal(t, 3, row)
	assert.Equal(t, 14, col)

	for _, bad := range []string{"", "3", "a,1", "1,b"} {
		_, _, err := ParseTileField(bad)
		assert.Error(t, err, "field %q", bad)
	}
}

func TestRecordTile(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	t.Run("writes board hash and stream", func(t *testing.T) {
		require.NoError(t, client.RecordTile(ctx, tileAt(0, 1, place.Blue, "alice", 1000)))

		assert.True(t, mr.Exists(BoardKey("test-instance")))
		assert.NotEmpty(t, mr.HGet(BoardKey("test-instance"), "0,1"))

		tiles, err := client.GetBoardTiles(ctx)
		require.NoError(t, err)
		require.Len(t, tiles, 1)
		assert.Equal(t, "alice", tiles[0].Owner)
		assert.Equal(t, place.Blue, tiles[0].Color)
		assert.Equal(t, int64(1000), tiles[0].TimeMs)
	})

	t.Run("later placement replaces board field", func(t *testing.T) {
		require.NoError(t, client.RecordTile(ctx, tileAt(0, 1, place.Red, "bob", 2000)))

		tiles, err := client.GetBoardTiles(ctx)
		require.NoError(t, err)
		require.Len(t, tiles, 1)
		assert.Equal(t, "bob", tiles[0].Owner)
		assert.Equal(t, place.Red, tiles[0].Color)

		history, err := client.History(ctx, HistoryQuery{})
		require.NoError(t, err)
		assert.Len(t, history, 2)
	})

	t.Run("rejects invalid color", func(t *testing.T) {
		err := client.RecordTile(ctx, tileAt(0, 0, place.Color(99), "x", 1))
		assert.ErrorIs(t, err, place.ErrUnknownColor)
	})
}

func TestGetBoardTiles_RowMajor(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.RecordTile(ctx, tileAt(1, 0, place.Navy, "a", 1)))
	require.NoError(t, client.RecordTile(ctx, tileAt(0, 1, place.Lime, "a", 2)))
	require.NoError(t, client.RecordTile(ctx, tileAt(0, 0, place.Teal, "a", 3)))

	tiles, err := client.GetBoardTiles(ctx)
	require.NoError(t, err)
	require.Len(t, tiles, 3)
	assert.Equal(t, [2]int{0, 0}, [2]int{tiles[0].Row, tiles[0].Col})
	assert.Equal(t, [2]int{0, 1}, [2]int{tiles[1].Row, tiles[1].Col})
	assert.Equal(t, [2]int{1, 0}, [2]int{tiles[2].Row, tiles[2].Col})
}

func TestHistory(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, client.RecordTile(ctx, tileAt(0, i, place.Green, "alice", int64(i*1000))))
	}

	t.Run("returns all in apply order", func(t *testing.T) {
		tiles, err := client.History(ctx, HistoryQuery{})
		require.NoError(t, err)
		require.Len(t, tiles, 5)
		for i, tile := range tiles {
			assert.Equal(t, i+1, tile.Col)
		}
	})

	t.Run("filters by time range", func(t *testing.T) {
		tiles, err := client.History(ctx, HistoryQuery{SinceMs: 2000, UntilMs: 4000})
		require.NoError(t, err)
		require.Len(t, tiles, 3)
		assert.Equal(t, int64(2000), tiles[0].TimeMs)
		assert.Equal(t, int64(4000), tiles[2].TimeMs)
	})

	t.Run("limit keeps most recent", func(t *testing.T) {
		tiles, err := client.History(ctx, HistoryQuery{Limit: 2})
		require.NoError(t, err)
		require.Len(t, tiles, 2)
		assert.Equal(t, 4, tiles[0].Col)
		assert.Equal(t, 5, tiles[1].Col)
	})
}

func TestHistoryLimitCapsStream(t *testing.T) {
	client, _ := setupTestClient(t)
	client.SetHistoryLimit(3)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, client.RecordTile(ctx, tileAt(0, i, place.Aqua, "alice", int64(i+1))))
	}

	tiles, err := client.History(ctx, HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, tiles, 3)
	assert.Equal(t, 7, tiles[0].Col)
	assert.Equal(t, 9, tiles[2].Col)
}

func TestSubscribeTileEvents(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.SubscribeTileEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	t.Run("delivers recorded tiles", func(t *testing.T) {
		require.NoError(t, client.RecordTile(ctx, tileAt(2, 3, place.Purple, "carol", 42)))

		select {
		case tile := <-sub.Events():
			assert.Equal(t, 2, tile.Row)
			assert.Equal(t, 3, tile.Col)
			assert.Equal(t, place.Purple, tile.Color)
			assert.Equal(t, "carol", tile.Owner)
		case <-ctx.Done():
			t.Fatal("timed out waiting for tile event")
		}
	})

	t.Run("reports undecodable payloads", func(t *testing.T) {
		mr.Publish(TileEventsChannel("test-instance"), "not json")

		select {
		case err := <-sub.Errors():
			assert.Contains(t, err.Error(), "failed to unmarshal tile event")
		case <-ctx.Done():
			t.Fatal("timed out waiting for subscription error")
		}
	})

	t.Run("close ends the event stream", func(t *testing.T) {
		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close())

		for {
			select {
			case _, ok := <-sub.Events():
				if !ok {
					return
				}
			case <-ctx.Done():
				t.Fatal("events channel not closed")
			}
		}
	})
}

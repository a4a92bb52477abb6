package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/place/pkg/place"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*Server
	addr     string
	metrics  *Metrics
	serveErr chan error
}

func startServer(t *testing.T, dim int, opts Options) *testServer {
	t.Helper()

	metrics := NewMetrics(prometheus.NewRegistry())
	registry, err := NewRegistry(dim, quietLogger(), metrics)
	require.NoError(t, err)

	opts.Logger = quietLogger()
	opts.Metrics = metrics
	srv := New(registry, opts)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ts := &testServer{Server: srv, addr: l.Addr().String(), metrics: metrics, serveErr: make(chan error, 1)}
	go func() { ts.serveErr <- srv.Serve(l) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return ts
}

func dial(t *testing.T, addr, name string) *place.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := place.Dial(ctx, addr, name, place.WithCooldown(0))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func nextUpdate(t *testing.T, client *place.Client) place.Tile {
	t.Helper()
	select {
	case tile, ok := <-client.Updates():
		require.True(t, ok, "connection ended: %v", client.Err())
		return tile
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: no TILE_CHANGED received", client.Name())
		return place.Tile{}
	}
}

func expectNoUpdate(t *testing.T, client *place.Client, wait time.Duration) {
	t.Helper()
	select {
	case tile := <-client.Updates():
		t.Fatalf("%s: unexpected TILE_CHANGED %v", client.Name(), tile)
	case <-time.After(wait):
	}
}

// rawClient speaks frames directly, for sending what place.Client never would.
type rawClient struct {
	conn net.Conn
	enc  *place.Encoder
	dec  *place.Decoder
}

func dialRaw(t *testing.T, addr string) *rawClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { conn.Close() })
	return &rawClient{conn: conn, enc: place.NewEncoder(conn), dec: place.NewDecoder(conn)}
}

func (c *rawClient) login(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, c.enc.Encode(place.LoginMessage(name)))
	msg, err := c.dec.Decode()
	require.NoError(t, err)
	require.Equal(t, place.MessageLoginSuccess, msg.Type)
	msg, err = c.dec.Decode()
	require.NoError(t, err)
	require.Equal(t, place.MessageBoard, msg.Type)
}

func (c *rawClient) expectClosed(t *testing.T) {
	t.Helper()
	_, err := c.dec.Decode()
	require.Error(t, err)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		t.Fatal("connection was not closed by the server")
	}
}

func TestServer_SingleClientOnSmallBoard(t *testing.T) {
	ts := startServer(t, 2, Options{})

	alice := dial(t, ts.addr, "alice")
	assert.Equal(t, "Welcome alice", alice.Welcome())

	board := alice.Board()
	require.Equal(t, 2, board.Dim())
	for _, tile := range board.Tiles() {
		assert.Equal(t, place.White, tile.Color)
		assert.Empty(t, tile.Owner)
	}

	before := time.Now().UnixMilli()
	require.NoError(t, alice.SendTile(0, 1, place.Blue))

	tile := nextUpdate(t, alice)
	assert.Equal(t, 0, tile.Row)
	assert.Equal(t, 1, tile.Col)
	assert.Equal(t, "alice", tile.Owner)
	assert.Equal(t, place.Blue, tile.Color)
	assert.GreaterOrEqual(t, tile.TimeMs, before)

	t.Run("late joiner sees the change in its snapshot", func(t *testing.T) {
		bob := dial(t, ts.addr, "bob")
		stored, err := bob.Board().Get(0, 1)
		require.NoError(t, err)
		assert.Equal(t, tile, stored)
	})
}

func TestServer_OutOfBoundsIsDropped(t *testing.T) {
	ts := startServer(t, 4, Options{})
	alice := dial(t, ts.addr, "alice")
	bob := dial(t, ts.addr, "bob")

	require.NoError(t, alice.SendTile(4, 0, place.Red))
	require.NoError(t, alice.SendTile(0, -1, place.Red))
	require.NoError(t, alice.SendTile(2, 2, place.Green))

	// The first push anyone sees is the in-bounds move.
	for _, c := range []*place.Client{alice, bob} {
		tile := nextUpdate(t, c)
		assert.Equal(t, 2, tile.Row)
		assert.Equal(t, place.Green, tile.Color)
	}

	assert.NoError(t, alice.Err(), "out-of-bounds moves do not end the session")
	assert.Equal(t, 2.0, testutil.ToFloat64(ts.metrics.tilesDropped.WithLabelValues("out_of_bounds")))
}

func TestServer_BroadcastReachesEverySession(t *testing.T) {
	ts := startServer(t, 3, Options{})
	clients := []*place.Client{
		dial(t, ts.addr, "alice"),
		dial(t, ts.addr, "bob"),
		dial(t, ts.addr, "carol"),
	}

	require.NoError(t, clients[1].SendTile(1, 2, place.Purple))
	for _, c := range clients {
		tile := nextUpdate(t, c)
		assert.Equal(t, "bob", tile.Owner)
		assert.Equal(t, place.Purple, tile.Color)
	}
}

func TestServer_NameConflict(t *testing.T) {
	ts := startServer(t, 2, Options{})
	alice := dial(t, ts.addr, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := place.Dial(ctx, ts.addr, "alice")
	var loginErr *place.LoginError
	require.ErrorAs(t, err, &loginErr)
	assert.Contains(t, loginErr.Reason, "already")

	require.NoError(t, alice.SendTile(0, 0, place.Black))
	assert.Equal(t, "alice", nextUpdate(t, alice).Owner, "the first session is unaffected")
}

func TestServer_NameFreedAfterLeave(t *testing.T) {
	ts := startServer(t, 2, Options{})
	alice := dial(t, ts.addr, "alice")
	require.NoError(t, alice.Leave("bye"))

	require.Eventually(t, func() bool {
		return ts.Registry().Len() == 0
	}, 2*time.Second, 10*time.Millisecond)

	again := dial(t, ts.addr, "alice")
	assert.Equal(t, "Welcome alice", again.Welcome())
}

func TestServer_FirstMessageMustBeLogin(t *testing.T) {
	ts := startServer(t, 2, Options{})
	raw := dialRaw(t, ts.addr)

	require.NoError(t, raw.enc.Encode(place.ChangeTileMessage(place.Tile{Row: 0, Col: 0, Color: place.Red})))

	msg, err := raw.dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, place.MessageError, msg.Type)
	assert.Contains(t, msg.Text, "expected LOGIN")
	raw.expectClosed(t)

	assert.Zero(t, ts.Registry().Len())
	board := ts.Registry().Snapshot()
	tile, _ := board.Get(0, 0)
	assert.Equal(t, place.White, tile.Color)
}

func TestServer_InvalidLoginName(t *testing.T) {
	ts := startServer(t, 2, Options{})
	raw := dialRaw(t, ts.addr)

	require.NoError(t, raw.enc.Encode(place.LoginMessage("bad\x00name")))
	msg, err := raw.dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, place.MessageError, msg.Type)
	raw.expectClosed(t)
}

func TestServer_LoginTimeout(t *testing.T) {
	ts := startServer(t, 2, Options{LoginTimeout: 50 * time.Millisecond})
	raw := dialRaw(t, ts.addr)
	raw.expectClosed(t)
}

func TestServer_UnexpectedMessagesAreIgnored(t *testing.T) {
	ts := startServer(t, 2, Options{})
	raw := dialRaw(t, ts.addr)
	raw.login(t, "alice")

	board, err := place.NewBoard(2)
	require.NoError(t, err)
	require.NoError(t, raw.enc.Encode(place.LoginMessage("alice")))
	require.NoError(t, raw.enc.Encode(place.BoardMessage(board)))
	require.NoError(t, raw.enc.Encode(place.LoginSuccessMessage("hi")))
	require.NoError(t, raw.enc.Encode(place.TileChangedMessage(place.Tile{Row: 0, Col: 0, Color: place.Red})))
	require.NoError(t, raw.enc.Encode(place.ChangeTileMessage(place.Tile{Row: 1, Col: 1, Color: place.Lime})))

	msg, err := raw.dec.Decode()
	require.NoError(t, err)
	require.Equal(t, place.MessageTileChanged, msg.Type)
	assert.Equal(t, 1, msg.Tile.Row)
	assert.Equal(t, place.Lime, msg.Tile.Color)

	tile, _ := ts.Registry().Get(0, 0)
	assert.Equal(t, place.White, tile.Color, "TILE_CHANGED from a client changes nothing")
	assert.Equal(t, 4.0, testutil.ToFloat64(ts.metrics.protocolErrors))
}

func TestServer_OwnerIsTheSessionName(t *testing.T) {
	ts := startServer(t, 2, Options{})
	raw := dialRaw(t, ts.addr)
	raw.login(t, "alice")

	require.NoError(t, raw.enc.Encode(place.ChangeTileMessage(place.Tile{Row: 0, Col: 1, Owner: "mallory", Color: place.Red})))

	msg, err := raw.dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.Tile.Owner)
}

func TestServer_MalformedMessageClosesOnlyThatConnection(t *testing.T) {
	ts := startServer(t, 2, Options{})
	bob := dial(t, ts.addr, "bob")

	raw := dialRaw(t, ts.addr)
	raw.login(t, "alice")

	garbage := []byte{0, 0, 0, 8, '{', '"', 't', 'y', 'p', 'e', '"', ':'}
	_, err := raw.conn.Write(garbage)
	require.NoError(t, err)
	raw.expectClosed(t)

	require.Eventually(t, func() bool {
		return ts.Registry().Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bob.SendTile(0, 0, place.Aqua))
	assert.Equal(t, place.Aqua, nextUpdate(t, bob).Color)
}

func TestServer_DisconnectDuringBroadcast(t *testing.T) {
	ts := startServer(t, 4, Options{})
	alice := dial(t, ts.addr, "alice")
	bob := dial(t, ts.addr, "bob")
	carol := dial(t, ts.addr, "carol")

	const moves = 20
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < moves; i++ {
			_ = alice.SendTile(i%4, i/4%4, place.Color(i%place.NumColors))
		}
	}()
	require.NoError(t, carol.Close())
	wg.Wait()

	var seenByBob []place.Tile
	for i := 0; i < moves; i++ {
		seenByBob = append(seenByBob, nextUpdate(t, bob))
	}
	for i := 0; i < moves; i++ {
		assert.Equal(t, seenByBob[i], nextUpdate(t, alice), "move %d", i)
	}

	require.Eventually(t, func() bool {
		return fmt.Sprint(ts.Registry().Names()) == "[alice bob]"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_Cooldown(t *testing.T) {
	ts := startServer(t, 2, Options{Cooldown: 200 * time.Millisecond})
	alice := dial(t, ts.addr, "alice")

	require.NoError(t, alice.SendTile(0, 0, place.Red))
	require.NoError(t, alice.SendTile(0, 1, place.Red))

	first := nextUpdate(t, alice)
	second := nextUpdate(t, alice)
	assert.GreaterOrEqual(t, second.TimeMs-first.TimeMs, int64(150), "second move waits out the cooldown")
}

func TestServer_Shutdown(t *testing.T) {
	ts := startServer(t, 2, Options{})
	alice := dial(t, ts.addr, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ts.Shutdown(ctx))

	select {
	case err := <-ts.serveErr:
		assert.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}

	select {
	case <-alice.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client connection not closed on shutdown")
	}
	assert.Zero(t, ts.Registry().Len())

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, ts.Serve(l), ErrServerClosed)
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "logging_in", StateLoggingIn.String())
	assert.Equal(t, "ConnState(9)", ConnState(9).String())
}

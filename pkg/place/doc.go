// Package place provides the shared types, wire protocol and client for the
// Place shared-canvas server.
//
// # Overview
//
// Place is a DIM×DIM board of tiles that many clients repaint concurrently.
// The server owns the authoritative board; every client logs in under a
// unique name, receives a full snapshot and then observes every accepted
// placement, in the same order as every other client.
//
// # Core Concepts
//
// Colors are the 16 palette entries, identified on the wire by their stable
// index (0..15). Unknown indices are rejected wherever a colour is decoded.
//
// Tiles are values: {row, col, owner, color, time}. A placement replaces the
// stored tile as a whole; the server assigns the timestamp on acceptance.
//
// A Board is the grid itself. Board is not synchronised - the server guards
// it together with its session table so that "apply then broadcast" is one
// indivisible step.
//
// # Protocol
//
// Messages are length-prefixed frames (4-byte big-endian length, then a JSON
// object with a "type" field):
//
//	client → server   LOGIN(name), CHANGE_TILE(tile), ERROR(reason)
//	server → client   LOGIN_SUCCESS(text), BOARD(board), TILE_CHANGED(tile), ERROR(reason)
//
// A session starts with LOGIN. The server answers LOGIN_SUCCESS followed by
// BOARD, or ERROR followed by closing the connection when the name is taken.
// CHANGE_TILE has no direct reply; the mover sees its own TILE_CHANGED.
//
// # Usage Example
//
//	client, err := place.Dial(ctx, "localhost:5000", "alice")
//	if err != nil {
//		var rejected *place.LoginError
//		if errors.As(err, &rejected) {
//			log.Fatalf("name taken: %s", rejected.Reason)
//		}
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.SendTile(0, 1, place.Blue); err != nil {
//		log.Fatal(err)
//	}
//	for tile := range client.Updates() {
//		fmt.Println(tile)
//	}
package place

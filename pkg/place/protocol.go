package place

import (
	"errors"
	"fmt"
)

// MessageType identifies a protocol message. Every frame carries its type.
type MessageType string

const (
	// MessageLogin is the client's first message, carrying the proposed name.
	MessageLogin MessageType = "LOGIN"

	// MessageLoginSuccess acknowledges a login with a welcome text.
	MessageLoginSuccess MessageType = "LOGIN_SUCCESS"

	// MessageError carries a human-readable reason. Sent by the server before
	// closing a rejected connection; sent by a client to leave.
	MessageError MessageType = "ERROR"

	// MessageBoard carries a full board snapshot, sent right after LOGIN_SUCCESS.
	MessageBoard MessageType = "BOARD"

	// MessageChangeTile is a client's placement request.
	MessageChangeTile MessageType = "CHANGE_TILE"

	// MessageTileChanged is the server's push for every accepted placement.
	MessageTileChanged MessageType = "TILE_CHANGED"
)

// ErrUnknownMessageType is returned when a frame names a type outside the protocol.
var ErrUnknownMessageType = errors.New("unknown message type")

// Validate checks that mt is one of the protocol's message types.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageLogin, MessageLoginSuccess, MessageError,
		MessageBoard, MessageChangeTile, MessageTileChanged:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, string(mt))
	}
}

// Message is a single protocol message. Only the payload field matching Type
// is populated.
type Message struct {
	Type  MessageType `json:"type"`
	Name  string      `json:"name,omitempty"`  // LOGIN
	Text  string      `json:"text,omitempty"`  // LOGIN_SUCCESS, ERROR
	Board *Board      `json:"board,omitempty"` // BOARD
	Tile  *Tile       `json:"tile,omitempty"`  // CHANGE_TILE, TILE_CHANGED
}

// LoginMessage builds LOGIN(name).
func LoginMessage(name string) Message {
	return Message{Type: MessageLogin, Name: name}
}

// LoginSuccessMessage builds LOGIN_SUCCESS(text).
func LoginSuccessMessage(text string) Message {
	return Message{Type: MessageLoginSuccess, Text: text}
}

// ErrorMessage builds ERROR(reason).
func ErrorMessage(reason string) Message {
	return Message{Type: MessageError, Text: reason}
}

// BoardMessage builds BOARD(snapshot). The board is not copied.
func BoardMessage(board *Board) Message {
	return Message{Type: MessageBoard, Board: board}
}

// ChangeTileMessage builds CHANGE_TILE(tile).
func ChangeTileMessage(tile Tile) Message {
	return Message{Type: MessageChangeTile, Tile: &tile}
}

// TileChangedMessage builds TILE_CHANGED(tile).
func TileChangedMessage(tile Tile) Message {
	return Message{Type: MessageTileChanged, Tile: &tile}
}

// Validate checks the type and that the payload it requires is present.
func (m Message) Validate() error {
	if err := m.Type.Validate(); err != nil {
		return err
	}

	switch m.Type {
	case MessageLogin:
		if m.Name == "" {
			return fmt.Errorf("LOGIN requires a name")
		}
	case MessageBoard:
		if m.Board == nil {
			return fmt.Errorf("BOARD requires a board")
		}
	case MessageChangeTile, MessageTileChanged:
		if m.Tile == nil {
			return fmt.Errorf("%s requires a tile", m.Type)
		}
		if err := m.Tile.Color.Validate(); err != nil {
			return fmt.Errorf("%s: %w", m.Type, err)
		}
	}

	return nil
}

// ProtocolError reports a malformed or unexpected message. It is fatal for
// the connection it occurred on and nothing else.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err is, or wraps, a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

package server

import (
	"fmt"
	"net"
	"time"

	"github.com/dyluth/place/pkg/place"
	"github.com/gorilla/websocket"
)

// Transport is a message-oriented connection to one client. The connection
// handler reads from a single goroutine and, after login, writes from a
// single goroutine; Close may be called from any goroutine and must unblock
// a pending read.
type Transport interface {
	ReadMessage() (place.Message, error)
	WriteMessage(msg place.Message) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// streamTransport speaks the length-prefixed frame protocol over a stream socket.
type streamTransport struct {
	conn net.Conn
	enc  *place.Encoder
	dec  *place.Decoder
}

// NewStreamTransport wraps a raw connection (TCP, or net.Pipe in tests).
func NewStreamTransport(conn net.Conn) Transport {
	return &streamTransport{
		conn: conn,
		enc:  place.NewEncoder(conn),
		dec:  place.NewDecoder(conn),
	}
}

func (t *streamTransport) ReadMessage() (place.Message, error) {
	return t.dec.Decode()
}

func (t *streamTransport) WriteMessage(msg place.Message) error {
	return t.enc.Encode(msg)
}

func (t *streamTransport) SetReadDeadline(d time.Time) error {
	return t.conn.SetReadDeadline(d)
}

func (t *streamTransport) SetWriteDeadline(d time.Time) error {
	return t.conn.SetWriteDeadline(d)
}

func (t *streamTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *streamTransport) Close() error {
	return t.conn.Close()
}

// wsTransport carries one protocol message per WebSocket message. WebSocket
// framing replaces the length prefix; the payload is the same JSON body.
type wsTransport struct {
	conn *websocket.Conn
}

// NewWebSocketTransport wraps an upgraded WebSocket connection.
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	conn.SetReadLimit(place.MaxFrameSize)
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadMessage() (place.Message, error) {
	kind, data, err := t.conn.ReadMessage()
	if err != nil {
		return place.Message{}, err
	}
	if kind != websocket.BinaryMessage && kind != websocket.TextMessage {
		return place.Message{}, &place.ProtocolError{Reason: fmt.Sprintf("unsupported websocket message kind %d", kind)}
	}
	return place.Unmarshal(data)
}

func (t *wsTransport) WriteMessage(msg place.Message) error {
	payload, err := place.Marshal(msg)
	if err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (t *wsTransport) SetReadDeadline(d time.Time) error {
	return t.conn.SetReadDeadline(d)
}

func (t *wsTransport) SetWriteDeadline(d time.Time) error {
	return t.conn.SetWriteDeadline(d)
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

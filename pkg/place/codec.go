package place

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Wire framing
//
// Every message is one frame: a 4-byte big-endian payload length followed by
// the JSON-encoded Message. The decoder always reads whole frames, so a short
// read can never bleed into the next message.

const (
	frameHeaderSize = 4

	// MaxFrameSize bounds a single frame's payload. A full MaxDim board
	// with 64-byte owner names stays below it.
	MaxFrameSize = 16 << 20
)

// ErrFrameTooLarge is returned for frames whose declared length exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Marshal encodes msg as a frame payload (without the length header).
func Marshal(msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s message: %w", msg.Type, err)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msg.Type, err)
	}
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	return payload, nil
}

// Unmarshal decodes a frame payload. Any failure is a *ProtocolError.
func Unmarshal(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, &ProtocolError{Reason: "malformed message", Err: err}
	}
	if err := msg.Validate(); err != nil {
		return Message{}, &ProtocolError{Reason: "invalid message", Err: err}
	}
	return msg, nil
}

// Encoder writes frames to a stream. Encode is safe for concurrent use; each
// frame is written atomically with respect to other Encode calls.
type Encoder struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes msg as a single frame and flushes it.
func (e *Encoder) Encode(msg Message) error {
	payload, err := Marshal(msg)
	if err != nil {
		return err
	}

	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := e.w.Write(payload); err != nil {
		return fmt.Errorf("failed to write frame payload: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush frame: %w", err)
	}
	return nil
}

// Decoder reads frames from a stream. It is not safe for concurrent use.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Decode reads exactly one frame. It returns io.EOF when the stream ends
// cleanly between frames and io.ErrUnexpectedEOF when it ends mid-frame.
func (d *Decoder) Decode() (Message, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		return Message{}, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return Message{}, &ProtocolError{
			Reason: fmt.Sprintf("declared frame size %d", size),
			Err:    ErrFrameTooLarge,
		}
	}
	if size == 0 {
		return Message{}, &ProtocolError{Reason: "empty frame"}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Message{}, err
	}

	return Unmarshal(payload)
}

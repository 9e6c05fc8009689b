package control

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxFrameSize caps the declared body length of a single control frame.
// A corrupt length prefix must not be able to trigger an unbounded
// allocation.
const MaxFrameSize = 64 << 20

// DecodeError marks a malformed frame: zero-length, oversized, or a body
// that is not valid JSON. The read loop skips these and keeps reading;
// any other read error means the transport is gone.
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed control frame: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// IsDecodeError reports whether err is a frame decode error rather than a
// transport failure.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Codec reads and writes control messages framed as a 4-byte little-endian
// length prefix followed by that many bytes of UTF-8 JSON.
type Codec struct {
	r  *bufio.Reader
	w  io.Writer
	mu sync.Mutex
}

// NewCodec wraps the given streams in a framing codec.
func NewCodec(r io.Reader, w io.Writer) *Codec {
	return &Codec{
		r: bufio.NewReader(r),
		w: w,
	}
}

// ReadMessage blocks until one complete frame has been consumed from the
// stream. Malformed frames are returned as *DecodeError with the stream
// position past the bad frame, so the caller can skip and continue.
func (c *Codec) ReadMessage() (*Message, error) {
	var lengthBytes [4]byte
	if _, err := io.ReadFull(c.r, lengthBytes[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(lengthBytes[:])

	if length == 0 {
		return nil, &DecodeError{Cause: errors.New("zero-length frame")}
	}
	if length > MaxFrameSize {
		return nil, &DecodeError{Cause: fmt.Errorf("frame length %d exceeds limit", length)}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, &DecodeError{Cause: err}
	}
	return &msg, nil
}

// WriteMessage frames and writes a message. The two writes are serialized
// under a mutex so concurrent senders cannot interleave frames. A write
// failure is fatal to the channel; the codec never retries.
func (c *Codec) WriteMessage(msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode control message: %w", err)
	}

	var lengthBytes [4]byte
	binary.LittleEndian.PutUint32(lengthBytes[:], uint32(len(body)))

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.w.Write(lengthBytes[:]); err != nil {
		return err
	}
	_, err = c.w.Write(body)
	return err
}

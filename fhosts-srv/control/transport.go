package control

import (
	"errors"
	"io"
	"net"
	"os"
	"strings"
)

// Transport carries control messages between the proxy process and its
// controller. Read errors that are not *DecodeError mean the controller
// is gone and the process must shut down.
type Transport interface {
	ReadMessage() (*Message, error)
	WriteMessage(Message) error
	Close() error
}

// StdioTransport speaks the native messaging framing over the process's
// standard input and output. This is the default transport used when the
// browser launches the host program.
type StdioTransport struct {
	codec *Codec
}

// NewStdioTransport returns a transport bound to os.Stdin/os.Stdout.
func NewStdioTransport() *StdioTransport {
	return &StdioTransport{codec: NewCodec(os.Stdin, os.Stdout)}
}

func (t *StdioTransport) ReadMessage() (*Message, error) {
	return t.codec.ReadMessage()
}

func (t *StdioTransport) WriteMessage(msg Message) error {
	return t.codec.WriteMessage(msg)
}

// Close is a no-op: the process does not own its standard streams.
func (t *StdioTransport) Close() error {
	return nil
}

// IsTransportGone reports whether a read or write error means the
// controller has disconnected. EOF on stdin is the normal way a browser
// tells a native messaging host to exit.
func IsTransportGone(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return true
	}
	// os.Stdin surfaces this after the parent closes the pipe.
	return strings.Contains(err.Error(), "file already closed")
}

package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/amalg/fhosts/fhosts-srv/logger"
)

// WSPath is the HTTP path a controller dials to attach over websocket.
const WSPath = "/control"

// WSTransport serves the control protocol to a single websocket
// controller. Each binary websocket message carries exactly one
// JSON-encoded control message; the websocket layer provides the framing
// that the 4-byte prefix provides on stdio.
//
// Only one controller may be attached at a time; additional upgrade
// attempts are rejected while a connection is live.
type WSTransport struct {
	listener net.Listener
	server   *http.Server

	connCh chan *websocket.Conn
	closed chan struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

// NewWSTransport binds listenAddr and serves websocket upgrades on WSPath.
// It returns immediately; ReadMessage and WriteMessage block until a
// controller attaches.
func NewWSTransport(listenAddr string) (*WSTransport, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind control listener on %s: %w", listenAddr, err)
	}

	t := &WSTransport{
		listener: ln,
		connCh:   make(chan *websocket.Conn, 1),
		closed:   make(chan struct{}),
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// The control listener is loopback-only; origin checks are the
		// controller's concern.
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WSPath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("Control websocket upgrade failed: %v", err)
			return
		}
		select {
		case t.connCh <- conn:
			logger.Info("Controller attached from %s", conn.RemoteAddr())
		default:
			logger.Warn("Rejecting second controller from %s", conn.RemoteAddr())
			_ = conn.Close()
		}
	})

	t.server = &http.Server{Handler: mux}
	go func() {
		if err := t.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("Control websocket server error: %v", err)
		}
	}()

	logger.Info("Control channel listening on ws://%s%s", ln.Addr(), WSPath)
	return t, nil
}

// Addr returns the bound address of the control listener.
func (t *WSTransport) Addr() net.Addr {
	return t.listener.Addr()
}

// current returns the attached controller connection, blocking until one
// attaches or the transport is closed.
func (t *WSTransport) current() (*websocket.Conn, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		return conn, nil
	}

	select {
	case conn := <-t.connCh:
		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()
		return conn, nil
	case <-t.closed:
		return nil, net.ErrClosed
	}
}

func (t *WSTransport) ReadMessage() (*Message, error) {
	conn, err := t.current()
	if err != nil {
		return nil, err
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return nil, fmt.Errorf("controller disconnected: %w", io.EOF)
		}
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &DecodeError{Cause: err}
	}
	return &msg, nil
}

func (t *WSTransport) WriteMessage(msg Message) error {
	conn, err := t.current()
	if err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode control message: %w", err)
	}

	// gorilla/websocket allows at most one concurrent writer.
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, body)
}

func (t *WSTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.closed)
		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		err = t.server.Close()
	})
	return err
}

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amalg/fhosts/fhosts-srv/control"
	"github.com/amalg/fhosts/fhosts-srv/logger"
)

// fhostsctl is a small controller for a running (or spawned) host
// process. It speaks the same control protocol the browser extension
// uses, which makes it handy for scripting and manual testing.

func main() {
	addr := flag.String("addr", "", "WebSocket control address of a running host (host:port)")
	execPath := flag.String("exec", "", "Spawn this host binary and control it over stdio")
	action := flag.String("action", "ping", "Command to send: start, stop, updateMappings, ping")
	mappingsArg := flag.String("mappings", "", "Mappings as inline JSON or @file (used by start and updateMappings)")
	wait := flag.Int("wait", 2, "Seconds to keep listening for events after the response")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	if *verbose {
		logger.SetLevel(logger.DEBUG)
	}

	mappings, err := parseMappings(*mappingsArg)
	if err != nil {
		logger.Fatal("Invalid mappings: %v", err)
	}

	msg := control.Message{Action: *action, Mappings: mappings}
	switch *action {
	case control.ActionStart, control.ActionStop, control.ActionUpdateMappings, control.ActionPing:
	default:
		logger.Fatal("Unsupported action: %s", *action)
	}

	var transport control.Transport
	switch {
	case *addr != "":
		transport, err = dialWebSocket(*addr)
	case *execPath != "":
		transport, err = spawnHost(*execPath)
	default:
		logger.Fatal("Either -addr or -exec is required")
	}
	if err != nil {
		logger.Fatal("Failed to reach host: %v", err)
	}
	defer func() {
		if closeErr := transport.Close(); closeErr != nil {
			logger.Error("Error closing transport: %v", closeErr)
		}
	}()

	if err := runCommand(transport, msg, time.Duration(*wait)*time.Second); err != nil {
		logger.Fatal("%v", err)
	}
}

// runCommand sends one command and prints every event received until the
// wait window elapses after the first response.
func runCommand(transport control.Transport, msg control.Message, wait time.Duration) error {
	events := make(chan *control.Message)
	readErr := make(chan error, 1)
	go func() {
		for {
			event, err := transport.ReadMessage()
			if err != nil {
				if control.IsDecodeError(err) {
					logger.Warn("Skipping malformed frame: %v", err)
					continue
				}
				readErr <- err
				return
			}
			events <- event
		}
	}()

	// a spawned host announces itself before accepting commands
	deadline := time.After(10 * time.Second)
	if err := awaitReady(events, readErr, deadline); err != nil {
		return err
	}

	if err := transport.WriteMessage(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Action, err)
	}
	logger.Debug("Sent %s", msg.Action)

	var timer <-chan time.Time
	for {
		select {
		case event := <-events:
			printEvent(event)
			if timer == nil {
				timer = time.After(wait)
			}
		case err := <-readErr:
			if control.IsTransportGone(err) {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		case <-timer:
			return nil
		case <-deadline:
			return fmt.Errorf("timed out waiting for a response to %s", msg.Action)
		}
	}
}

// awaitReady consumes the ready event a freshly spawned host emits. A
// host that was already running may not send one, so anything else is
// pushed back to the caller by printing it immediately.
func awaitReady(events chan *control.Message, readErr chan error, deadline <-chan time.Time) error {
	select {
	case event := <-events:
		if event.Type != control.TypeReady {
			printEvent(event)
		} else {
			logger.Debug("Host ready")
		}
		return nil
	case err := <-readErr:
		return fmt.Errorf("host unreachable: %w", err)
	case <-deadline:
		return fmt.Errorf("timed out waiting for the host")
	case <-time.After(500 * time.Millisecond):
		// already-running hosts sent ready long ago
		return nil
	}
}

func printEvent(event *control.Message) {
	out, err := json.Marshal(event)
	if err != nil {
		logger.Error("Failed to render event: %v", err)
		return
	}
	fmt.Println(string(out))
}

// dialWebSocket connects to the WebSocket control endpoint of a running
// host and adapts the connection to the control transport interface.
func dialWebSocket(addr string) (control.Transport, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: control.WSPath}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	return newWSClient(conn), nil
}

// wsClient is the controller side of the WebSocket transport: one JSON
// control message per binary frame.
type wsClient struct {
	conn *websocket.Conn
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn}
}

func (c *wsClient) ReadMessage() (*control.Message, error) {
	_, payload, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg control.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, &control.DecodeError{Cause: err}
	}
	return &msg, nil
}

func (c *wsClient) WriteMessage(msg control.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, payload)
}

func (c *wsClient) Close() error {
	return c.conn.Close()
}

// stdioHost wraps a spawned host process, framing messages over its
// standard streams exactly the way a browser would.
type stdioHost struct {
	cmd   *exec.Cmd
	codec *control.Codec
	stdin io.Closer
}

func spawnHost(path string) (control.Transport, error) {
	cmd := exec.Command(path)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", path, err)
	}

	return &stdioHost{
		cmd:   cmd,
		codec: control.NewCodec(stdout, stdin),
		stdin: stdin,
	}, nil
}

func (h *stdioHost) ReadMessage() (*control.Message, error) {
	return h.codec.ReadMessage()
}

func (h *stdioHost) WriteMessage(msg control.Message) error {
	return h.codec.WriteMessage(msg)
}

// Close closes the host's stdin, which a well-behaved host treats as a
// shutdown request, then waits for it to exit.
func (h *stdioHost) Close() error {
	if err := h.stdin.Close(); err != nil {
		return err
	}
	return h.cmd.Wait()
}

// parseMappings accepts inline JSON ({"host": "target"}) or @path to a
// JSON file with the same shape.
func parseMappings(arg string) (map[string]string, error) {
	if arg == "" {
		return nil, nil
	}

	data := []byte(arg)
	if strings.HasPrefix(arg, "@") {
		var err error
		data, err = os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, err
		}
	}

	var mappings map[string]string
	if err := json.Unmarshal(data, &mappings); err != nil {
		return nil, fmt.Errorf("mappings must be a JSON object of hostname to target: %w", err)
	}
	return mappings, nil
}

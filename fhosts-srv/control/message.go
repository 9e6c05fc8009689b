package control

import "fmt"

// Message is the single record exchanged with the controller in both
// directions. Inbound messages carry an Action, outbound messages a Type;
// the remaining fields are populated depending on the discriminator.
type Message struct {
	Action   string            `json:"action,omitempty"`
	Type     string            `json:"type,omitempty"`
	Mappings map[string]string `json:"mappings,omitempty"`
	Message  string            `json:"message,omitempty"`
	Port     int               `json:"port,omitempty"`
	Count    int               `json:"count,omitempty"`
}

// Inbound actions (controller to proxy).
const (
	ActionStart          = "start"
	ActionStop           = "stop"
	ActionUpdateMappings = "updateMappings"
	ActionPing           = "ping"
)

// Outbound event types (proxy to controller).
const (
	TypeReady           = "ready"
	TypeStarted         = "started"
	TypeStopped         = "stopped"
	TypeMappingsUpdated = "mappingsUpdated"
	TypeError           = "error"
	TypePong            = "pong"
	TypeLog             = "log"
)

// Ready is emitted exactly once at process start, before any command is read.
func Ready() Message {
	return Message{Type: TypeReady}
}

// Started reports a successfully bound proxy instance and its port.
func Started(port int) Message {
	return Message{Type: TypeStarted, Port: port}
}

// Stopped reports that the proxy instance is no longer running.
func Stopped() Message {
	return Message{Type: TypeStopped}
}

// MappingsUpdated reports the size of the freshly installed mapping table.
func MappingsUpdated(count int) Message {
	return Message{Type: TypeMappingsUpdated, Count: count}
}

// ErrorEvent reports a failure to the controller.
// Arguments are handled in the manner of [fmt.Printf].
func ErrorEvent(format string, v ...any) Message {
	return Message{Type: TypeError, Message: fmt.Sprintf(format, v...)}
}

// Pong answers a ping command.
func Pong() Message {
	return Message{Type: TypePong}
}

// Log carries an informational diagnostic line. It never gates behavior
// on the controller side.
// Arguments are handled in the manner of [fmt.Printf].
func Log(format string, v ...any) Message {
	return Message{Type: TypeLog, Message: fmt.Sprintf(format, v...)}
}

package stats

import (
	"context"
	"time"
)

// Collector records connection-level telemetry for the proxy. Mapping
// state is never persisted; collectors only see traffic metadata.
type Collector interface {
	// StartConnection records an accepted proxy connection and returns an
	// identifier for later calls. Implementations must tolerate a zero
	// identifier in those calls.
	StartConnection(ctx context.Context, clientIP, targetHost string, targetPort int, protocol string) (int64, error)

	// EndConnection records connection teardown with transferred byte
	// counts and a close reason.
	EndConnection(ctx context.Context, connectionID, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) error

	// RecordHTTPRequest records one forwarded plain-HTTP exchange.
	RecordHTTPRequest(ctx context.Context, connectionID int64, method, url, host string, statusCode int) error

	// RecordSubstitution records that hostname was remapped to targetHost
	// for one request.
	RecordSubstitution(ctx context.Context, hostname, targetHost string) error

	// RecordError records a request-scoped failure.
	RecordError(ctx context.Context, connectionID int64, errorType, message string) error

	// Summary returns aggregate counters.
	Summary(ctx context.Context) (Summary, error)

	// Close releases backend resources.
	Close() error
}

// Summary holds aggregate counters across all recorded traffic.
type Summary struct {
	TotalConnections   int64 `json:"total_connections"`
	ActiveConnections  int64 `json:"active_connections"`
	TotalRequests      int64 `json:"total_requests"`
	TotalSubstitutions int64 `json:"total_substitutions"`
	TotalErrors        int64 `json:"total_errors"`
	BytesSent          int64 `json:"bytes_sent"`
	BytesReceived      int64 `json:"bytes_received"`
}

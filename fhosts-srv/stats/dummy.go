package stats

import (
	"context"
	"time"
)

// DummyCollector is a no-op implementation of Collector, used when
// statistics collection is disabled.
type DummyCollector struct{}

// NewDummyCollector creates a new dummy collector
func NewDummyCollector() *DummyCollector {
	return &DummyCollector{}
}

func (d *DummyCollector) StartConnection(ctx context.Context, clientIP, targetHost string, targetPort int, protocol string) (int64, error) {
	return 0, nil
}

func (d *DummyCollector) EndConnection(ctx context.Context, connectionID, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) error {
	return nil
}

func (d *DummyCollector) RecordHTTPRequest(ctx context.Context, connectionID int64, method, url, host string, statusCode int) error {
	return nil
}

func (d *DummyCollector) RecordSubstitution(ctx context.Context, hostname, targetHost string) error {
	return nil
}

func (d *DummyCollector) RecordError(ctx context.Context, connectionID int64, errorType, message string) error {
	return nil
}

func (d *DummyCollector) Summary(ctx context.Context) (Summary, error) {
	return Summary{}, nil
}

func (d *DummyCollector) Close() error {
	return nil
}

package stats

import (
	"context"
	"sync/atomic"
	"time"
)

// AtomicInt64Counter is a lock-free 64-bit integer counter
type AtomicInt64Counter int64

// Add atomically adds delta to the counter and returns the new value
func (c *AtomicInt64Counter) Add(delta int64) int64 {
	return atomic.AddInt64((*int64)(c), delta)
}

// Load atomically loads the current value
func (c *AtomicInt64Counter) Load() int64 {
	return atomic.LoadInt64((*int64)(c))
}

// Store atomically stores the value
func (c *AtomicInt64Counter) Store(value int64) {
	atomic.StoreInt64((*int64)(c), value)
}

// Swap atomically swaps the old value with new and returns the old value
func (c *AtomicInt64Counter) Swap(new int64) int64 {
	return atomic.SwapInt64((*int64)(c), new)
}

// Reset atomically resets the counter to 0 and returns the previous value
func (c *AtomicInt64Counter) Reset() int64 {
	return c.Swap(0)
}

// MemoryCollector keeps aggregate counters in memory using lock-free
// atomics. Per-connection detail is not retained.
type MemoryCollector struct {
	nextConnectionID AtomicInt64Counter

	totalConnections   AtomicInt64Counter
	activeConnections  AtomicInt64Counter
	totalRequests      AtomicInt64Counter
	totalSubstitutions AtomicInt64Counter
	totalErrors        AtomicInt64Counter
	bytesSent          AtomicInt64Counter
	bytesReceived      AtomicInt64Counter
}

// NewMemoryCollector creates an in-memory collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{}
}

func (m *MemoryCollector) StartConnection(ctx context.Context, clientIP, targetHost string, targetPort int, protocol string) (int64, error) {
	m.totalConnections.Add(1)
	m.activeConnections.Add(1)
	return m.nextConnectionID.Add(1), nil
}

func (m *MemoryCollector) EndConnection(ctx context.Context, connectionID, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) error {
	m.activeConnections.Add(-1)
	m.bytesSent.Add(bytesSent)
	m.bytesReceived.Add(bytesReceived)
	return nil
}

func (m *MemoryCollector) RecordHTTPRequest(ctx context.Context, connectionID int64, method, url, host string, statusCode int) error {
	m.totalRequests.Add(1)
	return nil
}

func (m *MemoryCollector) RecordSubstitution(ctx context.Context, hostname, targetHost string) error {
	m.totalSubstitutions.Add(1)
	return nil
}

func (m *MemoryCollector) RecordError(ctx context.Context, connectionID int64, errorType, message string) error {
	m.totalErrors.Add(1)
	return nil
}

func (m *MemoryCollector) Summary(ctx context.Context) (Summary, error) {
	return Summary{
		TotalConnections:   m.totalConnections.Load(),
		ActiveConnections:  m.activeConnections.Load(),
		TotalRequests:      m.totalRequests.Load(),
		TotalSubstitutions: m.totalSubstitutions.Load(),
		TotalErrors:        m.totalErrors.Load(),
		BytesSent:          m.bytesSent.Load(),
		BytesReceived:      m.bytesReceived.Load(),
	}, nil
}

func (m *MemoryCollector) Close() error {
	return nil
}

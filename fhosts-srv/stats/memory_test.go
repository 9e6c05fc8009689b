package stats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCollectorCounters(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCollector()

	id1, err := m.StartConnection(ctx, "127.0.0.1", "example.com", 443, "connect")
	require.NoError(t, err)
	id2, err := m.StartConnection(ctx, "127.0.0.1", "example.org", 80, "http")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	require.NoError(t, m.RecordHTTPRequest(ctx, id2, "GET", "http://example.org/", "example.org", 200))
	require.NoError(t, m.RecordSubstitution(ctx, "example.com", "127.0.0.2"))
	require.NoError(t, m.RecordError(ctx, id1, "dial_error", "connection refused"))
	require.NoError(t, m.EndConnection(ctx, id1, 100, 250, time.Second, "closed"))

	summary, err := m.Summary(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), summary.TotalConnections)
	assert.Equal(t, int64(1), summary.ActiveConnections)
	assert.Equal(t, int64(1), summary.TotalRequests)
	assert.Equal(t, int64(1), summary.TotalSubstitutions)
	assert.Equal(t, int64(1), summary.TotalErrors)
	assert.Equal(t, int64(100), summary.BytesSent)
	assert.Equal(t, int64(250), summary.BytesReceived)
}

func TestMemoryCollectorConcurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryCollector()

	const workers = 16
	const perWorker = 100

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id, _ := m.StartConnection(ctx, "127.0.0.1", "example.com", 443, "connect")
				_ = m.EndConnection(ctx, id, 1, 2, time.Millisecond, "closed")
			}
		}()
	}
	wg.Wait()

	summary, err := m.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), summary.TotalConnections)
	assert.Equal(t, int64(0), summary.ActiveConnections)
	assert.Equal(t, int64(workers*perWorker), summary.BytesSent)
	assert.Equal(t, int64(2*workers*perWorker), summary.BytesReceived)
}

func TestFactoryBackends(t *testing.T) {
	factory := NewCollectorFactory()

	t.Run("disabled yields dummy", func(t *testing.T) {
		c, err := factory.CreateCollector(statsConfig(false, "sqlite"))
		require.NoError(t, err)
		assert.IsType(t, &DummyCollector{}, c)
	})

	t.Run("memory", func(t *testing.T) {
		c, err := factory.CreateCollector(statsConfig(true, "memory"))
		require.NoError(t, err)
		assert.IsType(t, &MemoryCollector{}, c)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := factory.CreateCollector(statsConfig(true, "clay-tablet"))
		require.Error(t, err)
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		_, err := factory.CreateCollector(statsConfig(true, "postgres"))
		require.Error(t, err)
	})
}

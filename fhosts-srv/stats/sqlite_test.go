package stats

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amalg/fhosts/fhosts-srv/config"
)

func statsConfig(enabled bool, backend string) config.StatisticsConfig {
	return config.StatisticsConfig{Enabled: enabled, Backend: backend}
}

func newTestSQLiteCollector(t *testing.T) *SQLiteCollector {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats.db")
	c, err := NewSQLiteCollector(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSQLiteCollectorRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestSQLiteCollector(t)

	id, err := c.StartConnection(ctx, "127.0.0.1", "example.com", 443, "connect")
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	require.NoError(t, c.RecordSubstitution(ctx, "example.com", "127.0.0.2"))
	require.NoError(t, c.RecordHTTPRequest(ctx, id, "GET", "http://example.com/", "example.com", 200))
	require.NoError(t, c.RecordError(ctx, id, "dial_error", "connection refused"))
	require.NoError(t, c.EndConnection(ctx, id, 512, 2048, 3*time.Second, "closed"))

	summary, err := c.Summary(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.TotalConnections)
	assert.Equal(t, int64(0), summary.ActiveConnections)
	assert.Equal(t, int64(1), summary.TotalRequests)
	assert.Equal(t, int64(1), summary.TotalSubstitutions)
	assert.Equal(t, int64(1), summary.TotalErrors)
	assert.Equal(t, int64(512), summary.BytesSent)
	assert.Equal(t, int64(2048), summary.BytesReceived)
}

func TestSQLiteCollectorZeroConnectionID(t *testing.T) {
	ctx := context.Background()
	c := newTestSQLiteCollector(t)

	// a zero connection ID is returned by the dummy path and must be a no-op
	require.NoError(t, c.EndConnection(ctx, 0, 1, 1, time.Second, "closed"))

	summary, err := c.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.TotalConnections)
	assert.Equal(t, int64(0), summary.BytesSent)
}

func TestFactoryCreatesSQLite(t *testing.T) {
	factory := NewCollectorFactory()
	cfg := config.StatisticsConfig{
		Enabled:    true,
		Backend:    "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "stats.db"),
	}

	c, err := factory.CreateCollector(cfg)
	require.NoError(t, err)
	defer c.Close()
	assert.IsType(t, &SQLiteCollector{}, c)
}

package proxy

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amalg/fhosts/fhosts-srv/config"
)

// recordingSink captures engine events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	errors []string
	logs   []string
}

func (s *recordingSink) ProxyError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, message)
}

func (s *recordingSink) ProxyLog(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, message)
}

func (s *recordingSink) Errors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.errors...)
}

func (s *recordingSink) Logs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logs...)
}

func testConfig() *config.Config {
	return &config.Config{
		ListenAddress: "127.0.0.1:0",
		Forward:       config.ForwardConfig{Type: config.ForwardTypeNetwork},
	}
}

func TestEngineStartStop(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil)

	require.False(t, e.Running())

	port, err := e.Start(map[string]string{"app.example.com": "127.0.0.1"})
	require.NoError(t, err)
	require.Greater(t, port, 0)
	assert.True(t, e.Running())
	assert.Equal(t, 1, e.Store().Len())

	e.Stop()
	assert.False(t, e.Running())
}

func TestEngineStartIdempotent(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil)
	defer e.Stop()

	port1, err := e.Start(map[string]string{"a.example.com": "127.0.0.1"})
	require.NoError(t, err)

	// a second start returns the same port and leaves the table alone
	port2, err := e.Start(map[string]string{"b.example.com": "127.0.0.2"})
	require.NoError(t, err)

	assert.Equal(t, port1, port2)
	assert.Equal(t, "127.0.0.1", e.Store().Lookup("a.example.com"))
	assert.Equal(t, "b.example.com", e.Store().Lookup("b.example.com"))
}

func TestEngineStopIdempotent(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil)

	e.Stop()
	e.Stop()

	_, err := e.Start(nil)
	require.NoError(t, err)
	e.Stop()
	e.Stop()
	assert.False(t, e.Running())
}

func TestEngineRestartAfterStop(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil)

	_, err := e.Start(nil)
	require.NoError(t, err)
	e.Stop()

	port, err := e.Start(nil)
	require.NoError(t, err)
	require.Greater(t, port, 0)
	assert.True(t, e.Running())
	e.Stop()
}

func TestEngineStartNilMappingsKeepsTable(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil)
	defer e.Stop()

	e.UpdateMappings(map[string]string{"a.example.com": "127.0.0.1"})

	_, err := e.Start(nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", e.Store().Lookup("a.example.com"))
}

func TestEngineUpdateMappingsWhileStopped(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil)

	count := e.UpdateMappings(map[string]string{
		"a.example.com": "127.0.0.1",
		"b.example.com": "127.0.0.2",
	})
	assert.Equal(t, 2, count)
	assert.False(t, e.Running())
	assert.Equal(t, "127.0.0.1", e.Store().Lookup("a.example.com"))
}

func TestEngineUpdateMappingsLastWriteWins(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil)
	defer e.Stop()

	_, err := e.Start(map[string]string{"a.example.com": "127.0.0.1"})
	require.NoError(t, err)

	count := e.UpdateMappings(map[string]string{"b.example.com": "127.0.0.2"})
	assert.Equal(t, 1, count)
	assert.Equal(t, "a.example.com", e.Store().Lookup("a.example.com"))
	assert.Equal(t, "127.0.0.2", e.Store().Lookup("b.example.com"))
}

func TestEngineSeedMappings(t *testing.T) {
	cfg := testConfig()
	cfg.SeedMappings = map[string]string{"seed.example.com": "10.0.0.1"}

	e := NewEngine(cfg, nil, nil)
	assert.Equal(t, "10.0.0.1", e.Store().Lookup("seed.example.com"))
}

func TestEngineStartBindFailure(t *testing.T) {
	cfg := testConfig()
	e1 := NewEngine(cfg, nil, nil)
	port, err := e1.Start(nil)
	require.NoError(t, err)
	defer e1.Stop()

	cfg2 := testConfig()
	cfg2.ListenAddress = e1.listener.Addr().String()
	_ = port

	e2 := NewEngine(cfg2, nil, nil)
	_, err = e2.Start(nil)
	require.Error(t, err)

	var proxyErr *Error
	require.ErrorAs(t, err, &proxyErr)
	assert.Equal(t, ErrCodeListenerCreateFailed, proxyErr.Code)
	assert.False(t, e2.Running())
}

func TestEngineStopUnblocksSerially(t *testing.T) {
	e := NewEngine(testConfig(), nil, nil)

	_, err := e.Start(nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

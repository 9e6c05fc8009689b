package proxy

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/amalg/fhosts/fhosts-srv/config"
	"github.com/amalg/fhosts/fhosts-srv/logger"
	"github.com/amalg/fhosts/fhosts-srv/stats"
)

// EventSink receives the events the engine reports outside the
// command/response cycle: request-scoped failures and substitution
// diagnostics. The control loop forwards them to the controller.
type EventSink interface {
	ProxyError(message string)
	ProxyLog(message string)
}

// nopSink discards events. Used when no controller is attached.
type nopSink struct{}

func (nopSink) ProxyError(string) {}
func (nopSink) ProxyLog(string)   {}

// Engine owns the mapping store and the optional running proxy instance.
// Start, Stop and UpdateMappings are its only mutators; lifecycle
// transitions are serialized under a mutex so the listener/server pair is
// never mutated concurrently.
type Engine struct {
	cfg       *config.Config
	store     *Store
	collector stats.Collector
	sink      EventSink

	httpClient *http.Client
	tunnels    *tunnelSet

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewEngine creates an engine. collector and sink may be nil.
func NewEngine(cfg *config.Config, collector stats.Collector, sink EventSink) *Engine {
	if collector == nil {
		collector = stats.NewDummyCollector()
	}
	if sink == nil {
		sink = nopSink{}
	}

	e := &Engine{
		cfg:       cfg,
		store:     NewStore(),
		collector: collector,
		sink:      sink,
		tunnels:   newTunnelSet(),
	}

	// Outbound plain-HTTP client. The URL host is already substituted by
	// the forwarder, so the transport dials it as-is through the
	// configured forward rule.
	e.httpClient = &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				logger.Debug("DialContext: network=%s addr=%s", network, addr)
				return e.dialUpstream(ctx, addr)
			},
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		// Proxied responses pass through verbatim, including redirects.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	if len(cfg.SeedMappings) > 0 {
		e.store.Replace(cfg.SeedMappings)
		logger.Info("Installed %d seed mappings from configuration", len(cfg.SeedMappings))
	}

	return e
}

// Store returns the engine's mapping store.
func (e *Engine) Store() *Store {
	return e.store
}

// Running reports whether a proxy instance is currently bound.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listener != nil
}

// Start installs the given mappings, binds the configured listen address
// and begins serving in the background, returning the bound port. If an
// instance is already running Start succeeds without rebinding and
// without touching the mapping table; updates go through UpdateMappings.
func (e *Engine) Start(mappings map[string]string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listener != nil {
		return boundPort(e.listener), nil
	}

	if mappings != nil {
		e.store.Replace(mappings)
	}

	ln, err := net.Listen("tcp", e.cfg.ListenAddress)
	if err != nil {
		return 0, NewProxyError(ErrCodeListenerCreateFailed, "failed to bind proxy listener", err)
	}

	srv := &http.Server{
		Handler: http.HandlerFunc(e.handleRequest),
	}

	e.listener = ln
	e.server = srv

	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("Proxy server error: %v", serveErr)
			e.sink.ProxyError("Server error: " + serveErr.Error())
		}
	}()

	port := boundPort(ln)
	logger.Info("Proxy listening on %s with %d mappings", ln.Addr(), e.store.Len())
	return port, nil
}

// Stop closes the server and listener if present and force-closes any
// in-flight tunnels. It is idempotent and safe to call when nothing is
// running.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.server != nil {
		if err := e.server.Close(); err != nil {
			logger.Error("Error closing proxy server: %v", err)
		}
		e.server = nil
	}
	if e.listener != nil {
		if err := e.listener.Close(); err != nil && !isClosedConnError(err) {
			logger.Error("Error closing proxy listener: %v", err)
		}
		e.listener = nil
	}

	// Hijacked tunnel connections are not owned by the http.Server
	// anymore, so they must be closed explicitly.
	e.tunnels.closeAll()

	logger.Info("Proxy stopped")
}

// UpdateMappings atomically replaces the mapping table regardless of
// whether the proxy is running, returning the new mapping count.
// Tunnels established before the update keep the target they resolved
// at request time.
func (e *Engine) UpdateMappings(mappings map[string]string) int {
	e.store.Replace(mappings)
	count := e.store.Len()
	logger.Info("Mapping table replaced, %d entries", count)
	return count
}

// Collector returns the engine's statistics collector.
func (e *Engine) Collector() stats.Collector {
	return e.collector
}

func boundPort(ln net.Listener) int {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

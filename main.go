package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/amalg/fhosts/fhosts-srv/config"
	"github.com/amalg/fhosts/fhosts-srv/control"
	"github.com/amalg/fhosts/fhosts-srv/logger"
	"github.com/amalg/fhosts/fhosts-srv/proxy"
	"github.com/amalg/fhosts/fhosts-srv/stats"
)

var version string

func main() {
	cfg, configPath := parseFlagsAndConfig()
	if err := runHost(cfg, configPath); err != nil {
		logger.Fatal("Fatal error: %v", err)
	}
}

// parseFlagsAndConfig handles CLI flags, environment, logging, and config loading.
func parseFlagsAndConfig() (cfg *config.Config, configPath string) {
	versionFlag := flag.Bool("version", false, "Print version and exit")
	versionShortFlag := flag.Bool("v", false, "Print version and exit (shorthand)")
	configPathPtr := flag.String("config", "", "Path to configuration file (supports .json and .hcl formats)")
	envfile := flag.String("envfile", "", "Path to env file to load environment variables")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *versionFlag || *versionShortFlag {
		if version == "" {
			version = "dev"
		}
		fmt.Println("fhosts version:", version)
		os.Exit(0)
	}

	if *envfile != "" {
		if err := loadEnvFile(*envfile); err != nil {
			logger.Fatal("Failed to load envfile: %v", err)
		}
		logger.Info("Loaded environment variables from %s", *envfile)
	}

	cfg, err := config.LoadConfig(*configPathPtr)
	if err != nil {
		logger.Warn("Could not load config file: %v. Using environment variables.", err)
		cfg, err = config.LoadConfig("")
		if err != nil {
			logger.Fatal("Failed to load configuration: %v", err)
		}
	}

	if *debugMode {
		logger.SetLevel(logger.DEBUG)
		logger.Debug("Debug logging enabled")
	} else if cfg.LogLevel != "" {
		logger.SetLevel(logger.GetLevelFromString(cfg.LogLevel))
	}

	logger.Info("Starting fhosts host process")
	logger.Debug("Proxy listen address: %s", cfg.ListenAddress)
	logger.Debug("Control transport: %s", cfg.Control.Transport)
	if len(cfg.SeedMappings) > 0 {
		logger.Debug("Seed mappings: %d entries", len(cfg.SeedMappings))
	}

	return cfg, *configPathPtr
}

// controlHost owns the control transport and forwards engine events to
// the controller. It is the process's single writer surface; the
// transport serializes concurrent writes internally.
type controlHost struct {
	transport control.Transport
}

// send writes an event to the controller. Write failures are reported on
// stderr directly: routing them through the logger would loop back into
// the sink and recurse.
func (h *controlHost) send(msg control.Message) {
	if err := h.transport.WriteMessage(msg); err != nil {
		fmt.Fprintf(os.Stderr, "fhosts: failed to write control message: %v\n", err)
	}
}

func (h *controlHost) ProxyError(message string) {
	h.send(control.ErrorEvent("%s", message))
}

func (h *controlHost) ProxyLog(message string) {
	h.send(control.Log("%s", message))
}

// runHost wires transport, statistics and engine together and runs the
// command dispatch loop until the controller disconnects or a shutdown
// signal arrives.
func runHost(cfg *config.Config, configPath string) error {
	transport, err := newTransport(cfg)
	if err != nil {
		return fmt.Errorf("failed to create control transport: %w", err)
	}
	defer func() {
		if closeErr := transport.Close(); closeErr != nil {
			logger.Error("Error closing control transport: %v", closeErr)
		}
	}()

	collector, err := stats.NewCollectorFactory().CreateCollector(cfg.Statistics)
	if err != nil {
		return fmt.Errorf("failed to create statistics collector: %w", err)
	}
	defer func() {
		if closeErr := collector.Close(); closeErr != nil {
			logger.Error("Error closing statistics collector: %v", closeErr)
		}
	}()

	host := &controlHost{transport: transport}
	engine := proxy.NewEngine(cfg, collector, host)

	// mirror WARN+ log lines to the controller as log events
	logger.SetSink(func(_ logger.LogLevel, msg string) {
		host.send(control.Log("%s", msg))
	})
	defer logger.SetSink(nil)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		currentCfg := cfg
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				if configPath == "" {
					logger.Info("Received SIGHUP but no config file is in use")
					continue
				}
				newCfg, loadErr := config.LoadConfig(configPath)
				if loadErr != nil {
					logger.Error("Failed to reload config: %v (keeping current config)", loadErr)
					continue
				}
				if !config.HasChanged(currentCfg, newCfg) {
					logger.Info("Config unchanged after reload")
					continue
				}
				currentCfg = newCfg
				logger.Warn("Config changed on disk; restart the host process to apply it")
				continue
			}
			logger.Info("Received signal %v, shutting down", sig)
			engine.Stop()
			if closeErr := transport.Close(); closeErr != nil {
				logger.Error("Error closing control transport: %v", closeErr)
			}
			// stdio transport close is a no-op, so the read loop may
			// still be blocked on stdin
			os.Exit(0)
		}
	}()

	host.send(control.Ready())
	logger.Info("Control channel ready")

	return dispatchLoop(transport, host, engine)
}

// dispatchLoop reads commands until a stop command arrives or the
// transport reports the controller gone; both end the session. Malformed
// frames are skipped; every valid command produces exactly one response
// event.
func dispatchLoop(transport control.Transport, host *controlHost, engine *proxy.Engine) error {
	for {
		msg, err := transport.ReadMessage()
		if err != nil {
			if control.IsDecodeError(err) {
				logger.Warn("Skipping malformed control frame: %v", err)
				continue
			}
			if control.IsTransportGone(err) {
				logger.Info("Controller disconnected, shutting down")
				engine.Stop()
				return nil
			}
			engine.Stop()
			return fmt.Errorf("control transport read failed: %w", err)
		}

		switch msg.Action {
		case control.ActionStart:
			port, startErr := engine.Start(msg.Mappings)
			if startErr != nil {
				logger.Error("Failed to start proxy: %v", startErr)
				host.send(control.ErrorEvent("Failed to start proxy: %v", startErr))
				continue
			}
			host.send(control.Started(port))

		case control.ActionStop:
			engine.Stop()
			host.send(control.Stopped())
			logger.Info("Stop command received, shutting down")
			return nil

		case control.ActionUpdateMappings:
			count := engine.UpdateMappings(msg.Mappings)
			host.send(control.MappingsUpdated(count))

		case control.ActionPing:
			host.send(control.Pong())

		default:
			logger.Warn("Unknown action: %s", msg.Action)
			host.send(control.ErrorEvent("Unknown action: %s", msg.Action))
		}
	}
}

// newTransport creates the control transport selected by the configuration.
func newTransport(cfg *config.Config) (control.Transport, error) {
	switch cfg.Control.Transport {
	case config.ControlTransportWebSocket:
		transport, err := control.NewWSTransport(cfg.Control.ListenAddress)
		if err != nil {
			return nil, err
		}
		logger.Info("Control transport listening on ws://%s%s", transport.Addr(), control.WSPath)
		return transport, nil
	default:
		return control.NewStdioTransport(), nil
	}
}

// loadEnvFile reads a .env-style file and sets environment variables
func loadEnvFile(path string) error {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return fmt.Errorf("invalid file path: %w", err)
		}
		cleanPath = absPath
	}
	f, err := os.Open(cleanPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logger.Error("Error closing env file: %v", closeErr)
		}
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if setErr := os.Setenv(key, val); setErr != nil {
			logger.Error("Error setting environment variable %s: %v", key, setErr)
		}
	}
	return scanner.Err()
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/amalg/fhosts/fhosts-srv/logger"
)

// ControlTransportType selects how the controller talks to the process.
type ControlTransportType string

// Available control transports
const (
	// ControlTransportStdio is the native messaging default: framed
	// messages over stdin/stdout.
	ControlTransportStdio ControlTransportType = "stdio"
	// ControlTransportWebSocket serves the control protocol to a single
	// websocket client, for controllers that are not browser extensions.
	ControlTransportWebSocket ControlTransportType = "websocket"
)

// ControlConfig defines how the control channel is exposed.
type ControlConfig struct {
	Transport     ControlTransportType // stdio or websocket
	ListenAddress string               // websocket listen address
}

// ForwardType selects how outbound proxy connections are dialed.
type ForwardType string

// Available forward types
const (
	ForwardTypeNetwork ForwardType = "network" // direct dial (default)
	ForwardTypeSocks5  ForwardType = "socks5"  // dial through a SOCKS5 proxy
)

// ForwardConfig defines the upstream dialing rule applied to every
// outbound connection the proxy opens.
type ForwardConfig struct {
	Type               ForwardType
	Address            string  // SOCKS5 proxy address (socks5 only)
	Username           *string // optional SOCKS5 credentials
	Password           *string
	DialTimeoutSeconds int // 0 means no dial timeout
}

// StatisticsConfig defines the optional connection-statistics backend.
type StatisticsConfig struct {
	Enabled     bool
	Backend     string // dummy, memory, sqlite, postgres
	SQLitePath  string
	PostgresDSN string
}

// Config represents the full configuration of the host process. Everything
// here has a working default: the program is normally launched by a
// browser with no config file at all, and the controller supplies the
// mapping state at runtime.
type Config struct {
	ListenAddress string // proxy listen address
	LogLevel      string
	Control       ControlConfig
	Forward       ForwardConfig
	Statistics    StatisticsConfig
	// SeedMappings are installed into the mapping store before the ready
	// event, so a start command with no mappings still substitutes them.
	SeedMappings map[string]string
}

// DefaultListenAddress is the fixed loopback address the proxy binds.
const DefaultListenAddress = "127.0.0.1:8899"

func defaultConfig() *Config {
	return &Config{
		ListenAddress: DefaultListenAddress,
		LogLevel:      "INFO",
		Control: ControlConfig{
			Transport:     ControlTransportStdio,
			ListenAddress: "127.0.0.1:8898",
		},
		Forward: ForwardConfig{
			Type: ForwardTypeNetwork,
		},
		Statistics: StatisticsConfig{
			Enabled: false,
			Backend: "dummy",
		},
	}
}

// LoadConfig loads configuration from the specified file path (.json or
// .hcl). An empty path returns defaults with environment overrides
// applied.
func LoadConfig(configPath string) (*Config, error) {
	cfg := defaultConfig()

	loadConfigFromEnv(cfg)

	if configPath != "" {
		var err error

		ext := filepath.Ext(configPath)
		switch strings.ToLower(ext) {
		case ".json":
			err = loadJSONConfig(configPath, cfg)
		case ".hcl":
			err = loadHCLConfig(configPath, cfg)
		default:
			return nil, fmt.Errorf("unsupported config file format: %s", ext)
		}

		if err != nil {
			return nil, err
		}
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.Control.Transport {
	case ControlTransportStdio, ControlTransportWebSocket:
	default:
		return fmt.Errorf("invalid control transport: %s", cfg.Control.Transport)
	}

	switch cfg.Forward.Type {
	case ForwardTypeNetwork:
	case ForwardTypeSocks5:
		if cfg.Forward.Address == "" {
			return fmt.Errorf("forward type socks5 requires an address")
		}
	default:
		return fmt.Errorf("invalid forward type: %s", cfg.Forward.Type)
	}

	return nil
}

// HasChanged reports whether two configurations differ.
func HasChanged(a, b *Config) bool {
	return !reflect.DeepEqual(a, b)
}

func loadJSONConfig(configPath string, cfg *Config) error {
	cleanPath := filepath.Clean(configPath)
	if !filepath.IsAbs(cleanPath) {
		absPath, err := filepath.Abs(cleanPath)
		if err != nil {
			return fmt.Errorf("invalid config file path: %w", err)
		}
		cleanPath = absPath
	}
	file, err := os.Open(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			logger.Error("Error closing config file: %v", closeErr)
		}
	}()

	// Decode into a map first to handle the hyphenated keys.
	var data map[string]any
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		return fmt.Errorf("failed to decode JSON config: %w", err)
	}

	return applyConfigMap(data, cfg)
}

// applyConfigMap maps the generic key/value form shared by the JSON and
// HCL loaders onto the Config struct.
func applyConfigMap(data map[string]any, cfg *Config) error {
	if val, exists := data["listen-address"]; exists {
		ptr, err := parseValue[string](val)
		if err != nil {
			return fmt.Errorf("listen-address must be a string: %w", err)
		}
		cfg.ListenAddress = *ptr
	}

	if val, exists := data["log-level"]; exists {
		ptr, err := parseValue[string](val)
		if err != nil {
			return fmt.Errorf("log-level must be a string: %w", err)
		}
		cfg.LogLevel = *ptr
	}

	if val, exists := data["control"]; exists {
		controlMap, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("control must be an object")
		}
		if tv, exists := controlMap["transport"]; exists {
			ptr, err := parseValue[string](tv)
			if err != nil {
				return fmt.Errorf("control transport must be a string: %w", err)
			}
			cfg.Control.Transport = ControlTransportType(*ptr)
		}
		if av, exists := controlMap["listen-address"]; exists {
			ptr, err := parseValue[string](av)
			if err != nil {
				return fmt.Errorf("control listen-address must be a string: %w", err)
			}
			cfg.Control.ListenAddress = *ptr
		}
	}

	if val, exists := data["forward"]; exists {
		forwardMap, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("forward must be an object")
		}
		if tv, exists := forwardMap["type"]; exists {
			ptr, err := parseValue[string](tv)
			if err != nil {
				return fmt.Errorf("forward type must be a string: %w", err)
			}
			cfg.Forward.Type = ForwardType(*ptr)
		}
		if av, exists := forwardMap["address"]; exists {
			ptr, err := parseValue[string](av)
			if err != nil {
				return fmt.Errorf("forward address must be a string: %w", err)
			}
			cfg.Forward.Address = *ptr
		}
		if uv, exists := forwardMap["username"]; exists {
			ptr, err := parseValue[string](uv)
			if err != nil {
				return fmt.Errorf("forward username must be a string: %w", err)
			}
			cfg.Forward.Username = ptr
		}
		if pv, exists := forwardMap["password"]; exists {
			ptr, err := parseValue[string](pv)
			if err != nil {
				return fmt.Errorf("forward password must be a string: %w", err)
			}
			cfg.Forward.Password = ptr
		}
		if tv, exists := forwardMap["dial-timeout-seconds"]; exists {
			ptr, err := parseValue[int](tv)
			if err != nil {
				return fmt.Errorf("forward dial-timeout-seconds must be a number: %w", err)
			}
			cfg.Forward.DialTimeoutSeconds = *ptr
		}
	}

	if val, exists := data["statistics"]; exists {
		statsMap, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("statistics must be an object")
		}
		if ev, exists := statsMap["enabled"]; exists {
			ptr, err := parseValue[bool](ev)
			if err != nil {
				return fmt.Errorf("statistics enabled must be a boolean: %w", err)
			}
			cfg.Statistics.Enabled = *ptr
		}
		if bv, exists := statsMap["backend"]; exists {
			ptr, err := parseValue[string](bv)
			if err != nil {
				return fmt.Errorf("statistics backend must be a string: %w", err)
			}
			cfg.Statistics.Backend = *ptr
		}
		if pv, exists := statsMap["sqlite-path"]; exists {
			ptr, err := parseValue[string](pv)
			if err != nil {
				return fmt.Errorf("statistics sqlite-path must be a string: %w", err)
			}
			cfg.Statistics.SQLitePath = *ptr
		}
		if dv, exists := statsMap["postgres-dsn"]; exists {
			ptr, err := parseValue[string](dv)
			if err != nil {
				return fmt.Errorf("statistics postgres-dsn must be a string: %w", err)
			}
			cfg.Statistics.PostgresDSN = *ptr
		}
	}

	if val, exists := data["mappings"]; exists {
		mappingMap, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("mappings must be an object of hostname to target host")
		}
		mappings := make(map[string]string, len(mappingMap))
		for hostname, target := range mappingMap {
			ptr, err := parseValue[string](target)
			if err != nil {
				return fmt.Errorf("mapping for %q must be a string: %w", hostname, err)
			}
			mappings[hostname] = *ptr
		}
		cfg.SeedMappings = mappings
	}

	return nil
}

// parseValue converts a decoded JSON/HCL scalar into the requested Go type.
// A value of the form {"_secret": "ENV_NAME"} is resolved from the
// environment, so credentials never need to live in the config file.
func parseValue[T any](value any) (*T, error) {
	var zero T
	tType := reflect.TypeOf(zero)
	ptr := reflect.New(tType)
	elem := ptr.Elem()

	if m, ok := value.(map[string]any); ok {
		if key, ok := m["_secret"].(string); ok {
			res := os.Getenv(key)
			if res == "" {
				return nil, fmt.Errorf("secret %s not set", key)
			}
			value = res
		}
	}

	switch v := value.(type) {
	case float64:
		switch elem.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			elem.SetInt(int64(v))
		case reflect.Float32, reflect.Float64:
			elem.SetFloat(v)
		default:
			return nil, fmt.Errorf("cannot assign number to %s", tType.Kind())
		}
	case int:
		switch elem.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			elem.SetInt(int64(v))
		case reflect.Float32, reflect.Float64:
			elem.SetFloat(float64(v))
		default:
			return nil, fmt.Errorf("cannot assign number to %s", tType.Kind())
		}
	case int64:
		switch elem.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			elem.SetInt(v)
		case reflect.Float32, reflect.Float64:
			elem.SetFloat(float64(v))
		default:
			return nil, fmt.Errorf("cannot assign number to %s", tType.Kind())
		}
	case string:
		if elem.Kind() != reflect.String {
			return nil, fmt.Errorf("cannot assign string to %s", tType.Kind())
		}
		elem.SetString(v)
	case bool:
		if elem.Kind() != reflect.Bool {
			return nil, fmt.Errorf("cannot assign boolean to %s", tType.Kind())
		}
		elem.SetBool(v)
	default:
		return nil, fmt.Errorf("unsupported value type %T", value)
	}

	result, ok := ptr.Interface().(*T)
	if !ok {
		return nil, fmt.Errorf("internal type conversion failure")
	}
	return result, nil
}

func loadConfigFromEnv(cfg *Config) {
	if addr := os.Getenv("FHOSTS_LISTEN_ADDRESS"); addr != "" {
		cfg.ListenAddress = addr
	}

	if level := os.Getenv("FHOSTS_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if transport := os.Getenv("FHOSTS_CONTROL_TRANSPORT"); transport != "" {
		cfg.Control.Transport = ControlTransportType(transport)
	}

	if addr := os.Getenv("FHOSTS_CONTROL_LISTEN_ADDRESS"); addr != "" {
		cfg.Control.ListenAddress = addr
	}

	if addr := os.Getenv("FHOSTS_FORWARD_SOCKS5"); addr != "" {
		cfg.Forward.Type = ForwardTypeSocks5
		cfg.Forward.Address = addr
	}

	if enabled := os.Getenv("FHOSTS_STATS_ENABLED"); enabled != "" {
		cfg.Statistics.Enabled = strings.EqualFold(enabled, "true") || enabled == "1"
	}

	if backend := os.Getenv("FHOSTS_STATS_BACKEND"); backend != "" {
		cfg.Statistics.Backend = backend
	}

	if path := os.Getenv("FHOSTS_STATS_SQLITE_PATH"); path != "" {
		cfg.Statistics.SQLitePath = path
	}

	if dsn := os.Getenv("FHOSTS_STATS_POSTGRES_DSN"); dsn != "" {
		cfg.Statistics.PostgresDSN = dsn
	}
}

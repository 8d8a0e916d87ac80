// Package config assembles the client's settings from defaults,
// environment variables, and an optional YAML file, in that order of
// increasing precedence.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration for the client.
type Config struct {
	Server    *ServerConfig
	Reconnect *ReconnectConfig
	Store     *StoreConfig
	Notify    *NotifyConfig
	Log       *LogConfig
}

// ServerConfig covers the connection to the classroom server.
type ServerConfig struct {
	URL          string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	PingInterval time.Duration
	PongWait     time.Duration
}

// ReconnectConfig tunes the backoff after a dropped connection.
type ReconnectConfig struct {
	Initial     time.Duration
	Max         time.Duration
	Factor      float64
	MaxAttempts int
}

// StoreConfig locates the local SQLite database.
type StoreConfig struct {
	Path string
}

// NotifyConfig tunes invitation handling.
type NotifyConfig struct {
	ConfirmDelay time.Duration
}

// LogConfig covers the rotating log file shared by logging and
// telemetry output.
type LogConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// SlogLevel maps the configured level name onto slog's scale. Unknown
// names fall back to info.
func (l *LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DefaultConfig returns settings suitable for a classroom on a local
// network.
func DefaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{
			URL:          "ws://localhost:8080",
			DialTimeout:  10 * time.Second,
			WriteTimeout: 5 * time.Second,
			SendBuffer:   100,
			PingInterval: 30 * time.Second,
			PongWait:     60 * time.Second,
		},
		Reconnect: &ReconnectConfig{
			Initial:     time.Second,
			Max:         15 * time.Second,
			Factor:      2.0,
			MaxAttempts: 5,
		},
		Store: &StoreConfig{
			Path: "./earshot.db",
		},
		Notify: &NotifyConfig{
			ConfirmDelay: 1500 * time.Millisecond,
		},
		Log: &LogConfig{
			Level:      "info",
			Path:       "./logs/earshot.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Server == nil {
		return fmt.Errorf("server configuration is required")
	}
	if c.Server.URL == "" {
		return fmt.Errorf("server URL cannot be empty")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server URL is not parsable: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server URL scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.Server.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.Server.SendBuffer <= 0 {
		return fmt.Errorf("send buffer must be positive")
	}
	if c.Server.PingInterval <= 0 {
		return fmt.Errorf("ping interval must be positive")
	}
	if c.Server.PongWait <= c.Server.PingInterval {
		return fmt.Errorf("pong wait must exceed the ping interval")
	}

	if c.Reconnect == nil {
		return fmt.Errorf("reconnect configuration is required")
	}
	if c.Reconnect.Initial <= 0 {
		return fmt.Errorf("reconnect initial delay must be positive")
	}
	if c.Reconnect.Max < c.Reconnect.Initial {
		return fmt.Errorf("reconnect max delay must be at least the initial delay")
	}
	if c.Reconnect.Factor < 1 {
		return fmt.Errorf("reconnect factor must be at least 1")
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect attempts must be positive")
	}

	if c.Store == nil || c.Store.Path == "" {
		return fmt.Errorf("store path cannot be empty")
	}

	if c.Notify == nil {
		return fmt.Errorf("notify configuration is required")
	}
	if c.Notify.ConfirmDelay < 0 {
		return fmt.Errorf("confirm delay cannot be negative")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Log.Path == "" {
		return fmt.Errorf("log path cannot be empty")
	}

	return nil
}

// LoadFromEnv builds a configuration from defaults overlaid with
// EARSHOT_* environment variables. Values that fail to parse keep
// their defaults.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if v := os.Getenv("EARSHOT_SERVER_URL"); v != "" {
		config.Server.URL = v
	}
	setDuration(&config.Server.DialTimeout, "EARSHOT_DIAL_TIMEOUT")
	setDuration(&config.Server.WriteTimeout, "EARSHOT_WRITE_TIMEOUT")
	setInt(&config.Server.SendBuffer, "EARSHOT_SEND_BUFFER")
	setDuration(&config.Server.PingInterval, "EARSHOT_PING_INTERVAL")
	setDuration(&config.Server.PongWait, "EARSHOT_PONG_WAIT")

	setDuration(&config.Reconnect.Initial, "EARSHOT_RECONNECT_INITIAL")
	setDuration(&config.Reconnect.Max, "EARSHOT_RECONNECT_MAX")
	if v := os.Getenv("EARSHOT_RECONNECT_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Reconnect.Factor = f
		}
	}
	setInt(&config.Reconnect.MaxAttempts, "EARSHOT_RECONNECT_ATTEMPTS")

	if v := os.Getenv("EARSHOT_STORE_PATH"); v != "" {
		config.Store.Path = v
	}
	setDuration(&config.Notify.ConfirmDelay, "EARSHOT_CONFIRM_DELAY")

	if v := os.Getenv("EARSHOT_LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}
	if v := os.Getenv("EARSHOT_LOG_PATH"); v != "" {
		config.Log.Path = v
	}

	return config
}

func setDuration(target *time.Duration, env string) {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}

func setInt(target *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// fileConfig mirrors Config for YAML parsing; durations arrive as
// strings like "30s" and are parsed explicitly.
type fileConfig struct {
	Server *struct {
		URL          string `yaml:"url"`
		DialTimeout  string `yaml:"dial_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
		SendBuffer   int    `yaml:"send_buffer"`
		PingInterval string `yaml:"ping_interval"`
		PongWait     string `yaml:"pong_wait"`
	} `yaml:"server"`
	Reconnect *struct {
		Initial     string  `yaml:"initial"`
		Max         string  `yaml:"max"`
		Factor      float64 `yaml:"factor"`
		MaxAttempts int     `yaml:"max_attempts"`
	} `yaml:"reconnect"`
	Store *struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Notify *struct {
		ConfirmDelay string `yaml:"confirm_delay"`
	} `yaml:"notify"`
	Log *struct {
		Level      string `yaml:"level"`
		Path       string `yaml:"path"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   *bool  `yaml:"compress"`
	} `yaml:"log"`
}

// LoadFromFile reads a YAML configuration file on top of the defaults
// and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	config, err := parseYAML(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func parseYAML(data []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, err
	}

	config := DefaultConfig()

	if fc.Server != nil {
		if fc.Server.URL != "" {
			config.Server.URL = fc.Server.URL
		}
		parseDuration(&config.Server.DialTimeout, fc.Server.DialTimeout)
		parseDuration(&config.Server.WriteTimeout, fc.Server.WriteTimeout)
		if fc.Server.SendBuffer > 0 {
			config.Server.SendBuffer = fc.Server.SendBuffer
		}
		parseDuration(&config.Server.PingInterval, fc.Server.PingInterval)
		parseDuration(&config.Server.PongWait, fc.Server.PongWait)
	}
	if fc.Reconnect != nil {
		parseDuration(&config.Reconnect.Initial, fc.Reconnect.Initial)
		parseDuration(&config.Reconnect.Max, fc.Reconnect.Max)
		if fc.Reconnect.Factor > 0 {
			config.Reconnect.Factor = fc.Reconnect.Factor
		}
		if fc.Reconnect.MaxAttempts > 0 {
			config.Reconnect.MaxAttempts = fc.Reconnect.MaxAttempts
		}
	}
	if fc.Store != nil && fc.Store.Path != "" {
		config.Store.Path = fc.Store.Path
	}
	if fc.Notify != nil {
		parseDuration(&config.Notify.ConfirmDelay, fc.Notify.ConfirmDelay)
	}
	if fc.Log != nil {
		if fc.Log.Level != "" {
			config.Log.Level = fc.Log.Level
		}
		if fc.Log.Path != "" {
			config.Log.Path = fc.Log.Path
		}
		if fc.Log.MaxSizeMB > 0 {
			config.Log.MaxSizeMB = fc.Log.MaxSizeMB
		}
		if fc.Log.MaxBackups > 0 {
			config.Log.MaxBackups = fc.Log.MaxBackups
		}
		if fc.Log.MaxAgeDays > 0 {
			config.Log.MaxAgeDays = fc.Log.MaxAgeDays
		}
		if fc.Log.Compress != nil {
			config.Log.Compress = *fc.Log.Compress
		}
	}

	return config, nil
}

func parseDuration(target *time.Duration, value string) {
	if value == "" {
		return
	}
	if d, err := time.ParseDuration(value); err == nil {
		*target = d
	}
}

// Load resolves the effective configuration: defaults, then
// environment variables, then the file if one is given and readable.
// File errors are not fatal; the environment result still applies.
func Load(path string) *Config {
	config := LoadFromEnv()
	if path != "" {
		if fromFile, err := LoadFromFile(path); err == nil {
			config = fromFile
		}
	}
	return config
}

// Package config loads the server configuration from environment variables
// with command-line flag overrides, and builds the process logger.
//
// Only operational knobs live here. The rendezvous protocol's timing (expiry
// age, sweep period, completion grace, poll pacing) is part of the protocol
// contract and is fixed in the session package.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "RENDEZVOUS_LISTEN_ADDR"
	envVarLogFormat       = "RENDEZVOUS_LOG_FORMAT"
	envVarLogLevel        = "RENDEZVOUS_LOG_LEVEL"
	envVarShutdownTimeout = "RENDEZVOUS_SHUTDOWN_TIMEOUT"
	envVarStaticDir       = "RENDEZVOUS_STATIC_DIR"
	envVarMaxSessions     = "RENDEZVOUS_MAX_SESSIONS"
	envVarMaxMessageBytes = "RENDEZVOUS_MAX_MESSAGE_BYTES"
)

const (
	DefaultListenAddr      = ":3001"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxMessageBytes = 1 << 20 // SDP blobs are small; 1 MiB is generous.
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// StaticDir, when set, is served at / (the bundled demo page).
	StaticDir string

	// MaxSessions caps concurrently live codes; 0 means unlimited.
	MaxSessions int

	// MaxMessageBytes bounds a single signaling message on the WebSocket.
	MaxMessageBytes int64
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	logFormatStr := envOrDefault(lookup, envVarLogFormat, string(LogFormatText))
	logLevelStr := envOrDefault(lookup, envVarLogLevel, "info")
	staticDir := envOrDefault(lookup, envVarStaticDir, "")

	shutdownTimeout := DefaultShutdownTimeout
	if raw, ok := lookup(envVarShutdownTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarShutdownTimeout, raw, err)
		}
		shutdownTimeout = d
	}

	maxSessions, err := envIntOrDefault(lookup, envVarMaxSessions, 0)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes, err := envIntOrDefault(lookup, envVarMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("rendezvousd", flag.ContinueOnError)
	fs.StringVar(&listenAddr, "listen", listenAddr, "address to listen on")
	fs.StringVar(&logFormatStr, "log-format", logFormatStr, "log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelStr, "log level: debug, info, warn, error")
	fs.StringVar(&staticDir, "static-dir", staticDir, "directory served at / (optional demo page)")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "graceful shutdown timeout")
	fs.IntVar(&maxSessions, "max-sessions", maxSessions, "max concurrently live codes (0 = unlimited)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	logFormat := LogFormat(strings.ToLower(strings.TrimSpace(logFormatStr)))
	switch logFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return Config{}, fmt.Errorf("invalid log format %q (want text or json)", logFormatStr)
	}

	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if maxSessions < 0 {
		return Config{}, fmt.Errorf("max sessions must not be negative")
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("max message bytes must be positive")
	}

	return Config{
		ListenAddr:      listenAddr,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,
		StaticDir:       staticDir,
		MaxSessions:     maxSessions,
		MaxMessageBytes: int64(maxMessageBytes),
	}, nil
}

// NewLogger builds the process logger from the configured format and level.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", raw)
	}
}

func envOrDefault(lookup func(string) (string, bool), key, def string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envIntOrDefault(lookup func(string) (string, bool), key string, def int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

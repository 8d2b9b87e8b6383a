// Package server provides configuration helpers that define runtime defaults,
// validation, and per-connection limits for the HTTP and WebSocket sessions.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAddr             = ":8088"
	defaultIdleTimeout      = 15 * time.Second
	defaultBodyLimit        = 32 << 20
	defaultMaxHeaderBytes   = 8 << 10
	defaultWriteQueueLimit  = 16
	defaultReadBufferSize   = 4096
	defaultMaxMessageSize   = 1 << 20
	defaultInboundQueueSize = 256
	defaultSendQueueSize    = 256
	defaultWriteWait        = 10 * time.Second
)

// RateLimitConfig defines the parameters for per-session inbound message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the listener and session settings.
type Config struct {
	// Addr is the TCP endpoint the listener binds, host:port.
	Addr string
	// IdleTimeout closes a connection that shows no read or write activity
	// for this long. WebSocket sessions get one extra period to answer a ping.
	IdleTimeout time.Duration
	// BodyLimit caps request bodies; larger requests are answered with 413.
	BodyLimit int64
	// MaxHeaderBytes caps the request line and headers; larger heads are
	// answered with 431.
	MaxHeaderBytes int
	// WriteQueueLimit is the number of responses a connection may have
	// outstanding before it stops reading pipelined requests.
	WriteQueueLimit int
	ReadBufferSize  int

	AllowedOrigins   []string
	MaxMessageSize   int64
	InboundQueueSize int
	SendQueueSize    int
	WriteWait        time.Duration
	RateLimit        RateLimitConfig
}

func defaultConfig() Config {
	return Config{
		Addr:             defaultAddr,
		IdleTimeout:      defaultIdleTimeout,
		BodyLimit:        defaultBodyLimit,
		MaxHeaderBytes:   defaultMaxHeaderBytes,
		WriteQueueLimit:  defaultWriteQueueLimit,
		ReadBufferSize:   defaultReadBufferSize,
		AllowedOrigins:   []string{"*"},
		MaxMessageSize:   defaultMaxMessageSize,
		InboundQueueSize: defaultInboundQueueSize,
		SendQueueSize:    defaultSendQueueSize,
		WriteWait:        defaultWriteWait,
		RateLimit: RateLimitConfig{
			Burst:          100,
			RefillInterval: time.Second,
		},
	}
}

// sanitizeConfig replaces unset or invalid values with defaults.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = def.BodyLimit
	}
	if cfg.MaxHeaderBytes <= 0 {
		cfg.MaxHeaderBytes = def.MaxHeaderBytes
	}
	if cfg.WriteQueueLimit <= 0 {
		cfg.WriteQueueLimit = def.WriteQueueLimit
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = def.ReadBufferSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.InboundQueueSize <= 0 {
		cfg.InboundQueueSize = def.InboundQueueSize
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = def.AllowedOrigins
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)

	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv returns the defaults overridden by the environment:
// SERVER_ADDR, IDLE_TIMEOUT, BODY_LIMIT, MAX_HEADER_BYTES, WRITE_QUEUE_LIMIT,
// ALLOWED_ORIGINS, MAX_MESSAGE_SIZE, INBOUND_QUEUE_SIZE, RATE_LIMIT_BURST and
// RATE_LIMIT_REFILL_INTERVAL. Unparsable or non-positive values keep the
// default.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	bindings := map[string]func(string){
		"SERVER_ADDR":       func(v string) { cfg.Addr = v },
		"IDLE_TIMEOUT":      func(v string) { cfg.IdleTimeout = parseSeconds(v, cfg.IdleTimeout) },
		"BODY_LIMIT":        func(v string) { cfg.BodyLimit = parseSize(v, cfg.BodyLimit) },
		"MAX_HEADER_BYTES":  func(v string) { cfg.MaxHeaderBytes = parseIntValue(v, cfg.MaxHeaderBytes) },
		"WRITE_QUEUE_LIMIT": func(v string) { cfg.WriteQueueLimit = parseIntValue(v, cfg.WriteQueueLimit) },
		"ALLOWED_ORIGINS":   func(v string) { cfg.AllowedOrigins = parseOrigins(v) },
		"MAX_MESSAGE_SIZE":  func(v string) { cfg.MaxMessageSize = parseSize(v, cfg.MaxMessageSize) },
		"INBOUND_QUEUE_SIZE": func(v string) {
			cfg.InboundQueueSize = parseIntValue(v, cfg.InboundQueueSize)
		},
		"RATE_LIMIT_BURST": func(v string) { cfg.RateLimit.Burst = parseIntValue(v, cfg.RateLimit.Burst) },
		"RATE_LIMIT_REFILL_INTERVAL": func(v string) {
			cfg.RateLimit.RefillInterval = parseSeconds(v, cfg.RateLimit.RefillInterval)
		},
	}
	for name, apply := range bindings {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			apply(v)
		}
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseSeconds accepts either a bare number of seconds or a Go duration string.
func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

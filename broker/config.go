package broker

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/relaymesh/broker/serializer"
	"github.com/relaymesh/broker/transport"
)

// RegistryConfig controls endpoint selection.
type RegistryConfig struct {
	Strategy    Strategy
	PreferLocal bool
}

// CircuitBreakerConfig controls per-endpoint circuit-breaker behavior.
type CircuitBreakerConfig struct {
	Enabled          bool
	MaxFailures      int
	HalfOpenTime     time.Duration
	FailureOnTimeout bool
	FailureOnReject  bool
}

// Config controls a Broker's behavior. The zero value is not ready for
// use; build one with NewConfig, the same overlay-onto-defaults pattern
// used for transit.Config.
type Config struct {
	NodeID            string
	LogLevel          slog.Level
	Logger            *slog.Logger
	Transport         transport.Transport
	Serializer        serializer.Serializer
	RequestTimeout    time.Duration
	RequestRetry      int
	MaxCallLevel      int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	Registry          RegistryConfig
	CircuitBreaker    CircuitBreakerConfig
	Metrics           bool
	MetricsRate       float64
	Statistics        bool
	InternalActions   bool
}

var defaultConfig = Config{
	LogLevel:          slog.LevelInfo,
	RequestTimeout:    0,
	MaxCallLevel:      0,
	HeartbeatInterval: 10 * time.Second,
	HeartbeatTimeout:  30 * time.Second,
	Registry:          RegistryConfig{Strategy: StrategyRoundRobin, PreferLocal: true},
	CircuitBreaker: CircuitBreakerConfig{
		Enabled:          true,
		MaxFailures:      3,
		HalfOpenTime:     10 * time.Second,
		FailureOnTimeout: true,
		FailureOnReject:  true,
	},
	Serializer:      serializer.Default,
	MetricsRate:     1,
	InternalActions: true,
}

func defaultNodeID() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown-node"
	}
	return strings.ToLower(host)
}

// NewConfig returns a Config built by overlaying the non-zero fields of
// user onto the package defaults.
func NewConfig(user *Config) *Config {
	cfg := defaultConfig
	if user != nil {
		if user.NodeID != "" {
			cfg.NodeID = user.NodeID
		}
		if user.Logger != nil {
			cfg.Logger = user.Logger
		}
		if user.LogLevel != 0 {
			cfg.LogLevel = user.LogLevel
		}
		if user.Transport != nil {
			cfg.Transport = user.Transport
		}
		if user.Serializer != nil {
			cfg.Serializer = user.Serializer
		}
		if user.RequestTimeout != 0 {
			cfg.RequestTimeout = user.RequestTimeout
		}
		if user.RequestRetry != 0 {
			cfg.RequestRetry = user.RequestRetry
		}
		if user.MaxCallLevel != 0 {
			cfg.MaxCallLevel = user.MaxCallLevel
		}
		if user.HeartbeatInterval != 0 {
			cfg.HeartbeatInterval = user.HeartbeatInterval
		}
		if user.HeartbeatTimeout != 0 {
			cfg.HeartbeatTimeout = user.HeartbeatTimeout
		}
		if user.Registry.Strategy != 0 || user.Registry.PreferLocal {
			cfg.Registry = user.Registry
		}
		if (user.CircuitBreaker != CircuitBreakerConfig{}) {
			cfg.CircuitBreaker = user.CircuitBreaker
		}
		// Bool fields have no unset state in Go, so a supplied Config always
		// wins outright rather than merging against the default; callers who
		// want InternalActions on with a partial Config must set it explicitly.
		cfg.Metrics = user.Metrics
		if user.MetricsRate != 0 {
			cfg.MetricsRate = user.MetricsRate
		}
		cfg.Statistics = user.Statistics
		cfg.InternalActions = user.InternalActions
	}
	if cfg.NodeID == "" {
		cfg.NodeID = defaultNodeID()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &cfg
}

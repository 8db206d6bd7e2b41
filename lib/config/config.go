// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/dispatch/lib/task"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "DISPATCH_CONFIG"

// Config is the master configuration for dispatch binaries.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Dispatcher configures the auctioning dispatcher.
	Dispatcher DispatcherConfig `yaml:"dispatcher"`

	// Hub configures the message hub and its clients.
	Hub HubConfig `yaml:"hub"`

	// Fleet configures a fleet adapter.
	Fleet FleetConfig `yaml:"fleet"`

	// Per-environment overrides, applied after the base config.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Dispatcher *DispatcherConfig `yaml:"dispatcher,omitempty"`
	Hub        *HubConfig        `yaml:"hub,omitempty"`
	Fleet      *FleetConfig      `yaml:"fleet,omitempty"`
}

// DispatcherConfig configures the dispatcher service.
type DispatcherConfig struct {
	// BidWindow is how long each auction collects bids.
	// Default: 2s
	BidWindow time.Duration `yaml:"bid_window"`

	// DefaultEvaluator names the auction strategy used when a task
	// does not choose one. Default: lowest-delta-cost
	DefaultEvaluator string `yaml:"default_evaluator"`

	// HandoffTimeout fails a task whose winning fleet does not
	// acknowledge it in time. Zero waits forever.
	HandoffTimeout time.Duration `yaml:"handoff_timeout"`

	// TerminatedLimit caps how many finished tasks are kept for
	// queries. Zero keeps all of them.
	TerminatedLimit int `yaml:"terminated_limit"`

	// SocketPath is the Unix socket for operator requests.
	// Default: /run/dispatch/dispatcher.sock
	SocketPath string `yaml:"socket_path"`
}

// HubConfig configures the message hub.
type HubConfig struct {
	// SocketPath is where the hub listens and clients connect.
	// Default: /run/dispatch/hub.sock
	SocketPath string `yaml:"socket_path"`

	// Compression is the payload codec for large messages:
	// none, lz4, or zstd. Default: lz4
	Compression string `yaml:"compression"`

	// CompressionThreshold is the payload size in bytes from which
	// compression applies. Default: 4096
	CompressionThreshold int `yaml:"compression_threshold"`

	// DedupWindow is how many recent message ids each client
	// remembers to drop redeliveries. Default: 1024
	DedupWindow int `yaml:"dedup_window"`
}

// FleetConfig configures one fleet adapter.
type FleetConfig struct {
	// Name is the fleet's identity in auctions and its action server id.
	Name string `yaml:"name"`

	// BidBaseCost is added to every bid, in seconds.
	BidBaseCost float64 `yaml:"bid_base_cost"`

	// TaskDurations estimates execution time per task type. The fleet
	// declines task types missing from this map.
	TaskDurations map[task.Type]time.Duration `yaml:"task_durations"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist to give every field a sensible value, not as a
// fallback: the config file is required.
func Default() *Config {
	return &Config{
		Environment: Development,
		Dispatcher: DispatcherConfig{
			BidWindow:        2 * time.Second,
			DefaultEvaluator: string(task.DefaultEvaluator),
			SocketPath:       "/run/dispatch/dispatcher.sock",
		},
		Hub: HubConfig{
			SocketPath:           "/run/dispatch/hub.sock",
			Compression:          "lz4",
			CompressionThreshold: 4096,
			DedupWindow:          1024,
		},
	}
}

// Load loads configuration from the DISPATCH_CONFIG environment
// variable. There are no fallbacks: if it is not set, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your dispatch.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// Environment variables do not override config values. The only
// expansion performed is ${VAR} and ${VAR:-default} in socket paths.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// applyEnvironmentOverrides applies the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production keeps a bounded history unless told otherwise.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Dispatcher: &DispatcherConfig{TerminatedLimit: 10000},
			}
		}
	}

	if overrides == nil {
		return
	}

	if dispatcher := overrides.Dispatcher; dispatcher != nil {
		if dispatcher.BidWindow != 0 {
			c.Dispatcher.BidWindow = dispatcher.BidWindow
		}
		if dispatcher.DefaultEvaluator != "" {
			c.Dispatcher.DefaultEvaluator = dispatcher.DefaultEvaluator
		}
		if dispatcher.HandoffTimeout != 0 {
			c.Dispatcher.HandoffTimeout = dispatcher.HandoffTimeout
		}
		if dispatcher.TerminatedLimit != 0 {
			c.Dispatcher.TerminatedLimit = dispatcher.TerminatedLimit
		}
		if dispatcher.SocketPath != "" {
			c.Dispatcher.SocketPath = dispatcher.SocketPath
		}
	}

	if hub := overrides.Hub; hub != nil {
		if hub.SocketPath != "" {
			c.Hub.SocketPath = hub.SocketPath
		}
		if hub.Compression != "" {
			c.Hub.Compression = hub.Compression
		}
		if hub.CompressionThreshold != 0 {
			c.Hub.CompressionThreshold = hub.CompressionThreshold
		}
		if hub.DedupWindow != 0 {
			c.Hub.DedupWindow = hub.DedupWindow
		}
	}

	if fleet := overrides.Fleet; fleet != nil {
		if fleet.Name != "" {
			c.Fleet.Name = fleet.Name
		}
		if fleet.BidBaseCost != 0 {
			c.Fleet.BidBaseCost = fleet.BidBaseCost
		}
		if len(fleet.TaskDurations) > 0 {
			c.Fleet.TaskDurations = fleet.TaskDurations
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} in socket paths.
func (c *Config) expandVariables() {
	c.Dispatcher.SocketPath = expandVars(c.Dispatcher.SocketPath)
	c.Hub.SocketPath = expandVars(c.Hub.SocketPath)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

var compressionNames = []string{"none", "lz4", "zstd"}

// Validate checks the configuration for errors. Fleet settings are
// checked only when a fleet name is configured.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Dispatcher.BidWindow <= 0 {
		errs = append(errs, errors.New("dispatcher.bid_window must be positive"))
	}
	if _, ok := task.ParseEvaluatorKind(c.Dispatcher.DefaultEvaluator); !ok {
		errs = append(errs, fmt.Errorf("dispatcher.default_evaluator: unknown evaluator %q", c.Dispatcher.DefaultEvaluator))
	}
	if c.Dispatcher.HandoffTimeout < 0 {
		errs = append(errs, errors.New("dispatcher.handoff_timeout must not be negative"))
	}
	if c.Dispatcher.TerminatedLimit < 0 {
		errs = append(errs, errors.New("dispatcher.terminated_limit must not be negative"))
	}
	if c.Dispatcher.SocketPath == "" {
		errs = append(errs, errors.New("dispatcher.socket_path is required"))
	}

	if c.Hub.SocketPath == "" {
		errs = append(errs, errors.New("hub.socket_path is required"))
	}
	if !contains(compressionNames, c.Hub.Compression) {
		errs = append(errs, fmt.Errorf("hub.compression must be one of: %v", compressionNames))
	}
	if c.Hub.CompressionThreshold < 0 {
		errs = append(errs, errors.New("hub.compression_threshold must not be negative"))
	}
	if c.Hub.DedupWindow < 0 {
		errs = append(errs, errors.New("hub.dedup_window must not be negative"))
	}

	if c.Fleet.Name != "" {
		if c.Fleet.BidBaseCost < 0 {
			errs = append(errs, errors.New("fleet.bid_base_cost must not be negative"))
		}
		for taskType, duration := range c.Fleet.TaskDurations {
			if taskType == "" {
				errs = append(errs, errors.New("fleet.task_durations: empty task type"))
			}
			if duration <= 0 {
				errs = append(errs, fmt.Errorf("fleet.task_durations.%s must be positive", taskType))
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Evaluator returns the configured default evaluator kind.
func (c *Config) Evaluator() task.EvaluatorKind {
	kind, _ := task.ParseEvaluatorKind(c.Dispatcher.DefaultEvaluator)
	return kind
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

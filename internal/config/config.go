// Package config defines the engine configuration. Values load from a yaml
// file; every field has a working default so a zero-config run is valid.
package config

import (
	"fmt"
	"time"

	"github.com/spotsave/spotsave/internal/retry"
)

// Config is the top-level engine configuration.
type Config struct {
	Version int `yaml:"version" json:"version"`

	Engine     EngineConfig `yaml:"engine" json:"engine"`
	Thresholds Thresholds   `yaml:"thresholds" json:"thresholds"`

	// CollectorRetry governs upstream API retries inside collectors.
	CollectorRetry RetryConfig `yaml:"collector_retry" json:"collector_retry"`

	// StoreRetry governs persistence retries around checkpoint and
	// finalize calls.
	StoreRetry RetryConfig `yaml:"store_retry" json:"store_retry"`

	Server ServerConfig `yaml:"server" json:"server"`
}

// RetryConfig is the yaml-facing mirror of retry.Policy.
type RetryConfig struct {
	BaseDelay   Duration `yaml:"base_delay" json:"base_delay"`
	Factor      float64  `yaml:"factor" json:"factor"`
	MaxDelay    Duration `yaml:"max_delay" json:"max_delay"`
	MaxAttempts int      `yaml:"max_attempts" json:"max_attempts"`
	Jitter      bool     `yaml:"jitter" json:"jitter"`
}

// Policy converts the yaml representation into an executable retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		BaseDelay:   r.BaseDelay.D(),
		Factor:      r.Factor,
		MaxDelay:    r.MaxDelay.D(),
		MaxAttempts: r.MaxAttempts,
		Jitter:      r.Jitter,
	}
}

// EngineConfig tunes the scan coordinator.
type EngineConfig struct {
	// MaxConcurrentCollectors bounds collector fan-out per scan so one
	// scan cannot overwhelm upstream API rate limits.
	MaxConcurrentCollectors int `yaml:"max_concurrent_collectors" json:"max_concurrent_collectors"`

	// ScanTimeout is the wall-clock budget for one full scan. Exceeding
	// it fails the scan with reason "timeout".
	ScanTimeout Duration `yaml:"scan_timeout" json:"scan_timeout"`

	// LookbackDays is the utilization metric window.
	LookbackDays int `yaml:"lookback_days" json:"lookback_days"`

	// Regions to scan. Empty means the session's home region only.
	Regions []string `yaml:"regions" json:"regions"`

	// CheckpointBatch is how many opportunities accumulate before a
	// checkpoint write. 1 persists every opportunity as it is found.
	CheckpointBatch int `yaml:"checkpoint_batch" json:"checkpoint_batch"`

	// ProgressBuffer is the per-subscriber snapshot buffer size. When a
	// slow subscriber's buffer fills, the oldest snapshot is dropped.
	ProgressBuffer int `yaml:"progress_buffer" json:"progress_buffer"`
}

// Thresholds are the tunable detector heuristics. They are design-level
// defaults, not hard contracts; tests and operators may override any of them.
type Thresholds struct {
	// MinSamples is the minimum utilization sample count before the
	// utilization-dependent detectors will classify a resource.
	MinSamples int `yaml:"min_samples" json:"min_samples"`

	// ReservationMinAgeDays is the sustained-presence window before a
	// commitment purchase is recommended.
	ReservationMinAgeDays int `yaml:"reservation_min_age_days" json:"reservation_min_age_days"`

	// ReservationSavingsRate is the assumed discount of a 1-year
	// commitment versus on-demand pricing.
	ReservationSavingsRate float64 `yaml:"reservation_savings_rate" json:"reservation_savings_rate"`

	// ReservationMinMonthlySavings suppresses commitment recommendations
	// below this monthly figure.
	ReservationMinMonthlySavings float64 `yaml:"reservation_min_monthly_savings" json:"reservation_min_monthly_savings"`

	// RightsizeCPUPercent is the CPU p95 below which a resource is
	// considered over-provisioned.
	RightsizeCPUPercent float64 `yaml:"rightsize_cpu_percent" json:"rightsize_cpu_percent"`

	// RightsizeMinMonthlySavings suppresses downsizing recommendations
	// below this monthly figure.
	RightsizeMinMonthlySavings float64 `yaml:"rightsize_min_monthly_savings" json:"rightsize_min_monthly_savings"`

	// IdleCPUPercent is the mean CPU below which a resource is idle.
	IdleCPUPercent float64 `yaml:"idle_cpu_percent" json:"idle_cpu_percent"`

	// IdleNetworkBytes is the mean NetworkIn below which a resource is
	// considered to have no meaningful traffic (bytes per period).
	IdleNetworkBytes float64 `yaml:"idle_network_bytes" json:"idle_network_bytes"`

	// MigrationSavingsRate is the assumed price advantage of the
	// equivalent Graviton configuration.
	MigrationSavingsRate float64 `yaml:"migration_savings_rate" json:"migration_savings_rate"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// Default returns the full production configuration.
func Default() Config {
	return Config{
		Version: 1,
		Engine: EngineConfig{
			MaxConcurrentCollectors: 4,
			ScanTimeout:             Duration(15 * time.Minute),
			LookbackDays:            30,
			CheckpointBatch:         1,
			ProgressBuffer:          16,
		},
		Thresholds: DefaultThresholds(),
		CollectorRetry: RetryConfig{
			BaseDelay:   Duration(500 * time.Millisecond),
			Factor:      2.0,
			MaxDelay:    Duration(10 * time.Second),
			MaxAttempts: 5,
			Jitter:      true,
		},
		StoreRetry: RetryConfig{
			BaseDelay:   Duration(250 * time.Millisecond),
			Factor:      2.0,
			MaxDelay:    Duration(5 * time.Second),
			MaxAttempts: 4,
			Jitter:      true,
		},
		Server: ServerConfig{Listen: ":8080"},
	}
}

// DefaultThresholds returns the stock detector heuristics.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSamples:                   5,
		ReservationMinAgeDays:        30,
		ReservationSavingsRate:       0.35,
		ReservationMinMonthlySavings: 10.0,
		RightsizeCPUPercent:          20.0,
		RightsizeMinMonthlySavings:   5.0,
		IdleCPUPercent:               5.0,
		IdleNetworkBytes:             1_000_000,
		MigrationSavingsRate:         0.20,
	}
}

// Validate reports configuration errors that would make a scan misbehave.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version %d", c.Version)
	}
	if c.Engine.MaxConcurrentCollectors < 1 {
		return fmt.Errorf("max_concurrent_collectors must be >= 1")
	}
	if c.Engine.ScanTimeout <= 0 {
		return fmt.Errorf("scan_timeout must be positive")
	}
	if c.Thresholds.MinSamples < 1 {
		return fmt.Errorf("min_samples must be >= 1")
	}
	return nil
}

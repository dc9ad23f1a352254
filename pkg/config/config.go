package config

import (
	"fmt"
	"time"
)

// Defaults.
const (
	DefaultRegion = "us-east-1"
)

// RetryConfig bounds the per-candidate retry loop for transient API errors.
type RetryConfig struct {
	// MaxAttempts caps total tries, including the first.
	MaxAttempts int `mapstructure:"max_attempts"`
	// BaseBackoff is the initial delay; it doubles after each failure.
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	// MaxBackoff clamps the exponential growth.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
}

// QueryConfig bounds the submit-then-poll loop against the log backend.
type QueryConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// RunConfig is the execution surface consumed by the engine. Parsing
// (flags, files, env) happens in the CLI layer; the engine only validates.
type RunConfig struct {
	Region string `mapstructure:"region"`
	// Live enables destructive calls. Default is dry-run.
	Live bool `mapstructure:"live"`
	// MaxConcurrency bounds the worker pool.
	MaxConcurrency int `mapstructure:"max_concurrency"`

	Retry RetryConfig `mapstructure:"retry"`
	Query QueryConfig `mapstructure:"query"`

	// FlowLogGroup is the CloudWatch Logs group queried by the flow-log
	// detectors. Empty disables them.
	FlowLogGroup string `mapstructure:"flow_log_group"`

	// RulesFile points to an optional YAML file of CEL exemption rules.
	RulesFile string `mapstructure:"rules_file"`

	// CalibrateRates overlays live Pricing API rates on the policy.
	CalibrateRates bool `mapstructure:"calibrate_rates"`

	SlackWebhook string `mapstructure:"slack_webhook"`
	SlackChannel string `mapstructure:"slack_channel"`

	// HistoryURL is "s3://bucket/prefix" or a local directory.
	HistoryURL string `mapstructure:"history_url"`
	OutputDir  string `mapstructure:"output_dir"`
	AuditLog   string `mapstructure:"audit_log"`

	// StrictMode forces a non-zero exit when the run is partial.
	StrictMode bool `mapstructure:"strict"`

	JsonLogs bool `mapstructure:"json_logs"`
	Verbose  bool `mapstructure:"verbose"`

	// Telemetry.
	OtelEndpoint  string `mapstructure:"otel_endpoint"`
	SkipTelemetry bool   `mapstructure:"skip_telemetry"`
}

// DefaultRunConfig returns safe execution defaults (dry-run, bounded pool).
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Region:         DefaultRegion,
		Live:           false,
		MaxConcurrency: 8,
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseBackoff: 200 * time.Millisecond,
			MaxBackoff:  5 * time.Second,
		},
		Query: QueryConfig{
			PollInterval: 1 * time.Second,
			Timeout:      60 * time.Second,
		},
		OutputDir: "cloudreap-out",
	}
}

// Validate rejects unusable run settings before any work starts.
func (c RunConfig) Validate() error {
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("run config: max_concurrency must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("run config: retry max_attempts must be positive")
	}
	if c.Retry.BaseBackoff <= 0 {
		return fmt.Errorf("run config: retry base_backoff must be positive")
	}
	if c.Query.PollInterval <= 0 || c.Query.Timeout <= 0 {
		return fmt.Errorf("run config: query poll_interval and timeout must be positive")
	}
	if c.Query.PollInterval > c.Query.Timeout {
		return fmt.Errorf("run config: query poll_interval exceeds timeout")
	}
	return nil
}

// Package ouconfig loads the process-wide, runtime-settable configuration
// of §6, following config/config.go and config/read.go's
// ini-section-mapping pattern.
package ouconfig

import (
	"fmt"
)

// Config is the complete set of process-wide settings from §6,
// all runtime-settable before a statement begins.
type Config struct {
	// ExecutorSamplingRate is the per-statement probability of setting the
	// sampling gate, in [0,1].
	ExecutorSamplingRate float64 `ini:"executor_sampling_rate"`
	// CaptureEnabled is the master gate; when false the pipeline is a
	// no-op (§8 property 8).
	CaptureEnabled bool `ini:"capture_enabled"`
	// CaptureExecStats enables counter allocation and per-node
	// persistence.
	CaptureExecStats bool `ini:"capture_exec_stats"`
	// CaptureQueryRuntime enables whole-query elapsed-time capture.
	CaptureQueryRuntime bool `ini:"capture_query_runtime"`
	// CaptureNested: when false, only the outermost executor frame
	// persists (SPEC_FULL.md Open Question #1).
	CaptureNested bool `ini:"capture_nested"`
	// OutputNoisepage, together with a non-empty DatabaseURL, makes
	// oucollectord write records to the collector_output table as well as
	// to the CSV sink. There is no JSON-to-log output.
	OutputNoisepage bool `ini:"output_noisepage"`

	// TargetPostmasterPID is the postmaster PID the coordinator attaches
	// to, supplied on the CLI (§6).
	TargetPostmasterPID int `ini:"-"`

	// DatabaseURL is the connection string used by internal/qss/store to
	// persist plans/stats rows.
	DatabaseURL string `ini:"database_url"`
}

// Default returns the safe, inert starting configuration: capture
// disabled, so the pipeline is a no-op until explicitly turned on.
func Default() *Config {
	return &Config{
		ExecutorSamplingRate: 1.0,
		CaptureEnabled:       false,
		CaptureExecStats:     true,
		CaptureQueryRuntime:  true,
		CaptureNested:        false,
		OutputNoisepage:      false,
	}
}

// Validate rejects configuration values outside the allowed closed set,
// per §7's "Configuration error" taxonomy entry: invalid values are
// rejected at the boundary rather than clamped or silently ignored.
func (c *Config) Validate() error {
	if c.ExecutorSamplingRate < 0 || c.ExecutorSamplingRate > 1 {
		return fmt.Errorf("ouconfig: executor_sampling_rate %v outside [0,1]", c.ExecutorSamplingRate)
	}
	return nil
}

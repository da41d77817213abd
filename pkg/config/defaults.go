package config

import (
	"os"
	"strings"
	"time"

	"github.com/marmos91/nfscallback/internal/bytesize"
)

// Callback defaults.
const (
	DefaultCallTimeout         = 3 * time.Second
	DefaultDialTimeout         = 3 * time.Second
	DefaultSlotWait            = 100 * time.Millisecond
	DefaultMaxSelectorRestarts = 16
	DefaultBackoffInitial      = time.Millisecond
	DefaultBackoffMax          = 50 * time.Millisecond
	DefaultMaxFragmentSize     = bytesize.MiB
)

// ApplyDefaults replaces zero values with defaults. Explicit values are
// preserved; the log level is normalized to upper case.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	ApplyCallbackDefaults(&cfg.Callback)
	applyKerberosDefaults(&cfg.Kerberos)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{"cpu", "alloc_space", "inuse_space", "goroutines"}
	}
}

// applyMetricsDefaults sets the port only when metrics are enabled.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// ApplyCallbackDefaults fills the zero fields of a standalone callback section.
func ApplyCallbackDefaults(cfg *CallbackConfig) {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.SlotWait == 0 {
		cfg.SlotWait = DefaultSlotWait
	}
	if cfg.MaxSelectorRestarts == 0 {
		cfg.MaxSelectorRestarts = DefaultMaxSelectorRestarts
	}
	if cfg.BackoffInitial == 0 {
		cfg.BackoffInitial = DefaultBackoffInitial
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = DefaultBackoffMax
		if cfg.BackoffMax < cfg.BackoffInitial {
			cfg.BackoffMax = cfg.BackoffInitial
		}
	}
	if cfg.MaxFragmentSize == 0 {
		cfg.MaxFragmentSize = DefaultMaxFragmentSize
	}
	if cfg.MachineName == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.MachineName = host
		} else {
			cfg.MachineName = "localhost"
		}
	}
}

func applyKerberosDefaults(cfg *KerberosConfig) {
	if cfg.Krb5Conf == "" {
		cfg.Krb5Conf = "/etc/krb5.conf"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "nfs"
	}
	if cfg.Protection == "" {
		cfg.Protection = "none"
	}
	if cfg.MaxClockSkew == 0 {
		cfg.MaxClockSkew = 5 * time.Minute
	}
}

// GetDefaultConfig returns a Config with all default values applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

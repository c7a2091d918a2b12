package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/neonlink/pkg/handshake"
	"github.com/openfroyo/neonlink/pkg/telemetry"
	"github.com/openfroyo/neonlink/pkg/template"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NEONLINK_"

// Settings configures a neonlink process. Defaults come from
// DefaultSettings, then a YAML settings file, then NEONLINK_* variables.
type Settings struct {
	// WorkDir is the application directory. It selects the template cache
	// and output directories.
	WorkDir string `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`

	// APIKey is read from the environment only.
	APIKey string `json:"-" yaml:"-"`

	WorkerCommand string   `json:"worker_command,omitempty" yaml:"worker_command,omitempty"`
	WorkerArgs    []string `json:"worker_args,omitempty" yaml:"worker_args,omitempty"`

	CacheRoot  string `json:"cache_root,omitempty" yaml:"cache_root,omitempty"`
	OutputRoot string `json:"output_root,omitempty" yaml:"output_root,omitempty"`

	PollInterval   time.Duration `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	Deadline       time.Duration `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	CommandTimeout time.Duration `json:"command_timeout,omitempty" yaml:"command_timeout,omitempty"`

	// StorePath is the sqlite database path. Empty disables persistence.
	StorePath string `json:"store_path,omitempty" yaml:"store_path,omitempty"`

	// PolicyPaths are extra Rego policy files or directories.
	PolicyPaths []string `json:"policy_paths,omitempty" yaml:"policy_paths,omitempty"`

	Telemetry TelemetrySettings `json:"telemetry" yaml:"telemetry"`
}

// TelemetrySettings is the user-facing subset of telemetry.Config.
type TelemetrySettings struct {
	LogLevel        string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFormat       string `json:"log_format,omitempty" yaml:"log_format,omitempty"`
	TracingExporter string `json:"tracing_exporter,omitempty" yaml:"tracing_exporter,omitempty"`
	OTLPEndpoint    string `json:"otlp_endpoint,omitempty" yaml:"otlp_endpoint,omitempty"`
	MetricsAddress  string `json:"metrics_address,omitempty" yaml:"metrics_address,omitempty"`
	Environment     string `json:"environment,omitempty" yaml:"environment,omitempty"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() *Settings {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return &Settings{
		WorkDir:      wd,
		CacheRoot:    template.DefaultCacheRoot(),
		PollInterval: handshake.DefaultPollInterval,
		Deadline:     handshake.DefaultDeadline,
		Telemetry: TelemetrySettings{
			LogLevel:        "info",
			LogFormat:       "console",
			TracingExporter: "none",
			Environment:     "development",
		},
	}
}

// LoadSettings builds settings from the defaults, the YAML file at path
// (skipped when path is empty) and the environment.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
		}
	}
	if err := s.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return s, nil
}

// ApplyEnv overrides settings from NEONLINK_* variables. The API key is
// NEONLINK_API_KEY, falling back to NEON_API_KEY.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("WORK_DIR", &s.WorkDir)
	str("WORKER_COMMAND", &s.WorkerCommand)
	str("CACHE_ROOT", &s.CacheRoot)
	str("OUTPUT_ROOT", &s.OutputRoot)
	str("STORE_PATH", &s.StorePath)
	str("LOG_LEVEL", &s.Telemetry.LogLevel)
	str("LOG_FORMAT", &s.Telemetry.LogFormat)
	str("TRACING_EXPORTER", &s.Telemetry.TracingExporter)
	str("OTLP_ENDPOINT", &s.Telemetry.OTLPEndpoint)
	str("METRICS_ADDRESS", &s.Telemetry.MetricsAddress)
	str("ENVIRONMENT", &s.Telemetry.Environment)

	if v, ok := lookup(EnvPrefix + "POLICY_PATHS"); ok && v != "" {
		s.PolicyPaths = filepath.SplitList(v)
	}

	s.APIKey = ""
	if v, ok := lookup(EnvPrefix + "API_KEY"); ok && v != "" {
		s.APIKey = v
	} else if v, ok := lookup("NEON_API_KEY"); ok {
		s.APIKey = v
	}

	for key, dst := range map[string]*time.Duration{
		"POLL_INTERVAL":   &s.PollInterval,
		"DEADLINE":        &s.Deadline,
		"COMMAND_TIMEOUT": &s.CommandTimeout,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// TelemetryConfig derives the telemetry configuration.
func (s *Settings) TelemetryConfig() *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if s.Telemetry.LogLevel != "" {
		cfg.Logging.Level = strings.ToLower(s.Telemetry.LogLevel)
	}
	if s.Telemetry.LogFormat != "" {
		cfg.Logging.Format = s.Telemetry.LogFormat
	}
	if s.Telemetry.Environment != "" {
		cfg.Environment = s.Telemetry.Environment
	}
	switch s.Telemetry.TracingExporter {
	case "", "none":
		cfg.Tracing.Enabled = false
		cfg.Tracing.Exporter = "none"
	default:
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = s.Telemetry.TracingExporter
		cfg.Tracing.Endpoint = s.Telemetry.OTLPEndpoint
	}
	cfg.Metrics.ListenAddress = s.Telemetry.MetricsAddress
	return cfg
}

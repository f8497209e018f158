// Package config provides YAML-based configuration loading, validation, and
// defaults for the ServiceNow change-management adapter.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the adapter.
type Config struct {
	ServiceNow    ServiceNowConfig    `yaml:"servicenow"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Report        ReportConfig        `yaml:"report"`
	Status        StatusConfig        `yaml:"status"`
	Observability ObservabilityConfig `yaml:"observability"`
	LogLevel      string              `yaml:"log_level"`
}

// ServiceNowConfig holds ServiceNow instance connection settings.
type ServiceNowConfig struct {
	BaseURL        string     `yaml:"base_url"`
	TableAPIPath   string     `yaml:"table_api_path"`
	Auth           AuthConfig `yaml:"auth"`
	TimeoutSeconds int        `yaml:"timeout_seconds"`
	RateLimitRPS   float64    `yaml:"rate_limit_rps"`
}

// AuthConfig holds HTTP Basic Auth credentials for the Table API.
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// KafkaConfig holds Kafka broker settings used by outcome reporting.
type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	SchemaRegistryURL string   `yaml:"schema_registry_url"`
}

// ReportConfig controls publication of fetch outcomes to Kafka.
type ReportConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
	Format  string `yaml:"format"` // "json" or "avro"
}

// StatusConfig controls where the last observed outcome per table is kept.
type StatusConfig struct {
	FilePath      string   `yaml:"file_path"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// ObservabilityConfig controls the metrics/health HTTP server.
type ObservabilityConfig struct {
	Addr string `yaml:"addr"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "500ms" or "30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment so that Load can expand them. Variables that are already set
// are left untouched.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// Load reads a YAML config file, expands environment variables, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, expands ${VAR} references, applies
// defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	sn := &cfg.ServiceNow
	if sn.TableAPIPath == "" {
		sn.TableAPIPath = "/api/now/table"
	}
	if sn.TimeoutSeconds == 0 {
		sn.TimeoutSeconds = 30
	}

	rep := &cfg.Report
	if rep.Topic == "" {
		rep.Topic = "servicenow.fetch.outcomes"
	}
	if rep.Format == "" {
		rep.Format = "json"
	}

	st := &cfg.Status
	if st.FilePath == "" {
		st.FilePath = "status.json"
	}
	if st.FlushInterval.Duration == 0 {
		st.FlushInterval.Duration = 5 * time.Second
	}

	if cfg.Observability.Addr == "" {
		cfg.Observability.Addr = ":8080"
	}
}

// validate checks that all required fields are present and valid.
func validate(cfg *Config) error {
	var errs []error

	sn := cfg.ServiceNow
	if sn.BaseURL == "" {
		errs = append(errs, errors.New("servicenow.base_url is required"))
	} else if u, err := url.Parse(sn.BaseURL); err != nil || u.Scheme == "" {
		errs = append(errs, fmt.Errorf("servicenow.base_url is not a valid URL: %s", sn.BaseURL))
	}
	if !strings.HasPrefix(sn.TableAPIPath, "/") {
		errs = append(errs, fmt.Errorf("servicenow.table_api_path must start with '/', got %q", sn.TableAPIPath))
	}
	if sn.Auth.Username == "" {
		errs = append(errs, errors.New("servicenow.auth.username is required"))
	}
	if sn.Auth.Password == "" {
		errs = append(errs, errors.New("servicenow.auth.password is required"))
	}
	if sn.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("servicenow.timeout_seconds must not be negative, got %d", sn.TimeoutSeconds))
	}
	if sn.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("servicenow.rate_limit_rps must not be negative, got %v", sn.RateLimitRPS))
	}

	switch cfg.Report.Format {
	case "json", "avro":
	default:
		errs = append(errs, fmt.Errorf("report.format must be 'json' or 'avro', got %q", cfg.Report.Format))
	}
	if cfg.Report.Enabled {
		if len(cfg.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers must contain at least one broker when report is enabled"))
		}
		if cfg.Report.Format == "avro" && cfg.Kafka.SchemaRegistryURL == "" {
			errs = append(errs, errors.New("kafka.schema_registry_url is required when report.format is 'avro'"))
		}
	}

	return errors.Join(errs...)
}

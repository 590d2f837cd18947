// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the relay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/shineum/postal-relay/internal/provider/postal"
	"github.com/shineum/postal-relay/internal/provider/ses"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Provider names accepted by the provider setting.
const (
	ProviderPostal = "postal"
	ProviderSES    = "ses"
	ProviderStdout = "stdout"
)

// Config holds the complete application configuration.
type Config struct {
	Provider string        `yaml:"provider" validate:"omitempty,oneof=postal ses stdout"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	Postal   PostalConfig  `yaml:"postal"`
	SES      SESConfig     `yaml:"ses"`
	TLS      TLSConfig     `yaml:"tls"`
	Logging  LoggingConfig `yaml:"logging"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Listen         string `yaml:"listen" validate:"required"`
	Hostname       string `yaml:"hostname"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxMessageSize int64  `yaml:"max_message_size" validate:"gte=0"`
}

// PostalConfig holds the Postal API settings.
type PostalConfig struct {
	BaseURI        string `yaml:"base_uri"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout"`
	Mode           string `yaml:"mode"`
	HeaderPrefix   string `yaml:"header_prefix"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// MetricsConfig holds the Prometheus endpoint address. Empty disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var validate = validator.New()

// Validate checks the process-level settings. Provider settings are checked
// by the providers themselves so that the same rules apply to every caller.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("invalid configuration: tls cert_file and key_file must be set together")
	}
	return nil
}

// SelectedProvider returns the configured provider, or detects one: postal
// when an API key is set, ses when SES is configured, stdout otherwise.
func (c *Config) SelectedProvider() string {
	switch {
	case c.Provider != "":
		return c.Provider
	case c.PostalConfigured():
		return ProviderPostal
	case c.SESConfigured():
		return ProviderSES
	default:
		return ProviderStdout
	}
}

// PostalConfigured returns true if a Postal API key is set.
func (c *Config) PostalConfigured() bool {
	return c.Postal.APIKey != ""
}

// SESConfigured returns true if an SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// TLSEnabled returns true if a certificate pair is configured.
func (c *Config) TLSEnabled() bool {
	return c.TLS.CertFile != "" && c.TLS.KeyFile != ""
}

// PostalSettings converts the postal section into provider settings.
// Defaults are left to the provider.
func (c *Config) PostalSettings() postal.Config {
	return postal.Config{
		BaseURI:        c.Postal.BaseURI,
		APIKey:         c.Postal.APIKey,
		TimeoutSeconds: c.Postal.TimeoutSeconds,
		Mode:           postal.Mode(c.Postal.Mode),
		HeaderPrefix:   c.Postal.HeaderPrefix,
	}
}

// SESSettings converts the ses section into provider settings.
func (c *Config) SESSettings() ses.Config {
	return ses.Config{
		Region:          c.SES.Region,
		AccessKeyID:     c.SES.AccessKeyID,
		SecretAccessKey: c.SES.SecretAccessKey,
		Sender:          c.SES.Sender,
	}
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Listen = ":2525"
	c.SMTP.Hostname = "localhost"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	setString(&c.Provider, "PROVIDER", strings.ToLower)

	setString(&c.SMTP.Listen, "SMTP_LISTEN", nil)
	setString(&c.SMTP.Hostname, "SMTP_HOSTNAME", nil)
	setString(&c.SMTP.Username, "SMTP_USERNAME", nil)
	setString(&c.SMTP.Password, "SMTP_PASSWORD", nil)
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid SMTP_MAX_MESSAGE_SIZE %q: must be a whole number of bytes", v)
		}
		c.SMTP.MaxMessageSize = size
	}

	setString(&c.Postal.BaseURI, "POSTAL_BASE_URI", nil)
	setString(&c.Postal.APIKey, "POSTAL_API_KEY", nil)
	setString(&c.Postal.Mode, "POSTAL_MODE", strings.ToLower)
	setString(&c.Postal.HeaderPrefix, "POSTAL_HEADER_PREFIX", nil)
	if v := os.Getenv("POSTAL_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid POSTAL_TIMEOUT %q: must be a whole number of seconds", v)
		}
		c.Postal.TimeoutSeconds = secs
	}

	setString(&c.SES.Region, "SES_REGION", nil)
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID", nil)
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY", nil)
	setString(&c.SES.Sender, "SES_SENDER", nil)

	setString(&c.TLS.CertFile, "TLS_CERT_FILE", nil)
	setString(&c.TLS.KeyFile, "TLS_KEY_FILE", nil)

	setString(&c.Logging.Level, "LOG_LEVEL", strings.ToLower)
	setString(&c.Metrics.Listen, "METRICS_LISTEN", nil)
	return nil
}

func setString(dst *string, key string, transform func(string) string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if transform != nil {
		v = transform(v)
	}
	*dst = v
}

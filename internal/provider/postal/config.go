package postal

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/shineum/postal-relay/internal/provider"
)

const (
	// DefaultBaseURI is used when no base URI is configured.
	DefaultBaseURI = "http://localhost:5001"

	// DefaultTimeoutSeconds bounds a send when no timeout is configured.
	DefaultTimeoutSeconds = 10

	// DefaultHeaderPrefix selects which message headers are forwarded.
	DefaultHeaderPrefix = "X-"

	sendMessagePath = "/api/v1/send/message"
)

// Mode selects how requests reach Postal.
type Mode string

const (
	// ModeHTTP posts a hand-encoded JSON payload.
	ModeHTTP Mode = "http"
	// ModeSDK builds an sdk.Message and sends it through the sdk client.
	ModeSDK Mode = "sdk"
)

// Config holds the Postal connection settings.
type Config struct {
	BaseURI        string `validate:"omitempty,url"`
	APIKey         string `validate:"required"`
	TimeoutSeconds int    `validate:"gte=1"`
	Mode           Mode   `validate:"omitempty,oneof=http sdk"`
	HeaderPrefix   string
}

var validate = validator.New()

// Validate reports the first problem with the configuration as a
// *provider.ConfigurationError. It never includes the API key.
func (c Config) Validate() error {
	_, err := c.normalize()
	return err
}

// Timeout returns the per-send timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Host returns the host part of the base URI, or "localhost".
func (c Config) Host() string {
	u, err := url.Parse(strings.TrimRight(c.BaseURI, "/"))
	if err != nil || u.Host == "" {
		return "localhost"
	}
	return u.Host
}

// LogValue keeps the API key out of logs.
func (c Config) LogValue() slog.Value {
	key := ""
	if c.APIKey != "" {
		key = "[REDACTED]"
	}
	return slog.GroupValue(
		slog.String("base_uri", c.BaseURI),
		slog.String("api_key", key),
		slog.Int("timeout_seconds", c.TimeoutSeconds),
		slog.String("mode", string(c.Mode)),
		slog.String("header_prefix", c.HeaderPrefix),
	)
}

// normalize applies defaults, strips the trailing slash from the base URI
// and validates the result.
func (c Config) normalize() (Config, error) {
	if c.BaseURI == "" {
		c.BaseURI = DefaultBaseURI
	}
	c.BaseURI = strings.TrimRight(strings.TrimSpace(c.BaseURI), "/")
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Mode == "" {
		c.Mode = ModeHTTP
	}
	if c.HeaderPrefix == "" {
		c.HeaderPrefix = DefaultHeaderPrefix
	}

	if err := validate.Struct(c); err != nil {
		return c, configErrorFrom(err)
	}

	u, err := url.Parse(c.BaseURI)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return c, &provider.ConfigurationError{
			Provider: providerName,
			Field:    "base_uri",
			Reason:   "must be an absolute http(s) URI with a host",
		}
	}

	return c, nil
}

func configErrorFrom(err error) error {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return &provider.ConfigurationError{Provider: providerName, Reason: err.Error()}
	}

	fe := fieldErrs[0]
	field := map[string]string{
		"BaseURI":        "base_uri",
		"APIKey":         "api_key",
		"TimeoutSeconds": "timeout",
		"Mode":           "mode",
	}[fe.Field()]

	reason := "invalid value"
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "url":
		reason = "must be an absolute http(s) URI with a host"
	case "gte":
		reason = "must be a positive number of seconds"
	case "oneof":
		reason = "must be one of: " + fe.Param()
	}

	return &provider.ConfigurationError{Provider: providerName, Field: field, Reason: reason}
}

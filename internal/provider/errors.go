package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds as reported by Kind.
const (
	KindOK            = "ok"
	KindValidation    = "validation"
	KindConfiguration = "configuration"
	KindTransport     = "transport"
	KindDecode        = "decode"
)

// maxBodyDetail bounds how much of a provider response body is kept in a
// TransportError.
const maxBodyDetail = 512

// ConfigurationError reports provider settings that are missing or invalid.
// It is raised before any delivery attempt.
type ConfigurationError struct {
	Provider string
	Field    string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: configuration error: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s: configuration error: %s: %s", e.Provider, e.Field, e.Reason)
}

// ValidationError reports a message that cannot be sent as given, such as one
// without a sender. It is raised before any network I/O.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid message: " + e.Reason
}

// TransportError reports a failed delivery attempt: a network failure, a
// timeout, or a non-success answer from the provider.
type TransportError struct {
	Provider string
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int
	// Code is the provider's own error code, when it reported one.
	Code string
	// Body is the (truncated) response body.
	Body string
	Err  error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: send failed", e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a success response whose body could not be understood.
// It unwraps to its TransportError so callers handling transport failures
// handle it too.
type DecodeError struct {
	*TransportError
}

func (e *DecodeError) Error() string {
	return "decode response: " + e.TransportError.Error()
}

func (e *DecodeError) Unwrap() error { return e.TransportError }

// NewTransportError builds a TransportError whose body detail is truncated and
// has every secret replaced, so it is safe to log.
func NewTransportError(providerName string, status int, body []byte, err error, secrets ...string) *TransportError {
	te := &TransportError{
		Provider:   providerName,
		StatusCode: status,
		Body:       truncate(Redact(strings.TrimSpace(string(body)), secrets...), maxBodyDetail),
	}
	if err != nil {
		te.Err = redactedError{err: err, msg: Redact(err.Error(), secrets...)}
	}
	return te
}

// Redact replaces every non-empty secret in s.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "[REDACTED]")
		}
	}
	return s
}

// Kind classifies err for metrics and protocol replies.
func Kind(err error) string {
	var (
		cfgErr *ConfigurationError
		valErr *ValidationError
		decErr *DecodeError
	)
	switch {
	case err == nil:
		return KindOK
	case errors.As(err, &cfgErr):
		return KindConfiguration
	case errors.As(err, &valErr):
		return KindValidation
	case errors.As(err, &decErr):
		return KindDecode
	default:
		return KindTransport
	}
}

// redactedError keeps the original error in the chain while presenting a
// scrubbed message.
type redactedError struct {
	err error
	msg string
}

func (e redactedError) Error() string { return e.msg }
func (e redactedError) Unwrap() error { return e.err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

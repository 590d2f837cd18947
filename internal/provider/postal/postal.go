// Package postal implements a Provider that sends email through the Postal
// HTTP API, either with a hand-encoded JSON payload or through the sdk client.
package postal

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shineum/postal-relay/internal/email"
	"github.com/shineum/postal-relay/internal/provider"
)

const providerName = "postal"

// Provider delivers messages to a Postal server. It keeps no per-send state
// and is safe for concurrent use.
type Provider struct {
	cfg       Config
	cfgErr    error
	transport Transport
	logger    *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithTransport replaces the transport chosen from the configured mode.
func WithTransport(t Transport) Option {
	return func(p *Provider) { p.transport = t }
}

// WithLogger sets the logger used for delivery events.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Postal provider. An invalid configuration does not fail
// construction: every Send reports it as a *provider.ConfigurationError until
// the provider is rebuilt with corrected settings. Use Validate to surface it
// at startup.
//
// httpClient may be nil; a shared client lets sends reuse connections.
func New(cfg Config, httpClient *http.Client, opts ...Option) *Provider {
	normalized, err := cfg.normalize()
	p := &Provider{
		cfg:    normalized,
		cfgErr: err,
		logger: slog.Default(),
	}

	if err == nil {
		switch normalized.Mode {
		case ModeSDK:
			p.transport = NewSDKTransport(normalized, httpClient)
		default:
			p.transport = NewHTTPTransport(normalized, httpClient)
		}
	}

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Validate returns the configuration error every Send would report, or nil.
func (p *Provider) Validate() error {
	return p.cfgErr
}

// Send adapts msg into a Postal request and makes one delivery attempt,
// bounded by the configured timeout.
func (p *Provider) Send(ctx context.Context, msg *email.Message) (*provider.Result, error) {
	if p.cfgErr != nil {
		return nil, p.cfgErr
	}

	req, err := Adapt(msg, p.cfg.HeaderPrefix)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout())
	defer cancel()

	start := time.Now()
	res, err := p.transport.Send(ctx, req)
	if err != nil {
		p.logger.Warn("postal send failed",
			"mode", p.cfg.Mode,
			"kind", provider.Kind(err),
			"duration", time.Since(start),
			"error", err,
		)
		return nil, err
	}

	p.logger.Debug("postal accepted message",
		"mode", p.cfg.Mode,
		"message_id", res.MessageID,
		"recipients", len(res.AcceptedRecipients),
		"duration", time.Since(start),
	)
	return res, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// String identifies the provider and server, e.g. "postal+api://mail.example.com".
func (p *Provider) String() string {
	return "postal+api://" + p.cfg.Host()
}

// Package provider defines the interface for email delivery backends and the
// error kinds they report.
package provider

import (
	"context"

	"github.com/shineum/postal-relay/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// A provider makes exactly one delivery attempt per Send call; retrying is
// the caller's decision.
type Provider interface {
	// Send delivers a message and returns the provider's acceptance details.
	// On failure the result is nil and the error is one of the kinds in
	// this package.
	Send(ctx context.Context, msg *email.Message) (*Result, error)

	// Name returns the human-readable name of this provider.
	Name() string
}

// Result describes a message the provider accepted.
type Result struct {
	// MessageID is the provider-assigned identifier, empty if the provider
	// did not report one.
	MessageID          string   `json:"message_id,omitempty"`
	AcceptedRecipients []string `json:"accepted_recipients,omitempty"`
}

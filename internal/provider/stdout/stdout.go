// Package stdout implements a Provider that prints messages instead of
// delivering them. It is the fallback when no mail API is configured.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/shineum/postal-relay/internal/email"
	"github.com/shineum/postal-relay/internal/provider"
)

const separator = "========================================\n"

// Provider writes a readable summary of each message to a writer.
type Provider struct {
	mu     sync.Mutex
	writer io.Writer
}

// New creates a Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a Provider that writes to w.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints msg and reports it accepted under a generated id. Messages
// without a sender or To recipient are rejected like any other provider would.
func (p *Provider) Send(_ context.Context, msg *email.Message) (*provider.Result, error) {
	if msg == nil {
		return nil, &provider.ValidationError{Reason: "missing message"}
	}
	from, ok := msg.Sender()
	if !ok {
		return nil, &provider.ValidationError{Reason: "missing from address"}
	}
	if len(msg.To) == 0 {
		return nil, &provider.ValidationError{Reason: "missing to recipient"}
	}

	id := "stdout-" + uuid.NewString()

	var b strings.Builder
	b.WriteString(separator)
	fmt.Fprintf(&b, "Message-ID: %s\n", id)
	fmt.Fprintf(&b, "From: %s\n", from)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(email.Strings(msg.To), ", "))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(email.Strings(msg.Cc), ", "))
	}
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", strings.Join(email.Strings(msg.Bcc), ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	b.WriteString("Body:\n")

	body := msg.TextBody
	if body == "" {
		body = msg.HTMLBody
	}
	b.WriteString(body + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			name := att.Filename
			if name == "" {
				name = "(unnamed)"
			}
			attachments = append(attachments, fmt.Sprintf("%s (%s)", name, formatSize(len(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}
	b.WriteString(separator)

	p.mu.Lock()
	_, err := io.WriteString(p.writer, b.String())
	p.mu.Unlock()
	if err != nil {
		return nil, provider.NewTransportError("stdout", 0, nil, err)
	}

	var accepted []string
	for _, list := range [][]email.Address{msg.To, msg.Cc, msg.Bcc} {
		for _, a := range list {
			accepted = append(accepted, a.Address)
		}
	}
	return &provider.Result{MessageID: id, AcceptedRecipients: accepted}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

package postal

import (
	"mime"
	"strings"

	"github.com/shineum/postal-relay/internal/email"
	"github.com/shineum/postal-relay/internal/provider"
)

const (
	defaultAttachmentName = "attachment"
	defaultMediaType      = "application"
	defaultMediaSubtype   = "octet-stream"
)

// SendRequest is the provider-neutral form of one send. It is built fresh for
// every message and not modified once encoded.
type SendRequest struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	TextBody    string
	HTMLBody    string
	Headers     []email.Header
	Attachments []Attachment
}

// Attachment is a file as Postal receives it.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Adapt converts a canonical message into a SendRequest. Headers are
// forwarded only when their name starts with headerPrefix (case-insensitive).
// A message without a sender or without a To recipient is rejected with a
// *provider.ValidationError.
func Adapt(msg *email.Message, headerPrefix string) (*SendRequest, error) {
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

	req := &SendRequest{
		From:     from.String(),
		To:       email.Strings(msg.To),
		Cc:       email.Strings(msg.Cc),
		Bcc:      email.Strings(msg.Bcc),
		Subject:  msg.Subject,
		TextBody: msg.TextBody,
		HTMLBody: msg.HTMLBody,
	}

	prefix := strings.ToUpper(headerPrefix)
	for _, h := range msg.Headers {
		if strings.HasPrefix(strings.ToUpper(h.Name), prefix) {
			req.Headers = append(req.Headers, h)
		}
	}

	for _, att := range msg.Attachments {
		req.Attachments = append(req.Attachments, Attachment{
			Filename:    attachmentName(att),
			ContentType: attachmentType(att),
			Data:        append([]byte(nil), att.Content...),
		})
	}

	return req, nil
}

func attachmentName(att email.Attachment) string {
	if att.Filename != "" {
		return att.Filename
	}
	if att.Disposition != "" {
		if _, params, err := mime.ParseMediaType(att.Disposition); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}
	return defaultAttachmentName
}

func attachmentType(att email.Attachment) string {
	major, minor := att.MediaType, att.MediaSubtype
	if major == "" {
		major = defaultMediaType
	}
	if minor == "" {
		minor = defaultMediaSubtype
	}
	return major + "/" + minor
}

package postal

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shineum/postal-relay/internal/provider/postal/sdk"
)

// jsonPayload is the HTTP-mode body of a send/message call. Every field that
// would be empty is left out of the document.
type jsonPayload struct {
	From        string            `json:"from,omitempty"`
	To          string            `json:"to,omitempty"`
	Cc          string            `json:"cc,omitempty"`
	Bcc         string            `json:"bcc,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	TextBody    string            `json:"text_body,omitempty"`
	HTMLBody    string            `json:"html_body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachments []jsonAttachment  `json:"attachments,omitempty"`
}

type jsonAttachment struct {
	Name        string `json:"name"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

// EncodeJSON encodes req for HTTP mode. Recipient lists are comma-joined and
// attachment bytes are base64 encoded. The output is deterministic.
func EncodeJSON(req *SendRequest) ([]byte, error) {
	p := jsonPayload{
		From:     req.From,
		To:       strings.Join(req.To, ","),
		Cc:       strings.Join(req.Cc, ","),
		Bcc:      strings.Join(req.Bcc, ","),
		Subject:  req.Subject,
		TextBody: req.TextBody,
		HTMLBody: req.HTMLBody,
	}

	if len(req.Headers) > 0 {
		p.Headers = make(map[string]string, len(req.Headers))
		for _, h := range req.Headers {
			p.Headers[h.Name] = h.Value
		}
	}

	for _, att := range req.Attachments {
		p.Attachments = append(p.Attachments, jsonAttachment{
			Name:        att.Filename,
			Content:     base64.StdEncoding.EncodeToString(att.Data),
			ContentType: att.ContentType,
		})
	}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode send request: %w", err)
	}
	return body, nil
}

// BuildMessage encodes req for SDK mode: recipients first, then the sender,
// then the non-empty subject and bodies, then headers, then attachments with
// raw bytes.
func BuildMessage(req *SendRequest) *sdk.Message {
	m := sdk.NewMessage()

	for _, addr := range req.To {
		m.To(addr)
	}
	for _, addr := range req.Cc {
		m.Cc(addr)
	}
	for _, addr := range req.Bcc {
		m.Bcc(addr)
	}

	m.From(req.From)
	if req.Subject != "" {
		m.Subject(req.Subject)
	}
	if req.TextBody != "" {
		m.PlainBody(req.TextBody)
	}
	if req.HTMLBody != "" {
		m.HTMLBody(req.HTMLBody)
	}

	for _, h := range req.Headers {
		m.Header(h.Name, h.Value)
	}
	for _, att := range req.Attachments {
		m.Attach(att.Filename, att.ContentType, att.Data)
	}

	return m
}

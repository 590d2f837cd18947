// Package sdk is a small client for the Postal HTTP API.
//
// Messages are assembled with setter calls and sent with Client.SendMessage.
// Attachment bytes are given raw; the client encodes them for the wire.
package sdk

import (
	"encoding/base64"
	"encoding/json"
)

// Message is an outgoing message under construction. The zero value is not
// usable; call NewMessage.
type Message struct {
	to          []string
	cc          []string
	bcc         []string
	from        string
	subject     string
	plainBody   string
	htmlBody    string
	headers     map[string]string
	attachments []attachment
}

type attachment struct {
	name        string
	contentType string
	data        []byte
}

// NewMessage returns an empty message.
func NewMessage() *Message {
	return &Message{headers: make(map[string]string)}
}

// To adds a To recipient.
func (m *Message) To(address string) *Message {
	m.to = append(m.to, address)
	return m
}

// Cc adds a Cc recipient.
func (m *Message) Cc(address string) *Message {
	m.cc = append(m.cc, address)
	return m
}

// Bcc adds a Bcc recipient.
func (m *Message) Bcc(address string) *Message {
	m.bcc = append(m.bcc, address)
	return m
}

// From sets the From address. Postal requires its domain to be verified.
func (m *Message) From(address string) *Message {
	m.from = address
	return m
}

// Subject sets the subject line.
func (m *Message) Subject(subject string) *Message {
	m.subject = subject
	return m
}

// PlainBody sets the text/plain body.
func (m *Message) PlainBody(body string) *Message {
	m.plainBody = body
	return m
}

// HTMLBody sets the text/html body.
func (m *Message) HTMLBody(body string) *Message {
	m.htmlBody = body
	return m
}

// Header sets a custom header. Setting the same name twice keeps the last value.
func (m *Message) Header(name, value string) *Message {
	m.headers[name] = value
	return m
}

// Attach adds a file. data is kept as given and encoded when sent.
func (m *Message) Attach(name, contentType string, data []byte) *Message {
	m.attachments = append(m.attachments, attachment{name: name, contentType: contentType, data: data})
	return m
}

type wireMessage struct {
	To          []string          `json:"to,omitempty"`
	Cc          []string          `json:"cc,omitempty"`
	Bcc         []string          `json:"bcc,omitempty"`
	From        string            `json:"from,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	PlainBody   string            `json:"plain_body,omitempty"`
	HTMLBody    string            `json:"html_body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachments []wireAttachment  `json:"attachments,omitempty"`
}

type wireAttachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
}

// MarshalJSON encodes the message as the body of a send/message call.
func (m *Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		To:        m.to,
		Cc:        m.cc,
		Bcc:       m.bcc,
		From:      m.from,
		Subject:   m.subject,
		PlainBody: m.plainBody,
		HTMLBody:  m.htmlBody,
	}
	if len(m.headers) > 0 {
		w.Headers = m.headers
	}
	for _, a := range m.attachments {
		w.Attachments = append(w.Attachments, wireAttachment{
			Name:        a.name,
			ContentType: a.contentType,
			Data:        base64.StdEncoding.EncodeToString(a.data),
		})
	}
	return json.Marshal(w)
}

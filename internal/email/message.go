// Package email defines the canonical outgoing message handed to delivery providers.
package email

import (
	"net/mail"
	"net/textproto"
)

// Message is an outgoing email as produced by the host mail pipeline, before
// any provider-specific translation.
type Message struct {
	// From is the declared sender list. Providers use the first entry.
	From        []Address
	To          []Address
	Cc          []Address
	Bcc         []Address
	Subject     string
	TextBody    string
	HTMLBody    string
	Headers     []Header
	Attachments []Attachment
	MessageID   string
}

// Address is a single mailbox with an optional display name.
type Address struct {
	Name    string
	Address string
}

// String renders the address as `"Name" <local@domain>`, or the bare address
// when there is no display name.
func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return (&mail.Address{Name: a.Name, Address: a.Address}).String()
}

// Header is one header field with its raw textual value.
type Header struct {
	Name  string
	Value string
}

// Attachment is a file attached to a message.
type Attachment struct {
	// Filename is the explicit filename property, if the source part had one.
	Filename string
	// MediaType and MediaSubtype are the declared content type halves,
	// e.g. "application" and "pdf".
	MediaType    string
	MediaSubtype string
	// Disposition is the raw Content-Disposition header value.
	Disposition string
	Content     []byte
}

// Addresses converts a list of plain address strings into Address values.
func Addresses(addrs ...string) []Address {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, Address{Address: a})
	}
	return out
}

// Strings flattens addresses into their string form, preserving order.
func Strings(addrs []Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

// Sender returns the first declared sender and whether one exists.
func (m *Message) Sender() (Address, bool) {
	if len(m.From) == 0 || m.From[0].Address == "" {
		return Address{}, false
	}
	return m.From[0], true
}

// HeaderValue returns the first value of the named header, matched
// case-insensitively, or an empty string.
func (m *Message) HeaderValue(name string) string {
	key := textproto.CanonicalMIMEHeaderKey(name)
	for _, h := range m.Headers {
		if textproto.CanonicalMIMEHeaderKey(h.Name) == key {
			return h.Value
		}
	}
	return ""
}

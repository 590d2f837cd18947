package sdk

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Recipients is the "messages" object of a send response, keyed by
// recipient address. Document order is kept so the first recipient can be
// used as the representative message.
type Recipients []Recipient

// First returns the first recipient, if any.
func (r Recipients) First() (Recipient, bool) {
	if len(r) == 0 {
		return Recipient{}, false
	}
	return r[0], true
}

// Addresses returns the recipient addresses in order.
func (r Recipients) Addresses() []string {
	if len(r) == 0 {
		return nil
	}
	out := make([]string, 0, len(r))
	for _, rcpt := range r {
		out = append(out, rcpt.Address)
	}
	return out
}

// UnmarshalJSON decodes the object while keeping key order.
func (r *Recipients) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*r = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("sdk: messages: expected object, got %v", tok)
	}

	var out Recipients
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		address, _ := keyTok.(string)

		var v struct {
			ID    int64  `json:"id"`
			Token string `json:"token"`
		}
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("sdk: messages[%q]: %w", address, err)
		}
		out = append(out, Recipient{Address: address, ID: v.ID, Token: v.Token})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*r = out
	return nil
}

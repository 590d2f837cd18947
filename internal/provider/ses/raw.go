package ses

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/shineum/postal-relay/internal/email"
)

// buildRawMessage renders msg as a multipart/mixed MIME document. Bcc
// recipients are left out of the headers and travel in the destination only.
func buildRawMessage(from string, msg *email.Message, headers []email.Header) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(email.Strings(msg.To), ", "))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(email.Strings(msg.Cc), ", "))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", msg.Subject))
	if msg.MessageID != "" {
		fmt.Fprintf(&buf, "Message-ID: %s\r\n", msg.MessageID)
	}
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.Name, h.Value)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")

	mixed := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mixed.Boundary())

	if err := writeBody(mixed, msg); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Type", contentType(att))
		h.Set("Content-Transfer-Encoding", "base64")
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename(att)}))

		part, err := mixed.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("create attachment part: %w", err)
		}
		if _, err := part.Write(encodeBase64Lines(att.Content)); err != nil {
			return nil, fmt.Errorf("write attachment: %w", err)
		}
	}

	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeBody adds the text and HTML bodies, as a multipart/alternative part
// when both are present.
func writeBody(mixed *multipart.Writer, msg *email.Message) error {
	if msg.TextBody != "" && msg.HTMLBody != "" {
		var alt bytes.Buffer
		aw := multipart.NewWriter(&alt)
		if err := writeTextPart(aw, "text/plain", msg.TextBody); err != nil {
			return err
		}
		if err := writeTextPart(aw, "text/html", msg.HTMLBody); err != nil {
			return err
		}
		if err := aw.Close(); err != nil {
			return err
		}

		h := make(textproto.MIMEHeader)
		h.Set("Content-Type", "multipart/alternative; boundary="+aw.Boundary())
		part, err := mixed.CreatePart(h)
		if err != nil {
			return fmt.Errorf("create body part: %w", err)
		}
		_, err = part.Write(alt.Bytes())
		return err
	}

	switch {
	case msg.HTMLBody != "":
		return writeTextPart(mixed, "text/html", msg.HTMLBody)
	case msg.TextBody != "":
		return writeTextPart(mixed, "text/plain", msg.TextBody)
	}
	return nil
}

func writeTextPart(w *multipart.Writer, mediaType, body string) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", mediaType+"; charset=UTF-8")
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", mediaType, err)
	}
	_, err = part.Write([]byte(body))
	return err
}

func contentType(att email.Attachment) string {
	if att.MediaType == "" {
		return "application/octet-stream"
	}
	if att.MediaSubtype == "" {
		return att.MediaType + "/octet-stream"
	}
	return att.MediaType + "/" + att.MediaSubtype
}

func filename(att email.Attachment) string {
	if att.Filename != "" {
		return att.Filename
	}
	if _, params, err := mime.ParseMediaType(att.Disposition); err == nil && params["filename"] != "" {
		return params["filename"]
	}
	return "attachment"
}

// encodeBase64Lines encodes data as base64 wrapped at 76 characters per RFC 2045.
func encodeBase64Lines(data []byte) []byte {
	encoded := base64.StdEncoding.EncodeToString(data)
	var out bytes.Buffer
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		out.WriteString(encoded[i:end])
		if end < len(encoded) {
			out.WriteString("\r\n")
		}
	}
	return out.Bytes()
}

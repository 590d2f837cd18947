// Package parser turns raw RFC 5322 messages into canonical email.Message values.
package parser

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/shineum/postal-relay/internal/email"
)

var wordDecoder = new(mime.WordDecoder)

// Parse parses a raw RFC 5322 message. It handles single-part bodies, nested
// multipart bodies with text and HTML alternatives, and attachments.
// Unrecognized MIME parts are logged and skipped.
func Parse(raw []byte) (*email.Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &email.Message{Headers: collectHeaders(raw)}
	result.From = parseAddressList(result.HeaderValue("From"))
	result.To = parseAddressList(result.HeaderValue("To"))
	result.Cc = parseAddressList(result.HeaderValue("Cc"))
	result.Bcc = parseAddressList(result.HeaderValue("Bcc"))
	result.Subject = decodeHeader(result.HeaderValue("Subject"))
	result.MessageID = result.HeaderValue("Message-Id")

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := parseMultipart(msg.Body, boundary, result); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return result, nil
	}

	body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	if mediaType == "text/html" {
		result.HTMLBody = string(body)
	} else {
		if mediaType != "text/plain" {
			slog.Warn("unrecognized top-level content type", "content_type", mediaType)
		}
		result.TextBody = string(body)
	}

	return result, nil
}

// parseMultipart walks a multipart body, filling the first text/plain and
// text/html parts into the bodies and everything with attachment semantics
// into the attachment list.
func parseMultipart(body io.Reader, boundary string, result *email.Message) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := mime.ParseMediaType(partContentType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			nested := params["boundary"]
			if nested == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := parseMultipart(part, nested, result); err != nil {
				slog.Warn("failed to parse nested multipart", "error", err)
			}
			continue
		}

		content, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		disposition := part.Header.Get("Content-Disposition")
		isAttachment := strings.HasPrefix(strings.ToLower(disposition), "attachment")

		if !isAttachment {
			switch {
			case mediaType == "text/plain" && result.TextBody == "":
				result.TextBody = string(content)
				continue
			case mediaType == "text/html" && result.HTMLBody == "":
				result.HTMLBody = string(content)
				continue
			case part.FileName() == "" && params["name"] == "":
				slog.Warn("unrecognized MIME part, skipping",
					"content_type", mediaType,
					"disposition", disposition,
				)
				continue
			}
		}

		result.Attachments = append(result.Attachments, newAttachment(mediaType, params, disposition, content))
	}
}

// newAttachment records the part as declared. Filename resolution (explicit
// name, then disposition filename, then a placeholder) is left to providers.
func newAttachment(mediaType string, params map[string]string, disposition string, content []byte) email.Attachment {
	att := email.Attachment{
		Filename:    decodeHeader(params["name"]),
		Disposition: disposition,
		Content:     content,
	}
	if major, minor, ok := strings.Cut(mediaType, "/"); ok {
		att.MediaType = major
		att.MediaSubtype = minor
	}
	return att
}

// decodeBody reads a body, undoing base64 or quoted-printable transfer
// encoding. Multipart parts arrive with quoted-printable already removed by
// the multipart reader, which also drops their encoding header.
func decodeBody(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		decoded, err := io.ReadAll(quotedprintable.NewReader(r))
		if err != nil {
			return nil, fmt.Errorf("failed to decode quoted-printable content: %w", err)
		}
		return decoded, nil
	case "base64":
		return decodeBase64(r)
	default:
		return io.ReadAll(r)
	}
}

func decodeBase64(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cleaned := strings.NewReplacer("\r", "", "\n", "", " ", "").Replace(string(raw))
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 content: %w", err)
		}
	}
	return decoded, nil
}

// collectHeaders reads the header section of raw in source order, unfolding
// continuation lines. Names are canonicalized; values are kept undecoded.
func collectHeaders(raw []byte) []email.Header {
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))

	var headers []email.Header
	for {
		line, err := tp.ReadContinuedLine()
		if err != nil || line == "" {
			return headers
		}
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		headers = append(headers, email.Header{
			Name:  textproto.CanonicalMIMEHeaderKey(name),
			Value: strings.TrimSpace(value),
		})
	}
}

// parseAddressList parses an RFC 5322 address list, keeping display names.
// Lists that do not parse fall back to a plain comma split.
func parseAddressList(raw string) []email.Address {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parsed, err := mail.ParseAddressList(raw)
	if err != nil {
		var result []email.Address
		for _, p := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, email.Address{Address: trimmed})
			}
		}
		return result
	}

	result := make([]email.Address, 0, len(parsed))
	for _, a := range parsed {
		result = append(result, email.Address{Name: a.Name, Address: a.Address})
	}
	return result
}

func decodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

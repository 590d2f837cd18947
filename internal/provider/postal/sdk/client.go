package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	sendMessagePath = "/api/v1/send/message"

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 1 << 20
)

// ErrMalformedResponse is wrapped by errors for response bodies that are not
// a Postal JSON envelope.
var ErrMalformedResponse = errors.New("sdk: malformed response")

// Client sends messages through one Postal server using a server API key.
// It is safe for concurrent use.
type Client struct {
	baseURI    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a client for the Postal server at baseURI.
func NewClient(baseURI, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURI:    strings.TrimRight(baseURI, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Error is a failure reported by the Postal server, either through an HTTP
// error status or an envelope whose status is not "success".
type Error struct {
	StatusCode int
	// Status is the envelope status, e.g. "error" or "parameter-error".
	Status  string
	Code    string
	Message string
	Body    []byte
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.TrimSpace(string(e.Body))
	}
	if e.Code != "" {
		return fmt.Sprintf("postal api error (HTTP %d, %s): %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("postal api error (HTTP %d): %s", e.StatusCode, msg)
}

// Result is the server's answer to an accepted message.
type Result struct {
	MessageID  string
	Recipients Recipients
}

// Recipient is the per-recipient message Postal created.
type Recipient struct {
	Address string
	ID      int64
	Token   string
}

// SendMessage sends m and returns the accepted message details.
func (c *Client) SendMessage(ctx context.Context, m *Message) (*Result, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("sdk: encode message: %w", err)
	}

	status, respBody, err := c.post(ctx, sendMessagePath, body)
	if err != nil {
		return nil, err
	}

	var data sendData
	if err := DecodeEnvelope(status, respBody, &data); err != nil {
		return nil, err
	}

	return &Result{MessageID: data.MessageID, Recipients: data.Messages}, nil
}

type sendData struct {
	MessageID string     `json:"message_id"`
	Messages  Recipients `json:"messages"`
}

func (c *Client) post(ctx context.Context, path string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURI+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("sdk: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Server-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("sdk: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("sdk: read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

type envelope struct {
	Status string          `json:"status"`
	Time   float64         `json:"time"`
	Data   json.RawMessage `json:"data"`
}

type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DecodeEnvelope interprets a Postal API response. Any status outside 2xx and
// non-success envelopes become *Error; unparseable bodies wrap
// ErrMalformedResponse. On success the envelope data is decoded into out,
// which may be nil. An empty body with a success status is accepted.
func DecodeEnvelope(status int, body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)

	var env envelope
	var parseErr error
	if len(trimmed) > 0 {
		parseErr = json.Unmarshal(trimmed, &env)
	}

	if status < 200 || status > 299 {
		apiErr := &Error{StatusCode: status, Status: env.Status, Body: body}
		if parseErr == nil && env.Status != "success" {
			fillError(apiErr, env.Data)
		}
		return apiErr
	}

	if parseErr != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, parseErr)
	}
	if len(trimmed) == 0 {
		return nil
	}

	if env.Status != "" && env.Status != "success" {
		apiErr := &Error{StatusCode: status, Status: env.Status, Body: body}
		fillError(apiErr, env.Data)
		return apiErr
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: data: %v", ErrMalformedResponse, err)
	}
	return nil
}

func fillError(e *Error, data json.RawMessage) {
	var ed errorData
	if len(data) > 0 && json.Unmarshal(data, &ed) == nil {
		e.Code = ed.Code
		e.Message = ed.Message
	}
	if e.Code == "" {
		e.Code = e.Status
	}
}

package postal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/shineum/postal-relay/internal/provider"
	"github.com/shineum/postal-relay/internal/provider/postal/sdk"
)

// maxResponseSize caps how much of a Postal response is read.
const maxResponseSize = 1 << 20

// Transport performs a single exchange with Postal for one request. It does
// not retry.
type Transport interface {
	Send(ctx context.Context, req *SendRequest) (*provider.Result, error)
}

// HTTPTransport posts the JSON encoding of a request to the send/message
// endpoint.
type HTTPTransport struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPTransport creates an HTTP-mode transport. cfg must already be
// validated. client may be shared between transports.
func NewHTTPTransport(cfg Config, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{
		endpoint: cfg.BaseURI + sendMessagePath,
		apiKey:   cfg.APIKey,
		client:   client,
	}
}

// Send encodes req, posts it and decodes the answer.
func (t *HTTPTransport) Send(ctx context.Context, req *SendRequest) (*provider.Result, error) {
	body, err := EncodeJSON(req)
	if err != nil {
		return nil, provider.NewTransportError(providerName, 0, nil, err, t.apiKey)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, provider.NewTransportError(providerName, 0, nil, fmt.Errorf("create request: %w", err), t.apiKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Server-API-Key", t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, provider.NewTransportError(providerName, 0, nil, err, t.apiKey)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, provider.NewTransportError(providerName, resp.StatusCode, nil, fmt.Errorf("read response: %w", err), t.apiKey)
	}

	return decodeResponse(resp.StatusCode, respBody, t.apiKey)
}

// SDKTransport sends requests through the sdk client, which does its own
// attachment encoding.
type SDKTransport struct {
	client *sdk.Client
	apiKey string
}

// NewSDKTransport creates an SDK-mode transport. cfg must already be
// validated.
func NewSDKTransport(cfg Config, client *http.Client) *SDKTransport {
	var opts []sdk.Option
	if client != nil {
		opts = append(opts, sdk.WithHTTPClient(client))
	}
	return &SDKTransport{
		client: sdk.NewClient(cfg.BaseURI, cfg.APIKey, opts...),
		apiKey: cfg.APIKey,
	}
}

// Send builds the sdk message for req and sends it.
func (t *SDKTransport) Send(ctx context.Context, req *SendRequest) (*provider.Result, error) {
	res, err := t.client.SendMessage(ctx, BuildMessage(req))
	if err != nil {
		return nil, mapError(err, 0, nil, t.apiKey)
	}
	return resultFromSDK(res), nil
}

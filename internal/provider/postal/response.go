package postal

import (
	"errors"
	"strconv"

	"github.com/shineum/postal-relay/internal/provider"
	"github.com/shineum/postal-relay/internal/provider/postal/sdk"
)

type sendResponseData struct {
	MessageID string         `json:"message_id"`
	Messages  sdk.Recipients `json:"messages"`
}

// decodeResponse maps an HTTP-mode answer to a result or an error.
func decodeResponse(status int, body []byte, apiKey string) (*provider.Result, error) {
	var data sendResponseData
	if err := sdk.DecodeEnvelope(status, body, &data); err != nil {
		return nil, mapError(err, status, body, apiKey)
	}
	return &provider.Result{
		MessageID:          data.MessageID,
		AcceptedRecipients: data.Messages.Addresses(),
	}, nil
}

// resultFromSDK uses the first recipient's message id as the representative
// id, falling back to the envelope message id when no recipient is listed.
func resultFromSDK(res *sdk.Result) *provider.Result {
	out := &provider.Result{
		MessageID:          res.MessageID,
		AcceptedRecipients: res.Recipients.Addresses(),
	}
	if first, ok := res.Recipients.First(); ok && first.ID != 0 {
		out.MessageID = strconv.FormatInt(first.ID, 10)
	}
	return out
}

// mapError converts sdk and network errors into the provider error kinds.
// status and body describe the response when the caller has them.
func mapError(err error, status int, body []byte, apiKey string) error {
	var apiErr *sdk.Error
	switch {
	case errors.As(err, &apiErr):
		te := provider.NewTransportError(providerName, apiErr.StatusCode, apiErr.Body, nil, apiKey)
		te.Code = apiErr.Code
		if te.Body == "" {
			te.Body = provider.Redact(apiErr.Message, apiKey)
		}
		return te
	case errors.Is(err, sdk.ErrMalformedResponse):
		return &provider.DecodeError{
			TransportError: provider.NewTransportError(providerName, status, body, err, apiKey),
		}
	default:
		return provider.NewTransportError(providerName, status, body, err, apiKey)
	}
}

// Package ses implements a Provider that sends email through AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/postal-relay/internal/email"
	"github.com/shineum/postal-relay/internal/provider"
)

const providerName = "ses"

// forwardedHeaderPrefix selects the message headers carried into raw sends.
const forwardedHeaderPrefix = "X-"

// Config holds the settings for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Sender overrides the From address of every message when set.
	Sender string
}

// Provider sends email through the SES v2 SendEmail operation. It does not
// retry; the SDK's own retryer is disabled so each Send is one attempt.
type Provider struct {
	sender string
	secret string
	client SendEmailAPI
	logger *slog.Logger
}

// SendEmailAPI is the subset of the SES v2 client used by Provider.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New loads AWS configuration for cfg and creates a Provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Region == "" {
		return nil, &provider.ConfigurationError{Provider: providerName, Field: "region", Reason: "is required"}
	}
	if (cfg.AccessKeyID == "") != (cfg.SecretAccessKey == "") {
		return nil, &provider.ConfigurationError{
			Provider: providerName,
			Field:    "access_key_id",
			Reason:   "access key id and secret access key must be set together",
		}
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(1),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &provider.ConfigurationError{
			Provider: providerName,
			Reason:   provider.Redact(fmt.Sprintf("load AWS config: %v", err), cfg.SecretAccessKey),
		}
	}

	p := NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg))
	p.secret = cfg.SecretAccessKey
	return p, nil
}

// NewWithClient creates a Provider around an existing client.
func NewWithClient(sender string, client SendEmailAPI) *Provider {
	return &Provider{
		sender: sender,
		client: client,
		logger: slog.Default(),
	}
}

// Send delivers msg in a single SendEmail call. Messages with attachments or
// forwarded headers go out as raw MIME; everything else uses simple content.
func (p *Provider) Send(ctx context.Context, msg *email.Message) (*provider.Result, error) {
	if msg == nil {
		return nil, &provider.ValidationError{Reason: "missing message"}
	}

	from := p.sender
	if from == "" {
		addr, ok := msg.Sender()
		if !ok {
			return nil, &provider.ValidationError{Reason: "missing from address"}
		}
		from = addr.String()
	}
	if len(msg.To) == 0 {
		return nil, &provider.ValidationError{Reason: "missing to recipient"}
	}

	headers := forwardedHeaders(msg.Headers)

	var input *sesv2.SendEmailInput
	if len(msg.Attachments) > 0 || len(headers) > 0 {
		raw, err := buildRawMessage(from, msg, headers)
		if err != nil {
			return nil, &provider.ValidationError{Reason: "cannot build raw message: " + err.Error()}
		}
		input = &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(from),
			Destination:      destination(msg),
			Content:          &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
		}
	} else {
		input = buildSimpleInput(from, msg)
	}

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		te := classify(err, p.secret)
		p.logger.Warn("ses send failed", "status", te.StatusCode, "code", te.Code, "error", te)
		return nil, te
	}

	res := &provider.Result{
		AcceptedRecipients: recipients(msg),
	}
	if out != nil {
		res.MessageID = aws.ToString(out.MessageId)
	}
	return res, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

func classify(err error, secret string) *provider.TransportError {
	status := 0
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}

	te := provider.NewTransportError(providerName, status, nil, err, secret)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		te.Code = apiErr.ErrorCode()
	}
	return te
}

func destination(msg *email.Message) *types.Destination {
	return &types.Destination{
		ToAddresses:  email.Strings(msg.To),
		CcAddresses:  email.Strings(msg.Cc),
		BccAddresses: email.Strings(msg.Bcc),
	}
}

func recipients(msg *email.Message) []string {
	var out []string
	for _, list := range [][]email.Address{msg.To, msg.Cc, msg.Bcc} {
		for _, a := range list {
			out = append(out, a.Address)
		}
	}
	return out
}

func forwardedHeaders(in []email.Header) []email.Header {
	var out []email.Header
	for _, h := range in {
		if len(h.Name) >= len(forwardedHeaderPrefix) &&
			strings.EqualFold(h.Name[:len(forwardedHeaderPrefix)], forwardedHeaderPrefix) {
			out = append(out, h)
		}
	}
	return out
}

func buildSimpleInput(from string, msg *email.Message) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")}
	}
	if msg.TextBody != "" {
		body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      destination(msg),
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
}

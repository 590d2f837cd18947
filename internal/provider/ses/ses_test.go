package ses

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/shineum/postal-relay/internal/email"
	"github.com/shineum/postal-relay/internal/provider"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params, optFns...)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

func simpleMessage() *email.Message {
	return &email.Message{
		From:     email.Addresses("sender@example.com"),
		To:       email.Addresses("to@example.com"),
		Subject:  "Test Subject",
		TextBody: "Hello, World!",
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	p := NewWithClient("sender@example.com", &mockSESClient{})
	if got := p.Name(); got != "ses" {
		t.Errorf("Name(): got %q, want %q", got, "ses")
	}
}

func TestNew_MissingRegion(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Sender: "sender@example.com"})
	var cfgErr *provider.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want *provider.ConfigurationError", err)
	}
	if cfgErr.Field != "region" {
		t.Errorf("Field: got %q, want %q", cfgErr.Field, "region")
	}
}

func TestNew_PartialCredentials(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Region: "us-east-1", AccessKeyID: "AKIA"})
	var cfgErr *provider.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("got %v, want *provider.ConfigurationError", err)
	}
}

func TestSend_SimpleTextEmail(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("", mock)

	res, err := p.Send(context.Background(), simpleMessage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MessageID != "test-message-id" {
		t.Errorf("MessageID: got %q, want %q", res.MessageID, "test-message-id")
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}

	input := mock.lastInput
	if input.Content.Simple == nil {
		t.Fatal("expected simple email content, got nil")
	}
	if got := *input.FromEmailAddress; got != "sender@example.com" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "sender@example.com")
	}
	if got := *input.Content.Simple.Subject.Data; got != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", got, "Test Subject")
	}
	if got := *input.Content.Simple.Body.Text.Data; got != "Hello, World!" {
		t.Errorf("TextBody: got %q, want %q", got, "Hello, World!")
	}
	if input.Content.Simple.Body.Html != nil {
		t.Error("expected no HTML body")
	}
}

func TestSend_ConfiguredSenderOverridesFrom(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("relay@example.com", mock)

	if _, err := p.Send(context.Background(), simpleMessage()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := *mock.lastInput.FromEmailAddress; got != "relay@example.com" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "relay@example.com")
	}
}

func TestSend_WithRecipients(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("sender@example.com", mock)

	msg := simpleMessage()
	msg.To = email.Addresses("to1@example.com", "to2@example.com")
	msg.Cc = email.Addresses("cc@example.com")
	msg.Bcc = email.Addresses("bcc@example.com")

	res, err := p.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dest := mock.lastInput.Destination
	if len(dest.ToAddresses) != 2 {
		t.Errorf("ToAddresses: got %d, want 2", len(dest.ToAddresses))
	}
	if len(dest.CcAddresses) != 1 {
		t.Errorf("CcAddresses: got %d, want 1", len(dest.CcAddresses))
	}
	if len(dest.BccAddresses) != 1 {
		t.Errorf("BccAddresses: got %d, want 1", len(dest.BccAddresses))
	}
	if len(res.AcceptedRecipients) != 4 {
		t.Errorf("AcceptedRecipients: got %v, want 4 entries", res.AcceptedRecipients)
	}
}

func TestSend_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		sender string
		modify func(*email.Message)
	}{
		{name: "no from", modify: func(m *email.Message) { m.From = nil }},
		{name: "no to", sender: "relay@example.com", modify: func(m *email.Message) { m.To = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock := &mockSESClient{}
			p := NewWithClient(tt.sender, mock)
			msg := simpleMessage()
			tt.modify(msg)

			_, err := p.Send(context.Background(), msg)
			var valErr *provider.ValidationError
			if !errors.As(err, &valErr) {
				t.Fatalf("got %v, want *provider.ValidationError", err)
			}
			if mock.callCount != 0 {
				t.Errorf("call count: got %d, want 0", mock.callCount)
			}
		})
	}
}

func TestSend_WithAttachments(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("sender@example.com", mock)

	msg := simpleMessage()
	msg.Bcc = email.Addresses("hidden@example.com")
	msg.Attachments = []email.Attachment{{
		Filename:     "test.txt",
		MediaType:    "text",
		MediaSubtype: "plain",
		Content:      []byte("file content"),
	}}

	if _, err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input := mock.lastInput
	if input.Content.Raw == nil {
		t.Fatal("expected raw email content for attachment, got nil")
	}
	if input.Content.Simple != nil {
		t.Error("expected no simple content when using raw message")
	}
	if got := input.Destination.BccAddresses; len(got) != 1 || got[0] != "hidden@example.com" {
		t.Errorf("BccAddresses: got %v", got)
	}

	rawStr := string(input.Content.Raw.Data)
	for _, want := range []string{
		"From: sender@example.com",
		"To: to@example.com",
		"Subject: Test Subject",
		"multipart/mixed",
		"text/plain",
		`filename=test.txt`,
	} {
		if !strings.Contains(rawStr, want) {
			t.Errorf("raw message missing %q", want)
		}
	}
	if strings.Contains(rawStr, "hidden@example.com") {
		t.Error("raw message exposes the Bcc recipient")
	}
}

func TestSend_ForwardedHeadersUseRaw(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("sender@example.com", mock)

	msg := simpleMessage()
	msg.Headers = []email.Header{{Name: "X-Campaign", Value: "spring"}, {Name: "Received", Value: "by mx"}}

	if _, err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.lastInput.Content.Raw == nil {
		t.Fatal("expected raw content for forwarded headers")
	}
	raw := string(mock.lastInput.Content.Raw.Data)
	if !strings.Contains(raw, "X-Campaign: spring\r\n") {
		t.Error("raw message missing forwarded header")
	}
	if strings.Contains(raw, "Received:") {
		t.Error("raw message carries a header without the forwarded prefix")
	}
}

func TestSend_NoRetryOnError(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	p := NewWithClient("sender@example.com", mock)

	_, err := p.Send(context.Background(), simpleMessage())
	var te *provider.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want *provider.TransportError", err)
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}
}

func TestSend_APIErrorClassified(t *testing.T) {
	t.Parallel()

	const secret = "wJalrXUtnFEMI"
	apiErr := &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusBadRequest}},
			Err:      &smithy.GenericAPIError{Code: "MessageRejected", Message: "Email address is not verified " + secret},
		},
		RequestID: "req-1",
	}
	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, apiErr
		},
	}
	p := NewWithClient("sender@example.com", mock)
	p.secret = secret

	_, err := p.Send(context.Background(), simpleMessage())
	var te *provider.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want *provider.TransportError", err)
	}
	if te.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode: got %d, want %d", te.StatusCode, http.StatusBadRequest)
	}
	if te.Code != "MessageRejected" {
		t.Errorf("Code: got %q, want %q", te.Code, "MessageRejected")
	}
	if strings.Contains(err.Error(), secret) {
		t.Errorf("error leaks the secret: %v", err)
	}
}

func TestSend_ContextCancelled(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, ctx.Err()
		},
	}
	p := NewWithClient("sender@example.com", mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Send(ctx, simpleMessage())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled in chain", err)
	}
}

func TestBuildRawMessage_Alternative(t *testing.T) {
	t.Parallel()

	msg := simpleMessage()
	msg.HTMLBody = "<h1>Hello</h1>"
	msg.Attachments = []email.Attachment{{Disposition: `attachment; filename="r.csv"`, Content: []byte("a,b")}}

	raw, err := buildRawMessage("sender@example.com", msg, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := string(raw)
	for _, want := range []string{"multipart/alternative", "text/plain; charset=UTF-8", "text/html; charset=UTF-8", "filename=r.csv", "application/octet-stream"} {
		if !strings.Contains(s, want) {
			t.Errorf("raw message missing %q", want)
		}
	}
}

func TestEncodeBase64Lines(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		size      int
		wantLines int
	}{
		{name: "empty", size: 0, wantLines: 1},
		{name: "one line", size: 57, wantLines: 1},
		{name: "two lines", size: 58, wantLines: 2},
		{name: "many lines", size: 57 * 10, wantLines: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := string(encodeBase64Lines(make([]byte, tt.size)))
			lines := strings.Split(got, "\r\n")
			if len(lines) != tt.wantLines {
				t.Errorf("lines: got %d, want %d", len(lines), tt.wantLines)
			}
			for _, l := range lines {
				if len(l) > 76 {
					t.Errorf("line longer than 76 characters: %d", len(l))
				}
			}
		})
	}
}

func TestProviderInterface(t *testing.T) {
	t.Parallel()
	var _ provider.Provider = NewWithClient("sender@example.com", &mockSESClient{})
}

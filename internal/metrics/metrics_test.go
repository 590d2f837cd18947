package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/shineum/postal-relay/internal/email"
	"github.com/shineum/postal-relay/internal/provider"
)

type stubProvider struct {
	err error
}

func (s *stubProvider) Send(_ context.Context, _ *email.Message) (*provider.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &provider.Result{MessageID: "stub-1"}, nil
}

func (s *stubProvider) Name() string { return "stub" }

func TestWrap_RecordsOutcomes(t *testing.T) {
	t.Parallel()

	m := New()
	ok := m.Wrap(&stubProvider{})
	invalid := m.Wrap(&stubProvider{err: &provider.ValidationError{Reason: "missing recipient"}})
	down := m.Wrap(&stubProvider{err: provider.NewTransportError("stub", 503, nil, nil)})

	ctx := context.Background()
	for range 3 {
		res, err := ok.Send(ctx, &email.Message{})
		if err != nil || res.MessageID != "stub-1" {
			t.Fatalf("Send: got (%v, %v)", res, err)
		}
	}
	if _, err := invalid.Send(ctx, &email.Message{}); err == nil {
		t.Fatal("expected validation error")
	}
	_, err := down.Send(ctx, &email.Message{})
	var tErr *provider.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("error not passed through: %v", err)
	}

	tests := []struct {
		outcome string
		want    float64
	}{
		{provider.KindOK, 3},
		{provider.KindValidation, 1},
		{provider.KindTransport, 1},
		{provider.KindConfiguration, 0},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(m.sendsTotal.WithLabelValues("stub", tt.outcome))
		if got != tt.want {
			t.Errorf("sends_total{outcome=%q}: got %v, want %v", tt.outcome, got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(m.sendDuration); n != 1 {
		t.Errorf("duration series: got %d, want 1", n)
	}
	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Errorf("in flight after sends: got %v, want 0", got)
	}
	if ok.Name() != "stub" {
		t.Errorf("Name: got %q, want %q", ok.Name(), "stub")
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	t.Parallel()

	m := New()
	_, _ = m.Wrap(&stubProvider{}).Send(context.Background(), &email.Message{})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`postal_relay_sends_total{outcome="ok",provider="stub"} 1`,
		"postal_relay_send_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

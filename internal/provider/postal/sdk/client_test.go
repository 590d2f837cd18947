package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestRecipientsKeepsDocumentOrder(t *testing.T) {
	t.Parallel()

	var r Recipients
	body := `{"z@y.com":{"id":3,"token":"c"},"a@y.com":{"id":1,"token":"a"},"m@y.com":{"id":2,"token":"b"}}`
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	want := []string{"z@y.com", "a@y.com", "m@y.com"}
	if got := r.Addresses(); !reflect.DeepEqual(got, want) {
		t.Errorf("Addresses() = %v, want %v", got, want)
	}
	first, ok := r.First()
	if !ok || first.ID != 3 || first.Token != "c" {
		t.Errorf("First() = %+v, %v", first, ok)
	}
}

func TestRecipientsNullAndEmpty(t *testing.T) {
	t.Parallel()

	for _, body := range []string{"null", "{}"} {
		var r Recipients
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			t.Fatalf("unmarshal %s: %v", body, err)
		}
		if _, ok := r.First(); ok {
			t.Errorf("First() on %s reported a recipient", body)
		}
		if r.Addresses() != nil {
			t.Errorf("Addresses() on %s = %v, want nil", body, r.Addresses())
		}
	}
}

func TestRecipientsRejectsArray(t *testing.T) {
	t.Parallel()

	var r Recipients
	if err := json.Unmarshal([]byte(`["a@y.com"]`), &r); err == nil {
		t.Fatal("expected error for array")
	}
}

func TestDecodeEnvelope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		body      string
		wantID    string
		wantCode  string
		malformed bool
	}{
		{name: "success", status: 200, body: `{"status":"success","data":{"message_id":"m1"}}`, wantID: "m1"},
		{name: "empty body", status: 200, body: "  "},
		{name: "success without data", status: 200, body: `{"status":"success"}`},
		{name: "error envelope", status: 200, body: `{"status":"error","data":{"code":"ValidationError","message":"bad"}}`, wantCode: "ValidationError"},
		{name: "error envelope without code", status: 200, body: `{"status":"parameter-error"}`, wantCode: "parameter-error"},
		{name: "http error with envelope", status: 403, body: `{"status":"error","data":{"code":"AccessDenied"}}`, wantCode: "AccessDenied"},
		{name: "http error with html", status: 500, body: `<h1>oops</h1>`},
		{name: "multiple choices with success envelope", status: 300, body: `{"status":"success","data":{"message_id":"abc"}}`},
		{name: "redirect without body", status: 302},
		{name: "not modified", status: 304},
		{name: "garbage", status: 200, body: `<h1>ok</h1>`, malformed: true},
		{name: "data of wrong shape", status: 200, body: `{"status":"success","data":{"message_id":7}}`, malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out sendData
			err := DecodeEnvelope(tt.status, []byte(tt.body), &out)

			var apiErr *Error
			switch {
			case tt.malformed:
				if !errors.Is(err, ErrMalformedResponse) {
					t.Fatalf("got %v, want ErrMalformedResponse", err)
				}
			case tt.wantCode != "" || tt.status < 200 || tt.status > 299:
				if !errors.As(err, &apiErr) {
					t.Fatalf("got %v, want *Error", err)
				}
				if apiErr.Code != tt.wantCode {
					t.Errorf("Code = %q, want %q", apiErr.Code, tt.wantCode)
				}
				if apiErr.StatusCode != tt.status {
					t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if out.MessageID != tt.wantID {
					t.Errorf("MessageID = %q, want %q", out.MessageID, tt.wantID)
				}
			}
		})
	}
}

func TestMessageMarshalJSON(t *testing.T) {
	t.Parallel()

	m := NewMessage().
		To("b@y.com").To("c@y.com").
		Bcc("d@y.com").
		From("a@x.com").
		PlainBody("hi").
		Header("X-One", "1").
		Attach("f.bin", "application/octet-stream", []byte{0xde, 0xad})

	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	want := map[string]any{
		"to":         []any{"b@y.com", "c@y.com"},
		"bcc":        []any{"d@y.com"},
		"from":       "a@x.com",
		"plain_body": "hi",
		"headers":    map[string]any{"X-One": "1"},
		"attachments": []any{map[string]any{
			"name":         "f.bin",
			"content_type": "application/octet-stream",
			"data":         "3q0=",
		}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v\nwant %v", got, want)
	}
}

func TestClientSendMessage(t *testing.T) {
	t.Parallel()

	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Server-API-Key")
		gotPath = r.URL.Path
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = io.WriteString(w, `{"status":"success","data":{"message_id":"env","messages":{"b@y.com":{"id":55,"token":"t"}}}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "key-1", WithHTTPClient(srv.Client()))
	res, err := c.SendMessage(context.Background(), NewMessage().To("b@y.com").From("a@x.com"))
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if gotKey != "key-1" {
		t.Errorf("api key header = %q, want %q", gotKey, "key-1")
	}
	if gotPath != "/api/v1/send/message" {
		t.Errorf("path = %q", gotPath)
	}
	if res.MessageID != "env" {
		t.Errorf("MessageID = %q, want %q", res.MessageID, "env")
	}
	if first, _ := res.Recipients.First(); first.ID != 55 {
		t.Errorf("first recipient id = %d, want 55", first.ID)
	}
}

func TestClientSendMessageError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"status":"error","data":{"code":"InvalidServerAPIKey","message":"nope"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key-1", WithHTTPClient(srv.Client()))
	_, err := c.SendMessage(context.Background(), NewMessage().To("b@y.com"))

	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("got %v, want *Error", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "nope" {
		t.Errorf("got %+v", apiErr)
	}
}

package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPostJSONRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Fatalf("expected json content type, got %q", r.Header.Get("Content-Type"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"reference":"ref-1"}`))
	}))
	defer server.Close()

	client := New(time.Second)
	var out struct {
		Success   bool   `json:"success"`
		Reference string `json:"reference"`
	}
	err := client.PostJSON(context.Background(), server.URL, map[string]string{"order_id": "99"}, &out)
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	if !out.Success || out.Reference != "ref-1" {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestGetJSONNon2xxIsStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream down"}`))
	}))
	defer server.Close()

	client := New(time.Second)
	err := client.GetJSON(context.Background(), server.URL, nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", statusErr.StatusCode)
	}
}

func TestDeadlineExpiryIsErrTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := New(50 * time.Millisecond)
	err := client.GetJSON(context.Background(), server.URL, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

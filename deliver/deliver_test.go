package deliver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gurre/convopipe/config"
)

func testSettings(endpoint string) *config.Settings {
	return &config.Settings{
		APIEndpoint:   endpoint,
		APITimeoutSec: 10,
		APIMaxRetries: 3,
	}
}

func TestDeliverSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fname") != "a.wav" || r.URL.Query().Get("fpath") != "a.wav" {
			t.Errorf("query params = %v, want fname=fpath=a.wav", r.URL.Query())
		}
		w.Write([]byte(`{"id":42}`))
	}))
	defer srv.Close()

	c := New(testSettings(srv.URL))
	id, err := c.Deliver(t.Context(), "a.wav", map[string]any{"transcript": "hello"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if id != 42 {
		t.Errorf("id = %d, want 42", id)
	}
}

func TestDeliverRetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"id":7}`))
	}))
	defer srv.Close()

	c := New(testSettings(srv.URL))
	id, err := c.Deliver(t.Context(), "a.wav", map[string]any{})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if id != 7 {
		t.Errorf("id = %d, want 7", id)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestDeliverDoesNotRetryOn4xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(testSettings(srv.URL))
	if _, err := c.Deliver(t.Context(), "a.wav", map[string]any{}); err == nil {
		t.Fatal("expected error on permanent 400 response")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on 4xx)", attempts)
	}
}

func TestDeliverGivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := testSettings(srv.URL)
	s.APIMaxRetries = 2
	c := New(s)
	if _, err := c.Deliver(t.Context(), "a.wav", map[string]any{}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

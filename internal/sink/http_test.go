package sink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/tohafrit/savegress-platform-sub002/internal/event"
)

func testBatch(t *testing.T) *event.Batch {
	t.Helper()
	events := []*event.Event{
		event.NewInsert("pg-primary", "orders", map[string]any{"id": "1"}, 1),
		event.NewInsert("pg-primary", "orders", map[string]any{"id": "2"}, 2),
	}
	b := event.NewBatch(events)
	payload, err := b.EncodePayload()
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	b.Codec = "none"
	b.Payload = payload
	return b
}

func TestHTTPSendSuccess(t *testing.T) {
	var mu sync.Mutex
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotHeaders = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewHTTP(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	ack, err := s.Send(context.Background(), testBatch(t))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ack.Delivered != 2 {
		t.Errorf("ack = %+v, expected 2 delivered", ack)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotHeaders.Get("X-Cdc-Codec") != "none" {
		t.Errorf("codec header = %q", gotHeaders.Get("X-Cdc-Codec"))
	}
	if gotHeaders.Get("X-Cdc-Source") != "pg-primary" {
		t.Errorf("source header = %q", gotHeaders.Get("X-Cdc-Source"))
	}
	if gotHeaders.Get("X-Cdc-Last-Position") != "2" {
		t.Errorf("last position header = %q", gotHeaders.Get("X-Cdc-Last-Position"))
	}
}

func TestHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		s, err := NewHTTP(srv.URL)
		if err != nil {
			t.Fatalf("NewHTTP: %v", err)
		}
		_, err = s.Send(context.Background(), testBatch(t))
		srv.Close()
		if err == nil {
			t.Fatalf("status %d produced no error", tt.status)
		}
		if got := IsRetryable(err); got != tt.retryable {
			t.Errorf("status %d retryable = %v, expected %v", tt.status, got, tt.retryable)
		}
	}
}

func TestHTTPTransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	s, err := NewHTTP(srv.URL)
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	_, err = s.Send(context.Background(), testBatch(t))
	if err == nil {
		t.Fatal("send to closed server succeeded")
	}
	if !IsRetryable(err) {
		t.Error("transport failure classified as permanent")
	}
}

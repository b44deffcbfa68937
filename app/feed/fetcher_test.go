package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetcherDecodesProtocolA(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"name":"Sunday Serenity","day":0,"time":"19:30","types":["O"]}]`))
	}))
	defer server.Close()

	fetcher := NewFetcher(server.Client(), "test-agent", 5*time.Second)
	source := Source{Name: "test", URL: server.URL, Protocol: ProtocolA}

	raw, err := fetcher.Run(context.Background(), source)
	if err != nil {
		t.Fatalf("Expected fetch to succeed, got error: %v", err)
	}

	if raw.Protocol != ProtocolA {
		t.Errorf("Expected protocol %q, got %q", ProtocolA, raw.Protocol)
	}
	if raw.Len() != 1 {
		t.Fatalf("Expected 1 record, got %d", raw.Len())
	}
	if raw.RecordsA[0].Name != "Sunday Serenity" {
		t.Errorf("Expected name 'Sunday Serenity', got '%s'", raw.RecordsA[0].Name)
	}
}

func TestFetcherDecodesProtocolB(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"meeting_name":"Monday Night Hope","weekday_tinyint":"1","start_time":"19:30:00","venue_type":"2"}]`))
	}))
	defer server.Close()

	fetcher := NewFetcher(server.Client(), "test-agent", 5*time.Second)
	source := Source{Name: "test", URL: server.URL, Protocol: ProtocolB}

	raw, err := fetcher.Run(context.Background(), source)
	if err != nil {
		t.Fatal(err)
	}

	if raw.Len() != 1 {
		t.Fatalf("Expected 1 record, got %d", raw.Len())
	}
	if raw.RecordsB[0].WeekdayTinyint != "1" {
		t.Errorf("Expected weekday '1', got '%s'", raw.RecordsB[0].WeekdayTinyint)
	}
}

func TestFetcherSetsUserAgent(t *testing.T) {
	var gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	fetcher := NewFetcher(server.Client(), "custom-agent/1.0", 5*time.Second)
	source := Source{Name: "test", URL: server.URL, Protocol: ProtocolA}

	if _, err := fetcher.Run(context.Background(), source); err != nil {
		t.Fatal(err)
	}

	if gotAgent != "custom-agent/1.0" {
		t.Errorf("Expected user agent 'custom-agent/1.0', got '%s'", gotAgent)
	}
}

func TestFetcherRetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	fetcher := NewFetcher(server.Client(), "test-agent", 5*time.Second)
	source := Source{Name: "test", URL: server.URL, Protocol: ProtocolA}

	if _, err := fetcher.Run(context.Background(), source); err != nil {
		t.Fatalf("Expected retry to recover from a single 5xx, got error: %v", err)
	}

	if calls.Load() != 2 {
		t.Errorf("Expected exactly 2 attempts, got %d", calls.Load())
	}
}

func TestFetcherDoesNotRetryOn404(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := NewFetcher(server.Client(), "test-agent", 5*time.Second)
	source := Source{Name: "test", URL: server.URL, Protocol: ProtocolA}

	if _, err := fetcher.Run(context.Background(), source); err == nil {
		t.Fatal("Expected 404 to fail the fetch")
	}

	if calls.Load() != 1 {
		t.Errorf("Expected exactly 1 attempt for a 4xx, got %d", calls.Load())
	}
}

func TestFetcherFailsAfterSecondError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	fetcher := NewFetcher(server.Client(), "test-agent", 5*time.Second)
	source := Source{Name: "test", URL: server.URL, Protocol: ProtocolA}

	if _, err := fetcher.Run(context.Background(), source); err == nil {
		t.Fatal("Expected fetch to fail after the single retry")
	}

	if calls.Load() != 2 {
		t.Errorf("Expected exactly 2 attempts, got %d", calls.Load())
	}
}

func TestFetcherRejectsMalformedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"this is": "not an array"}`))
	}))
	defer server.Close()

	fetcher := NewFetcher(server.Client(), "test-agent", 5*time.Second)
	source := Source{Name: "test", URL: server.URL, Protocol: ProtocolA}

	if _, err := fetcher.Run(context.Background(), source); err == nil {
		t.Error("Expected malformed payload to fail the feed")
	}
}

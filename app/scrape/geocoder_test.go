package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGeocoderResolves(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("q"); q != "123 Main St, Oakland, CA" {
			t.Errorf("Unexpected query: %q", q)
		}
		w.Write([]byte(`[{"lat":"37.8044","lon":"-122.2712"}]`))
	}))
	defer server.Close()

	g := NewGeocoder(server.Client(), server.URL, "test-agent", 0, 5*time.Second)

	lat, lng, err := g.Resolve(context.Background(), "123 Main St", "Oakland", "CA", "")
	if err != nil {
		t.Fatal(err)
	}
	if lat != 37.8044 || lng != -122.2712 {
		t.Errorf("Expected (37.8044, -122.2712), got (%f, %f)", lat, lng)
	}
}

func TestGeocoderNoMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	g := NewGeocoder(server.Client(), server.URL, "test-agent", 0, 5*time.Second)

	if _, _, err := g.Resolve(context.Background(), "nowhere", "", "", ""); err == nil {
		t.Error("Expected error when the provider returns no match")
	}
}

func TestGeocoderProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	g := NewGeocoder(server.Client(), server.URL, "test-agent", 0, 5*time.Second)

	if _, _, err := g.Resolve(context.Background(), "1 Main St", "", "", ""); err == nil {
		t.Error("Expected error for a non-200 provider response")
	}
}

func TestGeocoderEnforcesMinDelay(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"lat":"1.0","lon":"2.0"}]`))
	}))
	defer server.Close()

	delay := 100 * time.Millisecond
	g := NewGeocoder(server.Client(), server.URL, "test-agent", delay, 5*time.Second)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, _, err := g.Resolve(context.Background(), "1 Main St", "Oakland", "", ""); err != nil {
			t.Fatal(err)
		}
	}
	elapsed := time.Since(start)

	// Three serialized calls carry at least two enforced delays
	if elapsed < 2*delay {
		t.Errorf("Expected at least %v between serialized calls, elapsed %v", 2*delay, elapsed)
	}
}

func TestGeocoderRejectsEmptyAddress(t *testing.T) {
	g := NewGeocoder(http.DefaultClient, "http://unused.invalid", "test-agent", 0, time.Second)

	if _, _, err := g.Resolve(context.Background(), "", "", "", ""); err == nil {
		t.Error("Expected error for an empty address")
	}
}

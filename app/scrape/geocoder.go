package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Geocoder resolves missing coordinates from a meeting's address fields.
// Calls are serialized with an enforced minimum delay between them: the
// upstream provider's usage policy allows one request at a time.
type Geocoder struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	minDelay   time.Duration
	timeout    time.Duration

	mu       sync.Mutex
	lastCall time.Time
}

func NewGeocoder(httpClient *http.Client, baseURL, userAgent string, minDelay, timeout time.Duration) *Geocoder {
	return &Geocoder{
		httpClient: httpClient,
		baseURL:    baseURL,
		userAgent:  userAgent,
		minDelay:   minDelay,
		timeout:    timeout,
	}
}

type geocodeResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Resolve looks up coordinates for the given address. The serialization lock
// is held across the whole call, including the pre-call delay.
func (g *Geocoder) Resolve(ctx context.Context, street, city, state, postalCode string) (float64, float64, error) {
	query := buildQuery(street, city, state, postalCode)
	if query == "" {
		return 0, 0, fmt.Errorf("no address to geocode")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if wait := g.minDelay - time.Since(g.lastCall); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		}
	}
	g.lastCall = time.Now()

	timeoutCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	lookupURL := fmt.Sprintf("%s?format=json&limit=1&q=%s", g.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(timeoutCtx, "GET", lookupURL, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create geocode request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("geocode HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read geocode response: %w", err)
	}

	var results []geocodeResult
	if err := json.Unmarshal(body, &results); err != nil {
		return 0, 0, fmt.Errorf("failed to decode geocode response: %w", err)
	}
	if len(results) == 0 {
		return 0, 0, fmt.Errorf("no geocode match for %q", query)
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude in geocode response: %w", err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude in geocode response: %w", err)
	}

	return lat, lng, nil
}

func buildQuery(street, city, state, postalCode string) string {
	var parts []string
	for _, part := range []string{street, city, state, postalCode} {
		if strings.TrimSpace(part) != "" {
			parts = append(parts, strings.TrimSpace(part))
		}
	}
	return strings.Join(parts, ", ")
}

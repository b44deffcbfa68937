package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Fetcher performs one bounded HTTP retrieval per feed. A timeout or 5xx
// response is retried exactly once; everything else fails immediately.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	timeout    time.Duration
}

func NewFetcher(httpClient *http.Client, userAgent string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		httpClient: httpClient,
		userAgent:  userAgent,
		timeout:    timeout,
	}
}

func (f *Fetcher) Run(ctx context.Context, source Source) (RawFeed, error) {
	data, err := f.fetch(ctx, source.URL)
	if err != nil {
		if !retryable(err) {
			return RawFeed{}, fmt.Errorf("failed to fetch feed: %w", err)
		}

		slog.Warn("Fetch failed, retrying once", "source", source.Name, "error", err)
		data, err = f.fetch(ctx, source.URL)
		if err != nil {
			return RawFeed{}, fmt.Errorf("failed to fetch feed after retry: %w", err)
		}
	}

	return decodeRawFeed(source.Protocol, data)
}

func (f *Fetcher) fetch(ctx context.Context, url string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{status: resp.StatusCode, text: resp.Status}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

// ParseError marks a payload whose structure is malformed for the whole
// feed, as opposed to a transport failure.
type ParseError struct {
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed feed payload: %v", e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

func decodeRawFeed(protocol Protocol, data []byte) (RawFeed, error) {
	switch protocol {
	case ProtocolA:
		var records []ProtocolARecord
		if err := json.Unmarshal(data, &records); err != nil {
			return RawFeed{}, &ParseError{Cause: err}
		}
		return RawFeed{Protocol: ProtocolA, RecordsA: records}, nil
	case ProtocolB:
		var records []ProtocolBRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return RawFeed{}, &ParseError{Cause: err}
		}
		return RawFeed{Protocol: ProtocolB, RecordsB: records}, nil
	default:
		return RawFeed{}, fmt.Errorf("unknown protocol: %s", protocol)
	}
}

type httpStatusError struct {
	status int
	text   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s", e.status, e.text)
}

func retryable(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.status >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// net/http wraps timeouts in *url.Error with Timeout() set
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Timeout()
	}

	return false
}

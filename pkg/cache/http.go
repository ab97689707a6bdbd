package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultTTL is the fallback TTL when no usable Expires header is present
	DefaultTTL = 24 * time.Hour
)

// ResponseToEntry converts an HTTP response to an Entry.
// The response body is read and restored for the caller. When the response
// carries no usable Expires header, fallback is used (DefaultTTL if <= 0).
func ResponseToEntry(resp *http.Response, fallback time.Duration) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	if fallback <= 0 {
		fallback = DefaultTTL
	}

	return &Entry{
		Data:       body,
		StatusCode: resp.StatusCode,
		ETag:       resp.Header.Get("ETag"),
		Expires:    parseExpires(resp.Header, fallback),
		CachedAt:   time.Now(),
	}, nil
}

// parseExpires returns the Expires header time, or now+fallback if the header
// is missing or malformed. A past Expires yields now, which disables caching.
func parseExpires(headers http.Header, fallback time.Duration) time.Time {
	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return time.Now().Add(fallback)
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return time.Now().Add(fallback)
	}

	if expires.Before(time.Now()) {
		return time.Now()
	}

	return expires
}

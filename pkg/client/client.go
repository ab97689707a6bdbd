// Package client provides the ClinicalTrials.gov registry HTTP client with
// response caching and error classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/clinical-trials-client/pkg/cache"
	"github.com/Sternrassler/clinical-trials-client/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for registry client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctgov_requests_total",
		Help: "Total registry requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ctgov_request_duration_seconds",
		Help:    "Registry request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctgov_errors_total",
		Help: "Total registry errors by class",
	}, []string{"class"})
)

const (
	// DefaultBaseURL is the registry full-studies search endpoint.
	DefaultBaseURL = "https://clinicaltrials.gov/api/query/full_studies"

	// DefaultMaxResults is the result cap requested per query.
	DefaultMaxResults = 100

	// MaxResultsLimit is the largest result window the registry serves per query.
	MaxResultsLimit = 1000

	// DefaultRequestTimeout bounds a single HTTP request.
	DefaultRequestTimeout = 30 * time.Second
)

// Client is the registry client.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the full-studies search endpoint
	BaseURL string

	// User-Agent header sent with every request (REQUIRED)
	// Format: "AppName/Version (contact@example.com)"
	UserAgent string

	// MaxResults caps the studies returned per query (max_rnk)
	MaxResults int

	// RequestTimeout bounds each HTTP request, including reading the body
	RequestTimeout time.Duration

	// Cache is optional; nil disables response caching
	Cache *cache.Manager

	// CacheTTL applies when the registry sends no Expires header
	CacheTTL time.Duration
}

// DefaultConfig returns a default configuration without caching.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		UserAgent:      userAgent,
		MaxResults:     DefaultMaxResults,
		RequestTimeout: DefaultRequestTimeout,
		CacheTTL:       cache.DefaultTTL,
	}
}

// New creates a new registry client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.MaxResults < 1 || cfg.MaxResults > MaxResultsLimit {
		return nil, fmt.Errorf("max_results must be between 1 and %d (got %d)", MaxResultsLimit, cfg.MaxResults)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		baseURL: baseURL,
		cache:   cfg.Cache,
		config:  cfg,
		logger:  logging.NewLogger("registry-client"),
	}, nil
}

// MaxResults returns the per-query result cap.
func (c *Client) MaxResults() int {
	return c.config.MaxResults
}

// QueryURL returns the search URL for ids.
func (c *Client) QueryURL(ids []string) string {
	u := *c.baseURL
	u.RawQuery = QueryParams(ids, c.config.MaxResults).Encode()
	return u.String()
}

// Search queries the registry for any of ids and returns the studies found.
// Non-200 responses and undecodable bodies yield a *RegistryError.
func (c *Client) Search(ctx context.Context, ids []string) ([]Study, error) {
	if len(ids) == 0 {
		return nil, ErrNoIdentifiers
	}
	if len(ids) > c.config.MaxResults {
		return nil, fmt.Errorf("%w: %d identifiers, max_results is %d", ErrTooManyIdentifiers, len(ids), c.config.MaxResults)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.QueryURL(ids), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errClass := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(errClass)).Inc()

		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Int("identifiers", len(ids)).
			Msg("Registry query failed")

		return nil, &RegistryError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
		}
	}

	studies, err := decodeStudies(resp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		if c.cache != nil {
			if delErr := c.cache.Evict(ctx, cache.KeyFromURL(req.URL), cache.EvictUndecodable); delErr != nil {
				c.logger.Warn().Err(delErr).Msg("Failed to evict undecodable cache entry")
			}
		}
		return nil, &RegistryError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Message:    "decode full studies response",
			Err:        err,
		}
	}

	c.logger.Debug().
		Int("identifiers", len(ids)).
		Int("studies", len(studies)).
		Msg("Registry query complete")

	return studies, nil
}

// Do performs an HTTP request with caching and metrics. Non-200 statuses are
// returned to the caller as-is; only transport failures produce an error.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	cacheable := c.cache != nil && req.Method == http.MethodGet
	cacheKey := cache.KeyFromURL(req.URL)

	if cacheable {
		entry, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			c.logger.Debug().
				Str("endpoint", endpoint).
				Time("cached_at", entry.CachedAt).
				Msg("Serving registry response from cache")
			requestsTotal.WithLabelValues(endpoint, "cache").Inc()
			return entryToResponse(entry, req), nil
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing registry request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &RegistryError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if cacheable && resp.StatusCode == http.StatusOK {
		entry, err := cache.ResponseToEntry(resp, c.config.CacheTTL)
		if err != nil {
			resp.Body.Close()
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return nil, &RegistryError{
				StatusCode: resp.StatusCode,
				ErrorClass: ErrorClassNetwork,
				Message:    "read response body",
				Err:        err,
			}
		}
		if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		} else {
			c.logger.Debug().
				Str("endpoint", endpoint).
				Dur("ttl", entry.TTL()).
				Msg("Cached response")
		}
	}

	return resp, nil
}

// decodeStudies extracts the studies from a full-studies response body.
// A response without a FullStudies list holds zero studies.
func decodeStudies(r io.Reader) ([]Study, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var body fullStudiesResponse
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}

	studies := make([]Study, 0, len(body.FullStudiesResponse.FullStudies))
	for _, fs := range body.FullStudiesResponse.FullStudies {
		if fs.Study == nil {
			continue
		}
		studies = append(studies, fs.Study)
	}
	return studies, nil
}

// entryToResponse converts a cache entry back to an HTTP response.
func entryToResponse(entry *cache.Entry, req *http.Request) *http.Response {
	return &http.Response{
		Status:     fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode)),
		StatusCode: entry.StatusCode,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header: http.Header{
			"Content-Type": []string{"application/json"},
			"X-Cache":      []string{"HIT"},
		},
		Body:          io.NopCloser(bytes.NewReader(entry.Data)),
		ContentLength: int64(len(entry.Data)),
		Request:       req,
	}
}

// Close closes idle connections held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetCache returns the cache manager (for testing).
func (c *Client) GetCache() *cache.Manager {
	return c.cache
}

// Package client is the PandaScore HTTP client: it signs requests with the
// API token, fetches single pages of a collection endpoint and, when a page
// cache is configured, serves repeated pages from Redis.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/LucasCLuk/pandascore/pkg/cache"
	"github.com/LucasCLuk/pandascore/pkg/logging"
	"github.com/LucasCLuk/pandascore/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for PandaScore requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pandascore_requests_total",
		Help: "Total PandaScore requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pandascore_request_duration_seconds",
		Help:    "PandaScore request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pandascore_errors_total",
		Help: "Total PandaScore request errors by class",
	}, []string{"class"})
)

// DefaultBaseURL is the League of Legends API root.
const DefaultBaseURL = "https://api.pandascore.co/lol"

// DefaultUserAgent identifies the migrator to PandaScore.
const DefaultUserAgent = "pandascore-migrate/1.0"

// maxErrorBody bounds how much of an error response is kept for logs.
const maxErrorBody = 512

// Client talks to the PandaScore REST API.
type Client struct {
	httpClient *http.Client
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is prepended to every endpoint, e.g. "https://api.pandascore.co/lol".
	BaseURL string

	// Token is sent as "Authorization: Bearer {token}".
	Token string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout per HTTP request.
	Timeout time.Duration

	// Cache is optional; nil disables page caching.
	Cache *cache.Manager
}

// DefaultConfig returns a configuration against the public API.
func DefaultConfig(token string) Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		Token:     token,
		UserAgent: DefaultUserAgent,
		Timeout:   30 * time.Second,
	}
}

// New creates a new PandaScore client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cfg.Cache,
		config:     cfg,
		logger:     logging.NewLogger(logging.ComponentClient),
	}, nil
}

// Do sends req with the client's auth and User-Agent headers. Non-2xx
// responses are returned as-is; callers decide what a status means.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	label := metricLabel(req.URL.Path)
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()

	req.Header.Set("User-Agent", c.config.UserAgent)
	if c.config.Token != "" && c.sameHost(req.URL) {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(label, "network_error").Inc()
		return nil, err
	}
	requestsTotal.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode != http.StatusOK {
		errorsTotal.WithLabelValues(string(ClassifyStatus(resp.StatusCode))).Inc()
	}
	return resp, nil
}

// FetchPage retrieves one page of endpoint. A non-200 status or transport
// failure yields an *APIError.
func (c *Client) FetchPage(ctx context.Context, endpoint string, page, perPage int) ([]record.Record, error) {
	key := cache.PageKey{Endpoint: endpoint, Page: page, PerPage: perPage}

	if c.cache != nil {
		entry, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			c.logger.Debug().Str("endpoint", endpoint).Int("page", page).Msg("Page served from cache")
			return c.decode(endpoint, page, entry.Data)
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Page cache get error")
		}
	}

	req, err := c.pageRequest(ctx, endpoint, page, perPage)
	if err != nil {
		return nil, err
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, &APIError{
			ErrorClass: ErrorClassNetwork,
			Endpoint:   endpoint,
			Page:       page,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ClassifyStatus(resp.StatusCode),
			Endpoint:   endpoint,
			Page:       page,
			Message:    strings.TrimSpace(string(body)),
		}
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("page", page).
			Int("status", resp.StatusCode).
			Str("error_class", string(apiErr.ErrorClass)).
			Msg("PandaScore request error")
		return nil, apiErr
	}

	if c.cache == nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &APIError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork,
				Endpoint: endpoint, Page: page, Message: "read body", Err: err}
		}
		return c.decode(endpoint, page, data)
	}

	entry, err := cache.ResponseToEntry(resp, c.cache.TTL())
	if err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork,
			Endpoint: endpoint, Page: page, Message: "read body", Err: err}
	}
	recs, err := c.decode(endpoint, page, entry.Data)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, entry); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to cache page")
	}
	return recs, nil
}

func (c *Client) pageRequest(ctx context.Context, endpoint string, page, perPage int) (*http.Request, error) {
	u, err := url.Parse(c.config.BaseURL + "/" + strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("build url: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) decode(endpoint string, page int, data []byte) ([]record.Record, error) {
	recs, err := record.DecodeList(data)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &APIError{
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassDecode,
			Endpoint:   endpoint,
			Page:       page,
			Message:    "decode page",
			Err:        err,
		}
	}
	return recs, nil
}

// sameHost reports whether u points at the API host, so the token is not
// leaked to image CDNs.
func (c *Client) sameHost(u *url.URL) bool {
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(base.Host, u.Host)
}

// metricLabel keeps label cardinality bounded: image URLs collapse to "asset".
func metricLabel(path string) string {
	if strings.Contains(path, ".") {
		return "asset"
	}
	return path
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

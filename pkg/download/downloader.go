// Package download fetches binary resources such as team logos with a fixed
// exponential backoff on non-200 responses.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/LucasCLuk/pandascore/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "downloads_total",
	Help: "Total downloads by result",
}, []string{"result"})

var (
	// ErrRetryExhausted is returned after MaxRetries failed retries.
	ErrRetryExhausted = errors.New("download retry attempts exhausted")

	// ErrTransport is returned when the request could not be sent or the
	// body could not be read. Transport failures are not retried.
	ErrTransport = errors.New("download transport error")

	// ErrStatus is returned by Fetch for a non-200 response.
	ErrStatus = errors.New("download unexpected status")
)

// DefaultExtension is used when a URL's last path segment has no suffix.
const DefaultExtension = "png"

// Doer sends HTTP requests; *http.Client and *client.Client satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Resource is a downloaded object.
type Resource struct {
	Data        []byte
	Ext         string
	ContentType string
}

// Downloader fetches resources by URL.
type Downloader struct {
	doer   Doer
	config RetryConfig
	sleep  Sleeper
	logger zerolog.Logger
}

// New creates a downloader. A nil doer uses http.DefaultClient.
func New(doer Doer, config RetryConfig) *Downloader {
	if doer == nil {
		doer = http.DefaultClient
	}
	def := DefaultRetryConfig()
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = def.InitialBackoff
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &Downloader{
		doer:   doer,
		config: config,
		sleep:  SleepContext,
		logger: logging.NewLogger(logging.ComponentDownload),
	}
}

// SetSleeper replaces the backoff sleeper (for testing).
func (d *Downloader) SetSleeper(s Sleeper) {
	d.sleep = s
}

// Download fetches rawURL, retrying non-200 responses per the RetryConfig.
func (d *Downloader) Download(ctx context.Context, rawURL string) (*Resource, error) {
	bo := newBackoff(d.config)

	for attempt := 1; ; attempt++ {
		d.logger.Debug().Str("url", rawURL).Int("attempt", attempt).Msg("Downloading resource")

		res, status, err := d.get(ctx, rawURL)
		if err != nil {
			downloadsTotal.WithLabelValues("transport_error").Inc()
			d.logger.Warn().Err(err).Str("url", rawURL).Msg("Unable to download resource")
			return nil, err
		}
		if res != nil {
			downloadsTotal.WithLabelValues("ok").Inc()
			if attempt > 1 {
				d.logger.Info().Str("url", rawURL).Int("attempt", attempt).Msg("Download succeeded after retry")
			}
			return res, nil
		}

		if attempt > d.config.MaxRetries {
			retryExhaustedTotal.Inc()
			downloadsTotal.WithLabelValues("exhausted").Inc()
			d.logger.Error().
				Str("url", rawURL).
				Int("attempts", attempt).
				Int("status", status).
				Msg("Download retry attempts exhausted")
			return nil, fmt.Errorf("%w after %d attempts: %s returned %d", ErrRetryExhausted, attempt, rawURL, status)
		}

		delay := bo.Next()
		retriesTotal.Inc()
		retryBackoffSeconds.Observe(delay.Seconds())
		d.logger.Warn().
			Str("url", rawURL).
			Int("status", status).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Download failed, backing off")

		if err := d.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}
}

// Fetch performs a single attempt without retry.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) (*Resource, error) {
	res, status, err := d.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("%w: %s returned %d", ErrStatus, rawURL, status)
	}
	return res, nil
}

// get returns a resource on 200, (nil, status, nil) on any other status and
// an ErrTransport error when no response could be read.
func (d *Downloader) get(ctx context.Context, rawURL string) (*Resource, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	resp, err := d.doer.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}

	return &Resource{
		Data:        data,
		Ext:         Extension(rawURL),
		ContentType: contentType(resp.Header.Get("Content-Type"), data),
	}, resp.StatusCode, nil
}

// Extension returns the suffix of the URL's last path segment without the
// dot, lowercased, or DefaultExtension when there is none.
func Extension(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.TrimPrefix(path.Ext(path.Base(p)), ".")
	if ext == "" {
		return DefaultExtension
	}
	return strings.ToLower(ext)
}

func contentType(header string, data []byte) string {
	if header != "" && !strings.HasPrefix(header, "application/octet-stream") {
		return header
	}
	return http.DetectContentType(data)
}

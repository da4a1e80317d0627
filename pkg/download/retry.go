package download

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "download_retries_total",
		Help: "Total number of download retry attempts",
	})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "download_retry_backoff_seconds",
		Help:    "Backoff slept before a download retry",
		Buckets: []float64{10, 20, 40, 80, 160},
	})

	retryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "download_retry_exhausted_total",
		Help: "Total number of downloads that ran out of retries",
	})
)

// RetryConfig holds the backoff schedule for downloads.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialBackoff is the first delay and the value the delay resets to.
	InitialBackoff time.Duration

	// MaxBackoff is the largest delay; a doubled delay above it resets to
	// InitialBackoff instead of being capped.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns 40 retries at 10s,20s,40s,80s,160s,10s,...
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     40,
		InitialBackoff: 10 * time.Second,
		MaxBackoff:     240 * time.Second,
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff yields the delay sequence of a RetryConfig.
type backoff struct {
	cfg  RetryConfig
	next time.Duration
}

func newBackoff(cfg RetryConfig) *backoff {
	return &backoff{cfg: cfg, next: cfg.InitialBackoff}
}

// Next returns the delay to sleep now and advances the schedule.
func (b *backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.cfg.MaxBackoff {
		b.next = b.cfg.InitialBackoff
	}
	return d
}

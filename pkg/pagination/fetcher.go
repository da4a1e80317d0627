package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LucasCLuk/pandascore/pkg/logging"
	"github.com/LucasCLuk/pandascore/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	pagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pandascore_pages_fetched_total",
		Help: "Total pages fetched by endpoint",
	}, []string{"endpoint"})

	collectionsAborted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pandascore_collections_aborted_total",
		Help: "Collection fetches aborted by a failed page",
	}, []string{"endpoint"})
)

// ErrFetchAborted wraps any failure that stopped a collection fetch.
var ErrFetchAborted = errors.New("collection fetch aborted")

// Config holds fetcher configuration.
type Config struct {
	// PageSize is sent as per_page.
	PageSize int

	// MaxPages stops runaway pagination; 0 means unlimited.
	MaxPages int

	// Timeout per page request.
	Timeout time.Duration
}

// DefaultConfig returns PandaScore's maximum page size.
func DefaultConfig() Config {
	return Config{
		PageSize: 100,
		Timeout:  30 * time.Second,
	}
}

// PageFetcher fetches one page of an endpoint.
type PageFetcher interface {
	FetchPage(ctx context.Context, endpoint string, page, perPage int) ([]record.Record, error)
}

// Fetcher concatenates all pages of a collection.
type Fetcher struct {
	pages  PageFetcher
	config Config
	logger zerolog.Logger
}

// NewFetcher creates a fetcher, filling zero config values with defaults.
func NewFetcher(pages PageFetcher, config Config) *Fetcher {
	def := DefaultConfig()
	if config.PageSize <= 0 {
		config.PageSize = def.PageSize
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	return &Fetcher{
		pages:  pages,
		config: config,
		logger: logging.NewLogger(logging.ComponentPagination),
	}
}

// FetchCollection returns every record of endpoint in page order.
func (f *Fetcher) FetchCollection(ctx context.Context, endpoint string) ([]record.Record, error) {
	start := time.Now()
	var all []record.Record

	for page := 1; ; page++ {
		if f.config.MaxPages > 0 && page > f.config.MaxPages {
			f.logger.Warn().
				Str("endpoint", endpoint).
				Int("max_pages", f.config.MaxPages).
				Msg("Page limit reached, stopping pagination")
			break
		}

		recs, err := f.fetchPage(ctx, endpoint, page)
		if err != nil {
			collectionsAborted.WithLabelValues(endpoint).Inc()
			f.logger.Warn().
				Err(err).
				Str("endpoint", endpoint).
				Int("page", page).
				Int("discarded", len(all)).
				Msg("Page fetch failed, discarding collection")
			return nil, fmt.Errorf("%w: %s page %d: %w", ErrFetchAborted, endpoint, page, err)
		}

		pagesFetched.WithLabelValues(endpoint).Inc()
		f.logger.Debug().
			Str("endpoint", endpoint).
			Int("page", page).
			Int("records", len(recs)).
			Msg("Page fetched")

		if len(recs) == 0 {
			break
		}
		all = append(all, recs...)
	}

	f.logger.Info().
		Str("endpoint", endpoint).
		Int("records", len(all)).
		Dur("duration", time.Since(start)).
		Msg("Collection fetched")

	return all, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, endpoint string, page int) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pageCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()
	return f.pages.FetchPage(pageCtx, endpoint, page, f.config.PageSize)
}

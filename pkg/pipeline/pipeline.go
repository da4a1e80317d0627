// Package pipeline runs a full migration: fetch every collection, process
// each record through the upload coordinator, wait for completion and
// flush the link manifests.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LucasCLuk/pandascore/pkg/barrier"
	"github.com/LucasCLuk/pandascore/pkg/destination"
	"github.com/LucasCLuk/pandascore/pkg/journal"
	"github.com/LucasCLuk/pandascore/pkg/logging"
	"github.com/LucasCLuk/pandascore/pkg/manifest"
	"github.com/LucasCLuk/pandascore/pkg/record"
	"github.com/LucasCLuk/pandascore/pkg/upload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Mode selects how records are scheduled.
type Mode string

const (
	// ModeSequential fully processes each record before the next.
	ModeSequential Mode = "sequential"

	// ModeConcurrent spawns one task per record on a bounded pool and
	// waits on the completion barrier.
	ModeConcurrent Mode = "concurrent"
)

// DefaultCollections are the PandaScore endpoints migrated by default.
var DefaultCollections = []string{"leagues", "series", "tournaments", "matches", "players", "teams"}

var (
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "migration_run_duration_seconds",
		Help:    "Duration of migration runs",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	recordsFetched = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "migration_records_fetched",
		Help: "Records fetched per collection in the last run",
	}, []string{"collection"})
)

// CollectionFetcher returns every record of one endpoint.
type CollectionFetcher interface {
	FetchCollection(ctx context.Context, endpoint string) ([]record.Record, error)
}

// Config controls a run.
type Config struct {
	Collections     []string
	Mode            Mode
	Workers         int
	PollInterval    time.Duration
	BarrierDeadline time.Duration
	LinksDir        string
}

// DefaultConfig returns the sequential defaults.
func DefaultConfig() Config {
	return Config{
		Collections:  DefaultCollections,
		Mode:         ModeSequential,
		Workers:      8,
		PollInterval: barrier.DefaultInterval,
		LinksDir:     "links",
	}
}

// Deps are the components a run is assembled from. Images, Manifest and
// Journal are optional.
type Deps struct {
	Fetcher     CollectionFetcher
	Transformer upload.Transformer
	Documents   destination.DocumentStore
	Images      upload.ImageProcessor
	Manifest    *manifest.Manifest
	Journal     *journal.Journal

	// BarrierOptions are appended after the interval and deadline options.
	BarrierOptions []barrier.Option
}

// CollectionSummary reports one collection of a run.
type CollectionSummary struct {
	Name      string
	Fetched   int
	Processed int
	Failed    int
	FetchErr  error
}

// Summary reports a finished run.
type Summary struct {
	RunID       string
	Mode        Mode
	Collections []CollectionSummary
	Total       int
	Processed   int
	Failed      int
	Manifests   []string
	Duration    time.Duration
}

// FetchFailures returns the number of collections that could not be fetched.
func (s *Summary) FetchFailures() int {
	n := 0
	for _, c := range s.Collections {
		if c.FetchErr != nil {
			n++
		}
	}
	return n
}

type collection struct {
	name    string
	records []record.Record
	err     error

	processed atomic.Int64
	failed    atomic.Int64
}

// Orchestrator runs migrations.
type Orchestrator struct {
	config Config
	deps   Deps
	logger zerolog.Logger
}

// New validates cfg and creates an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	def := DefaultConfig()
	if len(cfg.Collections) == 0 {
		cfg.Collections = def.Collections
	}
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.Mode != ModeSequential && cfg.Mode != ModeConcurrent {
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if deps.Fetcher == nil || deps.Transformer == nil || deps.Documents == nil {
		return nil, fmt.Errorf("fetcher, transformer and document store are required")
	}
	return &Orchestrator{
		config: cfg,
		deps:   deps,
		logger: logging.NewLogger(logging.ComponentPipeline),
	}, nil
}

// Run executes one migration. Collections that fail to fetch are reported
// in the summary and skipped. A cancelled ctx stops scheduling new records;
// manifests collected so far are still flushed.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	defer func() { runDuration.Observe(time.Since(start).Seconds()) }()

	runID, err := o.deps.Journal.Start(ctx, string(o.config.Mode))
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	log := o.logger.With().Str("run_id", runID).Str("mode", string(o.config.Mode)).Logger()
	log.Info().Strs("collections", o.config.Collections).Msg("Migration started")

	collections, err := o.fetchAll(ctx, log)
	if err != nil {
		o.finishJournal(runID, journal.StatusCancelled, journal.Counts{})
		return nil, err
	}

	total := 0
	for _, c := range collections {
		total += len(c.records)
	}
	counter := barrier.NewCounter(total)

	coord, err := upload.New(upload.Config{
		Transformer: o.deps.Transformer,
		Documents:   o.deps.Documents,
		Images:      o.deps.Images,
		Journal:     o.deps.Journal,
		RunID:       runID,
		Counter:     counter,
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int("total", total).Msg("Processing records")
	var runErr error
	switch o.config.Mode {
	case ModeConcurrent:
		runErr = o.runConcurrent(ctx, coord, counter, collections)
	default:
		runErr = o.runSequential(ctx, coord, collections)
	}

	summary := &Summary{RunID: runID, Mode: o.config.Mode, Total: total}
	for _, c := range collections {
		cs := CollectionSummary{
			Name:      c.name,
			Fetched:   len(c.records),
			Processed: int(c.processed.Load()),
			Failed:    int(c.failed.Load()),
			FetchErr:  c.err,
		}
		summary.Collections = append(summary.Collections, cs)
		summary.Processed += cs.Processed
		summary.Failed += cs.Failed
	}

	switch {
	case o.deps.Manifest != nil && o.config.LinksDir != "":
		files, err := o.deps.Manifest.Flush(o.config.LinksDir)
		summary.Manifests = files
		if err != nil {
			log.Error().Err(err).Msg("Manifest flush failed")
			runErr = errors.Join(runErr, err)
		}
	case o.deps.Manifest != nil:
		o.deps.Manifest.Close()
	}

	status := journal.StatusCompleted
	if runErr != nil {
		status = journal.StatusFailed
		if ctx.Err() != nil {
			status = journal.StatusCancelled
		}
	}
	o.finishJournal(runID, status, journal.Counts{Total: total, Processed: summary.Processed, Failed: summary.Failed})

	summary.Duration = time.Since(start)
	log.Info().
		Int("total", total).
		Int("processed", summary.Processed).
		Int("failed", summary.Failed).
		Int("fetch_failures", summary.FetchFailures()).
		Dur("duration", summary.Duration).
		Msg("Migration finished")

	return summary, runErr
}

func (o *Orchestrator) fetchAll(ctx context.Context, log zerolog.Logger) ([]*collection, error) {
	out := make([]*collection, 0, len(o.config.Collections))
	for _, name := range o.config.Collections {
		c := &collection{name: GroupName(name)}
		c.records, c.err = o.deps.Fetcher.FetchCollection(ctx, name)
		if c.err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Error().Err(c.err).Str("collection", c.name).Msg("Collection skipped")
		}
		recordsFetched.WithLabelValues(c.name).Set(float64(len(c.records)))
		out = append(out, c)
	}
	return out, nil
}

func (o *Orchestrator) runSequential(ctx context.Context, coord *upload.Coordinator, collections []*collection) error {
	for _, c := range collections {
		for _, rec := range c.records {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.track(coord.ProcessRecord(ctx, c.name, rec))
		}
	}
	return nil
}

func (o *Orchestrator) runConcurrent(ctx context.Context, coord *upload.Coordinator, counter *barrier.Counter, collections []*collection) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(o.config.Workers)

	var spawned sync.WaitGroup
	spawned.Add(1)
	go func() {
		defer spawned.Done()
		for _, c := range collections {
			for _, rec := range c.records {
				if gctx.Err() != nil {
					return
				}
				g.Go(func() error {
					c.track(coord.ProcessRecord(gctx, c.name, rec))
					return nil
				})
			}
		}
	}()

	opts := append([]barrier.Option{
		barrier.WithInterval(o.config.PollInterval),
		barrier.WithDeadline(o.config.BarrierDeadline),
	}, o.deps.BarrierOptions...)
	waitErr := barrier.New(counter, opts...).Wait(ctx)
	if waitErr != nil {
		// unfinished tasks see a cancelled context and fail fast
		cancel()
	}

	spawned.Wait()
	if err := g.Wait(); err != nil {
		return err
	}
	return waitErr
}

func (c *collection) track(err error) {
	c.processed.Add(1)
	if err != nil {
		c.failed.Add(1)
	}
}

func (o *Orchestrator) finishJournal(runID, status string, counts journal.Counts) {
	// the run context may already be cancelled; the final row is still written
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.deps.Journal.Finish(ctx, runID, status, counts); err != nil {
		o.logger.Warn().Err(err).Str("run_id", runID).Msg("Journal finish failed")
	}
}

// GroupName turns an endpoint such as "/leagues" into its group name.
func GroupName(endpoint string) string {
	return strings.Trim(endpoint, "/")
}

// Package upload drives one record through transformation and persistence.
package upload

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/LucasCLuk/pandascore/pkg/destination"
	"github.com/LucasCLuk/pandascore/pkg/logging"
	"github.com/LucasCLuk/pandascore/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var recordsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "records_processed_total",
	Help: "Records processed by collection and outcome",
}, []string{"collection", "outcome"})

var (
	// ErrMissingID is returned for records without an id field.
	ErrMissingID = errors.New("record has no id")

	// ErrPanic wraps a panic recovered while processing a record.
	ErrPanic = errors.New("record processing panicked")
)

// Transformer converts a source record into its destination form.
type Transformer interface {
	Transform(ctx context.Context, rec record.Record, group string) record.Record
}

// ImageProcessor resolves an image without recording it in a manifest.
type ImageProcessor interface {
	ProcessImage(ctx context.Context, group string, rec record.Record, imageURL string) (string, error)
}

// Journal receives the outcome of every record.
type Journal interface {
	RecordOutcome(ctx context.Context, runID, collection, recordID string, err error) error
}

// Completer is notified once per processed record, e.g. *barrier.Counter.
type Completer interface {
	Done()
}

// Config wires a Coordinator. Images, Journal and Counter are optional.
type Config struct {
	Transformer Transformer
	Documents   destination.DocumentStore
	Images      ImageProcessor
	Journal     Journal
	RunID       string
	Counter     Completer
}

// Coordinator processes records. It is safe for concurrent use.
type Coordinator struct {
	cfg       Config
	processed atomic.Int64
	failed    atomic.Int64
	logger    zerolog.Logger
}

// New creates a coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Transformer == nil {
		return nil, fmt.Errorf("transformer is required")
	}
	if cfg.Documents == nil {
		return nil, fmt.Errorf("document store is required")
	}
	return &Coordinator{
		cfg:    cfg,
		logger: logging.NewLogger(logging.ComponentUpload),
	}, nil
}

// ProcessRecord transforms rec and stores it under group/id. Failures are
// logged and returned but never retried. The completion counter is
// incremented exactly once per call, including when processing panics.
func (c *Coordinator) ProcessRecord(ctx context.Context, group string, rec record.Record) (err error) {
	id, _ := rec.ID()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
		c.finish(ctx, group, id, err)
	}()

	if id == "" {
		return ErrMissingID
	}

	doc := c.cfg.Transformer.Transform(ctx, rec, group)

	c.logger.Debug().Str("collection", group).Str("record_id", id).Msg("Storing document")
	if err := c.cfg.Documents.Put(ctx, group, id, doc); err != nil {
		return fmt.Errorf("store %s/%s: %w", group, id, err)
	}
	return nil
}

func (c *Coordinator) finish(ctx context.Context, group, id string, err error) {
	outcome := "ok"
	c.processed.Add(1)
	if err != nil {
		outcome = "failed"
		c.failed.Add(1)
		c.logger.Error().Err(err).Str("collection", group).Str("record_id", id).Msg("Record not migrated")
	}
	recordsProcessed.WithLabelValues(group, outcome).Inc()

	if c.cfg.Journal != nil {
		if jerr := c.cfg.Journal.RecordOutcome(ctx, c.cfg.RunID, group, id, err); jerr != nil {
			c.logger.Warn().Err(jerr).Str("record_id", id).Msg("Journal write failed")
		}
	}
	if c.cfg.Counter != nil {
		c.cfg.Counter.Done()
	}
}

// ProcessImage resolves a single image for rec under group.
func (c *Coordinator) ProcessImage(ctx context.Context, group string, rec record.Record, imageURL string) (string, error) {
	if c.cfg.Images == nil {
		return "", fmt.Errorf("no image processor configured")
	}
	return c.cfg.Images.ProcessImage(ctx, group, rec, imageURL)
}

// Processed returns the number of records handled so far.
func (c *Coordinator) Processed() int { return int(c.processed.Load()) }

// Failed returns the number of records that were not stored.
func (c *Coordinator) Failed() int { return int(c.failed.Load()) }

// Package barrier tracks completed tasks and blocks until all expected tasks
// have finished.
//
// The barrier does not own the tasks it waits for: it only observes a
// Counter that tasks increment when they finish, and polls it at a fixed
// interval. Completion is declared at the first poll where the count equals
// the expected total, never earlier.
package barrier

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/LucasCLuk/pandascore/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultInterval is the polling interval used when none is configured.
const DefaultInterval = 60 * time.Second

var (
	barrierPolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barrier_polls_total",
		Help: "Completion barrier polls",
	})

	barrierPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "barrier_pending_tasks",
		Help: "Tasks not yet completed at the last poll",
	})
)

// ErrDeadlineExceeded is returned by Wait when the overall deadline passes
// before every task completed.
var ErrDeadlineExceeded = errors.New("barrier deadline exceeded")

// Counter counts completed tasks. It never decreases and never exceeds the
// expected total.
type Counter struct {
	total int64
	count atomic.Int64
}

// NewCounter creates a counter expecting total completions.
func NewCounter(total int) *Counter {
	if total < 0 {
		total = 0
	}
	return &Counter{total: int64(total)}
}

// Done records one completed task. Calls beyond the total are ignored.
func (c *Counter) Done() {
	for {
		cur := c.count.Load()
		if cur >= c.total {
			return
		}
		if c.count.CompareAndSwap(cur, cur+1) {
			return
		}
	}
}

// Count returns the number of completed tasks.
func (c *Counter) Count() int { return int(c.count.Load()) }

// Total returns the expected number of tasks.
func (c *Counter) Total() int { return int(c.total) }

// Complete reports whether every expected task has completed.
func (c *Counter) Complete() bool { return c.count.Load() == c.total }

// Ticker is the subset of *time.Ticker used by Barrier.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()              { t.t.Stop() }

// Option configures a Barrier.
type Option func(*Barrier)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(b *Barrier) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithDeadline bounds the total time Wait may block. Zero means no bound.
func WithDeadline(d time.Duration) Option {
	return func(b *Barrier) { b.deadline = d }
}

// WithTicker replaces the ticker factory. Used by tests to drive polls.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(b *Barrier) { b.newTicker = newTicker }
}

// Barrier waits for a Counter to reach its total.
type Barrier struct {
	counter   *Counter
	interval  time.Duration
	deadline  time.Duration
	newTicker func(time.Duration) Ticker
	logger    zerolog.Logger
}

// New creates a barrier over counter.
func New(counter *Counter, opts ...Option) *Barrier {
	b := &Barrier{
		counter:  counter,
		interval: DefaultInterval,
		newTicker: func(d time.Duration) Ticker {
			return timeTicker{t: time.NewTicker(d)}
		},
		logger: logging.NewLogger(logging.ComponentBarrier),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Wait blocks until every expected task has completed. It checks once
// immediately and then once per interval. It returns ctx.Err() on
// cancellation and ErrDeadlineExceeded when the configured deadline passes.
func (b *Barrier) Wait(ctx context.Context) error {
	if b.poll() {
		return nil
	}

	if b.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.deadline)
		defer cancel()
	}

	ticker := b.newTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && b.deadline > 0 {
				return ErrDeadlineExceeded
			}
			return ctx.Err()
		case <-ticker.C():
			if b.poll() {
				return nil
			}
		}
	}
}

func (b *Barrier) poll() bool {
	barrierPolls.Inc()
	count, total := b.counter.Count(), b.counter.Total()
	barrierPending.Set(float64(total - count))

	if count == total {
		b.logger.Info().Int("total", total).Msg("All tasks complete")
		return true
	}
	b.logger.Info().Int("completed", count).Int("total", total).Msg("Waiting for tasks")
	return false
}

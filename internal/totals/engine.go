// Package totals maintains the persisted per-period aggregates and the
// global bucket derived from them. Totals are always recomputed from
// scratch and written wholesale; nothing increments them in place, so
// a crashed import can never leave a half-applied total behind.
package totals

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cartorio-systems/escriba/internal/domain"
)

// RecordSource is the record-reading slice of the Firestore client.
type RecordSource interface {
	GetRecordsByPeriod(ctx context.Context, periodLabel string) ([]*domain.ProcessRecord, error)
	PeriodLabels(ctx context.Context) ([]string, error)
}

// TotalStore is the total-persisting slice of the Firestore client.
type TotalStore interface {
	GetPeriodTotal(ctx context.Context, periodLabel string) (*domain.PeriodTotal, error)
	SetPeriodTotal(ctx context.Context, total *domain.PeriodTotal) error
	ListPeriodTotals(ctx context.Context) ([]*domain.PeriodTotal, error)
}

// Engine recomputes period totals. Synchronous recomputes serve the
// import path and the recalculation endpoint; Enqueue serves record
// mutations that must not wait on aggregation.
type Engine struct {
	records RecordSource
	store   TotalStore
	now     func() time.Time

	queue chan string
	errs  chan error
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

const queueSize = 64

// NewEngine creates a totals engine. Start must be called before
// Enqueue is used.
func NewEngine(records RecordSource, store TotalStore) *Engine {
	return &Engine{
		records: records,
		store:   store,
		now:     time.Now,
		queue:   make(chan string, queueSize),
		errs:    make(chan error, queueSize),
		stop:    make(chan struct{}),
	}
}

// RecomputePeriod rebuilds one period's total from its records and
// persists it. An empty period still writes a zero total; stale totals
// are kept on purpose so history survives record deletions.
func (e *Engine) RecomputePeriod(ctx context.Context, periodLabel string) (*domain.PeriodTotal, error) {
	if periodLabel == "" || periodLabel == domain.GlobalPeriodLabel {
		return nil, fmt.Errorf("cannot recompute period %q", periodLabel)
	}

	records, err := e.records.GetRecordsByPeriod(ctx, periodLabel)
	if err != nil {
		return nil, fmt.Errorf("loading records of %s: %w", periodLabel, err)
	}

	total := &domain.PeriodTotal{
		PeriodLabel:      periodLabel,
		LastRecalculated: e.now(),
	}
	for _, rec := range records {
		total.Add(rec)
	}

	if err := e.store.SetPeriodTotal(ctx, total); err != nil {
		return nil, fmt.Errorf("persisting total of %s: %w", periodLabel, err)
	}
	return total, nil
}

// RecomputeGlobal rebuilds the global bucket from the persisted
// per-period totals, not from a fresh record scan. Periods whose total
// was never computed therefore do not count until they are.
func (e *Engine) RecomputeGlobal(ctx context.Context) (*domain.PeriodTotal, error) {
	persisted, err := e.store.ListPeriodTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading period totals: %w", err)
	}

	global := &domain.PeriodTotal{
		PeriodLabel:      domain.GlobalPeriodLabel,
		LastRecalculated: e.now(),
	}
	for _, total := range persisted {
		if total.PeriodLabel == domain.GlobalPeriodLabel {
			continue
		}
		global.AddTotal(total)
	}

	if err := e.store.SetPeriodTotal(ctx, global); err != nil {
		return nil, fmt.Errorf("persisting global total: %w", err)
	}
	return global, nil
}

// RecomputeAll rebuilds every period present in the records collection
// and then the global bucket.
func (e *Engine) RecomputeAll(ctx context.Context) error {
	labels, err := e.records.PeriodLabels(ctx)
	if err != nil {
		return fmt.Errorf("listing periods: %w", err)
	}
	for _, label := range labels {
		if label == domain.GlobalPeriodLabel {
			continue
		}
		if _, err := e.RecomputePeriod(ctx, label); err != nil {
			return err
		}
	}
	_, err = e.RecomputeGlobal(ctx)
	return err
}

// Start launches the background worker that serves Enqueue.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stop:
				return
			case label := <-e.queue:
				e.recomputeAsync(ctx, label)
			}
		}
	}()
}

// Stop shuts the worker down and closes the error channel so drainers
// ranging over Errors terminate. Queued labels not yet picked up are
// dropped; the recalculation endpoint covers recovery.
func (e *Engine) Stop() {
	e.once.Do(func() {
		close(e.stop)
		e.wg.Wait()
		close(e.errs)
	})
}

// Enqueue requests an asynchronous recompute of one period plus the
// global bucket. It never blocks the caller: if the queue is full the
// label is dropped with a log line.
func (e *Engine) Enqueue(periodLabel string) {
	if periodLabel == "" || periodLabel == domain.GlobalPeriodLabel {
		return
	}
	select {
	case e.queue <- periodLabel:
	default:
		log.Printf("WARN: Totals queue full, dropping recompute of %s", periodLabel)
	}
}

// Errors exposes the async worker's failures for tests and monitoring.
// Nobody has to drain it; sends are non-blocking. The channel is closed
// by Stop once the worker has exited.
func (e *Engine) Errors() <-chan error {
	return e.errs
}

func (e *Engine) recomputeAsync(ctx context.Context, periodLabel string) {
	if _, err := e.RecomputePeriod(ctx, periodLabel); err != nil {
		e.reportAsync(err)
		return
	}
	if _, err := e.RecomputeGlobal(ctx); err != nil {
		e.reportAsync(err)
	}
}

// reportAsync logs and publishes an async failure. Mutation callers
// never see these errors; the record write already succeeded.
func (e *Engine) reportAsync(err error) {
	log.Printf("ERROR: Async totals recompute failed: %v", err)
	select {
	case e.errs <- err:
	default:
	}
}

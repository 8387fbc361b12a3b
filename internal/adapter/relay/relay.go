// Package relay drives the outbox: a poller claims due events and hands
// them to a fixed pool of dispatch workers.
package relay

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fundlane/fundlane-backend/internal/domain"
	"github.com/fundlane/fundlane-backend/internal/usecase/outbox"
)

type Relay struct {
	outbox *outbox.Service
	logger *slog.Logger

	pollInterval time.Duration
	batchSize    int
	workers      int

	queues []chan *domain.EventLog

	ctx    context.Context
	cancel context.CancelFunc

	// dispatchCtx outlives ctx so an in-flight dispatch can persist its
	// outcome during shutdown instead of stranding the event PROCESSING
	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc

	wg sync.WaitGroup

	started atomic.Bool
}

func New(svc *outbox.Service, logger *slog.Logger, pollInterval time.Duration, batchSize, workers int) *Relay {
	if workers < 1 {
		workers = 1
	}
	return &Relay{
		outbox:       svc,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		workers:      workers,
	}
}

// Start launches the poller and the dispatch workers. Events are routed to
// a worker by a hash of their aggregate ID, so events of one aggregate are
// always dispatched in creation order.
func (r *Relay) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return fmt.Errorf("Relay - Start - already started")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.dispatchCtx, r.dispatchCancel = context.WithCancel(context.Background())

	r.queues = make([]chan *domain.EventLog, r.workers)
	for i := 0; i < r.workers; i++ {
		r.queues[i] = make(chan *domain.EventLog, r.batchSize)
		r.worker(i)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			for _, q := range r.queues {
				close(q)
			}
		}()

		ticker := time.NewTicker(r.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.pollOnce()
			}
		}
	}()

	r.logger.Info("outbox relay started",
		slog.Int("workers", r.workers),
		slog.Duration("poll_interval", r.pollInterval))
	return nil
}

func (r *Relay) pollOnce() {
	reclaimed, err := r.outbox.ReclaimStale(r.ctx, r.batchSize)
	if err != nil {
		r.logger.Error("Relay - pollOnce - r.outbox.ReclaimStale", slog.Any("error", err))
	} else if reclaimed > 0 {
		r.logger.Warn("reclaimed stale event claims", slog.Int("reclaimed", reclaimed))
	}

	events, err := r.outbox.DueEvents(r.ctx, r.batchSize)
	if err != nil {
		r.logger.Error("Relay - pollOnce - r.outbox.DueEvents", slog.Any("error", err))
		return
	}

	for _, event := range events {
		select {
		case <-r.ctx.Done():
			return
		case r.queues[r.partition(event.AggregateID.String())] <- event:
		}
	}
}

// partition maps an aggregate ID to a worker index
func (r *Relay) partition(aggregateID string) int {
	h := fnv.New32a()
	h.Write([]byte(aggregateID))
	return int(h.Sum32() % uint32(r.workers))
}

func (r *Relay) worker(index int) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		// An event re-polled while still queued is dispatched twice; the
		// second claim loses the status and retry-count compare-and-swap
		// and is a no-op, whether the first attempt succeeded or was
		// rescheduled.
		for event := range r.queues[index] {
			if err := r.outbox.Dispatch(r.dispatchCtx, event); err != nil {
				r.logger.Error("Relay - worker - r.outbox.Dispatch",
					slog.String("event_id", event.ID.String()),
					slog.Any("error", err))
				continue
			}

			r.logger.Debug("event dispatched",
				slog.String("event_id", event.ID.String()),
				slog.String("event_type", event.EventType),
				slog.String("status", string(event.Status)))
		}
	}()
}

// Shutdown stops polling and waits for in-flight dispatches, bounded by
// ctx. Dispatches keep a live context until the bound expires, so their
// outcomes are persisted rather than stranded mid-claim.
func (r *Relay) Shutdown(ctx context.Context) error {
	if !r.started.Load() {
		return nil
	}

	if r.cancel != nil {
		r.cancel()
	}
	defer func() {
		if r.dispatchCancel != nil {
			r.dispatchCancel()
		}
	}()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("outbox relay stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

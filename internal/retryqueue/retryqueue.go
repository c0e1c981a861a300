// Package retryqueue implements the retry scheduler of spec.md §4.5: a
// single ticking task that selects due retry-candidate requests and
// re-drives each independently. Lifecycle shaped after orchestration/
// task_worker.go's TaskWorkerPool — a cancellable context, a WaitGroup for
// graceful stop, and an atomic active-drive counter for observability —
// scaled down from a worker pool to the single ticker spec.md calls for.
package retryqueue

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soldrproxy/soldr/internal/logging"
	"github.com/soldrproxy/soldr/internal/machine"
)

// tickInterval, maxDueRequests and purgeRetentionDays are the fixed
// constants spec.md §4.5 specifies (one tick/minute, 5 requests/tick, 30
// day completed-request retention).
const (
	tickInterval       = time.Minute
	maxDueRequests     = 5
	purgeRetentionDays = 30
)

// Queue is the retry scheduler. One Queue per process; it holds the
// Services the state machine needs to re-drive requests.
type Queue struct {
	services *machine.Services
	logger   logging.Logger

	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     atomic.Bool
	activeCount atomic.Int32
	tickCount   atomic.Int64
}

// New returns a Queue driving requests through svc. A nil logger defaults
// to no-op.
func New(svc *machine.Services, logger logging.Logger) *Queue {
	if logger == nil {
		logger = logging.Noop{}
	}
	return &Queue{services: svc, logger: logger}
}

// Start begins ticking every minute until ctx is cancelled or Stop is
// called. Start blocks; run it in its own goroutine from the bootstrap.
func (q *Queue) Start(ctx context.Context) {
	if q.running.Swap(true) {
		return
	}

	tickCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	q.logger.Info("retry queue started", map[string]interface{}{"interval": tickInterval.String()})

	for {
		select {
		case <-tickCtx.Done():
			q.wg.Wait()
			q.running.Store(false)
			q.logger.Info("retry queue stopped", nil)
			return
		case <-ticker.C:
			q.tick(tickCtx)
		}
	}
}

// Stop cancels the ticker loop and returns without waiting. Start returns
// once the tick in progress, and the drives it spawned, have finished.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
}

// ActiveDrives reports how many retry drives are in flight right now, for
// diagnostics.
func (q *Queue) ActiveDrives() int32 { return q.activeCount.Load() }

// tick implements spec.md §4.5's per-tick sequence: purge, list due
// requests, spawn an independent drive per request, await them all,
// logging individual failures without blocking the others.
func (q *Queue) tick(ctx context.Context) {
	q.tickCount.Add(1)

	if purged, err := q.services.Store.PurgeCompletedRequests(ctx, purgeRetentionDays); err != nil {
		q.logger.Warn("purge completed requests failed", map[string]interface{}{"error": err.Error()})
	} else if purged > 0 {
		q.logger.Info("purged completed requests", map[string]interface{}{"count": purged})
	}

	due, err := q.services.Store.ListFailedRequests(ctx)
	if err != nil {
		q.logger.Error("list failed requests failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if len(due) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, req := range due {
		wg.Add(1)
		q.activeCount.Add(1)
		go func(requestID int64) {
			defer wg.Done()
			defer q.activeCount.Add(-1)
			q.driveOne(ctx, requestID)
		}(req.ID)
	}
	wg.Wait()
}

func (q *Queue) driveOne(ctx context.Context, requestID int64) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("recovered panic driving retry", map[string]interface{}{
				"request_id": requestID,
				"panic":      r,
				"stack":      string(debug.Stack()),
			})
		}
	}()
	machine.Drive(ctx, q.services, machine.Enqueued{RequestID: requestID})
}

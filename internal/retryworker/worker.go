package retryworker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	apperrors "gitlab.com/inkstory/api/credit-webhook-processor/internal/apperrors"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/config"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/model"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/observer"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/storage"
	"gitlab.com/inkstory/api/credit-webhook-processor/pkg/logger"
	"gitlab.com/inkstory/api/credit-webhook-processor/pkg/utils"
)

const (
	defaultBatchSize       = 50
	defaultWorkers         = 8
	defaultDispatchTimeout = 30 * time.Second
)

// Dispatcher processes one stored webhook payload. Fatal errors mean the
// item will never succeed; anything else is worth another attempt.
type Dispatcher interface {
	ProcessWebhook(ctx context.Context, webhookType string, payload []byte) (model.DispatchOutcome, error)
}

// Worker drains due items from the retry queue and dispatches them on a
// bounded pool. Batches run either on the HTTP trigger or on the optional
// in-process poll loop; both paths share RunBatch.
type Worker struct {
	cfg         config.SchedulerConfig
	queuePolicy config.RetryQueueConfig
	logger      *zap.Logger
	pool        *ants.Pool
	queue       storage.RetryQueueRepo
	dispatcher  Dispatcher
	stopWg      sync.WaitGroup
	cancel      context.CancelFunc
}

// NewWorker creates a retry worker with its own ants pool.
func NewWorker(cfg *config.Config, log *zap.Logger, queue storage.RetryQueueRepo, dispatcher Dispatcher) (*Worker, error) {
	workers := cfg.Scheduler.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	pool, err := ants.NewPool(workers,
		ants.WithLogger(newAntsLoggerAdapter(log.Named("ants_pool"))),
		ants.WithPanicHandler(func(err interface{}) {
			log.Error("Worker panic caught", zap.Any("error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}

	worker := &Worker{
		cfg:         cfg.Scheduler,
		queuePolicy: cfg.RetryQueue,
		logger:      log.Named("retry_worker"),
		pool:        pool,
		queue:       queue,
		dispatcher:  dispatcher,
	}

	worker.logger.Info("Retry worker initialized", zap.Int("pool_size", workers))
	return worker, nil
}

// RunBatch fetches one batch of due items and dispatches them concurrently.
// Every item settles independently; one bad item never blocks the rest. The
// returned summary counts items, so a skipped outcome still settles its row
// via MarkProcessed but is reported separately.
func (w *Worker) RunBatch(ctx context.Context) (model.BatchSummary, error) {
	batchSize := w.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	observer.IncRetryFetchRequest()
	items, err := w.queue.GetPending(ctx, batchSize)
	if err != nil {
		observer.IncRetryFetchError()
		w.logger.Error("Failed to fetch pending retry batch", zap.Error(err))
		return model.BatchSummary{}, fmt.Errorf("fetching pending retry batch: %w", err)
	}
	if len(items) == 0 {
		w.refreshQueueDepth(ctx)
		return model.BatchSummary{}, nil
	}

	w.logger.Info("Dispatching retry batch", zap.Int("count", len(items)))

	var (
		mu      sync.Mutex
		summary model.BatchSummary
		batchWg sync.WaitGroup
	)

	for _, item := range items {
		currentItem := item
		batchWg.Add(1)
		submitErr := w.pool.Submit(func() {
			defer batchWg.Done()
			outcome := w.processItem(ctx, currentItem)
			mu.Lock()
			switch outcome {
			case itemProcessed:
				summary.Processed++
			case itemSkipped:
				summary.Skipped++
			default:
				summary.Failed++
			}
			mu.Unlock()
		})
		if submitErr != nil {
			batchWg.Done()
			w.logger.Error("Failed to submit retry task to pool",
				zap.String("item_id", currentItem.ID),
				zap.Error(submitErr))
			mu.Lock()
			summary.Failed++
			mu.Unlock()
			continue
		}
		observer.IncRetryTasksSubmitted()
	}

	batchWg.Wait()
	observer.SetRetryWorkersActive(w.pool.Running())
	w.refreshQueueDepth(ctx)

	w.logger.Info("Retry batch complete",
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))
	return summary, nil
}

type itemOutcome int

const (
	itemProcessed itemOutcome = iota
	itemFailed
	itemSkipped
)

// processItem dispatches one queue item and settles its row.
func (w *Worker) processItem(ctx context.Context, item model.RetryQueueItem) itemOutcome {
	timeout := w.cfg.DispatchTimeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	taskCtx, taskCancel := context.WithTimeout(ctx, timeout)
	defer taskCancel()

	log := w.logger.With(
		zap.String("item_id", item.ID),
		zap.String("webhook_type", item.WebhookType),
		zap.String("webhook_id", item.WebhookID),
		zap.Int("retry_count", item.RetryCount),
	)
	taskCtx = logger.WithLogger(taskCtx, log)

	// A panicking handler must still settle its row, so the dispatch runs
	// behind a recovery wrapper and surfaces the panic as a plain error.
	var outcome model.DispatchOutcome
	dispatch := utils.WrapWithContextRecovery(func(ctx context.Context) error {
		var dispatchErr error
		outcome, dispatchErr = w.dispatcher.ProcessWebhook(ctx, item.WebhookType, item.Payload)
		return dispatchErr
	})

	startTime := time.Now()
	dispatchErr := dispatch(taskCtx)
	observer.ObserveRetryProcessingDuration(time.Since(startTime))

	if dispatchErr == nil {
		if err := w.queue.MarkProcessed(taskCtx, item.ID); err != nil {
			// The work is done; the row just failed to settle. The next pass
			// replays the item and the ledger's idempotency gate absorbs it.
			log.Error("Failed to mark retry item processed", zap.Error(err))
			return itemFailed
		}
		if outcome == model.OutcomeSkipped {
			log.Info("Retry item carried no work, settled as skipped")
			return itemSkipped
		}
		log.Info("Retry item processed")
		return itemProcessed
	}

	if apperrors.IsFatal(dispatchErr) {
		log.Warn("Retry item failed permanently", zap.Error(dispatchErr))
		if err := w.queue.MarkExhausted(taskCtx, item.ID, dispatchErr.Error()); err != nil {
			log.Error("Failed to mark retry item exhausted", zap.Error(err))
		} else {
			observer.IncRetriesExhausted(item.WebhookType)
		}
		return itemFailed
	}

	log.Warn("Retry item failed, rescheduling", zap.Error(dispatchErr))
	if err := w.queue.MarkFailed(taskCtx, item.ID, dispatchErr.Error()); err != nil {
		log.Error("Failed to mark retry item failed", zap.Error(err))
	}
	return itemFailed
}

// Start launches the optional poll loop. With pollInterval unset the worker
// is trigger-driven only and Start is a no-op.
func (w *Worker) Start(ctx context.Context) error {
	if w.cfg.PollInterval <= 0 {
		w.logger.Info("Poll loop disabled, retry worker is trigger-driven")
		return nil
	}

	derivedCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.stopWg.Add(1)
	go w.pollLoop(derivedCtx)

	w.logger.Info("Retry worker poll loop started", zap.Duration("interval", w.cfg.PollInterval))
	return nil
}

// Stop gracefully shuts down the worker.
func (w *Worker) Stop() {
	w.logger.Info("Stopping retry worker...")
	if w.cancel != nil {
		w.cancel()
	}
	w.stopWg.Wait()
	w.pool.Release()
	w.logger.Info("Retry worker stopped")
}

// pollLoop runs batches on a ticker, with opportunistic cleanup of settled
// rows when retention is configured.
func (w *Worker) pollLoop(ctx context.Context) {
	defer w.stopWg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Poll loop stopping due to context cancellation")
			return
		case <-ticker.C:
			if _, err := w.RunBatch(ctx); err != nil {
				w.logger.Error("Poll loop batch failed", zap.Error(err))
			}
			w.runCleanup(ctx)
		}
	}
}

// runCleanup purges settled rows past the retention window.
func (w *Worker) runCleanup(ctx context.Context) {
	if w.queuePolicy.RetentionDays <= 0 {
		return
	}
	deleted, err := w.queue.Cleanup(ctx, w.queuePolicy.RetentionDays)
	if err != nil {
		w.logger.Error("Retry queue cleanup failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		observer.AddRetryRowsCleaned(deleted)
	}
}

func (w *Worker) refreshQueueDepth(ctx context.Context) {
	count, err := w.queue.CountPending(ctx)
	if err != nil {
		w.logger.Warn("Failed to refresh pending queue depth", zap.Error(err))
		return
	}
	observer.SetRetryQueuePending(count)
}

// --- Ants Logger Adapter ---

type antsLoggerAdapter struct {
	logger *zap.Logger
}

func newAntsLoggerAdapter(logger *zap.Logger) *antsLoggerAdapter {
	return &antsLoggerAdapter{logger: logger}
}

func (a *antsLoggerAdapter) Printf(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}

// Package workers implements the pipeline's stage workers. Four of them
// (classify, supplier match, address validate, predict) consume jobs from
// their named queue, execute under a rate limiter and retry policy, write
// results to the record store, and mark their stage terminal; merchant
// enrichment is handed to the async search tracker by MerchantDispatcher.
// Bounded concurrency is a buffered-channel semaphore per worker.
package workers

import (
	"context"

	"go.uber.org/zap"

	"iaros/payee-enrichment-engine/internal/apierrors"
	"iaros/payee-enrichment-engine/internal/logging"
	"iaros/payee-enrichment-engine/internal/metrics"
	"iaros/payee-enrichment-engine/internal/models"
	"iaros/payee-enrichment-engine/internal/queue"
	"iaros/payee-enrichment-engine/internal/ratelimit"
	"iaros/payee-enrichment-engine/internal/repository"
	"iaros/payee-enrichment-engine/internal/retry"
)

// RecordLoader is the subset of repository.RecordRepository every worker
// needs to fetch the record it was dispatched for.
type RecordLoader interface {
	Get(ctx context.Context, id string) (*models.Record, error)
}

// Pool bounds how many jobs a worker processes concurrently, the
// in-process half of the pipeline's concurrency model (the other half being
// however many worker processes subscribe to the same NATS queue group).
type Pool struct {
	sem chan struct{}
}

// NewPool builds a Pool allowing at most concurrency simultaneous jobs.
func NewPool(concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Pool{sem: make(chan struct{}, concurrency)}
}

// Run blocks until a slot is free, then runs fn, releasing the slot on
// return. Run itself does not block the caller's goroutine scheduling loop;
// callers invoke it from a new goroutine per job.
func (p *Pool) Run(fn func()) {
	p.sem <- struct{}{}
	defer func() { <-p.sem }()
	fn()
}

// StageWorker is the shared shape of the four queue-driven stage workers: bind to a
// queue subject, process jobs with a bounded pool, rate limit and retry
// each collaborator call.
type StageWorker struct {
	Stage      queue.Stage
	Pool       *Pool
	Limiter    *ratelimit.Limiter
	RetryPolicy retry.Policy
	Records    *repository.RecordRepository
	Batches    *repository.BatchRepository
	Logger     *logging.Logger
	ErrHandler *apierrors.Handler

	// Metrics is optional; set by cmd/server before Start.
	Metrics *metrics.Registry

	// Process is the stage-specific handler; each constructor supplies
	// its own. Process owns converting a collaborator error into a
	// terminal "failed" record write itself (see processClassify/
	// processSupplierMatch/etc.) — resty already retries 429/5xx
	// internally per collaborator call — so the only errors Process
	// returns are record store failures. handle wraps those as a
	// retryable DatabaseError before RetryPolicy classifies them.
	Process func(ctx context.Context, rec *models.Record) error
}

// Start subscribes to the worker's stage subject and processes each job
// through the bounded pool. It returns immediately; processing happens on
// goroutines spawned per incoming job.
func (w *StageWorker) Start(ctx context.Context, bus *queue.Bus) error {
	_, err := bus.Subscribe(w.Stage, func(job queue.Job) {
		go w.Pool.Run(func() {
			w.handle(ctx, job)
		})
	})
	return err
}

func (w *StageWorker) handle(ctx context.Context, job queue.Job) {
	logger := w.Logger.WithRecord(job.BatchID, job.RecordID).WithStage(string(w.Stage))

	rec, err := w.Records.Get(ctx, job.RecordID)
	if err != nil {
		logger.Error("load record for stage dispatch", zap.Error(err))
		return
	}

	if err := w.Limiter.Wait(ctx); err != nil {
		logger.Warn("rate limiter wait aborted", zap.Error(err))
		return
	}

	err = w.RetryPolicy.Do(ctx, apierrors.IsRetryable, func(ctx context.Context) error {
		perr := w.Process(ctx, rec)
		if perr == nil {
			return nil
		}
		if w.ErrHandler != nil {
			return w.ErrHandler.NewDatabase(string(w.Stage), "record store write failed", perr)
		}
		return perr
	})
	if w.Metrics != nil {
		w.Metrics.RecordStage(string(w.Stage), err == nil)
	}
	if err != nil {
		logger.Error("stage processing failed after retries", zap.Error(err))
	}
}

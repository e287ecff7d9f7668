// Package orchestrator drives a Batch from upload through every enabled
// stage to completion. It owns no collaborator calls itself: it enqueues
// per-record jobs onto the queue backbone, hands merchant-enrichment
// sub-batches to the asynchronous tracker, and sweeps on a cron schedule
// to advance stage-to-stage handoffs and roll terminal stage counters up
// into the batch's overall status. The sweep design mirrors the polling
// pattern already used for bulk search resolution rather than inventing a
// second completion-callback path.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"iaros/payee-enrichment-engine/internal/logging"
	"iaros/payee-enrichment-engine/internal/metrics"
	"iaros/payee-enrichment-engine/internal/models"
	"iaros/payee-enrichment-engine/internal/queue"
)

// stage prefixes line up with models.Batch's embedded StageCounters and
// repository.BatchRepository's stagePrefix argument.
const (
	prefixClassification = "classification"
	prefixSupplier       = "finexio"
	prefixAddress        = "address"
	prefixMerchant       = "merchant"
	prefixPrediction     = "prediction"
)

// stageColumnByPrefix maps a batch counter prefix to the per-record status
// column the sweep reconciles it from.
var stageColumnByPrefix = map[string]string{
	prefixClassification: "classification_status",
	prefixSupplier:       "supplier_match_status",
	prefixAddress:        "address_status",
	prefixMerchant:       "merchant_status",
	prefixPrediction:     "prediction_status",
}

// staleThreshold is how long a stage may sit in_progress with no forward
// movement before the sweep emits a warning. Nothing auto-cancels on a
// timeout; operators decide whether to cancel the batch.
const staleThreshold = 30 * time.Minute

// batchRepo is the subset of repository.BatchRepository the orchestrator
// needs, narrowed so unit tests can fake it.
type batchRepo interface {
	List(ctx context.Context, offset, limit int) ([]models.Batch, int64, error)
	Create(ctx context.Context, b *models.Batch) error
	UpdateStatus(ctx context.Context, id string, status models.BatchStatus) error
	SetStageTotal(ctx context.Context, batchID, stagePrefix string, total int) error
	SetStageStatus(ctx context.Context, batchID, stagePrefix string, status models.StageStatus) error
	SetStageProcessed(ctx context.Context, batchID, stagePrefix string, processed int) error
	SetBatchProgress(ctx context.Context, batchID string, processed, skipped int) error
	MarkCompleted(ctx context.Context, id string, completedAt interface{}) error
}

// recordRepo is the subset of repository.RecordRepository the orchestrator
// needs beyond what workers.RecordLoader already covers.
type recordRepo interface {
	CreateBatch(ctx context.Context, records []models.Record) error
	ListReadyForStage(ctx context.Context, batchID, targetColumn string, gatingColumns []string, limit int) ([]models.Record, error)
	MarkStageInProgress(ctx context.Context, recordID, statusColumn string) error
	CountStageStatuses(ctx context.Context, batchID, statusColumn string) (terminal, failed int64, err error)
	CountExcluded(ctx context.Context, batchID string) (int64, error)
	CancelPendingForBatch(ctx context.Context, batchID string) error
}

// asyncSearchCanceller is the one AsyncSearchRepository operation the
// orchestrator calls directly, to soft-cancel in-flight bulk searches when
// a batch is cancelled.
type asyncSearchCanceller interface {
	CancelPendingForBatch(ctx context.Context, batchID string) (int64, error)
}

// merchantDispatcher hands ready records to the async search tracker,
// satisfied by workers.MerchantDispatcher.
type merchantDispatcher interface {
	DispatchBatch(ctx context.Context, batchID string, pending []models.Record) error
}

// jobPublisher is the queue.Bus operation the orchestrator uses.
type jobPublisher interface {
	Publish(stage queue.Stage, job queue.Job) error
}

// dispatchSweepLimit bounds how many records the sweeper dispatches for
// one stage, on one batch, per tick, so a very large batch doesn't starve
// other batches' sweeps within the same cron fire.
const dispatchSweepLimit = 500

// Orchestrator is the Pipeline Orchestrator: coordinator of record
// dispatch, stage handoff, and batch-level status.
type Orchestrator struct {
	batches    batchRepo
	records    recordRepo
	searches   asyncSearchCanceller
	bus        jobPublisher
	merchant   merchantDispatcher
	logger     *logging.Logger
	metrics    *metrics.Registry
	cronRunner *cron.Cron

	predictionWaitsForEnrichment bool
	subBatchSize                 int
}

// Config holds the orchestrator's policy knobs.
type Config struct {
	PredictionWaitsForEnrichment bool
	SubBatchSize                 int
	SweepInterval                time.Duration
}

func New(
	batches batchRepo,
	records recordRepo,
	searches asyncSearchCanceller,
	bus jobPublisher,
	merchant merchantDispatcher,
	logger *logging.Logger,
	reg *metrics.Registry,
	cfg Config,
) *Orchestrator {
	if cfg.SubBatchSize <= 0 {
		cfg.SubBatchSize = 500
	}
	return &Orchestrator{
		batches:                      batches,
		records:                      records,
		searches:                     searches,
		bus:                          bus,
		merchant:                     merchant,
		logger:                       logger,
		metrics:                      reg,
		predictionWaitsForEnrichment: cfg.PredictionWaitsForEnrichment,
		subBatchSize:                 cfg.SubBatchSize,
	}
}

// CreateBatch persists the batch and its records, sets each enabled
// stage's total counter, and kicks off classification by enqueuing every
// record onto the classify subject. Every record always runs
// classification regardless of which other stages are enabled — it is the
// gate the other four stages dispatch behind.
func (o *Orchestrator) CreateBatch(ctx context.Context, batch *models.Batch, records []models.Record) error {
	batch.Status = models.BatchPending
	batch.TotalRecords = len(records)
	if err := o.batches.Create(ctx, batch); err != nil {
		return fmt.Errorf("persist batch: %w", err)
	}
	if err := o.records.CreateBatch(ctx, records); err != nil {
		return fmt.Errorf("persist records: %w", err)
	}

	total := len(records)
	for prefix, enabled := range map[string]bool{
		prefixClassification: true,
		prefixSupplier:       batch.EnabledStages.SupplierMatch,
		prefixAddress:        batch.EnabledStages.AddressValidate,
		prefixMerchant:       batch.EnabledStages.MerchantEnrich,
		prefixPrediction:     batch.EnabledStages.Predict,
	} {
		if !enabled {
			continue
		}
		if err := o.batches.SetStageTotal(ctx, batch.ID, prefix, total); err != nil {
			return fmt.Errorf("set %s stage total: %w", prefix, err)
		}
	}

	if err := o.batches.UpdateStatus(ctx, batch.ID, models.BatchProcessing); err != nil {
		return fmt.Errorf("mark batch processing: %w", err)
	}

	for _, rec := range records {
		job := queue.Job{BatchID: batch.ID, RecordID: rec.ID}
		if err := o.bus.Publish(queue.StageClassify, job); err != nil {
			o.logger.WithRecord(batch.ID, rec.ID).Error("publish classify job", zap.Error(err))
		}
	}
	return nil
}

// Cancel soft-cancels a batch: every non-terminal per-record stage and
// every non-terminal async search belonging to it is marked cancelled, and
// the batch's own status moves to cancelled. Already-completed work is
// left untouched.
func (o *Orchestrator) Cancel(ctx context.Context, batchID string) error {
	if err := o.records.CancelPendingForBatch(ctx, batchID); err != nil {
		return fmt.Errorf("cancel pending records: %w", err)
	}
	if _, err := o.searches.CancelPendingForBatch(ctx, batchID); err != nil {
		return fmt.Errorf("cancel pending async searches: %w", err)
	}
	return o.batches.UpdateStatus(ctx, batchID, models.BatchCancelled)
}

// StartSweeper schedules Sweep on a robfig/cron job every interval.
func (o *Orchestrator) StartSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	o.cronRunner = cron.New()
	spec := fmt.Sprintf("@every %s", interval)
	_, err := o.cronRunner.AddFunc(spec, func() {
		if err := o.Sweep(ctx); err != nil {
			o.logger.Error("orchestrator sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule orchestrator sweeper: %w", err)
	}
	o.cronRunner.Start()
	return nil
}

func (o *Orchestrator) StopSweeper() {
	if o.cronRunner != nil {
		o.cronRunner.Stop()
	}
}

// activeBatchStatuses are the statuses the sweep bothers scanning; a batch
// that hasn't yet left pending (no records created) or has already reached
// a terminal status needs no sweep work.
var activeBatchStatuses = []models.BatchStatus{models.BatchProcessing, models.BatchEnriching}

// Sweep advances every active batch by one step: reconcile per-stage
// counters against record-level terminal counts, dispatch any per-record
// stage whose records are classification-complete but not yet dispatched,
// and roll a batch up to completed (or failed) once every enabled stage is
// terminal.
func (o *Orchestrator) Sweep(ctx context.Context) error {
	const pageSize = 100
	offset := 0
	for {
		batches, total, err := o.batches.List(ctx, offset, pageSize)
		if err != nil {
			return fmt.Errorf("list batches: %w", err)
		}
		for _, b := range batches {
			if !isActive(b.Status) {
				continue
			}
			if err := o.sweepBatch(ctx, &b); err != nil {
				o.logger.WithBatch(b.ID).Error("sweep batch", zap.Error(err))
			}
		}
		offset += len(batches)
		if int64(offset) >= total || len(batches) == 0 {
			return nil
		}
	}
}

func isActive(status models.BatchStatus) bool {
	for _, s := range activeBatchStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// stageSweepState is one stage's reconciled view for the current tick.
type stageSweepState struct {
	counters models.StageCounters
	failed   int64
}

func (o *Orchestrator) sweepBatch(ctx context.Context, b *models.Batch) error {
	logger := o.logger.WithBatch(b.ID)

	states := map[string]stageSweepState{}
	for prefix, enabled := range o.enabledByPrefix(b) {
		if !enabled {
			continue
		}
		state, err := o.reconcileStage(ctx, b, prefix)
		if err != nil {
			logger.Error("reconcile stage", zap.String("stage", prefix), zap.Error(err))
			continue
		}
		states[prefix] = state
	}

	if err := o.syncBatchProgress(ctx, b, states); err != nil {
		logger.Error("sync batch progress", zap.Error(err))
	}

	if b.EnabledStages.SupplierMatch {
		if err := o.dispatchPerRecordStage(ctx, b.ID, "supplier_match_status", nil, queue.StageSupplierMatch); err != nil {
			logger.Error("dispatch supplier match", zap.Error(err))
		}
	}
	if b.EnabledStages.AddressValidate {
		if err := o.dispatchPerRecordStage(ctx, b.ID, "address_status", nil, queue.StageAddressValidate); err != nil {
			logger.Error("dispatch address validate", zap.Error(err))
		}
	}
	if b.EnabledStages.MerchantEnrich {
		if err := o.dispatchMerchant(ctx, b.ID); err != nil {
			logger.Error("dispatch merchant enrichment", zap.Error(err))
		}
	}
	if b.EnabledStages.Predict {
		if err := o.dispatchPerRecordStage(ctx, b.ID, "prediction_status", o.predictionGatingColumns(b), queue.StagePredict); err != nil {
			logger.Error("dispatch prediction", zap.Error(err))
		}
	}

	o.maybeMarkEnriching(ctx, b, states)

	return o.maybeComplete(ctx, b, states)
}

// enabledByPrefix reports which stage counters this batch carries.
func (o *Orchestrator) enabledByPrefix(b *models.Batch) map[string]bool {
	return map[string]bool{
		prefixClassification: true,
		prefixSupplier:       b.EnabledStages.SupplierMatch,
		prefixAddress:        b.EnabledStages.AddressValidate,
		prefixMerchant:       b.EnabledStages.MerchantEnrich,
		prefixPrediction:     b.EnabledStages.Predict,
	}
}

// reconcileStage overwrites a stage's processed counter with the
// record-level terminal count (skipped and cancelled records never pass
// through a worker, so worker-side increments alone undercount), then
// advances the stage's own status: pending -> in_progress once anything
// terminates, in_progress -> completed once every record has. A stage
// stuck in_progress past staleThreshold with no batch write since then
// raises a warning metric; nothing is auto-cancelled.
func (o *Orchestrator) reconcileStage(ctx context.Context, b *models.Batch, prefix string) (stageSweepState, error) {
	counters := stageCounters(b, prefix)
	terminal, failed, err := o.records.CountStageStatuses(ctx, b.ID, stageColumnByPrefix[prefix])
	if err != nil {
		return stageSweepState{}, err
	}

	if int(terminal) != counters.Processed {
		if err := o.batches.SetStageProcessed(ctx, b.ID, prefix, int(terminal)); err != nil {
			return stageSweepState{}, err
		}
		counters.Processed = int(terminal)
	}

	switch {
	case counters.Total > 0 && counters.Processed >= counters.Total && counters.Status != models.StageCompleted:
		if err := o.batches.SetStageStatus(ctx, b.ID, prefix, models.StageCompleted); err != nil {
			return stageSweepState{}, err
		}
		counters.Status = models.StageCompleted
	case counters.Status == models.StagePending && counters.Processed > 0:
		if err := o.batches.SetStageStatus(ctx, b.ID, prefix, models.StageInProgress); err != nil {
			return stageSweepState{}, err
		}
		counters.Status = models.StageInProgress
	case counters.Status == models.StageInProgress && time.Since(b.UpdatedAt) > staleThreshold:
		if o.metrics != nil {
			o.metrics.StaleBatchWarnings.WithLabelValues(prefix).Inc()
		}
	}

	return stageSweepState{counters: counters, failed: failed}, nil
}

// syncBatchProgress keeps the batch-level processedRecords (records whose
// classification is terminal) and skippedRecords (excluded records)
// counters current.
func (o *Orchestrator) syncBatchProgress(ctx context.Context, b *models.Batch, states map[string]stageSweepState) error {
	classification, ok := states[prefixClassification]
	if !ok {
		return nil
	}
	excluded, err := o.records.CountExcluded(ctx, b.ID)
	if err != nil {
		return err
	}
	processed := classification.counters.Processed
	if processed == b.ProcessedRecords && int(excluded) == b.SkippedRecords {
		return nil
	}
	b.ProcessedRecords = processed
	b.SkippedRecords = int(excluded)
	return o.batches.SetBatchProgress(ctx, b.ID, processed, int(excluded))
}

func stageCounters(b *models.Batch, prefix string) models.StageCounters {
	switch prefix {
	case prefixSupplier:
		return b.Finexio
	case prefixAddress:
		return b.Address
	case prefixMerchant:
		return b.Merchant
	case prefixPrediction:
		return b.Prediction
	default:
		return b.Classification
	}
}

// dispatchPerRecordStage publishes a job for every record ready for
// statusColumn (classification complete, not excluded, every gating
// column already terminal), marking it in_progress first so a concurrent
// sweep tick (or a cancellation) doesn't race the same record onto the
// queue twice.
func (o *Orchestrator) dispatchPerRecordStage(ctx context.Context, batchID, statusColumn string, gatingColumns []string, stage queue.Stage) error {
	ready, err := o.records.ListReadyForStage(ctx, batchID, statusColumn, gatingColumns, dispatchSweepLimit)
	if err != nil {
		return fmt.Errorf("list ready for %s: %w", statusColumn, err)
	}
	if o.metrics != nil {
		o.metrics.QueueDepth.WithLabelValues(string(stage)).Set(float64(len(ready)))
	}
	for _, rec := range ready {
		if err := o.records.MarkStageInProgress(ctx, rec.ID, statusColumn); err != nil {
			continue
		}
		job := queue.Job{BatchID: batchID, RecordID: rec.ID}
		if err := o.bus.Publish(stage, job); err != nil {
			o.logger.WithRecord(batchID, rec.ID).Error("publish stage job", zap.String("stage", string(stage)), zap.Error(err))
		}
	}
	return nil
}

func (o *Orchestrator) dispatchMerchant(ctx context.Context, batchID string) error {
	ready, err := o.records.ListReadyForStage(ctx, batchID, "merchant_status", nil, o.subBatchSize)
	if err != nil {
		return fmt.Errorf("list ready for merchant enrichment: %w", err)
	}
	if o.metrics != nil {
		o.metrics.QueueDepth.WithLabelValues(string(queue.StageMerchantEnrich)).Set(float64(len(ready)))
	}
	if len(ready) == 0 {
		return nil
	}
	return o.merchant.DispatchBatch(ctx, batchID, ready)
}

// predictionGatingColumns returns the per-record stage columns prediction
// must wait on, honoring the configured choice of whether prediction waits
// for enrichment results or runs concurrently with them. Returns nil when
// the wait is disabled, so ListReadyForStage gates on classification alone.
func (o *Orchestrator) predictionGatingColumns(b *models.Batch) []string {
	if !o.predictionWaitsForEnrichment {
		return nil
	}
	var cols []string
	if b.EnabledStages.SupplierMatch {
		cols = append(cols, "supplier_match_status")
	}
	if b.EnabledStages.AddressValidate {
		cols = append(cols, "address_status")
	}
	if b.EnabledStages.MerchantEnrich {
		cols = append(cols, "merchant_status")
	}
	return cols
}

// maybeMarkEnriching moves a processing batch to enriching once
// classification has closed out while at least one enrichment stage is
// still open.
func (o *Orchestrator) maybeMarkEnriching(ctx context.Context, b *models.Batch, states map[string]stageSweepState) {
	if b.Status != models.BatchProcessing {
		return
	}
	classification, ok := states[prefixClassification]
	if !ok || classification.counters.Status != models.StageCompleted {
		return
	}
	enrichmentOpen := false
	for prefix, state := range states {
		if prefix == prefixClassification {
			continue
		}
		if !state.counters.Status.IsTerminal() {
			enrichmentOpen = true
			break
		}
	}
	if !enrichmentOpen {
		return
	}
	if err := o.batches.UpdateStatus(ctx, b.ID, models.BatchEnriching); err != nil {
		o.logger.WithBatch(b.ID).Error("mark batch enriching", zap.Error(err))
		return
	}
	b.Status = models.BatchEnriching
}

// maybeComplete terminates the batch once every enabled stage's status has
// reached a terminal value: failed when every record failed every enabled
// stage, completed otherwise.
func (o *Orchestrator) maybeComplete(ctx context.Context, b *models.Batch, states map[string]stageSweepState) error {
	allFailed := true
	for _, state := range states {
		if !state.counters.Status.IsTerminal() {
			return nil
		}
		if state.counters.Total == 0 || int(state.failed) < state.counters.Total {
			allFailed = false
		}
	}
	if len(states) == 0 {
		return nil
	}

	if o.metrics != nil {
		o.metrics.BatchesCompletedTotal.Inc()
	}
	if allFailed {
		return o.batches.UpdateStatus(ctx, b.ID, models.BatchFailed)
	}
	return o.batches.MarkCompleted(ctx, b.ID, completedAtNow())
}

var completedAtNow = func() time.Time { return time.Now() }

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iaros/payee-enrichment-engine/internal/logging"
	"iaros/payee-enrichment-engine/internal/models"
	"iaros/payee-enrichment-engine/internal/queue"
)

type fakeBatchRepo struct {
	batches []models.Batch

	stageTotals    map[string]int
	stageStatuses  map[string]models.StageStatus
	stageProcessed map[string]int
	statusUpdates  []models.BatchStatus
	completed      []string
	progressSynced bool
}

func newFakeBatchRepo(batches ...models.Batch) *fakeBatchRepo {
	return &fakeBatchRepo{
		batches:        batches,
		stageTotals:    map[string]int{},
		stageStatuses:  map[string]models.StageStatus{},
		stageProcessed: map[string]int{},
	}
}

func (f *fakeBatchRepo) List(ctx context.Context, offset, limit int) ([]models.Batch, int64, error) {
	if offset >= len(f.batches) {
		return nil, int64(len(f.batches)), nil
	}
	return f.batches[offset:], int64(len(f.batches)), nil
}

func (f *fakeBatchRepo) Create(ctx context.Context, b *models.Batch) error {
	f.batches = append(f.batches, *b)
	return nil
}

func (f *fakeBatchRepo) UpdateStatus(ctx context.Context, id string, status models.BatchStatus) error {
	f.statusUpdates = append(f.statusUpdates, status)
	return nil
}

func (f *fakeBatchRepo) SetStageTotal(ctx context.Context, batchID, stagePrefix string, total int) error {
	f.stageTotals[stagePrefix] = total
	return nil
}

func (f *fakeBatchRepo) SetStageStatus(ctx context.Context, batchID, stagePrefix string, status models.StageStatus) error {
	f.stageStatuses[stagePrefix] = status
	return nil
}

func (f *fakeBatchRepo) SetStageProcessed(ctx context.Context, batchID, stagePrefix string, processed int) error {
	f.stageProcessed[stagePrefix] = processed
	return nil
}

func (f *fakeBatchRepo) SetBatchProgress(ctx context.Context, batchID string, processed, skipped int) error {
	f.progressSynced = true
	return nil
}

func (f *fakeBatchRepo) MarkCompleted(ctx context.Context, id string, completedAt interface{}) error {
	f.completed = append(f.completed, id)
	return nil
}

type stageCount struct{ terminal, failed int64 }

type fakeRecordRepo struct {
	counts       map[string]stageCount
	excluded     int64
	ready        map[string][]models.Record
	gating       map[string][]string
	inProgress   []string
	cancelled    []string
	created      int
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{
		counts: map[string]stageCount{},
		ready:  map[string][]models.Record{},
		gating: map[string][]string{},
	}
}

func (f *fakeRecordRepo) CreateBatch(ctx context.Context, records []models.Record) error {
	f.created += len(records)
	return nil
}

func (f *fakeRecordRepo) ListReadyForStage(ctx context.Context, batchID, targetColumn string, gatingColumns []string, limit int) ([]models.Record, error) {
	f.gating[targetColumn] = gatingColumns
	return f.ready[targetColumn], nil
}

func (f *fakeRecordRepo) MarkStageInProgress(ctx context.Context, recordID, statusColumn string) error {
	f.inProgress = append(f.inProgress, recordID+":"+statusColumn)
	return nil
}

func (f *fakeRecordRepo) CountStageStatuses(ctx context.Context, batchID, statusColumn string) (int64, int64, error) {
	c := f.counts[statusColumn]
	return c.terminal, c.failed, nil
}

func (f *fakeRecordRepo) CountExcluded(ctx context.Context, batchID string) (int64, error) {
	return f.excluded, nil
}

func (f *fakeRecordRepo) CancelPendingForBatch(ctx context.Context, batchID string) error {
	f.cancelled = append(f.cancelled, batchID)
	return nil
}

type fakeCanceller struct{ cancelled []string }

func (f *fakeCanceller) CancelPendingForBatch(ctx context.Context, batchID string) (int64, error) {
	f.cancelled = append(f.cancelled, batchID)
	return 1, nil
}

type fakePublisher struct{ jobs map[queue.Stage][]queue.Job }

func newFakePublisher() *fakePublisher {
	return &fakePublisher{jobs: map[queue.Stage][]queue.Job{}}
}

func (f *fakePublisher) Publish(stage queue.Stage, job queue.Job) error {
	f.jobs[stage] = append(f.jobs[stage], job)
	return nil
}

type fakeMerchantDispatcher struct{ dispatched [][]models.Record }

func (f *fakeMerchantDispatcher) DispatchBatch(ctx context.Context, batchID string, pending []models.Record) error {
	f.dispatched = append(f.dispatched, pending)
	return nil
}

func newTestOrchestrator(batches *fakeBatchRepo, records *fakeRecordRepo, bus *fakePublisher, merchant *fakeMerchantDispatcher, cfg Config) (*Orchestrator, *fakeCanceller) {
	searches := &fakeCanceller{}
	o := New(batches, records, searches, bus, merchant, logging.New("orchestrator-test"), nil, cfg)
	return o, searches
}

func testBatch(status models.BatchStatus) models.Batch {
	return models.Batch{
		ID:           "b1",
		Status:       status,
		TotalRecords: 2,
		UpdatedAt:    time.Now(),
		EnabledStages: models.StageSelection{
			Classification: true,
			SupplierMatch:  true,
			MerchantEnrich: true,
		},
		Classification: models.StageCounters{Status: models.StageInProgress, Total: 2},
		Finexio:        models.StageCounters{Status: models.StagePending, Total: 2},
		Merchant:       models.StageCounters{Status: models.StagePending, Total: 2},
	}
}

func TestCreateBatch_PublishesClassifyJobsAndSetsTotals(t *testing.T) {
	batches := newFakeBatchRepo()
	records := newFakeRecordRepo()
	bus := newFakePublisher()
	o, _ := newTestOrchestrator(batches, records, bus, &fakeMerchantDispatcher{}, Config{})

	b := testBatch(models.BatchPending)
	recs := []models.Record{{ID: "r1", BatchID: "b1"}, {ID: "r2", BatchID: "b1"}}
	require.NoError(t, o.CreateBatch(context.Background(), &b, recs))

	assert.Equal(t, 2, records.created)
	assert.Len(t, bus.jobs[queue.StageClassify], 2)
	assert.Equal(t, 2, batches.stageTotals[prefixClassification])
	assert.Equal(t, 2, batches.stageTotals[prefixSupplier])
	assert.Equal(t, 2, batches.stageTotals[prefixMerchant])
	assert.NotContains(t, batches.stageTotals, prefixPrediction, "disabled stages get no total")
	assert.Contains(t, batches.statusUpdates, models.BatchProcessing)
}

func TestSweep_ReconcilesCountersAndCompletes(t *testing.T) {
	b := testBatch(models.BatchEnriching)
	batches := newFakeBatchRepo(b)
	records := newFakeRecordRepo()
	records.counts["classification_status"] = stageCount{terminal: 2}
	records.counts["supplier_match_status"] = stageCount{terminal: 2}
	records.counts["merchant_status"] = stageCount{terminal: 2}
	bus := newFakePublisher()
	o, _ := newTestOrchestrator(batches, records, bus, &fakeMerchantDispatcher{}, Config{})

	require.NoError(t, o.Sweep(context.Background()))

	assert.Equal(t, 2, batches.stageProcessed[prefixClassification])
	assert.Equal(t, models.StageCompleted, batches.stageStatuses[prefixClassification])
	assert.Equal(t, models.StageCompleted, batches.stageStatuses[prefixSupplier])
	assert.Equal(t, models.StageCompleted, batches.stageStatuses[prefixMerchant])
	assert.Equal(t, []string{"b1"}, batches.completed)
}

func TestSweep_SkippedRecordsStillCloseOutStages(t *testing.T) {
	// An excluded record's supplier/merchant columns go straight to
	// skipped without passing through a worker; the terminal count still
	// includes them.
	b := testBatch(models.BatchEnriching)
	batches := newFakeBatchRepo(b)
	records := newFakeRecordRepo()
	records.excluded = 1
	records.counts["classification_status"] = stageCount{terminal: 2}
	records.counts["supplier_match_status"] = stageCount{terminal: 2}
	records.counts["merchant_status"] = stageCount{terminal: 2}
	bus := newFakePublisher()
	o, _ := newTestOrchestrator(batches, records, bus, &fakeMerchantDispatcher{}, Config{})

	require.NoError(t, o.Sweep(context.Background()))
	assert.Equal(t, []string{"b1"}, batches.completed)
	assert.True(t, batches.progressSynced)
}

func TestSweep_MarksEnrichingOnceClassificationCloses(t *testing.T) {
	b := testBatch(models.BatchProcessing)
	batches := newFakeBatchRepo(b)
	records := newFakeRecordRepo()
	records.counts["classification_status"] = stageCount{terminal: 2}
	records.counts["supplier_match_status"] = stageCount{terminal: 1}
	records.counts["merchant_status"] = stageCount{terminal: 0}
	bus := newFakePublisher()
	o, _ := newTestOrchestrator(batches, records, bus, &fakeMerchantDispatcher{}, Config{})

	require.NoError(t, o.Sweep(context.Background()))

	assert.Contains(t, batches.statusUpdates, models.BatchEnriching)
	assert.Empty(t, batches.completed)
}

func TestSweep_AllStagesFailedMarksBatchFailed(t *testing.T) {
	b := testBatch(models.BatchEnriching)
	batches := newFakeBatchRepo(b)
	records := newFakeRecordRepo()
	records.counts["classification_status"] = stageCount{terminal: 2, failed: 2}
	records.counts["supplier_match_status"] = stageCount{terminal: 2, failed: 2}
	records.counts["merchant_status"] = stageCount{terminal: 2, failed: 2}
	bus := newFakePublisher()
	o, _ := newTestOrchestrator(batches, records, bus, &fakeMerchantDispatcher{}, Config{})

	require.NoError(t, o.Sweep(context.Background()))

	assert.Contains(t, batches.statusUpdates, models.BatchFailed)
	assert.Empty(t, batches.completed, "a fully failed batch is failed, not completed")
}

func TestSweep_DispatchesReadyRecordsOncePerTick(t *testing.T) {
	b := testBatch(models.BatchProcessing)
	batches := newFakeBatchRepo(b)
	records := newFakeRecordRepo()
	records.counts["classification_status"] = stageCount{terminal: 1}
	records.ready["supplier_match_status"] = []models.Record{{ID: "r1", BatchID: "b1"}}
	records.ready["merchant_status"] = []models.Record{{ID: "r1", BatchID: "b1"}}
	bus := newFakePublisher()
	merchant := &fakeMerchantDispatcher{}
	o, _ := newTestOrchestrator(batches, records, bus, merchant, Config{})

	require.NoError(t, o.Sweep(context.Background()))

	assert.Len(t, bus.jobs[queue.StageSupplierMatch], 1)
	assert.Contains(t, records.inProgress, "r1:supplier_match_status")
	require.Len(t, merchant.dispatched, 1, "merchant records go to the dispatcher, not the queue")
	assert.Empty(t, bus.jobs[queue.StageMerchantEnrich])
}

func TestSweep_PredictionGatesOnEnabledEnrichmentStages(t *testing.T) {
	b := testBatch(models.BatchEnriching)
	b.EnabledStages.Predict = true
	b.Prediction = models.StageCounters{Status: models.StagePending, Total: 2}
	batches := newFakeBatchRepo(b)
	records := newFakeRecordRepo()
	bus := newFakePublisher()
	o, _ := newTestOrchestrator(batches, records, bus, &fakeMerchantDispatcher{}, Config{PredictionWaitsForEnrichment: true})

	require.NoError(t, o.Sweep(context.Background()))

	assert.ElementsMatch(t, []string{"supplier_match_status", "merchant_status"}, records.gating["prediction_status"])
}

func TestSweep_PredictionRacesWhenWaitDisabled(t *testing.T) {
	b := testBatch(models.BatchEnriching)
	b.EnabledStages.Predict = true
	batches := newFakeBatchRepo(b)
	records := newFakeRecordRepo()
	bus := newFakePublisher()
	o, _ := newTestOrchestrator(batches, records, bus, &fakeMerchantDispatcher{}, Config{PredictionWaitsForEnrichment: false})

	require.NoError(t, o.Sweep(context.Background()))

	assert.Empty(t, records.gating["prediction_status"])
}

func TestCancel_SoftCancelsRecordsSearchesAndBatch(t *testing.T) {
	batches := newFakeBatchRepo()
	records := newFakeRecordRepo()
	bus := newFakePublisher()
	o, searches := newTestOrchestrator(batches, records, bus, &fakeMerchantDispatcher{}, Config{})

	require.NoError(t, o.Cancel(context.Background(), "b1"))

	assert.Equal(t, []string{"b1"}, records.cancelled)
	assert.Equal(t, []string{"b1"}, searches.cancelled)
	assert.Equal(t, []models.BatchStatus{models.BatchCancelled}, batches.statusUpdates)
}

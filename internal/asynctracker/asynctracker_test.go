package asynctracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iaros/payee-enrichment-engine/internal/capabilities"
	"iaros/payee-enrichment-engine/internal/logging"
	"iaros/payee-enrichment-engine/internal/models"
	"iaros/payee-enrichment-engine/internal/repository"
)

// fakeSearchStore mimics *repository.AsyncSearchRepository's CAS semantics
// against an in-memory map, so the race between webhook and poll can be
// exercised without a database.
type fakeSearchStore struct {
	rows map[string]*models.AsyncSearchRequest
}

func newFakeSearchStore() *fakeSearchStore {
	return &fakeSearchStore{rows: map[string]*models.AsyncSearchRequest{}}
}

func (f *fakeSearchStore) Create(ctx context.Context, req *models.AsyncSearchRequest) error {
	cp := *req
	f.rows[req.SearchID] = &cp
	return nil
}

func (f *fakeSearchStore) Get(ctx context.Context, searchID string) (*models.AsyncSearchRequest, error) {
	row, ok := f.rows[searchID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (f *fakeSearchStore) PendingForPoll(ctx context.Context, olderThan time.Time, limit int) ([]models.AsyncSearchRequest, error) {
	var out []models.AsyncSearchRequest
	for _, row := range f.rows {
		if row.Status.IsTerminal() {
			continue
		}
		if row.LastPolledAt != nil && row.LastPolledAt.After(olderThan) {
			continue
		}
		out = append(out, *row)
	}
	return out, nil
}

func (f *fakeSearchStore) MarkWebhookReceived(ctx context.Context, searchID, responsePayload string) error {
	row, ok := f.rows[searchID]
	if !ok || row.Status.IsTerminal() {
		return repository.ErrStaleWrite
	}
	row.Status = models.SearchWebhookReceived
	row.ResponsePayload = responsePayload
	return nil
}

func (f *fakeSearchStore) RecordPollAttempt(ctx context.Context, searchID string, polledAt time.Time) error {
	row, ok := f.rows[searchID]
	if !ok {
		return repository.ErrNotFound
	}
	row.PollAttempts++
	row.LastPolledAt = &polledAt
	if !row.Status.IsTerminal() {
		row.Status = models.SearchPolling
	}
	return nil
}

func (f *fakeSearchStore) ApplyResult(ctx context.Context, searchID string, status models.AsyncSearchStatus, responsePayload string, completedAt time.Time) error {
	row, ok := f.rows[searchID]
	if !ok {
		return repository.ErrNotFound
	}
	if row.Status.IsTerminal() {
		return repository.ErrStaleWrite
	}
	row.Status = status
	row.ResponsePayload = responsePayload
	row.CompletedAt = &completedAt
	return nil
}

func (f *fakeSearchStore) ApplyFailure(ctx context.Context, searchID, errMsg string) error {
	row, ok := f.rows[searchID]
	if !ok {
		return repository.ErrNotFound
	}
	if row.Status.IsTerminal() {
		return repository.ErrStaleWrite
	}
	row.Status = models.SearchFailed
	row.Error = errMsg
	return nil
}

// fakeRecordStore tracks merchant-stage writes per record.
type fakeRecordStore struct {
	inProgress []string
	applied    map[string]recordApplyCall
}

type recordApplyCall struct {
	status models.StageStatus
	fields map[string]interface{}
	calls  int
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{applied: map[string]recordApplyCall{}}
}

func (f *fakeRecordStore) MarkStageInProgress(ctx context.Context, recordID, statusColumn string) error {
	f.inProgress = append(f.inProgress, recordID)
	return nil
}

func (f *fakeRecordStore) ApplyMerchantEnrichment(ctx context.Context, recordID string, status models.StageStatus, fields map[string]interface{}) error {
	call := f.applied[recordID]
	if call.calls > 0 {
		// Mirrors the repository's CAS: a record already in a terminal
		// merchant status rejects further writes.
		return repository.ErrStaleWrite
	}
	call.status = status
	call.fields = fields
	call.calls++
	f.applied[recordID] = call
	return nil
}

// fakeBatchStore counts merchant stage counter increments.
type fakeBatchStore struct {
	processed int
	succeeded int
}

func (f *fakeBatchStore) IncrementStageCounters(ctx context.Context, batchID, stagePrefix string, processedDelta, succeededDelta int) error {
	f.processed += processedDelta
	f.succeeded += succeededDelta
	return nil
}

// fakeWaiter never blocks.
type fakeWaiter struct{ calls int }

func (f *fakeWaiter) Wait(ctx context.Context) error {
	f.calls++
	return nil
}

// fakeEnricher is a scriptable capabilities.CardNetworkEnricher.
type fakeEnricher struct {
	submitID  string
	submitErr error

	results map[string]capabilities.BulkSearchResult
	fetchErr error
}

func (f *fakeEnricher) SubmitBulk(ctx context.Context, lookupType string, searches []capabilities.BulkSearchItem) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.submitID, nil
}

func (f *fakeEnricher) GetSearchResults(ctx context.Context, bulkSearchID string) (capabilities.BulkSearchResult, error) {
	if f.fetchErr != nil {
		return capabilities.BulkSearchResult{}, f.fetchErr
	}
	return f.results[bulkSearchID], nil
}

func newTestTracker(enricher capabilities.CardNetworkEnricher, searches *fakeSearchStore, records *fakeRecordStore, batches *fakeBatchStore) *Tracker {
	return newTracker(enricher, searches, records, batches, &fakeWaiter{}, logging.New("asynctracker-test"), Config{})
}

func TestSubmit_PersistsRequestAndMarksRecordsInProgress(t *testing.T) {
	enricher := &fakeEnricher{submitID: "search-1"}
	searches := newFakeSearchStore()
	records := newFakeRecordStore()
	batches := &fakeBatchStore{}
	tr := newTestTracker(enricher, searches, records, batches)

	mapping := models.SearchIDMapping{"corr-1": "rec-1", "corr-2": "rec-2"}
	err := tr.Submit(context.Background(), "batch-1", []capabilities.BulkSearchItem{}, mapping)
	require.NoError(t, err)

	row, err := searches.Get(context.Background(), "search-1")
	require.NoError(t, err)
	assert.Equal(t, models.SearchSubmitted, row.Status)
	assert.ElementsMatch(t, []string{"rec-1", "rec-2"}, records.inProgress)
}

func TestSubmit_AuthFailureFailsAllIncludedRecords(t *testing.T) {
	enricher := &fakeEnricher{submitErr: assertErr("401 unauthorized")}
	searches := newFakeSearchStore()
	records := newFakeRecordStore()
	batches := &fakeBatchStore{}
	tr := newTestTracker(enricher, searches, records, batches)

	mapping := models.SearchIDMapping{"corr-1": "rec-1"}
	err := tr.Submit(context.Background(), "batch-1", nil, mapping)
	require.Error(t, err)

	assert.Equal(t, models.StageFailed, records.applied["rec-1"].status)
	assert.Equal(t, 1, batches.processed)
	assert.Equal(t, 0, batches.succeeded)
}

func TestWebhookThenPoll_AppliesOnceEach(t *testing.T) {
	enricher := &fakeEnricher{
		submitID: "search-1",
		results: map[string]capabilities.BulkSearchResult{
			"search-1": {
				Status: capabilities.BulkSearchCompleted,
				Items: []capabilities.MerchantMatch{
					{CorrelationID: "corr-1", MatchStatus: models.MerchantMatchMatched, BusinessName: "Acme Inc"},
					{CorrelationID: "corr-2", MatchStatus: models.MerchantMatchMatched, BusinessName: "Widgets LLC"},
				},
			},
		},
	}
	searches := newFakeSearchStore()
	records := newFakeRecordStore()
	batches := &fakeBatchStore{}
	tr := newTestTracker(enricher, searches, records, batches)

	mapping := models.SearchIDMapping{"corr-1": "rec-1", "corr-2": "rec-2"}
	require.NoError(t, tr.Submit(context.Background(), "batch-1", nil, mapping))

	require.NoError(t, tr.HandleWebhookReady(context.Background(), "search-1"))

	row, err := searches.Get(context.Background(), "search-1")
	require.NoError(t, err)
	assert.Equal(t, models.SearchCompleted, row.Status)
	assert.Equal(t, 2, batches.processed)
	assert.Equal(t, 2, batches.succeeded)

	// Poller runs later and observes an already-terminal search: the
	// sweeper shouldn't even pick it up, and a direct re-Apply must be a
	// no-op per the CAS rule.
	pending, err := searches.PendingForPoll(context.Background(), time.Now().Add(time.Hour), 100)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, tr.Apply(context.Background(), "search-1", enricher.results["search-1"]))
	assert.Equal(t, 2, batches.processed, "re-apply after terminal must not double count")
}

func TestPollAfterWebhookLost_EventuallyResolves(t *testing.T) {
	enricher := &fakeEnricher{
		submitID: "search-1",
		results: map[string]capabilities.BulkSearchResult{
			"search-1": {Status: capabilities.BulkSearchInProgress},
		},
	}
	searches := newFakeSearchStore()
	records := newFakeRecordStore()
	batches := &fakeBatchStore{}
	tr := newTestTracker(enricher, searches, records, batches)

	mapping := models.SearchIDMapping{"corr-1": "rec-1"}
	require.NoError(t, tr.Submit(context.Background(), "batch-1", nil, mapping))

	require.NoError(t, tr.PollSweep(context.Background()))
	row, err := searches.Get(context.Background(), "search-1")
	require.NoError(t, err)
	assert.Equal(t, models.SearchPolling, row.Status)
	assert.Equal(t, 1, row.PollAttempts)
	assert.Empty(t, records.applied, "no records touched while still in progress")

	enricher.results["search-1"] = capabilities.BulkSearchResult{
		Status: capabilities.BulkSearchCompleted,
		Items:  []capabilities.MerchantMatch{{CorrelationID: "corr-1", MatchStatus: models.MerchantMatchMatched}},
	}
	// The next sweep runs once the poll backoff since the first attempt has elapsed.
	later := time.Now().Add(2 * time.Minute)
	timeNow = func() time.Time { return later }
	defer func() { timeNow = time.Now }()
	require.NoError(t, tr.PollSweep(context.Background()))

	row, err = searches.Get(context.Background(), "search-1")
	require.NoError(t, err)
	assert.Equal(t, models.SearchCompleted, row.Status)
	assert.True(t, row.PollAttempts > 0)
	assert.Equal(t, models.StageCompleted, records.applied["rec-1"].status)
}

func TestApply_NoMatchForAllEntries(t *testing.T) {
	enricher := &fakeEnricher{submitID: "search-1"}
	searches := newFakeSearchStore()
	records := newFakeRecordStore()
	batches := &fakeBatchStore{}
	tr := newTestTracker(enricher, searches, records, batches)

	mapping := models.SearchIDMapping{"corr-1": "rec-1", "corr-2": "rec-2"}
	require.NoError(t, tr.Submit(context.Background(), "batch-1", nil, mapping))

	result := capabilities.BulkSearchResult{Status: capabilities.BulkSearchNoMatch}
	require.NoError(t, tr.Apply(context.Background(), "search-1", result))

	assert.Equal(t, models.MerchantMatchNoMatch, records.applied["rec-1"].fields["merchant_match_status"])
	assert.Equal(t, models.MerchantMatchNoMatch, records.applied["rec-2"].fields["merchant_match_status"])
	assert.Equal(t, models.StageCompleted, records.applied["rec-1"].status)
	assert.Equal(t, 2, batches.processed)
	assert.Equal(t, 0, batches.succeeded)
}

func TestHandleWebhookCancelled_FailsIncludedRecords(t *testing.T) {
	enricher := &fakeEnricher{submitID: "search-1"}
	searches := newFakeSearchStore()
	records := newFakeRecordStore()
	batches := &fakeBatchStore{}
	tr := newTestTracker(enricher, searches, records, batches)

	mapping := models.SearchIDMapping{"corr-1": "rec-1"}
	require.NoError(t, tr.Submit(context.Background(), "batch-1", nil, mapping))

	require.NoError(t, tr.HandleWebhookCancelled(context.Background(), "search-1"))

	row, err := searches.Get(context.Background(), "search-1")
	require.NoError(t, err)
	assert.Equal(t, models.SearchCancelled, row.Status)
	assert.Equal(t, models.StageFailed, records.applied["rec-1"].status)
	assert.Equal(t, "cancelled", records.applied["rec-1"].fields["enrichment_error"])
}

func TestPollObservesCancelled_FailsIncludedRecords(t *testing.T) {
	enricher := &fakeEnricher{
		submitID: "search-1",
		results: map[string]capabilities.BulkSearchResult{
			"search-1": {Status: capabilities.BulkSearchCancelled},
		},
	}
	searches := newFakeSearchStore()
	records := newFakeRecordStore()
	batches := &fakeBatchStore{}
	tr := newTestTracker(enricher, searches, records, batches)

	mapping := models.SearchIDMapping{"corr-1": "rec-1"}
	require.NoError(t, tr.Submit(context.Background(), "batch-1", nil, mapping))

	require.NoError(t, tr.PollSweep(context.Background()))

	row, err := searches.Get(context.Background(), "search-1")
	require.NoError(t, err)
	assert.Equal(t, models.SearchCancelled, row.Status)
	assert.Equal(t, models.StageFailed, records.applied["rec-1"].status)
	assert.Equal(t, "cancelled", records.applied["rec-1"].fields["enrichment_error"])
}

func TestPollOne_UnknownSearchIDFailsTerminal(t *testing.T) {
	enricher := &fakeEnricher{submitID: "search-1", fetchErr: capabilities.ErrSearchNotFound}
	searches := newFakeSearchStore()
	records := newFakeRecordStore()
	batches := &fakeBatchStore{}
	tr := newTestTracker(enricher, searches, records, batches)

	mapping := models.SearchIDMapping{"corr-1": "rec-1"}
	require.NoError(t, tr.Submit(context.Background(), "batch-1", nil, mapping))

	require.NoError(t, tr.PollSweep(context.Background()))

	row, err := searches.Get(context.Background(), "search-1")
	require.NoError(t, err)
	assert.Equal(t, models.SearchFailed, row.Status)
	assert.Equal(t, models.StageFailed, records.applied["rec-1"].status)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

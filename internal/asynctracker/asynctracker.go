// Package asynctracker implements the async search tracker:
// submit/webhook-ingest/poll/apply for the card network's long-running
// bulk merchant search, replacing a monolithic worker that would otherwise
// block on a 25-minute search. Submission, webhook delivery, and the
// polling sweeper all funnel through the same idempotent Apply step, and
// every terminal write goes through the repository layer's
// compare-and-set so a webhook and a poll racing to resolve the same
// search are first-writer-wins.
package asynctracker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"iaros/payee-enrichment-engine/internal/capabilities"
	"iaros/payee-enrichment-engine/internal/logging"
	"iaros/payee-enrichment-engine/internal/metrics"
	"iaros/payee-enrichment-engine/internal/models"
	"iaros/payee-enrichment-engine/internal/ratelimit"
	"iaros/payee-enrichment-engine/internal/repository"
)

// Tracker coordinates submissions, webhook notifications, and the polling
// sweeper for the card-network collaborator.
type Tracker struct {
	enricher capabilities.CardNetworkEnricher
	searches searchStore
	records  recordStore
	batches  batchStore
	limiter  waiter
	logger   *logging.Logger

	// Metrics is optional; set by cmd/server before StartSweeper.
	Metrics *metrics.Registry

	pollInterval time.Duration
	pollBackoff  time.Duration
	cronRunner   *cron.Cron
}

// Config holds the sweeper's timing knobs, sourced from the
// merchant-poll-interval setting.
type Config struct {
	PollInterval time.Duration
	PollBackoff  time.Duration
}

func New(
	enricher capabilities.CardNetworkEnricher,
	searches *repository.AsyncSearchRepository,
	records *repository.RecordRepository,
	batches *repository.BatchRepository,
	limiter *ratelimit.Limiter,
	logger *logging.Logger,
	cfg Config,
) *Tracker {
	return newTracker(enricher, searches, records, batches, limiter, logger, cfg)
}

// newTracker builds a Tracker against the narrowed interfaces, used
// directly by tests to inject fakes in place of the gorm-backed
// repositories and the redis-backed limiter.
func newTracker(
	enricher capabilities.CardNetworkEnricher,
	searches searchStore,
	records recordStore,
	batches batchStore,
	limiter waiter,
	logger *logging.Logger,
	cfg Config,
) *Tracker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.PollBackoff <= 0 {
		cfg.PollBackoff = cfg.PollInterval
	}
	return &Tracker{
		enricher:     enricher,
		searches:     searches,
		records:      records,
		batches:      batches,
		limiter:      limiter,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		pollBackoff:  cfg.PollBackoff,
	}
}

// StartSweeper schedules PollSweep on a robfig/cron job at pollInterval.
// Poll attempts are not upper-bounded by default: retention is governed
// by the caller's cancellation policy, not by a retry ceiling.
func (t *Tracker) StartSweeper(ctx context.Context) error {
	t.cronRunner = cron.New()
	spec := fmt.Sprintf("@every %s", t.pollInterval)
	_, err := t.cronRunner.AddFunc(spec, func() {
		if err := t.PollSweep(ctx); err != nil {
			t.logger.Error("poll sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule poll sweeper: %w", err)
	}
	t.cronRunner.Start()
	return nil
}

func (t *Tracker) StopSweeper() {
	if t.cronRunner != nil {
		t.cronRunner.Stop()
	}
}

// Submit groups items into one bulk search, dispatches it to the card
// network, and persists the AsyncSearchRequest with status submitted.
// mapping must already be populated correlationID -> recordID before
// calling Submit: the mapping is persisted rather than rederived later.
func (t *Tracker) Submit(ctx context.Context, batchID string, items []capabilities.BulkSearchItem, mapping models.SearchIDMapping) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	start := timeNow()
	searchID, err := t.enricher.SubmitBulk(ctx, "name_address", items)
	t.observeCall("submit_bulk", start, err)
	if err != nil {
		return t.failSubmission(ctx, batchID, mapping, err)
	}

	req := &models.AsyncSearchRequest{
		SearchID:        searchID,
		BatchID:         batchID,
		Status:          models.SearchSubmitted,
		SearchIDMapping: mapping,
		SubmittedAt:     timeNow(),
	}
	if err := t.searches.Create(ctx, req); err != nil {
		return fmt.Errorf("persist async search request: %w", err)
	}

	for _, recordID := range mapping {
		if err := t.records.MarkStageInProgress(ctx, recordID, "merchant_status"); err != nil && err != repository.ErrStaleWrite {
			t.logger.Warn("mark merchant stage in_progress", zap.String("record_id", recordID), zap.Error(err))
		}
	}
	return nil
}

// failSubmission handles any SubmitBulk error (an authentication failure
// included): no AsyncSearchRequest is persisted, and every included
// record's merchant stage is marked failed with the error as its reason.
func (t *Tracker) failSubmission(ctx context.Context, batchID string, mapping models.SearchIDMapping, cause error) error {
	for _, recordID := range mapping {
		applyErr := t.records.ApplyMerchantEnrichment(ctx, recordID, models.StageFailed, map[string]interface{}{
			"enrichment_error": cause.Error(),
		})
		if applyErr != nil && applyErr != repository.ErrStaleWrite {
			t.logger.Error("apply submission failure", zap.String("record_id", recordID), zap.Error(applyErr))
			continue
		}
		if err := t.batches.IncrementStageCounters(ctx, batchID, "merchant", 1, 0); err != nil {
			t.logger.Error("increment merchant counters on submit failure", zap.Error(err))
		}
	}
	return fmt.Errorf("submit bulk search: %w", cause)
}

// HandleWebhookReady processes a BULK_SEARCH_RESULTS_READY event: mark the
// request webhook_received, fetch the full result set, then Apply it.
func (t *Tracker) HandleWebhookReady(ctx context.Context, searchID string) error {
	if err := t.searches.MarkWebhookReceived(ctx, searchID, ""); err != nil {
		if err == repository.ErrStaleWrite {
			return nil
		}
		return err
	}

	start := timeNow()
	result, err := t.enricher.GetSearchResults(ctx, searchID)
	t.observeCall("get_search_results", start, err)
	if err != nil {
		return t.handleFetchError(ctx, searchID, err)
	}
	return t.Apply(ctx, searchID, result)
}

// observeCall reports one card-network call's latency/outcome to metrics
// and the structured log.
func (t *Tracker) observeCall(operation string, start time.Time, err error) {
	if t.Metrics != nil {
		t.Metrics.ObserveCollaboratorCall("card_network", operation, start, err)
	}
	t.logger.ExternalCall("card_network", operation, timeNow().Sub(start), err == nil, err)
}

// HandleWebhookCancelled processes a BULK_SEARCH_CANCELLED event: the
// request terminates cancelled and every included record's merchant stage
// fails with reason cancelled.
func (t *Tracker) HandleWebhookCancelled(ctx context.Context, searchID string) error {
	return t.cancelSearch(ctx, searchID)
}

// cancelSearch is the shared cancel path for the webhook event and a poll
// observing a CANCELLED status.
func (t *Tracker) cancelSearch(ctx context.Context, searchID string) error {
	req, err := t.searches.Get(ctx, searchID)
	if err != nil {
		return err
	}

	if err := t.searches.ApplyResult(ctx, searchID, models.SearchCancelled, "", timeNow()); err != nil {
		if err == repository.ErrStaleWrite {
			return nil
		}
		return err
	}

	for _, recordID := range req.SearchIDMapping {
		applyErr := t.records.ApplyMerchantEnrichment(ctx, recordID, models.StageFailed, map[string]interface{}{
			"enrichment_error": "cancelled",
		})
		if applyErr != nil && applyErr != repository.ErrStaleWrite {
			t.logger.Error("apply cancellation", zap.String("record_id", recordID), zap.Error(applyErr))
			continue
		}
		if err := t.batches.IncrementStageCounters(ctx, req.BatchID, "merchant", 1, 0); err != nil {
			t.logger.Error("increment merchant counters on cancel", zap.Error(err))
		}
	}
	return nil
}

// PollSweep scans non-terminal requests and polls the collaborator's
// status endpoint for each, the fallback path when no webhook ever
// arrives.
func (t *Tracker) PollSweep(ctx context.Context) error {
	threshold := timeNow().Add(-t.pollBackoff)
	reqs, err := t.searches.PendingForPoll(ctx, threshold, 100)
	if err != nil {
		return fmt.Errorf("list pending searches: %w", err)
	}

	for _, req := range reqs {
		if err := t.pollOne(ctx, req); err != nil {
			t.logger.Error("poll one search", zap.String("search_id", req.SearchID), zap.Error(err))
		}
	}
	return nil
}

func (t *Tracker) pollOne(ctx context.Context, req models.AsyncSearchRequest) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := t.searches.RecordPollAttempt(ctx, req.SearchID, timeNow()); err != nil {
		return err
	}

	start := timeNow()
	result, err := t.enricher.GetSearchResults(ctx, req.SearchID)
	t.observeCall("get_search_results", start, err)
	if err != nil {
		return t.handleFetchError(ctx, req.SearchID, err)
	}

	if result.Status == capabilities.BulkSearchInProgress {
		// Network errors during poll increment pollAttempts and retry
		// later; no records are touched. An in-progress status is the
		// same: wait for the next sweep.
		return nil
	}
	return t.Apply(ctx, req.SearchID, result)
}

func (t *Tracker) handleFetchError(ctx context.Context, searchID string, err error) error {
	if err == capabilities.ErrSearchNotFound {
		return t.failSearch(ctx, searchID, "search id not found")
	}
	if capabilities.IsAuthError(err) {
		return t.failSearch(ctx, searchID, err.Error())
	}
	// Other network errors: leave the request non-terminal, the next sweep
	// retries.
	return err
}

func (t *Tracker) failSearch(ctx context.Context, searchID, reason string) error {
	req, err := t.searches.Get(ctx, searchID)
	if err != nil {
		return err
	}
	if err := t.searches.ApplyFailure(ctx, searchID, reason); err != nil {
		if err == repository.ErrStaleWrite {
			return nil
		}
		return err
	}
	for _, recordID := range req.SearchIDMapping {
		applyErr := t.records.ApplyMerchantEnrichment(ctx, recordID, models.StageFailed, map[string]interface{}{
			"enrichment_error": reason,
		})
		if applyErr != nil && applyErr != repository.ErrStaleWrite {
			t.logger.Error("apply search failure", zap.String("record_id", recordID), zap.Error(applyErr))
			continue
		}
		if err := t.batches.IncrementStageCounters(ctx, req.BatchID, "merchant", 1, 0); err != nil {
			t.logger.Error("increment merchant counters on search failure", zap.Error(err))
		}
	}
	return nil
}

// Apply is idempotent: it writes the AsyncSearchRequest's terminal status
// via CAS first, and only proceeds to the per-record writes if that CAS
// succeeded. A repeat application (webhook arrives after poll, or the
// reverse) therefore short-circuits as a no-op.
func (t *Tracker) Apply(ctx context.Context, searchID string, result capabilities.BulkSearchResult) error {
	if result.Status == capabilities.BulkSearchCancelled {
		return t.cancelSearch(ctx, searchID)
	}

	req, err := t.searches.Get(ctx, searchID)
	if err != nil {
		return err
	}

	terminalStatus := models.SearchCompleted
	if result.Status == capabilities.BulkSearchNoMatch {
		terminalStatus = models.SearchNoMatch
	}

	casErr := t.searches.ApplyResult(ctx, searchID, terminalStatus, "", timeNow())
	if casErr != nil {
		if casErr == repository.ErrStaleWrite {
			return nil
		}
		return casErr
	}

	matchedByCorrelation := make(map[string]capabilities.MerchantMatch, len(result.Items))
	for _, item := range result.Items {
		matchedByCorrelation[item.CorrelationID] = item
	}

	for correlationID, recordID := range req.SearchIDMapping {
		match, found := matchedByCorrelation[correlationID]
		if !found {
			if err := t.applyNoMatch(ctx, req.BatchID, recordID); err != nil {
				t.logger.Error("apply no-match", zap.String("record_id", recordID), zap.Error(err))
			}
			continue
		}
		if err := t.applyMatch(ctx, req.BatchID, recordID, match); err != nil {
			t.logger.Error("apply match", zap.String("record_id", recordID), zap.Error(err))
		}
	}
	return nil
}

func (t *Tracker) applyNoMatch(ctx context.Context, batchID, recordID string) error {
	err := t.records.ApplyMerchantEnrichment(ctx, recordID, models.StageCompleted, map[string]interface{}{
		"merchant_match_status": models.MerchantMatchNoMatch,
	})
	if err != nil && err != repository.ErrStaleWrite {
		return err
	}
	return t.batches.IncrementStageCounters(ctx, batchID, "merchant", 1, 0)
}

func (t *Tracker) applyMatch(ctx context.Context, batchID, recordID string, match capabilities.MerchantMatch) error {
	succeeded := 0
	status := match.MatchStatus
	if status == "" {
		status = models.MerchantMatchNoMatch
	}
	if status == models.MerchantMatchMatched {
		succeeded = 1
	}

	fields := map[string]interface{}{
		"merchant_match_status": status,
		"merchant_confidence":   match.Confidence,
		"business_name":         match.BusinessName,
		"tax_id":                match.TaxID,
		"merchant_ids":          match.MerchantIDs,
		"mcc":                   match.MCC,
		"mcc_group":             match.MCCGroup,
		"enriched_address":      match.EnrichedAddress,
		"transaction_recency":   match.TransactionRecency,
		"commercial_history":    match.CommercialHistory,
		"small_business":        match.SmallBusiness,
		"data_quality_level":    match.DataQualityLevel,
		"enrichment_date":       timeNow(),
	}
	if match.LastTransactionDate != nil {
		fields["last_transaction_date"] = match.LastTransactionDate
	}

	err := t.records.ApplyMerchantEnrichment(ctx, recordID, models.StageCompleted, fields)
	if err != nil && err != repository.ErrStaleWrite {
		return err
	}
	return t.batches.IncrementStageCounters(ctx, batchID, "merchant", 1, succeeded)
}

// timeNow is indirected through a var so tests can freeze time without
// reaching into the standard library's clock directly.
var timeNow = time.Now

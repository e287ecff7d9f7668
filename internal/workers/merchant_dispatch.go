package workers

import (
	"context"

	"github.com/google/uuid"

	"iaros/payee-enrichment-engine/internal/capabilities"
	"iaros/payee-enrichment-engine/internal/models"
)

// bulkSubmitter is the asynctracker.Tracker operation the dispatcher
// delegates to, narrowed so unit tests can observe submissions without a
// full tracker.
type bulkSubmitter interface {
	Submit(ctx context.Context, batchID string, items []capabilities.BulkSearchItem, mapping models.SearchIDMapping) error
}

// MerchantDispatcher implements the merchant-enrich worker.
// Unlike the other four stage workers it has no per-record Process
// function: it groups up to maxRecordsPerSearch pending records into one
// submission and delegates completion entirely to the Async Search
// Tracker, so it is driven directly by the Pipeline Orchestrator rather
// than subscribed to a per-record queue subject.
type MerchantDispatcher struct {
	tracker             bulkSubmitter
	maxRecordsPerSearch int
}

func NewMerchantDispatcher(tracker bulkSubmitter, maxRecordsPerSearch int) *MerchantDispatcher {
	if maxRecordsPerSearch <= 0 {
		maxRecordsPerSearch = 3000
	}
	return &MerchantDispatcher{tracker: tracker, maxRecordsPerSearch: maxRecordsPerSearch}
}

// DispatchBatch splits pending into sub-batches of at most
// maxRecordsPerSearch and submits each as one bulk search: a sub-batch of
// exactly maxRecordsPerSearch submits whole, one record more spills into a
// second sub-batch.
func (d *MerchantDispatcher) DispatchBatch(ctx context.Context, batchID string, pending []models.Record) error {
	for start := 0; start < len(pending); start += d.maxRecordsPerSearch {
		end := start + d.maxRecordsPerSearch
		if end > len(pending) {
			end = len(pending)
		}
		if err := d.dispatchSubBatch(ctx, batchID, pending[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (d *MerchantDispatcher) dispatchSubBatch(ctx context.Context, batchID string, records []models.Record) error {
	items := make([]capabilities.BulkSearchItem, 0, len(records))
	mapping := make(models.SearchIDMapping, len(records))

	for _, rec := range records {
		correlationID := uuid.NewString()
		items = append(items, capabilities.BulkSearchItem{
			CorrelationID: correlationID,
			Name:          rec.CleanedName,
			Address:       rec.Address,
			City:          rec.City,
			State:         rec.State,
			PostalCode:    rec.PostalCode,
		})
		mapping[correlationID] = rec.ID
	}

	return d.tracker.Submit(ctx, batchID, items, mapping)
}

package workers

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iaros/payee-enrichment-engine/internal/capabilities"
	"iaros/payee-enrichment-engine/internal/models"
)

type fakeSubmitter struct {
	submissions [][]capabilities.BulkSearchItem
	mappings    []models.SearchIDMapping
}

func (f *fakeSubmitter) Submit(ctx context.Context, batchID string, items []capabilities.BulkSearchItem, mapping models.SearchIDMapping) error {
	f.submissions = append(f.submissions, items)
	f.mappings = append(f.mappings, mapping)
	return nil
}

func pendingRecords(n int) []models.Record {
	records := make([]models.Record, n)
	for i := range records {
		records[i] = models.Record{ID: fmt.Sprintf("rec-%d", i), BatchID: "b1", CleanedName: fmt.Sprintf("payee %d", i)}
	}
	return records
}

func TestDispatchBatch_ExactlyMaxSubmitsWhole(t *testing.T) {
	submitter := &fakeSubmitter{}
	d := NewMerchantDispatcher(submitter, 10)

	err := d.DispatchBatch(context.Background(), "b1", pendingRecords(10))
	require.NoError(t, err)

	require.Len(t, submitter.submissions, 1)
	assert.Len(t, submitter.submissions[0], 10)
}

func TestDispatchBatch_OneOverMaxSplits(t *testing.T) {
	submitter := &fakeSubmitter{}
	d := NewMerchantDispatcher(submitter, 10)

	err := d.DispatchBatch(context.Background(), "b1", pendingRecords(11))
	require.NoError(t, err)

	require.Len(t, submitter.submissions, 2)
	assert.Len(t, submitter.submissions[0], 10)
	assert.Len(t, submitter.submissions[1], 1)
}

func TestDispatchBatch_MappingCoversEveryRecordExactlyOnce(t *testing.T) {
	submitter := &fakeSubmitter{}
	d := NewMerchantDispatcher(submitter, 100)

	records := pendingRecords(5)
	require.NoError(t, d.DispatchBatch(context.Background(), "b1", records))

	require.Len(t, submitter.mappings, 1)
	mapping := submitter.mappings[0]
	assert.Len(t, mapping, 5)

	mapped := map[string]bool{}
	for correlationID, recordID := range mapping {
		assert.NotEmpty(t, correlationID)
		mapped[recordID] = true
	}
	for _, rec := range records {
		assert.True(t, mapped[rec.ID], "record %s missing from correlation mapping", rec.ID)
	}
}

func TestDispatchBatch_ItemsCarryAddressFields(t *testing.T) {
	submitter := &fakeSubmitter{}
	d := NewMerchantDispatcher(submitter, 100)

	rec := models.Record{
		ID: "rec-1", BatchID: "b1", CleanedName: "acme widgets",
		Address: "1 Main St", City: "Springfield", State: "IL", PostalCode: "62701",
	}
	require.NoError(t, d.DispatchBatch(context.Background(), "b1", []models.Record{rec}))

	require.Len(t, submitter.submissions, 1)
	item := submitter.submissions[0][0]
	assert.Equal(t, "acme widgets", item.Name)
	assert.Equal(t, "1 Main St", item.Address)
	assert.Equal(t, "Springfield", item.City)
	assert.Equal(t, "IL", item.State)
	assert.Equal(t, "62701", item.PostalCode)
}

package workers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iaros/payee-enrichment-engine/internal/capabilities"
	"iaros/payee-enrichment-engine/internal/models"
)

type fakeSupplierSource struct {
	suppliers []models.KnownSupplier
}

func (f *fakeSupplierSource) Candidates(ctx context.Context, normalizedName string, candidateLen, limit int) ([]models.KnownSupplier, error) {
	return f.suppliers, nil
}

func TestProcessSupplierMatch_PersistsBestMatch(t *testing.T) {
	matcher := capabilities.NewSupplierMatcher(&fakeSupplierSource{suppliers: []models.KnownSupplier{
		{SupplierID: "s1", Name: "Acme Widgets", NormalizedName: "acme widgets"},
	}})
	records := &fakeRecordWriter{}
	batches := &fakeCounterWriter{}

	rec := &models.Record{ID: "r1", BatchID: "b1", CleanedName: "acme widgets"}
	err := processSupplierMatch(context.Background(), matcher, records, batches, rec)
	require.NoError(t, err)

	require.Len(t, records.supplierMatches, 1)
	assert.Equal(t, models.StageCompleted, records.supplierMatches[0].status)
	assert.Equal(t, "s1", records.supplierMatches[0].fields["supplier_id"])
	assert.Equal(t, []string{"finexio"}, batches.increments)
}

func TestProcessSupplierMatch_NoCandidateStillCompletesWithoutSucceeding(t *testing.T) {
	matcher := capabilities.NewSupplierMatcher(&fakeSupplierSource{})
	records := &fakeRecordWriter{}
	batches := &fakeCounterWriter{}

	rec := &models.Record{ID: "r1", BatchID: "b1", CleanedName: "totally unrelated"}
	err := processSupplierMatch(context.Background(), matcher, records, batches, rec)
	require.NoError(t, err)

	require.Len(t, records.supplierMatches, 1)
	assert.Equal(t, models.StageCompleted, records.supplierMatches[0].status)
	assert.NotContains(t, records.supplierMatches[0].fields, "supplier_id")
}

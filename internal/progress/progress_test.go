package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"iaros/payee-enrichment-engine/internal/models"
)

func TestProject_ClassificationInProgress(t *testing.T) {
	b := &models.Batch{
		Classification: models.StageCounters{Total: 100, Processed: 40},
	}
	snap := Project(b)
	assert.Equal(t, "Classification", snap.PhaseLabel)
	assert.InDelta(t, 10.0, snap.OverallPercent, 0.001)
	assert.False(t, snap.Indeterminate)
}

func TestProject_IndeterminateStreamingUpload(t *testing.T) {
	b := &models.Batch{
		Classification: models.StageCounters{Total: 0, Processed: 12},
	}
	snap := Project(b)
	assert.True(t, snap.Indeterminate)
	assert.Equal(t, "Classification", snap.PhaseLabel)
}

func TestProject_EnrichmentInProgress_HalfShareForActiveStage(t *testing.T) {
	b := &models.Batch{
		Classification: models.StageCounters{Total: 10, Processed: 10},
		EnabledStages: models.StageSelection{
			SupplierMatch:   true,
			AddressValidate: true,
		},
		Finexio: models.StageCounters{Total: 10, Processed: 10, Succeeded: 10}, // completed
		Address: models.StageCounters{Total: 10, Processed: 5},                // half done
	}
	snap := Project(b)
	// 25 (classification) + 37.5 (supplier complete) + 18.75 (address half of 37.5) = 81.25
	assert.InDelta(t, 81.25, snap.OverallPercent, 0.001)
	assert.Equal(t, "Address validation", snap.PhaseLabel)
}

func TestProject_AllEnrichmentDone(t *testing.T) {
	b := &models.Batch{
		Classification: models.StageCounters{Total: 10, Processed: 10},
		EnabledStages:  models.StageSelection{SupplierMatch: true},
		Finexio:        models.StageCounters{Total: 10, Processed: 10},
	}
	snap := Project(b)
	assert.InDelta(t, 100.0, snap.OverallPercent, 0.001)
	assert.Equal(t, "Completing enrichment", snap.PhaseLabel)
}

func TestProject_NoEnrichmentStagesEnabled(t *testing.T) {
	b := &models.Batch{
		Classification: models.StageCounters{Total: 10, Processed: 10},
	}
	snap := Project(b)
	assert.Equal(t, 100.0, snap.OverallPercent)
	assert.Equal(t, "Completed", snap.PhaseLabel)
}

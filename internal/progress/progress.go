// Package progress derives the read-only {overallPercent, phaseLabel}
// projection for a Batch, a pure function over the Batch's stage
// counters.
package progress

import "iaros/payee-enrichment-engine/internal/models"

// Snapshot is the projected progress for a Batch.
type Snapshot struct {
	OverallPercent float64 `json:"overallPercent"`
	PhaseLabel     string  `json:"phaseLabel"`
	Indeterminate  bool    `json:"indeterminate,omitempty"`
}

// enrichmentStage names one of the four enrichment stages in display order,
// paired with the StageCounters accessor and whether the batch enabled it.
type enrichmentStage struct {
	label    string
	enabled  bool
	counters models.StageCounters
}

// Project computes the progress snapshot for b.
func Project(b *models.Batch) Snapshot {
	if b.Classification.Total == 0 && b.Classification.Processed > 0 {
		return Snapshot{Indeterminate: true, PhaseLabel: "Classification"}
	}

	if b.Classification.Total > 0 && b.Classification.Processed < b.Classification.Total {
		percent := float64(b.Classification.Processed) / float64(b.Classification.Total) * 25.0
		return Snapshot{OverallPercent: percent, PhaseLabel: "Classification"}
	}

	stages := []enrichmentStage{
		{"Supplier match", b.EnabledStages.SupplierMatch, b.Finexio},
		{"Address validation", b.EnabledStages.AddressValidate, b.Address},
		{"Merchant enrichment", b.EnabledStages.MerchantEnrich, b.Merchant},
		{"Prediction", b.EnabledStages.Predict, b.Prediction},
	}

	enabled := make([]enrichmentStage, 0, len(stages))
	for _, s := range stages {
		if s.enabled {
			enabled = append(enabled, s)
		}
	}

	if len(enabled) == 0 {
		return Snapshot{OverallPercent: 100, PhaseLabel: "Completed"}
	}

	share := 75.0 / float64(len(enabled))
	percent := 25.0
	activePhase := ""

	for _, s := range enabled {
		switch {
		case s.counters.Total > 0 && s.counters.Processed >= s.counters.Total:
			percent += share
		case s.counters.Processed > 0:
			percent += share / 2
			if activePhase == "" {
				activePhase = s.label
			}
		}
	}

	if activePhase == "" {
		activePhase = "Completing enrichment"
	}

	return Snapshot{OverallPercent: percent, PhaseLabel: activePhase}
}

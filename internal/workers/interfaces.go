package workers

import (
	"context"

	"iaros/payee-enrichment-engine/internal/models"
)

// recordWriter is the subset of repository.RecordRepository each stage
// worker uses to apply its result, narrowed to an interface so unit tests
// can exercise the processXxx functions against a fake without a database.
type recordWriter interface {
	ApplyClassification(ctx context.Context, recordID string, status models.StageStatus, fields map[string]interface{}) error
	ApplySupplierMatch(ctx context.Context, recordID string, status models.StageStatus, fields map[string]interface{}) error
	ApplyAddressValidation(ctx context.Context, recordID string, status models.StageStatus, fields map[string]interface{}) error
	ApplyPrediction(ctx context.Context, recordID string, status models.StageStatus, fields map[string]interface{}) error
	ApplyExclusion(ctx context.Context, recordID, keyword string) error
	SkipPendingStages(ctx context.Context, recordID string) error
}

// counterWriter is the subset of repository.BatchRepository used to
// maintain per-stage counters as stages terminate.
type counterWriter interface {
	IncrementStageCounters(ctx context.Context, batchID, stagePrefix string, processedDelta, succeededDelta int) error
}

// keywordTester is the subset of *exclusion.Filter the classify worker
// calls post-classification, narrowed to an interface so unit tests can
// supply a fake without constructing a go-cache-backed Filter.
type keywordTester interface {
	Test(ctx context.Context, name string) (string, error)
}

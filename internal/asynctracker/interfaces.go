package asynctracker

import (
	"context"
	"time"

	"iaros/payee-enrichment-engine/internal/models"
)

// searchStore is the subset of *repository.AsyncSearchRepository the
// tracker drives, narrowed to an interface so unit tests can exercise the
// submit/webhook/poll/apply state machine against a fake without a
// database.
type searchStore interface {
	Create(ctx context.Context, req *models.AsyncSearchRequest) error
	Get(ctx context.Context, searchID string) (*models.AsyncSearchRequest, error)
	PendingForPoll(ctx context.Context, olderThan time.Time, limit int) ([]models.AsyncSearchRequest, error)
	MarkWebhookReceived(ctx context.Context, searchID, responsePayload string) error
	RecordPollAttempt(ctx context.Context, searchID string, polledAt time.Time) error
	ApplyResult(ctx context.Context, searchID string, status models.AsyncSearchStatus, responsePayload string, completedAt time.Time) error
	ApplyFailure(ctx context.Context, searchID, errMsg string) error
}

// recordStore is the subset of *repository.RecordRepository the tracker
// writes merchant-enrichment results through.
type recordStore interface {
	MarkStageInProgress(ctx context.Context, recordID, statusColumn string) error
	ApplyMerchantEnrichment(ctx context.Context, recordID string, status models.StageStatus, fields map[string]interface{}) error
}

// batchStore is the subset of *repository.BatchRepository used to maintain
// the merchant stage's per-batch counters.
type batchStore interface {
	IncrementStageCounters(ctx context.Context, batchID, stagePrefix string, processedDelta, succeededDelta int) error
}

// waiter is the subset of *ratelimit.Limiter the tracker blocks on before
// every outbound submit/poll call.
type waiter interface {
	Wait(ctx context.Context) error
}

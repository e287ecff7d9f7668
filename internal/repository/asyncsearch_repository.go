package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"iaros/payee-enrichment-engine/internal/models"
)

// AsyncSearchRepository persists the async search tracker's per-submission
// rows and enforces the same write-once-terminal invariant as
// RecordRepository, here guarding against the webhook delivery and the
// polling sweeper racing to apply the same result first-writer-wins.
type AsyncSearchRepository struct {
	db *gorm.DB
}

func NewAsyncSearchRepository(db *gorm.DB) *AsyncSearchRepository {
	return &AsyncSearchRepository{db: db}
}

var nonTerminalSearchStatuses = []models.AsyncSearchStatus{
	models.SearchSubmitted,
	models.SearchPolling,
	models.SearchWebhookReceived,
}

func (r *AsyncSearchRepository) Create(ctx context.Context, req *models.AsyncSearchRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *AsyncSearchRepository) Get(ctx context.Context, searchID string) (*models.AsyncSearchRequest, error) {
	var req models.AsyncSearchRequest
	err := r.db.WithContext(ctx).First(&req, "search_id = ?", searchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// PendingForPoll returns non-terminal submissions the cron sweeper should
// poll, oldest first, skipping anything polled within the backoff window.
func (r *AsyncSearchRepository) PendingForPoll(ctx context.Context, olderThan time.Time, limit int) ([]models.AsyncSearchRequest, error) {
	var reqs []models.AsyncSearchRequest
	err := r.db.WithContext(ctx).
		Where("status IN ? AND (last_polled_at IS NULL OR last_polled_at < ?)", nonTerminalSearchStatuses, olderThan).
		Order("submitted_at ASC").
		Limit(limit).
		Find(&reqs).Error
	return reqs, err
}

// MarkWebhookReceived moves a non-terminal submission to webhook_received,
// recording the raw payload ahead of the background apply step so the
// HTTP handler can respond immediately.
func (r *AsyncSearchRepository) MarkWebhookReceived(ctx context.Context, searchID, responsePayload string) error {
	res := r.db.WithContext(ctx).Model(&models.AsyncSearchRequest{}).
		Where("search_id = ? AND status IN ?", searchID, nonTerminalSearchStatuses).
		Updates(map[string]interface{}{
			"status":           models.SearchWebhookReceived,
			"response_payload": responsePayload,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (r *AsyncSearchRepository) RecordPollAttempt(ctx context.Context, searchID string, polledAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.AsyncSearchRequest{}).
		Where("search_id = ? AND status IN ?", searchID, nonTerminalSearchStatuses).
		Updates(map[string]interface{}{
			"status":         models.SearchPolling,
			"poll_attempts":  gorm.Expr("poll_attempts + 1"),
			"last_polled_at": polledAt,
		})
	return res.Error
}

// ApplyResult writes the terminal outcome, rejecting the write with
// ErrStaleWrite if another writer (webhook vs. poll sweeper) already
// terminated this submission.
func (r *AsyncSearchRepository) ApplyResult(ctx context.Context, searchID string, status models.AsyncSearchStatus, responsePayload string, completedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.AsyncSearchRequest{}).
		Where("search_id = ? AND status IN ?", searchID, nonTerminalSearchStatuses).
		Updates(map[string]interface{}{
			"status":           status,
			"response_payload": responsePayload,
			"completed_at":     completedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

// CancelPendingForBatch marks every non-terminal submission belonging to
// batchID cancelled, used when a batch is cancelled mid-flight: future
// polling and webhook applies for these searchIds become no-ops because
// their status is no longer in nonTerminalSearchStatuses.
func (r *AsyncSearchRepository) CancelPendingForBatch(ctx context.Context, batchID string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.AsyncSearchRequest{}).
		Where("batch_id = ? AND status IN ?", batchID, nonTerminalSearchStatuses).
		Updates(map[string]interface{}{
			"status": models.SearchCancelled,
		})
	return res.RowsAffected, res.Error
}

func (r *AsyncSearchRepository) ApplyFailure(ctx context.Context, searchID, errMsg string) error {
	res := r.db.WithContext(ctx).Model(&models.AsyncSearchRequest{}).
		Where("search_id = ? AND status IN ?", searchID, nonTerminalSearchStatuses).
		Updates(map[string]interface{}{
			"status": models.SearchFailed,
			"error":  errMsg,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

// WebhookRepository persists raw inbound webhook deliveries for dedup and
// audit.
type WebhookRepository struct {
	db *gorm.DB
}

func NewWebhookRepository(db *gorm.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

// Insert records an event, returning false without error if eventId has
// already been seen (idempotent ingest).
func (r *WebhookRepository) Insert(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	res := r.db.WithContext(ctx).Create(event)
	if res.Error != nil {
		if isDuplicateKeyError(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return true, nil
}

func (r *WebhookRepository) MarkProcessed(ctx context.Context, eventID string, processedAt time.Time, errMsg string) error {
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"processed":     true,
			"processed_at":  processedAt,
			"error_message": errMsg,
		}).Error
}

// isDuplicateKeyError recognizes Postgres' unique_violation without
// importing the pq/pgx driver types directly, matching the SQLSTATE text
// gorm surfaces through its generic error wrapping.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "23505")
}

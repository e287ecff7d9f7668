package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"iaros/payee-enrichment-engine/internal/models"
)

// RecordRepository persists Record rows and enforces the write-once-terminal
// invariant: a stage's result fields may only be written while that stage's
// status is still pending or in_progress.
type RecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) CreateBatch(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(records, 500).Error
}

func (r *RecordRepository) Get(ctx context.Context, id string) (*models.Record, error) {
	var rec models.Record
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RecordRepository) ListByBatch(ctx context.Context, batchID string, offset, limit int) ([]models.Record, int64, error) {
	var records []models.Record
	var total int64
	q := r.db.WithContext(ctx).Model(&models.Record{}).Where("batch_id = ?", batchID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).
		Order("created_at ASC").
		Offset(offset).Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListPendingForStage returns up to limit of batchID's records whose
// statusColumn is still pending. The orchestrator's dispatch uses
// ListReadyForStage instead; stage workers receive their records as
// queue jobs.
func (r *RecordRepository) ListPendingForStage(ctx context.Context, batchID, statusColumn string, limit int) ([]models.Record, error) {
	var records []models.Record
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND "+statusColumn+" = ?", batchID, models.StagePending).
		Limit(limit).
		Find(&records).Error
	return records, err
}

// terminalStageStatuses lists every status a per-record stage column can
// settle into that admits no further writes.
var terminalStageStatuses = []models.StageStatus{
	models.StageCompleted, models.StageFailed, models.StageSkipped, models.StageCancelled,
}

// ListReadyForStage returns records ready for the next stage's dispatch:
// classification already completed for that record, not excluded, the
// target stage's own column still pending, and every column in
// gatingColumns already terminal. The orchestrator uses this for per-record
// handoff between stages instead of waiting for an entire batch's
// classification pass to finish before dispatching anything downstream.
func (r *RecordRepository) ListReadyForStage(ctx context.Context, batchID, targetColumn string, gatingColumns []string, limit int) ([]models.Record, error) {
	q := r.db.WithContext(ctx).
		Where("batch_id = ? AND classification_status = ? AND "+targetColumn+" = ? AND is_excluded = ?",
			batchID, models.StageCompleted, models.StagePending, false)
	for _, col := range gatingColumns {
		q = q.Where(col+" IN ?", terminalStageStatuses)
	}
	var records []models.Record
	err := q.Limit(limit).Find(&records).Error
	return records, err
}

// CountStageStatuses reports how many of batchID's records have reached a
// terminal status in statusColumn, and how many of those terminated
// failed. The orchestrator's sweep reconciles the batch's per-stage
// processed counters from these counts, so stages that skip or cancel
// records without passing through a worker still close out.
func (r *RecordRepository) CountStageStatuses(ctx context.Context, batchID, statusColumn string) (terminal, failed int64, err error) {
	if err = r.db.WithContext(ctx).Model(&models.Record{}).
		Where("batch_id = ? AND "+statusColumn+" IN ?", batchID, terminalStageStatuses).
		Count(&terminal).Error; err != nil {
		return 0, 0, err
	}
	if err = r.db.WithContext(ctx).Model(&models.Record{}).
		Where("batch_id = ? AND "+statusColumn+" = ?", batchID, models.StageFailed).
		Count(&failed).Error; err != nil {
		return 0, 0, err
	}
	return terminal, failed, nil
}

// CountExcluded reports how many of batchID's records the keyword filter
// excluded, the source of the batch's skippedRecords counter.
func (r *RecordRepository) CountExcluded(ctx context.Context, batchID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Record{}).
		Where("batch_id = ? AND is_excluded = ?", batchID, true).
		Count(&count).Error
	return count, err
}

// applyStageResult is the shared CAS primitive: it writes updates only if
// the row's current value in statusColumn is one of the allowed
// pre-terminal statuses, then sets statusColumn to newStatus as part of the
// same statement. ErrStaleWrite signals a lost race against a prior
// terminal write (e.g. a cancelled batch, or a duplicate webhook delivery).
func (r *RecordRepository) applyStageResult(ctx context.Context, recordID, statusColumn string, newStatus models.StageStatus, updates map[string]interface{}) error {
	updates[statusColumn] = newStatus
	res := r.db.WithContext(ctx).Model(&models.Record{}).
		Where("id = ? AND "+statusColumn+" IN ?", recordID, []models.StageStatus{models.StagePending, models.StageInProgress}).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

// MarkStageInProgress flips a stage's status to in_progress just before
// dispatch, so a concurrent cancellation sees in_progress rather than
// pending and can still race-detect correctly against the eventual
// completion write.
func (r *RecordRepository) MarkStageInProgress(ctx context.Context, recordID, statusColumn string) error {
	res := r.db.WithContext(ctx).Model(&models.Record{}).
		Where("id = ? AND "+statusColumn+" = ?", recordID, models.StagePending).
		Update(statusColumn, models.StageInProgress)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (r *RecordRepository) ApplyClassification(ctx context.Context, recordID string, status models.StageStatus, fields map[string]interface{}) error {
	return r.applyStageResult(ctx, recordID, "classification_status", status, fields)
}

func (r *RecordRepository) ApplySupplierMatch(ctx context.Context, recordID string, status models.StageStatus, fields map[string]interface{}) error {
	return r.applyStageResult(ctx, recordID, "supplier_match_status", status, fields)
}

func (r *RecordRepository) ApplyAddressValidation(ctx context.Context, recordID string, status models.StageStatus, fields map[string]interface{}) error {
	return r.applyStageResult(ctx, recordID, "address_status", status, fields)
}

// ApplyMerchantEnrichment is shared by the synchronous single-lookup path
// and the async webhook/poll-sweep path — both funnel through the same
// CAS write so whichever writer arrives first wins and the other's write
// is rejected with ErrStaleWrite.
func (r *RecordRepository) ApplyMerchantEnrichment(ctx context.Context, recordID string, status models.StageStatus, fields map[string]interface{}) error {
	return r.applyStageResult(ctx, recordID, "merchant_status", status, fields)
}

func (r *RecordRepository) ApplyPrediction(ctx context.Context, recordID string, status models.StageStatus, fields map[string]interface{}) error {
	return r.applyStageResult(ctx, recordID, "prediction_status", status, fields)
}

// enrichmentColumns are the four post-classification status columns.
var enrichmentColumns = []string{"supplier_match_status", "address_status", "merchant_status", "prediction_status"}

// ApplyExclusion marks a record excluded at classification-completion time
// and skips any stage whose statusColumn is still pending; already-
// dispatched stages keep running to completion.
func (r *RecordRepository) ApplyExclusion(ctx context.Context, recordID, keyword string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Record{}).Where("id = ?", recordID).
			Updates(map[string]interface{}{
				"is_excluded":       true,
				"exclusion_keyword": keyword,
			}).Error; err != nil {
			return err
		}
		return skipPending(tx, recordID)
	})
}

// SkipPendingStages flips every still-pending enrichment stage for a
// record to skipped, used when classification terminates failed: the
// downstream stages have no classified input to run on and would
// otherwise hold the batch open.
func (r *RecordRepository) SkipPendingStages(ctx context.Context, recordID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return skipPending(tx, recordID)
	})
}

func skipPending(tx *gorm.DB, recordID string) error {
	for _, col := range enrichmentColumns {
		if err := tx.Model(&models.Record{}).
			Where("id = ? AND "+col+" = ?", recordID, models.StagePending).
			Update(col, models.StageSkipped).Error; err != nil {
			return err
		}
	}
	return nil
}

// stageColumns lists every per-record status column the orchestrator
// coordinates, in dispatch order.
var stageColumns = []string{
	"classification_status",
	"supplier_match_status",
	"address_status",
	"merchant_status",
	"prediction_status",
}

// CancelPendingForBatch flips every non-terminal stage column for batchID's
// records to cancelled, the per-record half of a batch cancel;
// AsyncSearchRepository.CancelPendingForBatch covers the async search
// tracker's half of the same cancel.
func (r *RecordRepository) CancelPendingForBatch(ctx context.Context, batchID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, col := range stageColumns {
			if err := tx.Model(&models.Record{}).
				Where("batch_id = ? AND "+col+" IN ?", batchID, []models.StageStatus{models.StagePending, models.StageInProgress}).
				Update(col, models.StageCancelled).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

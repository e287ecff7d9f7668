// Package repository wraps the record store's gorm handle with the
// transactional and compare-and-set semantics the pipeline's write-once
// invariants require.
package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"iaros/payee-enrichment-engine/internal/models"
)

// ErrNotFound is returned when a lookup by primary key matches no row.
var ErrNotFound = errors.New("repository: not found")

// ErrStaleWrite is returned when a CAS write loses because the row had
// already reached a terminal status (invariant: once terminal, a stage's
// fields never change again).
var ErrStaleWrite = errors.New("repository: row already terminal")

// BatchRepository persists Batch aggregates.
type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) Create(ctx context.Context, b *models.Batch) error {
	return r.db.WithContext(ctx).Create(b).Error
}

func (r *BatchRepository) Get(ctx context.Context, id string) (*models.Batch, error) {
	var b models.Batch
	err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BatchRepository) List(ctx context.Context, offset, limit int) ([]models.Batch, int64, error) {
	var batches []models.Batch
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Batch{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&batches).Error
	if err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// UpdateStatus transitions the batch's overall status unconditionally; used
// by the orchestrator for pending->processing->enriching->completed
// progression, which is single-writer (only the orchestrator mutates it).
func (r *BatchRepository) UpdateStatus(ctx context.Context, id string, status models.BatchStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementStageCounters bumps a stage's processed/succeeded counters by
// delta amounts inside a single UPDATE, avoiding read-modify-write races
// between concurrent stage workers reporting completions for the same
// batch.
func (r *BatchRepository) IncrementStageCounters(ctx context.Context, batchID, stagePrefix string, processedDelta, succeededDelta int) error {
	processedCol := fmt.Sprintf("%s_processed", stagePrefix)
	succeededCol := fmt.Sprintf("%s_succeeded", stagePrefix)
	res := r.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ?", batchID).
		Updates(map[string]interface{}{
			processedCol: gorm.Expr(processedCol+" + ?", processedDelta),
			succeededCol: gorm.Expr(succeededCol+" + ?", succeededDelta),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStageStatus sets a stage's overall status on the batch (e.g. to
// "completed" once every record's counter is terminal).
func (r *BatchRepository) SetStageStatus(ctx context.Context, batchID, stagePrefix string, status models.StageStatus) error {
	col := fmt.Sprintf("%s_status", stagePrefix)
	res := r.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ?", batchID).
		Update(col, status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStageProcessed overwrites a stage's processed counter with the
// record-level terminal count, the sweep's reconciliation against worker
// increments that never happened (skipped or cancelled records).
func (r *BatchRepository) SetStageProcessed(ctx context.Context, batchID, stagePrefix string, processed int) error {
	col := fmt.Sprintf("%s_processed", stagePrefix)
	return r.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ?", batchID).
		Update(col, processed).Error
}

// SetBatchProgress syncs the batch-level processedRecords and
// skippedRecords counters.
func (r *BatchRepository) SetBatchProgress(ctx context.Context, batchID string, processed, skipped int) error {
	return r.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ?", batchID).
		Updates(map[string]interface{}{
			"processed_records": processed,
			"skipped_records":   skipped,
		}).Error
}

func (r *BatchRepository) SetStageTotal(ctx context.Context, batchID, stagePrefix string, total int) error {
	col := fmt.Sprintf("%s_total", stagePrefix)
	return r.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ?", batchID).
		Update(col, total).Error
}

func (r *BatchRepository) MarkCompleted(ctx context.Context, id string, completedAt interface{}) error {
	return r.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       models.BatchCompleted,
			"completed_at": completedAt,
		}).Error
}

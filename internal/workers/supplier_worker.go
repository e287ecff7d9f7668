package workers

import (
	"context"

	"iaros/payee-enrichment-engine/internal/apierrors"
	"iaros/payee-enrichment-engine/internal/capabilities"
	"iaros/payee-enrichment-engine/internal/logging"
	"iaros/payee-enrichment-engine/internal/models"
	"iaros/payee-enrichment-engine/internal/queue"
	"iaros/payee-enrichment-engine/internal/ratelimit"
	"iaros/payee-enrichment-engine/internal/repository"
	"iaros/payee-enrichment-engine/internal/retry"
)

// NewSupplierMatchWorker builds the supplier-match stage worker.
func NewSupplierMatchWorker(
	pool *Pool,
	limiter *ratelimit.Limiter,
	matcher *capabilities.SupplierMatcher,
	records *repository.RecordRepository,
	batches *repository.BatchRepository,
	logger *logging.Logger,
	errHandler *apierrors.Handler,
) *StageWorker {
	w := &StageWorker{
		Stage:       queue.StageSupplierMatch,
		Pool:        pool,
		Limiter:     limiter,
		RetryPolicy: retry.Default(),
		Records:     records,
		Batches:     batches,
		Logger:      logger,
		ErrHandler:  errHandler,
	}
	w.Process = func(ctx context.Context, rec *models.Record) error {
		return processSupplierMatch(ctx, matcher, records, batches, rec)
	}
	return w
}

func processSupplierMatch(ctx context.Context, matcher *capabilities.SupplierMatcher, records recordWriter, batches counterWriter, rec *models.Record) error {
	result, err := matcher.Match(ctx, rec.CleanedName)
	if err != nil {
		applyErr := records.ApplySupplierMatch(ctx, rec.ID, models.StageFailed, map[string]interface{}{
			"supplier_match_error": err.Error(),
		})
		if applyErr != nil && applyErr != repository.ErrStaleWrite {
			return applyErr
		}
		return batches.IncrementStageCounters(ctx, rec.BatchID, "finexio", 1, 0)
	}

	fields := map[string]interface{}{}
	succeeded := 0
	if result.Best != nil {
		fields["supplier_id"] = result.Best.SupplierID
		fields["supplier_name"] = result.Best.Name
		fields["match_confidence"] = result.Best.Confidence
		fields["match_reasoning"] = result.Best.Reasoning
		succeeded = 1
	}

	if applyErr := records.ApplySupplierMatch(ctx, rec.ID, models.StageCompleted, fields); applyErr != nil {
		if applyErr == repository.ErrStaleWrite {
			return nil
		}
		return applyErr
	}
	return batches.IncrementStageCounters(ctx, rec.BatchID, "finexio", 1, succeeded)
}

package workers

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"iaros/payee-enrichment-engine/internal/apierrors"
	"iaros/payee-enrichment-engine/internal/capabilities"
	"iaros/payee-enrichment-engine/internal/logging"
	"iaros/payee-enrichment-engine/internal/models"
	"iaros/payee-enrichment-engine/internal/queue"
	"iaros/payee-enrichment-engine/internal/ratelimit"
	"iaros/payee-enrichment-engine/internal/repository"
	"iaros/payee-enrichment-engine/internal/retry"
)

// NewClassifyWorker builds the classify stage worker.
func NewClassifyWorker(
	pool *Pool,
	limiter *ratelimit.Limiter,
	classifier capabilities.Classifier,
	filter keywordTester,
	records *repository.RecordRepository,
	batches *repository.BatchRepository,
	logger *logging.Logger,
	errHandler *apierrors.Handler,
) *StageWorker {
	w := &StageWorker{
		Stage:       queue.StageClassify,
		Pool:        pool,
		Limiter:     limiter,
		RetryPolicy: retry.Default(),
		Records:     records,
		Batches:     batches,
		Logger:      logger,
		ErrHandler:  errHandler,
	}
	w.Process = func(ctx context.Context, rec *models.Record) error {
		return processClassify(ctx, classifier, filter, records, batches, rec)
	}
	return w
}

func processClassify(ctx context.Context, classifier capabilities.Classifier, filter keywordTester, records recordWriter, batches counterWriter, rec *models.Record) error {
	result, err := classifier.Classify(ctx, rec.CleanedName)
	if err != nil {
		// Any classifier error (auth included) is terminal for this stage:
		// resty has already exhausted its own 429/5xx retries by the time
		// an error reaches here, so there is nothing left to retry.
		applyErr := records.ApplyClassification(ctx, rec.ID, models.StageFailed, map[string]interface{}{
			"payee_type":           models.PayeeUnknown,
			"confidence":           decimal.Zero,
			"classification_error": err.Error(),
		})
		if applyErr != nil && applyErr != repository.ErrStaleWrite {
			return applyErr
		}
		if err := batches.IncrementStageCounters(ctx, rec.BatchID, "classification", 1, 0); err != nil {
			return err
		}
		// Downstream stages have no classified input to run on.
		return records.SkipPendingStages(ctx, rec.ID)
	}

	fields := map[string]interface{}{
		"payee_type":      result.PayeeType,
		"confidence":      result.Confidence,
		"sic_code":        result.SICCode,
		"sic_description": result.SICDescription,
		"reasoning":       result.Reasoning,
	}
	if result.RawType != "" {
		fields["classification_error"] = fmt.Sprintf("unrecognized payeeType %q coerced to Unknown", result.RawType)
	}
	if applyErr := records.ApplyClassification(ctx, rec.ID, models.StageCompleted, fields); applyErr != nil {
		if applyErr == repository.ErrStaleWrite {
			return nil
		}
		return applyErr
	}

	succeeded := 1
	if result.PayeeType == models.PayeeUnknown {
		succeeded = 0
	}
	if err := batches.IncrementStageCounters(ctx, rec.BatchID, "classification", 1, succeeded); err != nil {
		return err
	}

	// KEF is evaluated once, at classification-completion time (the
	// resolved ordering): stages not yet dispatched are skipped, already
	// terminal stages are left alone.
	keyword, err := filter.Test(ctx, rec.CleanedName)
	if err != nil {
		return err
	}
	if keyword != "" {
		return records.ApplyExclusion(ctx, rec.ID, keyword)
	}
	return nil
}

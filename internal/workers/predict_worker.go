package workers

import (
	"context"
	"time"

	"iaros/payee-enrichment-engine/internal/apierrors"
	"iaros/payee-enrichment-engine/internal/capabilities"
	"iaros/payee-enrichment-engine/internal/logging"
	"iaros/payee-enrichment-engine/internal/models"
	"iaros/payee-enrichment-engine/internal/queue"
	"iaros/payee-enrichment-engine/internal/ratelimit"
	"iaros/payee-enrichment-engine/internal/repository"
	"iaros/payee-enrichment-engine/internal/retry"
)

// NewPredictWorker builds the predict stage worker. The
// orchestrator is responsible for only dispatching a predict job once the
// record's classification (and, if PredictionWaitsForEnrichment, every
// enabled supplier-match/address/merchant) outputs are available.
func NewPredictWorker(
	pool *Pool,
	limiter *ratelimit.Limiter,
	predictor capabilities.Predictor,
	modelID string,
	records *repository.RecordRepository,
	batches *repository.BatchRepository,
	logger *logging.Logger,
	errHandler *apierrors.Handler,
) *StageWorker {
	w := &StageWorker{
		Stage:       queue.StagePredict,
		Pool:        pool,
		Limiter:     limiter,
		RetryPolicy: retry.Default(),
		Records:     records,
		Batches:     batches,
		Logger:      logger,
		ErrHandler:  errHandler,
	}
	w.Process = func(ctx context.Context, rec *models.Record) error {
		return processPredict(ctx, predictor, modelID, records, batches, rec)
	}
	return w
}

func processPredict(ctx context.Context, predictor capabilities.Predictor, modelID string, records recordWriter, batches counterWriter, rec *models.Record) error {
	if rec.ClassificationStatus != models.StageCompleted {
		err := records.ApplyPrediction(ctx, rec.ID, models.StageSkipped, map[string]interface{}{
			"prediction_error": "classification did not complete",
		})
		if err != nil && err != repository.ErrStaleWrite {
			return err
		}
		return nil
	}

	in := capabilities.PredictionInput{
		PayeeType:        rec.PayeeType,
		Confidence:       rec.Confidence,
		FormattedAddress: rec.FormattedAddress,
		BusinessName:     rec.BusinessName,
		MCC:              rec.MCC,
		SmallBusiness:    rec.SmallBusiness,
	}

	result, err := predictor.Predict(ctx, modelID, in)
	if err != nil {
		applyErr := records.ApplyPrediction(ctx, rec.ID, models.StageFailed, map[string]interface{}{
			"prediction_error": err.Error(),
		})
		if applyErr != nil && applyErr != repository.ErrStaleWrite {
			return applyErr
		}
		return batches.IncrementStageCounters(ctx, rec.BatchID, "prediction", 1, 0)
	}

	fields := map[string]interface{}{
		"predicted_payment_success":  result.PredictedPaymentSuccess,
		"prediction_confidence":      result.Confidence,
		"risk_factors":               result.RiskFactors,
		"recommended_payment_method": result.RecommendedPaymentMethod,
		"fraud_risk_score":           result.FraudRiskScore,
		"prediction_date":            time.Now(),
	}
	if applyErr := records.ApplyPrediction(ctx, rec.ID, models.StageCompleted, fields); applyErr != nil {
		if applyErr == repository.ErrStaleWrite {
			return nil
		}
		return applyErr
	}
	return batches.IncrementStageCounters(ctx, rec.BatchID, "prediction", 1, 1)
}

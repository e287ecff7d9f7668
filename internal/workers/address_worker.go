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

// NewAddressValidateWorker builds the address-validate stage worker.
func NewAddressValidateWorker(
	pool *Pool,
	limiter *ratelimit.Limiter,
	validator capabilities.AddressValidator,
	records *repository.RecordRepository,
	batches *repository.BatchRepository,
	logger *logging.Logger,
	errHandler *apierrors.Handler,
) *StageWorker {
	w := &StageWorker{
		Stage:       queue.StageAddressValidate,
		Pool:        pool,
		Limiter:     limiter,
		RetryPolicy: retry.Default(),
		Records:     records,
		Batches:     batches,
		Logger:      logger,
		ErrHandler:  errHandler,
	}
	w.Process = func(ctx context.Context, rec *models.Record) error {
		return processAddressValidate(ctx, validator, records, batches, rec)
	}
	return w
}

func processAddressValidate(ctx context.Context, validator capabilities.AddressValidator, records recordWriter, batches counterWriter, rec *models.Record) error {
	if !rec.HasAddress() {
		if applyErr := records.ApplyAddressValidation(ctx, rec.ID, models.StageSkipped, map[string]interface{}{
			"address_error": "no address supplied",
		}); applyErr != nil && applyErr != repository.ErrStaleWrite {
			return applyErr
		}
		return batches.IncrementStageCounters(ctx, rec.BatchID, "address", 1, 0)
	}

	result, err := validator.Validate(ctx, capabilities.AddressInput{
		Address:    rec.Address,
		City:       rec.City,
		State:      rec.State,
		PostalCode: rec.PostalCode,
	})
	if err != nil {
		applyErr := records.ApplyAddressValidation(ctx, rec.ID, models.StageFailed, map[string]interface{}{
			"address_error": err.Error(),
		})
		if applyErr != nil && applyErr != repository.ErrStaleWrite {
			return applyErr
		}
		return batches.IncrementStageCounters(ctx, rec.BatchID, "address", 1, 0)
	}

	validationStatus := models.ValidationValid
	switch {
	case result.FormattedAddress == "":
		validationStatus = models.ValidationInvalid
	case result.Components.StreetNumber == "" || result.Components.PostalCode == "":
		validationStatus = models.ValidationPartial
	}

	fields := map[string]interface{}{
		"formatted_address":  result.FormattedAddress,
		"address_components": result.Components,
		"address_confidence": result.Confidence,
		"validation_status":  validationStatus,
	}
	if result.Lat != 0 {
		fields["lat"] = result.Lat
	}
	if result.Lon != 0 {
		fields["lon"] = result.Lon
	}

	if applyErr := records.ApplyAddressValidation(ctx, rec.ID, models.StageCompleted, fields); applyErr != nil {
		if applyErr == repository.ErrStaleWrite {
			return nil
		}
		return applyErr
	}

	succeeded := 0
	if validationStatus == models.ValidationValid {
		succeeded = 1
	}
	return batches.IncrementStageCounters(ctx, rec.BatchID, "address", 1, succeeded)
}

package workers

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iaros/payee-enrichment-engine/internal/capabilities"
	"iaros/payee-enrichment-engine/internal/models"
)

type fakePredictor struct {
	result capabilities.PredictionResult
	err    error
}

func (f *fakePredictor) Predict(ctx context.Context, modelID string, in capabilities.PredictionInput) (capabilities.PredictionResult, error) {
	return f.result, f.err
}

func TestProcessPredict_SkipsWhenClassificationIncomplete(t *testing.T) {
	predictor := &fakePredictor{}
	records := &fakeRecordWriter{}
	batches := &fakeCounterWriter{}

	rec := &models.Record{ID: "r1", BatchID: "b1", ClassificationStatus: models.StagePending}
	err := processPredict(context.Background(), predictor, "model-1", records, batches, rec)
	require.NoError(t, err)

	require.Len(t, records.predictions, 1)
	assert.Equal(t, models.StageSkipped, records.predictions[0].status)
	assert.Empty(t, batches.increments, "a skip prior to any collaborator call doesn't touch the prediction counters")
}

func TestProcessPredict_CompletesAndIncrementsCounters(t *testing.T) {
	predictor := &fakePredictor{result: capabilities.PredictionResult{
		PredictedPaymentSuccess: true,
		Confidence:              decimal.NewFromFloat(0.8),
		RecommendedPaymentMethod: "ACH",
	}}
	records := &fakeRecordWriter{}
	batches := &fakeCounterWriter{}

	rec := &models.Record{ID: "r1", BatchID: "b1", ClassificationStatus: models.StageCompleted, PayeeType: models.PayeeBusiness}
	err := processPredict(context.Background(), predictor, "model-1", records, batches, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"prediction"}, batches.increments)
}

func TestProcessPredict_CollaboratorErrorMarksFailedTerminal(t *testing.T) {
	predictor := &fakePredictor{err: assertErr("predictor unreachable")}
	records := &fakeRecordWriter{}
	batches := &fakeCounterWriter{}

	rec := &models.Record{ID: "r1", BatchID: "b1", ClassificationStatus: models.StageCompleted}
	err := processPredict(context.Background(), predictor, "model-1", records, batches, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"prediction"}, batches.increments)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

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

type fakeRecordWriter struct {
	classifications []applyCall
	supplierMatches []applyCall
	addressResults  []applyCall
	predictions     []applyCall
	excluded        []string
	skippedDownstream []string
}

type applyCall struct {
	recordID string
	status   models.StageStatus
	fields   map[string]interface{}
}

func (f *fakeRecordWriter) ApplyClassification(ctx context.Context, recordID string, status models.StageStatus, fields map[string]interface{}) error {
	f.classifications = append(f.classifications, applyCall{recordID, status, fields})
	return nil
}
func (f *fakeRecordWriter) ApplySupplierMatch(ctx context.Context, recordID string, status models.StageStatus, fields map[string]interface{}) error {
	f.supplierMatches = append(f.supplierMatches, applyCall{recordID, status, fields})
	return nil
}
func (f *fakeRecordWriter) ApplyAddressValidation(ctx context.Context, recordID string, status models.StageStatus, fields map[string]interface{}) error {
	f.addressResults = append(f.addressResults, applyCall{recordID, status, fields})
	return nil
}
func (f *fakeRecordWriter) ApplyPrediction(ctx context.Context, recordID string, status models.StageStatus, fields map[string]interface{}) error {
	f.predictions = append(f.predictions, applyCall{recordID, status, fields})
	return nil
}
func (f *fakeRecordWriter) ApplyExclusion(ctx context.Context, recordID, keyword string) error {
	f.excluded = append(f.excluded, recordID+":"+keyword)
	return nil
}
func (f *fakeRecordWriter) SkipPendingStages(ctx context.Context, recordID string) error {
	f.skippedDownstream = append(f.skippedDownstream, recordID)
	return nil
}

type fakeCounterWriter struct {
	increments []string
}

func (f *fakeCounterWriter) IncrementStageCounters(ctx context.Context, batchID, stagePrefix string, processedDelta, succeededDelta int) error {
	f.increments = append(f.increments, stagePrefix)
	return nil
}

type fakeClassifier struct {
	result capabilities.ClassificationResult
	err    error
}

func (f *fakeClassifier) Classify(ctx context.Context, cleanedName string) (capabilities.ClassificationResult, error) {
	return f.result, f.err
}

type fakeFilter struct {
	keyword string
	calls   int
}

func (f *fakeFilter) Test(ctx context.Context, name string) (string, error) {
	f.calls++
	return f.keyword, nil
}

func TestProcessClassify_CompletesAndIncrementsCounters(t *testing.T) {
	classifier := &fakeClassifier{result: capabilities.ClassificationResult{
		PayeeType:  models.PayeeBusiness,
		Confidence: decimal.NewFromFloat(0.9),
	}}
	records := &fakeRecordWriter{}
	batches := &fakeCounterWriter{}
	filter := &fakeFilter{}

	rec := &models.Record{ID: "r1", BatchID: "b1", CleanedName: "acme"}
	err := processClassify(context.Background(), classifier, filter, records, batches, rec)
	require.NoError(t, err)

	require.Len(t, records.classifications, 1)
	assert.Equal(t, models.StageCompleted, records.classifications[0].status)
	assert.Equal(t, []string{"classification"}, batches.increments)
	assert.Empty(t, records.excluded)
	assert.Equal(t, 1, filter.calls)
}

func TestProcessClassify_ExcludesOnKeywordMatch(t *testing.T) {
	classifier := &fakeClassifier{result: capabilities.ClassificationResult{
		PayeeType:  models.PayeeBusiness,
		Confidence: decimal.NewFromFloat(0.9),
	}}
	records := &fakeRecordWriter{}
	batches := &fakeCounterWriter{}
	filter := &fakeFilter{keyword: "bank"}

	rec := &models.Record{ID: "r1", BatchID: "b1", CleanedName: "bank of america"}
	err := processClassify(context.Background(), classifier, filter, records, batches, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"r1:bank"}, records.excluded)
}

func TestProcessClassify_UnknownPayeeTypeStillCompletes(t *testing.T) {
	classifier := &fakeClassifier{result: capabilities.ClassificationResult{
		PayeeType:  models.PayeeUnknown,
		Confidence: decimal.Zero,
	}}
	records := &fakeRecordWriter{}
	batches := &fakeCounterWriter{}
	filter := &fakeFilter{}

	rec := &models.Record{ID: "r1", BatchID: "b1", CleanedName: "???"}
	err := processClassify(context.Background(), classifier, filter, records, batches, rec)
	require.NoError(t, err)

	assert.Equal(t, models.StageCompleted, records.classifications[0].status)
}

type classifierErr struct{}

func (classifierErr) Error() string { return "collaborator unreachable" }

func TestProcessClassify_CollaboratorErrorMarksFailedTerminal(t *testing.T) {
	classifier := &fakeClassifier{err: classifierErr{}}
	records := &fakeRecordWriter{}
	batches := &fakeCounterWriter{}
	filter := &fakeFilter{}

	rec := &models.Record{ID: "r1", BatchID: "b1", CleanedName: "acme"}
	err := processClassify(context.Background(), classifier, filter, records, batches, rec)
	require.NoError(t, err)

	require.Len(t, records.classifications, 1)
	assert.Equal(t, models.StageFailed, records.classifications[0].status)
	assert.Equal(t, models.PayeeUnknown, records.classifications[0].fields["payee_type"])
	assert.Equal(t, []string{"classification"}, batches.increments)
	assert.Equal(t, 0, filter.calls, "KEF must not run when classification never completed")
	assert.Equal(t, []string{"r1"}, records.skippedDownstream, "downstream stages skip when classification fails")
}

func TestProcessClassify_UnrecognizedTypeRecordsError(t *testing.T) {
	classifier := &fakeClassifier{result: capabilities.ClassificationResult{
		PayeeType:  models.PayeeUnknown,
		Confidence: decimal.Zero,
		RawType:    "Charity",
	}}
	records := &fakeRecordWriter{}
	batches := &fakeCounterWriter{}
	filter := &fakeFilter{}

	rec := &models.Record{ID: "r1", BatchID: "b1", CleanedName: "acme"}
	err := processClassify(context.Background(), classifier, filter, records, batches, rec)
	require.NoError(t, err)

	require.Len(t, records.classifications, 1)
	assert.Equal(t, models.StageCompleted, records.classifications[0].status)
	assert.Contains(t, records.classifications[0].fields["classification_error"], "Charity")
}

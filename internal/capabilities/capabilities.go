// Package capabilities defines the five external collaborators the
// pipeline enriches through. Each HTTP-backed capability pairs a resty
// client with its own circuit breaker; consumers depend on the
// interfaces and receive implementations at construction time.
package capabilities

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"iaros/payee-enrichment-engine/internal/models"
)

// ClassificationResult is the Classifier capability's output.
type ClassificationResult struct {
	PayeeType      models.PayeeType
	Confidence     decimal.Decimal
	SICCode        string
	SICDescription string
	Reasoning      string

	// RawType carries the collaborator's original payeeType when it fell
	// outside the enum and was coerced to Unknown; the classify worker
	// records it on the record as the stage's error string.
	RawType string
}

// Classifier is the outbound payee-classification collaborator.
type Classifier interface {
	Classify(ctx context.Context, cleanedName string) (ClassificationResult, error)
}

// AddressResult is the Address Validator capability's output.
type AddressResult struct {
	FormattedAddress string
	Components       models.AddressComponents
	Lat, Lon         float64
	Confidence       decimal.Decimal
	PlaceID          string
}

// AddressInput is the raw address the pipeline asks the validator to clean up.
type AddressInput struct {
	Address, City, State, PostalCode string
}

// AddressValidator is the outbound postal-address collaborator.
type AddressValidator interface {
	Validate(ctx context.Context, in AddressInput) (AddressResult, error)
}

// BulkSearchItem is one row submitted to the card-network enricher.
type BulkSearchItem struct {
	CorrelationID string
	Name          string
	Address       string
	City          string
	State         string
	PostalCode    string
}

// BulkSearchStatus mirrors the card network's getSearchResults status enum.
type BulkSearchStatus string

const (
	BulkSearchInProgress BulkSearchStatus = "IN_PROGRESS"
	BulkSearchCompleted  BulkSearchStatus = "COMPLETED"
	BulkSearchCancelled  BulkSearchStatus = "CANCELLED"
	BulkSearchNoMatch    BulkSearchStatus = "NO_MATCH"
)

// MerchantMatch is one resolved entry within a bulk search result.
type MerchantMatch struct {
	CorrelationID       string
	MatchStatus         models.MerchantMatchStatus
	Confidence          decimal.Decimal
	BusinessName        string
	TaxID               string
	MerchantIDs         []string
	MCC                 string
	MCCGroup            string
	EnrichedAddress     string
	TransactionRecency  string
	CommercialHistory   string
	SmallBusiness       *bool
	LastTransactionDate *time.Time
	DataQualityLevel    string
}

// BulkSearchResult is the getSearchResults response.
type BulkSearchResult struct {
	Status BulkSearchStatus
	Items  []MerchantMatch
}

// CardNetworkEnricher is the asynchronous bulk merchant-enrichment
// collaborator: submit, then either a webhook or a poll resolves the
// result.
type CardNetworkEnricher interface {
	SubmitBulk(ctx context.Context, lookupType string, searches []BulkSearchItem) (bulkSearchID string, err error)
	GetSearchResults(ctx context.Context, bulkSearchID string) (BulkSearchResult, error)
}

// PredictionInput is everything the predictor needs, assembled from a
// Record's classification and (optionally) its enrichment outputs.
type PredictionInput struct {
	PayeeType       models.PayeeType
	Confidence      decimal.Decimal
	FormattedAddress string
	BusinessName    string
	MCC             string
	SmallBusiness   *bool
}

// PredictionResult is the Predictor capability's output.
type PredictionResult struct {
	PredictedPaymentSuccess  bool
	Confidence               decimal.Decimal
	RiskFactors              []string
	RecommendedPaymentMethod string
	FraudRiskScore           decimal.Decimal
}

// Predictor is the outbound payment-risk collaborator.
type Predictor interface {
	Predict(ctx context.Context, modelID string, in PredictionInput) (PredictionResult, error)
}

// CollaboratorConfig configures one resty client + circuit breaker pair,
// mirroring GDSConfiguration's per-provider shape.
type CollaboratorConfig struct {
	Name       string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RetryCount int
}

func (c *CollaboratorConfig) setDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 20 * time.Second
	}
	if c.RetryCount == 0 {
		c.RetryCount = 3
	}
}

// newRestyClient builds a resty client + circuit breaker pair shared by all
// four HTTP-backed capability implementations below.
func newRestyClient(cfg CollaboratorConfig, logger *zap.Logger) (*resty.Client, *gobreaker.CircuitBreaker) {
	cfg.setDefaults()

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.Timeout)
	client.SetRetryCount(cfg.RetryCount)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.SetRetryMaxWaitTime(5 * time.Second)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() == 429 || r.StatusCode() >= 500
	})

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("collaborator", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return client, cb
}

// errAuth is returned by capability implementations for 401/403 responses.
// The stage workers treat it like any other collaborator error (terminal
// for the stage); the async search tracker checks it with IsAuthError to
// fail a search instead of retrying the poll.
type errAuth struct {
	collaborator string
	status       int
}

func (e *errAuth) Error() string {
	return fmt.Sprintf("%s: authentication failed (status %d)", e.collaborator, e.status)
}

// IsAuthError reports whether err is an authentication failure from a
// capability call.
func IsAuthError(err error) bool {
	_, ok := err.(*errAuth)
	return ok
}

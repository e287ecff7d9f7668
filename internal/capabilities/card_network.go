package capabilities

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"iaros/payee-enrichment-engine/internal/models"
)

// HTTPCardNetworkEnricher calls the card network's bulk merchant-enrichment
// search API: submitBulk is a synchronous ack, getSearchResults is the
// polling-fallback status check consumed by the async search tracker's
// sweeper.
type HTTPCardNetworkEnricher struct {
	client *resty.Client
	cb     *gobreaker.CircuitBreaker
}

func NewHTTPCardNetworkEnricher(cfg CollaboratorConfig, consumerKey, privateKey string, logger *zap.Logger) *HTTPCardNetworkEnricher {
	client, cb := newRestyClient(cfg, logger)
	client.SetHeader("X-Consumer-Key", consumerKey)
	client.SetHeader("X-Private-Key", privateKey)
	return &HTTPCardNetworkEnricher{client: client, cb: cb}
}

type submitBulkRequest struct {
	LookupType string           `json:"lookupType"`
	Searches   []bulkSearchWire `json:"searches"`
}

type bulkSearchWire struct {
	CorrelationID string `json:"correlationId"`
	Name          string `json:"name"`
	Address       string `json:"address,omitempty"`
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty"`
	PostalCode    string `json:"postalCode,omitempty"`
}

type submitBulkResponse struct {
	BulkSearchID string `json:"bulkSearchId"`
}

func (e *HTTPCardNetworkEnricher) SubmitBulk(ctx context.Context, lookupType string, searches []BulkSearchItem) (string, error) {
	wire := make([]bulkSearchWire, len(searches))
	for i, s := range searches {
		wire[i] = bulkSearchWire{
			CorrelationID: s.CorrelationID,
			Name:          s.Name,
			Address:       s.Address,
			City:          s.City,
			State:         s.State,
			PostalCode:    s.PostalCode,
		}
	}

	result, err := e.cb.Execute(func() (interface{}, error) {
		var body submitBulkResponse
		resp, err := e.client.R().
			SetContext(ctx).
			SetBody(submitBulkRequest{LookupType: lookupType, Searches: wire}).
			SetResult(&body).
			Post("/v1/bulk-searches")
		if err != nil {
			return nil, fmt.Errorf("submit bulk search: %w", err)
		}
		if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
			return nil, &errAuth{collaborator: "card-network", status: resp.StatusCode()}
		}
		if resp.IsError() {
			return nil, fmt.Errorf("submit bulk search returned status %d", resp.StatusCode())
		}
		return body, nil
	})
	if err != nil {
		return "", err
	}
	return result.(submitBulkResponse).BulkSearchID, nil
}

type getSearchResultsResponse struct {
	Status string           `json:"status"`
	Items  []merchantResult `json:"items"`
}

type merchantResult struct {
	CorrelationID       string   `json:"correlationId"`
	MatchStatus         string   `json:"matchStatus"`
	Confidence          float64  `json:"confidence"`
	BusinessName        string   `json:"businessName"`
	TaxID               string   `json:"taxId"`
	MerchantIDs         []string `json:"merchantIds"`
	MCC                 string   `json:"mcc"`
	MCCGroup            string   `json:"mccGroup"`
	EnrichedAddress     string   `json:"enrichedAddress"`
	TransactionRecency  string   `json:"transactionRecency"`
	CommercialHistory   string   `json:"commercialHistory"`
	SmallBusiness       *bool    `json:"smallBusiness"`
	DataQualityLevel    string   `json:"dataQualityLevel"`
}

// ErrSearchNotFound is returned for a 404 on getSearchResults, which the
// async search tracker treats as a terminal failure for the whole
// submission.
var ErrSearchNotFound = fmt.Errorf("card network: search id not found")

func (e *HTTPCardNetworkEnricher) GetSearchResults(ctx context.Context, bulkSearchID string) (BulkSearchResult, error) {
	result, err := e.cb.Execute(func() (interface{}, error) {
		var body getSearchResultsResponse
		resp, err := e.client.R().
			SetContext(ctx).
			SetResult(&body).
			Get("/v1/bulk-searches/" + bulkSearchID)
		if err != nil {
			return nil, fmt.Errorf("get search results: %w", err)
		}
		if resp.StatusCode() == 404 {
			return nil, ErrSearchNotFound
		}
		if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
			return nil, &errAuth{collaborator: "card-network", status: resp.StatusCode()}
		}
		if resp.IsError() {
			return nil, fmt.Errorf("get search results returned status %d", resp.StatusCode())
		}
		return body, nil
	})
	if err != nil {
		return BulkSearchResult{}, err
	}

	body := result.(getSearchResultsResponse)
	items := make([]MerchantMatch, len(body.Items))
	for i, it := range body.Items {
		status := models.MerchantMatchNoMatch
		switch it.MatchStatus {
		case "matched", "MATCHED":
			status = models.MerchantMatchMatched
		case "no_match", "NO_MATCH":
			status = models.MerchantMatchNoMatch
		}
		items[i] = MerchantMatch{
			CorrelationID:      it.CorrelationID,
			MatchStatus:        status,
			Confidence:         decimal.NewFromFloat(it.Confidence),
			BusinessName:       it.BusinessName,
			TaxID:              it.TaxID,
			MerchantIDs:        it.MerchantIDs,
			MCC:                it.MCC,
			MCCGroup:           it.MCCGroup,
			EnrichedAddress:    it.EnrichedAddress,
			TransactionRecency: it.TransactionRecency,
			CommercialHistory:  it.CommercialHistory,
			SmallBusiness:      it.SmallBusiness,
			DataQualityLevel:   it.DataQualityLevel,
		}
	}

	return BulkSearchResult{
		Status: BulkSearchStatus(body.Status),
		Items:  items,
	}, nil
}

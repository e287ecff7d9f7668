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

// HTTPAddressValidator calls an outbound postal-address validation
// service.
type HTTPAddressValidator struct {
	client *resty.Client
	cb     *gobreaker.CircuitBreaker
}

func NewHTTPAddressValidator(cfg CollaboratorConfig, logger *zap.Logger) *HTTPAddressValidator {
	client, cb := newRestyClient(cfg, logger)
	client.SetQueryParam("key", cfg.APIKey)
	return &HTTPAddressValidator{client: client, cb: cb}
}

type validateResponse struct {
	FormattedAddress string                   `json:"formattedAddress"`
	Components       models.AddressComponents `json:"components"`
	Lat              float64                  `json:"lat"`
	Lon              float64                  `json:"lon"`
	Confidence       float64                  `json:"confidence"`
	PlaceID          string                   `json:"placeId"`
}

func (v *HTTPAddressValidator) Validate(ctx context.Context, in AddressInput) (AddressResult, error) {
	result, err := v.cb.Execute(func() (interface{}, error) {
		var body validateResponse
		resp, err := v.client.R().
			SetContext(ctx).
			SetBody(in).
			SetResult(&body).
			Post("/v1/validate")
		if err != nil {
			return nil, fmt.Errorf("address validator request: %w", err)
		}
		if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
			return nil, &errAuth{collaborator: "address-validator", status: resp.StatusCode()}
		}
		if resp.IsError() {
			return nil, fmt.Errorf("address validator returned status %d", resp.StatusCode())
		}
		return body, nil
	})
	if err != nil {
		return AddressResult{}, err
	}

	body := result.(validateResponse)
	confidence := decimal.NewFromFloat(body.Confidence)
	if confidence.LessThan(decimal.Zero) {
		confidence = decimal.Zero
	}
	if confidence.GreaterThan(decimal.NewFromInt(1)) {
		confidence = decimal.NewFromInt(1)
	}

	return AddressResult{
		FormattedAddress: body.FormattedAddress,
		Components:       body.Components,
		Lat:              body.Lat,
		Lon:              body.Lon,
		Confidence:       confidence,
		PlaceID:          body.PlaceID,
	}, nil
}

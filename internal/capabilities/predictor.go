package capabilities

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// HTTPPredictor calls the payment-success / fraud-risk ML model endpoint.
type HTTPPredictor struct {
	client *resty.Client
	cb     *gobreaker.CircuitBreaker
}

func NewHTTPPredictor(cfg CollaboratorConfig, logger *zap.Logger) *HTTPPredictor {
	client, cb := newRestyClient(cfg, logger)
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	return &HTTPPredictor{client: client, cb: cb}
}

type predictRequest struct {
	ModelID          string  `json:"modelId"`
	PayeeType        string  `json:"payeeType"`
	Confidence       float64 `json:"confidence"`
	FormattedAddress string  `json:"formattedAddress,omitempty"`
	BusinessName     string  `json:"businessName,omitempty"`
	MCC              string  `json:"mcc,omitempty"`
	SmallBusiness    *bool   `json:"smallBusiness,omitempty"`
}

type predictResponse struct {
	PredictedPaymentSuccess  bool     `json:"predictedPaymentSuccess"`
	Confidence               float64  `json:"confidence"`
	RiskFactors              []string `json:"riskFactors"`
	RecommendedPaymentMethod string   `json:"recommendedPaymentMethod"`
	FraudRiskScore           float64  `json:"fraudRiskScore"`
}

func (p *HTTPPredictor) Predict(ctx context.Context, modelID string, in PredictionInput) (PredictionResult, error) {
	confidence, _ := in.Confidence.Float64()

	result, err := p.cb.Execute(func() (interface{}, error) {
		var body predictResponse
		resp, err := p.client.R().
			SetContext(ctx).
			SetBody(predictRequest{
				ModelID:          modelID,
				PayeeType:        string(in.PayeeType),
				Confidence:       confidence,
				FormattedAddress: in.FormattedAddress,
				BusinessName:     in.BusinessName,
				MCC:              in.MCC,
				SmallBusiness:    in.SmallBusiness,
			}).
			SetResult(&body).
			Post("/v1/predict")
		if err != nil {
			return nil, fmt.Errorf("predictor request: %w", err)
		}
		if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
			return nil, &errAuth{collaborator: "predictor", status: resp.StatusCode()}
		}
		if resp.IsError() {
			return nil, fmt.Errorf("predictor returned status %d", resp.StatusCode())
		}
		return body, nil
	})
	if err != nil {
		return PredictionResult{}, err
	}

	body := result.(predictResponse)
	return PredictionResult{
		PredictedPaymentSuccess:  body.PredictedPaymentSuccess,
		Confidence:               decimal.NewFromFloat(body.Confidence),
		RiskFactors:              body.RiskFactors,
		RecommendedPaymentMethod: body.RecommendedPaymentMethod,
		FraudRiskScore:           decimal.NewFromFloat(body.FraudRiskScore),
	}, nil
}

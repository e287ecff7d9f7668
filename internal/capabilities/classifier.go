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

// HTTPClassifier calls an LLM-backed classification endpoint.
// The prompt wording itself is explicitly out of scope; this is the
// transport and response-shape boundary only.
type HTTPClassifier struct {
	client *resty.Client
	cb     *gobreaker.CircuitBreaker
	model  string
	logger *zap.Logger
}

func NewHTTPClassifier(cfg CollaboratorConfig, model string, logger *zap.Logger) *HTTPClassifier {
	client, cb := newRestyClient(cfg, logger)
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	return &HTTPClassifier{client: client, cb: cb, model: model, logger: logger}
}

type classifyRequest struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

type classifyResponse struct {
	PayeeType      string  `json:"payeeType"`
	Confidence     float64 `json:"confidence"`
	SICCode        string  `json:"sicCode"`
	SICDescription string  `json:"sicDescription"`
	Reasoning      string  `json:"reasoning"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, cleanedName string) (ClassificationResult, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		var body classifyResponse
		resp, err := c.client.R().
			SetContext(ctx).
			SetBody(classifyRequest{Name: cleanedName, Model: c.model}).
			SetResult(&body).
			Post("/v1/classify")
		if err != nil {
			return nil, fmt.Errorf("classifier request: %w", err)
		}
		if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
			return nil, &errAuth{collaborator: "classifier", status: resp.StatusCode()}
		}
		if resp.IsError() {
			return nil, fmt.Errorf("classifier returned status %d", resp.StatusCode())
		}
		return body, nil
	})
	if err != nil {
		return ClassificationResult{}, err
	}

	body := result.(classifyResponse)
	payeeType := models.PayeeType(body.PayeeType)
	confidence := decimal.NewFromFloat(body.Confidence)

	if !models.ValidPayeeType(payeeType) {
		c.logger.Warn("classifier returned unrecognized payeeType", zap.String("payeeType", body.PayeeType))
		return ClassificationResult{
			PayeeType:  models.PayeeUnknown,
			Confidence: decimal.Zero,
			Reasoning:  body.Reasoning,
			RawType:    body.PayeeType,
		}, nil
	}

	if confidence.LessThan(decimal.Zero) {
		confidence = decimal.Zero
	}
	if confidence.GreaterThan(decimal.NewFromInt(1)) {
		confidence = decimal.NewFromInt(1)
	}

	return ClassificationResult{
		PayeeType:      payeeType,
		Confidence:     confidence,
		SICCode:        body.SICCode,
		SICDescription: body.SICDescription,
		Reasoning:      body.Reasoning,
	}, nil
}

// Package webhook implements the card network's inbound bulk-search
// notification receiver: signature verification, event dedup, and a
// background handoff into the async search tracker so the HTTP response
// itself never waits on the collaborator's result fetch.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"iaros/payee-enrichment-engine/internal/logging"
	"iaros/payee-enrichment-engine/internal/metrics"
	"iaros/payee-enrichment-engine/internal/models"
)

// signatureHeader carries the card network's HMAC-SHA256 over the raw
// request body, hex-encoded.
const signatureHeader = "x-mastercard-signature"

const (
	eventBulkSearchReady     = "BULK_SEARCH_RESULTS_READY"
	eventBulkSearchCancelled = "BULK_SEARCH_CANCELLED"
)

// tracker is the subset of asynctracker.Tracker the receiver drives.
type tracker interface {
	HandleWebhookReady(ctx context.Context, searchID string) error
	HandleWebhookCancelled(ctx context.Context, searchID string) error
}

// eventStore is the subset of repository.WebhookRepository the receiver
// uses for idempotent ingest.
type eventStore interface {
	Insert(ctx context.Context, event *models.WebhookEvent) (bool, error)
	MarkProcessed(ctx context.Context, eventID string, processedAt time.Time, errMsg string) error
}

// inboundPayload is the card network's webhook body shape.
type inboundPayload struct {
	EventID          string `json:"eventId"`
	EventType        string `json:"eventType"`
	EventCreatedDate string `json:"eventCreatedDate"`
	Data             struct {
		BulkRequestID string   `json:"bulkRequestId"`
		Errors        []string `json:"errors,omitempty"`
	} `json:"data"`
}

// Receiver handles inbound card-network webhook deliveries. When disabled,
// deliveries are rejected and the polling sweeper is the sole resolution
// path for bulk searches.
type Receiver struct {
	tracker tracker
	events  eventStore
	secret  string
	enabled bool
	logger  *logging.Logger
	metrics *metrics.Registry
}

func New(tracker tracker, events eventStore, secret string, enabled bool, logger *logging.Logger, reg *metrics.Registry) *Receiver {
	return &Receiver{tracker: tracker, events: events, secret: secret, enabled: enabled, logger: logger, metrics: reg}
}

// RegisterRoutes mounts the receiver's endpoints onto r.
func (rc *Receiver) RegisterRoutes(r gin.IRouter) {
	r.POST("/webhooks/merchant/search-notifications", rc.handleNotification)
	r.GET("/webhooks/merchant/health", rc.health)
}

func (rc *Receiver) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"webhookEnabled":   rc.enabled,
		"secretConfigured": rc.secret != "",
	})
}

// handleNotification verifies the signature, dedups on eventId, and hands
// processing to a background goroutine so the response returns well
// within the collaborator's delivery SLA regardless of how long applying
// the result takes.
func (rc *Receiver) handleNotification(c *gin.Context) {
	if !rc.enabled {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "webhook ingestion disabled"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read body"})
		return
	}

	if !rc.verifySignature(body, c.GetHeader(signatureHeader)) {
		rc.logger.Warn("webhook signature verification failed")
		c.Status(http.StatusUnauthorized)
		return
	}

	var payload inboundPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}
	if payload.EventID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing eventId"})
		return
	}

	event := &models.WebhookEvent{
		EventID:       payload.EventID,
		EventType:     payload.EventType,
		BulkRequestID: payload.Data.BulkRequestID,
		Payload:       string(body),
		ReceivedAt:    time.Now(),
	}

	inserted, err := rc.events.Insert(c.Request.Context(), event)
	if err != nil {
		rc.logger.Error("persist webhook event", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	if !inserted {
		// Already seen this eventId: acknowledge without reprocessing.
		if rc.metrics != nil {
			rc.metrics.WebhookEventsTotal.WithLabelValues(payload.EventType, "duplicate").Inc()
		}
		c.Status(http.StatusNoContent)
		return
	}

	if rc.metrics != nil {
		rc.metrics.WebhookEventsTotal.WithLabelValues(payload.EventType, "accepted").Inc()
	}

	go rc.process(payload)

	c.Status(http.StatusNoContent)
}

// process runs detached from the request goroutine: fetching and applying
// a bulk search result can take longer than the card network's response
// window allows, so it must never block the HTTP handler.
func (rc *Receiver) process(payload inboundPayload) {
	ctx := context.Background()
	logger := rc.logger.WithStage("webhook")

	var applyErr error
	switch payload.EventType {
	case eventBulkSearchReady:
		applyErr = rc.tracker.HandleWebhookReady(ctx, payload.Data.BulkRequestID)
	case eventBulkSearchCancelled:
		applyErr = rc.tracker.HandleWebhookCancelled(ctx, payload.Data.BulkRequestID)
	default:
		logger.Warn("unrecognized webhook event type", zap.String("event_type", payload.EventType))
	}

	errMsg := ""
	if applyErr != nil {
		errMsg = applyErr.Error()
		logger.Error("apply webhook event", zap.String("event_id", payload.EventID), zap.Error(applyErr))
	}
	if err := rc.events.MarkProcessed(ctx, payload.EventID, time.Now(), errMsg); err != nil {
		logger.Error("mark webhook event processed", zap.String("event_id", payload.EventID), zap.Error(err))
	}
}

// verifySignature recomputes the HMAC-SHA256 of body with the configured
// shared secret and compares it in constant time against the header value.
// An empty configured secret rejects every delivery rather than silently
// accepting unsigned payloads.
func (rc *Receiver) verifySignature(body []byte, headerValue string) bool {
	if rc.secret == "" || headerValue == "" {
		return false
	}
	decoded, err := hex.DecodeString(headerValue)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(rc.secret))
	mac.Write(body)
	expected := mac.Sum(nil)
	return hmac.Equal(decoded, expected)
}

// Package apierrors provides the pipeline's single error taxonomy, used
// by stage workers, the async tracker and the HTTP surface alike so a
// collaborator failure's retryability is a property of the error, not of
// ad-hoc per-call logic.
package apierrors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrorType categorizes a PayeeError for logging, metrics and retry policy.
type ErrorType string

const (
	ValidationError     ErrorType = "VALIDATION_ERROR"
	DataIntegrityError  ErrorType = "DATA_INTEGRITY_ERROR"
	DatabaseError       ErrorType = "DATABASE_ERROR"
	NetworkError        ErrorType = "NETWORK_ERROR"
	TimeoutError        ErrorType = "TIMEOUT_ERROR"
	AuthenticationError ErrorType = "AUTHENTICATION_ERROR"
	ExternalAPIError    ErrorType = "EXTERNAL_API_ERROR"
	InternalError       ErrorType = "INTERNAL_ERROR"
	ConfigurationError  ErrorType = "CONFIGURATION_ERROR"
)

// PayeeError is the standardized error structure returned from collaborator
// calls, stage workers and HTTP handlers.
type PayeeError struct {
	ID          string    `json:"error_id"`
	Type        ErrorType `json:"error_type"`
	Code        string    `json:"error_code"`
	Message     string    `json:"message"`
	Operation   string    `json:"operation"`
	Service     string    `json:"service"`
	Timestamp   time.Time `json:"timestamp"`
	StackTrace  string    `json:"stack_trace,omitempty"`
	Cause       error     `json:"-"`
	HTTPStatus  int       `json:"http_status"`
	Retryable   bool      `json:"retryable"`
	RetryAfter  *time.Duration `json:"retry_after,omitempty"`
}

func (e *PayeeError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Code, e.Message)
}

func (e *PayeeError) Unwrap() error { return e.Cause }

// MetricsSink receives error counters; satisfied by internal/metrics.
type MetricsSink interface {
	RecordError(errType ErrorType, service, operation string)
}

// AlertSink receives high-severity notifications (auth failures, panics).
// The pipeline's default sink just logs; a real deployment would wire a
// paging system here.
type AlertSink interface {
	SendAlert(err *PayeeError, severity string)
}

type noopAlertSink struct{}

func (noopAlertSink) SendAlert(*PayeeError, string) {}

// Handler constructs typed errors for a single service/component, logging
// and recording metrics as it goes.
type Handler struct {
	logger  *zap.Logger
	service string
	metrics MetricsSink
	alerts  AlertSink
}

// NewHandler builds a Handler. metrics/alerts may be nil.
func NewHandler(service string, logger *zap.Logger, metrics MetricsSink, alerts AlertSink) *Handler {
	if alerts == nil {
		alerts = noopAlertSink{}
	}
	return &Handler{logger: logger, service: service, metrics: metrics, alerts: alerts}
}

func (h *Handler) create(t ErrorType, code, operation, message string, status int, retryable bool, cause error) *PayeeError {
	e := &PayeeError{
		ID:         uuid.New().String(),
		Type:       t,
		Code:       code,
		Message:    message,
		Operation:  operation,
		Service:    h.service,
		Timestamp:  time.Now(),
		HTTPStatus: status,
		Retryable:  retryable,
		Cause:      cause,
	}
	h.log(e)
	if h.metrics != nil {
		h.metrics.RecordError(t, h.service, operation)
	}
	return e
}

func (h *Handler) log(e *PayeeError) {
	fields := []zap.Field{
		zap.String("error_id", e.ID),
		zap.String("error_type", string(e.Type)),
		zap.String("error_code", e.Code),
		zap.String("service", e.Service),
		zap.String("operation", e.Operation),
		zap.Int("http_status", e.HTTPStatus),
		zap.Bool("retryable", e.Retryable),
	}
	if e.Cause != nil {
		fields = append(fields, zap.Error(e.Cause))
	}
	switch e.Type {
	case ValidationError, DataIntegrityError:
		h.logger.Warn(e.Message, fields...)
	case AuthenticationError:
		h.logger.Error(e.Message, fields...)
	default:
		h.logger.Error(e.Message, fields...)
	}
}

// NewValidation reports a rejected input; never retryable.
func (h *Handler) NewValidation(operation, message string) *PayeeError {
	return h.create(ValidationError, "VALIDATION_FAILED", operation, message, http.StatusBadRequest, false, nil)
}

// NewDatabase wraps a storage-layer failure; retryable.
func (h *Handler) NewDatabase(operation, message string, cause error) *PayeeError {
	return h.create(DatabaseError, "DATABASE_ERROR", operation, message, http.StatusInternalServerError, true, cause)
}

// NewNetwork wraps a transport-layer failure against a collaborator;
// retryable (5xx/429/network errors retry).
func (h *Handler) NewNetwork(operation, message string, cause error) *PayeeError {
	e := h.create(NetworkError, "NETWORK_ERROR", operation, message, http.StatusServiceUnavailable, true, cause)
	e.RetryAfter = durationPtr(5 * time.Second)
	return e
}

// NewExternalAPI wraps a non-2xx collaborator response. retryable reflects
// whether the status was 429/5xx (true) or a terminal 4xx (false), per
// the retry policy.
func (h *Handler) NewExternalAPI(operation, message string, cause error, retryable bool) *PayeeError {
	e := h.create(ExternalAPIError, "EXTERNAL_API_ERROR", operation, message, http.StatusBadGateway, retryable, cause)
	if retryable {
		e.RetryAfter = durationPtr(10 * time.Second)
	}
	return e
}

// NewAuthentication reports a collaborator auth failure: terminal, never
// retried, and escalated to the alert sink.
func (h *Handler) NewAuthentication(operation, message string) *PayeeError {
	e := h.create(AuthenticationError, "AUTHENTICATION_FAILED", operation, message, http.StatusUnauthorized, false, nil)
	go h.alerts.SendAlert(e, "high")
	return e
}

// NewTimeout reports a per-attempt timeout; retryable.
func (h *Handler) NewTimeout(operation, message string) *PayeeError {
	e := h.create(TimeoutError, "OPERATION_TIMEOUT", operation, message, http.StatusRequestTimeout, true, nil)
	e.RetryAfter = durationPtr(30 * time.Second)
	return e
}

// NewInternal wraps an unexpected internal failure; captures a stack trace
// and alerts at critical severity.
func (h *Handler) NewInternal(operation, message string, cause error) *PayeeError {
	e := h.create(InternalError, "INTERNAL_ERROR", operation, message, http.StatusInternalServerError, false, cause)
	e.StackTrace = captureStack()
	go h.alerts.SendAlert(e, "critical")
	return e
}

func captureStack() string {
	buf := make([]byte, 1024)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			return string(buf[:n])
		}
		buf = make([]byte, 2*len(buf))
	}
}

func durationPtr(d time.Duration) *time.Duration { return &d }

// IsRetryable reports whether err is a retryable PayeeError.
func IsRetryable(err error) bool {
	if pe, ok := err.(*PayeeError); ok {
		return pe.Retryable
	}
	return false
}

// GetRetryAfter returns the suggested retry delay, if any.
func GetRetryAfter(err error) *time.Duration {
	if pe, ok := err.(*PayeeError); ok {
		return pe.RetryAfter
	}
	return nil
}

// WriteHTTP writes a consistent JSON error envelope. Used by internal/httpapi
// and internal/webhook.
func WriteHTTP(w http.ResponseWriter, err *PayeeError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	body := map[string]interface{}{
		"error": map[string]interface{}{
			"id":        err.ID,
			"type":      err.Type,
			"code":      err.Code,
			"message":   err.Message,
			"timestamp": err.Timestamp,
			"retryable": err.Retryable,
		},
	}
	if err.RetryAfter != nil {
		body["retry_after"] = err.RetryAfter.Seconds()
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", err.RetryAfter.Seconds()))
	}
	w.WriteHeader(err.HTTPStatus)
	_ = json.NewEncoder(w).Encode(body)
}

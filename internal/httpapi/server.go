// Package httpapi exposes the pipeline's gin HTTP surface: batch upload,
// status, classification results, single-record classification, and
// exclusion-keyword administration.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"iaros/payee-enrichment-engine/internal/capabilities"
	"iaros/payee-enrichment-engine/internal/database"
	"iaros/payee-enrichment-engine/internal/exclusion"
	"iaros/payee-enrichment-engine/internal/httpapi/middleware"
	"iaros/payee-enrichment-engine/internal/logging"
	"iaros/payee-enrichment-engine/internal/models"
	"iaros/payee-enrichment-engine/internal/normalizer"
	"iaros/payee-enrichment-engine/internal/progress"
	"iaros/payee-enrichment-engine/internal/repository"
)

// ErrorResponse is the pipeline's standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse is the pipeline's standard success envelope for
// operations that don't already return a natural resource body.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// batchOrchestrator is the subset of orchestrator.Orchestrator the HTTP
// surface drives directly.
type batchOrchestrator interface {
	CreateBatch(ctx context.Context, batch *models.Batch, records []models.Record) error
	Cancel(ctx context.Context, batchID string) error
}

// Config wires the HTTP surface's collaborators.
type Config struct {
	Batches      *repository.BatchRepository
	Records      *repository.RecordRepository
	Keywords     *repository.KeywordRepository
	Filter       *exclusion.Filter
	Orchestrator batchOrchestrator
	Classifier   capabilities.Classifier
	DB           *database.Database
	Logger       *logging.Logger
	Gatherer     prometheus.Gatherer

	AdminAuthEnabled bool
	AdminJWTSecret   string
}

// Server holds the gin engine and its dependencies.
type Server struct {
	engine *gin.Engine
	cfg    Config
}

// NewServer builds the gin engine with every route mounted.
func NewServer(cfg Config) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(loggingMiddleware(cfg.Logger))

	s := &Server{engine: engine, cfg: cfg}
	s.setupRoutes()
	return s
}

// Engine exposes the underlying gin.Engine for cmd/server to hand to an
// http.Server.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.healthz)
	s.engine.GET("/readyz", s.readyz)
	if s.cfg.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	s.engine.POST("/upload", s.upload)
	s.engine.GET("/upload/batches", s.listBatches)
	s.engine.POST("/upload/batches/:batchId/cancel", s.cancelBatch)

	s.engine.GET("/status/:batchId", s.status)

	s.engine.POST("/classify-single", s.classifySingle)
	s.engine.GET("/classifications/:batchId", s.listClassifications)

	admin := s.engine.Group("/keywords")
	admin.Use(middleware.AdminAuth(s.cfg.AdminAuthEnabled, s.cfg.AdminJWTSecret))
	{
		admin.GET("", s.listKeywords)
		admin.POST("", s.createKeyword)
		admin.PATCH("/:id", s.patchKeyword)
		admin.DELETE("/:id", s.deleteKeyword)
		admin.POST("/test", s.testKeyword)
	}
}

// healthz reports liveness only: the process is up and serving.
func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// readyz reports whether the server's dependencies (database) are
// reachable, distinct from healthz per the usual liveness/readiness split.
func (s *Server) readyz(c *gin.Context) {
	if err := s.cfg.DB.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "not ready", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// uploadRequest is the pre-parsed-rows upload shape: actual file-upload
// column mapping and CSV/XLSX parsing are out of scope, so the caller
// supplies already-normalized rows plus the stage selection.
type uploadRequest struct {
	OriginalName  string                  `json:"originalName" binding:"required"`
	EnabledStages models.StageSelection   `json:"enabledStages"`
	Rows          []uploadRow             `json:"rows" binding:"required,min=1"`
}

type uploadRow struct {
	Name       string                 `json:"name" binding:"required"`
	Address    string                 `json:"address,omitempty"`
	City       string                 `json:"city,omitempty"`
	State      string                 `json:"state,omitempty"`
	PostalCode string                 `json:"postalCode,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// upload creates a batch and its records and kicks off classification.
// @Summary Create a batch from pre-parsed rows
// @Tags Upload
// @Accept json
// @Produce json
// @Success 201 {object} models.Batch
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /upload [post]
func (s *Server) upload(c *gin.Context) {
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	batch := &models.Batch{
		ID:            uuid.NewString(),
		OriginalName:  req.OriginalName,
		EnabledStages: req.EnabledStages,
	}

	records := make([]models.Record, 0, len(req.Rows))
	for _, row := range req.Rows {
		records = append(records, models.Record{
			ID:              uuid.NewString(),
			BatchID:         batch.ID,
			OriginalName:    row.Name,
			CleanedName:     normalizer.Normalize(row.Name),
			OriginalPayload: row.Payload,
			Address:         row.Address,
			City:            row.City,
			State:           row.State,
			PostalCode:      row.PostalCode,

			ClassificationStatus: models.StagePending,
			SupplierMatchStatus:  initialStageStatus(req.EnabledStages.SupplierMatch),
			AddressStatus:        initialStageStatus(req.EnabledStages.AddressValidate),
			MerchantStatus:       initialStageStatus(req.EnabledStages.MerchantEnrich),
			PredictionStatus:     initialStageStatus(req.EnabledStages.Predict),
		})
	}

	if err := s.cfg.Orchestrator.CreateBatch(c.Request.Context(), batch, records); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to create batch", Details: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, batch)
}

// initialStageStatus seeds a not-enabled stage as skipped so progress
// projection and completion checks never wait on it.
func initialStageStatus(enabled bool) models.StageStatus {
	if enabled {
		return models.StagePending
	}
	return models.StageSkipped
}

// listBatches paginates every batch.
// @Summary List batches
// @Tags Upload
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Page size" default(20)
// @Success 200 {object} SuccessResponse
// @Router /upload/batches [get]
func (s *Server) listBatches(c *gin.Context) {
	offset, limit := paginationParams(c)
	batches, total, err := s.cfg.Batches.List(c.Request.Context(), offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list batches", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches, "total": total})
}

// cancelBatch soft-cancels a batch's in-flight work.
// @Summary Cancel a batch
// @Tags Upload
// @Produce json
// @Param batchId path string true "Batch ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Router /upload/batches/{batchId}/cancel [post]
func (s *Server) cancelBatch(c *gin.Context) {
	batchID := c.Param("batchId")
	if err := s.cfg.Orchestrator.Cancel(c.Request.Context(), batchID); err != nil {
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "not found") {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "failed to cancel batch", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "batch cancelled"})
}

// statusResponse is the batch progress payload: overall status plus the
// projection derived from the per-stage counters.
type statusResponse struct {
	Status           models.BatchStatus `json:"status"`
	CurrentStep      string             `json:"currentStep"`
	ProgressMessage  string             `json:"progressMessage"`
	TotalRecords     int                `json:"totalRecords"`
	ProcessedRecords int                `json:"processedRecords"`
	PercentComplete  float64            `json:"percentComplete"`
	Indeterminate    bool               `json:"indeterminate,omitempty"`
}

// status returns the progress projection for a batch.
// @Summary Get batch progress
// @Tags Status
// @Produce json
// @Param batchId path string true "Batch ID"
// @Success 200 {object} statusResponse
// @Failure 404 {object} ErrorResponse
// @Router /status/{batchId} [get]
func (s *Server) status(c *gin.Context) {
	batchID := c.Param("batchId")
	batch, err := s.cfg.Batches.Get(c.Request.Context(), batchID)
	if err != nil {
		status := http.StatusInternalServerError
		if err == repository.ErrNotFound {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "failed to get batch", Details: err.Error()})
		return
	}
	snap := progress.Project(batch)
	c.JSON(http.StatusOK, statusResponse{
		Status:           batch.Status,
		CurrentStep:      snap.PhaseLabel,
		ProgressMessage:  snap.PhaseLabel,
		TotalRecords:     batch.TotalRecords,
		ProcessedRecords: batch.ProcessedRecords,
		PercentComplete:  snap.OverallPercent,
		Indeterminate:    snap.Indeterminate,
	})
}

// classifySingleRequest is the synchronous, pipeline-bypassing classify
// call the classify-single endpoint exposes for ad hoc lookups.
type classifySingleRequest struct {
	PayeeName string `json:"payeeName" binding:"required"`
}

// classifySingle classifies one name directly against the classifier
// collaborator, without creating a batch or record.
// @Summary Classify a single payee name
// @Tags Classification
// @Accept json
// @Produce json
// @Success 200 {object} capabilities.ClassificationResult
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /classify-single [post]
func (s *Server) classifySingle(c *gin.Context) {
	var req classifySingleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	result, err := s.cfg.Classifier.Classify(c.Request.Context(), normalizer.Normalize(req.PayeeName))
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "classification failed", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// listClassifications paginates a batch's records.
// @Summary List a batch's classified records
// @Tags Classification
// @Produce json
// @Param batchId path string true "Batch ID"
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Page size" default(20)
// @Success 200 {object} SuccessResponse
// @Router /classifications/{batchId} [get]
func (s *Server) listClassifications(c *gin.Context) {
	batchID := c.Param("batchId")
	offset, limit := paginationParams(c)
	records, total, err := s.cfg.Records.ListByBatch(c.Request.Context(), batchID, offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list records", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "total": total})
}

func paginationParams(c *gin.Context) (offset, limit int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if limit <= 0 || limit > 500 {
		limit = 20
	}
	offset = (page - 1) * limit
	return offset, limit
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			loggingFields(c, time.Since(start))...,
		)
	}
}

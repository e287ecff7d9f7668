package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"iaros/payee-enrichment-engine/internal/exclusion"
	"iaros/payee-enrichment-engine/internal/models"
	"iaros/payee-enrichment-engine/internal/repository"
)

// listKeywords lists every exclusion keyword, active or not.
// @Summary List exclusion keywords
// @Tags Keywords
// @Produce json
// @Success 200 {object} SuccessResponse
// @Router /keywords [get]
func (s *Server) listKeywords(c *gin.Context) {
	keywords, err := s.cfg.Keywords.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list keywords", Details: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keywords": keywords})
}

type createKeywordRequest struct {
	Keyword string `json:"keyword" binding:"required"`
	AddedBy string `json:"addedBy,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// createKeyword adds a new exclusion keyword and invalidates the filter's
// cached active set so the change takes effect immediately.
// @Summary Add an exclusion keyword
// @Tags Keywords
// @Accept json
// @Produce json
// @Success 201 {object} models.ExclusionKeyword
// @Failure 400 {object} ErrorResponse
// @Router /keywords [post]
func (s *Server) createKeyword(c *gin.Context) {
	var req createKeywordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	now := time.Now().Unix()
	kw := &models.ExclusionKeyword{
		ID:        uuid.NewString(),
		Keyword:   req.Keyword,
		AddedBy:   req.AddedBy,
		Notes:     req.Notes,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.cfg.Keywords.Create(c.Request.Context(), kw); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to create keyword", Details: err.Error()})
		return
	}
	s.cfg.Filter.Invalidate()
	c.JSON(http.StatusCreated, kw)
}

type patchKeywordRequest struct {
	IsActive *bool   `json:"isActive,omitempty"`
	Notes    *string `json:"notes,omitempty"`
}

// patchKeyword updates a keyword's active flag and/or notes.
// @Summary Update an exclusion keyword
// @Tags Keywords
// @Accept json
// @Produce json
// @Param id path string true "Keyword ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Router /keywords/{id} [patch]
func (s *Server) patchKeyword(c *gin.Context) {
	id := c.Param("id")
	var req patchKeywordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no fields to update"})
		return
	}
	updates["updated_at"] = time.Now().Unix()

	if err := s.cfg.Keywords.Update(c.Request.Context(), id, updates); err != nil {
		status := http.StatusInternalServerError
		if err == repository.ErrNotFound {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "failed to update keyword", Details: err.Error()})
		return
	}
	s.cfg.Filter.Invalidate()
	c.JSON(http.StatusOK, SuccessResponse{Message: "keyword updated"})
}

// deleteKeyword removes an exclusion keyword.
// @Summary Delete an exclusion keyword
// @Tags Keywords
// @Produce json
// @Param id path string true "Keyword ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Router /keywords/{id} [delete]
func (s *Server) deleteKeyword(c *gin.Context) {
	id := c.Param("id")
	if err := s.cfg.Keywords.Delete(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if err == repository.ErrNotFound {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "failed to delete keyword", Details: err.Error()})
		return
	}
	s.cfg.Filter.Invalidate()
	c.JSON(http.StatusOK, SuccessResponse{Message: "keyword deleted"})
}

type testKeywordRequest struct {
	Keyword string   `json:"keyword" binding:"required"`
	Names   []string `json:"names" binding:"required,min=1"`
}

type testKeywordMatch struct {
	Name    string `json:"name"`
	Matches bool   `json:"matches"`
}

// testKeyword runs candidate names against one keyword without touching
// the stored list or any record, for admins validating a keyword's reach
// before activating it.
// @Summary Test names against a candidate exclusion keyword
// @Tags Keywords
// @Accept json
// @Produce json
// @Success 200 {object} SuccessResponse
// @Router /keywords/test [post]
func (s *Server) testKeyword(c *gin.Context) {
	var req testKeywordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}
	results := make([]testKeywordMatch, len(req.Names))
	for i, name := range req.Names {
		results[i] = testKeywordMatch{
			Name:    name,
			Matches: exclusion.MatchesKeyword(req.Keyword, name),
		}
	}
	c.JSON(http.StatusOK, gin.H{"keyword": req.Keyword, "results": results})
}

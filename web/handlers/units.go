package handlers

import (
	"context"
	"net/http"
	"strings"

	apperrors "brazier/errors"
	"brazier/knowledge"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UnitAdminStore is the knowledge-unit CRUD surface exposed to reviewers.
type UnitAdminStore interface {
	GetUnit(ctx context.Context, id uuid.UUID) (knowledge.Unit, error)
	UpdateUnitContent(ctx context.Context, id uuid.UUID, content string, entities map[string]any) error
	DeleteUnit(ctx context.Context, id uuid.UUID) error
}

type UnitsHandler struct {
	store  UnitAdminStore
	logger *zap.Logger
}

type UnitUpdateRequest struct {
	Content  string         `json:"content"`
	Entities map[string]any `json:"entities"`
}

func NewUnitsHandler(store UnitAdminStore, logger *zap.Logger) *UnitsHandler {
	return &UnitsHandler{store: store, logger: logger}
}

// Get handles GET /api/knowledge/units/:id.
func (h *UnitsHandler) Get(c *gin.Context) {
	id, ok := h.unitID(c)
	if !ok {
		return
	}

	unit, err := h.store.GetUnit(c.Request.Context(), id)
	if err != nil {
		if apperrors.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "knowledge unit not found"})
			return
		}
		h.logger.Error("Failed to load knowledge unit", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load knowledge unit"})
		return
	}
	c.JSON(http.StatusOK, unit)
}

// Update handles PUT /api/knowledge/units/:id. Changing the content resets
// the unit's embedding, so the stale vector can never be retrieved against
// the new text.
func (h *UnitsHandler) Update(c *gin.Context) {
	id, ok := h.unitID(c)
	if !ok {
		return
	}

	var req UnitUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	if err := h.store.UpdateUnitContent(c.Request.Context(), id, req.Content, req.Entities); err != nil {
		if apperrors.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "knowledge unit not found"})
			return
		}
		h.logger.Error("Failed to update knowledge unit", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update knowledge unit"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated", "embedding_status": knowledge.EmbeddingPending})
}

// Delete handles DELETE /api/knowledge/units/:id.
func (h *UnitsHandler) Delete(c *gin.Context) {
	id, ok := h.unitID(c)
	if !ok {
		return
	}

	if err := h.store.DeleteUnit(c.Request.Context(), id); err != nil {
		if apperrors.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "knowledge unit not found"})
			return
		}
		h.logger.Error("Failed to delete knowledge unit", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete knowledge unit"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *UnitsHandler) unitID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid knowledge unit id"})
		return uuid.Nil, false
	}
	return id, true
}

package handlers

import (
	"net/http"

	"brazier/embedding"
	apperrors "brazier/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EmbeddingsHandler struct {
	pipeline *embedding.Pipeline
	logger   *zap.Logger
}

type GenerateRequest struct {
	KnowledgeUnitID string `json:"knowledge_unit_id"`
	BatchProcess    bool   `json:"batch_process"`
}

func NewEmbeddingsHandler(pipeline *embedding.Pipeline, logger *zap.Logger) *EmbeddingsHandler {
	return &EmbeddingsHandler{pipeline: pipeline, logger: logger}
}

// Generate handles POST /api/embeddings/generate. With a knowledge_unit_id it
// embeds that one unit; without, it sweeps a batch of units missing vectors.
// batch_process takes precedence: when set, the unit id is ignored.
func (h *EmbeddingsHandler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.KnowledgeUnitID != "" && !req.BatchProcess {
		id, err := uuid.Parse(req.KnowledgeUnitID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid knowledge_unit_id"})
			return
		}
		if err := h.pipeline.GenerateSingle(c.Request.Context(), id); err != nil {
			switch {
			case apperrors.IsNotFound(err):
				c.JSON(http.StatusNotFound, gin.H{"error": "knowledge unit not found"})
			case apperrors.IsInvalidInput(err):
				c.JSON(http.StatusConflict, gin.H{"error": "unit is already embedded or in progress"})
			default:
				h.logger.Error("Single embedding generation failed",
					zap.String("unit_id", id.String()), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "embedding generation failed"})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "embedding generated"})
		return
	}

	report, err := h.pipeline.GenerateBatch(c.Request.Context())
	if err != nil {
		h.logger.Error("Batch embedding generation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "batch embedding generation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":        "batch embedding generation complete",
		"processedCount": report.Processed,
		"totalFound":     report.Found,
		"failedCount":    report.Failed,
		"skippedCount":   report.Skipped,
	})
}

package handlers

import (
	"context"
	"net/http"

	apperrors "brazier/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QueryLogStore updates user feedback on logged queries.
type QueryLogStore interface {
	SetQueryFeedback(ctx context.Context, id uuid.UUID, feedback int) error
}

type FeedbackHandler struct {
	store  QueryLogStore
	logger *zap.Logger
}

type FeedbackRequest struct {
	Feedback int `json:"feedback"`
}

func NewFeedbackHandler(store QueryLogStore, logger *zap.Logger) *FeedbackHandler {
	return &FeedbackHandler{store: store, logger: logger}
}

// SetFeedback handles POST /api/query-logs/:id/feedback.
func (h *FeedbackHandler) SetFeedback(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query log id"})
		return
	}

	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Feedback != -1 && req.Feedback != 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "feedback must be -1 or 1"})
		return
	}

	if err := h.store.SetQueryFeedback(c.Request.Context(), id, req.Feedback); err != nil {
		if apperrors.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "query log not found"})
			return
		}
		h.logger.Error("Failed to record feedback", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record feedback"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

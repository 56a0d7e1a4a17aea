package handlers

import (
	"net/http"

	"brazier/answer"
	apperrors "brazier/errors"
	"brazier/knowledge"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ChatHandler struct {
	service *answer.Service
	logger  *zap.Logger
}

type ChatRequest struct {
	Message    string `json:"message"`
	Category   string `json:"category"`
	Importance string `json:"importance"`
}

func NewChatHandler(service *answer.Service, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{service: service, logger: logger}
}

// Chat handles POST /api/chat: the full hybrid retrieval pipeline.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	category, importance, ok := parseFilters(req.Category, req.Importance)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category or importance filter"})
		return
	}

	resp, err := h.service.Answer(c.Request.Context(), req.Message, category, importance)
	if err != nil {
		if apperrors.IsInvalidInput(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message content is empty"})
			return
		}
		h.logger.Error("Chat request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate a response"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ChatSimple handles POST /api/chat/simple: the degraded, vector-free
// variant. It only ever fails on bad input; internal errors become the
// apologetic fallback response.
func (h *ChatHandler) ChatSimple(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	resp, err := h.service.AnswerSimple(c.Request.Context(), req.Message)
	if err != nil {
		if apperrors.IsInvalidInput(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message content is empty"})
			return
		}
		h.logger.Error("Simple chat request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    "failed to generate a response",
			"response": answer.FallbackResponse,
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// parseFilters maps the wire filter values onto typed enums. Empty and "all"
// both mean no filter; anything else must be a known value.
func parseFilters(rawCategory, rawImportance string) (knowledge.Category, knowledge.Importance, bool) {
	var category knowledge.Category
	if rawCategory != "" && rawCategory != "all" {
		category = knowledge.Category(rawCategory)
		if !category.Valid() {
			return "", "", false
		}
	}
	var importance knowledge.Importance
	if rawImportance != "" && rawImportance != "all" {
		importance = knowledge.Importance(rawImportance)
		if !importance.Valid() {
			return "", "", false
		}
	}
	return category, importance, true
}

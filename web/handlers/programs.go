package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProgramStore registers school/program pairs in the curated catalog.
type ProgramStore interface {
	UpsertProgram(ctx context.Context, school, program, programType string) (uuid.UUID, error)
}

type ProgramsHandler struct {
	store  ProgramStore
	logger *zap.Logger
}

type ProgramRequest struct {
	SchoolName  string `json:"school_name"`
	ProgramName string `json:"program_name"`
	ProgramType string `json:"program_type"`
}

func NewProgramsHandler(store ProgramStore, logger *zap.Logger) *ProgramsHandler {
	return &ProgramsHandler{store: store, logger: logger}
}

// Upsert handles POST /api/programs: registers a school/program pair so
// academic tracks can attach to it. Re-posting an existing pair returns the
// same id.
func (h *ProgramsHandler) Upsert(c *gin.Context) {
	var req ProgramRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.SchoolName = strings.TrimSpace(req.SchoolName)
	req.ProgramName = strings.TrimSpace(req.ProgramName)
	if req.SchoolName == "" || req.ProgramName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "school_name and program_name are required"})
		return
	}

	id, err := h.store.UpsertProgram(c.Request.Context(), req.SchoolName, req.ProgramName, req.ProgramType)
	if err != nil {
		h.logger.Error("Failed to upsert program", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save program"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

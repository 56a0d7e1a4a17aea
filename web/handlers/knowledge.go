package handlers

import (
	"net/http"
	"strings"

	"brazier/cache"
	apperrors "brazier/errors"
	"brazier/ingest"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type KnowledgeHandler struct {
	analyzer *ingest.Analyzer
	importer *ingest.Importer
	cache    *cache.AnalysisCache
	logger   *zap.Logger
}

type AnalyzeRequest struct {
	Text         string `json:"text"`
	DocumentName string `json:"document_name"`
	DocumentID   string `json:"document_id"`
}

type UploadRequest struct {
	KnowledgeItems []ingest.QAPair `json:"knowledge_items"`
	SourceName     string          `json:"source_name"`
}

func NewKnowledgeHandler(analyzer *ingest.Analyzer, importer *ingest.Importer, analysisCache *cache.AnalysisCache, logger *zap.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{
		analyzer: analyzer,
		importer: importer,
		cache:    analysisCache,
		logger:   logger,
	}
}

// Analyze handles POST /api/knowledge/analyze: segments a document into
// knowledge units. Results are cached per document id so re-opening the same
// document skips the extraction model.
func (h *KnowledgeHandler) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.DocumentID != "" {
		if result, ok := h.cache.Get(req.DocumentID, req.DocumentName); ok {
			c.JSON(http.StatusOK, gin.H{"result": result, "cached": true})
			return
		}
	}

	result, err := h.analyzer.AnalyzeDocument(c.Request.Context(), req.DocumentName, req.Text)
	if err != nil {
		switch {
		case apperrors.IsInvalidInput(err):
			c.JSON(http.StatusBadRequest, gin.H{"error": "text content is too short for analysis"})
		case apperrors.IsMalformedOutput(err):
			h.logger.Error("Analysis produced malformed output", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "analysis response was not usable"})
		default:
			h.logger.Error("Document analysis failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "document analysis failed"})
		}
		return
	}

	if req.DocumentID != "" {
		h.cache.Put(req.DocumentID, req.DocumentName, result)
	}
	c.JSON(http.StatusOK, gin.H{"result": result, "cached": false})
}

// Upload handles POST /api/knowledge/upload. A JSON body carries parsed
// question/answer items under knowledge_items; a multipart body carries a raw
// CSV file with question and answer columns. Both land as pre-approved
// knowledge units awaiting embedding.
func (h *KnowledgeHandler) Upload(c *gin.Context) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		h.uploadCSV(c)
		return
	}

	var req UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.KnowledgeItems) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "knowledge_items is required"})
		return
	}
	sourceName := req.SourceName
	if sourceName == "" {
		sourceName = "qa_upload"
	}

	report := h.importer.ImportPairs(c.Request.Context(), req.KnowledgeItems, sourceName)
	c.JSON(http.StatusOK, uploadResponse(report))
}

func (h *KnowledgeHandler) uploadCSV(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing CSV file"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("Failed to open uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
		return
	}
	defer file.Close()

	report, err := h.importer.ImportCSV(c.Request.Context(), file, fileHeader.Filename)
	if err != nil {
		if apperrors.IsInvalidInput(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("CSV import failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "CSV import failed"})
		return
	}
	c.JSON(http.StatusOK, uploadResponse(report))
}

// uploadResponse is the import wire shape. Error messages are capped at ten
// so a large broken file cannot balloon the response.
func uploadResponse(report ingest.ImportReport) gin.H {
	errs := report.Errors
	if len(errs) > 10 {
		errs = errs[:10]
	}
	return gin.H{
		"success":        report.Failed == 0,
		"processed":      report.Total,
		"successCount":   report.Inserted,
		"duplicateCount": report.Duplicates,
		"errorCount":     report.Failed,
		"errors":         errs,
	}
}

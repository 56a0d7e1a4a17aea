package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	apperrors "brazier/errors"
	"brazier/knowledge"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UnitStore is the persistence surface Q&A import needs.
type UnitStore interface {
	InsertUnit(ctx context.Context, unit knowledge.Unit) error
	FindUnitIDByFingerprint(ctx context.Context, fingerprint string) (uuid.UUID, error)
}

// QAPair is one question/answer item to import.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ImportReport summarizes one import run. Errors holds one message per
// failed item; a failed item never aborts the run.
type ImportReport struct {
	Total      int      `json:"total"`
	Inserted   int      `json:"inserted"`
	Duplicates int      `json:"duplicates"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// Importer loads question/answer pairs as pre-approved knowledge units,
// either from parsed items or from a raw CSV stream.
type Importer struct {
	store  UnitStore
	logger *zap.Logger
}

func NewImporter(store UnitStore, logger *zap.Logger) *Importer {
	return &Importer{store: store, logger: logger}
}

// ImportPairs inserts each pair as a knowledge unit awaiting embedding.
// Pairs whose content fingerprint matches an earlier pair or a persisted
// unit are skipped, so re-submitting the same items is idempotent.
func (im *Importer) ImportPairs(ctx context.Context, pairs []QAPair, sourceName string) ImportReport {
	report := ImportReport{}
	seen := make(map[string]struct{})
	for i, pair := range pairs {
		im.importPair(ctx, i+1, pair, sourceName, seen, &report)
	}
	im.logReport(sourceName, report)
	return report
}

// ImportCSV reads a UTF-8 CSV with "question" and "answer" columns and
// imports each row with the same dedup and error semantics as ImportPairs.
func (im *Importer) ImportCSV(ctx context.Context, r io.Reader, sourceName string) (ImportReport, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return ImportReport{}, fmt.Errorf("%w: failed to read CSV header: %v", apperrors.ErrInvalidInput, err)
	}
	questionCol, answerCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "question":
			questionCol = i
		case "answer":
			answerCol = i
		}
	}
	if questionCol < 0 || answerCol < 0 {
		return ImportReport{}, fmt.Errorf(`%w: CSV must contain "question" and "answer" columns`, apperrors.ErrInvalidInput)
	}

	report := ImportReport{}
	seen := make(map[string]struct{})
	rowNum := 1
	for {
		rowNum++
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("row %d: %v", rowNum, err))
			continue
		}
		if questionCol >= len(record) || answerCol >= len(record) {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("row %d: missing question or answer column", rowNum))
			continue
		}

		pair := QAPair{Question: record[questionCol], Answer: record[answerCol]}
		im.importPair(ctx, rowNum, pair, sourceName, seen, &report)
	}

	im.logReport(sourceName, report)
	return report, nil
}

func (im *Importer) importPair(ctx context.Context, itemNum int, pair QAPair, sourceName string, seen map[string]struct{}, report *ImportReport) {
	question := strings.TrimSpace(pair.Question)
	answer := strings.TrimSpace(pair.Answer)
	if question == "" || answer == "" {
		report.Failed++
		report.Errors = append(report.Errors, fmt.Sprintf("row %d: empty question or answer", itemNum))
		return
	}
	report.Total++

	content := fmt.Sprintf("问题: %s\n回答: %s", question, answer)
	fingerprint := knowledge.Fingerprint(content)
	if _, dup := seen[fingerprint]; dup {
		report.Duplicates++
		return
	}
	seen[fingerprint] = struct{}{}

	existingID, err := im.store.FindUnitIDByFingerprint(ctx, fingerprint)
	if err != nil {
		report.Failed++
		report.Errors = append(report.Errors, fmt.Sprintf("row %d: %v", itemNum, err))
		return
	}
	if existingID != uuid.Nil {
		report.Duplicates++
		return
	}

	unit := knowledge.Unit{
		ID:      uuid.New(),
		Content: content,
		Entities: map[string]any{
			"question": question,
			"answer":   answer,
		},
		Category:        knowledge.CategoryExperienceGuide,
		Importance:      knowledge.ImportanceMedium,
		Confidence:      knowledge.ConfidenceGeneral,
		Timeliness:      knowledge.TimelinessCurrent,
		SourceName:      sourceName,
		EmbeddingStatus: knowledge.EmbeddingPending,
		ReviewStatus:    knowledge.ReviewApproved,
	}
	if err := im.store.InsertUnit(ctx, unit); err != nil {
		report.Failed++
		report.Errors = append(report.Errors, fmt.Sprintf("row %d: %v", itemNum, err))
		return
	}
	report.Inserted++
}

func (im *Importer) logReport(sourceName string, report ImportReport) {
	im.logger.Info("Q&A import complete",
		zap.String("source", sourceName),
		zap.Int("total", report.Total),
		zap.Int("inserted", report.Inserted),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("failed", report.Failed))
}

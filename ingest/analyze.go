package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "brazier/errors"
	"brazier/knowledge"
	"brazier/llmclient"
	"brazier/prompts"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChatCaller is the slice of the LLM client document analysis needs.
type ChatCaller interface {
	Chat(ctx context.Context, model string, messages []llmclient.Message, jsonMode bool, temperature *float64) (string, error)
}

// AnalysisResult is a segmented document: validated, standardized,
// deduplicated knowledge units plus a document summary.
type AnalysisResult struct {
	Units        []knowledge.Unit `json:"units"`
	Summary      string           `json:"summary"`
	AutoApproved bool             `json:"auto_approved"`
	Dropped      int              `json:"dropped"`
}

// Analyzer segments long documents into knowledge units via the extraction
// model.
type Analyzer struct {
	llm      ChatCaller
	model    string
	minChars int
	logger   *zap.Logger
}

func NewAnalyzer(llm ChatCaller, model string, minChars int, logger *zap.Logger) *Analyzer {
	if minChars <= 0 {
		minChars = 100
	}
	return &Analyzer{llm: llm, model: model, minChars: minChars, logger: logger}
}

// rawUnit is the loose shape the model emits. Everything beyond the known
// fields lands in the entities map.
type rawAnalysis struct {
	Units        []map[string]any `json:"units"`
	Summary      string           `json:"summary"`
	AutoApproved bool             `json:"autoApproved"`
}

// AnalyzeDocument runs the segmentation prompt over the document text and
// validates each emitted unit field by field. Units missing a title or
// content are dropped silently; a malformed response as a whole is an error.
func (a *Analyzer) AnalyzeDocument(ctx context.Context, documentName, text string) (AnalysisResult, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < a.minChars {
		return AnalysisResult{}, fmt.Errorf("%w: text content is too short for analysis", apperrors.ErrInvalidInput)
	}

	temperature := 0.2
	raw, err := a.llm.Chat(ctx, a.model, []llmclient.Message{
		{Role: "system", Content: prompts.AnalyzeKnowledge()},
		{Role: "user", Content: fmt.Sprintf("Document Name: %s\n\nDocument Content:\n%s", documentName, text)},
	}, true, &temperature)
	if err != nil {
		return AnalysisResult{}, err
	}

	var parsed rawAnalysis
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return AnalysisResult{}, fmt.Errorf("%w: analysis response was not valid JSON: %v", apperrors.ErrMalformedOutput, err)
	}
	if parsed.Units == nil {
		return AnalysisResult{}, fmt.Errorf("%w: analysis response has no units array", apperrors.ErrMalformedOutput)
	}

	review := knowledge.ReviewPending
	if parsed.AutoApproved {
		review = knowledge.ReviewApproved
	}

	var units []knowledge.Unit
	dropped := 0
	for _, rawUnit := range parsed.Units {
		unit, ok := a.buildUnit(rawUnit, documentName, review)
		if !ok {
			dropped++
			continue
		}
		units = append(units, unit)
	}
	if dropped > 0 {
		a.logger.Warn("Dropped invalid units from analysis",
			zap.String("document", documentName), zap.Int("dropped", dropped))
	}

	units = knowledge.DeduplicateUnits(units)
	return AnalysisResult{
		Units:        units,
		Summary:      parsed.Summary,
		AutoApproved: parsed.AutoApproved,
		Dropped:      dropped,
	}, nil
}

// buildUnit validates one emitted unit. A unit needs a non-empty 项目名称 and
// content; every other field degrades to a default when absent or invalid.
func (a *Analyzer) buildUnit(raw map[string]any, documentName string, review knowledge.ReviewStatus) (knowledge.Unit, bool) {
	title, _ := raw["项目名称"].(string)
	content, _ := raw["content"].(string)
	if strings.TrimSpace(title) == "" || strings.TrimSpace(content) == "" {
		return knowledge.Unit{}, false
	}

	labels := knowledge.StandardizeLabels(stringSlice(raw["labels"]))

	importance := knowledge.ImportanceMedium
	if v, _ := raw["importance"].(string); knowledge.Importance(v).Valid() {
		importance = knowledge.Importance(v)
	}
	category := knowledge.CategoryExperienceGuide
	if v, _ := raw["category"].(string); knowledge.Category(v).Valid() {
		category = knowledge.Category(v)
	}

	// Everything the model extracted beyond the typed fields is preserved as
	// structured entities, the title included.
	entities := make(map[string]any, len(raw))
	for key, value := range raw {
		switch key {
		case "content", "labels", "importance", "category":
			continue
		}
		entities[key] = value
	}

	return knowledge.Unit{
		ID:              uuid.New(),
		Content:         strings.TrimSpace(content),
		Entities:        entities,
		Labels:          labels,
		Keywords:        labels,
		Category:        category,
		Importance:      importance,
		Confidence:      knowledge.ConfidenceGeneral,
		Timeliness:      knowledge.TimelinessCurrent,
		SourceName:      documentName,
		EmbeddingStatus: knowledge.EmbeddingPending,
		ReviewStatus:    review,
	}, true
}

func stringSlice(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

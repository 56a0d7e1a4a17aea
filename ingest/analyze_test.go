package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	apperrors "brazier/errors"
	"brazier/knowledge"
	"brazier/llmclient"

	"go.uber.org/zap"
)

type stubChat struct {
	response string
	err      error
}

func (c *stubChat) Chat(_ context.Context, _ string, _ []llmclient.Message, _ bool, _ *float64) (string, error) {
	return c.response, c.err
}

func longText() string {
	return strings.Repeat("海军航空大学的招飞初检通常在每年10月至11月进行。", 10)
}

func TestAnalyzeDocumentRejectsShortText(t *testing.T) {
	analyzer := NewAnalyzer(&stubChat{}, "extract-model", 100, zap.NewNop())
	_, err := analyzer.AnalyzeDocument(context.Background(), "doc", "太短")
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("short text = %v, want ErrInvalidInput", err)
	}
}

func TestAnalyzeDocumentBuildsUnits(t *testing.T) {
	chat := &stubChat{response: `{
        "units": [
            {
                "项目名称": "招飞初检",
                "content": "招飞初检在每年10月至11月进行，包含眼科等身体检查。",
                "项目性质": "招生流程",
                "labels": ["宁诺", "招飞", "招飞"],
                "importance": "high",
                "category": "admission_data"
            },
            {
                "项目名称": "体检标准",
                "content": "体检标准参照军队院校标准，视力要求严格。",
                "labels": ["体检"],
                "importance": "not-a-level"
            }
        ],
        "summary": "招飞流程概述。",
        "autoApproved": false
    }`}
	analyzer := NewAnalyzer(chat, "extract-model", 100, zap.NewNop())

	result, err := analyzer.AnalyzeDocument(context.Background(), "招飞指南.pdf", longText())
	if err != nil {
		t.Fatalf("AnalyzeDocument: %v", err)
	}
	if len(result.Units) != 2 {
		t.Fatalf("got %d units, want 2", len(result.Units))
	}

	first := result.Units[0]
	if first.Category != knowledge.CategoryAdmissionData || first.Importance != knowledge.ImportanceHigh {
		t.Errorf("first unit classification = %s/%s", first.Category, first.Importance)
	}
	// Labels are standardized and deduplicated; the abbreviation expands.
	if len(first.Labels) != 2 || first.Labels[0] != "宁波诺丁汉大学" {
		t.Errorf("labels = %v, want [宁波诺丁汉大学 招飞]", first.Labels)
	}
	if first.Entities["项目名称"] != "招飞初检" || first.Entities["项目性质"] != "招生流程" {
		t.Errorf("entities = %v, want title and extra fields preserved", first.Entities)
	}
	if first.ReviewStatus != knowledge.ReviewPending {
		t.Errorf("review status = %s, want pending without autoApproved", first.ReviewStatus)
	}
	if first.EmbeddingStatus != knowledge.EmbeddingPending {
		t.Errorf("embedding status = %s, want pending", first.EmbeddingStatus)
	}

	// Invalid importance degrades to medium.
	if result.Units[1].Importance != knowledge.ImportanceMedium {
		t.Errorf("invalid importance became %s, want medium", result.Units[1].Importance)
	}
	if result.Summary != "招飞流程概述。" {
		t.Errorf("summary = %q", result.Summary)
	}
}

func TestAnalyzeDocumentDropsInvalidUnits(t *testing.T) {
	chat := &stubChat{response: `{
        "units": [
            {"项目名称": "", "content": "有内容但没有标题。"},
            {"项目名称": "有标题", "content": ""},
            {"项目名称": "完整单元", "content": "这一条是有效的知识单元内容。"}
        ],
        "summary": ""
    }`}
	analyzer := NewAnalyzer(chat, "extract-model", 100, zap.NewNop())

	result, err := analyzer.AnalyzeDocument(context.Background(), "doc", longText())
	if err != nil {
		t.Fatalf("AnalyzeDocument: %v", err)
	}
	if len(result.Units) != 1 || result.Dropped != 2 {
		t.Errorf("units = %d dropped = %d, want 1 kept and 2 dropped", len(result.Units), result.Dropped)
	}
}

func TestAnalyzeDocumentDeduplicates(t *testing.T) {
	chat := &stubChat{response: `{
        "units": [
            {"项目名称": "A", "content": "同样的内容。"},
            {"项目名称": "B", "content": "同样的内容！"}
        ]
    }`}
	analyzer := NewAnalyzer(chat, "extract-model", 100, zap.NewNop())

	result, err := analyzer.AnalyzeDocument(context.Background(), "doc", longText())
	if err != nil {
		t.Fatalf("AnalyzeDocument: %v", err)
	}
	if len(result.Units) != 1 {
		t.Errorf("got %d units, want 1 after fingerprint dedup", len(result.Units))
	}
}

func TestAnalyzeDocumentMalformedResponse(t *testing.T) {
	analyzer := NewAnalyzer(&stubChat{response: "not json"}, "extract-model", 100, zap.NewNop())
	_, err := analyzer.AnalyzeDocument(context.Background(), "doc", longText())
	if !errors.Is(err, apperrors.ErrMalformedOutput) {
		t.Errorf("malformed response = %v, want ErrMalformedOutput", err)
	}
}

func TestAnalyzeDocumentAutoApproved(t *testing.T) {
	chat := &stubChat{response: `{
        "units": [{"项目名称": "A", "content": "已核验的内容。"}],
        "autoApproved": true
    }`}
	analyzer := NewAnalyzer(chat, "extract-model", 100, zap.NewNop())

	result, err := analyzer.AnalyzeDocument(context.Background(), "doc", longText())
	if err != nil {
		t.Fatalf("AnalyzeDocument: %v", err)
	}
	if result.Units[0].ReviewStatus != knowledge.ReviewApproved {
		t.Errorf("autoApproved units must be approved, got %s", result.Units[0].ReviewStatus)
	}
}

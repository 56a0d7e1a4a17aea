package retrieval

import (
	"context"
	"testing"

	apperrors "brazier/errors"

	"go.uber.org/zap"
)

func TestUnderstandParsesExtraction(t *testing.T) {
	chat := &stubChat{response: `{"keywords":["学费","奖学金"],"schools":["宁诺"],"majors":["商科"]}`}
	u := NewUnderstander(chat, "extract-model", zap.NewNop())

	entities := u.Understand(context.Background(), "宁诺商科学费多少，有奖学金吗")
	if len(entities.Keywords) != 2 {
		t.Errorf("keywords = %v, want 2 entries", entities.Keywords)
	}
	// Abbreviations expand to canonical names for array matching.
	if len(entities.Schools) != 1 || entities.Schools[0] != "宁波诺丁汉大学" {
		t.Errorf("schools = %v, want [宁波诺丁汉大学]", entities.Schools)
	}
	if len(entities.Majors) != 1 || entities.Majors[0] != "商科" {
		t.Errorf("majors = %v, want [商科]", entities.Majors)
	}
}

func TestUnderstandStripsCodeFences(t *testing.T) {
	chat := &stubChat{response: "```json\n{\"keywords\":[\"学费\"],\"schools\":[],\"majors\":[]}\n```"}
	u := NewUnderstander(chat, "extract-model", zap.NewNop())

	entities := u.Understand(context.Background(), "学费")
	if len(entities.Keywords) != 1 || entities.Keywords[0] != "学费" {
		t.Errorf("keywords = %v, want [学费]", entities.Keywords)
	}
}

func TestUnderstandFallsBackOnProviderError(t *testing.T) {
	chat := &stubChat{err: apperrors.ErrProvider}
	u := NewUnderstander(chat, "extract-model", zap.NewNop())

	entities := u.Understand(context.Background(), "computer science application deadline")
	if len(entities.Keywords) == 0 {
		t.Fatal("fallback must tokenize the raw query into keywords")
	}
	if len(entities.Schools) != 0 || len(entities.Majors) != 0 {
		t.Errorf("fallback must leave schools/majors empty, got %v / %v", entities.Schools, entities.Majors)
	}
}

func TestUnderstandFallsBackOnMalformedJSON(t *testing.T) {
	chat := &stubChat{response: "not json at all"}
	u := NewUnderstander(chat, "extract-model", zap.NewNop())

	entities := u.Understand(context.Background(), "申请 deadline 是什么时候")
	if len(entities.Keywords) == 0 {
		t.Fatal("fallback must produce keywords from the query text")
	}
}

func TestSearchTermsDeduplicates(t *testing.T) {
	entities := QueryEntities{
		Keywords: []string{"学费", "宁波诺丁汉大学"},
		Schools:  []string{"宁波诺丁汉大学"},
		Majors:   []string{"商科", ""},
	}
	terms := entities.SearchTerms()
	want := []string{"学费", "宁波诺丁汉大学", "商科"}
	if len(terms) != len(want) {
		t.Fatalf("terms = %v, want %v", terms, want)
	}
	for i := range want {
		if terms[i] != want[i] {
			t.Errorf("terms[%d] = %q, want %q", i, terms[i], want[i])
		}
	}
}

func TestTokenizeQueryEmpty(t *testing.T) {
	if keywords := tokenizeQuery(""); len(keywords) != 0 {
		t.Errorf("empty query tokenized to %v", keywords)
	}
}

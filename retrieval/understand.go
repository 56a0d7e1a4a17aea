package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"brazier/knowledge"
	"brazier/llmclient"
	"brazier/prompts"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"
)

// QueryEntities is the structured reading of a user query: the schools and
// majors it mentions plus any other search-worthy terms.
type QueryEntities struct {
	Keywords []string `json:"keywords"`
	Schools  []string `json:"schools"`
	Majors   []string `json:"majors"`
}

// ChatCaller is the slice of the LLM client query understanding needs.
type ChatCaller interface {
	Chat(ctx context.Context, model string, messages []llmclient.Message, jsonMode bool, temperature *float64) (string, error)
}

// Understander extracts entities from user queries via the extraction model,
// degrading to plain tokenization when the provider misbehaves.
type Understander struct {
	llm    ChatCaller
	model  string
	logger *zap.Logger
}

func NewUnderstander(llm ChatCaller, model string, logger *zap.Logger) *Understander {
	return &Understander{llm: llm, model: model, logger: logger}
}

// Understand never fails: any extraction error falls back to tokenizing the
// raw query into keywords, leaving schools and majors empty. School names are
// run through the label synonym table so abbreviations match the canonical
// names stored on units.
func (u *Understander) Understand(ctx context.Context, query string) QueryEntities {
	extracted, err := u.extract(ctx, query)
	if err != nil {
		u.logger.Warn("Query understanding failed, falling back to tokenization", zap.Error(err))
		return QueryEntities{Keywords: tokenizeQuery(query)}
	}

	extracted.Keywords = dropEmpty(extracted.Keywords)
	extracted.Schools = knowledge.StandardizeLabels(extracted.Schools)
	extracted.Majors = dropEmpty(extracted.Majors)
	return extracted
}

func (u *Understander) extract(ctx context.Context, query string) (QueryEntities, error) {
	temperature := 0.1
	raw, err := u.llm.Chat(ctx, u.model, []llmclient.Message{
		{Role: "system", Content: prompts.QueryUnderstanding()},
		{Role: "user", Content: fmt.Sprintf("User Query: %q", query)},
	}, true, &temperature)
	if err != nil {
		return QueryEntities{}, err
	}

	var entities QueryEntities
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &entities); err != nil {
		return QueryEntities{}, fmt.Errorf("parse entity extraction: %w", err)
	}
	return entities, nil
}

// SearchTerms is the deduplicated union of keywords, schools, and majors used
// by the lexical search branch.
func (e QueryEntities) SearchTerms() []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, group := range [][]string{e.Keywords, e.Schools, e.Majors} {
		for _, term := range group {
			if term == "" {
				continue
			}
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			terms = append(terms, term)
		}
	}
	return terms
}

// tokenizeQuery is the degraded extraction path. Latin text is segmented by
// prose's tokenizer; runs of CJK characters are kept whole since prose has no
// Chinese segmentation.
func tokenizeQuery(query string) []string {
	doc, err := prose.NewDocument(query, prose.WithTagging(false), prose.WithExtraction(false))
	if err != nil {
		return dropEmpty(strings.Fields(query))
	}

	seen := make(map[string]struct{})
	var keywords []string
	for _, tok := range doc.Tokens() {
		text := strings.TrimFunc(tok.Text, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSpace(r)
		})
		if text == "" {
			continue
		}
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		keywords = append(keywords, text)
	}
	return keywords
}

// extractJSONObject trims markdown code fences some providers wrap around
// JSON-mode output.
func extractJSONObject(raw string) string {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			return raw[start : end+1]
		}
	}
	return raw
}

func dropEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}

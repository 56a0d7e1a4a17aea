package answer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"brazier/config"
	apperrors "brazier/errors"
	"brazier/knowledge"
	"brazier/llmclient"
	"brazier/prompts"
	"brazier/retrieval"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FallbackResponse is returned to the user when the degraded chat path itself
// fails. The user always gets a readable answer, never a raw error.
const FallbackResponse = "抱歉，我现在遇到了一些技术问题，无法回答你的问题。请稍后再试，或者尝试换一种方式提问。"

// ChatCaller is the slice of the LLM client answer generation needs.
type ChatCaller interface {
	Chat(ctx context.Context, model string, messages []llmclient.Message, jsonMode bool, temperature *float64) (string, error)
}

// Retriever runs hybrid retrieval for a query.
type Retriever interface {
	Retrieve(ctx context.Context, message string, category knowledge.Category, importance knowledge.Importance) (retrieval.Result, error)
}

// LogStore persists query logs.
type LogStore interface {
	InsertQueryLog(ctx context.Context, log knowledge.QueryLog) error
}

// LexicalStore is the no-vector search surface used by the degraded path.
type LexicalStore interface {
	FullTextSearchUnits(ctx context.Context, queryText string, limit int) ([]knowledge.ScoredUnit, error)
	SearchUnitsBySubstring(ctx context.Context, term string, limit int) ([]knowledge.ScoredUnit, error)
	RecentUnits(ctx context.Context, limit int) ([]knowledge.ScoredUnit, error)
}

// Response is one answered chat turn.
type Response struct {
	Response   string                 `json:"response"`
	Sources    []knowledge.ScoredUnit `json:"sources"`
	QueryLogID uuid.UUID              `json:"query_log_id,omitempty"`
}

// Service generates grounded answers from retrieved context.
type Service struct {
	llm       ChatCaller
	retriever Retriever
	logs      LogStore
	lexical   LexicalStore
	cfg       *config.Config
	logger    *zap.Logger
}

func NewService(llm ChatCaller, retriever Retriever, logs LogStore, lexical LexicalStore, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		llm:       llm,
		retriever: retriever,
		logs:      logs,
		lexical:   lexical,
		cfg:       cfg,
		logger:    logger,
	}
}

// Answer runs the full hybrid pipeline for one user message. category and
// importance optionally narrow the vector search; empty strings mean "all".
func (s *Service) Answer(ctx context.Context, message string, category knowledge.Category, importance knowledge.Importance) (Response, error) {
	if strings.TrimSpace(message) == "" {
		return Response{}, fmt.Errorf("%w: message content is empty", apperrors.ErrInvalidInput)
	}

	started := time.Now()
	result, err := s.retriever.Retrieve(ctx, message, category, importance)
	if err != nil {
		return Response{}, err
	}

	contextText := retrieval.BuildContext(result)
	answerText, err := s.generate(ctx, prompts.RAGSystem(), contextText, message, 0.5)
	if err != nil {
		return Response{}, err
	}

	logID := s.logQuery(ctx, message, answerText, "hybrid", result.Units, time.Since(started))
	return Response{Response: answerText, Sources: result.Units, QueryLogID: logID}, nil
}

// AnswerSimple is the degraded variant: lexical search only, no vectors, no
// query understanding. It is designed to keep answering when the embedding
// provider or the vector index is unavailable, so every internal failure
// degrades further instead of propagating.
func (s *Service) AnswerSimple(ctx context.Context, message string) (Response, error) {
	if strings.TrimSpace(message) == "" {
		return Response{}, fmt.Errorf("%w: message content is empty", apperrors.ErrInvalidInput)
	}

	started := time.Now()
	units := s.lexicalSearch(ctx, message)

	result := retrieval.Result{Units: units}
	answerText, err := s.generate(ctx, prompts.RAGSystem(), retrieval.BuildContext(result), message, 0.7)
	if err != nil {
		s.logger.Error("Degraded chat generation failed", zap.Error(err))
		return Response{Response: FallbackResponse}, nil
	}

	logID := s.logQuery(ctx, message, answerText, "lexical", units, time.Since(started))
	return Response{Response: answerText, Sources: units, QueryLogID: logID}, nil
}

// lexicalSearch tries full-text search, then a substring match on the first
// usable keyword, then just the newest units as generic context.
func (s *Service) lexicalSearch(ctx context.Context, message string) []knowledge.ScoredUnit {
	units, err := s.lexical.FullTextSearchUnits(ctx, message, 5)
	if err != nil {
		s.logger.Warn("Full-text search failed, trying substring match", zap.Error(err))
	}
	if len(units) == 0 {
		if term := firstSearchableWord(message); term != "" {
			units, err = s.lexical.SearchUnitsBySubstring(ctx, term, 5)
			if err != nil {
				s.logger.Warn("Substring search failed", zap.Error(err))
			}
		}
	}
	if len(units) == 0 {
		units, err = s.lexical.RecentUnits(ctx, 3)
		if err != nil {
			s.logger.Warn("Recent-units fallback failed", zap.Error(err))
		}
	}
	return units
}

func (s *Service) generate(ctx context.Context, systemPrompt, contextText, message string, temperature float64) (string, error) {
	userPrompt := fmt.Sprintf(
		"Knowledge Base Context:\n---\n%s\n---\nUser's Question: %s\n\nPlease provide your answer:",
		contextText, message)

	answerText, err := s.llm.Chat(ctx, s.cfg.ChatModel, []llmclient.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}, false, &temperature)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answerText), nil
}

// logQuery records the turn for feedback collection. Logging failures are
// non-fatal: the user still gets their answer.
func (s *Service) logQuery(ctx context.Context, query, response, method string, units []knowledge.ScoredUnit, elapsed time.Duration) uuid.UUID {
	refs := make([]knowledge.RetrievedRef, len(units))
	topSimilarity := 0.0
	for i, unit := range units {
		refs[i] = knowledge.RetrievedRef{ID: unit.ID, Score: unit.Score}
		if unit.Similarity > topSimilarity {
			topSimilarity = unit.Similarity
		}
	}

	log := knowledge.QueryLog{
		ID:               uuid.New(),
		Query:            query,
		Response:         response,
		RetrievedUnits:   refs,
		RetrievalMethod:  method,
		TopSimilarity:    topSimilarity,
		ProcessingTimeMS: elapsed.Milliseconds(),
	}
	if err := s.logs.InsertQueryLog(ctx, log); err != nil {
		s.logger.Warn("Failed to persist query log", zap.Error(err))
		return uuid.Nil
	}
	return log.ID
}

// firstSearchableWord picks the first whitespace-delimited token longer than
// two bytes, mirroring how the degraded path narrows a query to one term.
func firstSearchableWord(message string) string {
	for _, word := range strings.Fields(strings.ToLower(message)) {
		if len(word) > 2 {
			return word
		}
	}
	return ""
}

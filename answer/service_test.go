package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"brazier/config"
	"brazier/database"
	apperrors "brazier/errors"
	"brazier/knowledge"
	"brazier/llmclient"
	"brazier/retrieval"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type fakeRetriever struct {
	result retrieval.Result
	err    error
}

func (r *fakeRetriever) Retrieve(_ context.Context, _ string, _ knowledge.Category, _ knowledge.Importance) (retrieval.Result, error) {
	return r.result, r.err
}

type fakeChat struct {
	response   string
	err        error
	lastUser   string
	lastSystem string
}

func (c *fakeChat) Chat(_ context.Context, _ string, messages []llmclient.Message, _ bool, _ *float64) (string, error) {
	for _, m := range messages {
		switch m.Role {
		case "system":
			c.lastSystem = m.Content
		case "user":
			c.lastUser = m.Content
		}
	}
	return c.response, c.err
}

type fakeLogs struct {
	inserted []knowledge.QueryLog
	err      error
}

func (l *fakeLogs) InsertQueryLog(_ context.Context, log knowledge.QueryLog) error {
	if l.err != nil {
		return l.err
	}
	l.inserted = append(l.inserted, log)
	return nil
}

type fakeLexical struct {
	fullText  []knowledge.ScoredUnit
	substring []knowledge.ScoredUnit
	recent    []knowledge.ScoredUnit
	fullErr   error
}

func (l *fakeLexical) FullTextSearchUnits(_ context.Context, _ string, _ int) ([]knowledge.ScoredUnit, error) {
	return l.fullText, l.fullErr
}

func (l *fakeLexical) SearchUnitsBySubstring(_ context.Context, _ string, _ int) ([]knowledge.ScoredUnit, error) {
	return l.substring, nil
}

func (l *fakeLexical) RecentUnits(_ context.Context, _ int) ([]knowledge.ScoredUnit, error) {
	return l.recent, nil
}

func hit(content string, similarity float64) knowledge.ScoredUnit {
	return knowledge.ScoredUnit{
		Unit: knowledge.Unit{
			ID:         uuid.New(),
			Content:    content,
			Category:   knowledge.CategorySchoolInfo,
			Importance: knowledge.ImportanceHigh,
		},
		Similarity: similarity,
		Score:      similarity,
	}
}

func newTestService(chat *fakeChat, retriever *fakeRetriever, logs *fakeLogs, lexical *fakeLexical) *Service {
	cfg := &config.Config{ChatModel: "chat-model"}
	return NewService(chat, retriever, logs, lexical, cfg, zap.NewNop())
}

// scenarioStore backs end-to-end flows through a real retriever.
type scenarioStore struct {
	vector []knowledge.ScoredUnit
	entity []knowledge.ScoredUnit
}

func (s *scenarioStore) SearchUnits(_ context.Context, _ database.VectorSearchParams) ([]knowledge.ScoredUnit, error) {
	return s.vector, nil
}

func (s *scenarioStore) EnhancedSearchUnits(_ context.Context, _ database.VectorSearchParams) ([]knowledge.ScoredUnit, error) {
	return s.vector, nil
}

func (s *scenarioStore) SearchByEntities(_ context.Context, _, _, _ []string, _ int) ([]knowledge.ScoredUnit, error) {
	return s.entity, nil
}

func (s *scenarioStore) FindProgramIDs(_ context.Context, _ string, _ []string) ([]uuid.UUID, error) {
	return nil, nil
}

func (s *scenarioStore) ApprovedTrackAttributes(_ context.Context, _ []uuid.UUID) ([]knowledge.AcademicTrack, error) {
	return nil, nil
}

func (s *scenarioStore) RecordRetrieval(_ context.Context, _ []uuid.UUID) error {
	return nil
}

// echoChat answers entity extraction with fixed keywords and echoes the
// generation prompt back verbatim, so tests can inspect exactly what context
// the model was given.
type echoChat struct{}

func (echoChat) Chat(_ context.Context, _ string, messages []llmclient.Message, jsonMode bool, _ *float64) (string, error) {
	if jsonMode {
		return `{"keywords":["巴黎","地铁"],"schools":[],"majors":[]}`, nil
	}
	for _, m := range messages {
		if m.Role == "user" {
			return m.Content, nil
		}
	}
	return "", nil
}

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.5, 0.5}, nil
}

func newScenarioService(store *scenarioStore) *Service {
	cfg := &config.Config{
		ChatModel:        "chat-model",
		MatchThreshold:   0.7,
		MatchCount:       10,
		ContextSize:      8,
		KeywordBaseScore: 0.7,
		AgreementBoost:   0.1,
	}
	logger := zap.NewNop()
	understander := retrieval.NewUnderstander(echoChat{}, "extract-model", logger)
	retriever := retrieval.NewRetriever(store, fixedEmbedder{}, understander, cfg, logger)
	return NewService(echoChat{}, retriever, &fakeLogs{}, &fakeLexical{}, cfg, logger)
}

func TestAnswerRanksOnTopicHitFirst(t *testing.T) {
	metro := hit("巴黎地铁购票方式：在地铁站的自动售票机购买单程票。", 0.93)
	flea := hit("柏林跳蚤市场攻略：周日的Mauerpark最热闹。", 0.71)
	store := &scenarioStore{
		vector: []knowledge.ScoredUnit{flea, metro},
		entity: []knowledge.ScoredUnit{{Unit: metro.Unit, MatchScore: 2}},
	}
	service := newScenarioService(store)

	resp, err := service.Answer(context.Background(), "巴黎怎么坐地铁", "", "")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(resp.Sources) != 2 {
		t.Fatalf("sources = %d, want both units", len(resp.Sources))
	}
	if resp.Sources[0].ID != metro.ID {
		t.Errorf("top source = %q, want the metro unit ranked first", resp.Sources[0].Content)
	}
	if resp.Sources[0].Similarity < 0.7 {
		t.Errorf("top similarity = %v, want >= 0.7", resp.Sources[0].Similarity)
	}

	// The echoed prompt shows context order: metro before flea market.
	metroAt := strings.Index(resp.Response, "巴黎地铁购票方式")
	fleaAt := strings.Index(resp.Response, "柏林跳蚤市场攻略")
	if metroAt < 0 || fleaAt < 0 || metroAt > fleaAt {
		t.Errorf("context order wrong: metro at %d, flea market at %d", metroAt, fleaAt)
	}
}

func TestAnswerEmptyContextCarriesNotFoundMarker(t *testing.T) {
	service := newScenarioService(&scenarioStore{})

	resp, err := service.Answer(context.Background(), "火星留学怎么样", "", "")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(resp.Sources) != 0 {
		t.Errorf("sources = %v, want none", resp.Sources)
	}
	// The echoed prompt proves the model saw the explicit not-found marker
	// rather than an empty context block it could fabricate around.
	if !strings.Contains(resp.Response, retrieval.EmptyContextMarker) {
		t.Errorf("generation prompt %q missing the not-found marker", resp.Response)
	}
}

func TestAnswerGroundsPromptInContext(t *testing.T) {
	chat := &fakeChat{response: "宁波诺丁汉大学2024年学费为每年10万元。"}
	retriever := &fakeRetriever{result: retrieval.Result{Units: []knowledge.ScoredUnit{hit("学费为每年10万元。", 0.91)}}}
	logs := &fakeLogs{}
	service := newTestService(chat, retriever, logs, &fakeLexical{})

	resp, err := service.Answer(context.Background(), "宁诺学费多少", "", "")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if resp.Response == "" || len(resp.Sources) != 1 {
		t.Errorf("response = %+v, want answer text and one source", resp)
	}
	if !strings.Contains(chat.lastUser, "学费为每年10万元。") {
		t.Error("retrieved unit content missing from the generation prompt")
	}
	if !strings.Contains(chat.lastUser, "宁诺学费多少") {
		t.Error("user question missing from the generation prompt")
	}
	if !strings.Contains(chat.lastSystem, "聚火盆 AI") {
		t.Error("system prompt is not the assistant contract")
	}
}

func TestAnswerLogsQuery(t *testing.T) {
	chat := &fakeChat{response: "回答"}
	retriever := &fakeRetriever{result: retrieval.Result{Units: []knowledge.ScoredUnit{hit("内容", 0.88)}}}
	logs := &fakeLogs{}
	service := newTestService(chat, retriever, logs, &fakeLexical{})

	resp, err := service.Answer(context.Background(), "问题", "", "")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(logs.inserted) != 1 {
		t.Fatalf("inserted %d query logs, want 1", len(logs.inserted))
	}
	log := logs.inserted[0]
	if log.Query != "问题" || log.Response != "回答" {
		t.Errorf("log = %+v, want query and response recorded", log)
	}
	if log.RetrievalMethod != "hybrid" {
		t.Errorf("retrieval method = %q, want hybrid", log.RetrievalMethod)
	}
	if log.TopSimilarity != 0.88 {
		t.Errorf("top similarity = %v, want 0.88", log.TopSimilarity)
	}
	if len(log.RetrievedUnits) != 1 {
		t.Errorf("logged %d retrieved refs, want 1", len(log.RetrievedUnits))
	}
	if resp.QueryLogID != log.ID {
		t.Error("response must carry the query log id for feedback")
	}
}

func TestAnswerLogFailureIsNonFatal(t *testing.T) {
	chat := &fakeChat{response: "回答"}
	retriever := &fakeRetriever{result: retrieval.Result{}}
	logs := &fakeLogs{err: errors.New("db down")}
	service := newTestService(chat, retriever, logs, &fakeLexical{})

	resp, err := service.Answer(context.Background(), "问题", "", "")
	if err != nil {
		t.Fatalf("Answer must succeed despite a logging failure: %v", err)
	}
	if resp.QueryLogID != uuid.Nil {
		t.Error("query log id must be empty when logging failed")
	}
}

func TestAnswerEmptyMessage(t *testing.T) {
	service := newTestService(&fakeChat{}, &fakeRetriever{}, &fakeLogs{}, &fakeLexical{})
	_, err := service.Answer(context.Background(), "   ", "", "")
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("empty message = %v, want ErrInvalidInput", err)
	}
}

func TestAnswerRetrievalFailurePropagates(t *testing.T) {
	retriever := &fakeRetriever{err: apperrors.ErrProvider}
	service := newTestService(&fakeChat{}, retriever, &fakeLogs{}, &fakeLexical{})

	_, err := service.Answer(context.Background(), "问题", "", "")
	if !errors.Is(err, apperrors.ErrProvider) {
		t.Errorf("retrieval failure = %v, want ErrProvider", err)
	}
}

func TestAnswerSimpleFullTextPath(t *testing.T) {
	chat := &fakeChat{response: "回答"}
	lexical := &fakeLexical{fullText: []knowledge.ScoredUnit{hit("全文命中", 0)}}
	logs := &fakeLogs{}
	service := newTestService(chat, &fakeRetriever{}, logs, lexical)

	resp, err := service.AnswerSimple(context.Background(), "问题")
	if err != nil {
		t.Fatalf("AnswerSimple: %v", err)
	}
	if len(resp.Sources) != 1 {
		t.Errorf("sources = %d, want the full-text hit", len(resp.Sources))
	}
	if len(logs.inserted) != 1 || logs.inserted[0].RetrievalMethod != "lexical" {
		t.Error("degraded path must log with the lexical method")
	}
}

func TestAnswerSimpleFallsBackToRecent(t *testing.T) {
	chat := &fakeChat{response: "回答"}
	lexical := &fakeLexical{recent: []knowledge.ScoredUnit{hit("最新条目", 0)}}
	service := newTestService(chat, &fakeRetriever{}, &fakeLogs{}, lexical)

	resp, err := service.AnswerSimple(context.Background(), "没有任何命中的问题")
	if err != nil {
		t.Fatalf("AnswerSimple: %v", err)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Content != "最新条目" {
		t.Errorf("sources = %v, want the recent-units fallback", resp.Sources)
	}
}

func TestAnswerSimpleAlwaysAnswers(t *testing.T) {
	chat := &fakeChat{err: apperrors.ErrProvider}
	lexical := &fakeLexical{fullErr: errors.New("fts broken")}
	service := newTestService(chat, &fakeRetriever{}, &fakeLogs{}, lexical)

	resp, err := service.AnswerSimple(context.Background(), "问题")
	if err != nil {
		t.Fatalf("AnswerSimple must not fail: %v", err)
	}
	if resp.Response != FallbackResponse {
		t.Errorf("response = %q, want the apologetic fallback", resp.Response)
	}
}

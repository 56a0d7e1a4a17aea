package retrieval

import (
	"context"
	"errors"
	"testing"

	"brazier/config"
	"brazier/database"
	"brazier/knowledge"
	"brazier/llmclient"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type stubStore struct {
	vectorHits       []knowledge.ScoredUnit
	entityHits       []knowledge.ScoredUnit
	vectorErr        error
	entityErr        error
	tracks           []knowledge.AcademicTrack
	programIDs       []uuid.UUID
	recordedIDs      []uuid.UUID
	entityRequests   int
	enhancedRequests int
}

func (s *stubStore) SearchUnits(_ context.Context, _ database.VectorSearchParams) ([]knowledge.ScoredUnit, error) {
	return s.vectorHits, s.vectorErr
}

func (s *stubStore) EnhancedSearchUnits(_ context.Context, _ database.VectorSearchParams) ([]knowledge.ScoredUnit, error) {
	s.enhancedRequests++
	return s.vectorHits, s.vectorErr
}

func (s *stubStore) SearchByEntities(_ context.Context, _, _, _ []string, _ int) ([]knowledge.ScoredUnit, error) {
	s.entityRequests++
	return s.entityHits, s.entityErr
}

func (s *stubStore) FindProgramIDs(_ context.Context, _ string, _ []string) ([]uuid.UUID, error) {
	return s.programIDs, nil
}

func (s *stubStore) ApprovedTrackAttributes(_ context.Context, _ []uuid.UUID) ([]knowledge.AcademicTrack, error) {
	return s.tracks, nil
}

func (s *stubStore) RecordRetrieval(_ context.Context, ids []uuid.UUID) error {
	s.recordedIDs = ids
	return nil
}

type stubEmbedder struct {
	err error
}

func (e *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.5, 0.5}, nil
}

type stubChat struct {
	response string
	err      error
}

func (c *stubChat) Chat(_ context.Context, _ string, _ []llmclient.Message, _ bool, _ *float64) (string, error) {
	return c.response, c.err
}

func testConfig() *config.Config {
	return &config.Config{
		MatchThreshold:   0.7,
		MatchCount:       10,
		ContextSize:      8,
		KeywordBaseScore: 0.7,
		AgreementBoost:   0.1,
	}
}

func newTestRetriever(store *stubStore, embedder *stubEmbedder, chat *stubChat) *Retriever {
	logger := zap.NewNop()
	return NewRetriever(store, embedder, NewUnderstander(chat, "extract-model", logger), testConfig(), logger)
}

func scored(id uuid.UUID, similarity float64) knowledge.ScoredUnit {
	return knowledge.ScoredUnit{
		Unit:       knowledge.Unit{ID: id, Content: "内容"},
		Similarity: similarity,
	}
}

func TestFuseVectorSeedsAndKeywordInsert(t *testing.T) {
	vectorOnly := uuid.New()
	keywordOnly := uuid.New()
	both := uuid.New()

	store := &stubStore{
		vectorHits: []knowledge.ScoredUnit{scored(vectorOnly, 0.92), scored(both, 0.75)},
		entityHits: []knowledge.ScoredUnit{scored(keywordOnly, 0), scored(both, 0)},
	}
	retriever := newTestRetriever(store, &stubEmbedder{}, &stubChat{response: `{"keywords":["宁波诺丁汉大学"],"schools":[],"majors":[]}`})

	result, err := retriever.Retrieve(context.Background(), "宁波诺丁汉大学怎么样", "", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	got := make(map[uuid.UUID]float64, len(result.Units))
	for _, hit := range result.Units {
		got[hit.ID] = hit.Score
	}
	if got[vectorOnly] != 0.92 {
		t.Errorf("vector-only score = %v, want 0.92 (its similarity)", got[vectorOnly])
	}
	if got[keywordOnly] != 0.7 {
		t.Errorf("keyword-only score = %v, want 0.7 (keyword base)", got[keywordOnly])
	}
	// The boost always lands on the similarity: fuse seeds the pool from the
	// vector hits before merging entity hits, so a unit found by both can
	// never enter at the keyword base score first. The base-plus-boost order
	// is unreachable by construction.
	if got[both] != 0.85 {
		t.Errorf("both-branches score = %v, want 0.85 (0.75 + 0.1 boost)", got[both])
	}

	// Ranking follows score descending.
	if result.Units[0].ID != vectorOnly || result.Units[1].ID != both || result.Units[2].ID != keywordOnly {
		t.Errorf("ranking order wrong: %v", result.Units)
	}
	if len(store.recordedIDs) != 3 {
		t.Errorf("recorded %d retrievals, want 3", len(store.recordedIDs))
	}
}

func TestFuseTruncatesToContextSize(t *testing.T) {
	store := &stubStore{}
	for i := 0; i < 12; i++ {
		store.vectorHits = append(store.vectorHits, scored(uuid.New(), 0.9-float64(i)*0.01))
	}
	retriever := newTestRetriever(store, &stubEmbedder{}, &stubChat{response: `{"keywords":[],"schools":[],"majors":[]}`})

	result, err := retriever.Retrieve(context.Background(), "问题", "", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(result.Units) != 8 {
		t.Errorf("got %d units, want 8 (context size cap)", len(result.Units))
	}
	if result.Units[0].Score != 0.9 {
		t.Errorf("top score = %v, want the highest-similarity hit first", result.Units[0].Score)
	}
}

func TestFuseTieBreaksByID(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	store := &stubStore{
		vectorHits: []knowledge.ScoredUnit{scored(b, 0.8), scored(a, 0.8)},
	}
	retriever := newTestRetriever(store, &stubEmbedder{}, &stubChat{response: `{"keywords":[],"schools":[],"majors":[]}`})

	result, err := retriever.Retrieve(context.Background(), "问题", "", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if result.Units[0].ID != a || result.Units[1].ID != b {
		t.Errorf("equal scores must order by id ascending, got %s then %s", result.Units[0].ID, result.Units[1].ID)
	}
}

func TestQualityFloorUsesEnhancedSearch(t *testing.T) {
	store := &stubStore{vectorHits: []knowledge.ScoredUnit{scored(uuid.New(), 0.9)}}
	cfg := testConfig()
	cfg.MinQualityScore = 0.5
	logger := zap.NewNop()
	chat := &stubChat{response: `{"keywords":[],"schools":[],"majors":[]}`}
	retriever := NewRetriever(store, &stubEmbedder{}, NewUnderstander(chat, "extract-model", logger), cfg, logger)

	if _, err := retriever.Retrieve(context.Background(), "问题", "", ""); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if store.enhancedRequests != 1 {
		t.Errorf("enhanced search ran %d times, want 1 when a quality floor is set", store.enhancedRequests)
	}
}

func TestEmbedFailureIsFatal(t *testing.T) {
	retriever := newTestRetriever(&stubStore{}, &stubEmbedder{err: errors.New("provider down")}, &stubChat{})
	if _, err := retriever.Retrieve(context.Background(), "问题", "", ""); err == nil {
		t.Fatal("expected error when query embedding fails")
	}
}

func TestEntitySearchFailureDegrades(t *testing.T) {
	vectorHit := uuid.New()
	store := &stubStore{
		vectorHits: []knowledge.ScoredUnit{scored(vectorHit, 0.9)},
		entityErr:  errors.New("array query failed"),
	}
	retriever := newTestRetriever(store, &stubEmbedder{}, &stubChat{response: `{"keywords":["关键词"],"schools":[],"majors":[]}`})

	result, err := retriever.Retrieve(context.Background(), "问题", "", "")
	if err != nil {
		t.Fatalf("Retrieve must tolerate a failed entity branch: %v", err)
	}
	if len(result.Units) != 1 || result.Units[0].ID != vectorHit {
		t.Errorf("expected the vector hit alone, got %v", result.Units)
	}
}

func TestNoSearchTermsSkipsEntityBranch(t *testing.T) {
	store := &stubStore{}
	retriever := newTestRetriever(store, &stubEmbedder{}, &stubChat{response: `{"keywords":[],"schools":[],"majors":[]}`})

	if _, err := retriever.Retrieve(context.Background(), "？", "", ""); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if store.entityRequests != 0 {
		t.Errorf("entity search ran %d times with no terms, want 0", store.entityRequests)
	}
}

func TestStructuredSearchRequiresSchoolAndMajor(t *testing.T) {
	year := 2023
	track := knowledge.AcademicTrack{
		SchoolName: "西交利物浦大学",
		MajorName:  "计算机科学",
		Attributes: []knowledge.TrackAttribute{
			{AttributeName: "further_study_rate", AttributeValue: "85%", Year: &year},
		},
	}
	store := &stubStore{programIDs: []uuid.UUID{uuid.New()}, tracks: []knowledge.AcademicTrack{track}}

	// School with no major: structured branch stays quiet.
	retriever := newTestRetriever(store, &stubEmbedder{}, &stubChat{response: `{"keywords":[],"schools":["西交利物浦大学"],"majors":[]}`})
	result, err := retriever.Retrieve(context.Background(), "西浦怎么样", "", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(result.Structured) != 0 {
		t.Errorf("structured results without a major = %d, want 0", len(result.Structured))
	}

	// School plus major: the track comes back.
	retriever = newTestRetriever(store, &stubEmbedder{}, &stubChat{response: `{"keywords":[],"schools":["西交利物浦大学"],"majors":["计算机科学"]}`})
	result, err = retriever.Retrieve(context.Background(), "西浦计算机怎么样", "", "")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(result.Structured) != 1 {
		t.Fatalf("structured results = %d, want 1", len(result.Structured))
	}
	if result.Structured[0].SchoolName != "西交利物浦大学" {
		t.Errorf("structured school = %s", result.Structured[0].SchoolName)
	}
}

package retrieval

import (
	"context"
	"sort"

	"brazier/config"
	"brazier/database"
	"brazier/knowledge"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store is the slice of the persistence layer hybrid retrieval needs.
type Store interface {
	SearchUnits(ctx context.Context, params database.VectorSearchParams) ([]knowledge.ScoredUnit, error)
	EnhancedSearchUnits(ctx context.Context, params database.VectorSearchParams) ([]knowledge.ScoredUnit, error)
	SearchByEntities(ctx context.Context, schools, majors, keywords []string, matchCount int) ([]knowledge.ScoredUnit, error)
	FindProgramIDs(ctx context.Context, school string, majors []string) ([]uuid.UUID, error)
	ApprovedTrackAttributes(ctx context.Context, programIDs []uuid.UUID) ([]knowledge.AcademicTrack, error)
	RecordRetrieval(ctx context.Context, ids []uuid.UUID) error
}

// Embedder turns the query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, input string) ([]float32, error)
}

// Result is everything retrieval hands to answer generation.
type Result struct {
	Units      []knowledge.ScoredUnit
	Structured []knowledge.AcademicTrack
	Entities   QueryEntities
}

// Retriever runs the three search strategies concurrently and fuses their
// results into a single ranked context set.
type Retriever struct {
	store        Store
	embedder     Embedder
	understander *Understander
	cfg          *config.Config
	logger       *zap.Logger
}

func NewRetriever(store Store, embedder Embedder, understander *Understander, cfg *config.Config, logger *zap.Logger) *Retriever {
	return &Retriever{
		store:        store,
		embedder:     embedder,
		understander: understander,
		cfg:          cfg,
		logger:       logger,
	}
}

// Retrieve executes vector, entity, and structured search for one query.
// A failed query embedding aborts retrieval; a failed entity or structured
// branch degrades to an empty contribution. category and importance narrow
// the vector branch only; empty strings mean no filter.
func (r *Retriever) Retrieve(ctx context.Context, message string, category knowledge.Category, importance knowledge.Importance) (Result, error) {
	queryEmbedding, err := r.embedder.Embed(ctx, message)
	if err != nil {
		return Result{}, err
	}

	entities := r.understander.Understand(ctx, message)

	var vectorHits, entityHits []knowledge.ScoredUnit
	var tracks []knowledge.AcademicTrack

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		params := database.VectorSearchParams{
			Embedding:        queryEmbedding,
			MatchThreshold:   r.cfg.MatchThreshold,
			MatchCount:       r.cfg.MatchCount,
			FilterCategory:   category,
			FilterImportance: importance,
		}
		var searchErr error
		// A configured quality floor switches to the enhanced search, which
		// also enforces it in SQL.
		if r.cfg.MinQualityScore > 0 {
			params.MinQualityScore = r.cfg.MinQualityScore
			vectorHits, searchErr = r.store.EnhancedSearchUnits(groupCtx, params)
		} else {
			vectorHits, searchErr = r.store.SearchUnits(groupCtx, params)
		}
		return searchErr
	})
	group.Go(func() error {
		terms := entities.SearchTerms()
		if len(terms) == 0 {
			return nil
		}
		hits, searchErr := r.store.SearchByEntities(groupCtx, entities.Schools, entities.Majors, terms, r.cfg.MatchCount)
		if searchErr != nil {
			// The vector branch alone still produces usable context.
			r.logger.Warn("Entity search failed, continuing without it", zap.Error(searchErr))
			return nil
		}
		entityHits = hits
		return nil
	})
	group.Go(func() error {
		found, searchErr := r.searchStructured(groupCtx, entities)
		if searchErr != nil {
			r.logger.Warn("Structured search failed, continuing without it", zap.Error(searchErr))
			return nil
		}
		tracks = found
		return nil
	})
	if err := group.Wait(); err != nil {
		return Result{}, err
	}

	fused := r.fuse(vectorHits, entityHits)

	if len(fused) > 0 {
		ids := make([]uuid.UUID, len(fused))
		for i, hit := range fused {
			ids[i] = hit.ID
		}
		if err := r.store.RecordRetrieval(ctx, ids); err != nil {
			r.logger.Warn("Failed to record retrieval telemetry", zap.Error(err))
		}
	}

	return Result{Units: fused, Structured: tracks, Entities: entities}, nil
}

// fuse merges the vector and entity result sets. Vector hits seed the pool
// scored by similarity; entity-only hits enter at the keyword base score; a
// unit found by both searches gets the agreement boost on top of its
// similarity. Ties break on id so ranking is deterministic.
func (r *Retriever) fuse(vectorHits, entityHits []knowledge.ScoredUnit) []knowledge.ScoredUnit {
	pool := make(map[uuid.UUID]*knowledge.ScoredUnit, len(vectorHits)+len(entityHits))
	for i := range vectorHits {
		hit := vectorHits[i]
		hit.Score = hit.Similarity
		pool[hit.ID] = &hit
	}
	for i := range entityHits {
		hit := entityHits[i]
		if existing, ok := pool[hit.ID]; ok {
			existing.Score += r.cfg.AgreementBoost
			existing.MatchScore = hit.MatchScore
		} else {
			hit.Score = r.cfg.KeywordBaseScore
			pool[hit.ID] = &hit
		}
	}

	fused := make([]knowledge.ScoredUnit, 0, len(pool))
	for _, hit := range pool {
		fused = append(fused, *hit)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID.String() < fused[j].ID.String()
	})

	if len(fused) > r.cfg.ContextSize {
		fused = fused[:r.cfg.ContextSize]
	}
	return fused
}

// searchStructured resolves the first detected school plus the detected
// majors against the curated program catalog. Both a school and at least one
// major are required; a broad "tell me about X university" query is served by
// the other branches.
func (r *Retriever) searchStructured(ctx context.Context, entities QueryEntities) ([]knowledge.AcademicTrack, error) {
	if len(entities.Schools) == 0 || len(entities.Majors) == 0 {
		return nil, nil
	}

	programIDs, err := r.store.FindProgramIDs(ctx, entities.Schools[0], entities.Majors)
	if err != nil {
		return nil, err
	}
	if len(programIDs) == 0 {
		return nil, nil
	}

	tracks, err := r.store.ApprovedTrackAttributes(ctx, programIDs)
	if err != nil {
		return nil, err
	}

	// Tracks whose attributes were all filtered out contribute nothing.
	var usable []knowledge.AcademicTrack
	for _, track := range tracks {
		if len(track.Attributes) > 0 {
			usable = append(usable, track)
		}
	}
	return usable, nil
}

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	apperrors "brazier/errors"
	"brazier/events"
	"brazier/knowledge"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// UnitContent is the minimal projection used by the embedding batch sweep.
type UnitContent struct {
	ID      uuid.UUID
	Content string
}

// VectorSearchParams mirrors the search_knowledge_units contract. Zero-valued
// filters are ignored. Enhanced-only fields (confidence, timeliness, quality
// floor) are read by EnhancedSearchUnits and ignored by SearchUnits.
type VectorSearchParams struct {
	Embedding        []float32
	MatchThreshold   float64
	MatchCount       int
	FilterCategory   knowledge.Category
	FilterImportance knowledge.Importance
	FilterConfidence knowledge.Confidence
	FilterTimeliness knowledge.Timeliness
	MinQualityScore  float64
}

// InsertUnit persists a freshly ingested unit. The content fingerprint is
// computed here so every insert path shares the same dedup key.
func (s *PostgresStore) InsertUnit(ctx context.Context, unit knowledge.Unit) error {
	entitiesJSON, err := json.Marshal(unit.Entities)
	if err != nil {
		return fmt.Errorf("failed to marshal unit entities: %w", err)
	}

	query := `
        INSERT INTO knowledge_units
            (id, content, content_fingerprint, entities, labels, keywords,
             school_names, major_names, category, importance, confidence,
             timeliness, source_name, embedding_status, review_status,
             quality_score, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
    `
	_, err = s.DB.ExecContext(ctx, query,
		unit.ID, unit.Content, knowledge.Fingerprint(unit.Content), string(entitiesJSON),
		pq.Array(unit.Labels), pq.Array(unit.Keywords),
		pq.Array(unit.SchoolNames), pq.Array(unit.MajorNames),
		string(unit.Category), string(unit.Importance), string(unit.Confidence),
		string(unit.Timeliness), unit.SourceName,
		string(knowledge.EmbeddingPending), string(unit.ReviewStatus),
		unit.QualityScore)
	if err != nil {
		return fmt.Errorf("%w: insert knowledge unit: %v", apperrors.ErrDatabaseOperation, err)
	}

	s.publish(events.Event{Op: events.Inserted, Unit: unit})
	return nil
}

// FindUnitIDByFingerprint returns the id of a persisted unit whose content
// fingerprint matches, or uuid.Nil when no such unit exists.
func (s *PostgresStore) FindUnitIDByFingerprint(ctx context.Context, fingerprint string) (uuid.UUID, error) {
	if fingerprint == "" {
		return uuid.Nil, nil
	}

	var id uuid.UUID
	err := s.DB.QueryRowContext(ctx,
		`SELECT id FROM knowledge_units WHERE content_fingerprint = $1 LIMIT 1`,
		fingerprint).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, nil
		}
		return uuid.Nil, fmt.Errorf("%w: lookup unit by fingerprint: %v", apperrors.ErrDatabaseOperation, err)
	}
	return id, nil
}

// GetUnit loads a full unit row, embedding included.
func (s *PostgresStore) GetUnit(ctx context.Context, id uuid.UUID) (knowledge.Unit, error) {
	query := `
        SELECT id, content, entities, labels, keywords, school_names, major_names,
               category, importance, confidence, timeliness, source_name,
               embedding::text, embedding_status, embedding_error, review_status,
               quality_score, retrieval_count, last_retrieved_at, created_at, updated_at
        FROM knowledge_units WHERE id = $1
    `

	var unit knowledge.Unit
	var entitiesJSON []byte
	var embeddingText, embeddingError sql.NullString
	var lastRetrieved sql.NullTime

	err := s.DB.QueryRowContext(ctx, query, id).Scan(
		&unit.ID, &unit.Content, &entitiesJSON,
		pq.Array(&unit.Labels), pq.Array(&unit.Keywords),
		pq.Array(&unit.SchoolNames), pq.Array(&unit.MajorNames),
		&unit.Category, &unit.Importance, &unit.Confidence, &unit.Timeliness,
		&unit.SourceName, &embeddingText, &unit.EmbeddingStatus, &embeddingError,
		&unit.ReviewStatus, &unit.QualityScore, &unit.RetrievalCount,
		&lastRetrieved, &unit.CreatedAt, &unit.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return knowledge.Unit{}, apperrors.ErrNotFound
		}
		return knowledge.Unit{}, fmt.Errorf("%w: fetch knowledge unit: %v", apperrors.ErrDatabaseOperation, err)
	}

	if len(entitiesJSON) > 0 {
		if err := json.Unmarshal(entitiesJSON, &unit.Entities); err != nil {
			s.logger.Warn("Failed to parse unit entities, leaving empty")
		}
	}
	if embeddingText.Valid {
		unit.Embedding = parseVectorText(embeddingText.String)
	}
	if embeddingError.Valid {
		unit.EmbeddingError = embeddingError.String
	}
	if lastRetrieved.Valid {
		t := lastRetrieved.Time
		unit.LastRetrievedAt = &t
	}
	return unit, nil
}

// GetUnitContent returns just the canonical text of a unit.
func (s *PostgresStore) GetUnitContent(ctx context.Context, id uuid.UUID) (string, error) {
	var content string
	err := s.DB.QueryRowContext(ctx,
		`SELECT content FROM knowledge_units WHERE id = $1`, id).Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperrors.ErrNotFound
		}
		return "", fmt.Errorf("%w: fetch unit content: %v", apperrors.ErrDatabaseOperation, err)
	}
	return content, nil
}

// UpdateUnitContent rewrites a unit's content and entities. The embedding is
// cleared and the status reset to pending in the same statement so a stale
// vector can never be served for edited content.
func (s *PostgresStore) UpdateUnitContent(ctx context.Context, id uuid.UUID, content string, entities map[string]any) error {
	entitiesJSON, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("failed to marshal unit entities: %w", err)
	}

	query := `
        UPDATE knowledge_units
        SET content = $2,
            content_fingerprint = $3,
            entities = $4,
            embedding = NULL,
            embedding_error = NULL,
            embedding_status = 'pending',
            updated_at = NOW()
        WHERE id = $1
    `
	result, err := s.DB.ExecContext(ctx, query, id, content, knowledge.Fingerprint(content), string(entitiesJSON))
	if err != nil {
		return fmt.Errorf("%w: update unit content: %v", apperrors.ErrDatabaseOperation, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apperrors.ErrNotFound
	}

	s.publish(events.Event{Op: events.Updated, Unit: knowledge.Unit{
		ID:              id,
		Content:         content,
		Entities:        entities,
		EmbeddingStatus: knowledge.EmbeddingPending,
	}})
	return nil
}

// DeleteUnit removes a unit permanently. No tombstone is kept.
func (s *PostgresStore) DeleteUnit(ctx context.Context, id uuid.UUID) error {
	result, err := s.DB.ExecContext(ctx, `DELETE FROM knowledge_units WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: delete knowledge unit: %v", apperrors.ErrDatabaseOperation, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apperrors.ErrNotFound
	}

	s.publish(events.Event{Op: events.Deleted, Unit: knowledge.Unit{ID: id}})
	return nil
}

// SelectUnembedded returns units awaiting a vector. Selecting on the null
// embedding rather than on status means previously failed units are retried
// on the next sweep.
func (s *PostgresStore) SelectUnembedded(ctx context.Context, limit int) ([]UnitContent, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, content FROM knowledge_units WHERE embedding IS NULL ORDER BY created_at LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("%w: select unembedded units: %v", apperrors.ErrDatabaseOperation, err)
	}
	defer rows.Close()

	var units []UnitContent
	for rows.Next() {
		var u UnitContent
		if err := rows.Scan(&u.ID, &u.Content); err != nil {
			return nil, fmt.Errorf("%w: scan unembedded unit: %v", apperrors.ErrDatabaseOperation, err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// ClaimForEmbedding transitions a unit to processing, but only when it still
// needs a vector and no other sweep holds it. Returns false when the claim
// was lost. This guard is what makes concurrent batch sweeps safe.
func (s *PostgresStore) ClaimForEmbedding(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := s.DB.ExecContext(ctx, `
        UPDATE knowledge_units
        SET embedding_status = 'processing', embedding_error = NULL, updated_at = NOW()
        WHERE id = $1 AND embedding IS NULL AND embedding_status <> 'processing'
    `, id)
	if err != nil {
		return false, fmt.Errorf("%w: claim unit for embedding: %v", apperrors.ErrDatabaseOperation, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: claim rows affected: %v", apperrors.ErrDatabaseOperation, err)
	}
	return affected == 1, nil
}

// SetUnitEmbedding stores the vector and marks the unit completed.
func (s *PostgresStore) SetUnitEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	vec := pgvector.NewVector(embedding)
	result, err := s.DB.ExecContext(ctx, `
        UPDATE knowledge_units
        SET embedding = $2, embedding_status = 'completed', embedding_error = NULL, updated_at = NOW()
        WHERE id = $1
    `, id, vec)
	if err != nil {
		return fmt.Errorf("%w: store unit embedding: %v", apperrors.ErrDatabaseOperation, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apperrors.ErrNotFound
	}

	s.publish(events.Event{Op: events.Updated, Unit: knowledge.Unit{
		ID:              id,
		Embedding:       embedding,
		EmbeddingStatus: knowledge.EmbeddingCompleted,
	}})
	return nil
}

// MarkEmbeddingFailed records a terminal-but-retryable failure. The embedding
// stays NULL so the next batch sweep picks the unit up again.
func (s *PostgresStore) MarkEmbeddingFailed(ctx context.Context, id uuid.UUID, message string) error {
	_, err := s.DB.ExecContext(ctx, `
        UPDATE knowledge_units
        SET embedding_status = 'failed', embedding_error = $2, updated_at = NOW()
        WHERE id = $1
    `, id, message)
	if err != nil {
		return fmt.Errorf("%w: mark embedding failed: %v", apperrors.ErrDatabaseOperation, err)
	}

	s.publish(events.Event{Op: events.Updated, Unit: knowledge.Unit{
		ID:              id,
		EmbeddingStatus: knowledge.EmbeddingFailed,
		EmbeddingError:  message,
	}})
	return nil
}

// SearchUnits is the search_knowledge_units contract: cosine similarity over
// approved units with optional category/importance filters.
func (s *PostgresStore) SearchUnits(ctx context.Context, params VectorSearchParams) ([]knowledge.ScoredUnit, error) {
	query := `
        SELECT id, content, category, importance, labels, school_names, major_names,
               1 - (embedding <=> $1) AS similarity
        FROM knowledge_units
        WHERE embedding IS NOT NULL
          AND review_status = 'approved'
          AND 1 - (embedding <=> $1) > $2
          AND ($3 = '' OR category = $3)
          AND ($4 = '' OR importance = $4)
        ORDER BY embedding <=> $1
        LIMIT $5
    `
	rows, err := s.DB.QueryContext(ctx, query,
		pgvector.NewVector(params.Embedding), params.MatchThreshold,
		string(params.FilterCategory), string(params.FilterImportance),
		params.MatchCount)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", apperrors.ErrDatabaseOperation, err)
	}
	defer rows.Close()

	var results []knowledge.ScoredUnit
	for rows.Next() {
		var hit knowledge.ScoredUnit
		if err := rows.Scan(&hit.ID, &hit.Content, &hit.Category, &hit.Importance,
			pq.Array(&hit.Labels), pq.Array(&hit.SchoolNames), pq.Array(&hit.MajorNames),
			&hit.Similarity); err != nil {
			return nil, fmt.Errorf("%w: scan vector hit: %v", apperrors.ErrDatabaseOperation, err)
		}
		results = append(results, hit)
	}
	return results, rows.Err()
}

// EnhancedSearchUnits is the enhanced_search_knowledge_units contract: the
// basic vector search plus confidence/timeliness filters and a quality floor.
func (s *PostgresStore) EnhancedSearchUnits(ctx context.Context, params VectorSearchParams) ([]knowledge.ScoredUnit, error) {
	query := `
        SELECT id, content, category, importance, confidence, timeliness,
               labels, school_names, major_names, keywords, quality_score,
               1 - (embedding <=> $1) AS similarity
        FROM knowledge_units
        WHERE embedding IS NOT NULL
          AND review_status = 'approved'
          AND 1 - (embedding <=> $1) > $2
          AND ($3 = '' OR category = $3)
          AND ($4 = '' OR importance = $4)
          AND ($5 = '' OR confidence = $5)
          AND ($6 = '' OR timeliness = $6)
          AND quality_score >= $7
        ORDER BY embedding <=> $1
        LIMIT $8
    `
	rows, err := s.DB.QueryContext(ctx, query,
		pgvector.NewVector(params.Embedding), params.MatchThreshold,
		string(params.FilterCategory), string(params.FilterImportance),
		string(params.FilterConfidence), string(params.FilterTimeliness),
		params.MinQualityScore, params.MatchCount)
	if err != nil {
		return nil, fmt.Errorf("%w: enhanced vector search: %v", apperrors.ErrDatabaseOperation, err)
	}
	defer rows.Close()

	var results []knowledge.ScoredUnit
	for rows.Next() {
		var hit knowledge.ScoredUnit
		if err := rows.Scan(&hit.ID, &hit.Content, &hit.Category, &hit.Importance,
			&hit.Confidence, &hit.Timeliness,
			pq.Array(&hit.Labels), pq.Array(&hit.SchoolNames), pq.Array(&hit.MajorNames),
			pq.Array(&hit.Keywords), &hit.QualityScore, &hit.Similarity); err != nil {
			return nil, fmt.Errorf("%w: scan enhanced vector hit: %v", apperrors.ErrDatabaseOperation, err)
		}
		results = append(results, hit)
	}
	return results, rows.Err()
}

// SearchByEntities is the search_by_entities contract: array-overlap matching
// across the lexical fields with an OR predicate. School and major overlaps
// weigh double a bare keyword overlap.
func (s *PostgresStore) SearchByEntities(ctx context.Context, schools, majors, keywords []string, matchCount int) ([]knowledge.ScoredUnit, error) {
	query := `
        SELECT id, content, category, importance, school_names, major_names,
               keywords, quality_score,
               (CASE WHEN school_names && $1 THEN 2.0 ELSE 0.0 END
              + CASE WHEN major_names && $2 THEN 2.0 ELSE 0.0 END
              + CASE WHEN keywords && $3 THEN 1.0 ELSE 0.0 END) AS match_score
        FROM knowledge_units
        WHERE review_status = 'approved'
          AND (school_names && $1 OR major_names && $2 OR keywords && $3)
        ORDER BY match_score DESC, quality_score DESC, id
        LIMIT $4
    `
	rows, err := s.DB.QueryContext(ctx, query,
		pq.Array(schools), pq.Array(majors), pq.Array(keywords), matchCount)
	if err != nil {
		return nil, fmt.Errorf("%w: entity search: %v", apperrors.ErrDatabaseOperation, err)
	}
	defer rows.Close()

	var results []knowledge.ScoredUnit
	for rows.Next() {
		var hit knowledge.ScoredUnit
		if err := rows.Scan(&hit.ID, &hit.Content, &hit.Category, &hit.Importance,
			pq.Array(&hit.SchoolNames), pq.Array(&hit.MajorNames),
			pq.Array(&hit.Keywords), &hit.QualityScore, &hit.MatchScore); err != nil {
			return nil, fmt.Errorf("%w: scan entity hit: %v", apperrors.ErrDatabaseOperation, err)
		}
		results = append(results, hit)
	}
	return results, rows.Err()
}

// FullTextSearchUnits backs the degraded chat variant: plain websearch
// matching against unit content, no vectors involved.
func (s *PostgresStore) FullTextSearchUnits(ctx context.Context, queryText string, limit int) ([]knowledge.ScoredUnit, error) {
	query := `
        SELECT id, content, category, importance, labels, school_names, major_names
        FROM knowledge_units
        WHERE review_status = 'approved'
          AND to_tsvector('simple', content) @@ websearch_to_tsquery('simple', $1)
        ORDER BY created_at DESC
        LIMIT $2
    `
	return s.scanPlainUnits(ctx, query, queryText, limit)
}

// SearchUnitsBySubstring is the last lexical resort when full-text search
// yields nothing usable.
func (s *PostgresStore) SearchUnitsBySubstring(ctx context.Context, term string, limit int) ([]knowledge.ScoredUnit, error) {
	query := `
        SELECT id, content, category, importance, labels, school_names, major_names
        FROM knowledge_units
        WHERE review_status = 'approved' AND content ILIKE $1
        ORDER BY created_at DESC
        LIMIT $2
    `
	return s.scanPlainUnits(ctx, query, "%"+term+"%", limit)
}

// RecentUnits returns the newest approved units, used as generic context when
// nothing matches at all.
func (s *PostgresStore) RecentUnits(ctx context.Context, limit int) ([]knowledge.ScoredUnit, error) {
	query := `
        SELECT id, content, category, importance, labels, school_names, major_names
        FROM knowledge_units
        WHERE review_status = 'approved'
        ORDER BY created_at DESC
        LIMIT $1
    `
	return s.scanPlainUnits(ctx, query, limit)
}

func (s *PostgresStore) scanPlainUnits(ctx context.Context, query string, args ...any) ([]knowledge.ScoredUnit, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: lexical unit search: %v", apperrors.ErrDatabaseOperation, err)
	}
	defer rows.Close()

	var results []knowledge.ScoredUnit
	for rows.Next() {
		var hit knowledge.ScoredUnit
		if err := rows.Scan(&hit.ID, &hit.Content, &hit.Category, &hit.Importance,
			pq.Array(&hit.Labels), pq.Array(&hit.SchoolNames), pq.Array(&hit.MajorNames)); err != nil {
			return nil, fmt.Errorf("%w: scan lexical hit: %v", apperrors.ErrDatabaseOperation, err)
		}
		results = append(results, hit)
	}
	return results, rows.Err()
}

// RecordRetrieval bumps the usage telemetry for units that made it into an
// answer's context.
func (s *PostgresStore) RecordRetrieval(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	idStrings := make([]string, len(ids))
	for i, id := range ids {
		idStrings[i] = id.String()
	}
	_, err := s.DB.ExecContext(ctx, `
        UPDATE knowledge_units
        SET retrieval_count = retrieval_count + 1, last_retrieved_at = NOW()
        WHERE id = ANY($1::uuid[])
    `, pq.Array(idStrings))
	if err != nil {
		return fmt.Errorf("%w: record retrieval: %v", apperrors.ErrDatabaseOperation, err)
	}
	return nil
}

// parseVectorText decodes pgvector's "[0.1,0.2,...]" text representation.
func parseVectorText(text string) []float32 {
	text = strings.Trim(strings.TrimSpace(text), "[]")
	if text == "" {
		return nil
	}
	parts := strings.Split(text, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil
		}
		vec = append(vec, float32(f))
	}
	return vec
}

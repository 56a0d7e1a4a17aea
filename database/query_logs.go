package database

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "brazier/errors"
	"brazier/knowledge"

	"github.com/google/uuid"
)

// InsertQueryLog records one answered (or failed) chat query for later
// feedback and quality analysis. Logging failures are surfaced to the caller
// but callers treat them as non-fatal.
func (s *PostgresStore) InsertQueryLog(ctx context.Context, log knowledge.QueryLog) error {
	refsJSON, err := json.Marshal(log.RetrievedUnits)
	if err != nil {
		return fmt.Errorf("failed to marshal retrieved unit refs: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
        INSERT INTO rag_query_logs
            (id, query, response, retrieved_units, retrieval_method,
             top_similarity, processing_time_ms, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
    `, log.ID, log.Query, log.Response, string(refsJSON),
		log.RetrievalMethod, log.TopSimilarity, log.ProcessingTimeMS)
	if err != nil {
		return fmt.Errorf("%w: insert query log: %v", apperrors.ErrDatabaseOperation, err)
	}
	return nil
}

// SetQueryFeedback attaches a user rating to a logged query. Feedback is the
// only mutable field of a query log.
func (s *PostgresStore) SetQueryFeedback(ctx context.Context, id uuid.UUID, feedback int) error {
	result, err := s.DB.ExecContext(ctx, `
        UPDATE rag_query_logs SET user_feedback = $2 WHERE id = $1
    `, id, feedback)
	if err != nil {
		return fmt.Errorf("%w: set query feedback: %v", apperrors.ErrDatabaseOperation, err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

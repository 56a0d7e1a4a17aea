package database

import (
	"context"
	"database/sql"
	"fmt"

	"brazier/events"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// PostgresStore is the persistence layer for knowledge units, academic track
// records, and query logs. Mutations publish typed row-change events on the
// attached bus so in-memory consumers stay in sync without polling.
type PostgresStore struct {
	DB     *sql.DB
	bus    *events.Bus
	logger *zap.Logger
}

func NewPostgresStore(connStr string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	logger.Info("Successfully connected to the database")
	return &PostgresStore{DB: db, logger: logger}, nil
}

// SetEventBus attaches the row-change bus. Must be called before serving
// traffic; a nil bus disables publishing.
func (s *PostgresStore) SetEventBus(bus *events.Bus) {
	s.bus = bus
}

func (s *PostgresStore) publish(event events.Event) {
	if s.bus != nil {
		s.bus.Publish(event)
	}
}

// EnsureSchema creates the required tables and indexes if they do not already
// exist. embeddingDims fixes the vector column width and must match the
// embedding model's output size.
func (s *PostgresStore) EnsureSchema(ctx context.Context, embeddingDims int) error {
	if embeddingDims <= 0 {
		return fmt.Errorf("invalid embedding dimensions: %d", embeddingDims)
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS knowledge_units (
            id UUID PRIMARY KEY,
            content TEXT NOT NULL,
            content_fingerprint TEXT NOT NULL,
            entities JSONB DEFAULT '{}'::jsonb,
            labels TEXT[] DEFAULT '{}'::TEXT[],
            keywords TEXT[] DEFAULT '{}'::TEXT[],
            school_names TEXT[] DEFAULT '{}'::TEXT[],
            major_names TEXT[] DEFAULT '{}'::TEXT[],
            category TEXT NOT NULL DEFAULT 'experience_guide',
            importance TEXT NOT NULL DEFAULT 'medium',
            confidence TEXT NOT NULL DEFAULT 'general',
            timeliness TEXT NOT NULL DEFAULT 'current',
            source_name TEXT NOT NULL DEFAULT '',
            embedding vector(%d),
            embedding_status TEXT NOT NULL DEFAULT 'pending',
            embedding_error TEXT,
            review_status TEXT NOT NULL DEFAULT 'pending',
            quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
            retrieval_count INTEGER NOT NULL DEFAULT 0,
            last_retrieved_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`, embeddingDims),
		`CREATE INDEX IF NOT EXISTS idx_knowledge_units_fingerprint ON knowledge_units(content_fingerprint)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_units_unembedded ON knowledge_units(created_at) WHERE embedding IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_units_keywords ON knowledge_units USING GIN(keywords)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_units_school_names ON knowledge_units USING GIN(school_names)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_units_major_names ON knowledge_units USING GIN(major_names)`,
		`CREATE TABLE IF NOT EXISTS school_programs (
            id UUID PRIMARY KEY,
            school_name TEXT NOT NULL,
            program_name TEXT NOT NULL,
            program_type TEXT,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            UNIQUE (school_name, program_name)
        )`,
		`CREATE TABLE IF NOT EXISTS academic_tracks (
            id UUID PRIMARY KEY,
            program_id UUID REFERENCES school_programs(id) ON DELETE CASCADE,
            school_name TEXT NOT NULL,
            major_name TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_academic_tracks_program ON academic_tracks(program_id)`,
		`CREATE TABLE IF NOT EXISTS academic_track_attributes (
            id UUID PRIMARY KEY,
            track_id UUID NOT NULL REFERENCES academic_tracks(id) ON DELETE CASCADE,
            attribute_name TEXT NOT NULL,
            attribute_value TEXT NOT NULL,
            year INTEGER,
            confidence_level TEXT NOT NULL DEFAULT 'general',
            status TEXT NOT NULL DEFAULT 'pending'
        )`,
		`CREATE INDEX IF NOT EXISTS idx_track_attributes_track ON academic_track_attributes(track_id)`,
		`CREATE TABLE IF NOT EXISTS rag_query_logs (
            id UUID PRIMARY KEY,
            query TEXT NOT NULL,
            response TEXT NOT NULL DEFAULT '',
            retrieved_units JSONB DEFAULT '[]'::jsonb,
            retrieval_method TEXT NOT NULL DEFAULT '',
            top_similarity DOUBLE PRECISION NOT NULL DEFAULT 0,
            processing_time_ms BIGINT NOT NULL DEFAULT 0,
            user_feedback INTEGER,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
	}

	for _, stmt := range stmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *PostgresStore) Close() error {
	return s.DB.Close()
}

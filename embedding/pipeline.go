package embedding

import (
	"context"
	"fmt"
	"time"

	"brazier/database"
	apperrors "brazier/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UnitStore is the slice of the persistence layer the pipeline needs.
type UnitStore interface {
	SelectUnembedded(ctx context.Context, limit int) ([]database.UnitContent, error)
	ClaimForEmbedding(ctx context.Context, id uuid.UUID) (bool, error)
	SetUnitEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error
	MarkEmbeddingFailed(ctx context.Context, id uuid.UUID, message string) error
	GetUnitContent(ctx context.Context, id uuid.UUID) (string, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, input string) ([]float32, error)
}

// BatchReport summarizes one batch sweep.
type BatchReport struct {
	Found     int `json:"found"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Pipeline drives knowledge units through the embedding state machine:
// pending -> processing -> completed | failed. Failed units keep a NULL
// embedding and are retried on the next sweep.
type Pipeline struct {
	store     UnitStore
	embedder  Embedder
	batchSize int
	callDelay time.Duration
	logger    *zap.Logger
}

func NewPipeline(store UnitStore, embedder Embedder, batchSize int, callDelay time.Duration, logger *zap.Logger) *Pipeline {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Pipeline{
		store:     store,
		embedder:  embedder,
		batchSize: batchSize,
		callDelay: callDelay,
		logger:    logger,
	}
}

// GenerateSingle embeds one specific unit. The claim guard rejects units that
// already hold a vector or are being processed by a concurrent sweep.
func (p *Pipeline) GenerateSingle(ctx context.Context, id uuid.UUID) error {
	content, err := p.store.GetUnitContent(ctx, id)
	if err != nil {
		return err
	}

	claimed, err := p.store.ClaimForEmbedding(ctx, id)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("%w: unit %s is already embedded or in progress", apperrors.ErrInvalidInput, id)
	}

	return p.embedOne(ctx, id, content)
}

// GenerateBatch sweeps up to the configured batch size of units missing a
// vector and embeds them sequentially. A unit that fails is marked and the
// sweep continues; only infrastructure errors abort the batch.
func (p *Pipeline) GenerateBatch(ctx context.Context) (BatchReport, error) {
	units, err := p.store.SelectUnembedded(ctx, p.batchSize)
	if err != nil {
		return BatchReport{}, err
	}

	report := BatchReport{Found: len(units)}
	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if i > 0 && p.callDelay > 0 {
			time.Sleep(p.callDelay)
		}

		claimed, err := p.store.ClaimForEmbedding(ctx, unit.ID)
		if err != nil {
			return report, err
		}
		if !claimed {
			report.Skipped++
			continue
		}

		if err := p.embedOne(ctx, unit.ID, unit.Content); err != nil {
			if ctx.Err() != nil {
				return report, err
			}
			report.Failed++
			continue
		}
		report.Processed++
	}

	p.logger.Info("Embedding batch complete",
		zap.Int("found", report.Found),
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

func (p *Pipeline) embedOne(ctx context.Context, id uuid.UUID, content string) error {
	vector, err := p.embedder.Embed(ctx, content)
	if err != nil {
		p.markFailed(ctx, id, err)
		p.logger.Warn("Embedding generation failed",
			zap.String("unit_id", id.String()), zap.Error(err))
		return err
	}

	if err := p.store.SetUnitEmbedding(ctx, id, vector); err != nil {
		// A claimed unit must never stay in processing: the claim guard would
		// reject it on every later sweep while the NULL embedding keeps
		// reselecting it. Failed units are claimable again.
		p.markFailed(ctx, id, err)
		return err
	}
	return nil
}

// markFailed records the failure even when the context is gone, so the unit
// is never left stuck in processing. Uses a fresh context for the mark.
func (p *Pipeline) markFailed(ctx context.Context, id uuid.UUID, cause error) {
	markCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		markCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if markErr := p.store.MarkEmbeddingFailed(markCtx, id, cause.Error()); markErr != nil {
		p.logger.Error("Failed to record embedding failure",
			zap.String("unit_id", id.String()), zap.Error(markErr))
	}
}

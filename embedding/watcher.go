package embedding

import (
	"context"
	"time"

	apperrors "brazier/errors"
	"brazier/events"
	"brazier/knowledge"

	"go.uber.org/zap"
)

// Watch consumes knowledge-unit change events and embeds units that arrive
// pending, so inserts and content edits get a vector without waiting for the
// next batch sweep. It returns when the context is cancelled or the event
// channel closes.
//
// The claim guard makes this safe alongside concurrent sweeps: whichever
// worker claims the unit first embeds it, the other sees a conflict and
// moves on.
func (p *Pipeline) Watch(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.Op == events.Deleted {
				continue
			}
			if event.Unit.EmbeddingStatus != knowledge.EmbeddingPending {
				continue
			}

			if p.callDelay > 0 {
				time.Sleep(p.callDelay)
			}
			if err := p.GenerateSingle(ctx, event.Unit.ID); err != nil {
				if apperrors.IsInvalidInput(err) || apperrors.IsNotFound(err) {
					// Another worker claimed it, or the unit is already gone.
					continue
				}
				p.logger.Warn("Event-driven embedding failed",
					zap.String("unit_id", event.Unit.ID.String()), zap.Error(err))
			}
		}
	}
}

// Package worker plugs the derivative processor into the asynq worker loop.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PhotoDrop/internal/model"
	"github.com/dharsanguruparan/PhotoDrop/internal/processing"
	"github.com/dharsanguruparan/PhotoDrop/internal/queue"
)

// Deriver is the part of processing.Processor the handler needs.
type Deriver interface {
	Process(ctx context.Context, job processing.Job) (model.DerivativeSummary, error)
}

// Handler is plugged into the asynq worker loop.
type Handler struct {
	deriver Deriver
	logger  *zap.Logger
}

// NewHandler constructs a worker handler.
func NewHandler(deriver Deriver, logger *zap.Logger) *Handler {
	return &Handler{deriver: deriver, logger: logger}
}

// Mux registers the derivative job handler.
func (h *Handler) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.DerivativesTask, h.handleDerivatives)
	return mux
}

func (h *Handler) handleDerivatives(ctx context.Context, task *asynq.Task) error {
	var payload queue.DerivativePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.PhotoID == "" {
		return fmt.Errorf("payload without photo id: %w", asynq.SkipRetry)
	}

	summary, err := h.deriver.Process(ctx, processing.JobFromPayload(payload))
	switch {
	case err == nil:
		if len(summary.Errors) > 0 {
			h.logger.Warn("derivatives finished with contained failures",
				zap.String("photo_id", payload.PhotoID),
				zap.Any("errors", summary.Errors),
			)
		}
		return nil
	case errors.Is(err, processing.ErrPhotoNotFound), errors.Is(err, processing.ErrNoStoragePath):
		h.logger.Warn("dropping derivative job", zap.String("photo_id", payload.PhotoID), zap.Error(err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	case errors.Is(err, processing.ErrJobInProgress):
		h.logger.Info("photo busy, retrying later", zap.String("photo_id", payload.PhotoID))
		return err
	default:
		h.logger.Error("derivative job failed", zap.String("photo_id", payload.PhotoID), zap.Error(err))
		return err
	}
}

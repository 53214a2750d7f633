package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PhotoDrop/internal/model"
	"github.com/dharsanguruparan/PhotoDrop/internal/processing"
	"github.com/dharsanguruparan/PhotoDrop/internal/queue"
)

type stubDeriver struct {
	err  error
	jobs []processing.Job
}

func (s *stubDeriver) Process(_ context.Context, job processing.Job) (model.DerivativeSummary, error) {
	s.jobs = append(s.jobs, job)
	return model.DerivativeSummary{PhotoID: job.PhotoID}, s.err
}

func derivativesTask(t *testing.T, p queue.DerivativePayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return asynq.NewTask(queue.DerivativesTask, data)
}

func TestHandlerPassesSkipFlags(t *testing.T) {
	d := &stubDeriver{}
	h := NewHandler(d, zap.NewNop())

	err := h.Mux().ProcessTask(context.Background(), derivativesTask(t, queue.DerivativePayload{PhotoID: "p1", SkipDisplay: true}))
	require.NoError(t, err)
	require.Len(t, d.jobs, 1)
	assert.Equal(t, processing.Job{PhotoID: "p1", SkipDisplay: true}, d.jobs[0])
}

func TestHandlerSkipsRetryForPermanentErrors(t *testing.T) {
	for _, perm := range []error{processing.ErrPhotoNotFound, processing.ErrNoStoragePath} {
		h := NewHandler(&stubDeriver{err: perm}, zap.NewNop())
		err := h.handleDerivatives(context.Background(), derivativesTask(t, queue.DerivativePayload{PhotoID: "p1"}))
		assert.ErrorIs(t, err, asynq.SkipRetry)
		assert.ErrorIs(t, err, perm)
	}
}

func TestHandlerRetriesTransientErrors(t *testing.T) {
	for _, transient := range []error{processing.ErrJobInProgress, errors.New("s3 timeout")} {
		h := NewHandler(&stubDeriver{err: transient}, zap.NewNop())
		err := h.handleDerivatives(context.Background(), derivativesTask(t, queue.DerivativePayload{PhotoID: "p1"}))
		require.Error(t, err)
		assert.NotErrorIs(t, err, asynq.SkipRetry)
	}
}

func TestHandlerRejectsBadPayload(t *testing.T) {
	h := NewHandler(&stubDeriver{}, zap.NewNop())
	err := h.handleDerivatives(context.Background(), asynq.NewTask(queue.DerivativesTask, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

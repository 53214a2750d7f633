package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// DerivativesTask is scheduled after each ingest and on reprocess.
	DerivativesTask = "photo:derivatives"
	// CaptionTask is consumed by the caption service, not by this module.
	CaptionTask = "photo:caption"

	DerivativesQueue = "derivatives"
	CaptionsQueue    = "captions"

	// TaskTimeout bounds one derivative run. Photo locks must outlive it.
	TaskTimeout = 10 * time.Minute
)

// DerivativePayload is serialized into the task payload so the worker knows
// which photo to process and which steps to run.
type DerivativePayload struct {
	PhotoID        string `json:"photo_id"`
	SkipMetadata   bool   `json:"skip_metadata,omitempty"`
	SkipThumbnails bool   `json:"skip_thumbnails,omitempty"`
	SkipDisplay    bool   `json:"skip_display,omitempty"`
}

// TaskID identifies a pending job so duplicate enqueues coalesce.
func (p DerivativePayload) TaskID() string {
	return fmt.Sprintf("derivatives:%s:%t:%t:%t", p.PhotoID, p.SkipMetadata, p.SkipThumbnails, p.SkipDisplay)
}

// CaptionPayload asks the caption service to describe a photo.
type CaptionPayload struct {
	PhotoID   string `json:"photo_id"`
	OwnerID   string `json:"owner_id"`
	ImagePath string `json:"image_path"`
}

// Enqueuer schedules background work. AsynqEnqueuer and the inline
// processing pool implement it.
type Enqueuer interface {
	EnqueueDerivatives(ctx context.Context, p DerivativePayload) error
	EnqueueCaption(ctx context.Context, p CaptionPayload) error
}

// TaskClient is the part of *asynq.Client the enqueuer uses.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskInspector is the part of *asynq.Inspector used to free the id of a
// finished task.
type TaskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

// AsynqEnqueuer publishes tasks to Redis through asynq.
type AsynqEnqueuer struct {
	client    TaskClient
	inspector TaskInspector
	maxRetry  int
}

// NewAsynqEnqueuer wraps an asynq client. inspector may be nil for callers
// that only publish captions; derivative ids are then never reclaimed.
func NewAsynqEnqueuer(client TaskClient, inspector TaskInspector, maxRetry int) *AsynqEnqueuer {
	if maxRetry <= 0 {
		maxRetry = 5
	}
	return &AsynqEnqueuer{client: client, inspector: inspector, maxRetry: maxRetry}
}

// EnqueueDerivatives enqueues a derivative job. A job with the same TaskID
// still pending, retrying or running absorbs the new one and nil is
// returned. An archived or completed task with that id is deleted first, so
// a photo whose last job gave up can always be queued again.
func (e *AsynqEnqueuer) EnqueueDerivatives(ctx context.Context, p DerivativePayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(DerivativesTask, data)
	opts := []asynq.Option{
		asynq.Queue(DerivativesQueue),
		asynq.MaxRetry(e.maxRetry),
		asynq.TaskID(p.TaskID()),
		asynq.Timeout(TaskTimeout),
	}
	_, err = e.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		free, ierr := e.reclaim(p.TaskID())
		if ierr != nil {
			return fmt.Errorf("inspect task %s: %w", p.TaskID(), ierr)
		}
		if !free {
			return nil
		}
		_, err = e.client.EnqueueContext(ctx, task, opts...)
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("enqueue derivatives task: %w", err)
	}
	return nil
}

// reclaim deletes a finished task holding id and reports whether the id is
// free again.
func (e *AsynqEnqueuer) reclaim(id string) (bool, error) {
	if e.inspector == nil {
		return false, nil
	}
	info, err := e.inspector.GetTaskInfo(DerivativesQueue, id)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	switch info.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
		if err := e.inspector.DeleteTask(DerivativesQueue, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// EnqueueCaption enqueues a caption request.
func (e *AsynqEnqueuer) EnqueueCaption(ctx context.Context, p CaptionPayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(CaptionTask, data)
	if _, err := e.client.EnqueueContext(ctx, task, asynq.Queue(CaptionsQueue), asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("enqueue caption task: %w", err)
	}
	return nil
}

// Package processing produces the derivatives of an ingested photo: merged
// metadata, two thumbnail tiers and a display asset.
package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/PhotoDrop/internal/imageproc"
	"github.com/dharsanguruparan/PhotoDrop/internal/lock"
	"github.com/dharsanguruparan/PhotoDrop/internal/metadata"
	"github.com/dharsanguruparan/PhotoDrop/internal/model"
	"github.com/dharsanguruparan/PhotoDrop/internal/queue"
	"github.com/dharsanguruparan/PhotoDrop/internal/repository"
	"github.com/dharsanguruparan/PhotoDrop/internal/storage"
	"github.com/dharsanguruparan/PhotoDrop/internal/streaming"
)

var (
	// ErrPhotoNotFound is not retryable.
	ErrPhotoNotFound = errors.New("photo not found")
	// ErrNoStoragePath is not retryable.
	ErrNoStoragePath = errors.New("photo has no storage path")
	// ErrJobInProgress means another run holds the photo's lock. Retry later.
	ErrJobInProgress = errors.New("derivative job already running for photo")
)

// Job selects the photo and the steps to run.
type Job struct {
	PhotoID        string
	SkipMetadata   bool
	SkipThumbnails bool
	SkipDisplay    bool
}

// JobFromPayload converts a queue payload.
func JobFromPayload(p queue.DerivativePayload) Job {
	return Job{PhotoID: p.PhotoID, SkipMetadata: p.SkipMetadata, SkipThumbnails: p.SkipThumbnails, SkipDisplay: p.SkipDisplay}
}

// CaptionEnqueuer receives a caption request after derivatives exist.
type CaptionEnqueuer interface {
	EnqueueCaption(ctx context.Context, p queue.CaptionPayload) error
}

// Options sizes the derivatives.
type Options struct {
	ThumbDetailPx int
	ThumbListPx   int
	DisplayMaxPx  int
	LockTTL       time.Duration
}

// Processor runs derivative jobs. A run only writes the fields it computed,
// and objects that already exist are never rewritten, so repeating a job is
// safe.
type Processor struct {
	repo     repository.PhotoStore
	store    storage.ObjectStore
	engine   imageproc.Engine
	locker   lock.Locker
	captions CaptionEnqueuer
	opts     Options
	logger   *zap.Logger
}

// New constructs a Processor. captions may be nil.
func New(repo repository.PhotoStore, store storage.ObjectStore, engine imageproc.Engine, locker lock.Locker, captions CaptionEnqueuer, opts Options, logger *zap.Logger) *Processor {
	if opts.ThumbDetailPx <= 0 {
		opts.ThumbDetailPx = 1200
	}
	if opts.ThumbListPx <= 0 {
		opts.ThumbListPx = 400
	}
	if opts.DisplayMaxPx <= 0 {
		opts.DisplayMaxPx = 2560
	}
	// The lease must outlast the longest run or a duplicate could start
	// while the first one is still writing.
	if floor := queue.TaskTimeout + time.Minute; opts.LockTTL < floor {
		opts.LockTTL = floor
	}
	return &Processor{
		repo:     repo,
		store:    store,
		engine:   engine,
		locker:   locker,
		captions: captions,
		opts:     opts,
		logger:   logger,
	}
}

// Process runs job. Failures of individual derivatives are recorded in the
// summary and do not fail the run. The returned error is reserved for a
// missing photo, a held lock, an unreadable original or a failed write-back.
func (p *Processor) Process(ctx context.Context, job Job) (model.DerivativeSummary, error) {
	start := time.Now()
	summary := model.DerivativeSummary{
		PhotoID:    job.PhotoID,
		Metadata:   model.DerivativeOmitted,
		Thumb:      model.DerivativeOmitted,
		ThumbSmall: model.DerivativeOmitted,
		Display:    model.DerivativeOmitted,
	}
	log := p.logger.With(zap.String("photo_id", job.PhotoID))

	release, err := p.locker.Acquire(ctx, "photo:"+job.PhotoID, p.opts.LockTTL)
	if errors.Is(err, lock.ErrLocked) {
		return summary, ErrJobInProgress
	}
	if err != nil {
		return summary, fmt.Errorf("acquire photo lock: %w", err)
	}
	defer func() {
		if err := release(); err != nil {
			log.Warn("release photo lock", zap.Error(err))
		}
	}()

	rec, err := p.repo.GetByID(ctx, job.PhotoID)
	if errors.Is(err, repository.ErrNotFound) {
		return summary, fmt.Errorf("%w: %s", ErrPhotoNotFound, job.PhotoID)
	}
	if err != nil {
		return summary, fmt.Errorf("load photo: %w", err)
	}
	if rec.StoragePath == "" {
		return summary, fmt.Errorf("%w: %s", ErrNoStoragePath, job.PhotoID)
	}
	src, err := p.store.Get(ctx, rec.StoragePath)
	if err != nil {
		return summary, fmt.Errorf("download original: %w", err)
	}

	var update repository.PhotoUpdate
	hash := rec.ContentHash
	if hash == "" {
		hash = streaming.HashBytes(src, rec.OwnerID)
		update.ContentHash = &hash
	}

	var extraction metadata.Extraction
	if !job.SkipMetadata || !job.SkipDisplay {
		extraction, err = metadata.Extract(src, rec.StoragePath)
		if err != nil {
			log.Warn("metadata extraction failed", zap.Error(err))
		}
	}
	if !job.SkipMetadata {
		switch {
		case err != nil:
			summary.Metadata = model.DerivativeFailed
			summary.Fail("metadata", err)
		case extraction.Metadata.IsEmpty():
			summary.Metadata = model.DerivativeSkipped
		default:
			merged := metadata.Merge(rec.Metadata, extraction.Metadata)
			if !reflect.DeepEqual(merged, rec.Metadata) {
				update.Metadata = &merged
			}
			summary.Metadata = model.DerivativeGenerated
		}
	}

	if !job.SkipThumbnails {
		p.thumbnails(ctx, rec, hash, src, &update, &summary)
	}
	if !job.SkipDisplay {
		p.display(ctx, rec, src, extraction.RawExif, &update, &summary)
	}

	if !update.IsZero() {
		if err := p.repo.Update(ctx, rec.ID, update); err != nil {
			return summary, fmt.Errorf("persist derivatives: %w", err)
		}
	}
	summary.Duration = time.Since(start)

	p.requestCaption(ctx, rec, update, log)
	log.Info("derivatives processed",
		zap.String("metadata", string(summary.Metadata)),
		zap.String("thumb", string(summary.Thumb)),
		zap.String("thumb_small", string(summary.ThumbSmall)),
		zap.String("display", string(summary.Display)),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

type tierResult struct {
	status model.DerivativeStatus
	path   string
	err    error
}

// thumbnails renders both tiers in parallel. Each tier checks for its object
// right before rendering, so an existing thumbnail costs one stat.
func (p *Processor) thumbnails(ctx context.Context, rec *model.PhotoRecord, hash string, src []byte, update *repository.PhotoUpdate, summary *model.DerivativeSummary) {
	tiers := []struct {
		name string
		path string
		px   int
	}{
		{"thumb", storage.ThumbPath(hash), p.opts.ThumbDetailPx},
		{"thumb_small", storage.ThumbSmallPath(hash), p.opts.ThumbListPx},
	}
	results := make([]tierResult, len(tiers))

	var g errgroup.Group
	for i, t := range tiers {
		i, t := i, t
		g.Go(func() error {
			results[i] = p.renderThumbnail(ctx, t.path, src, t.px)
			return nil
		})
	}
	_ = g.Wait()

	current := []*string{rec.ThumbPath, rec.ThumbSmallPath}
	targets := []**string{&update.ThumbPath, &update.ThumbSmallPath}
	statuses := []*model.DerivativeStatus{&summary.Thumb, &summary.ThumbSmall}
	for i, res := range results {
		*statuses[i] = res.status
		if res.err != nil {
			p.logger.Warn("thumbnail tier omitted", zap.String("photo_id", rec.ID), zap.String("tier", tiers[i].name), zap.Error(res.err))
			summary.Fail(tiers[i].name, res.err)
			continue
		}
		if current[i] == nil || *current[i] != res.path {
			path := res.path
			*targets[i] = &path
		}
	}
}

func (p *Processor) renderThumbnail(ctx context.Context, path string, src []byte, px int) tierResult {
	exists, err := p.store.Exists(ctx, path)
	if err != nil {
		return tierResult{status: model.DerivativeFailed, err: err}
	}
	if exists {
		return tierResult{status: model.DerivativeSkipped, path: path}
	}
	data, err := p.engine.Thumbnail(ctx, src, px)
	if err != nil {
		return tierResult{status: model.DerivativeFailed, err: err}
	}
	out, err := p.putJPEG(ctx, path, data)
	if err != nil {
		return tierResult{status: model.DerivativeFailed, err: err}
	}
	if out == storage.AlreadyExists {
		return tierResult{status: model.DerivativeSkipped, path: path}
	}
	return tierResult{status: model.DerivativeGenerated, path: path}
}

// display renders the web-sized asset. On failure a HEIC original leaves the
// display path unset; any other original becomes its own display asset.
func (p *Processor) display(ctx context.Context, rec *model.PhotoRecord, src, rawExif []byte, update *repository.PhotoUpdate, summary *model.DerivativeSummary) {
	path := storage.DisplayPath(rec.OwnerID, rec.ID)
	setPath := func(v string) {
		if rec.DisplayPath == nil || *rec.DisplayPath != v {
			update.DisplayPath = &v
		}
	}

	err := func() error {
		exists, err := p.store.Exists(ctx, path)
		if err != nil {
			return err
		}
		if exists {
			summary.Display = model.DerivativeSkipped
			return nil
		}
		data, err := p.engine.Display(ctx, src, p.opts.DisplayMaxPx, rawExif)
		if err != nil {
			return err
		}
		out, err := p.putJPEG(ctx, path, data)
		if err != nil {
			return err
		}
		summary.Display = model.DerivativeGenerated
		if out == storage.AlreadyExists {
			summary.Display = model.DerivativeSkipped
		}
		return nil
	}()
	if err == nil {
		setPath(path)
		return
	}

	summary.Display = model.DerivativeFailed
	summary.Fail("display", err)
	if imageproc.IsHEIC(src) {
		p.logger.Warn("display asset failed for heic, leaving path unset", zap.String("photo_id", rec.ID), zap.Error(err))
		return
	}
	p.logger.Warn("display asset failed, falling back to original", zap.String("photo_id", rec.ID), zap.Error(err))
	if rec.DisplayPath == nil {
		setPath(rec.StoragePath)
	}
}

func (p *Processor) putJPEG(ctx context.Context, path string, data []byte) (storage.WriteOutcome, error) {
	return p.store.Put(ctx, path, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType:  "image/jpeg",
		CacheControl: storage.ImmutableCacheControl,
	})
}

// requestCaption asks for a caption once something displayable exists. A
// failure is logged only.
func (p *Processor) requestCaption(ctx context.Context, rec *model.PhotoRecord, update repository.PhotoUpdate, log *zap.Logger) {
	if p.captions == nil {
		return
	}
	image := firstSet(update.DisplayPath, rec.DisplayPath, update.ThumbPath, rec.ThumbPath)
	if image == "" {
		return
	}
	err := p.captions.EnqueueCaption(ctx, queue.CaptionPayload{PhotoID: rec.ID, OwnerID: rec.OwnerID, ImagePath: image})
	if err != nil {
		log.Warn("enqueue caption", zap.Error(err))
	}
}

func firstSet(candidates ...*string) string {
	for _, c := range candidates {
		if c != nil && *c != "" {
			return *c
		}
	}
	return ""
}

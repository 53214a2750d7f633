// Package ingest streams a multipart photo upload into the object store. The
// file is hashed and size-checked while it is written, so it is never held in
// memory as a whole.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PhotoDrop/internal/config"
	"github.com/dharsanguruparan/PhotoDrop/internal/storage"
	"github.com/dharsanguruparan/PhotoDrop/internal/streaming"
)

// sniffLen is how much of the file is peeked for type detection.
const sniffLen = 3072

// Options configures one Ingest call.
type Options struct {
	// Field is the form field of the primary file.
	Field    string
	MaxBytes int64

	// OwnerScope salts the content hash and names the owner's directories.
	OwnerScope string

	// HintField carries an optional client-made thumbnail. Empty disables it.
	HintField    string
	HintMaxBytes int64
	// HintMaxPx bounds both hint dimensions. Zero disables the check.
	HintMaxPx int
}

// Result describes a stored original.
type Result struct {
	Filename     string
	OriginalName string
	Hash         string
	StoragePath  string
	Size         int64
	ContentType  string
}

// Controller runs uploads against an object store.
type Controller struct {
	store        storage.ObjectStore
	allowedTypes []string
	allowedExts  map[string]struct{}
	defaults     Options
	logger       *zap.Logger
	hints        sync.WaitGroup
}

// NewController builds a Controller from the ingest configuration.
func NewController(store storage.ObjectStore, cfg config.IngestConfig, logger *zap.Logger) *Controller {
	exts := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, e := range cfg.AllowedExtensions {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &Controller{
		store:        store,
		allowedTypes: cfg.AllowedTypes,
		allowedExts:  exts,
		defaults: Options{
			Field:        cfg.FileField,
			MaxBytes:     cfg.MaxUploadBytes,
			HintField:    cfg.HintField,
			HintMaxBytes: cfg.HintMaxBytes,
			HintMaxPx:    cfg.HintMaxPx,
		},
		logger: logger,
	}
}

// Defaults returns the configured options with the given owner scope.
func (c *Controller) Defaults(owner string) Options {
	opts := c.defaults
	opts.OwnerScope = owner
	return opts
}

// Wait blocks until every background hint upload has finished.
func (c *Controller) Wait() {
	c.hints.Wait()
}

// upload is the primary file once it sits in the working area.
type upload struct {
	working     string
	name        string
	size        int64
	hash        string
	contentType string
	ext         string
}

// Ingest reads the multipart body of r. On success the original is stored
// at its content-addressed path. Every failure is an *Error.
func (c *Controller) Ingest(ctx context.Context, r *http.Request, opts Options) (Result, error) {
	if opts.Field == "" {
		opts.Field = "file"
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return Result{}, fail(CodeNoFile, "not a multipart request: %w", err)
	}

	var (
		primary *upload
		hint    []byte
		stray   bool
	)
	cleanup := func() {
		if primary != nil {
			c.removeWorking(ctx, primary.working)
		}
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			cleanup()
			if primary == nil {
				return Result{}, fail(CodeNoFile, "read multipart: %w", err)
			}
			return Result{}, fail(CodeStorage, "read multipart: %w", err)
		}

		switch {
		case opts.HintField != "" && part.FormName() == opts.HintField:
			hint = readHint(part, opts.HintMaxBytes)
			part.Close()
		case part.FileName() != "":
			// One file per request, whatever field it arrives under.
			if primary != nil || stray {
				drain(part)
				cleanup()
				return Result{}, fail(CodeLimitFiles, "more than one file in request")
			}
			if part.FormName() != opts.Field {
				drain(part)
				stray = true
				continue
			}
			up, ierr := c.storePrimary(ctx, part, opts)
			part.Close()
			if ierr != nil {
				return Result{}, ierr
			}
			primary = up
		default:
			drain(part)
		}
	}
	if primary == nil {
		return Result{}, fail(CodeNoFile, "no %q file in request", opts.Field)
	}

	dst := storage.OriginalPath(opts.OwnerScope, primary.hash, primary.ext)
	out, err := c.store.Copy(ctx, primary.working, dst, storage.PutOptions{ContentType: primary.contentType})
	if err != nil {
		cleanup()
		return Result{}, &Error{Code: CodeStorage, Err: fmt.Errorf("promote original: %w", err)}
	}
	c.removeWorking(ctx, primary.working)
	c.logger.Info("upload stored",
		zap.String("path", dst),
		zap.String("hash", primary.hash),
		zap.Int64("size", primary.size),
		zap.Stringer("outcome", out),
	)

	if len(hint) > 0 {
		c.storeHint(ctx, primary.hash, hint, opts.HintMaxPx)
	}

	return Result{
		Filename:     storage.SanitizeName(primary.name),
		OriginalName: primary.name,
		Hash:         primary.hash,
		StoragePath:  dst,
		Size:         primary.size,
		ContentType:  primary.contentType,
	}, nil
}

// storePrimary validates the part's type from its first bytes, then pipes it
// through the limiter and hasher into the working area.
func (c *Controller) storePrimary(ctx context.Context, part *multipart.Part, opts Options) (*upload, error) {
	name := part.FileName()
	br := bufio.NewReaderSize(part, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fail(CodeStorage, "read upload: %w", err)
	}

	contentType := "application/octet-stream"
	ext := storage.Ext(name)
	if len(head) > 0 {
		mt := mimetype.Detect(head)
		if !c.typeAllowed(mt, part.Header.Get("Content-Type"), ext) {
			drain(br)
			return nil, fail(CodeInvalidMIMEType, "%s (%s) is not an accepted image type", name, mt.String())
		}
		contentType = mt.String()
		if _, ok := c.allowedExts[ext]; !ok {
			ext = mt.Extension()
		}
	}

	limiter := streaming.NewLimitReader(br, opts.MaxBytes)
	hasher := streaming.NewHashReader(limiter, opts.OwnerScope)
	working := storage.UploadPath(opts.OwnerScope, uuid.NewString(), name)

	_, err = c.store.Put(ctx, working, hasher, -1, storage.PutOptions{ContentType: contentType, Upsert: true})
	if limiter.Exceeded() {
		c.removeWorking(ctx, working)
		return nil, &Error{Code: CodeLimitFileSize, Err: fmt.Errorf("%s: %w", name, streaming.ErrTooLarge)}
	}
	if err != nil {
		c.removeWorking(ctx, working)
		return nil, &Error{Code: CodeStorage, Err: fmt.Errorf("write %s: %w", working, err)}
	}
	if limiter.Count() == 0 {
		c.removeWorking(ctx, working)
		return nil, fail(CodeEmptyFile, "%s has no content", name)
	}
	return &upload{
		working:     working,
		name:        name,
		size:        limiter.Count(),
		hash:        hasher.Sum(),
		contentType: contentType,
		ext:         ext,
	}, nil
}

// typeAllowed requires the sniffed type to be an accepted image and the
// client's own claim, by declared type or by extension, to agree.
func (c *Controller) typeAllowed(mt *mimetype.MIME, declared, ext string) bool {
	sniffed := false
	for _, t := range c.allowedTypes {
		if mt.Is(t) {
			sniffed = true
			break
		}
	}
	if !sniffed {
		return false
	}
	if _, ok := c.allowedExts[ext]; ok {
		return true
	}
	if base, _, err := mime.ParseMediaType(declared); err == nil {
		for _, t := range c.allowedTypes {
			if strings.EqualFold(base, t) {
				return true
			}
		}
	}
	return false
}

// storeHint uploads the client thumbnail in the background. It outlives the
// request, so it gets its own deadline instead of the request's context.
func (c *Controller) storeHint(ctx context.Context, hash string, data []byte, maxPx int) {
	if !mimetype.Detect(data).Is("image/jpeg") {
		c.logger.Debug("discarding non-jpeg thumbnail hint", zap.String("hash", hash))
		return
	}
	if maxPx > 0 {
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
		if err != nil || cfg.Width > maxPx || cfg.Height > maxPx {
			c.logger.Debug("discarding thumbnail hint outside the list tier size",
				zap.String("hash", hash), zap.Int("width", cfg.Width), zap.Int("height", cfg.Height), zap.Error(err))
			return
		}
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	path := storage.ThumbSmallPath(hash)
	c.hints.Add(1)
	go func() {
		defer c.hints.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("thumbnail hint upload panicked", zap.Any("panic", r))
			}
		}()
		_, err := c.store.Put(ctx, path, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
			ContentType:  "image/jpeg",
			CacheControl: storage.ImmutableCacheControl,
		})
		if err != nil {
			c.logger.Warn("thumbnail hint upload failed", zap.String("path", path), zap.Error(err))
		}
	}()
}

func (c *Controller) removeWorking(ctx context.Context, path string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.store.Remove(ctx, path); err != nil {
		c.logger.Warn("remove working object", zap.String("path", path), zap.Error(err))
	}
}

// readHint buffers at most max bytes. A larger hint is dropped.
func readHint(r io.Reader, max int64) []byte {
	if max <= 0 {
		drain(r)
		return nil
	}
	buf, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil || int64(len(buf)) > max {
		drain(r)
		return nil
	}
	return buf
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, r)
}

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PhotoDrop/internal/auth"
	"github.com/dharsanguruparan/PhotoDrop/internal/ingest"
	"github.com/dharsanguruparan/PhotoDrop/internal/metadata"
	"github.com/dharsanguruparan/PhotoDrop/internal/model"
	"github.com/dharsanguruparan/PhotoDrop/internal/queue"
	"github.com/dharsanguruparan/PhotoDrop/internal/repository"
)

type uploadResponse struct {
	Success   bool   `json:"success"`
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	Hash      string `json:"hash"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.FromContext(ctx)
	owner := claims.UserID

	res, err := s.Ingest.Ingest(ctx, r, s.Ingest.Defaults(owner))
	if err != nil {
		var ie *ingest.Error
		if errors.As(err, &ie) {
			if ie.Status() >= http.StatusInternalServerError {
				s.Logger.Error("upload failed", zap.String("owner", owner), zap.Error(err))
			}
			respondError(w, r, ie.Status(), string(ie.Code), ie.Error())
			return
		}
		respondError(w, r, http.StatusInternalServerError, string(ingest.CodeStorage), "upload failed")
		return
	}

	rec, created, err := s.findOrCreate(r, owner, res)
	if err != nil {
		s.Logger.Error("store photo record", zap.String("hash", res.Hash), zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, "DATABASE_ERROR", "failed to store photo")
		return
	}
	if created || rec.ThumbPath == nil || rec.DisplayPath == nil {
		if err := s.Queue.EnqueueDerivatives(ctx, queue.DerivativePayload{PhotoID: rec.ID}); err != nil {
			// The record exists; a reprocess call recovers the derivatives.
			s.Logger.Warn("enqueue derivatives", zap.String("photo_id", rec.ID), zap.Error(err))
		}
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	render.Status(r, status)
	render.JSON(w, r, uploadResponse{
		Success:   true,
		ID:        rec.ID,
		Filename:  res.Filename,
		Hash:      res.Hash,
		Path:      rec.StoragePath,
		Size:      res.Size,
		Duplicate: !created,
	})
}

// findOrCreate returns the owner's record for the content hash, creating it
// on first upload. A concurrent create of the same hash resolves to the
// winner's record.
func (s *Server) findOrCreate(r *http.Request, owner string, res ingest.Result) (*model.PhotoRecord, bool, error) {
	ctx := r.Context()
	rec, err := s.Repo.GetByOwnerHash(ctx, owner, res.Hash)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}
	rec = &model.PhotoRecord{
		ID:           uuid.NewString(),
		OwnerID:      owner,
		ContentHash:  res.Hash,
		StoragePath:  res.StoragePath,
		Metadata:     metadata.PendingMetadata(),
		FileSize:     res.Size,
		OriginalName: res.OriginalName,
		ContentType:  res.ContentType,
	}
	err = s.Repo.Create(ctx, rec)
	if errors.Is(err, repository.ErrDuplicate) {
		rec, err = s.Repo.GetByOwnerHash(ctx, owner, res.Hash)
		return rec, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// ownedPhoto loads the {id} photo and hides photos of other owners.
func (s *Server) ownedPhoto(w http.ResponseWriter, r *http.Request) (*model.PhotoRecord, bool) {
	claims, _ := auth.FromContext(r.Context())
	rec, err := s.Repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, repository.ErrNotFound) || (err == nil && rec.OwnerID != claims.UserID) {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "photo not found")
		return nil, false
	}
	if err != nil {
		s.Logger.Error("load photo", zap.Error(err))
		respondError(w, r, http.StatusInternalServerError, "DATABASE_ERROR", "failed to load photo")
		return nil, false
	}
	return rec, true
}

type urlsResponse struct {
	ID         string `json:"id"`
	Thumb      string `json:"thumb,omitempty"`
	ThumbSmall string `json:"thumb_small,omitempty"`
	Display    string `json:"display,omitempty"`
	Expires    int64  `json:"expires"`
}

func (s *Server) handleURLs(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedPhoto(w, r)
	if !ok {
		return
	}
	resp := urlsResponse{ID: rec.ID}
	sign := func(p *string, dst *string) {
		if p == nil || *p == "" {
			return
		}
		u := s.Signer.SignAt(*p, s.now())
		*dst = u.URL(s.mediaBase())
		resp.Expires = u.Exp
	}
	sign(rec.ThumbPath, &resp.Thumb)
	sign(rec.ThumbSmallPath, &resp.ThumbSmall)
	sign(rec.DisplayPath, &resp.Display)
	render.JSON(w, r, resp)
}

type reprocessRequest struct {
	SkipMetadata   bool `json:"skipMetadata"`
	SkipThumbnails bool `json:"skipThumbnails"`
	SkipDisplay    bool `json:"skipDisplay"`
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedPhoto(w, r)
	if !ok {
		return
	}
	var req reprocessRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	payload := queue.DerivativePayload{
		PhotoID:        rec.ID,
		SkipMetadata:   req.SkipMetadata,
		SkipThumbnails: req.SkipThumbnails,
		SkipDisplay:    req.SkipDisplay,
	}
	if err := s.Queue.EnqueueDerivatives(r.Context(), payload); err != nil {
		s.Logger.Error("enqueue reprocess", zap.String("photo_id", rec.ID), zap.Error(err))
		respondError(w, r, http.StatusServiceUnavailable, "QUEUE_ERROR", "failed to queue job")
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]any{"success": true, "id": rec.ID})
}

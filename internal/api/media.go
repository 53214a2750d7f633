package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PhotoDrop/internal/signing"
	"github.com/dharsanguruparan/PhotoDrop/internal/storage"
)

// mediaPrefixes are the only object prefixes /media serves.
var mediaPrefixes = []string{"thumbnails/", "display/", "originals/"}

// handleMedia serves a derivative. A signed request is checked against its
// signature alone. An unsigned one falls back to bearer or cookie auth.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "*")
	if !servable(p) {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "not found")
		return
	}

	q := r.URL.Query()
	err := s.Signer.Verify(p, q.Get("sig"), q.Get("exp"), s.now())
	switch {
	case errors.Is(err, signing.ErrUnsigned):
		claims, aerr := s.Auth.Authenticate(r)
		if aerr != nil {
			respondError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
			return
		}
		if !ownsPath(claims.UserID, p) {
			respondError(w, r, http.StatusForbidden, "FORBIDDEN", "forbidden")
			return
		}
	case err != nil:
		respondError(w, r, http.StatusForbidden, "FORBIDDEN", err.Error())
		return
	}

	w.Header().Set("Cache-Control", "private, no-store")
	if s.Config.Signing.ServeMode == "redirect" {
		u, err := s.Store.PresignGet(r.Context(), p, s.Config.Signing.PresignTTL)
		if err != nil {
			s.mediaError(w, r, p, err)
			return
		}
		http.Redirect(w, r, u, http.StatusFound)
		return
	}

	rc, info, err := s.Store.Open(r.Context(), p)
	if err != nil {
		s.mediaError(w, r, p, err)
		return
	}
	defer rc.Close()
	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.Logger.Debug("media stream interrupted", zap.String("path", p), zap.Error(err))
	}
}

func (s *Server) mediaError(w http.ResponseWriter, r *http.Request, p string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "not found")
		return
	}
	s.Logger.Error("media access", zap.String("path", p), zap.Error(err))
	respondError(w, r, http.StatusInternalServerError, "STORAGE_ERROR", "media unavailable")
}

func servable(p string) bool {
	if p == "" || strings.Contains(p, "..") {
		return false
	}
	for _, prefix := range mediaPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// ownsPath reports whether an authenticated user may read p without a
// signature. Thumbnails are keyed by an owner-salted hash and carry no owner
// segment, so any signed-in user may read them.
func ownsPath(owner, p string) bool {
	if strings.HasPrefix(p, "thumbnails/") {
		return true
	}
	parts := strings.SplitN(p, "/", 3)
	return len(parts) == 3 && parts[1] == storage.OwnerDir(owner)
}

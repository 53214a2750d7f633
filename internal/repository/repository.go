// Package repository persists PhotoRecords.
package repository

import (
	"context"
	"errors"

	"github.com/dharsanguruparan/PhotoDrop/internal/metadata"
	"github.com/dharsanguruparan/PhotoDrop/internal/model"
)

var (
	// ErrNotFound is returned when no photo matches the lookup.
	ErrNotFound = errors.New("photo not found")
	// ErrDuplicate is returned when the owner already has a photo with the
	// same content hash.
	ErrDuplicate = errors.New("photo already exists")
)

// PhotoUpdate is a partial update. Nil fields are left untouched.
type PhotoUpdate struct {
	ContentHash    *string
	Metadata       *metadata.Metadata
	ThumbPath      *string
	ThumbSmallPath *string
	DisplayPath    *string
}

// IsZero reports whether the update would change nothing but the timestamp.
func (u PhotoUpdate) IsZero() bool {
	return u.ContentHash == nil && u.Metadata == nil && u.ThumbPath == nil &&
		u.ThumbSmallPath == nil && u.DisplayPath == nil
}

// PhotoStore is implemented by the Postgres and memory repositories.
type PhotoStore interface {
	GetByID(ctx context.Context, id string) (*model.PhotoRecord, error)
	GetByOwnerHash(ctx context.Context, ownerID, hash string) (*model.PhotoRecord, error)
	// Create stamps CreatedAt/UpdatedAt and inserts rec. A second photo with
	// the same owner and hash fails with ErrDuplicate.
	Create(ctx context.Context, rec *model.PhotoRecord) error
	Update(ctx context.Context, id string, u PhotoUpdate) error
}

// DerivativePaths lists every object a photo owns in the object store, for a
// caller that deletes the photo.
func DerivativePaths(rec *model.PhotoRecord) []string {
	seen := make(map[string]struct{}, 4)
	var out []string
	add := func(p *string) {
		if p == nil || *p == "" {
			return
		}
		if _, ok := seen[*p]; ok {
			return
		}
		seen[*p] = struct{}{}
		out = append(out, *p)
	}
	add(&rec.StoragePath)
	add(rec.ThumbPath)
	add(rec.ThumbSmallPath)
	add(rec.DisplayPath)
	return out
}

func apply(rec *model.PhotoRecord, u PhotoUpdate) {
	if u.ContentHash != nil {
		rec.ContentHash = *u.ContentHash
	}
	if u.Metadata != nil {
		rec.Metadata = u.Metadata.Clone()
	}
	if u.ThumbPath != nil {
		rec.ThumbPath = clonePtr(u.ThumbPath)
	}
	if u.ThumbSmallPath != nil {
		rec.ThumbSmallPath = clonePtr(u.ThumbSmallPath)
	}
	if u.DisplayPath != nil {
		rec.DisplayPath = clonePtr(u.DisplayPath)
	}
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

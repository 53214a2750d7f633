package repository

import (
	"context"
	"sync"
	"time"

	"github.com/dharsanguruparan/PhotoDrop/internal/model"
)

// MemoryRepository keeps photos in process memory. It backs local
// development without DATABASE_URL and the tests of its callers.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]*model.PhotoRecord
	byHash map[string]string
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*model.PhotoRecord),
		byHash: make(map[string]string),
	}
}

func ownerHashKey(owner, hash string) string { return owner + "\x00" + hash }

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*model.PhotoRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (r *MemoryRepository) GetByOwnerHash(_ context.Context, ownerID, hash string) (*model.PhotoRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHash[ownerHashKey(ownerID, hash)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(r.byID[id]), nil
}

func (r *MemoryRepository) Create(_ context.Context, rec *model.PhotoRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ownerHashKey(rec.OwnerID, rec.ContentHash)
	if _, ok := r.byHash[key]; ok {
		return ErrDuplicate
	}
	if _, ok := r.byID[rec.ID]; ok {
		return ErrDuplicate
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	r.byID[rec.ID] = copyRecord(rec)
	r.byHash[key] = rec.ID
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, id string, u PhotoUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if u.ContentHash != nil && *u.ContentHash != rec.ContentHash {
		delete(r.byHash, ownerHashKey(rec.OwnerID, rec.ContentHash))
		r.byHash[ownerHashKey(rec.OwnerID, *u.ContentHash)] = id
	}
	apply(rec, u)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func copyRecord(rec *model.PhotoRecord) *model.PhotoRecord {
	out := *rec
	out.Metadata = rec.Metadata.Clone()
	out.ThumbPath = clonePtr(rec.ThumbPath)
	out.ThumbSmallPath = clonePtr(rec.ThumbSmallPath)
	out.DisplayPath = clonePtr(rec.DisplayPath)
	return &out
}

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data         []byte
	contentType  string
	cacheControl string
	modified     time.Time
}

// MemoryStore keeps objects in a map guarded by an RWMutex. It backs local
// development (STORAGE_BACKEND=memory) and the package tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*memObject
	// BaseURL prefixes presigned URLs, e.g. "http://localhost:8080/_mem".
	BaseURL string
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*memObject)}
}

// Put stores the full contents of r.
func (m *MemoryStore) Put(ctx context.Context, p string, r io.Reader, _ int64, opts PutOptions) (WriteOutcome, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[p]; ok && !opts.Upsert {
		return AlreadyExists, nil
	}
	m.objects[p] = &memObject{
		data:         data,
		contentType:  opts.ContentType,
		cacheControl: opts.CacheControl,
		modified:     time.Now().UTC(),
	}
	return Created, nil
}

// Get returns a copy of the object bytes.
func (m *MemoryStore) Get(_ context.Context, p string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[p]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(obj.data), nil
}

// Open returns a reader over a snapshot of the object.
func (m *MemoryStore) Open(ctx context.Context, p string) (io.ReadCloser, ObjectInfo, error) {
	data, err := m.Get(ctx, p)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	info, _ := m.Stat(p)
	return io.NopCloser(bytes.NewReader(data)), info, nil
}

// Stat reports object info without copying the data.
func (m *MemoryStore) Stat(p string) (ObjectInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[p]
	if !ok {
		return ObjectInfo{}, false
	}
	return ObjectInfo{Path: p, Size: int64(len(obj.data)), ContentType: obj.contentType, LastModified: obj.modified}, true
}

// CacheControl returns the cache header recorded for p.
func (m *MemoryStore) CacheControl(p string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if obj, ok := m.objects[p]; ok {
		return obj.cacheControl
	}
	return ""
}

func (m *MemoryStore) Exists(_ context.Context, p string) (bool, error) {
	_, ok := m.Stat(p)
	return ok, nil
}

func (m *MemoryStore) Copy(ctx context.Context, src, dst string, opts PutOptions) (WriteOutcome, error) {
	data, err := m.Get(ctx, src)
	if err != nil {
		return 0, err
	}
	if opts.ContentType == "" {
		info, _ := m.Stat(src)
		opts.ContentType = info.ContentType
	}
	return m.Put(ctx, dst, bytes.NewReader(data), int64(len(data)), opts)
}

func (m *MemoryStore) List(_ context.Context, prefix, search string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ObjectInfo
	for p, obj := range m.objects {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		if search != "" && !strings.Contains(path.Base(p), search) {
			continue
		}
		out = append(out, ObjectInfo{Path: p, Size: int64(len(obj.data)), ContentType: obj.contentType, LastModified: obj.modified})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *MemoryStore) Remove(_ context.Context, paths ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range paths {
		delete(m.objects, p)
	}
	return nil
}

// PresignGet returns BaseURL/path; the memory store has no real signing.
func (m *MemoryStore) PresignGet(_ context.Context, p string, ttl time.Duration) (string, error) {
	if _, ok := m.Stat(p); !ok {
		return "", ErrNotFound
	}
	return fmt.Sprintf("%s/%s?ttl=%d", strings.TrimSuffix(m.BaseURL, "/"), p, int64(ttl.Seconds())), nil
}

// Len reports how many objects are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PhotoDrop/internal/auth"
	"github.com/dharsanguruparan/PhotoDrop/internal/config"
	"github.com/dharsanguruparan/PhotoDrop/internal/ingest"
	"github.com/dharsanguruparan/PhotoDrop/internal/queue"
	"github.com/dharsanguruparan/PhotoDrop/internal/repository"
	"github.com/dharsanguruparan/PhotoDrop/internal/signing"
	"github.com/dharsanguruparan/PhotoDrop/internal/storage"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []queue.DerivativePayload
}

func (q *recordingQueue) EnqueueDerivatives(_ context.Context, p queue.DerivativePayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, p)
	return nil
}

func (q *recordingQueue) EnqueueCaption(context.Context, queue.CaptionPayload) error { return nil }

type harness struct {
	srv     *Server
	handler http.Handler
	repo    *repository.MemoryRepository
	store   *storage.MemoryStore
	queue   *recordingQueue
	auth    *auth.Authenticator
}

func newHarness(t *testing.T, serveMode string) *harness {
	t.Helper()
	cfg := &config.Config{
		Ingest: config.IngestConfig{
			MaxUploadBytes:    1 << 20,
			AllowedTypes:      []string{"image/jpeg", "image/png"},
			AllowedExtensions: []string{".jpg", ".png"},
			HintMaxBytes:      1 << 10,
			FileField:         "file",
			HintField:         "thumbnail",
		},
		Signing: config.SigningConfig{ServeMode: serveMode, Window: time.Hour, PresignTTL: time.Minute},
	}
	store := storage.NewMemoryStore()
	store.BaseURL = "http://objects.local"
	h := &harness{
		repo:  repository.NewMemoryRepository(),
		store: store,
		queue: &recordingQueue{},
		auth:  auth.NewAuthenticator([]byte("jwt"), "session"),
	}
	h.srv = New(Deps{
		Config: cfg,
		Ingest: ingest.NewController(store, cfg.Ingest, zap.NewNop()),
		Repo:   h.repo,
		Store:  store,
		Queue:  h.queue,
		Signer: signing.NewSigner([]byte("media-secret"), cfg.Signing.Window),
		Auth:   h.auth,
		Logger: zap.NewNop(),
	})
	h.handler = h.srv.Routes()
	return h
}

func (h *harness) token(t *testing.T, user string) string {
	t.Helper()
	tok, err := h.auth.Issue(user, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) do(t *testing.T, req *http.Request, user string) *httptest.ResponseRecorder {
	t.Helper()
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+h.token(t, user))
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/photos", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestUploadCreatesThenDeduplicates(t *testing.T) {
	h := newHarness(t, "stream")
	data := pngBytes(t)

	rec := h.do(t, uploadRequest(t, "a.png", data), "alice")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[uploadResponse](t, rec)
	assert.True(t, first.Success)
	assert.False(t, first.Duplicate)
	assert.Equal(t, int64(len(data)), first.Size)
	require.Len(t, h.queue.jobs, 1)
	assert.Equal(t, first.ID, h.queue.jobs[0].PhotoID)

	stored, err := h.repo.GetByID(context.Background(), first.ID)
	require.NoError(t, err)
	assert.True(t, stored.Metadata.Pending)
	assert.Equal(t, "alice", stored.OwnerID)

	rec = h.do(t, uploadRequest(t, "again.png", data), "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[uploadResponse](t, rec)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ID, second.ID)

	rec = h.do(t, uploadRequest(t, "a.png", data), "bob")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEqual(t, first.Hash, decode[uploadResponse](t, rec).Hash)
}

func TestUploadErrors(t *testing.T) {
	h := newHarness(t, "stream")

	rec := h.do(t, uploadRequest(t, "a.png", pngBytes(t)), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, uploadRequest(t, "a.png", []byte("plain text")), "alice")
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, "INVALID_MIME_TYPE", body.Code)

	rec = h.do(t, httptest.NewRequest(http.MethodPost, "/photos", strings.NewReader("x")), "alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "NO_FILE", decode[errorResponse](t, rec).Code)
}

// seedPhoto uploads a photo and attaches a thumbnail object to it.
func seedPhoto(t *testing.T, h *harness, owner string) (id, thumb string) {
	t.Helper()
	rec := h.do(t, uploadRequest(t, "a.png", pngBytes(t)), owner)
	require.Equal(t, http.StatusCreated, rec.Code)
	up := decode[uploadResponse](t, rec)

	thumb = storage.ThumbPath(up.Hash)
	_, err := h.store.Put(context.Background(), thumb, strings.NewReader("thumb-bytes"), -1, storage.PutOptions{ContentType: "image/jpeg"})
	require.NoError(t, err)
	require.NoError(t, h.repo.Update(context.Background(), up.ID, repository.PhotoUpdate{ThumbPath: &thumb}))
	return up.ID, thumb
}

func TestSignedURLRoundTrip(t *testing.T) {
	h := newHarness(t, "stream")
	id, _ := seedPhoto(t, h, "alice")

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/photos/"+id+"/urls", nil), "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	urls := decode[urlsResponse](t, rec)
	require.NotEmpty(t, urls.Thumb)
	assert.Empty(t, urls.Display)

	again := decode[urlsResponse](t, h.do(t, httptest.NewRequest(http.MethodGet, "/photos/"+id+"/urls", nil), "alice"))
	assert.Equal(t, urls.Thumb, again.Thumb, "same window mints the same url")

	rec = h.do(t, httptest.NewRequest(http.MethodGet, urls.Thumb, nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "thumb-bytes", rec.Body.String())
	assert.Equal(t, "private, no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/photos/"+id+"/urls", nil), "bob")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMediaRejections(t *testing.T) {
	h := newHarness(t, "stream")
	_, thumb := seedPhoto(t, h, "alice")
	signed := h.srv.Signer.Sign(thumb)

	tampered := signed
	tampered.Sig = strings.Repeat("A", len(signed.Sig))
	rec := h.do(t, httptest.NewRequest(http.MethodGet, tampered.URL("/media"), nil), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	other := signed
	other.Path = storage.ThumbSmallPath("feed")
	rec = h.do(t, httptest.NewRequest(http.MethodGet, other.URL("/media"), nil), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	expired := h.srv.Signer.SignAt(thumb, time.Now().Add(-72*time.Hour))
	rec = h.do(t, httptest.NewRequest(http.MethodGet, expired.URL("/media"), nil), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/media/"+thumb+"?sig="+signed.Sig, nil), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/media/"+thumb, nil), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/media/"+thumb, nil), "alice")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/media/secrets/x", nil), "alice")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMediaLegacyAuthIsOwnerScoped(t *testing.T) {
	h := newHarness(t, "stream")
	display := storage.DisplayPath("alice", "p1")
	_, err := h.store.Put(context.Background(), display, strings.NewReader("d"), -1, storage.PutOptions{})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, h.do(t, httptest.NewRequest(http.MethodGet, "/media/"+display, nil), "alice").Code)
	assert.Equal(t, http.StatusForbidden, h.do(t, httptest.NewRequest(http.MethodGet, "/media/"+display, nil), "bob").Code)
	assert.Equal(t, http.StatusForbidden, h.do(t, httptest.NewRequest(http.MethodGet, "/media/"+display, nil), "x/alice").Code)

	other := storage.DisplayPath("x/alice", "p2")
	_, err = h.store.Put(context.Background(), other, strings.NewReader("d"), -1, storage.PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, h.do(t, httptest.NewRequest(http.MethodGet, "/media/"+other, nil), "alice").Code)
	assert.Equal(t, http.StatusOK, h.do(t, httptest.NewRequest(http.MethodGet, "/media/"+other, nil), "x/alice").Code)
}

func TestUnauthenticatedRouteAnswersJSON(t *testing.T) {
	h := newHarness(t, "stream")
	rec := h.do(t, uploadRequest(t, "a.png", pngBytes(t)), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")

	body := decode[errorResponse](t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, "UNAUTHORIZED", body.Code)
	assert.NotEmpty(t, body.Error)
}

func TestMediaRedirectMode(t *testing.T) {
	h := newHarness(t, "redirect")
	_, thumb := seedPhoto(t, h, "alice")

	rec := h.do(t, httptest.NewRequest(http.MethodGet, h.srv.Signer.Sign(thumb).URL("/media"), nil), "")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "http://objects.local/"+thumb))
	assert.Equal(t, "private, no-store", rec.Header().Get("Cache-Control"))

	missing := h.srv.Signer.Sign(storage.ThumbPath("nothing"))
	rec = h.do(t, httptest.NewRequest(http.MethodGet, missing.URL("/media"), nil), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReprocess(t *testing.T) {
	h := newHarness(t, "stream")
	id, _ := seedPhoto(t, h, "alice")

	req := httptest.NewRequest(http.MethodPost, "/photos/"+id+"/reprocess", strings.NewReader(`{"skipThumbnails":true}`))
	rec := h.do(t, req, "alice")
	require.Equal(t, http.StatusAccepted, rec.Code)
	last := h.queue.jobs[len(h.queue.jobs)-1]
	assert.Equal(t, queue.DerivativePayload{PhotoID: id, SkipThumbnails: true}, last)

	rec = h.do(t, httptest.NewRequest(http.MethodPost, "/photos/"+id+"/reprocess", nil), "alice")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = h.do(t, httptest.NewRequest(http.MethodPost, "/photos/"+id+"/reprocess", nil), "bob")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, "stream")
	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	h.srv.Checks = map[string]HealthCheck{"redis": func(context.Context) error { return errors.New("down") }}
	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil), "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "down", decode[map[string]string](t, rec)["redis"])
}

package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dharsanguruparan/PhotoDrop/internal/database"
	"github.com/dharsanguruparan/PhotoDrop/internal/metadata"
)

func setupPostgres(t *testing.T) *PhotoRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in -short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "photodrop",
			"POSTGRES_PASSWORD": "photodrop",
			"POSTGRES_DB":       "photodrop",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://photodrop:photodrop@%s:%s/photodrop?sslmode=disable", host, port.Port())
	pool, err := database.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.EnsureSchema(ctx, pool))
	return NewPhotoRepository(pool)
}

func TestPhotoRepositoryRoundTrip(t *testing.T) {
	repo := setupPostgres(t)
	ctx := context.Background()

	rec := newRecord("p1", "u1", "h1")
	rec.Metadata.Extra = map[string]any{"album": "trip"}
	require.NoError(t, repo.Create(ctx, rec))
	assert.ErrorIs(t, repo.Create(ctx, newRecord("p2", "u1", "h1")), ErrDuplicate)

	thumb := "thumbnails/h1.jpg"
	require.NoError(t, repo.Update(ctx, "p1", PhotoUpdate{ThumbPath: &thumb}))
	meta := metadata.Merge(rec.Metadata, metadata.Metadata{Model: "X-T5"})
	require.NoError(t, repo.Update(ctx, "p1", PhotoUpdate{Metadata: &meta}))

	got, err := repo.GetByOwnerHash(ctx, "u1", "h1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)
	assert.Equal(t, thumb, *got.ThumbPath)
	assert.Nil(t, got.DisplayPath)
	assert.False(t, got.Metadata.Pending)
	assert.Equal(t, "X-T5", got.Metadata.Model)
	assert.Equal(t, "trip", got.Metadata.Extra["album"])

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.Update(ctx, "missing", PhotoUpdate{ThumbPath: &thumb}), ErrNotFound)
}

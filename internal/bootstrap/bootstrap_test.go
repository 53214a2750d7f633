package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PhotoDrop/internal/config"
	"github.com/dharsanguruparan/PhotoDrop/internal/lock"
	"github.com/dharsanguruparan/PhotoDrop/internal/repository"
	"github.com/dharsanguruparan/PhotoDrop/internal/storage"
)

func TestBuildLocalBackends(t *testing.T) {
	t.Setenv("PHOTODROP_ENV", "production")
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("QUEUE_BACKEND", "inline")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("HEIC_CONVERTER", "photodrop-missing-converter")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "redirect", cfg.Signing.ServeMode)

	comps, err := Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = comps.Close() })

	assert.IsType(t, &storage.MemoryStore{}, comps.Store)
	assert.IsType(t, &repository.MemoryRepository{}, comps.Repo)
	assert.IsType(t, &lock.KeyedMutex{}, comps.Locker)
	assert.NotNil(t, comps.Engine)
	assert.Empty(t, comps.Checks)
	assert.Equal(t, "stream", cfg.Signing.ServeMode, "memory storage cannot presign")
	assert.NotNil(t, comps.Processor(nil))
}

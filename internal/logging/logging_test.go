package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	logger, err := New(Config{Level: "debug", Format: "console"}, "test")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	_, err = New(Config{Level: "loud"}, "test")
	assert.Error(t, err)

	_, err = New(Config{Level: "info", Format: "xml"}, "test")
	assert.Error(t, err)

	logger, err = New(Config{Level: "warn", File: filepath.Join(t.TempDir(), "photodrop.log"), MaxSizeMB: 1}, "test")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(0))
	logger.Warn("written to file sink")
}

package main

import (
	"bytes"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/PhotoDrop/internal/streaming"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHashMatchesIngestHash(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "Beach.JPG")
	data := []byte("not really a jpeg")
	require.NoError(t, os.WriteFile(name, data, 0o600))

	out, err := execute(t, "hash", "--owner", "u1", name)
	require.NoError(t, err)

	sum := streaming.HashBytes(data, "u1")
	assert.Equal(t, sum+"\toriginals/u1/"+sum+".jpg\n", out)
}

func TestHashRejectsLargeFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "big.png")
	require.NoError(t, os.WriteFile(name, bytes.Repeat([]byte{1}, 64), 0o600))

	_, err := execute(t, "hash", "--max-bytes", "10", name)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "larger than 10 bytes")
}

func TestSignThenVerify(t *testing.T) {
	t.Setenv("SIGNING_SECRET", "cli-secret")
	t.Setenv("PUBLIC_BASE_URL", "https://photos.example.com/")

	out, err := execute(t, "sign", "/thumbnails/abc.jpg")
	require.NoError(t, err)

	u, err := url.Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "/media/thumbnails/abc.jpg", u.Path)

	out, err = execute(t, "verify", "thumbnails/abc.jpg", u.Query().Get("sig"), u.Query().Get("exp"))
	require.NoError(t, err)
	assert.Equal(t, "valid\n", out)

	_, err = execute(t, "verify", "thumbnails/other.jpg", u.Query().Get("sig"), u.Query().Get("exp"))
	assert.Error(t, err)
}

func TestSignRequiresSecret(t *testing.T) {
	t.Setenv("SIGNING_SECRET", "")
	_, err := execute(t, "sign", "thumbnails/abc.jpg")
	assert.EqualError(t, err, "SIGNING_SECRET must be set")
}

func TestTokenRequiresUser(t *testing.T) {
	t.Setenv("JWT_SECRET", "jwt-secret")
	_, err := execute(t, "token")
	assert.EqualError(t, err, "--user is required")

	out, err := execute(t, "token", "--user", "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out), "."))
}

func TestRunRejectsUnknownBinary(t *testing.T) {
	_, err := execute(t, "run", "api")
	assert.EqualError(t, err, `unknown binary "api"`)

	_, err = execute(t, "run", "worker", "--inline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no worker to start")
}

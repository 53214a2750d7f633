package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"IMG_0001.JPG":             "IMG_0001.JPG",
		"my holiday photo (1).jpg": "my_holiday_photo_1_.jpg",
		"../../etc/passwd":         "passwd",
		`C:\Users\me\pic.heic`:     "pic.heic",
		"ünïcödé.png":              "_n_c_d_.png",
		"":                         "file",
		"...":                      "file",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeName(in), in)
	}

	long := strings.Repeat("a", 300) + ".jpeg"
	got := SanitizeName(long)
	assert.Len(t, got, 100)
	assert.True(t, strings.HasSuffix(got, ".jpeg"))
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "uploads/u1/tok-a_b.jpg", UploadPath("u1", "tok", "a b.jpg"))
	assert.Equal(t, "originals/u1/abc.heic", OriginalPath("u1", "abc", Ext("X.HEIC")))
	assert.Equal(t, "thumbnails/abc.jpg", ThumbPath("abc"))
	assert.Equal(t, "thumbnails/abc-sm.jpg", ThumbSmallPath("abc"))
	assert.Equal(t, "display/u1/p1.jpg", DisplayPath("u1", "p1"))
	assert.Equal(t, "display/~anonymous/p1.jpg", DisplayPath("", "p1"))
	assert.Equal(t, "uploads/~2e2e2f6576696c/tok-x.png", UploadPath("../evil", "tok", "x.png"))
}

func TestOwnerDirIsInjective(t *testing.T) {
	owners := []string{"", "anonymous", "~anonymous", "alice", "x/alice", "alice/", "..", ".alice", "al ice", "al_ice", "~616c696365"}
	seen := make(map[string]string, len(owners))
	for _, o := range owners {
		dir := OwnerDir(o)
		assert.NotContains(t, dir, "/", o)
		assert.NotEqual(t, "..", dir, o)
		if prev, ok := seen[dir]; ok {
			t.Fatalf("owners %q and %q share directory %q", prev, o, dir)
		}
		seen[dir] = o
	}
	assert.Equal(t, "alice", OwnerDir("alice"))
}

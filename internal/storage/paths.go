package storage

import (
	"encoding/hex"
	"path"
	"regexp"
	"strings"
)

var (
	unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	plainOwner = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]{0,99}$`)
)

const maxNameLen = 100

// SanitizeName keeps [A-Za-z0-9._-], collapses every other run of characters
// to "_" and caps the result at 100 bytes, keeping the extension.
func SanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	clean := strings.Trim(unsafeName.ReplaceAllString(name, "_"), ".")
	if clean == "" || clean == "_" {
		clean = "file"
	}
	if len(clean) > maxNameLen {
		ext := path.Ext(clean)
		if len(ext) > 16 {
			ext = ""
		}
		clean = clean[:maxNameLen-len(ext)] + ext
	}
	return clean
}

// Ext returns the lower-cased extension of name, including the dot.
func Ext(name string) string {
	return strings.ToLower(path.Ext(name))
}

// UploadPath is the working location of an upload whose hash is not yet known.
func UploadPath(owner, token, name string) string {
	return "uploads/" + OwnerDir(owner) + "/" + token + "-" + SanitizeName(name)
}

// OriginalPath is the content-addressed home of an original.
func OriginalPath(owner, hash, ext string) string {
	return "originals/" + OwnerDir(owner) + "/" + hash + ext
}

// ThumbPath is the detail-tier thumbnail of a content hash.
func ThumbPath(hash string) string {
	return "thumbnails/" + hash + ".jpg"
}

// ThumbSmallPath is the list-tier thumbnail of a content hash. Client-supplied
// preview thumbnails land here too.
func ThumbSmallPath(hash string) string {
	return "thumbnails/" + hash + "-sm.jpg"
}

// DisplayPath is keyed by photo rather than hash since it may be regenerated.
func DisplayPath(owner, photoID string) string {
	return "display/" + OwnerDir(owner) + "/" + photoID + ".jpg"
}

// OwnerDir is the directory segment of an owner. Ids made only of safe
// characters are used as is; anything else is hex encoded behind "~", which a
// plain id can never start with, so distinct owners never share a directory.
func OwnerDir(owner string) string {
	switch {
	case owner == "":
		return "~anonymous"
	case plainOwner.MatchString(owner):
		return owner
	}
	return "~" + hex.EncodeToString([]byte(owner))
}

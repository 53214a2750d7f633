// Package streaming provides pass-through reader and writer decorators used on
// in-flight uploads: a byte-count limiter and a SHA-256 hasher. Neither changes
// the bytes it forwards.
package streaming

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"io"
)

// ErrTooLarge is returned by the limiter the moment the running byte count
// exceeds the configured maximum.
var ErrTooLarge = errors.New("stream exceeds size limit")

// LimitReader forwards bytes from the wrapped reader until more than max bytes
// have been seen, then fails with ErrTooLarge.
type LimitReader struct {
	r     io.Reader
	max   int64
	count int64
	err   error
}

// NewLimitReader wraps r with a limit of max bytes.
func NewLimitReader(r io.Reader, max int64) *LimitReader {
	return &LimitReader{r: r, max: max}
}

// Read implements io.Reader. The read that crosses the limit forwards nothing.
func (l *LimitReader) Read(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	// Never ask for more than one byte past the allowance so an oversized
	// stream is detected without pulling a whole extra chunk.
	if remain := l.max - l.count + 1; int64(len(p)) > remain {
		p = p[:remain]
	}
	n, err := l.r.Read(p)
	if l.count+int64(n) > l.max {
		l.err = ErrTooLarge
		return 0, l.err
	}
	l.count += int64(n)
	return n, err
}

// Count returns the number of bytes forwarded so far.
func (l *LimitReader) Count() int64 {
	return l.count
}

// Exceeded reports whether the limit has tripped. Store clients do not always
// wrap the reader's error, so callers check here instead of on the put error.
func (l *LimitReader) Exceeded() bool {
	return errors.Is(l.err, ErrTooLarge)
}

// HashReader feeds every byte it forwards into a SHA-256 digest.
type HashReader struct {
	r     io.Reader
	h     hash.Hash
	scope string
}

// NewHashReader wraps r. When scope is non-empty it is mixed into the digest
// after the last byte, so identical content under different scopes hashes
// differently.
func NewHashReader(r io.Reader, scope string) *HashReader {
	return &HashReader{r: r, h: sha256.New(), scope: scope}
}

// Read implements io.Reader.
func (h *HashReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if n > 0 {
		h.h.Write(p[:n])
	}
	return n, err
}

// Sum finalizes the digest and returns it hex encoded. Call it once, after the
// stream has been fully consumed.
func (h *HashReader) Sum() string {
	return finish(h.h, h.scope)
}

// HashBytes returns the same digest a HashReader would produce for data.
func HashBytes(data []byte, scope string) string {
	h := sha256.New()
	h.Write(data)
	return finish(h, scope)
}

func finish(h hash.Hash, scope string) string {
	if scope != "" {
		h.Write([]byte(scope))
	}
	return hex.EncodeToString(h.Sum(nil))
}

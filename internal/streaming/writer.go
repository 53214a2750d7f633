package streaming

import (
	"crypto/sha256"
	"hash"
	"io"
)

// LimitWriter is the write-side counterpart of LimitReader, for tee-style
// pipelines where the producer pushes bytes.
type LimitWriter struct {
	w     io.Writer
	max   int64
	count int64
}

// NewLimitWriter wraps w with a limit of max bytes.
func NewLimitWriter(w io.Writer, max int64) *LimitWriter {
	return &LimitWriter{w: w, max: max}
}

// Write implements io.Writer. A write that would cross the limit is rejected
// whole.
func (l *LimitWriter) Write(p []byte) (int, error) {
	if l.count+int64(len(p)) > l.max {
		l.count = l.max + 1
		return 0, ErrTooLarge
	}
	n, err := l.w.Write(p)
	l.count += int64(n)
	return n, err
}

// Count returns the number of bytes accepted so far.
func (l *LimitWriter) Count() int64 {
	return l.count
}

// HashWriter hashes every byte written through it before passing it on.
type HashWriter struct {
	w     io.Writer
	h     hash.Hash
	scope string
}

// NewHashWriter wraps w. A nil w makes the writer a pure digest sink.
func NewHashWriter(w io.Writer, scope string) *HashWriter {
	if w == nil {
		w = io.Discard
	}
	return &HashWriter{w: w, h: sha256.New(), scope: scope}
}

// Write implements io.Writer.
func (h *HashWriter) Write(p []byte) (int, error) {
	n, err := h.w.Write(p)
	if n > 0 {
		h.h.Write(p[:n])
	}
	return n, err
}

// Sum finalizes the digest, see HashReader.Sum.
func (h *HashWriter) Sum() string {
	return finish(h.h, h.scope)
}

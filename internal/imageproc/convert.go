package imageproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// ErrConverterUnavailable is returned when no converter binary was found.
var ErrConverterUnavailable = errors.New("image converter unavailable")

// Converter turns a container the decoders cannot read into JPEG bytes.
type Converter interface {
	ToJPEG(ctx context.Context, src []byte) ([]byte, error)
}

// MagickConverter pipes the source through the ImageMagick CLI over
// stdin/stdout, so nothing touches the disk.
type MagickConverter struct {
	path   string
	logger *zap.Logger
}

// NewMagickConverter resolves binary on PATH. A missing binary yields a
// converter that always returns ErrConverterUnavailable.
func NewMagickConverter(binary string, logger *zap.Logger) *MagickConverter {
	if binary == "" {
		binary = "magick"
	}
	found, err := exec.LookPath(binary)
	if err != nil {
		logger.Warn("heic converter not found, conversion fallback disabled", zap.String("binary", binary))
		found = ""
	}
	return &MagickConverter{path: found, logger: logger}
}

// Available reports whether the binary was found.
func (c *MagickConverter) Available() bool { return c.path != "" }

func (c *MagickConverter) ToJPEG(ctx context.Context, src []byte) ([]byte, error) {
	if c.path == "" {
		return nil, ErrConverterUnavailable
	}
	cmd := exec.CommandContext(ctx, c.path, "-", "-quality", "92", "jpeg:-")

	var outBuf, errBuf bytes.Buffer
	cmd.Stdin = bytes.NewReader(src)
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run %s: %w: %s", c.path, err, strings.TrimSpace(errBuf.String()))
	}
	if outBuf.Len() == 0 {
		return nil, fmt.Errorf("run %s: empty output", c.path)
	}
	return outBuf.Bytes(), nil
}

// Package imageproc renders thumbnail and display derivatives from original
// photo bytes.
package imageproc

import (
	"bytes"
	"context"
	"fmt"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Engine produces JPEG derivatives.
type Engine interface {
	// Thumbnail auto-orients src and fits it inside maxPx x maxPx.
	Thumbnail(ctx context.Context, src []byte, maxPx int) ([]byte, error)
	// Display fits src inside maxPx x maxPx and carries rawExif over so
	// viewers keep applying the original orientation.
	Display(ctx context.Context, src []byte, maxPx int, rawExif []byte) ([]byte, error)
}

// IsHEIC reports whether data is a HEIC/HEIF container.
func IsHEIC(data []byte) bool {
	mt := mimetype.Detect(data)
	return mt.Is("image/heic") || mt.Is("image/heif") || mt.Is("image/heic-sequence") || mt.Is("image/heif-sequence")
}

// Builtin decodes with the standard and x/image codecs through imaging. HEIC
// sources that fail to decode are passed through the converter and retried.
type Builtin struct {
	quality   int
	converter Converter
	logger    *zap.Logger
}

// NewBuiltin constructs a Builtin engine. converter may be nil.
func NewBuiltin(quality int, converter Converter, logger *zap.Logger) *Builtin {
	if quality <= 0 || quality > 100 {
		quality = 82
	}
	return &Builtin{quality: quality, converter: converter, logger: logger}
}

func (b *Builtin) Thumbnail(ctx context.Context, src []byte, maxPx int) ([]byte, error) {
	img, err := b.decode(ctx, src, true)
	if err != nil {
		return nil, err
	}
	return b.encode(imaging.Fit(img, maxPx, maxPx, imaging.Lanczos))
}

func (b *Builtin) Display(ctx context.Context, src []byte, maxPx int, rawExif []byte) ([]byte, error) {
	embed := len(rawExif) > 0 && len(exifHeader)+len(rawExif) <= maxSegmentPayload
	// Without an EXIF block to carry the orientation tag, bake it into pixels.
	img, err := b.decode(ctx, src, !embed)
	if err != nil {
		return nil, err
	}
	out, err := b.encode(imaging.Fit(img, maxPx, maxPx, imaging.Lanczos))
	if err != nil {
		return nil, err
	}
	if !embed {
		return out, nil
	}
	return EmbedExif(out, rawExif)
}

func (b *Builtin) decode(ctx context.Context, src []byte, autoOrient bool) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(autoOrient))
	if err == nil {
		return img, nil
	}
	if b.converter == nil || !IsHEIC(src) {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b.logger.Debug("native decode failed, converting heic", zap.Error(err))
	converted, cerr := b.converter.ToJPEG(ctx, src)
	if cerr != nil {
		return nil, fmt.Errorf("decode heic (%v): convert: %w", err, cerr)
	}
	img, err = imaging.Decode(bytes.NewReader(converted), imaging.AutoOrientation(autoOrient))
	if err != nil {
		return nil, fmt.Errorf("decode converted heic: %w", err)
	}
	return img, nil
}

func (b *Builtin) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(b.quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

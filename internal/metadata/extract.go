package metadata

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	heicexif "github.com/dsoprea/go-heic-exif-extractor"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure"
	pngstructure "github.com/dsoprea/go-png-image-structure"
	tiffstructure "github.com/dsoprea/go-tiff-image-structure"
	riimage "github.com/dsoprea/go-utility/image"
	"github.com/gabriel-vasile/mimetype"
)

type exifParser interface {
	Parse(rs io.ReadSeeker, size int) (ec riimage.MediaContext, err error)
}

func parserFor(ext string) exifParser {
	switch ext {
	case ".jpg", ".jpeg":
		return jpegstructure.NewJpegMediaParser()
	case ".png":
		return pngstructure.NewPngMediaParser()
	case ".tif", ".tiff":
		return tiffstructure.NewTiffMediaParser()
	case ".heic", ".heif", ".avif":
		return heicexif.NewHeicExifMediaParser()
	default:
		return nil
	}
}

// Extraction is the outcome of reading a photo's embedded metadata.
type Extraction struct {
	Metadata Metadata
	// RawExif is the EXIF block starting at its TIFF header, ready to be
	// embedded into another JPEG.
	RawExif []byte
}

// Extract reads EXIF from data. The container is chosen from the name's
// extension, or sniffed when the name has none. When the structured parse
// finds nothing a brute-force search runs over the whole buffer. A photo
// without EXIF yields an empty Extraction and no error.
func Extract(data []byte, name string) (out Extraction, err error) {
	defer func() {
		// The dsoprea parsers panic on some malformed input.
		if r := recover(); r != nil {
			out, err = Extraction{}, fmt.Errorf("exif parser panic: %v", r)
		}
	}()

	raw := findExif(data, name)
	if len(raw) == 0 {
		return Extraction{}, nil
	}
	tags, _, err := exif.GetFlatExifData(raw, nil)
	if err != nil {
		return Extraction{RawExif: raw}, fmt.Errorf("parse exif entries: %w", err)
	}

	values := make(map[string]any, len(tags))
	for _, tag := range tags {
		// IFD1 describes the embedded thumbnail, not the photo.
		if tag.TagName == "" || strings.HasPrefix(tag.IfdPath, "IFD1") {
			continue
		}
		if _, seen := values[tag.TagName]; !seen {
			values[tag.TagName] = tag.Value
		}
	}
	return Extraction{Metadata: FromTags(values), RawExif: raw}, nil
}

func findExif(data []byte, name string) []byte {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = mimetype.Detect(data).Extension()
	}
	if parser := parserFor(ext); parser != nil {
		if mc, err := parser.Parse(bytes.NewReader(data), len(data)); err == nil {
			if _, raw, err := mc.Exif(); err == nil && len(raw) > 0 {
				return raw
			}
		}
	}
	raw, err := exif.SearchAndExtractExif(data)
	if err != nil {
		return nil
	}
	return raw
}

// FromTags maps EXIF tag values, keyed by go-exif tag name, onto Metadata and
// normalizes the coordinate shapes.
func FromTags(values map[string]any) Metadata {
	var m Metadata

	lat, latOK := coordinate(values, "GPSLatitude", "GPSLatitudeRef")
	lon, lonOK := coordinate(values, "GPSLongitude", "GPSLongitudeRef")
	if latOK && lonOK {
		m.SetCoordinates(lat, lon)
	}
	if alt, ok := firstRational(values["GPSAltitude"]); ok {
		if ref, ok := firstInt(values["GPSAltitudeRef"]); ok && ref == 1 {
			alt = -alt
		}
		m.Altitude = &alt
	}
	if heading, ok := firstRational(values["GPSImgDirection"]); ok {
		m.Heading = &heading
	}

	m.DateTimeOriginal = text(values["DateTimeOriginal"])
	m.CreateDate = text(values["DateTimeDigitized"])
	if m.CreateDate == "" {
		m.CreateDate = text(values["DateTime"])
	}
	if t, ok := captureTime(m.DateTimeOriginal, text(values["OffsetTimeOriginal"])); ok {
		m.TakenAt = t.Format(time.RFC3339)
	} else if t, ok := captureTime(m.CreateDate, text(values["OffsetTimeDigitized"])); ok {
		m.TakenAt = t.Format(time.RFC3339)
	}

	m.Make = text(values["Make"])
	m.Model = text(values["Model"])
	m.LensModel = text(values["LensModel"])
	if f, ok := firstRational(values["FNumber"]); ok {
		m.FNumber = &f
	}
	m.ExposureTime = exposure(values["ExposureTime"])
	if iso, ok := firstInt(values["ISOSpeedRatings"]); ok {
		m.ISO = &iso
	} else if iso, ok := firstInt(values["PhotographicSensitivity"]); ok {
		m.ISO = &iso
	}
	if f, ok := firstRational(values["FocalLength"]); ok {
		m.FocalLength = &f
	}
	if o, ok := firstInt(values["Orientation"]); ok {
		m.Orientation = &o
	}
	m.Width = dimension(values, "PixelXDimension", "ImageWidth")
	m.Height = dimension(values, "PixelYDimension", "ImageLength")

	m.Normalize()
	return m
}

func coordinate(values map[string]any, key, refKey string) (float64, bool) {
	dms := rationals(values[key])
	if len(dms) == 0 {
		return 0, false
	}
	dec, err := DMSToDecimal(dms, text(values[refKey]))
	if err != nil {
		return 0, false
	}
	return dec, true
}

func captureTime(raw, offset string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	loc := time.UTC
	if offset != "" {
		if t, err := time.Parse("-07:00", offset); err == nil {
			_, secs := t.Zone()
			loc = time.FixedZone(offset, secs)
		}
	}
	t, err := time.ParseInLocation(ExifDateLayout, raw, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func rationals(v any) []float64 {
	var out []float64
	switch vals := v.(type) {
	case []exifcommon.Rational:
		for _, r := range vals {
			if r.Denominator == 0 {
				return nil
			}
			out = append(out, float64(r.Numerator)/float64(r.Denominator))
		}
	case []exifcommon.SignedRational:
		for _, r := range vals {
			if r.Denominator == 0 {
				return nil
			}
			out = append(out, float64(r.Numerator)/float64(r.Denominator))
		}
	case []float64:
		out = vals
	}
	return out
}

func firstRational(v any) (float64, bool) {
	vals := rationals(v)
	if len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

func firstInt(v any) (int, bool) {
	switch vals := v.(type) {
	case []uint8:
		if len(vals) > 0 {
			return int(vals[0]), true
		}
	case []uint16:
		if len(vals) > 0 {
			return int(vals[0]), true
		}
	case []uint32:
		if len(vals) > 0 {
			return int(vals[0]), true
		}
	case []int32:
		if len(vals) > 0 {
			return int(vals[0]), true
		}
	}
	return 0, false
}

func dimension(values map[string]any, keys ...string) *int {
	for _, k := range keys {
		if n, ok := firstInt(values[k]); ok && n > 0 {
			return &n
		}
	}
	return nil
}

func text(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

func exposure(v any) string {
	vals, ok := v.([]exifcommon.Rational)
	if !ok || len(vals) == 0 || vals[0].Numerator == 0 || vals[0].Denominator == 0 {
		return ""
	}
	r := vals[0]
	if r.Numerator >= r.Denominator {
		return strconv.FormatFloat(float64(r.Numerator)/float64(r.Denominator), 'f', -1, 64)
	}
	return fmt.Sprintf("1/%d", int(math.Round(float64(r.Denominator)/float64(r.Numerator))))
}

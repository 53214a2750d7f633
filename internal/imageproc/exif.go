package imageproc

import (
	"encoding/binary"
	"errors"
)

var exifHeader = []byte("Exif\x00\x00")

// maxSegmentPayload is the largest APP1 body a JPEG length field can describe.
const maxSegmentPayload = 0xFFFF - 2

// EmbedExif inserts raw (an EXIF block starting at its TIFF header) as an
// APP1 segment right after the SOI marker of jpegData. An existing APP1 EXIF
// segment is not removed, so callers pass freshly encoded JPEGs.
func EmbedExif(jpegData, raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return jpegData, nil
	}
	if len(jpegData) < 2 || jpegData[0] != 0xFF || jpegData[1] != 0xD8 {
		return nil, errors.New("embed exif: not a jpeg")
	}
	payload := len(exifHeader) + len(raw)
	if payload > maxSegmentPayload {
		return nil, errors.New("embed exif: block exceeds one segment")
	}

	out := make([]byte, 0, len(jpegData)+payload+4)
	out = append(out, 0xFF, 0xD8, 0xFF, 0xE1)
	out = binary.BigEndian.AppendUint16(out, uint16(payload+2))
	out = append(out, exifHeader...)
	out = append(out, raw...)
	out = append(out, jpegData[2:]...)
	return out, nil
}

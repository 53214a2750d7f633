package metadata

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"testing"

	exifcommon "github.com/dsoprea/go-exif/v3/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coords(lat, lon float64) Metadata {
	return Metadata{Latitude: &lat, Longitude: &lon}
}

func requireCoords(t *testing.T, m Metadata, lat, lon float64) {
	t.Helper()
	gotLat, gotLon, ok := m.Coordinates()
	require.True(t, ok, "coordinates missing")
	assert.Equal(t, lat, gotLat)
	assert.Equal(t, lon, gotLon)
}

func TestMergeKeepsGPSWhenExtractionHasNone(t *testing.T) {
	existing := coords(1, 2)
	merged := Merge(existing, Metadata{})
	requireCoords(t, merged, 1, 2)
}

func TestMergeKeepsGPSWhenExtractionIsInvalid(t *testing.T) {
	existing := coords(1, 2)
	existing.Heading = ptr(90.0)
	extracted := coords(999, 20)
	extracted.Make = "Canon"

	merged := Merge(existing, extracted)
	requireCoords(t, merged, 1, 2)
	assert.Equal(t, 90.0, *merged.Heading)
	assert.Equal(t, "Canon", merged.Make)
	assert.Equal(t, &GPSShort{Lat: 1, Lng: 2}, merged.GPS)
	assert.Equal(t, &GPSLong{Latitude: 1, Longitude: 2}, merged.Location)
}

func TestMergeKeepsObservedHeadingAndAltitude(t *testing.T) {
	existing := coords(1, 2)

	merged := Merge(existing, Metadata{Heading: ptr(90.0)})
	requireCoords(t, merged, 1, 2)
	require.NotNil(t, merged.Heading)
	assert.Equal(t, 90.0, *merged.Heading)

	merged = Merge(existing, Metadata{Altitude: ptr(12.0), Make: "X"})
	requireCoords(t, merged, 1, 2)
	require.NotNil(t, merged.Altitude)
	assert.Equal(t, 12.0, *merged.Altitude)
	assert.Equal(t, "X", merged.Make)
}

func TestMergeValidNewGPSWins(t *testing.T) {
	merged := Merge(coords(1, 2), coords(10, 20))
	requireCoords(t, merged, 10, 20)
	assert.Equal(t, &GPSShort{Lat: 10, Lng: 20}, merged.GPS)
}

func TestMergeKeepsDate(t *testing.T) {
	existing := Metadata{TakenAt: "2021-06-01T10:00:00Z", DateTimeOriginal: "2021:06:01 10:00:00"}

	merged := Merge(existing, Metadata{Model: "X100V"})
	assert.Equal(t, "2021-06-01T10:00:00Z", merged.TakenAt)
	assert.Equal(t, "2021:06:01 10:00:00", merged.DateTimeOriginal)

	merged = Merge(existing, Metadata{DateTimeOriginal: "not a date", Model: "X100V"})
	assert.Equal(t, "2021:06:01 10:00:00", merged.DateTimeOriginal)
	assert.Equal(t, "X100V", merged.Model)

	merged = Merge(existing, Metadata{DateTimeOriginal: "2023:01:02 03:04:05"})
	assert.Equal(t, "2023:01:02 03:04:05", merged.DateTimeOriginal)
}

func TestMergePendingMarker(t *testing.T) {
	existing := PendingMetadata()
	assert.True(t, Merge(existing, Metadata{}).Pending, "empty extraction leaves metadata unchanged")
	assert.False(t, Merge(existing, Metadata{Make: "Apple"}).Pending)
}

func TestMergeInvalidGPSWithoutHistoryIsDropped(t *testing.T) {
	merged := Merge(Metadata{}, coords(-91, 0))
	assert.False(t, merged.HasValidGPS())
	assert.Nil(t, merged.Latitude)
	assert.Nil(t, merged.GPS)
}

func TestMergeDoesNotAliasInputs(t *testing.T) {
	existing := Metadata{Extra: map[string]any{"album": "summer"}}
	merged := Merge(existing, Metadata{Extra: map[string]any{"caption": "beach"}})
	assert.Equal(t, map[string]any{"album": "summer", "caption": "beach"}, merged.Extra)
	assert.Equal(t, map[string]any{"album": "summer"}, existing.Extra)
}

func TestDMSToDecimal(t *testing.T) {
	got, err := DMSToDecimal([]float64{10, 30, 0}, "S")
	require.NoError(t, err)
	assert.Equal(t, -10.5, got)

	got, err = DMSToDecimal([]float64{122, 15, 36}, "W")
	require.NoError(t, err)
	assert.InDelta(t, -122.26, got, 1e-9)

	got, err = DMSToDecimal([]float64{48.8566}, "N")
	require.NoError(t, err)
	assert.Equal(t, 48.8566, got)

	_, err = DMSToDecimal(nil, "N")
	assert.ErrorIs(t, err, ErrBadDMS)
	_, err = DMSToDecimal([]float64{1, -2, 3}, "E")
	assert.ErrorIs(t, err, ErrBadDMS)
}

func TestJSONPassthrough(t *testing.T) {
	in := []byte(`{"latitude":1.5,"longitude":2.5,"pending":true,"album":"trip","tags":["a","b"]}`)
	var m Metadata
	require.NoError(t, json.Unmarshal(in, &m))
	requireCoords(t, m, 1.5, 2.5)
	assert.True(t, m.Pending)
	assert.Equal(t, "trip", m.Extra["album"])

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, string(in), string(out))
}

func TestFromTags(t *testing.T) {
	m := FromTags(map[string]any{
		"GPSLatitude":        []exifcommon.Rational{{Numerator: 10, Denominator: 1}, {Numerator: 30, Denominator: 1}, {Numerator: 0, Denominator: 1}},
		"GPSLatitudeRef":     "S",
		"GPSLongitude":       []exifcommon.Rational{{Numerator: 20, Denominator: 1}, {Numerator: 15, Denominator: 1}, {Numerator: 0, Denominator: 1}},
		"GPSLongitudeRef":    "E",
		"GPSImgDirection":    []exifcommon.Rational{{Numerator: 2705, Denominator: 10}},
		"DateTimeOriginal":   "2022:08:14 18:30:00\x00",
		"OffsetTimeOriginal": "+02:00",
		"Make":               "FUJIFILM",
		"ExposureTime":       []exifcommon.Rational{{Numerator: 1, Denominator: 250}},
		"FNumber":            []exifcommon.Rational{{Numerator: 28, Denominator: 10}},
		"ISOSpeedRatings":    []uint16{400},
		"Orientation":        []uint16{6},
		"PixelXDimension":    []uint32{6000},
		"ImageLength":        []uint16{4000},
	})

	requireCoords(t, m, -10.5, 20.25)
	assert.Equal(t, &GPSLong{Latitude: -10.5, Longitude: 20.25}, m.Location)
	assert.Equal(t, 270.5, *m.Heading)
	assert.Equal(t, "2022:08:14 18:30:00", m.DateTimeOriginal)
	assert.Equal(t, "2022-08-14T18:30:00+02:00", m.TakenAt)
	assert.Equal(t, "FUJIFILM", m.Make)
	assert.Equal(t, "1/250", m.ExposureTime)
	assert.Equal(t, 2.8, *m.FNumber)
	assert.Equal(t, 400, *m.ISO)
	assert.Equal(t, 6, *m.Orientation)
	assert.Equal(t, 6000, *m.Width)
	assert.Equal(t, 4000, *m.Height)
}

func TestExtractWithoutExif(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))

	got, err := Extract(buf.Bytes(), "plain.png")
	require.NoError(t, err)
	assert.True(t, got.Metadata.IsEmpty())
	assert.Empty(t, got.RawExif)
}

func ptr[T any](v T) *T { return &v }

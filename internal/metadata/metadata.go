// Package metadata models the attributes extracted from a photo and the
// policy for combining repeated extraction passes.
package metadata

import (
	"encoding/json"
	"math"
	"time"
)

// ExifDateLayout is the timestamp layout EXIF uses for DateTimeOriginal and
// friends.
const ExifDateLayout = "2006:01:02 15:04:05"

// GPSShort is the short-key nested coordinate shape ({"lat","lng"}).
type GPSShort struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GPSLong is the long-key nested coordinate shape ({"latitude","longitude"}).
type GPSLong struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Metadata is the typed view of a photo's extracted attributes. Unknown keys
// survive a JSON round trip through Extra.
type Metadata struct {
	// GPS group. The three coordinate shapes always agree after Normalize.
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	GPS       *GPSShort `json:"gps,omitempty"`
	Location  *GPSLong  `json:"location,omitempty"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`

	// Date group.
	TakenAt          string `json:"takenAt,omitempty"`
	DateTimeOriginal string `json:"DateTimeOriginal,omitempty"`
	CreateDate       string `json:"CreateDate,omitempty"`

	Make         string   `json:"make,omitempty"`
	Model        string   `json:"model,omitempty"`
	LensModel    string   `json:"lensModel,omitempty"`
	FNumber      *float64 `json:"fNumber,omitempty"`
	ExposureTime string   `json:"exposureTime,omitempty"`
	ISO          *int     `json:"iso,omitempty"`
	FocalLength  *float64 `json:"focalLength,omitempty"`
	Orientation  *int     `json:"orientation,omitempty"`
	Width        *int     `json:"width,omitempty"`
	Height       *int     `json:"height,omitempty"`

	// Pending marks a record whose derivatives have not been computed yet.
	Pending bool `json:"pending,omitempty"`

	Extra map[string]any `json:"-"`
}

// PendingMetadata returns the metadata a freshly ingested photo starts with.
func PendingMetadata() Metadata {
	return Metadata{Pending: true}
}

type plain Metadata

var knownKeys = map[string]struct{}{
	"latitude": {}, "longitude": {}, "gps": {}, "location": {}, "altitude": {}, "heading": {},
	"takenAt": {}, "DateTimeOriginal": {}, "CreateDate": {},
	"make": {}, "model": {}, "lensModel": {}, "fNumber": {}, "exposureTime": {}, "iso": {},
	"focalLength": {}, "orientation": {}, "width": {}, "height": {},
	"pending": {},
}

// MarshalJSON writes the known fields and flattens Extra beside them. Known
// fields win on a key collision.
func (m Metadata) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(plain(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return known, nil
	}
	out := make(map[string]any, len(m.Extra)+8)
	for k, v := range m.Extra {
		out[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads known fields and keeps everything else in Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range knownKeys {
		delete(all, k)
	}
	*m = Metadata(p)
	if len(all) > 0 {
		m.Extra = all
	}
	return nil
}

// IsEmpty reports whether no attribute was observed. The pending marker does
// not count as an attribute.
func (m Metadata) IsEmpty() bool {
	return m.Latitude == nil && m.Longitude == nil && m.GPS == nil && m.Location == nil &&
		m.Altitude == nil && m.Heading == nil &&
		m.TakenAt == "" && m.DateTimeOriginal == "" && m.CreateDate == "" &&
		m.Make == "" && m.Model == "" && m.LensModel == "" && m.FNumber == nil &&
		m.ExposureTime == "" && m.ISO == nil && m.FocalLength == nil &&
		m.Orientation == nil && m.Width == nil && m.Height == nil &&
		len(m.Extra) == 0
}

// Coordinates returns the first coordinate pair present, checking the flat,
// short and long shapes in that order.
func (m Metadata) Coordinates() (lat, lon float64, ok bool) {
	switch {
	case m.Latitude != nil && m.Longitude != nil:
		return *m.Latitude, *m.Longitude, true
	case m.GPS != nil:
		return m.GPS.Lat, m.GPS.Lng, true
	case m.Location != nil:
		return m.Location.Latitude, m.Location.Longitude, true
	}
	return 0, 0, false
}

// ValidCoordinates reports whether both components are finite and in range.
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return math.Abs(lat) <= 90 && math.Abs(lon) <= 180
}

// HasValidGPS reports whether m carries a usable coordinate pair.
func (m Metadata) HasValidGPS() bool {
	lat, lon, ok := m.Coordinates()
	return ok && ValidCoordinates(lat, lon)
}

// CaptureTime returns the first parseable capture date.
func (m Metadata) CaptureTime() (time.Time, bool) {
	if m.TakenAt != "" {
		if t, err := time.Parse(time.RFC3339, m.TakenAt); err == nil {
			return t, true
		}
	}
	for _, raw := range []string{m.DateTimeOriginal, m.CreateDate} {
		if raw == "" {
			continue
		}
		if t, err := time.Parse(ExifDateLayout, raw); err == nil {
			return t, true
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// HasDate reports whether any date-group field parses.
func (m Metadata) HasDate() bool {
	_, ok := m.CaptureTime()
	return ok
}

// SetCoordinates writes lat/lon into all three shapes.
func (m *Metadata) SetCoordinates(lat, lon float64) {
	m.Latitude = &lat
	m.Longitude = &lon
	m.GPS = &GPSShort{Lat: lat, Lng: lon}
	m.Location = &GPSLong{Latitude: lat, Longitude: lon}
}

// Normalize makes the three coordinate shapes agree. A pair that is missing
// or out of range removes all three shapes.
func (m *Metadata) Normalize() {
	lat, lon, ok := m.Coordinates()
	if ok && ValidCoordinates(lat, lon) {
		m.SetCoordinates(lat, lon)
		return
	}
	m.Latitude, m.Longitude, m.GPS, m.Location = nil, nil, nil, nil
}

// Clone returns a copy that shares no mutable state with m.
func (m Metadata) Clone() Metadata {
	out := m
	if m.GPS != nil {
		g := *m.GPS
		out.GPS = &g
	}
	if m.Location != nil {
		l := *m.Location
		out.Location = &l
	}
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

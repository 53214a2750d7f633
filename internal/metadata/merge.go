package metadata

// Merge combines the stored metadata with the result of a new extraction
// pass. Valid new data always wins. Missing or invalid new data never erases
// a valid GPS group or date group already on record.
//
// An empty extraction returns existing unchanged, pending marker included.
func Merge(existing, extracted Metadata) Metadata {
	if extracted.IsEmpty() {
		return existing
	}

	out := existing.Clone()
	overlay(&out, extracted)

	if !extracted.HasValidGPS() && existing.HasValidGPS() {
		restoreGPS(&out, existing)
	}
	if !extracted.HasDate() && existing.HasDate() {
		restoreDate(&out, existing)
	}
	out.Pending = false
	out.Normalize()
	return out
}

// overlay copies every field src carries onto dst.
func overlay(dst *Metadata, src Metadata) {
	src = src.Clone()
	if src.Latitude != nil || src.Longitude != nil || src.GPS != nil || src.Location != nil {
		// A coordinate pair is replaced as a unit so shapes never mix passes.
		dst.Latitude, dst.Longitude, dst.GPS, dst.Location = src.Latitude, src.Longitude, src.GPS, src.Location
	}
	setFloat(&dst.Altitude, src.Altitude)
	setFloat(&dst.Heading, src.Heading)

	setString(&dst.TakenAt, src.TakenAt)
	setString(&dst.DateTimeOriginal, src.DateTimeOriginal)
	setString(&dst.CreateDate, src.CreateDate)

	setString(&dst.Make, src.Make)
	setString(&dst.Model, src.Model)
	setString(&dst.LensModel, src.LensModel)
	setFloat(&dst.FNumber, src.FNumber)
	setString(&dst.ExposureTime, src.ExposureTime)
	setInt(&dst.ISO, src.ISO)
	setFloat(&dst.FocalLength, src.FocalLength)
	setInt(&dst.Orientation, src.Orientation)
	setInt(&dst.Width, src.Width)
	setInt(&dst.Height, src.Height)

	if len(src.Extra) > 0 && dst.Extra == nil {
		dst.Extra = make(map[string]any, len(src.Extra))
	}
	for k, v := range src.Extra {
		dst.Extra[k] = v
	}
}

// restoreGPS puts back the coordinate pair only. Altitude and heading keep
// whatever overlay settled on, so a value observed by this pass survives.
func restoreGPS(dst *Metadata, from Metadata) {
	from = from.Clone()
	dst.Latitude, dst.Longitude = from.Latitude, from.Longitude
	dst.GPS, dst.Location = from.GPS, from.Location
}

func restoreDate(dst *Metadata, from Metadata) {
	dst.TakenAt = from.TakenAt
	dst.DateTimeOriginal = from.DateTimeOriginal
	dst.CreateDate = from.CreateDate
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setFloat(dst **float64, v *float64) {
	if v != nil {
		*dst = v
	}
}

func setInt(dst **int, v *int) {
	if v != nil {
		*dst = v
	}
}

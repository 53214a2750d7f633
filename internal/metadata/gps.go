package metadata

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadDMS is returned for a degrees/minutes/seconds value that cannot be
// converted.
var ErrBadDMS = errors.New("invalid degrees/minutes/seconds value")

// DMSToDecimal converts a degrees, minutes, seconds triple (minutes and
// seconds optional) to signed decimal degrees. Hemisphere "S" or "W" makes
// the result negative.
func DMSToDecimal(dms []float64, ref string) (float64, error) {
	if len(dms) == 0 || len(dms) > 3 {
		return 0, fmt.Errorf("%w: %d components", ErrBadDMS, len(dms))
	}
	var parts [3]float64
	copy(parts[:], dms)
	for _, p := range parts {
		if p < 0 {
			return 0, fmt.Errorf("%w: negative component", ErrBadDMS)
		}
	}
	dec := parts[0] + parts[1]/60 + parts[2]/3600
	switch strings.ToUpper(strings.TrimSpace(ref)) {
	case "S", "W":
		dec = -dec
	}
	return dec, nil
}

package geocode

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("geocode not found")

// Reverser resolves a coordinate pair to a human readable address.
type Reverser interface {
	Reverse(ctx context.Context, lat, lon float64) (string, error)
}

// CacheKey rounds to roughly 10 m so nearby lookups for the same store share an entry.
func CacheKey(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lon)
}

// ShortAddress keeps the first n comma separated parts of a display name.
func ShortAddress(displayName string, n int) string {
	parts := strings.Split(displayName, ",")
	out := make([]string, 0, n)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
		if len(out) == n {
			break
		}
	}
	return strings.Join(out, ", ")
}

// ValidCoordinates rejects the 0,0 placeholder and out of range values.
func ValidCoordinates(lat, lon float64) bool {
	if lat == 0 && lon == 0 {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

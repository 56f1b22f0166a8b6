package util

import (
	"fmt"
	"strings"

	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometres between two
// points given in degrees.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lon1)
	b := s2.LatLngFromDegrees(lat2, lon2)
	return a.Distance(b).Radians() * EarthRadiusKm
}

// NormalizeEmail lower-cases and trims an email used as a document id.
func NormalizeEmail(email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return "", fmt.Errorf("invalid email: must be a non-empty string")
	}
	at := strings.Index(trimmed, "@")
	if at <= 0 || !strings.Contains(trimmed[at:], ".") {
		return "", fmt.Errorf("invalid email format: %s", email)
	}
	return trimmed, nil
}

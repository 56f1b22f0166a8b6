package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindNearest(t *testing.T) {
	origin := Responder{ID: "origin", Coords: &Coords{Lat: 0, Lng: 0}}
	far := Responder{ID: "far", Coords: &Coords{Lat: 10, Lng: 10}}
	noCoords := Responder{ID: "no-coords"}

	testCases := []struct {
		name       string
		responders []Responder
		point      Coords
		expected   string
	}{
		{
			name:  "empty registry",
			point: Coords{Lat: 0, Lng: 1},
		},
		{
			name:       "no responder has coordinates",
			responders: []Responder{noCoords},
			point:      Coords{Lat: 0, Lng: 1},
		},
		{
			name:       "closest wins",
			responders: []Responder{far, noCoords, origin},
			point:      Coords{Lat: 0, Lng: 1},
			expected:   "origin",
		},
		{
			name:       "closest wins regardless of order",
			responders: []Responder{origin, far},
			point:      Coords{Lat: 9, Lng: 9},
			expected:   "far",
		},
		{
			name: "tie keeps the first",
			responders: []Responder{
				{ID: "east", Coords: &Coords{Lat: 0, Lng: 1}},
				{ID: "west", Coords: &Coords{Lat: 0, Lng: -1}},
			},
			point:    Coords{Lat: 0, Lng: 0},
			expected: "east",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := FindNearest(tc.responders, tc.point)
			if tc.expected == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tc.expected, got.ID)
		})
	}
}

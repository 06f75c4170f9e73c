package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// metresNorth returns the point d metres due north of c.
func metresNorth(c Coord, d float64) Coord {
	return Coord{Lat: c.Lat + d/EarthRadiusM*180/math.Pi, Lng: c.Lng}
}

func TestDistanceSamePointIsZero(t *testing.T) {
	for _, c := range []Coord{{0, 0}, {51.5007, -0.1246}, {-33.8568, 151.2153}} {
		assert.Equal(t, 0.0, Distance(c, c))
	}
}

func TestDistanceIsSymmetric(t *testing.T) {
	a := Coord{Lat: 6.5244, Lng: 3.3792}
	b := Coord{Lat: 6.5251, Lng: 3.3801}
	assert.Equal(t, Distance(a, b), Distance(b, a))
}

func TestDistanceKnownValues(t *testing.T) {
	// 0.001 degrees of longitude at the equator.
	assert.InDelta(t, 111.19, Distance(Coord{0, 0}, Coord{0, 0.001}), 0.01)
	// Paris to London, roughly 343.5 km.
	assert.InDelta(t, 343_500, Distance(Coord{48.8566, 2.3522}, Coord{51.5074, -0.1278}), 1_000)
}

func TestWithinBoundary(t *testing.T) {
	origin := Coord{Lat: 0, Lng: 0}
	tests := []struct {
		name   string
		metres float64
		want   bool
	}{
		{"49m accepted", 49, true},
		{"just under 50m accepted", 49.999, true},
		{"51m rejected", 51, false},
		{"111m rejected", 111, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Within(origin, metresNorth(origin, tt.metres), 50))
		})
	}

	exact := metresNorth(origin, 50)
	assert.True(t, Within(origin, exact, Distance(origin, exact)), "distance equal to radius is accepted")
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Coord{Lat: 90, Lng: -180}.Validate())
	assert.ErrorIs(t, Coord{Lat: 91, Lng: 0}.Validate(), ErrInvalidCoord)
	assert.ErrorIs(t, Coord{Lat: 0, Lng: 180.5}.Validate(), ErrInvalidCoord)
	assert.ErrorIs(t, Coord{Lat: math.NaN(), Lng: 0}.Validate(), ErrInvalidCoord)
}

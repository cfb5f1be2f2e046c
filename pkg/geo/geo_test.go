package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	busanStation = Point{Latitude: 35.1151, Longitude: 129.0422}
	haeundae     = Point{Latitude: 35.1587, Longitude: 129.1604}
	seoulStation = Point{Latitude: 37.5547, Longitude: 126.9707}
)

func TestDistanceKm(t *testing.T) {
	t.Run("zero for same point", func(t *testing.T) {
		assert.Equal(t, 0.0, DistanceKm(busanStation, busanStation))
	})

	t.Run("symmetric", func(t *testing.T) {
		pairs := [][2]Point{
			{busanStation, haeundae},
			{busanStation, seoulStation},
			{{Latitude: -33.86, Longitude: 151.21}, {Latitude: 51.5, Longitude: -0.12}},
		}
		for _, p := range pairs {
			assert.InDelta(t, DistanceKm(p[0], p[1]), DistanceKm(p[1], p[0]), 1e-9)
		}
	})

	t.Run("known distances", func(t *testing.T) {
		assert.InDelta(t, 11.7, DistanceKm(busanStation, haeundae), 0.3)
		assert.InDelta(t, 329, DistanceKm(busanStation, seoulStation), 5)
		// one degree of latitude
		assert.InDelta(t, 111.19, DistanceKm(Point{}, Point{Latitude: 1}), 0.01)
	})
}

func TestWithinMeters(t *testing.T) {
	north := Point{Latitude: busanStation.Latitude + MetersToDegreesLat(40), Longitude: busanStation.Longitude}
	assert.True(t, WithinMeters(busanStation, north, 50))
	assert.False(t, WithinMeters(busanStation, north, 30))

	east := Point{Latitude: busanStation.Latitude, Longitude: busanStation.Longitude + MetersToDegreesLng(80, busanStation.Latitude)}
	assert.InDelta(t, 80, DistanceMeters(busanStation, east), 0.5)
	assert.True(t, WithinMeters(busanStation, east, 100))
	assert.False(t, WithinMeters(busanStation, east, 50))
}

func TestBBox(t *testing.T) {
	b, ok := BoundsOf([]Point{busanStation, haeundae})
	require.True(t, ok)
	assert.Equal(t, BBox{MinLat: 35.1151, MinLng: 129.0422, MaxLat: 35.1587, MaxLng: 129.1604}, b)

	_, ok = BoundsOf(nil)
	assert.False(t, ok)

	assert.Equal(t, b, NewBBox(haeundae, busanStation))

	u := b.Union(BBox{MinLat: 35.0, MinLng: 129.1, MaxLat: 35.1, MaxLng: 129.2})
	assert.Equal(t, BBox{MinLat: 35.0, MinLng: 129.0422, MaxLat: 35.1587, MaxLng: 129.2}, u)

	e := b.Expand(300)
	assert.InDelta(t, 300, DistanceMeters(Point{e.MinLat, e.MinLng}, Point{b.MinLat, e.MinLng}), 1)
	assert.True(t, e.MaxLng-b.MaxLng > MetersToDegreesLat(300), "longitude margin is wider than latitude margin off the equator")
	assert.True(t, e.Contains(busanStation))
	assert.False(t, b.Contains(seoulStation))
}

func TestSample(t *testing.T) {
	pts := make([]Point, 12)
	for i := range pts {
		pts[i] = Point{Latitude: float64(i)}
	}
	s := Sample(pts, 5)
	require.Len(t, s, 3)
	assert.Equal(t, []float64{0, 5, 10}, []float64{s[0].Latitude, s[1].Latitude, s[2].Latitude})
	assert.Len(t, Sample(pts, 1), 12)
	assert.Empty(t, Sample(nil, 5))
}

func TestValid(t *testing.T) {
	assert.True(t, busanStation.Valid())
	assert.False(t, Point{Latitude: 91}.Valid())
	assert.False(t, Point{Longitude: -181}.Valid())
	assert.False(t, Point{Latitude: math.NaN()}.Valid())
}

func TestDecodePolyline(t *testing.T) {
	// reference string from the polyline algorithm documentation
	points, err := DecodePolyline("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.InDelta(t, 38.5, points[0].Latitude, 1e-6)
	assert.InDelta(t, -120.2, points[0].Longitude, 1e-6)
	assert.InDelta(t, 43.252, points[2].Latitude, 1e-6)
	assert.InDelta(t, -126.453, points[2].Longitude, 1e-6)

	_, err = DecodePolyline("")
	assert.Error(t, err)
}

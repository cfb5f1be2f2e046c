package geo

import (
	"errors"
	"math"

	"github.com/twpayne/go-polyline"
)

const (
	// EarthRadiusKm is the mean radius used by every distance here.
	EarthRadiusKm = 6371.0

	metersPerDegreeLat = math.Pi * EarthRadiusKm * 1000 / 180
)

// ErrInvalidCoordinate is returned for latitude outside [-90, 90] or
// longitude outside [-180, 180].
var ErrInvalidCoordinate = errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")

// Valid reports whether p is a finite, in-range coordinate.
func (p Point) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) || math.IsInf(p.Latitude, 0) || math.IsInf(p.Longitude, 0) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// DistanceKm is the haversine great-circle distance in kilometers.
func DistanceKm(p1, p2 Point) float64 {
	if p1 == p2 {
		return 0
	}
	lat1 := p1.Latitude * math.Pi / 180
	lat2 := p2.Latitude * math.Pi / 180
	dlat := (p2.Latitude - p1.Latitude) * math.Pi / 180
	dlng := (p2.Longitude - p1.Longitude) * math.Pi / 180

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlng/2)*math.Sin(dlng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// DistanceMeters is DistanceKm in meters.
func DistanceMeters(p1, p2 Point) float64 {
	return DistanceKm(p1, p2) * 1000
}

// WithinMeters reports whether a and b are at most radius meters apart.
// A latitude-only prefilter skips the trigonometry for far away pairs.
func WithinMeters(a, b Point, radius float64) bool {
	if math.Abs(a.Latitude-b.Latitude)*metersPerDegreeLat > radius {
		return false
	}
	return DistanceMeters(a, b) <= radius
}

// MetersToDegreesLat converts a north-south distance to degrees.
func MetersToDegreesLat(m float64) float64 {
	return m / metersPerDegreeLat
}

// MetersToDegreesLng converts an east-west distance at latitude lat to degrees.
func MetersToDegreesLng(m, lat float64) float64 {
	cos := math.Cos(lat * math.Pi / 180)
	if cos < 1e-6 {
		return 180
	}
	return m / (metersPerDegreeLat * cos)
}

// BoundsOf returns the bounding box of points. ok is false for an empty slice.
func BoundsOf(points []Point) (b BBox, ok bool) {
	if len(points) == 0 {
		return BBox{}, false
	}
	b = BBox{MinLat: points[0].Latitude, MaxLat: points[0].Latitude, MinLng: points[0].Longitude, MaxLng: points[0].Longitude}
	for _, p := range points[1:] {
		b = b.Extend(p)
	}
	return b, true
}

// NewBBox builds a box from any two opposite corners.
func NewBBox(a, b Point) BBox {
	return BBox{
		MinLat: math.Min(a.Latitude, b.Latitude),
		MaxLat: math.Max(a.Latitude, b.Latitude),
		MinLng: math.Min(a.Longitude, b.Longitude),
		MaxLng: math.Max(a.Longitude, b.Longitude),
	}
}

func (b BBox) Extend(p Point) BBox {
	b.MinLat = math.Min(b.MinLat, p.Latitude)
	b.MaxLat = math.Max(b.MaxLat, p.Latitude)
	b.MinLng = math.Min(b.MinLng, p.Longitude)
	b.MaxLng = math.Max(b.MaxLng, p.Longitude)
	return b
}

func (b BBox) Union(o BBox) BBox {
	return BBox{
		MinLat: math.Min(b.MinLat, o.MinLat),
		MaxLat: math.Max(b.MaxLat, o.MaxLat),
		MinLng: math.Min(b.MinLng, o.MinLng),
		MaxLng: math.Max(b.MaxLng, o.MaxLng),
	}
}

// Expand grows the box by meters on every side. The longitude margin is
// computed at the latitude closest to a pole so nothing inside is lost.
func (b BBox) Expand(meters float64) BBox {
	dLat := MetersToDegreesLat(meters)
	widest := math.Max(math.Abs(b.MinLat), math.Abs(b.MaxLat))
	dLng := MetersToDegreesLng(meters, widest)
	return BBox{
		MinLat: math.Max(-90, b.MinLat-dLat),
		MaxLat: math.Min(90, b.MaxLat+dLat),
		MinLng: math.Max(-180, b.MinLng-dLng),
		MaxLng: math.Min(180, b.MaxLng+dLng),
	}
}

func (b BBox) Contains(p Point) bool {
	return p.Latitude >= b.MinLat && p.Latitude <= b.MaxLat &&
		p.Longitude >= b.MinLng && p.Longitude <= b.MaxLng
}

// Sample returns every stride-th point starting with the first one.
func Sample(points []Point, stride int) []Point {
	if stride <= 1 {
		return points
	}
	out := make([]Point, 0, len(points)/stride+1)
	for i := 0; i < len(points); i += stride {
		out = append(out, points[i])
	}
	return out
}

// DecodePolyline decodes a Google encoded polyline (precision 1e5).
func DecodePolyline(encoded string) ([]Point, error) {
	return DecodePolylineWithPrecision(encoded, 1e5)
}

// DecodePolylineWithPrecision decodes a polyline whose coordinates were
// scaled by multiplier before encoding.
func DecodePolylineWithPrecision(encoded string, multiplier float64) ([]Point, error) {
	if encoded == "" {
		return nil, errors.New("empty polyline")
	}
	codec := polyline.Codec{Dim: 2, Scale: multiplier}
	coords, rest, err := codec.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errors.New("trailing bytes after polyline")
	}
	points := make([]Point, len(coords))
	for i, c := range coords {
		points[i] = Point{Latitude: c[0], Longitude: c[1]}
	}
	return points, nil
}

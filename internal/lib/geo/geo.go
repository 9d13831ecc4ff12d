package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	"github.com/twpayne/go-polyline"
)

const (
	// EarthRadiusMeters is the mean spherical radius used by every calculation
	EarthRadiusMeters = 6371000

	// SqMetersToSqFeet converts square meters to square feet
	SqMetersToSqFeet = 10.764

	// MetersToFeet converts meters to feet
	MetersToFeet = 3.28084

	// MinRingVertices is the smallest vertex count that encloses an area
	MinRingVertices = 3
)

// ErrInvalidCoordinates is returned for points outside the valid lat/lng ranges
var ErrInvalidCoordinates = errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")

// geometry implements the Geometry interface
type geometry struct{}

// NewGeometry creates a new Geometry implementation
func NewGeometry() Geometry {
	return &geometry{}
}

// Distance calculates great-circle distance between two points using Haversine formula
func (g *geometry) Distance(p1, p2 Point) float64 {
	// If points are the same, distance is 0
	if p1 == p2 {
		return 0
	}

	lat1 := toRadians(p1.Latitude)
	lon1 := toRadians(p1.Longitude)
	lat2 := toRadians(p2.Latitude)
	lon2 := toRadians(p2.Longitude)

	dlat := lat2 - lat1
	dlon := lon2 - lon1

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// Perimeter walks the ring including the closing edge from the last vertex to the first
func (g *geometry) Perimeter(vertices []Point) Perimeter {
	if len(vertices) < 2 {
		return Perimeter{Segments: []float64{}}
	}

	segments := make([]float64, len(vertices))
	total := 0.0
	for i := range vertices {
		next := (i + 1) % len(vertices)
		segments[i] = g.Distance(vertices[i], vertices[next])
		total += segments[i]
	}

	return Perimeter{Total: total, Segments: segments}
}

// Area uses the spherical-excess approximation over the closed ring.
// Accurate for building-footprint scale polygons; it degrades as the polygon
// spans larger geographic extents.
func (g *geometry) Area(vertices []Point) float64 {
	n := len(vertices)
	if n < MinRingVertices {
		return 0
	}

	sum := 0.0
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		lat1 := toRadians(vertices[i].Latitude)
		lat2 := toRadians(vertices[j].Latitude)
		lng1 := toRadians(vertices[i].Longitude)
		lng2 := toRadians(vertices[j].Longitude)

		sum += (lng2 - lng1) * (2 + math.Sin(lat1) + math.Sin(lat2))
	}

	// Winding order only flips the sign
	sqMeters := math.Abs(sum) * EarthRadiusMeters * EarthRadiusMeters / 2
	return sqMeters * SqMetersToSqFeet
}

// Measure computes area, perimeter and per-edge distances for a vertex sequence
func (g *geometry) Measure(vertices []Point) Measurement {
	perimeter := g.Perimeter(vertices)
	return Measurement{
		AreaSqFt:               g.Area(vertices),
		PerimeterMeters:        perimeter.Total,
		SegmentDistancesMeters: perimeter.Segments,
	}
}

// NewPoint creates a Point from latitude and longitude values with validation
func NewPoint(latitude, longitude float64) (Point, error) {
	point := Point{Latitude: latitude, Longitude: longitude}
	if err := ValidatePoint(point); err != nil {
		return Point{}, err
	}
	return point, nil
}

// ValidatePoint rejects NaN, infinite and out-of-range coordinates
func ValidatePoint(point Point) error {
	if !isValidCoordinate(point) {
		return ErrInvalidCoordinates
	}
	return nil
}

// EncodeRing encodes vertices as a Google encoded polyline. The ring is not closed.
func EncodeRing(vertices []Point) string {
	coords := make([][]float64, len(vertices))
	for i, v := range vertices {
		coords[i] = []float64{v.Latitude, v.Longitude}
	}
	return string(polyline.EncodeCoords(coords))
}

// DecodeRing decodes a Google encoded polyline into a vertex sequence
func DecodeRing(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}

	coords, rest, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode polyline: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("failed to decode polyline: %d trailing bytes", len(rest))
	}

	points := make([]Point, len(coords))
	for i, coord := range coords {
		points[i] = Point{Latitude: coord[0], Longitude: coord[1]}
		if !isValidCoordinate(points[i]) {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
	}

	return points, nil
}

// RingWKT renders vertices as a closed WKT POLYGON in lng/lat order
func RingWKT(vertices []Point) (string, error) {
	if len(vertices) < MinRingVertices {
		return "", fmt.Errorf("ring needs at least %d vertices, got %d", MinRingVertices, len(vertices))
	}

	flat := make([]float64, 0, 2*(len(vertices)+1))
	for _, v := range vertices {
		flat = append(flat, v.Longitude, v.Latitude)
	}
	flat = append(flat, vertices[0].Longitude, vertices[0].Latitude)

	polygon := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
	polygon.SetSRID(4326)

	return wkt.Marshal(polygon)
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// isValidCoordinate validates latitude and longitude values
func isValidCoordinate(point Point) bool {
	return point.Latitude >= -90 && point.Latitude <= 90 &&
		point.Longitude >= -180 && point.Longitude <= 180
}

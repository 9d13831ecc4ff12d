package geo

// Point represents a geographic coordinate in decimal degrees
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Pair returns the point in [latitude, longitude] wire order
func (p Point) Pair() [2]float64 {
	return [2]float64{p.Latitude, p.Longitude}
}

// PointFromPair builds a Point from a [latitude, longitude] pair
func PointFromPair(pair [2]float64) Point {
	return Point{Latitude: pair[0], Longitude: pair[1]}
}

// Perimeter is the length of the closed ring formed by a vertex sequence.
// Segments[i] is the edge from vertex i to vertex i+1; the last entry is the
// closing edge back to the first vertex.
type Perimeter struct {
	Total    float64   `json:"total_meters"`
	Segments []float64 `json:"segments_meters"`
}

// Measurement holds the derived values for a vertex sequence
type Measurement struct {
	AreaSqFt               float64   `json:"area_sqft"`
	PerimeterMeters        float64   `json:"perimeter_meters"`
	SegmentDistancesMeters []float64 `json:"segment_distances_meters"`
}

// Clone returns a copy that shares no backing array with m
func (m Measurement) Clone() Measurement {
	segments := make([]float64, len(m.SegmentDistancesMeters))
	copy(segments, m.SegmentDistancesMeters)
	m.SegmentDistancesMeters = segments
	return m
}

// Geometry defines the spherical calculations used while surveying
type Geometry interface {
	// Great-circle distance between two points in meters
	Distance(p1, p2 Point) float64

	// Perimeter of the implicitly closed ring in meters
	Perimeter(vertices []Point) Perimeter

	// Enclosed area of the implicitly closed ring in square feet
	Area(vertices []Point) float64

	// Area, perimeter and per-edge distances in one pass
	Measure(vertices []Point) Measurement
}

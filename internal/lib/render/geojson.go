package render

import (
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/dpup/survey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/survey.ersn.net/server/internal/lib/survey"
)

// GeoJSON encodes shapes as a FeatureCollection. Vertices become Points,
// edges LineStrings and polygons closed Polygons; kind, label and style ride
// along as feature properties.
func GeoJSON(shapes []Shape) ([]byte, error) {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(shapes))}

	for i, s := range shapes {
		g, err := shapeGeometry(s)
		if err != nil {
			return nil, fmt.Errorf("shape %d (%s): %w", i, s.Kind, err)
		}

		properties := map[string]interface{}{
			"kind":  string(s.Kind),
			"style": s.Style,
		}
		if s.Label != "" {
			properties["label"] = s.Label
		}
		if s.Anchor != nil {
			properties["anchor"] = []float64{s.Anchor.Longitude, s.Anchor.Latitude}
		}

		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         s.PolygonID,
			Geometry:   g,
			Properties: properties,
		})
	}

	return fc.MarshalJSON()
}

// WKT renders polygons as a single MULTIPOLYGON in lng/lat order
func WKT(polygons []survey.Polygon) (string, error) {
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for _, p := range polygons {
		poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{closedRing(p.Vertices)})
		if err != nil {
			return "", fmt.Errorf("polygon %s: %w", p.ID, err)
		}
		if err := mp.Push(poly); err != nil {
			return "", fmt.Errorf("polygon %s: %w", p.ID, err)
		}
	}
	return wkt.Marshal(mp)
}

func shapeGeometry(s Shape) (geom.T, error) {
	switch s.Kind {
	case KindVertex:
		if len(s.Positions) != 1 {
			return nil, fmt.Errorf("vertex needs 1 position, got %d", len(s.Positions))
		}
		return geom.NewPoint(geom.XY).SetCoords(coord(s.Positions[0]))
	case KindEdge, KindClosingEdge:
		coords := make([]geom.Coord, len(s.Positions))
		for i, p := range s.Positions {
			coords[i] = coord(p)
		}
		return geom.NewLineString(geom.XY).SetCoords(coords)
	default:
		if len(s.Positions) < geo.MinRingVertices {
			return nil, fmt.Errorf("polygon needs %d positions, got %d", geo.MinRingVertices, len(s.Positions))
		}
		return geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{closedRing(s.Positions)})
	}
}

func closedRing(vertices []geo.Point) []geom.Coord {
	ring := make([]geom.Coord, 0, len(vertices)+1)
	for _, v := range vertices {
		ring = append(ring, coord(v))
	}
	if len(vertices) > 0 {
		ring = append(ring, coord(vertices[0]))
	}
	return ring
}

func coord(p geo.Point) geom.Coord {
	return geom.Coord{p.Longitude, p.Latitude}
}

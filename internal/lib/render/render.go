// Package render projects survey state into map shapes. Projections are pure:
// the same view always yields the same shapes and nothing here mutates state.
package render

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"

	"github.com/dpup/survey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/survey.ersn.net/server/internal/lib/survey"
)

// Kind identifies how a shape is drawn
type Kind string

const (
	KindVertex      Kind = "vertex"
	KindEdge        Kind = "edge"
	KindClosingEdge Kind = "closing_edge"
	KindPreview     Kind = "preview"
	KindCompleted   Kind = "completed"
	KindPersisted   Kind = "persisted"
)

// Style is the stroke and fill a map client applies to a shape
type Style struct {
	Stroke      string  `json:"stroke"`
	Fill        string  `json:"fill,omitempty"`
	FillOpacity float64 `json:"fill_opacity,omitempty"`
	Weight      int     `json:"weight"`
	Dashed      bool    `json:"dashed,omitempty"`
}

var (
	activeStyle    = Style{Stroke: "#3B82F6", Weight: 3, Dashed: true}
	previewStyle   = Style{Stroke: "#3B82F6", Fill: "#3B82F6", FillOpacity: 0.15, Weight: 2}
	vertexStyle    = Style{Stroke: "#FFFFFF", Fill: "#EF4444", FillOpacity: 1, Weight: 2}
	completedStyle = Style{Stroke: "#DC2626", Fill: "#DC2626", FillOpacity: 0.3, Weight: 3}
	persistedStyle = Style{Stroke: "#059669", Fill: "#059669", FillOpacity: 0.25, Weight: 2}
)

// Shape is one drawable element. Positions holds a single point for vertices,
// two for edges and the unclosed ring for polygons. Label, when set, is drawn
// at Anchor.
type Shape struct {
	Kind      Kind        `json:"kind"`
	PolygonID string      `json:"polygon_id,omitempty"`
	Positions []geo.Point `json:"positions"`
	Label     string      `json:"label,omitempty"`
	Anchor    *geo.Point  `json:"anchor,omitempty"`
	Style     Style       `json:"style"`
}

// View is the slice of session state that is drawn on the map
type View struct {
	Active            []geo.Point
	ActiveMeasurement geo.Measurement
	Completed         []survey.Polygon
	Persisted         []survey.Polygon
}

// Project turns a view into shapes: persisted polygons first, then completed
// polygons, then the active sketch on top.
func Project(v View) []Shape {
	var shapes []Shape

	for _, p := range v.Persisted {
		shapes = append(shapes, polygonShape(KindPersisted, p, persistedStyle))
	}
	for _, p := range v.Completed {
		shapes = append(shapes, polygonShape(KindCompleted, p, completedStyle))
	}

	return append(shapes, sketchShapes(v.Active, v.ActiveMeasurement)...)
}

func sketchShapes(vertices []geo.Point, m geo.Measurement) []Shape {
	n := len(vertices)
	shapes := make([]Shape, 0, 2*n+1)

	if n > 2 {
		shapes = append(shapes, Shape{
			Kind:      KindPreview,
			Positions: copyPoints(vertices),
			Label:     AreaLabel(m.AreaSqFt),
			Anchor:    centerOf(vertices),
			Style:     previewStyle,
		})
	}

	// Segment distances come from the closed ring, so segment i is the edge
	// from vertex i to i+1 and the last one is the closing edge.
	for i := 0; n > 1 && i < n-1; i++ {
		shapes = append(shapes, edgeShape(KindEdge, vertices[i], vertices[i+1], segmentAt(m, i)))
	}
	if n > 2 {
		shapes = append(shapes, edgeShape(KindClosingEdge, vertices[n-1], vertices[0], segmentAt(m, n-1)))
	}

	for i, p := range vertices {
		anchor := p
		shapes = append(shapes, Shape{
			Kind:      KindVertex,
			Positions: []geo.Point{p},
			Label:     fmt.Sprintf("%d", i+1),
			Anchor:    &anchor,
			Style:     vertexStyle,
		})
	}

	return shapes
}

func polygonShape(kind Kind, p survey.Polygon, style Style) Shape {
	label := AreaLabel(p.Measurement.AreaSqFt)
	if kind == KindPersisted && p.Metadata != nil && p.Metadata.Address != "" {
		label = p.Metadata.Address + " · " + label
	}
	return Shape{
		Kind:      kind,
		PolygonID: p.ID,
		Positions: copyPoints(p.Vertices),
		Label:     label,
		Anchor:    centerOf(p.Vertices),
		Style:     style,
	}
}

func edgeShape(kind Kind, from, to geo.Point, meters float64) Shape {
	mid := geo.Point{
		Latitude:  (from.Latitude + to.Latitude) / 2,
		Longitude: (from.Longitude + to.Longitude) / 2,
	}
	return Shape{
		Kind:      kind,
		Positions: []geo.Point{from, to},
		Label:     FeetLabel(meters),
		Anchor:    &mid,
		Style:     activeStyle,
	}
}

// FeetLabel formats a distance in meters as feet with one decimal
func FeetLabel(meters float64) string {
	return fmt.Sprintf("%.1f ft", meters*geo.MetersToFeet)
}

// AreaLabel formats an area as whole square feet with thousands separators
func AreaLabel(sqFt float64) string {
	return humanize.Comma(int64(math.Round(sqFt))) + " sq ft"
}

func segmentAt(m geo.Measurement, i int) float64 {
	if i < len(m.SegmentDistancesMeters) {
		return m.SegmentDistancesMeters[i]
	}
	return 0
}

// centerOf returns the center of the bounding box, where the map draws area labels
func centerOf(vertices []geo.Point) *geo.Point {
	if len(vertices) == 0 {
		return nil
	}
	minLat, maxLat := vertices[0].Latitude, vertices[0].Latitude
	minLng, maxLng := vertices[0].Longitude, vertices[0].Longitude
	for _, v := range vertices[1:] {
		minLat = math.Min(minLat, v.Latitude)
		maxLat = math.Max(maxLat, v.Latitude)
		minLng = math.Min(minLng, v.Longitude)
		maxLng = math.Max(maxLng, v.Longitude)
	}
	return &geo.Point{Latitude: (minLat + maxLat) / 2, Longitude: (minLng + maxLng) / 2}
}

func copyPoints(points []geo.Point) []geo.Point {
	out := make([]geo.Point, len(points))
	copy(out, points)
	return out
}

package render

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/survey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/survey.ersn.net/server/internal/lib/survey"
)

var ring = []geo.Point{
	{Latitude: 40.0, Longitude: -74.0},
	{Latitude: 40.0, Longitude: -73.999},
	{Latitude: 40.001, Longitude: -73.999},
}

func kinds(shapes []Shape) map[Kind]int {
	counts := map[Kind]int{}
	for _, s := range shapes {
		counts[s.Kind]++
	}
	return counts
}

func TestProject_Empty(t *testing.T) {
	assert.Empty(t, Project(View{}))
}

func TestProject_TwoVertexSketch(t *testing.T) {
	g := geo.NewGeometry()
	active := ring[:2]

	shapes := Project(View{Active: active, ActiveMeasurement: g.Measure(active)})

	assert.Equal(t, map[Kind]int{KindVertex: 2, KindEdge: 1}, kinds(shapes))
	for _, s := range shapes {
		if s.Kind == KindEdge {
			assert.Equal(t, FeetLabel(g.Distance(ring[0], ring[1])), s.Label)
		}
	}
}

func TestProject_ThreeVertexSketch(t *testing.T) {
	g := geo.NewGeometry()
	m := g.Measure(ring)

	shapes := Project(View{Active: ring, ActiveMeasurement: m})

	assert.Equal(t, map[Kind]int{KindVertex: 3, KindEdge: 2, KindClosingEdge: 1, KindPreview: 1}, kinds(shapes))

	var labels []string
	for _, s := range shapes {
		switch s.Kind {
		case KindVertex:
			labels = append(labels, s.Label)
		case KindClosingEdge:
			assert.Equal(t, []geo.Point{ring[2], ring[0]}, s.Positions)
			assert.Equal(t, FeetLabel(m.SegmentDistancesMeters[2]), s.Label)
		case KindPreview:
			assert.Equal(t, AreaLabel(m.AreaSqFt), s.Label)
		}
	}
	assert.Equal(t, []string{"1", "2", "3"}, labels)
}

func TestProject_LayersStoredPolygonsUnderSketch(t *testing.T) {
	g := geo.NewGeometry()
	done := survey.NewPolygon("local-1", ring, g, survey.StatusCompleted)
	saved := survey.NewPolygon("property-4", ring, g, survey.StatusPersisted)
	saved.Metadata = &survey.Metadata{RecordID: 4, Address: "12 Oak Street"}

	shapes := Project(View{
		Active:    ring[:1],
		Completed: []survey.Polygon{done},
		Persisted: []survey.Polygon{saved},
	})

	require.Len(t, shapes, 3)
	assert.Equal(t, KindPersisted, shapes[0].Kind)
	assert.Equal(t, "property-4", shapes[0].PolygonID)
	assert.Contains(t, shapes[0].Label, "12 Oak Street")
	assert.Equal(t, KindCompleted, shapes[1].Kind)
	assert.Equal(t, KindVertex, shapes[2].Kind)
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "328.1 ft", FeetLabel(100))
	assert.Equal(t, "12,346 sq ft", AreaLabel(12345.6))
	assert.Equal(t, "0 sq ft", AreaLabel(0))
	assert.InDelta(t, 328.084, PerimeterFeet(geo.Measurement{PerimeterMeters: 100}), 1e-9)
}

func TestGeoJSON(t *testing.T) {
	g := geo.NewGeometry()
	shapes := Project(View{
		Active:            ring,
		ActiveMeasurement: g.Measure(ring),
		Completed:         []survey.Polygon{survey.NewPolygon("local-1", ring, g, survey.StatusCompleted)},
	})

	data, err := GeoJSON(shapes)
	require.NoError(t, err)

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			ID       string `json:"id"`
			Geometry struct {
				Type        string          `json:"type"`
				Coordinates json.RawMessage `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &fc))

	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, len(shapes))

	first := fc.Features[0]
	assert.Equal(t, "local-1", first.ID)
	assert.Equal(t, "Polygon", first.Geometry.Type)
	assert.Equal(t, "completed", first.Properties["kind"])

	var rings [][][]float64
	require.NoError(t, json.Unmarshal(first.Geometry.Coordinates, &rings))
	require.Len(t, rings, 1)
	assert.Len(t, rings[0], len(ring)+1, "GeoJSON rings are closed")
	assert.Equal(t, rings[0][0], rings[0][len(rings[0])-1])
	assert.Equal(t, []float64{-74.0, 40.0}, rings[0][0], "GeoJSON is lng/lat")

	geometryTypes := map[string]int{}
	for _, f := range fc.Features {
		geometryTypes[f.Geometry.Type]++
	}
	assert.Equal(t, map[string]int{"Polygon": 2, "LineString": 3, "Point": 3}, geometryTypes)
}

func TestWKT(t *testing.T) {
	g := geo.NewGeometry()
	text, err := WKT([]survey.Polygon{
		survey.NewPolygon("local-1", ring, g, survey.StatusCompleted),
		survey.NewPolygon("local-2", ring, g, survey.StatusCompleted),
	})
	require.NoError(t, err)
	assert.Contains(t, text, "MULTIPOLYGON")
	assert.Contains(t, text, "-74 40")
}

func TestKML(t *testing.T) {
	g := geo.NewGeometry()
	value := 250000.0
	saved := survey.NewPolygon("property-4", ring, g, survey.StatusPersisted)
	saved.Metadata = &survey.Metadata{RecordID: 4, Address: "12 Oak Street", OwnerName: "Grace Hopper", AssessmentValue: &value}

	var buf bytes.Buffer
	err := KML(&buf, "Survey", []survey.Polygon{survey.NewPolygon("local-1", ring, g, survey.StatusCompleted)}, []survey.Polygon{saved})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "<kml")
	assert.Contains(t, out, "<name>Survey</name>")
	assert.Contains(t, out, "<name>12 Oak Street</name>")
	assert.Contains(t, out, "<name>local-1</name>")
	assert.Contains(t, out, "Owner: Grace Hopper")
	assert.Contains(t, out, "#persisted")
	assert.Contains(t, out, "<coordinates>")
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("<Placemark>")))
}

package render

import (
	"fmt"
	"image/color"
	"io"
	"strings"

	"github.com/twpayne/go-kml"

	"github.com/dpup/survey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/survey.ersn.net/server/internal/lib/survey"
)

const (
	completedStyleID = "completed"
	persistedStyleID = "persisted"
)

// KML writes completed and persisted polygons as a KML document, one
// Placemark per polygon with its measurements in the description.
func KML(w io.Writer, name string, completed, persisted []survey.Polygon) error {
	elements := []kml.Element{
		kml.Name(name),
		kml.SharedStyle(completedStyleID,
			kml.LineStyle(kml.Color(color.RGBA{R: 0xdc, G: 0x26, B: 0x26, A: 0xff}), kml.Width(3)),
			kml.PolyStyle(kml.Color(color.RGBA{R: 0xdc, G: 0x26, B: 0x26, A: 0x4d})),
		),
		kml.SharedStyle(persistedStyleID,
			kml.LineStyle(kml.Color(color.RGBA{R: 0x05, G: 0x96, B: 0x69, A: 0xff}), kml.Width(2)),
			kml.PolyStyle(kml.Color(color.RGBA{R: 0x05, G: 0x96, B: 0x69, A: 0x40})),
		),
	}

	for _, p := range persisted {
		elements = append(elements, placemark(p, persistedStyleID))
	}
	for _, p := range completed {
		elements = append(elements, placemark(p, completedStyleID))
	}

	if err := kml.KML(kml.Document(elements...)).WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("failed to write KML: %w", err)
	}
	return nil
}

func placemark(p survey.Polygon, styleID string) kml.Element {
	title := p.ID
	if p.Metadata != nil && p.Metadata.Address != "" {
		title = p.Metadata.Address
	}

	coords := make([]kml.Coordinate, 0, len(p.Vertices)+1)
	for _, v := range p.Vertices {
		coords = append(coords, kml.Coordinate{Lon: v.Longitude, Lat: v.Latitude})
	}
	if len(p.Vertices) > 0 {
		coords = append(coords, kml.Coordinate{Lon: p.Vertices[0].Longitude, Lat: p.Vertices[0].Latitude})
	}

	return kml.Placemark(
		kml.Name(title),
		kml.Description(describe(p)),
		kml.StyleURL("#"+styleID),
		kml.Polygon(
			kml.OuterBoundaryIs(
				kml.LinearRing(
					kml.Coordinates(coords...),
				),
			),
		),
	)
}

func describe(p survey.Polygon) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Area: %s\n", AreaLabel(p.Measurement.AreaSqFt))
	fmt.Fprintf(&b, "Perimeter: %s\n", FeetLabel(p.Measurement.PerimeterMeters))
	fmt.Fprintf(&b, "Status: %s", p.Status)

	if md := p.Metadata; md != nil {
		if md.OwnerName != "" {
			fmt.Fprintf(&b, "\nOwner: %s", md.OwnerName)
		}
		if md.AssessmentValue != nil {
			fmt.Fprintf(&b, "\nAssessment: $%.2f", *md.AssessmentValue)
		}
		if md.Notes != "" {
			fmt.Fprintf(&b, "\nNotes: %s", md.Notes)
		}
	}
	return b.String()
}

// PerimeterFeet is the perimeter of a measurement in feet
func PerimeterFeet(m geo.Measurement) float64 {
	return m.PerimeterMeters * geo.MetersToFeet
}

// Command measure-footprint measures building footprints from the command
// line using the same geometry as the survey server.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dpup/survey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/survey.ersn.net/server/internal/lib/render"
	"github.com/dpup/survey.ersn.net/server/internal/lib/survey"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "measure-footprint",
		Short: "Measure building footprints",
		Long: `Measure building footprints given as vertex lists.

Points are "lat,lng" pairs separated by semicolons, for example:
  measure-footprint measure --points "40,-74;40,-73.999;40.001,-73.999"

The ring is closed implicitly; do not repeat the first vertex.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		buildDistanceCmd(),
		buildMeasureCmd(),
		buildEncodeCmd(),
		buildDecodeCmd(),
		buildExportCmd(),
	)
	return cmd
}

func buildDistanceCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "distance",
		Short: "Great-circle distance between two points",
		RunE: func(cmd *cobra.Command, args []string) error {
			p1, err := parsePoint(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			p2, err := parsePoint(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			meters := geo.NewGeometry().Distance(p1, p2)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Distance between points:\n")
			fmt.Fprintf(out, "  Point 1: (%.6f, %.6f)\n", p1.Latitude, p1.Longitude)
			fmt.Fprintf(out, "  Point 2: (%.6f, %.6f)\n", p2.Latitude, p2.Longitude)
			fmt.Fprintf(out, "  Distance: %.2f meters (%s)\n", meters, render.FeetLabel(meters))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First point as lat,lng")
	cmd.Flags().StringVar(&to, "to", "", "Second point as lat,lng")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func buildMeasureCmd() *cobra.Command {
	var points string
	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Area, perimeter and edge lengths of a footprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			vertices, err := parsePoints(points)
			if err != nil {
				return err
			}

			m := geo.NewGeometry().Measure(vertices)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Footprint with %d vertices:\n", len(vertices))
			fmt.Fprintf(out, "  Area: %s\n", render.AreaLabel(m.AreaSqFt))
			fmt.Fprintf(out, "  Perimeter: %.2f meters (%s)\n", m.PerimeterMeters, render.FeetLabel(m.PerimeterMeters))
			for i, d := range m.SegmentDistancesMeters {
				fmt.Fprintf(out, "  Edge %d-%d: %s\n", i+1, (i+1)%len(vertices)+1, render.FeetLabel(d))
			}
			if len(vertices) < geo.MinRingVertices {
				fmt.Fprintf(out, "  (at least %d vertices are needed to enclose an area)\n", geo.MinRingVertices)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&points, "points", "p", "", "Vertices as lat,lng;lat,lng;...")
	_ = cmd.MarkFlagRequired("points")
	return cmd
}

func buildEncodeCmd() *cobra.Command {
	var points string
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode vertices as a polyline string",
		RunE: func(cmd *cobra.Command, args []string) error {
			vertices, err := parsePoints(points)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), geo.EncodeRing(vertices))
			return nil
		},
	}
	cmd.Flags().StringVarP(&points, "points", "p", "", "Vertices as lat,lng;lat,lng;...")
	_ = cmd.MarkFlagRequired("points")
	return cmd
}

func buildDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode [polyline]",
		Short: "Decode a polyline string and measure it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vertices, err := geo.DecodeRing(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Decoded %d vertices:\n", len(vertices))
			for i, v := range vertices {
				fmt.Fprintf(out, "  %d: (%.6f, %.6f)\n", i+1, v.Latitude, v.Longitude)
			}
			if len(vertices) >= geo.MinRingVertices {
				fmt.Fprintf(out, "Area: %s\n", render.AreaLabel(geo.NewGeometry().Area(vertices)))
			}
			return nil
		},
	}
}

func buildExportCmd() *cobra.Command {
	var (
		points string
		name   string
		format string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a footprint as KML or WKT",
		RunE: func(cmd *cobra.Command, args []string) error {
			vertices, err := parsePoints(points)
			if err != nil {
				return err
			}
			if len(vertices) < geo.MinRingVertices {
				return fmt.Errorf("need at least %d vertices, got %d", geo.MinRingVertices, len(vertices))
			}

			polygon := survey.NewPolygon(name, vertices, geo.NewGeometry(), survey.StatusCompleted)
			switch format {
			case "kml":
				return render.KML(cmd.OutOrStdout(), name, []survey.Polygon{polygon}, nil)
			case "wkt":
				text, err := geo.RingWKT(vertices)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			default:
				return fmt.Errorf("unknown format %q (want kml or wkt)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&points, "points", "p", "", "Vertices as lat,lng;lat,lng;...")
	cmd.Flags().StringVar(&name, "name", "footprint", "Placemark name")
	cmd.Flags().StringVarP(&format, "format", "f", "kml", "Output format (kml, wkt)")
	_ = cmd.MarkFlagRequired("points")
	return cmd
}

// parsePoints parses "lat,lng;lat,lng;..." into validated points
func parsePoints(s string) ([]geo.Point, error) {
	var points []geo.Point
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := parsePoint(part)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("no points given")
	}
	return points, nil
}

func parsePoint(s string) (geo.Point, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 2 {
		return geo.Point{}, fmt.Errorf("invalid point %q: want lat,lng", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid latitude in %q: %w", s, err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid longitude in %q: %w", s, err)
	}
	return geo.NewPoint(lat, lng)
}

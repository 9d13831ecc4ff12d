// Package survey models the footprint drawing lifecycle: the drawing state
// machine that accumulates vertices and the store that separates finished
// polygons from persisted ones.
package survey

import (
	"github.com/dpup/survey.ersn.net/server/internal/lib/geo"
)

// Mode is the drawing state of a Machine
type Mode int

const (
	// ModeIdle accepts no vertices
	ModeIdle Mode = iota
	// ModeDrawing accumulates vertices for the active sketch
	ModeDrawing
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeDrawing:
		return "drawing"
	default:
		return "unknown"
	}
}

// MarshalText renders the mode by name in JSON payloads
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Status is the lifecycle stage of a polygon. It only ever moves forward.
type Status int

const (
	// StatusDraft is a polygon being built; it never enters a Store
	StatusDraft Status = iota
	// StatusCompleted is finished locally but not saved
	StatusCompleted
	// StatusPersisted came back from the property backend
	StatusPersisted
)

func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "draft"
	case StatusCompleted:
		return "completed"
	case StatusPersisted:
		return "persisted"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON payloads
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Metadata is the owner record attached to a persisted polygon
type Metadata struct {
	RecordID        int64    `json:"record_id"`
	Address         string   `json:"address"`
	OwnerName       string   `json:"owner_name,omitempty"`
	OwnerPhone      string   `json:"owner_phone,omitempty"`
	OwnerEmail      string   `json:"owner_email,omitempty"`
	AssessmentValue *float64 `json:"assessment_value,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}

// Polygon is a closed ring of at least three vertices with its measurement
type Polygon struct {
	ID          string          `json:"id"`
	Vertices    []geo.Point     `json:"vertices"`
	Measurement geo.Measurement `json:"measurement"`
	Status      Status          `json:"status"`
	Metadata    *Metadata       `json:"metadata,omitempty"`
}

// NewPolygon copies vertices and measures them, so the measurement always
// matches the ring it was built from.
func NewPolygon(id string, vertices []geo.Point, geometry geo.Geometry, status Status) Polygon {
	ring := make([]geo.Point, len(vertices))
	copy(ring, vertices)
	return Polygon{
		ID:          id,
		Vertices:    ring,
		Measurement: geometry.Measure(ring),
		Status:      status,
	}
}

// Coordinates returns the ring as [lat, lng] pairs without repeating the first vertex
func (p Polygon) Coordinates() [][2]float64 {
	pairs := make([][2]float64, len(p.Vertices))
	for i, v := range p.Vertices {
		pairs[i] = v.Pair()
	}
	return pairs
}

// Clone returns a deep copy of the polygon
func (p Polygon) Clone() Polygon {
	ring := make([]geo.Point, len(p.Vertices))
	copy(ring, p.Vertices)
	p.Vertices = ring
	p.Measurement = p.Measurement.Clone()
	if p.Metadata != nil {
		md := *p.Metadata
		if md.AssessmentValue != nil {
			v := *md.AssessmentValue
			md.AssessmentValue = &v
		}
		p.Metadata = &md
	}
	return p
}

// Update is delivered to subscribers whenever the active vertex sequence changes
type Update struct {
	Measurement geo.Measurement `json:"measurement"`
	VertexCount int             `json:"vertex_count"`
}

// Snapshot is a read-only copy of a Machine's state
type Snapshot struct {
	Mode        Mode            `json:"mode"`
	Vertices    []geo.Point     `json:"vertices"`
	Measurement geo.Measurement `json:"measurement"`
}

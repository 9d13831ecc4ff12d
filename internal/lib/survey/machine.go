package survey

import (
	"fmt"
	"strings"

	"github.com/dpup/survey.ersn.net/server/internal/lib/geo"
)

// RestartPolicy decides what Start does while a sketch is already in progress
type RestartPolicy int

const (
	// RestartReset discards the active sketch and starts again from empty
	RestartReset RestartPolicy = iota
	// RestartIgnore keeps the active sketch untouched
	RestartIgnore
)

func (r RestartPolicy) String() string {
	if r == RestartIgnore {
		return "ignore"
	}
	return "reset"
}

// ParseRestartPolicy accepts "reset" or "ignore"; empty means reset
func ParseRestartPolicy(s string) (RestartPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reset":
		return RestartReset, nil
	case "ignore":
		return RestartIgnore, nil
	default:
		return RestartReset, fmt.Errorf("unknown restart policy %q", s)
	}
}

// MachineOption configures a Machine
type MachineOption func(*Machine)

// WithRestartPolicy sets the behavior of Start while drawing
func WithRestartPolicy(policy RestartPolicy) MachineOption {
	return func(m *Machine) {
		m.restart = policy
	}
}

// WithIDGenerator overrides the default local-<n> IDs
func WithIDGenerator(ids IDGenerator) MachineOption {
	return func(m *Machine) {
		m.ids = ids
	}
}

// Machine is the drawing state machine. It is not safe for concurrent use;
// callers serialize access (the survey session runs it on one goroutine).
type Machine struct {
	geometry    geo.Geometry
	ids         IDGenerator
	restart     RestartPolicy
	mode        Mode
	vertices    []geo.Point
	measurement geo.Measurement
	subscribers []func(Update)
}

// NewMachine creates an idle machine
func NewMachine(geometry geo.Geometry, opts ...MachineOption) *Machine {
	m := &Machine{
		geometry: geometry,
		ids:      NewCounterIDs(DefaultIDPrefix),
		restart:  RestartReset,
		mode:     ModeIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.measurement = geometry.Measure(nil)
	return m
}

// Mode returns the current drawing mode
func (m *Machine) Mode() Mode {
	return m.mode
}

// RestartPolicy returns the configured restart policy
func (m *Machine) RestartPolicy() RestartPolicy {
	return m.restart
}

// Subscribe registers a listener for live measurement updates
func (m *Machine) Subscribe(fn func(Update)) {
	m.subscribers = append(m.subscribers, fn)
}

// Start enters drawing mode with an empty sketch. While already drawing, the
// restart policy decides whether the sketch is discarded or kept.
func (m *Machine) Start() {
	if m.mode == ModeDrawing && m.restart == RestartIgnore {
		return
	}
	m.mode = ModeDrawing
	m.clearVertices()
}

// AddPoint appends a vertex to the active sketch and notifies subscribers
func (m *Machine) AddPoint(p geo.Point) (Update, error) {
	if m.mode != ModeDrawing {
		return Update{}, ErrInvalidTransition
	}

	m.vertices = append(m.vertices, p)
	return m.recompute(), nil
}

// UndoLastPoint removes the most recent vertex. Undo on an empty sketch is a
// no-op and sends no notification.
func (m *Machine) UndoLastPoint() (Update, error) {
	if m.mode != ModeDrawing {
		return Update{}, ErrInvalidTransition
	}
	if len(m.vertices) == 0 {
		return m.update(), nil
	}

	m.vertices = m.vertices[:len(m.vertices)-1]
	return m.recompute(), nil
}

// Finish closes the active sketch. With at least three vertices it returns a
// new Completed polygon; otherwise the vertices are discarded and
// ErrInsufficientVertices is returned. Either way the machine returns to idle.
func (m *Machine) Finish() (*Polygon, error) {
	if m.mode != ModeDrawing {
		return nil, ErrInvalidTransition
	}

	vertices := m.vertices
	m.mode = ModeIdle
	m.clearVertices()

	if len(vertices) < geo.MinRingVertices {
		return nil, ErrInsufficientVertices
	}

	polygon := NewPolygon(m.ids.NextID(), vertices, m.geometry, StatusDraft)
	polygon.Status = StatusCompleted
	return &polygon, nil
}

// Reset forces the machine back to idle with no vertices
func (m *Machine) Reset() {
	m.mode = ModeIdle
	m.clearVertices()
}

// Snapshot returns a copy of the current state
func (m *Machine) Snapshot() Snapshot {
	vertices := make([]geo.Point, len(m.vertices))
	copy(vertices, m.vertices)
	return Snapshot{
		Mode:        m.mode,
		Vertices:    vertices,
		Measurement: m.measurement.Clone(),
	}
}

func (m *Machine) clearVertices() {
	m.vertices = nil
	m.measurement = m.geometry.Measure(nil)
}

func (m *Machine) recompute() Update {
	m.measurement = m.geometry.Measure(m.vertices)
	update := m.update()
	for _, fn := range m.subscribers {
		fn(update)
	}
	return update
}

func (m *Machine) update() Update {
	return Update{
		Measurement: m.measurement.Clone(),
		VertexCount: len(m.vertices),
	}
}

package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks survey session activity. A nil *Metrics is a no-op.
type Metrics struct {
	PointsAdded       prometheus.Counter
	PolygonsCompleted prometheus.Counter
	SketchesDiscarded prometheus.Counter
	Saves             *prometheus.CounterVec
	Fetches           *prometheus.CounterVec
	SavesInFlight     prometheus.Gauge
	CompletedPolygons prometheus.Gauge
	PersistedPolygons prometheus.Gauge
	SketchAreaSqFt    prometheus.Gauge
}

// NewMetrics registers session metrics with reg. A nil registerer creates
// unregistered collectors, which keeps tests independent of each other.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PointsAdded: factory.NewCounter(prometheus.CounterOpts{
			Name: "survey_points_added_total",
			Help: "Total number of vertices added to sketches",
		}),
		PolygonsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "survey_polygons_completed_total",
			Help: "Total number of sketches finished as polygons",
		}),
		SketchesDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "survey_sketches_discarded_total",
			Help: "Total number of sketches finished with too few vertices",
		}),
		Saves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "survey_saves_total",
			Help: "Property saves by result",
		}, []string{"result"}),
		Fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "survey_fetches_total",
			Help: "Property list fetches by result",
		}, []string{"result"}),
		SavesInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "survey_saves_in_flight",
			Help: "Property saves awaiting a response",
		}),
		CompletedPolygons: factory.NewGauge(prometheus.GaugeOpts{
			Name: "survey_completed_polygons",
			Help: "Finished polygons not yet persisted",
		}),
		PersistedPolygons: factory.NewGauge(prometheus.GaugeOpts{
			Name: "survey_persisted_polygons",
			Help: "Polygons loaded from the property backend",
		}),
		SketchAreaSqFt: factory.NewGauge(prometheus.GaugeOpts{
			Name: "survey_sketch_area_sqft",
			Help: "Live area of the sketch being drawn",
		}),
	}
}

func (m *Metrics) pointAdded() {
	if m == nil {
		return
	}
	m.PointsAdded.Inc()
}

func (m *Metrics) sketchFinished(completed bool) {
	if m == nil {
		return
	}
	if completed {
		m.PolygonsCompleted.Inc()
	} else {
		m.SketchesDiscarded.Inc()
	}
}

func (m *Metrics) saveStarted() {
	if m == nil {
		return
	}
	m.SavesInFlight.Inc()
}

func (m *Metrics) saveFinished(result string) {
	if m == nil {
		return
	}
	m.SavesInFlight.Dec()
	m.Saves.WithLabelValues(result).Inc()
}

func (m *Metrics) fetchFinished(result string) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(result).Inc()
}

func (m *Metrics) polygonCounts(completed, persisted int) {
	if m == nil {
		return
	}
	m.CompletedPolygons.Set(float64(completed))
	m.PersistedPolygons.Set(float64(persisted))
}

func (m *Metrics) sketchArea(sqFt float64) {
	if m == nil {
		return
	}
	m.SketchAreaSqFt.Set(sqFt)
}

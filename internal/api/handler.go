package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dpup/prefab/logging"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dpup/survey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/survey.ersn.net/server/internal/lib/render"
	"github.com/dpup/survey.ersn.net/server/internal/lib/survey"
	"github.com/dpup/survey.ersn.net/server/internal/services"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// Session is the survey session surface the HTTP handlers drive
type Session interface {
	StartDrawing(ctx context.Context) (services.State, error)
	AddPoint(ctx context.Context, lat, lng float64) (services.State, error)
	UndoLastPoint(ctx context.Context) (services.State, error)
	Finish(ctx context.Context) (*survey.Polygon, services.State, error)
	Clear(ctx context.Context) (services.State, error)
	BeginSave(ctx context.Context, id string, req services.SaveRequest) (services.State, error)
	Refresh(ctx context.Context) (services.State, error)
	State(ctx context.Context) (services.State, error)
	Shapes(ctx context.Context) ([]render.Shape, error)
	Notices(ctx context.Context) ([]services.Notice, error)
	SearchProperties(ctx context.Context, term string) (services.SearchResult, error)
	ExportKML(ctx context.Context, w io.Writer) error
	ExportWKT(ctx context.Context) (string, error)
}

// BoundarySource looks up the stored boundary of a saved property
type BoundarySource interface {
	Boundary(ctx context.Context, id int64) (string, error)
}

// Handler exposes a survey session over JSON HTTP routes on the gateway mux
type Handler struct {
	session    Session
	boundaries BoundarySource
	geometry   geo.Geometry
	mux        *runtime.ServeMux
}

// NewHandler creates a handler for session
func NewHandler(session Session) *Handler {
	return &Handler{session: session, geometry: geo.NewGeometry()}
}

// WithBoundaries enables the property boundary route
func (h *Handler) WithBoundaries(src BoundarySource) *Handler {
	h.boundaries = src
	return h
}

// PointRequest is a map click
type PointRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// MeasureRequest holds an unsaved ring to measure
type MeasureRequest struct {
	Points [][2]float64 `json:"points"`
}

// MeasureResponse is a measurement with display labels
type MeasureResponse struct {
	geo.Measurement
	PerimeterFeet  float64 `json:"perimeter_feet"`
	AreaLabel      string  `json:"area_label"`
	PerimeterLabel string  `json:"perimeter_label"`
}

// FinishResponse carries the new polygon, if any, and the resulting state
type FinishResponse struct {
	Polygon *survey.Polygon `json:"polygon"`
	State   services.State  `json:"state"`
}

// SearchResponse lists persisted polygons matching a query. Total counts
// every persisted polygon; TotalAreaSqFt sums the matches only.
type SearchResponse struct {
	Query         string           `json:"query"`
	Properties    []survey.Polygon `json:"properties"`
	Total         int              `json:"total"`
	TotalAreaSqFt float64          `json:"total_area_sqft"`
}

type route struct {
	method  string
	pattern string
	handle  runtime.HandlerFunc
}

// Register adds the survey routes to mux
func (h *Handler) Register(mux *runtime.ServeMux) error {
	h.mux = mux

	routes := []route{
		{http.MethodGet, "/api/v1/survey", h.getState},
		{http.MethodPost, "/api/v1/survey/start", h.stateCommand(h.session.StartDrawing)},
		{http.MethodPost, "/api/v1/survey/points", h.addPoint},
		{http.MethodPost, "/api/v1/survey/undo", h.stateCommand(h.session.UndoLastPoint)},
		{http.MethodPost, "/api/v1/survey/finish", h.finish},
		{http.MethodPost, "/api/v1/survey/clear", h.stateCommand(h.session.Clear)},
		{http.MethodPost, "/api/v1/survey/refresh", h.stateCommand(h.session.Refresh)},
		{http.MethodPost, "/api/v1/survey/polygons/{id}/save", h.save},
		{http.MethodGet, "/api/v1/survey/shapes", h.shapes},
		{http.MethodGet, "/api/v1/survey/notices", h.notices},
		{http.MethodGet, "/api/v1/survey/export.kml", h.exportKML},
		{http.MethodGet, "/api/v1/survey/export.wkt", h.exportWKT},
		{http.MethodGet, "/api/v1/properties", h.searchProperties},
		{http.MethodPost, "/api/v1/measure", h.measure},
	}
	if h.boundaries != nil {
		routes = append(routes, route{http.MethodGet, "/api/v1/properties/{id}/boundary", h.boundary})
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handle); err != nil {
			return fmt.Errorf("failed to register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return nil
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	state, err := h.session.State(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) stateCommand(fn func(context.Context) (services.State, error)) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		state, err := fn(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func (h *Handler) addPoint(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req PointRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Lat == nil || req.Lng == nil {
		h.writeError(w, r, status.Error(codes.InvalidArgument, "lat and lng are required"))
		return
	}

	state, err := h.session.AddPoint(r.Context(), *req.Lat, *req.Lng)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) finish(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	polygon, state, err := h.session.Finish(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FinishResponse{Polygon: polygon, State: state})
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var req services.SaveRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	state, err := h.session.BeginSave(r.Context(), params["id"], req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, state)
}

func (h *Handler) shapes(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	shapes, err := h.session.Shapes(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	body, err := render.GeoJSON(shapes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) notices(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	notices, err := h.session.Notices(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notices": notices})
}

func (h *Handler) exportKML(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var buf strings.Builder
	if err := h.session.ExportKML(r.Context(), &buf); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.Header().Set("Content-Disposition", `attachment; filename="survey.kml"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, buf.String())
}

func (h *Handler) exportWKT(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	text, err := h.session.ExportWKT(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

func (h *Handler) searchProperties(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	query := r.URL.Query().Get("q")
	result, err := h.session.SearchProperties(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := SearchResponse{Query: query, Properties: result.Matches, Total: result.Total}
	if resp.Properties == nil {
		resp.Properties = []survey.Polygon{}
	}
	for _, p := range resp.Properties {
		resp.TotalAreaSqFt += p.Measurement.AreaSqFt
	}
	writeJSON(w, http.StatusOK, resp)
}

// boundary returns the stored EWKT boundary of a saved property
func (h *Handler) boundary(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := strconv.ParseInt(params["id"], 10, 64)
	if err != nil {
		h.writeError(w, r, status.Errorf(codes.InvalidArgument, "invalid property id %q", params["id"]))
		return
	}

	ewkt, err := h.boundaries.Boundary(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ewkt)
}

// measure computes area and perimeter for a ring without touching the session
func (h *Handler) measure(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req MeasureRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	vertices := make([]geo.Point, 0, len(req.Points))
	for _, pair := range req.Points {
		p, err := geo.NewPoint(pair[0], pair[1])
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		vertices = append(vertices, p)
	}

	m := h.geometry.Measure(vertices)
	writeJSON(w, http.StatusOK, MeasureResponse{
		Measurement:    m,
		PerimeterFeet:  render.PerimeterFeet(m),
		AreaLabel:      render.AreaLabel(m.AreaSqFt),
		PerimeterLabel: render.FeetLabel(m.PerimeterMeters),
	})
}

// writeError maps domain errors to gRPC codes and lets the gateway render them
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	st := toStatus(err)
	if st.Code() == codes.Internal || st.Code() == codes.Unavailable {
		logging.Errorw(logging.EnsureLogger(r.Context()), "Survey API request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}

	mux := h.mux
	if mux == nil {
		mux = runtime.NewServeMux()
	}
	runtime.HTTPError(r.Context(), mux, &runtime.JSONPb{}, w, r, st.Err())
}

func toStatus(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}

	switch {
	case errors.Is(err, geo.ErrInvalidCoordinates),
		errors.Is(err, services.ErrInvalidSaveRequest):
		return status.New(codes.InvalidArgument, err.Error())
	case errors.Is(err, survey.ErrNotFound):
		return status.New(codes.NotFound, err.Error())
	case errors.Is(err, services.ErrSaveInFlight):
		return status.New(codes.Aborted, err.Error())
	case errors.Is(err, survey.ErrDuplicateID):
		return status.New(codes.AlreadyExists, err.Error())
	case errors.Is(err, services.ErrSessionStopped):
		return status.New(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, err.Error())
	default:
		return status.New(codes.Internal, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return status.Error(codes.InvalidArgument, "request body is required")
		}
		return status.Errorf(codes.InvalidArgument, "invalid request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

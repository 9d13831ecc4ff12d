package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	prefaberrors "github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"

	"github.com/dpup/survey.ersn.net/server/internal/clients/properties"
	"github.com/dpup/survey.ersn.net/server/internal/config"
	"github.com/dpup/survey.ersn.net/server/internal/lib/geo"
	"github.com/dpup/survey.ersn.net/server/internal/lib/render"
	"github.com/dpup/survey.ersn.net/server/internal/lib/survey"
)

var (
	// ErrSessionStopped is returned for commands sent to a session whose loop is not running
	ErrSessionStopped = errors.New("survey session is not running")

	// ErrSaveInFlight is returned when a polygon already has a save in progress
	ErrSaveInFlight = errors.New("save already in progress for polygon")

	// ErrInvalidSaveRequest is returned when the owner details fail validation
	ErrInvalidSaveRequest = errors.New("invalid save request")

	errCommandPanicked = errors.New("survey session command panicked")
)

// SessionOptions tunes a SurveySession
type SessionOptions struct {
	RestartPolicy survey.RestartPolicy
	IDPrefix      string
	SaveTimeout   time.Duration
	FetchTimeout  time.Duration
	FetchOnStart  bool
	MaxNotices    int
	DocumentName  string
	Metrics       *Metrics
}

// SessionOptionsFromConfig maps the survey and export config sections
func SessionOptionsFromConfig(cfg *config.Config, metrics *Metrics) (SessionOptions, error) {
	policy, err := survey.ParseRestartPolicy(cfg.Survey.RestartPolicy)
	if err != nil {
		return SessionOptions{}, err
	}
	return SessionOptions{
		RestartPolicy: policy,
		IDPrefix:      cfg.Survey.IDPrefix,
		SaveTimeout:   cfg.Survey.SaveTimeout,
		FetchTimeout:  cfg.Survey.FetchTimeout,
		FetchOnStart:  cfg.Survey.FetchOnStart,
		MaxNotices:    cfg.Survey.MaxNotices,
		DocumentName:  cfg.Export.DocumentName,
		Metrics:       metrics,
	}, nil
}

// SaveRequest carries the owner details entered for a polygon
type SaveRequest struct {
	Address         string   `json:"address"`
	OwnerName       string   `json:"owner_name"`
	OwnerPhone      string   `json:"owner_phone"`
	OwnerEmail      string   `json:"owner_email"`
	AssessmentValue *float64 `json:"assessment_value"`
	Notes           string   `json:"notes"`
}

// State is the full session state after a transition
type State struct {
	SessionID         string           `json:"session_id"`
	Mode              survey.Mode      `json:"mode"`
	ActiveVertices    []geo.Point      `json:"active_vertices"`
	ActiveRing        string           `json:"active_ring,omitempty"`
	LiveMeasurement   geo.Measurement  `json:"live_measurement"`
	RemainingVertices int              `json:"remaining_vertices"`
	ReadyToFinish     bool             `json:"ready_to_finish"`
	Completed         []survey.Polygon `json:"completed"`
	Persisted         []survey.Polygon `json:"persisted"`
	Saving            []string         `json:"saving"`
	Fetching          bool             `json:"fetching"`
	LastFetchedAt     *time.Time       `json:"last_fetched_at,omitempty"`
}

type command struct {
	run    func() error
	result chan error
}

// SurveySession composes the drawing machine, the polygon store and the
// property gateway. All state changes happen on one event loop goroutine;
// gateway calls run on their own goroutines and post their results back to
// the loop, so the loop never blocks on the network.
type SurveySession struct {
	id       string
	geometry geo.Geometry
	machine  *survey.Machine
	store    *survey.Store
	gateway  properties.Gateway
	opts     SessionOptions
	metrics  *Metrics

	commands chan command
	stopChan chan struct{}
	loopDone chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
	loopCtx  context.Context

	// Owned by the loop goroutine
	saving       map[string]struct{}
	fetching     bool
	fetchPending bool
	lastFetch    *time.Time
	notices      *noticeLog
	now          func() time.Time
}

// NewSurveySession creates a session. Call StartEventLoop before sending commands.
func NewSurveySession(gateway properties.Gateway, opts SessionOptions) *SurveySession {
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 30 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	if opts.MaxNotices <= 0 {
		opts.MaxNotices = 20
	}
	if opts.DocumentName == "" {
		opts.DocumentName = "Footprint Survey"
	}

	geometry := geo.NewGeometry()
	s := &SurveySession{
		id:       uuid.New().String(),
		geometry: geometry,
		store:    survey.NewStore(),
		gateway:  gateway,
		opts:     opts,
		metrics:  opts.Metrics,
		commands: make(chan command),
		stopChan: make(chan struct{}),
		loopDone: make(chan struct{}),
		saving:   make(map[string]struct{}),
		notices:  newNoticeLog(opts.MaxNotices),
		now:      time.Now,
	}

	s.machine = survey.NewMachine(geometry,
		survey.WithRestartPolicy(opts.RestartPolicy),
		survey.WithIDGenerator(survey.NewCounterIDs(opts.IDPrefix)),
	)
	s.machine.Subscribe(func(u survey.Update) {
		s.metrics.sketchArea(u.Measurement.AreaSqFt)
	})

	return s
}

// ID identifies the session in logs and exports
func (s *SurveySession) ID() string {
	return s.id
}

// StartEventLoop starts the command loop. It runs until ctx is done or Stop
// is called.
func (s *SurveySession) StartEventLoop(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("survey session already started")
	}
	// Commands and gateway goroutines log through the loop context
	ctx = logging.EnsureLogger(ctx)
	s.loopCtx = ctx
	go s.run(ctx)
	return nil
}

// Stop ends the event loop and waits for it to exit. In-flight gateway calls
// are abandoned; their results are dropped.
func (s *SurveySession) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	if s.started.Load() {
		<-s.loopDone
	}
}

// Done is closed once the event loop has exited
func (s *SurveySession) Done() <-chan struct{} {
	return s.loopDone
}

func (s *SurveySession) run(ctx context.Context) {
	defer close(s.loopDone)

	logging.Infow(ctx, "Survey session started",
		"session_id", s.id, "restart_policy", s.machine.RestartPolicy().String())

	if s.opts.FetchOnStart {
		s.triggerFetch(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			logging.Infow(ctx, "Survey session stopping due to context cancellation", "session_id", s.id)
			return
		case <-s.stopChan:
			logging.Infow(ctx, "Survey session stopping due to stop signal", "session_id", s.id)
			return
		case cmd := <-s.commands:
			s.execute(ctx, cmd)
		}
	}
}

func (s *SurveySession) execute(ctx context.Context, cmd command) {
	err := errCommandPanicked
	defer func() {
		if r := recover(); r != nil {
			stack, _ := prefaberrors.ParseStack(debug.Stack())
			skipFrames := 3
			numFrames := 5
			logging.Errorw(ctx, "Survey session: recovered from panic",
				"error", r, "error.stack_trace", stack.MinimalStack(skipFrames, numFrames))
		}
		if cmd.result != nil {
			cmd.result <- err
		}
		s.metrics.polygonCounts(s.store.Counts())
	}()

	err = cmd.run()
}

// submit runs fn on the loop and waits for it. Once the loop accepts a
// command it always runs to completion, so results written by fn are safe to
// read after submit returns.
func (s *SurveySession) submit(ctx context.Context, fn func() error) error {
	if !s.started.Load() {
		return ErrSessionStopped
	}

	cmd := command{run: fn, result: make(chan error, 1)}
	select {
	case s.commands <- cmd:
	case <-s.loopDone:
		return ErrSessionStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-cmd.result
}

// post queues fn on the loop without waiting for it. Used by gateway goroutines.
func (s *SurveySession) post(fn func()) {
	cmd := command{run: func() error {
		fn()
		return nil
	}}
	select {
	case s.commands <- cmd:
	case <-s.loopDone:
	}
}

// StartDrawing enters drawing mode
func (s *SurveySession) StartDrawing(ctx context.Context) (State, error) {
	var state State
	err := s.submit(ctx, func() error {
		s.machine.Start()
		s.metrics.sketchArea(0)
		logging.Debugw(s.loopCtx, "Drawing started", "session_id", s.id)
		state = s.snapshot()
		return nil
	})
	return state, err
}

// AddPoint appends a vertex to the sketch. Outside drawing mode the point is
// ignored.
func (s *SurveySession) AddPoint(ctx context.Context, lat, lng float64) (State, error) {
	point, err := geo.NewPoint(lat, lng)
	if err != nil {
		return State{}, err
	}

	var state State
	err = s.submit(ctx, func() error {
		if _, err := s.machine.AddPoint(point); err != nil {
			if err := s.ignoreTransition(s.loopCtx, "add point", err); err != nil {
				return err
			}
		} else {
			s.metrics.pointAdded()
		}
		state = s.snapshot()
		return nil
	})
	return state, err
}

// UndoLastPoint removes the most recent vertex
func (s *SurveySession) UndoLastPoint(ctx context.Context) (State, error) {
	var state State
	err := s.submit(ctx, func() error {
		if _, err := s.machine.UndoLastPoint(); err != nil {
			if err := s.ignoreTransition(s.loopCtx, "undo", err); err != nil {
				return err
			}
		}
		state = s.snapshot()
		return nil
	})
	return state, err
}

// Finish closes the sketch. It returns the new polygon, or nil when the
// sketch had too few vertices and was discarded.
func (s *SurveySession) Finish(ctx context.Context) (*survey.Polygon, State, error) {
	var (
		finished *survey.Polygon
		state    State
	)
	err := s.submit(ctx, func() error {
		defer func() {
			state = s.snapshot()
		}()
		s.metrics.sketchArea(0)

		polygon, err := s.machine.Finish()
		switch {
		case err == nil:
			if err := s.store.AddCompleted(*polygon); err != nil {
				logging.Errorw(s.loopCtx, "Failed to store completed polygon",
					"session_id", s.id, "polygon_id", polygon.ID, "error", err)
				return err
			}
			s.metrics.sketchFinished(true)
			logging.Infow(s.loopCtx, "Polygon completed",
				"session_id", s.id, "polygon_id", polygon.ID,
				"vertices", len(polygon.Vertices), "area_sqft", polygon.Measurement.AreaSqFt)
			finished = polygon
		case errors.Is(err, survey.ErrInsufficientVertices):
			s.metrics.sketchFinished(false)
			logging.Debugw(s.loopCtx, "Discarded sketch with too few vertices", "session_id", s.id)
		default:
			return s.ignoreTransition(s.loopCtx, "finish", err)
		}
		return nil
	})
	return finished, state, err
}

// Clear discards the sketch and every completed polygon. Persisted polygons
// are kept; saves already in flight complete harmlessly.
func (s *SurveySession) Clear(ctx context.Context) (State, error) {
	var state State
	err := s.submit(ctx, func() error {
		s.machine.Reset()
		s.store.ClearCompleted()
		s.metrics.sketchArea(0)
		logging.Debugw(s.loopCtx, "Session cleared", "session_id", s.id)
		state = s.snapshot()
		return nil
	})
	return state, err
}

// BeginSave validates the owner details and starts saving a completed polygon
func (s *SurveySession) BeginSave(ctx context.Context, id string, req SaveRequest) (State, error) {
	var state State
	err := s.submit(ctx, func() error {
		if _, inFlight := s.saving[id]; inFlight {
			return fmt.Errorf("%w: %s", ErrSaveInFlight, id)
		}

		polygon, err := s.store.MarkSaving(id)
		if err != nil {
			return err
		}

		payload := properties.SavePayload{
			Address:            req.Address,
			OwnerName:          req.OwnerName,
			OwnerPhone:         req.OwnerPhone,
			OwnerEmail:         req.OwnerEmail,
			AssessmentValue:    req.AssessmentValue,
			Notes:              req.Notes,
			PolygonCoordinates: polygon.Coordinates(),
			AreaSqFt:           polygon.Measurement.AreaSqFt,
		}
		if err := payload.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSaveRequest, err)
		}

		s.saving[id] = struct{}{}
		s.metrics.saveStarted()
		logging.Infow(s.loopCtx, "Saving polygon",
			"session_id", s.id, "polygon_id", id, "address", payload.Address)

		go s.save(id, payload)

		state = s.snapshot()
		return nil
	})
	return state, err
}

// SaveSucceeded records a successful save: the polygon leaves the completed
// set and the persisted set is re-fetched.
func (s *SurveySession) SaveSucceeded(ctx context.Context, id string, property *properties.Property) (State, error) {
	var state State
	err := s.submit(ctx, func() error {
		s.saveSucceeded(s.loopCtx, id, property)
		state = s.snapshot()
		return nil
	})
	return state, err
}

// SaveFailed records a failed save. The polygon stays completed so it can be
// saved again.
func (s *SurveySession) SaveFailed(ctx context.Context, id, reason string) (State, error) {
	var state State
	err := s.submit(ctx, func() error {
		s.saveFailed(s.loopCtx, id, reason)
		state = s.snapshot()
		return nil
	})
	return state, err
}

// Refresh re-fetches persisted polygons from the gateway
func (s *SurveySession) Refresh(ctx context.Context) (State, error) {
	var state State
	err := s.submit(ctx, func() error {
		s.triggerFetch(s.loopCtx)
		state = s.snapshot()
		return nil
	})
	return state, err
}

// State returns the current session state
func (s *SurveySession) State(ctx context.Context) (State, error) {
	var state State
	err := s.submit(ctx, func() error {
		state = s.snapshot()
		return nil
	})
	return state, err
}

// Shapes projects the current state into map shapes
func (s *SurveySession) Shapes(ctx context.Context) ([]render.Shape, error) {
	var shapes []render.Shape
	err := s.submit(ctx, func() error {
		snap := s.machine.Snapshot()
		shapes = render.Project(render.View{
			Active:            snap.Vertices,
			ActiveMeasurement: snap.Measurement,
			Completed:         s.store.Completed(),
			Persisted:         s.store.Persisted(),
		})
		return nil
	})
	return shapes, err
}

// Notices returns recent notices, oldest first
func (s *SurveySession) Notices(ctx context.Context) ([]Notice, error) {
	var notices []Notice
	err := s.submit(ctx, func() error {
		notices = s.notices.list()
		return nil
	})
	return notices, err
}

// SearchResult holds the persisted polygons matching a term and the size of
// the unfiltered set they were drawn from
type SearchResult struct {
	Matches []survey.Polygon
	Total   int
}

// SearchProperties filters persisted polygons by address or owner name
func (s *SurveySession) SearchProperties(ctx context.Context, term string) (SearchResult, error) {
	var result SearchResult
	err := s.submit(ctx, func() error {
		result.Matches = s.store.SearchPersisted(term)
		_, result.Total = s.store.Counts()
		return nil
	})
	return result, err
}

// ExportKML writes completed and persisted polygons as KML
func (s *SurveySession) ExportKML(ctx context.Context, w io.Writer) error {
	completed, persisted, err := s.polygons(ctx)
	if err != nil {
		return err
	}
	return render.KML(w, fmt.Sprintf("%s (%s)", s.opts.DocumentName, s.id), completed, persisted)
}

// ExportWKT renders completed and persisted polygons as one WKT MULTIPOLYGON
func (s *SurveySession) ExportWKT(ctx context.Context) (string, error) {
	completed, persisted, err := s.polygons(ctx)
	if err != nil {
		return "", err
	}
	return render.WKT(append(persisted, completed...))
}

func (s *SurveySession) polygons(ctx context.Context) (completed, persisted []survey.Polygon, err error) {
	err = s.submit(ctx, func() error {
		completed = s.store.Completed()
		persisted = s.store.Persisted()
		return nil
	})
	return completed, persisted, err
}

// ignoreTransition swallows the errors a UI triggers by clicking at the wrong
// time. Anything else is returned.
func (s *SurveySession) ignoreTransition(ctx context.Context, op string, err error) error {
	if errors.Is(err, survey.ErrInvalidTransition) || errors.Is(err, survey.ErrInsufficientVertices) {
		logging.Debugw(ctx, "Ignoring drawing command",
			"session_id", s.id, "op", op, "mode", s.machine.Mode().String(), "reason", err.Error())
		return nil
	}
	return err
}

func (s *SurveySession) saveSucceeded(ctx context.Context, id string, property *properties.Property) {
	if _, ok := s.saving[id]; ok {
		delete(s.saving, id)
		s.metrics.saveFinished("success")
	}

	removed := s.store.RemoveCompleted(id)

	message := "Property saved"
	if property != nil && property.Address != "" {
		message = fmt.Sprintf("Saved %s", property.Address)
	}
	s.notices.add(NoticeInfo, id, message, s.now())
	logging.Infow(ctx, "Polygon saved", "session_id", s.id, "polygon_id", id, "removed", removed)

	s.triggerFetch(ctx)
}

func (s *SurveySession) saveFailed(ctx context.Context, id, reason string) {
	if _, ok := s.saving[id]; ok {
		delete(s.saving, id)
		s.metrics.saveFinished("failure")
	}

	s.notices.add(NoticeError, id, fmt.Sprintf("Failed to save property: %s", reason), s.now())
	logging.Warnw(ctx, "Polygon save failed", "session_id", s.id, "polygon_id", id, "reason", reason)
}

// triggerFetch starts a list fetch, or queues one if a fetch is already
// running so the result always reflects the latest save.
func (s *SurveySession) triggerFetch(ctx context.Context) {
	if s.fetching {
		s.fetchPending = true
		return
	}
	s.fetching = true
	logging.Debugw(ctx, "Fetching persisted properties", "session_id", s.id)
	go s.fetch()
}

func (s *SurveySession) fetchCompleted(ctx context.Context, records []properties.Property, err error) {
	s.fetching = false

	if err != nil {
		s.metrics.fetchFinished("failure")
		s.notices.add(NoticeWarning, "", fmt.Sprintf("Failed to load saved properties: %v", err), s.now())
		logging.Warnw(ctx, "Property fetch failed", "session_id", s.id, "error", err)
	} else {
		polygons := make([]survey.Polygon, 0, len(records))
		for _, record := range records {
			polygons = append(polygons, record.ToPolygon(s.geometry))
		}
		// Records with fewer than three coordinates cannot close a ring and are dropped
		kept := s.store.ReplacePersisted(polygons)
		if dropped := len(polygons) - kept; dropped > 0 {
			logging.Warnw(ctx, "Skipped property records without a usable polygon",
				"session_id", s.id, "dropped", dropped)
		}

		now := s.now()
		s.lastFetch = &now
		s.metrics.fetchFinished("success")
		logging.Debugw(ctx, "Persisted properties loaded", "session_id", s.id, "count", kept)
	}

	if s.fetchPending {
		s.fetchPending = false
		s.triggerFetch(ctx)
	}
}

func (s *SurveySession) save(id string, payload properties.SavePayload) {
	ctx, cancel := context.WithTimeout(s.loopCtx, s.opts.SaveTimeout)
	defer cancel()

	var property *properties.Property
	err := s.safeCall(ctx, "save property", func() error {
		var err error
		property, err = s.gateway.SaveProperty(ctx, payload)
		return err
	})

	s.post(func() {
		if err != nil {
			s.saveFailed(s.loopCtx, id, err.Error())
			return
		}
		s.saveSucceeded(s.loopCtx, id, property)
	})
}

func (s *SurveySession) fetch() {
	ctx, cancel := context.WithTimeout(s.loopCtx, s.opts.FetchTimeout)
	defer cancel()

	var records []properties.Property
	err := s.safeCall(ctx, "list properties", func() error {
		var err error
		records, err = s.gateway.ListProperties(ctx)
		return err
	})

	s.post(func() {
		s.fetchCompleted(s.loopCtx, records, err)
	})
}

// safeCall runs a gateway call, turning a panic into an error so the loop
// always hears back
func (s *SurveySession) safeCall(ctx context.Context, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack, _ := prefaberrors.ParseStack(debug.Stack())
			skipFrames := 3
			numFrames := 5
			logging.Errorw(ctx, "Survey session: recovered from panic in gateway call",
				"op", op, "error", r, "error.stack_trace", stack.MinimalStack(skipFrames, numFrames))
			err = fmt.Errorf("%s: %v", op, r)
		}
	}()
	return fn()
}

func (s *SurveySession) snapshot() State {
	snap := s.machine.Snapshot()

	remaining := 0
	if snap.Mode == survey.ModeDrawing {
		remaining = max(0, geo.MinRingVertices-len(snap.Vertices))
	}

	saving := make([]string, 0, len(s.saving))
	for id := range s.saving {
		saving = append(saving, id)
	}
	sort.Strings(saving)

	state := State{
		SessionID:         s.id,
		Mode:              snap.Mode,
		ActiveVertices:    snap.Vertices,
		LiveMeasurement:   snap.Measurement,
		RemainingVertices: remaining,
		ReadyToFinish:     snap.Mode == survey.ModeDrawing && remaining == 0,
		Completed:         s.store.Completed(),
		Persisted:         s.store.Persisted(),
		Saving:            saving,
		Fetching:          s.fetching,
	}
	if len(snap.Vertices) > 0 {
		state.ActiveRing = geo.EncodeRing(snap.Vertices)
	}
	if s.lastFetch != nil {
		at := *s.lastFetch
		state.LastFetchedAt = &at
	}
	return state
}

package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"flightassure/pkg/config"
	"flightassure/pkg/geo"
	"flightassure/pkg/grid"
	"flightassure/pkg/metrics"
	"flightassure/pkg/store"
	"flightassure/pkg/terrain"
	"flightassure/pkg/tracing"
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateAborted   State = "aborted"
)

// Limits are tier-dependent parameter ceilings. Zero means unlimited.
type Limits struct {
	MaxRange          float64 `json:"maxRange"`
	MinGridResolution float64 `json:"minGridResolution"`
	MaxStationCount   int     `json:"maxStationCount"`
}

// LimitProvider supplies the limits and feature gates of the active tier.
type LimitProvider interface {
	Limits(ctx context.Context) Limits
	Permits(ctx context.Context, t Type) bool
}

// Result is the immutable output of one run.
type Result struct {
	ID         string                 `json:"id"`
	Type       Type                   `json:"type"`
	Cells      []*grid.Cell           `json:"cells,omitempty"`
	Stats      Stats                  `json:"stats"`
	FlightPath *FlightPathVisibility  `json:"flightPathVisibility,omitempty"`
	StationLOS *terrain.LOSResult     `json:"stationLOSResult,omitempty"`
	Profile    []terrain.ProfilePoint `json:"profile,omitempty"`
}

// Status is a snapshot of the orchestrator.
type Status struct {
	State     State  `json:"state"`
	Progress  int    `json:"progress"`
	RunID     string `json:"runId,omitempty"`
	Type      Type   `json:"type,omitempty"`
	LastRunID string `json:"lastRunId,omitempty"`
	LastState State  `json:"lastState,omitempty"`
	LastError *Error `json:"lastError,omitempty"`
}

// Deps are the collaborators of an Orchestrator. Elevator and Config are
// required.
type Deps struct {
	Elevator  terrain.Elevator
	Readiness terrain.Readiness
	Config    config.Provider
	Limits    LimitProvider
	History   store.AnalysisStore
	Progress  ProgressReporter
}

type run struct {
	id      string
	typ     Type
	token   *CancelToken
	started time.Time
}

// settings is the per-run snapshot of tunables.
type settings struct {
	chunk        int
	concurrency  int
	pause        time.Duration
	interval     float64
	curvature    bool
	targetHeight float64
	nearest      int
	timeout      time.Duration
}

// Orchestrator runs one analysis at a time.
type Orchestrator struct {
	deps Deps
	gen  *grid.Generator

	mu        sync.Mutex
	state     State
	progress  int
	current   *run
	lastRunID string
	lastState State
	lastErr   *Error
}

// New creates an orchestrator in the Idle state.
func New(d Deps) *Orchestrator {
	a := d.Config.AppConfig().Analysis
	return &Orchestrator{
		deps:  d,
		gen:   grid.NewGenerator(d.Elevator, a.MaxCells, a.Concurrency),
		state: StateIdle,
	}
}

// Status returns the current state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Status{
		State:     o.state,
		Progress:  o.progress,
		LastRunID: o.lastRunID,
		LastState: o.lastState,
		LastError: o.lastErr,
	}
	if o.current != nil {
		s.RunID = o.current.id
		s.Type = o.current.typ
	}
	return s
}

// Abort cancels the running analysis at its next chunk boundary. It reports
// whether a run was signalled.
func (o *Orchestrator) Abort() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateRunning || o.current == nil {
		return false
	}
	o.current.token.Cancel()
	slog.Info("Analysis abort requested", "id", o.current.id, "type", o.current.typ)
	return true
}

// Progress implements ProgressReporter so the batch runner reports through
// the orchestrator. Values never decrease within a run.
func (o *Orchestrator) Progress(runID string, percent int) {
	o.mu.Lock()
	if o.current == nil || o.current.id != runID || percent <= o.progress {
		o.mu.Unlock()
		return
	}
	o.progress = percent
	o.mu.Unlock()

	if o.deps.Progress != nil {
		o.deps.Progress.Progress(runID, percent)
	}
}

// Run validates, gates and executes a request.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		slog.Info("Analysis request rejected", "type", req.Type, "reason", err.Error())
		return nil, err
	}
	if err := o.checkTier(ctx, req); err != nil {
		slog.Info("Analysis request rejected by tier", "type", req.Type, "reason", err.Error())
		return nil, err
	}

	r, err := o.begin(req.Type)
	if err != nil {
		return nil, err
	}
	// Only reached on panic; complete releases the run otherwise.
	defer o.release(r, StateFailed, newError(KindVisibilityAnalysis, nil, "analysis interrupted"))
	if o.deps.Progress != nil {
		o.deps.Progress.Progress(r.id, ProgressFloor)
	}

	res, err := o.execute(ctx, r, req)
	o.complete(ctx, r, req, res, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CheckStationToStationLOS checks line of sight between two stations
// without entering the Running state.
func (o *Orchestrator) CheckStationToStationLOS(ctx context.Context, a, b Station) (terrain.LOSResult, []terrain.ProfilePoint, error) {
	req := Request{Type: TypeStationToStation, Stations: []Station{a, b}}
	if err := req.Validate(); err != nil {
		return terrain.LOSResult{}, nil, err
	}
	if err := o.ready(ctx); err != nil {
		return terrain.LOSResult{}, nil, err
	}
	s := o.settings(ctx)
	res, profile := o.stationToStation(ctx, terrain.NewChecker(o.deps.Elevator, s.curvature), a, b, s.interval)
	return res, profile, nil
}

func (o *Orchestrator) checkTier(ctx context.Context, req Request) error {
	if o.deps.Limits == nil {
		return nil
	}
	if !o.deps.Limits.Permits(ctx, req.Type) {
		return invalidInput("%s analysis is not available on the current tier", req.Type)
	}

	l := o.deps.Limits.Limits(ctx)
	if l.MaxStationCount > 0 && len(req.Stations) > l.MaxStationCount {
		return invalidInput("%d stations exceed the tier maximum of %d", len(req.Stations), l.MaxStationCount)
	}
	if req.Type == TypeStationToStation {
		return nil
	}
	if l.MaxRange > 0 && req.Range() > l.MaxRange {
		return invalidInput("range %.0f m exceeds the tier maximum of %.0f m", req.Range(), l.MaxRange)
	}
	if l.MinGridResolution > 0 && req.Resolution() < l.MinGridResolution {
		return invalidInput("grid resolution %.0f m is finer than the tier minimum of %.0f m", req.Resolution(), l.MinGridResolution)
	}
	return nil
}

func (o *Orchestrator) begin(t Type) (*run, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateRunning {
		return nil, newError(KindInvalidInput, ErrInProgress, "analysis already in progress")
	}

	r := &run{id: uuid.NewString(), typ: t, token: NewCancelToken(), started: time.Now()}
	o.current = r
	o.state = StateRunning
	o.progress = ProgressFloor
	o.lastErr = nil
	metrics.TrackAnalysis(true)
	return r, nil
}

// release records the terminal state of r and returns to Idle under one
// lock, so the next Run never observes a finished run as in progress. It is
// a no-op once r has been released.
func (o *Orchestrator) release(r *run, state State, ae *Error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != r {
		return
	}
	o.current = nil
	o.state = StateIdle
	o.lastRunID = r.id
	o.lastState = state
	o.lastErr = ae
	metrics.TrackAnalysis(false)
}

func (o *Orchestrator) settings(ctx context.Context) settings {
	p := o.deps.Config
	a := p.AppConfig().Analysis
	return settings{
		chunk:        p.ChunkSize(ctx),
		concurrency:  a.Concurrency,
		pause:        p.YieldPause(ctx),
		interval:     p.SampleInterval(ctx),
		curvature:    p.EarthCurvature(ctx),
		targetHeight: p.TargetHeight(ctx),
		nearest:      p.NearestPathPoints(ctx),
		timeout:      a.Timeout.Std(),
	}
}

func (o *Orchestrator) ready(ctx context.Context) error {
	if o.deps.Readiness == nil {
		return nil
	}
	if err := o.deps.Readiness.Ready(ctx); err != nil {
		return newError(KindMapInteraction, err, "terrain is not ready")
	}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run, req Request) (*Result, error) {
	ctx, span := tracing.Tracer().Start(ctx, "analysis.run", trace.WithAttributes(
		attribute.String("analysis.id", r.id),
		attribute.String("analysis.type", string(req.Type)),
		attribute.Int("analysis.stations", len(req.Stations)),
		attribute.Float64("analysis.range", req.Range()),
		attribute.Float64("analysis.resolution", req.Resolution()),
	))
	defer span.End()

	s := o.settings(ctx)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := o.dispatch(ctx, r, req, s)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	res.ID = r.id
	res.Type = req.Type
	res.Stats.ElapsedMS = time.Since(r.started).Milliseconds()
	span.SetAttributes(
		attribute.Int("analysis.cells", res.Stats.TotalCells),
		attribute.Int("analysis.visible_cells", res.Stats.VisibleCells),
	)
	return res, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, r *run, req Request, s settings) (*Result, error) {
	if err := o.ready(ctx); err != nil {
		return nil, err
	}
	checker := terrain.NewChecker(o.deps.Elevator, s.curvature)

	switch req.Type {
	case TypeStationToStation:
		los, profile := o.stationToStation(ctx, checker, req.Stations[0], req.Stations[1], s.interval)
		return &Result{StationLOS: &los, Profile: profile}, nil

	case TypeStation:
		st := req.Stations[0]
		origin := o.stationPosition(ctx, st)
		check := func(ctx context.Context, cell *grid.Cell) (CellResult, error) {
			if checker.IsVisible(ctx, origin, cell.Position(s.targetHeight), s.interval) {
				return CellResult{Visibility: 100, VisibleStations: 1, FullyVisible: true}, nil
			}
			return CellResult{}, nil
		}
		return o.runGrid(ctx, r, grid.Circle{Center: st.Point(), Range: st.Range}, st.GridResolution, check, s)

	case TypeMerged:
		origins := make([]terrain.Position3D, len(req.Stations))
		for i, st := range req.Stations {
			origins[i] = o.stationPosition(ctx, st)
		}
		check := func(ctx context.Context, cell *grid.Cell) (CellResult, error) {
			target := cell.Position(s.targetHeight)
			n := 0
			for _, origin := range origins {
				if checker.IsVisible(ctx, origin, target, s.interval) {
					n++
				}
			}
			return CellResult{Visibility: MergedTier(n), VisibleStations: n, FullyVisible: n == len(origins)}, nil
		}
		area := grid.PathArea{Points: req.stationPoints(), Margin: req.Range()}
		return o.runGrid(ctx, r, area, req.Resolution(), check, s)

	case TypeFlightPath:
		return o.runFlightPath(ctx, r, req, checker, s)
	}
	return nil, invalidInput("unknown analysis type %q", req.Type)
}

func (o *Orchestrator) runGrid(ctx context.Context, r *run, area grid.Area, resolution float64, check CellCheck, s settings) (*Result, error) {
	cells, err := o.gen.Generate(ctx, area, resolution)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(KindVisibilityAnalysis, errors.Join(ErrAborted, err), "analysis aborted")
		}
		return nil, newError(KindGridGeneration, err, "grid generation failed")
	}
	if len(cells) == 0 {
		return nil, newError(KindGridGeneration, ErrNoCells, "grid has no cells")
	}

	br, err := RunBatched(ctx, cells, check, BatchOptions{
		ChunkSize:   s.chunk,
		Concurrency: s.concurrency,
		YieldPause:  s.pause,
		Token:       r.token,
		Reporter:    o,
		RunID:       r.id,
	})
	if err != nil {
		return nil, err
	}
	if br.Failed == len(cells) {
		return nil, newError(KindVisibilityAnalysis, nil, "every cell check failed")
	}

	stats, err := ComputeStats(cells)
	if err != nil {
		return nil, newError(KindGridGeneration, err, "grid has no cells")
	}
	stats.FailedCells = br.Failed
	return &Result{Cells: cells, Stats: stats}, nil
}

func (o *Orchestrator) runFlightPath(ctx context.Context, r *run, req Request, checker *terrain.Checker, s settings) (*Result, error) {
	margin := req.Margin
	if margin == 0 {
		margin = o.deps.Config.AppConfig().Analysis.FlightPathMargin.Meters()
	}
	samples := densify(req.FlightPath, req.GridResolution)
	samplePts := make([]geo.Point, len(samples))
	for i, p := range samples {
		samplePts[i] = p.Point()
	}
	nearest := max(s.nearest, 1)

	check := func(ctx context.Context, cell *grid.Cell) (CellResult, error) {
		target := cell.Position(s.targetHeight)
		idx := geo.NearestIndices(cell.Center, samplePts, nearest)
		n := 0
		for _, i := range idx {
			if checker.IsVisible(ctx, samples[i], target, s.interval) {
				n++
			}
		}
		if n == 0 {
			return CellResult{}, nil
		}
		return CellResult{Visibility: 100, VisibleStations: n, FullyVisible: n == len(idx)}, nil
	}

	res, err := o.runGrid(ctx, r, grid.PathArea{Points: req.pathPoints(), Margin: margin}, req.GridResolution, check, s)
	if err != nil {
		return nil, err
	}

	fp, err := o.pathCoverage(ctx, r, req, samples, checker, s)
	if err != nil {
		return nil, err
	}
	res.FlightPath = fp
	return res, nil
}

// pathCoverage measures how much of the path the stations can see by
// checking each densified segment midpoint.
func (o *Orchestrator) pathCoverage(ctx context.Context, r *run, req Request, samples []terrain.Position3D, checker *terrain.Checker, s settings) (*FlightPathVisibility, error) {
	fp := &FlightPathVisibility{TotalLength: geo.PathLength(req.pathPoints())}
	if len(req.Stations) == 0 {
		return fp, nil
	}

	origins := make([]terrain.Position3D, len(req.Stations))
	for i, st := range req.Stations {
		origins[i] = o.stationPosition(ctx, st)
	}

	byType := make(map[StationType]float64)
	for i := 1; i < len(samples); i++ {
		if r.token.Cancelled() || ctx.Err() != nil {
			return nil, newError(KindVisibilityAnalysis, ErrAborted, "analysis aborted")
		}
		a, b := samples[i-1], samples[i]
		segLen := geo.Distance(a.Point(), b.Point())
		mid := terrain.Position3D{
			Lon:       (a.Lon + b.Lon) / 2,
			Lat:       (a.Lat + b.Lat) / 2,
			Elevation: (a.Elevation + b.Elevation) / 2,
		}

		seen := false
		seenBy := make(map[StationType]bool)
		for j, origin := range origins {
			t := req.Stations[j].Type
			if seenBy[t] {
				continue
			}
			if checker.IsVisible(ctx, origin, mid, s.interval) {
				seen = true
				seenBy[t] = true
			}
		}
		if seen {
			fp.VisibleLength += segLen
		}
		for t := range seenBy {
			byType[t] += segLen
		}
	}

	fp.Coverage = make(map[StationType]float64)
	for _, st := range req.Stations {
		if _, ok := fp.Coverage[st.Type]; ok {
			continue
		}
		fp.Coverage[st.Type] = 0
		if fp.TotalLength > 0 {
			fp.Coverage[st.Type] = 100 * byType[st.Type] / fp.TotalLength
		}
	}
	return fp, nil
}

func (o *Orchestrator) stationPosition(ctx context.Context, s Station) terrain.Position3D {
	ground := o.deps.Elevator.ElevationAt(ctx, s.Lon, s.Lat)
	return terrain.Position3D{Lon: s.Lon, Lat: s.Lat, Elevation: ground.Meters + s.ElevationOffset}
}

func (o *Orchestrator) stationToStation(ctx context.Context, c *terrain.Checker, a, b Station, interval float64) (terrain.LOSResult, []terrain.ProfilePoint) {
	return c.CheckLOS(ctx, o.stationPosition(ctx, a), o.stationPosition(ctx, b), interval)
}

func (o *Orchestrator) complete(ctx context.Context, r *run, req Request, res *Result, err error) {
	state := StateCompleted
	var ae *Error
	switch {
	case err == nil:
	case errors.Is(err, ErrAborted):
		state = StateAborted
	default:
		state = StateFailed
	}
	if err != nil && !errors.As(err, &ae) {
		ae = newError(KindVisibilityAnalysis, err, "analysis failed")
	}

	if state == StateCompleted {
		o.Progress(r.id, 100)
	}

	o.release(r, state, ae)

	elapsed := time.Since(r.started)
	metrics.RecordAnalysis(string(req.Type), string(state), elapsed)

	switch state {
	case StateCompleted:
		slog.Info("Analysis completed", "id", r.id, "type", req.Type,
			"cells", res.Stats.TotalCells, "visible", res.Stats.VisibleCells,
			"average", res.Stats.AverageVisibility, "elapsed", elapsed)
	case StateAborted:
		slog.Info("Analysis aborted", "id", r.id, "type", req.Type, "elapsed", elapsed)
	default:
		if ae.Kind == KindInvalidInput {
			slog.Info("Analysis rejected", "id", r.id, "type", req.Type, "reason", ae.Error())
		} else {
			slog.Error("Analysis failed", "id", r.id, "type", req.Type, "kind", ae.Kind,
				"stations", len(req.Stations), "path_points", len(req.FlightPath),
				"range", req.Range(), "resolution", req.Resolution(), "error", err)
		}
	}

	o.record(ctx, r, req, state, res, ae)
}

func (o *Orchestrator) record(ctx context.Context, r *run, req Request, state State, res *Result, ae *Error) {
	if o.deps.History == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	body, _ := json.Marshal(req)
	finished := time.Now()
	rec := &store.AnalysisRecord{
		ID:         r.id,
		Type:       string(req.Type),
		State:      string(state),
		Tier:       o.deps.Config.ActiveTier(ctx),
		Request:    string(body),
		ElapsedMS:  finished.Sub(r.started).Milliseconds(),
		StartedAt:  r.started,
		FinishedAt: &finished,
	}
	if res != nil {
		rec.TotalCells = res.Stats.TotalCells
		rec.VisibleCells = res.Stats.VisibleCells
		rec.AverageVisibility = res.Stats.AverageVisibility
	}
	if ae != nil {
		rec.ErrorKind = string(ae.Kind)
		rec.ErrorMessage = ae.Error()
	}
	if err := o.deps.History.SaveAnalysisRun(ctx, rec); err != nil {
		slog.Warn("Failed to record analysis run", "id", r.id, "error", err)
	}
}

// densify inserts points along the path so that no segment is longer than
// step meters. Altitude is interpolated linearly.
func densify(path []terrain.Position3D, step float64) []terrain.Position3D {
	if len(path) < 2 || step <= 0 {
		return path
	}
	out := []terrain.Position3D{path[0]}
	for i := 1; i < len(path); i++ {
		a, b := path[i-1], path[i]
		d := geo.Distance(a.Point(), b.Point())
		n := int(math.Ceil(d/step)) - 1
		for k := 1; k <= n; k++ {
			t := float64(k) / float64(n+1)
			p := geo.Interpolate(a.Point(), b.Point(), t)
			out = append(out, terrain.Position3D{Lon: p.Lon, Lat: p.Lat, Elevation: a.Elevation + (b.Elevation-a.Elevation)*t})
		}
		out = append(out, b)
	}
	return out
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightassure/pkg/analysis"
	"flightassure/pkg/battery"
	"flightassure/pkg/config"
	"flightassure/pkg/geo"
	"flightassure/pkg/grid"
	"flightassure/pkg/probe"
	"flightassure/pkg/store"
	"flightassure/pkg/terrain"
	"flightassure/pkg/tier"
	"flightassure/pkg/tracker"
)

type fakeRunner struct {
	res     *analysis.Result
	err     error
	los     terrain.LOSResult
	abortOK bool
	got     analysis.Request
}

func (f *fakeRunner) Run(_ context.Context, req analysis.Request) (*analysis.Result, error) {
	f.got = req
	return f.res, f.err
}

func (f *fakeRunner) CheckStationToStationLOS(context.Context, analysis.Station, analysis.Station) (terrain.LOSResult, []terrain.ProfilePoint, error) {
	return f.los, []terrain.ProfilePoint{}, f.err
}

func (f *fakeRunner) Abort() bool { return f.abortOK }

func (f *fakeRunner) Status() analysis.Status { return analysis.Status{State: analysis.StateIdle} }

type memState map[string]string

func (m memState) GetState(_ context.Context, k string) (string, bool) { v, ok := m[k]; return v, ok }
func (m memState) SetState(_ context.Context, k, v string) error     { m[k] = v; return nil }
func (m memState) DeleteState(_ context.Context, k string) error     { delete(m, k); return nil }

type fakeHistory struct {
	runs []*store.AnalysisRecord
}

func (f *fakeHistory) SaveAnalysisRun(_ context.Context, r *store.AnalysisRecord) error {
	f.runs = append(f.runs, r)
	return nil
}

func (f *fakeHistory) GetAnalysisRun(_ context.Context, id string) (*store.AnalysisRecord, error) {
	for _, r := range f.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeHistory) ListAnalysisRuns(_ context.Context, limit int) ([]*store.AnalysisRecord, error) {
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

type fakeTowers struct {
	recs []store.TowerRecord
	got  [4]float64
}

func (f *fakeTowers) ReplaceTowers(context.Context, []store.TowerRecord) error { return nil }

func (f *fakeTowers) TowersInBounds(_ context.Context, minLat, maxLat, minLon, maxLon float64) ([]store.TowerRecord, error) {
	f.got = [4]float64{minLat, maxLat, minLon, maxLon}
	return f.recs, nil
}

type flatElevator float64

func (e flatElevator) ElevationAt(context.Context, float64, float64) terrain.Sample {
	return terrain.Sample{Meters: float64(e)}
}

type testEnv struct {
	router  http.Handler
	runner  *fakeRunner
	tiers   *tier.Service
	history *fakeHistory
	towers  *fakeTowers
	results *ResultCache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memState{}
	tiers := tier.NewService(config.NewProvider(config.DefaultConfig(), st), st)
	results, err := NewResultCache(4)
	require.NoError(t, err)

	env := &testEnv{
		runner:  &fakeRunner{res: testResult(t)},
		tiers:   tiers,
		history: &fakeHistory{},
		towers:  &fakeTowers{},
		results: results,
	}
	env.router = NewRouter(Handlers{
		Analysis: NewAnalysisHandler(env.runner, results, env.history, tiers, nil),
		Tier:     NewTierHandler(tiers),
		Battery:  NewBatteryHandler(tiers, battery.DefaultThresholds()),
		Towers:   NewTowersHandler(env.towers),
		Stats:    NewStatsHandler(tracker.New(), map[string]func() int{"results": results.Len}, nil),
	}, nil)
	return env
}

func testResult(t *testing.T) *analysis.Result {
	t.Helper()
	cells, err := grid.NewGenerator(flatElevator(10), 0, 1).Generate(context.Background(),
		grid.Circle{Center: geo.Point{Lat: -33.9, Lon: 151.2}, Range: 100}, 100)
	require.NoError(t, err)
	for _, c := range cells {
		c.SetVisibility(100)
	}
	stats, err := analysis.ComputeStats(cells)
	require.NoError(t, err)
	return &analysis.Result{ID: "run-1", Type: analysis.TypeStation, Cells: cells, Stats: stats}
}

func (e *testEnv) do(method, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

const stationBody = `{"type":"station","stations":[{"id":"gs","type":"ground-station","lon":151.2,"lat":-33.9,"elevationOffset":2,"range":1000,"gridResolution":50}]}`

func TestHandleRun(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/analysis/", stationBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got analysis.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, 4, got.Stats.TotalCells)

	require.Len(t, env.runner.got.Stations, 1)
	assert.Equal(t, analysis.StationGround, env.runner.got.Stations[0].Type)
	assert.Equal(t, 50.0, env.runner.got.Stations[0].GridResolution)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/analysis/run-1", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/analysis/missing", "").Code)
}

func TestHandleRun_StationTypeNames(t *testing.T) {
	for _, name := range []string{"primary-ground-station", "ground-station"} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			body := strings.Replace(stationBody, `"ground-station"`, `"`+name+`"`, 1)
			rec := env.do(http.MethodPost, "/api/analysis/", body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			require.Len(t, env.runner.got.Stations, 1)
			assert.Equal(t, analysis.StationGround, env.runner.got.Stations[0].Type)
		})
	}
}

func TestHandleRun_RejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"type":`},
		{"unknown field", `{"type":"station","bogus":1}`},
		{"unknown type", `{"type":"viewshed"}`},
		{"latitude out of range", `{"type":"station","stations":[{"type":"observer","lon":0,"lat":91}]}`},
		{"unknown station type", `{"type":"station","stations":[{"type":"tower","lon":0,"lat":0}]}`},
		{"negative margin", `{"type":"flight_path","margin":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(http.MethodPost, "/api/analysis/", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Empty(t, env.runner.got.Type, "runner must not be called")
		})
	}
}

func TestHandleRun_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		kind string
	}{
		{"in progress", &analysis.Error{Kind: analysis.KindInvalidInput, Message: "busy", Err: analysis.ErrInProgress}, http.StatusConflict, "INVALID_INPUT"},
		{"invalid", &analysis.Error{Kind: analysis.KindInvalidInput, Message: "range exceeds tier"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"no terrain", &analysis.Error{Kind: analysis.KindMapInteraction, Message: "terrain not ready"}, http.StatusServiceUnavailable, "MAP_INTERACTION"},
		{"grid", &analysis.Error{Kind: analysis.KindGridGeneration, Message: "too many cells"}, http.StatusUnprocessableEntity, "GRID_GENERATION"},
		{"aborted", &analysis.Error{Kind: analysis.KindVisibilityAnalysis, Message: "aborted", Err: analysis.ErrAborted}, http.StatusConflict, "VISIBILITY_ANALYSIS"},
		{"visibility", &analysis.Error{Kind: analysis.KindVisibilityAnalysis, Message: "all cells failed"}, http.StatusInternalServerError, "VISIBILITY_ANALYSIS"},
		{"untyped", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.runner.res, env.runner.err = nil, tt.err

			rec := env.do(http.MethodPost, "/api/analysis/", stationBody)
			assert.Equal(t, tt.want, rec.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.kind, body.Kind)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/analysis/", stationBody).Code)

	// Community tier has no export.
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/api/analysis/run-1/geojson", "").Code)

	require.NoError(t, env.tiers.SetTier(context.Background(), "commercial"))

	rec := env.do(http.MethodGet, "/api/analysis/run-1/geojson", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	var fc struct {
		Features []json.RawMessage `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	assert.Len(t, fc.Features, 4)

	rec = env.do(http.MethodGet, "/api/analysis/run-1/shapefile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/analysis/other/geojson", "").Code)
}

func TestHandleLOS(t *testing.T) {
	env := newTestEnv(t)
	frac := 0.5
	env.runner.los = terrain.LOSResult{Clear: false, ObstructionFraction: &frac, TotalDistance: 1000}

	body := `{"from":{"type":"ground-station","lon":0,"lat":0},"to":{"type":"observer","lon":0.01,"lat":0}}`
	rec := env.do(http.MethodPost, "/api/los", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got struct {
		Result  terrain.LOSResult      `json:"result"`
		Profile []terrain.ProfilePoint `json:"profile"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.False(t, got.Result.Clear)
	require.NotNil(t, got.Result.ObstructionFraction)
	assert.Equal(t, 0.5, *got.Result.ObstructionFraction)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/los", `{"from":{"type":"x"}}`).Code)
}

func TestHandleAbortAndStatus(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/api/analysis/abort", "").Code)

	env.runner.abortOK = true
	assert.Equal(t, http.StatusAccepted, env.do(http.MethodPost, "/api/analysis/abort", "").Code)

	rec := env.do(http.MethodGet, "/api/analysis/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"idle"`)
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)
	env.history.runs = []*store.AnalysisRecord{{ID: "a", State: "completed"}, {ID: "b", State: "failed"}}

	rec := env.do(http.MethodGet, "/api/analysis/history?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []store.AnalysisRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/analysis/history?limit=0", "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/analysis/history/b", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/analysis/history/zzz", "").Code)
}

func TestTierEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/tier/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp tierResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, tier.Community, resp.Active.Name)
	assert.Len(t, resp.Plans, 3)
	assert.False(t, resp.Features[tier.FeatureExport])

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/api/tier/", `{"tier":"platinum"}`).Code)

	rec = env.do(http.MethodPut, "/api/tier/", `{"tier":"enterprise"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, tier.Enterprise, resp.Active.Name)

	rec = env.do(http.MethodPut, "/api/tier/features/export", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.tiers.Enabled(context.Background(), tier.FeatureExport))

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPut, "/api/tier/features/export", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPut, "/api/tier/features/teleport", `{"enabled":true}`).Code)

	require.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/api/tier/features/export", "").Code)
	assert.True(t, env.tiers.Enabled(context.Background(), tier.FeatureExport))
}

const telemetryCSV = "timestamp,vx,vy,vz,z,voltage,current\n" +
	"0,0,0,0,-20,16.8,36\n" +
	"1000000,0,0,0,-20,16.8,36\n" +
	"2000000,0,0,0,-20,16.8,36\n" +
	"3000000,0,0,0,-20,16.8,36\n"

func TestBattery(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/api/battery", telemetryCSV).Code)

	require.NoError(t, env.tiers.SetTier(context.Background(), "enterprise"))

	req := httptest.NewRequest(http.MethodPost, "/api/battery", strings.NewReader(telemetryCSV))
	req.Header.Set("Content-Type", "text/csv")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rep battery.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	// The first sample only anchors the clock.
	assert.InDelta(t, 2.0, rep.TotalTime, 1e-9)
	assert.InDelta(t, 30.0, rep.TotalDraw, 1e-9)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "flight.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte(telemetryCSV))
	require.NoError(t, mw.Close())

	req = httptest.NewRequest(http.MethodPost, "/api/battery", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/battery", strings.NewReader("timestamp,vx\n1,2\n"))
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTowers(t *testing.T) {
	env := newTestEnv(t)
	env.towers.recs = []store.TowerRecord{{ID: "1", Name: "Hill", Lat: -33.9, Lon: 151.2, Height: 25, Carrier: "Optus"}}

	rec := env.do(http.MethodGet, "/api/towers/?bbox=151,-34,152,-33", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [4]float64{-34, -33, 151, 152}, env.towers.got)

	rec = env.do(http.MethodGet, "/api/towers/stations?bbox=151,-34,152,-33&range=3000&resolution=25", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stations []analysis.Station
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stations))
	require.Len(t, stations, 1)
	assert.Equal(t, analysis.StationRepeater, stations[0].Type)
	assert.Equal(t, 3000.0, stations[0].Range)
	assert.Equal(t, 25.0, stations[0].ElevationOffset)

	rec = env.do(http.MethodGet, "/api/towers/geojson?bbox=151,-34,152,-33", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"FeatureCollection"`)

	for _, q := range []string{"", "bbox=1,2,3", "bbox=a,b,c,d", "bbox=152,-34,151,-33", "bbox=151,-34,152,-33&range=-1"} {
		path := "/api/towers/stations?" + q
		assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, path, "").Code, q)
	}
}

func TestHealth(t *testing.T) {
	pass := probe.Result{Probe: probe.Probe{Name: "Database", Critical: true}}
	warn := probe.Result{Probe: probe.Probe{Name: "Terrain"}, Error: errors.New("no data")}
	fail := probe.Result{Probe: probe.Probe{Name: "Database", Critical: true}, Error: errors.New("locked")}

	tests := []struct {
		name    string
		results []probe.Result
		code    int
		status  string
	}{
		{"ok", []probe.Result{pass}, http.StatusOK, "ok"},
		{"degraded", []probe.Result{pass, warn}, http.StatusOK, "degraded"},
		{"unhealthy", []probe.Result{fail, warn}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(Handlers{Health: func(context.Context) []probe.Result { return tt.results }}, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.code, rec.Code)
			var resp healthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Status)
			assert.Len(t, resp.Checks, len(tt.results))
		})
	}
}

func TestStatsAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/api/analysis/", stationBody).Code)

	rec := env.do(http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Gauges["results"])
	assert.Positive(t, stats.Diagnostics.Goroutines)

	rec = env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "flightassure_api_requests_total")
}

func TestVersionAndLogs(t *testing.T) {
	env := newTestEnv(t)
	assert.Contains(t, env.do(http.MethodGet, "/api/version", "").Body.String(), `"version"`)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/log/latest", "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/log/recent?n=5", "").Code)
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordElevation(t *testing.T) {
	before := testutil.ToFloat64(ElevationLookups.WithLabelValues("fallback"))
	RecordElevation("fallback")
	RecordElevation("fallback")
	assert.Equal(t, before+2, testutil.ToFloat64(ElevationLookups.WithLabelValues("fallback")))
}

func TestRecordAnalysis(t *testing.T) {
	before := testutil.ToFloat64(AnalysisRuns.WithLabelValues("station", "completed"))
	RecordAnalysis("station", "completed", 250*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(AnalysisRuns.WithLabelValues("station", "completed")))
}

func TestRecordLOS(t *testing.T) {
	clear := testutil.ToFloat64(LOSChecks.WithLabelValues("clear"))
	blocked := testutil.ToFloat64(LOSChecks.WithLabelValues("obstructed"))

	RecordLOS(true)
	RecordLOS(false)
	RecordLOS(false)

	assert.Equal(t, clear+1, testutil.ToFloat64(LOSChecks.WithLabelValues("clear")))
	assert.Equal(t, blocked+2, testutil.ToFloat64(LOSChecks.WithLabelValues("obstructed")))
}

func TestTrackAnalysis(t *testing.T) {
	TrackAnalysis(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(AnalysisInFlight))
	TrackAnalysis(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(AnalysisInFlight))
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/status", "200"))
	RecordAPIRequest("GET", "/api/status", "200", time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/status", "200")))
}

package battery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		name string
		s    Sample
		want Phase
	}{
		{"parked", Sample{Z: -1}, PhaseGround},
		{"taxiing slowly on ground", Sample{Vx: 0.5, Z: 0}, PhaseUnknown},
		{"cruise", Sample{Vx: 3, Vy: 1, Z: -30}, PhaseCruising},
		{"fast but low", Sample{Vx: 3, Z: -2, Vz: -1}, PhaseClimbing},
		{"cruise wins over descent", Sample{Vx: 5, Vz: 1, Z: -30}, PhaseCruising},
		{"descending", Sample{Vz: 0.5, Z: -30}, PhaseDescending},
		{"climbing", Sample{Vz: -0.5, Z: -3}, PhaseClimbing},
		{"hovering", Sample{Vz: 0.05, Vx: 1, Z: -10}, PhaseHovering},
		{"slow vertical drift", Sample{Vz: 0.1, Z: -10}, PhaseUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, th.Classify(tt.s))
		})
	}
}

func TestAnalyze_ConstantHover(t *testing.T) {
	var samples []Sample
	for i := 0; i <= 10; i++ {
		samples = append(samples, Sample{Time: float64(i), Z: -20, Current: 36})
	}

	rep, err := Analyze(samples, DefaultThresholds())
	require.NoError(t, err)

	assert.InDelta(t, 9.0, rep.TotalTime, 1e-9)
	assert.InDelta(t, 100.0, rep.TotalDraw, 1e-9)
	assert.InDelta(t, 100.0/9, rep.AvgDrawRate, 1e-9)
	assert.InDelta(t, 10.0, rep.AirborneAvgDrawRate, 1e-9)
	assert.Equal(t, 666.67, rep.DrawPerMinute)

	require.Equal(t, []Segment{{Phase: PhaseHovering, Start: 1, End: 10}}, rep.Segments)
	require.Len(t, rep.Phases, 1)
	p := rep.Phases[0]
	assert.Equal(t, PhaseHovering, p.Phase)
	assert.InDelta(t, 9.0, p.TotalTime, 1e-9)
	assert.InDelta(t, 90.0, p.TotalDraw, 1e-9)
	assert.InDelta(t, 10.0, p.AvgDrawRate, 1e-9)
	assert.InDelta(t, 100.0, p.DiffOfAvg, 1e-9)
	assert.InDelta(t, 100.0, p.PctTimeOfFlight, 1e-9)
}

// flight builds a 10 Hz log: ground, climb, cruise, a short hover and a descent.
func flight() []Sample {
	type leg struct {
		secs    float64
		vx, vz  float64
		current float64
	}
	legs := []leg{
		{3, 0, 0, 5},
		{5, 0, -4, 20},
		{10, 6, 0, 15},
		{0.5, 0, 0, 12},
		{5, 0, 4, 10},
	}

	var out []Sample
	var z float64
	i := 0
	for _, l := range legs {
		n := int(l.secs * 10)
		for k := 0; k < n; k++ {
			out = append(out, Sample{Time: float64(i) * 0.1, Vx: l.vx, Vz: l.vz, Z: z, Current: l.current, Voltage: 16.8})
			z += l.vz * 0.1
			i++
		}
	}
	return out
}

func TestAnalyze_Flight(t *testing.T) {
	rep, err := Analyze(flight(), DefaultThresholds())
	require.NoError(t, err)

	var phases []Phase
	for _, s := range rep.Segments {
		phases = append(phases, s.Phase)
		assert.Greater(t, s.End, s.Start)
	}
	assert.Equal(t, []Phase{PhaseGround, PhaseClimbing, PhaseCruising, PhaseDescending}, phases)

	names := make(map[Phase]PhaseStats)
	var pct float64
	for _, p := range rep.Phases {
		names[p.Phase] = p
		pct += p.PctTimeOfFlight
	}
	assert.NotContains(t, names, PhaseHovering)
	assert.InDelta(t, 100.0, pct, 5)

	// Climb draws more than the airborne average, descent less.
	assert.Greater(t, names[PhaseClimbing].DiffOfAvg, 100.0)
	assert.Less(t, names[PhaseDescending].DiffOfAvg, 100.0)
	assert.InDelta(t, 15.0/3.6, names[PhaseCruising].AvgDrawRate, 1e-6)
}

func TestAnalyze_Unsorted(t *testing.T) {
	s := flight()
	want, err := Analyze(s, DefaultThresholds())
	require.NoError(t, err)

	rev := make([]Sample, len(s))
	for i := range s {
		rev[len(s)-1-i] = s[i]
	}
	got, err := Analyze(rev, DefaultThresholds())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAnalyze_NotEnoughSamples(t *testing.T) {
	tests := []struct {
		name    string
		samples []Sample
	}{
		{"empty", nil},
		{"single", []Sample{{Time: 0}}},
		{"same timestamp", []Sample{{Time: 1}, {Time: 1}, {Time: 1}}},
		{"one interval", []Sample{{Time: 0}, {Time: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Analyze(tt.samples, DefaultThresholds())
			assert.ErrorIs(t, err, ErrNotEnoughSamples)
		})
	}
}

func TestReadCSV(t *testing.T) {
	in := "\ufefftimestamp,vx,vy,vz,z,voltage_v,current_a\n" +
		"2000000,0,0,0,0,16.8,5\n" +
		"1500000,0,0,0,0,16.8,5\n" +
		"2500000, 1.5,0,-0.5,-2,16.7,12.5\n"

	got, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.InDelta(t, 0.5, got[0].Time, 1e-9)
	assert.InDelta(t, 0.0, got[1].Time, 1e-9)
	assert.InDelta(t, 1.0, got[2].Time, 1e-9)
	assert.Equal(t, 1.5, got[2].Vx)
	assert.Equal(t, 12.5, got[2].Current)
	assert.Equal(t, 2.0, got[2].Altitude())
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"missing columns", "timestamp,vx,vy,vz,z\n1,0,0,0,0\n", "missing columns: current, voltage"},
		{"bad number", "timestamp,vx,vy,vz,z,voltage,current\n1,x,0,0,0,1,1\n", "line 2 column vx"},
		{"empty", "", "read header"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := ReadCSV(strings.NewReader("timestamp,vx,vy,vz,z,voltage,current\n"))
	assert.ErrorIs(t, err, ErrNotEnoughSamples)
}

// Package battery breaks a flight log into flight phases and reports the
// battery draw of each.
package battery

import (
	"errors"
	"math"
	"sort"
)

// Phase is a flight phase.
type Phase string

const (
	PhaseGround     Phase = "On the Ground"
	PhaseCruising   Phase = "Cruising"
	PhaseDescending Phase = "Descending"
	PhaseClimbing   Phase = "Climbing"
	PhaseHovering   Phase = "Hovering"
	PhaseUnknown    Phase = "Unknown"
)

// MinPhaseDuration is the shortest run of one phase kept as a segment.
const MinPhaseDuration = 1.0

var ErrNotEnoughSamples = errors.New("flight log needs at least two samples with increasing timestamps")

// Thresholds drive phase classification. Vertical speeds follow the NED
// convention: negative vz is climbing.
type Thresholds struct {
	GroundVel   float64 `yaml:"ground_vel" json:"groundVel"`
	CruiseVel   float64 `yaml:"cruise_vel" json:"cruiseVel"`
	AltitudeMin float64 `yaml:"altitude_min" json:"altitudeMin"`
	ClimbVz     float64 `yaml:"climb_vz" json:"climbVz"`
	DescendVz   float64 `yaml:"descend_vz" json:"descendVz"`
}

// DefaultThresholds returns the standard multirotor thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		GroundVel:   0.1,
		CruiseVel:   2.0,
		AltitudeMin: 5.0,
		ClimbVz:     -0.1,
		DescendVz:   0.1,
	}
}

// Sample is one merged telemetry row. Time is seconds since the first row;
// Z is the NED down position so altitude is -Z.
type Sample struct {
	Time    float64
	Vx      float64
	Vy      float64
	Vz      float64
	Z       float64
	Voltage float64
	Current float64
}

// Altitude returns the height above the local origin.
func (s Sample) Altitude() float64 { return -s.Z }

// HorizontalSpeed returns the ground speed.
func (s Sample) HorizontalSpeed() float64 { return math.Hypot(s.Vx, s.Vy) }

// Classify assigns a phase. Rules are tried in order and the first match wins.
func (t Thresholds) Classify(s Sample) Phase {
	alt, hv := s.Altitude(), s.HorizontalSpeed()
	switch {
	case math.Abs(s.Vz) < t.GroundVel && hv < t.GroundVel && alt < t.AltitudeMin:
		return PhaseGround
	case hv > t.CruiseVel && alt >= t.AltitudeMin:
		return PhaseCruising
	case s.Vz > t.DescendVz:
		return PhaseDescending
	case s.Vz < t.ClimbVz:
		return PhaseClimbing
	case math.Abs(s.Vz) < t.GroundVel && alt >= t.AltitudeMin:
		return PhaseHovering
	}
	return PhaseUnknown
}

// Segment is a consolidated run of one phase, [Start, End) in seconds.
type Segment struct {
	Phase Phase   `json:"phase"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// PhaseStats is the draw summary of one phase across all its segments.
type PhaseStats struct {
	Phase     Phase   `json:"phase"`
	TotalTime float64 `json:"totalTimeS"`
	TotalDraw float64 `json:"totalDrawMah"`
	// AvgDrawRate is the mean of the per-segment draw rates in mAh/s.
	AvgDrawRate float64 `json:"avgDrawRateMahS"`
	// DiffOfAvg is AvgDrawRate relative to the airborne average, in percent.
	DiffOfAvg       float64 `json:"diffOfAvgPct"`
	PctTimeOfFlight float64 `json:"pctTimeOfFlight"`
}

// Report is the result of Analyze.
type Report struct {
	Phases              []PhaseStats `json:"phases"`
	Segments            []Segment    `json:"segments"`
	TotalTime           float64      `json:"totalTimeS"`
	TotalDraw           float64      `json:"totalDrawMah"`
	DrawPerMinute       float64      `json:"totalDrawPerMinuteMah"`
	AvgDrawRate         float64      `json:"avgDrawRateMahS"`
	AirborneAvgDrawRate float64      `json:"airborneAvgDrawRateMahS"`
}

type row struct {
	Sample
	dt    float64
	phase Phase
	mAh   float64
}

// Analyze classifies samples, consolidates phases lasting at least
// MinPhaseDuration and computes the draw per phase. Samples need not be
// sorted; rows that do not advance time are dropped.
func Analyze(samples []Sample, th Thresholds) (*Report, error) {
	rows := prepare(samples, th)
	if len(rows) < 2 {
		return nil, ErrNotEnoughSamples
	}

	totalTime := rows[len(rows)-1].Time - rows[0].Time
	if totalTime <= 0 {
		return nil, ErrNotEnoughSamples
	}

	var totalDraw, airDraw, airTime float64
	for _, r := range rows {
		totalDraw += r.mAh
		if r.phase != PhaseGround {
			airDraw += r.mAh
			airTime += r.dt
		}
	}

	rep := &Report{
		Segments:      consolidate(rows, MinPhaseDuration),
		TotalTime:     totalTime,
		TotalDraw:     totalDraw,
		DrawPerMinute: math.Round(totalDraw/(totalTime/60)*100) / 100,
		AvgDrawRate:   totalDraw / totalTime,
	}
	if airTime > 0 {
		rep.AirborneAvgDrawRate = airDraw / airTime
	}
	rep.Phases = phaseStats(rows, rep.Segments, totalTime, rep.AirborneAvgDrawRate)
	return rep, nil
}

func prepare(samples []Sample, th Thresholds) []row {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	rows := make([]row, 0, len(sorted))
	for i := 1; i < len(sorted); i++ {
		dt := sorted[i].Time - sorted[i-1].Time
		if dt <= 0 {
			continue
		}
		s := sorted[i]
		rows = append(rows, row{
			Sample: s,
			dt:     dt,
			phase:  th.Classify(s),
			mAh:    s.Current * dt / 3.6,
		})
	}
	return rows
}

// consolidate groups consecutive rows of the same phase and keeps groups
// whose accumulated time reaches minDuration.
func consolidate(rows []row, minDuration float64) []Segment {
	var out []Segment
	cur := rows[0].phase
	start := rows[0].Time
	var acc float64

	for _, r := range rows {
		if r.phase == cur {
			acc += r.dt
			continue
		}
		if acc >= minDuration {
			out = append(out, Segment{Phase: cur, Start: start, End: r.Time})
		}
		cur, start, acc = r.phase, r.Time, r.dt
	}
	if acc >= minDuration {
		out = append(out, Segment{Phase: cur, Start: start, End: rows[len(rows)-1].Time})
	}
	return out
}

func phaseStats(rows []row, segs []Segment, totalTime, airRate float64) []PhaseStats {
	type acc struct {
		PhaseStats
		rates []float64
		diffs []float64
	}
	byPhase := make(map[Phase]*acc)

	for _, seg := range segs {
		dur := seg.End - seg.Start
		if dur <= 0 {
			continue
		}
		var draw float64
		for _, r := range rows {
			if r.Time >= seg.Start && r.Time < seg.End {
				draw += r.mAh
			}
		}
		rate := draw / dur
		var diff float64
		if airRate > 0 {
			diff = rate / airRate * 100
		}

		a, ok := byPhase[seg.Phase]
		if !ok {
			a = &acc{PhaseStats: PhaseStats{Phase: seg.Phase}}
			byPhase[seg.Phase] = a
		}
		a.TotalTime += dur
		a.TotalDraw += draw
		a.PctTimeOfFlight += dur / totalTime * 100
		a.rates = append(a.rates, rate)
		a.diffs = append(a.diffs, diff)
	}

	out := make([]PhaseStats, 0, len(byPhase))
	for _, a := range byPhase {
		a.AvgDrawRate = mean(a.rates)
		a.DiffOfAvg = mean(a.diffs)
		out = append(out, a.PhaseStats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phase < out[j].Phase })
	return out
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

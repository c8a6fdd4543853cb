package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatLogLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "drops long values and sorts params",
			input: `time=2026-01-18T06:50:46.074+01:00 level=INFO msg="Analysis complete" cells="1613 " type=station run_id=6f1c2a9e-58b4-4a43-9d1e-0c2f3b8e7a11 visible=1200`,
			want:  "06:50:46 Analysis complete (cells=1613, type=station, visible=1200)",
		},
		{
			name:  "no params",
			input: `time=2026-01-18T06:50:46Z level=WARN msg="Terrain elevation unavailable"`,
			want:  "06:50:46 Terrain elevation unavailable",
		},
		{
			name:  "not structured",
			input: "plain text line",
			want:  "plain text line",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatLogLine(tt.input))
		})
	}
}

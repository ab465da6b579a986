package cmd

import (
	"strings"
	"testing"
)

func TestValidatePipeline(t *testing.T) {
	tests := []struct {
		pipeline string
		wantErr  bool
	}{
		{"", false},
		{"r", false},
		{"rp", false},
		{"RP", false},
		{"rmp", true},
		{"x", true},
	}

	for _, tt := range tests {
		t.Run(tt.pipeline, func(t *testing.T) {
			old := pipeline
			pipeline = tt.pipeline
			defer func() { pipeline = old }()

			err := validatePipeline()
			if (err != nil) != tt.wantErr {
				t.Errorf("validatePipeline(%q) error = %v, wantErr %v", tt.pipeline, err, tt.wantErr)
			}
		})
	}
}

func TestRenderLevelBar(t *testing.T) {
	tests := []struct {
		level  float64
		filled int
	}{
		{0, 0},
		{0.5, 15},
		{1, levelBarWidth},
		{1.7, levelBarWidth},
		{-0.2, 0},
	}

	for _, tt := range tests {
		bar := renderLevelBar(tt.level, "00:07")
		if got := strings.Count(bar, "#"); got != tt.filled {
			t.Errorf("renderLevelBar(%v) filled %d cells, want %d", tt.level, got, tt.filled)
		}
		if got := strings.Count(bar, "#") + strings.Count(bar, "-"); got != levelBarWidth {
			t.Errorf("renderLevelBar(%v) width %d, want %d", tt.level, got, levelBarWidth)
		}
		if !strings.HasSuffix(bar, "] 00:07") {
			t.Errorf("renderLevelBar(%v) = %q, missing elapsed clock", tt.level, bar)
		}
	}
}

package control

import (
	"math"
	"testing"

	"plasticpilot/pkg/config"
)

func TestClassifyTiers(t *testing.T) {
	c := NewSpeedClassifier(config.DefaultTuning())

	tests := []struct {
		name string
		m    float64
		want Tier
	}{
		{"center", 0, TierPrecision},
		{"light touch", 0.2, TierPrecision},
		{"just below walk", 0.3999, TierPrecision},
		{"walk boundary", 0.40, TierWalking},
		{"mid walk", 0.6, TierWalking},
		{"run boundary", 0.75, TierRunning},
		{"full deflection", 1.0, TierRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier, _ := c.Classify(tt.m)
			if tier != tt.want {
				t.Errorf("Classify(%v) tier = %s, want %s", tt.m, tier, tt.want)
			}
		})
	}
}

func TestClassifyFeedrateEndpoints(t *testing.T) {
	c := NewSpeedClassifier(config.DefaultTuning())

	if _, f := c.Classify(0); f != 0 {
		t.Errorf("feedrate at rest = %v, want 0", f)
	}
	if _, f := c.Classify(1.0); math.Abs(f-3000) > 1e-9 {
		t.Errorf("feedrate at full deflection = %v, want 3000", f)
	}
	// Diagonal deflection can exceed unit magnitude; it saturates.
	if _, f := c.Classify(math.Sqrt2); math.Abs(f-3000) > 1e-9 {
		t.Errorf("feedrate past full deflection = %v, want saturation at 3000", f)
	}
}

func TestClassifyFeedrateContinuousAtBoundaries(t *testing.T) {
	c := NewSpeedClassifier(config.DefaultTuning())

	const eps = 1e-7
	for _, boundary := range []float64{0.40, 0.75} {
		_, below := c.Classify(boundary - eps)
		_, at := c.Classify(boundary)
		if math.Abs(at-below) > 0.01 {
			t.Errorf("feedrate steps at %v: %v below vs %v at",
				boundary, below, at)
		}
	}
}

func TestClassifyFeedrateMonotonic(t *testing.T) {
	c := NewSpeedClassifier(config.DefaultTuning())

	prev := -1.0
	for m := 0.0; m <= 1.0; m += 0.01 {
		_, f := c.Classify(m)
		if f < prev {
			t.Fatalf("feedrate decreased at m=%v: %v -> %v", m, prev, f)
		}
		prev = f
	}
}

func TestClassifyWalkingInterpolation(t *testing.T) {
	cfg := config.DefaultTuning()
	cfg.BaseSpeed = 3000
	cfg.WalkThreshold = 0.3
	cfg.RunThreshold = 0.7
	cfg.WalkSpeedMultiplier = 0.2
	cfg.RunSpeedMultiplier = 0.5
	cfg.MaxSpeedMultiplier = 1.0
	c := NewSpeedClassifier(cfg)

	tier, f := c.Classify(0.5)
	if tier != TierWalking {
		t.Fatalf("tier = %s, want walking", tier)
	}
	if math.Abs(f-1050) > 1e-9 {
		t.Errorf("feedrate = %v, want 1050", f)
	}
	// Halfway through the band sits strictly between the band edges,
	// never pinned to either.
	walkCeiling := 3000 * 0.2
	runFloor := 3000 * 0.5
	if f <= walkCeiling || f >= runFloor {
		t.Errorf("feedrate %v must lie strictly within (%v, %v)",
			f, walkCeiling, runFloor)
	}
}

func TestClassifyPrecisionScalesFromZero(t *testing.T) {
	c := NewSpeedClassifier(config.DefaultTuning())

	// Precision ramps linearly from 0 to baseSpeed*walkMult across
	// [0, walkThreshold): half the band gives half the ceiling.
	_, f := c.Classify(0.20)
	if math.Abs(f-600) > 1e-9 {
		t.Errorf("feedrate at half precision band = %v, want 600", f)
	}
}

func TestTierString(t *testing.T) {
	if TierPrecision.String() != "precision" ||
		TierWalking.String() != "walking" ||
		TierRunning.String() != "running" {
		t.Error("tier names must be stable, they feed the speed tier gauge")
	}
}

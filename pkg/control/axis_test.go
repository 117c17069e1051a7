package control

import (
	"math"
	"testing"
)

func TestAxisMapperDeadzoneClampsToZero(t *testing.T) {
	m := NewAxisMapper(0.10, 0)

	tests := []struct {
		name string
		raw  float64
	}{
		{"center", 0},
		{"small positive", 0.05},
		{"small negative", -0.05},
		{"just inside", 0.0999},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Map(0, tt.raw); got != 0 {
				t.Errorf("Map(0, %v) = %v, want exactly 0", tt.raw, got)
			}
		})
	}
}

func TestAxisMapperRescaleContinuity(t *testing.T) {
	// With smoothing off, the output just above the deadzone boundary
	// must be arbitrarily small, not a step to the raw value.
	m := NewAxisMapper(0.10, 0)

	at := m.Map(0, 0.10)
	if at != 0 {
		t.Errorf("boundary value must map to 0, got %v", at)
	}
	above := m.Map(0, 0.10+1e-6)
	if above <= 0 || above > 1e-4 {
		t.Errorf("just above boundary must be tiny positive, got %v", above)
	}
}

func TestAxisMapperFullDeflection(t *testing.T) {
	m := NewAxisMapper(0.10, 0)

	if got := m.Map(0, 1.0); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("full deflection = %v, want 1.0", got)
	}
	if got := m.Map(0, -1.0); math.Abs(got+1.0) > 1e-9 {
		t.Errorf("full negative deflection = %v, want -1.0", got)
	}
	// Out-of-range hardware values clamp rather than overshoot.
	if got := m.Map(0, 1.7); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("overshoot = %v, want clamp to 1.0", got)
	}
}

func TestAxisMapperZeroDeadzoneIdentity(t *testing.T) {
	m := NewAxisMapper(0, 0)

	for _, raw := range []float64{-1, -0.37, 0, 0.5, 1} {
		if got := m.Map(0, raw); math.Abs(got-raw) > 1e-9 {
			t.Errorf("Map(0, %v) = %v, want identity", raw, got)
		}
	}
}

func TestAxisMapperSmoothingBlendsPrevious(t *testing.T) {
	m := NewAxisMapper(0, 0.5)

	// smoothed = prev*0.5 + raw*0.5
	if got := m.Map(1.0, 0); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Map(1, 0) = %v, want 0.5", got)
	}
	if got := m.Map(0, 1.0); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Map(0, 1) = %v, want 0.5", got)
	}
	if got := m.Map(0.5, 1.0); math.Abs(got-0.75) > 1e-9 {
		t.Errorf("Map(0.5, 1) = %v, want 0.75", got)
	}
}

func TestAxisMapperReleasedStickSettlesToZero(t *testing.T) {
	m := NewAxisMapper(0.10, 0.20)

	// Deflect fully, then release. The decay must reach exactly zero
	// within a bounded number of cycles, not approach it forever.
	v := m.Map(0, 1.0)
	if v == 0 {
		t.Fatal("deflected stick must not read zero")
	}
	for i := 0; i < 50; i++ {
		next := m.Map(v, 0)
		if math.Abs(next) > math.Abs(v) {
			t.Fatalf("cycle %d: decay must be monotonic, %v -> %v", i, v, next)
		}
		v = next
		if v == 0 {
			return
		}
	}
	t.Errorf("released stick never settled to exactly zero, still %v", v)
}

func TestAxisMapperSnapOnlyInsideDeadzone(t *testing.T) {
	m := NewAxisMapper(0.10, 0.20)

	// A live input just above the deadzone must survive even when the
	// smoothed value is below the settle threshold.
	got := m.Map(0, 0.10001)
	if got == 0 {
		t.Error("live above-deadzone input must not snap to zero")
	}
}

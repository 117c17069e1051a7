package control

import "math"

// snapEpsilon is the magnitude below which a decaying smoothed value is
// treated as settled. Without the snap the exponential average only
// approaches zero asymptotically and a released stick would command
// microscopic drift forever.
const snapEpsilon = 1e-4

// AxisMapper converts raw stick samples into velocity fractions:
// deadzone clamp, linear rescale of the remaining range, then an
// exponential moving average. The mapper itself is stateless; the
// recursive smoothing term lives in LoopState and is threaded through
// Map by the session driver.
type AxisMapper struct {
	deadzone  float64
	smoothing float64
}

// NewAxisMapper builds a mapper. deadzone is the displacement fraction
// below which input reads as zero; smoothing is the fraction of the
// previous value retained each cycle. Both are validated at the
// settings boundary (deadzone in [0,0.99], smoothing in [0,0.95]).
func NewAxisMapper(deadzone, smoothing float64) *AxisMapper {
	return &AxisMapper{deadzone: deadzone, smoothing: smoothing}
}

// Map folds one raw axis sample into the running smoothed value and
// returns the new value, clamped to [-1, 1]. An input inside the
// deadzone decays the previous value toward zero and snaps to exactly
// zero once it falls below snapEpsilon.
func (m *AxisMapper) Map(prev, raw float64) float64 {
	scaled := m.rescale(raw)
	smoothed := prev*m.smoothing + scaled*(1-m.smoothing)
	if scaled == 0 && math.Abs(smoothed) < snapEpsilon {
		smoothed = 0
	}
	return clamp(smoothed, -1, 1)
}

// rescale applies the deadzone clamp and maps the remaining range
// linearly so the deadzone boundary reads 0 and full deflection stays
// ±1. A zero deadzone makes this the identity.
func (m *AxisMapper) rescale(raw float64) float64 {
	mag := math.Abs(raw)
	if mag < m.deadzone {
		return 0
	}
	if mag > 1 {
		mag = 1
	}
	scaled := (mag - m.deadzone) / (1 - m.deadzone)
	if raw < 0 {
		return -scaled
	}
	return scaled
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

package control

import "plasticpilot/pkg/config"

// Tier is the speed class selected by stick displacement magnitude.
type Tier int

const (
	TierPrecision Tier = iota
	TierWalking
	TierRunning
)

func (t Tier) String() string {
	switch t {
	case TierPrecision:
		return "precision"
	case TierWalking:
		return "walking"
	case TierRunning:
		return "running"
	default:
		return "unknown"
	}
}

// SpeedClassifier maps a stick magnitude to a tier and a feedrate.
// The feedrate is piecewise linear and continuous across the tier
// boundaries: a step there is exactly the jankiness this exists to
// remove.
type SpeedClassifier struct {
	baseSpeed float64
	walkAt    float64
	runAt     float64
	walkMult  float64
	runMult   float64
	maxMult   float64
}

// NewSpeedClassifier builds a classifier from a tuning snapshot. The
// snapshot's threshold ordering and multiplier monotonicity are
// already validated, which is what makes the feedrate function
// monotonically non-decreasing.
func NewSpeedClassifier(t *config.TuningConfig) *SpeedClassifier {
	return &SpeedClassifier{
		baseSpeed: t.BaseSpeed,
		walkAt:    t.WalkThreshold,
		runAt:     t.RunThreshold,
		walkMult:  t.WalkSpeedMultiplier,
		runMult:   t.RunSpeedMultiplier,
		maxMult:   t.MaxSpeedMultiplier,
	}
}

// Classify returns the tier and feedrate (mm/min) for magnitude m.
// Precision scales from 0 up to the walk ceiling; Walking and Running
// interpolate within their bands, saturating at baseSpeed*maxMult at
// full deflection.
func (c *SpeedClassifier) Classify(m float64) (Tier, float64) {
	m = clamp(m, 0, 1)
	switch {
	case m < c.walkAt:
		return TierPrecision, c.baseSpeed * c.walkMult * (m / c.walkAt)
	case m < c.runAt:
		span := (m - c.walkAt) / (c.runAt - c.walkAt)
		return TierWalking, c.baseSpeed * (c.walkMult + (c.runMult-c.walkMult)*span)
	default:
		span := (m - c.runAt) / (1 - c.runAt)
		return TierRunning, c.baseSpeed * (c.runMult + (c.maxMult-c.runMult)*span)
	}
}

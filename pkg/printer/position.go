package printer

import (
	"math"
	"time"
)

// PositionTracker integrates commanded velocity into an absolute head
// position clamped to the printable area. It is owned by a single
// session goroutine and is not safe for concurrent use.
type PositionTracker struct {
	x, y        float64
	maxX, maxY  float64
	minMovement float64
}

// NewPositionTracker returns a tracker at the origin.
func NewPositionTracker(maxX, maxY, minMovement float64) *PositionTracker {
	return &PositionTracker{maxX: maxX, maxY: maxY, minMovement: minMovement}
}

// Position returns the current tracked position.
func (t *PositionTracker) Position() (float64, float64) {
	return t.x, t.y
}

// Reset moves the tracked position back to the origin, matching a
// completed home.
func (t *PositionTracker) Reset() {
	t.x, t.y = 0, 0
}

// SetLimits updates the printable area and clamps the tracked position
// into it.
func (t *PositionTracker) SetLimits(maxX, maxY float64) {
	t.maxX, t.maxY = maxX, maxY
	t.x = clamp(t.x, 0, maxX)
	t.y = clamp(t.y, 0, maxY)
}

// SetMinMovement updates the minimum per-command travel distance.
func (t *PositionTracker) SetMinMovement(v float64) {
	t.minMovement = v
}

// Advance integrates the velocity fractions vx/vy at the given base
// feedrate (mm/min) over dt and commits the clamped target. ok is
// false when the resulting move is shorter than the minimum movement;
// the position does not change in that case.
func (t *PositionTracker) Advance(vx, vy, baseFeedrate float64, dt time.Duration) (x, y float64, ok bool) {
	seconds := dt.Seconds()
	tx := clamp(t.x+vx*(baseFeedrate/60)*seconds, 0, t.maxX)
	ty := clamp(t.y+vy*(baseFeedrate/60)*seconds, 0, t.maxY)

	if math.Hypot(tx-t.x, ty-t.y) < t.minMovement {
		return t.x, t.y, false
	}

	t.x, t.y = tx, ty
	return tx, ty, true
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

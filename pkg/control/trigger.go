package control

import (
	"plasticpilot/pkg/config"
	perrors "plasticpilot/pkg/errors"
	"plasticpilot/pkg/log"
)

// TriggerMapper converts trigger pressure into a signed filament
// length and its feedrate. The right trigger extrudes, the left
// retracts; pressure scales the configured base amount so a light
// press feeds a short length.
type TriggerMapper struct {
	deadzone      float64
	extrudeAmount float64
	retractAmount float64
	retractSpeed  float64
	log           *log.Logger
}

// NewTriggerMapper builds a mapper from a tuning snapshot. The trigger
// dead-threshold is the same fraction the axis deadzone uses.
func NewTriggerMapper(t *config.TuningConfig, logger *log.Logger) *TriggerMapper {
	return &TriggerMapper{
		deadzone:      t.DeadzoneThreshold,
		extrudeAmount: t.ExtrusionAmount,
		retractAmount: t.RetractionAmount,
		retractSpeed:  t.RetractionSpeed,
		log:           logger,
	}
}

// Map returns the filament length (mm, negative for retraction) and
// feedrate (mm/s) for one cycle's trigger pressures. extrudeSpeed is
// the session's current bumper-adjusted extrusion feedrate. Both
// triggers active at once is ambiguous and suppresses output; a zero
// return length means no extrusion intent this cycle.
func (t *TriggerMapper) Map(left, right, extrudeSpeed float64) (float64, float64) {
	leftActive := left > t.deadzone
	rightActive := right > t.deadzone
	switch {
	case leftActive && rightActive:
		t.log.WithError(perrors.AmbiguousInputError(left, right)).Debug("extrusion suppressed")
		return 0, 0
	case rightActive:
		return t.extrudeAmount * right, extrudeSpeed
	case leftActive:
		return -t.retractAmount * left, t.retractSpeed
	default:
		return 0, 0
	}
}

// Package gamepad reads USB game controllers through the kernel
// joystick interface and converts raw device state into normalized
// per-cycle samples.
package gamepad

import "github.com/0xcafed00d/joystick"

// Axis indices under the standard Linux gamepad mapping (xpad and
// compatible drivers).
const (
	axisLeftX        = 0
	axisLeftTrigger  = 2
	axisRightY       = 4
	axisRightTrigger = 5
)

// Button bit positions in the joystick state bitmask.
const (
	buttonA  = 1 << 0
	buttonB  = 1 << 1
	buttonX  = 1 << 2
	buttonY  = 1 << 3
	buttonLB = 1 << 4
	buttonRB = 1 << 5
)

// axisMax is the extreme magnitude the joystick interface reports.
const axisMax = 32767.0

// MaxControllers is the highest device id probed during a scan.
const MaxControllers = 8

// ControllerSample is a snapshot of raw device state for one poll cycle.
type ControllerSample struct {
	// Stick axes, normalized to [-1, 1]. AxisX is the left stick,
	// AxisY the right stick with its sign inverted at capture so that
	// pushing the stick forward reads positive.
	AxisX float64
	AxisY float64

	// Trigger pressure, normalized to [0, 1].
	LeftTrigger  float64
	RightTrigger float64

	// Mapped button states.
	ButtonA     bool
	ButtonB     bool
	ButtonX     bool
	ButtonY     bool
	LeftBumper  bool
	RightBumper bool
}

// DeviceInfo describes one attached controller.
type DeviceInfo struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Axes    int    `json:"axes"`
	Buttons int    `json:"buttons"`
}

// Device is an open controller that can be sampled. A Sample failure
// means the device disconnected.
type Device interface {
	Info() DeviceInfo
	Sample() (ControllerSample, error)
	Close() error
}

// Enumerator lists attached controllers and opens them by id.
type Enumerator interface {
	List() []DeviceInfo
	Open(id int) (Device, error)
}

// sampleFromState converts one raw joystick state into a normalized
// sample. Axes the device does not report read as neutral.
func sampleFromState(state joystick.State) ControllerSample {
	return ControllerSample{
		AxisX:        stickValue(state, axisLeftX),
		AxisY:        -stickValue(state, axisRightY),
		LeftTrigger:  triggerValue(state, axisLeftTrigger),
		RightTrigger: triggerValue(state, axisRightTrigger),
		ButtonA:      state.Buttons&buttonA != 0,
		ButtonB:      state.Buttons&buttonB != 0,
		ButtonX:      state.Buttons&buttonX != 0,
		ButtonY:      state.Buttons&buttonY != 0,
		LeftBumper:   state.Buttons&buttonLB != 0,
		RightBumper:  state.Buttons&buttonRB != 0,
	}
}

// stickValue normalizes a signed stick axis to [-1, 1].
func stickValue(state joystick.State, axis int) float64 {
	if axis >= len(state.AxisData) {
		return 0
	}
	v := float64(state.AxisData[axis]) / axisMax
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// triggerValue normalizes a trigger axis to [0, 1]. The joystick
// interface reports an idle trigger as -32767 and a fully pulled one
// as +32767.
func triggerValue(state joystick.State, axis int) float64 {
	if axis >= len(state.AxisData) {
		return 0
	}
	v := (float64(state.AxisData[axis]) + axisMax) / (2 * axisMax)
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

package gamepad

import (
	"strconv"

	"github.com/0xcafed00d/joystick"

	perrors "plasticpilot/pkg/errors"
)

// SystemEnumerator probes the kernel joystick interface for attached
// controllers.
type SystemEnumerator struct{}

// NewEnumerator returns an enumerator backed by the kernel joystick
// interface.
func NewEnumerator() *SystemEnumerator {
	return &SystemEnumerator{}
}

// List scans device ids 0 through MaxControllers-1 by opening and
// closing each one. Ids that fail to open are simply absent.
func (e *SystemEnumerator) List() []DeviceInfo {
	var infos []DeviceInfo
	for id := 0; id < MaxControllers; id++ {
		js, err := joystick.Open(id)
		if err != nil {
			continue
		}
		infos = append(infos, DeviceInfo{
			ID:      id,
			Name:    js.Name(),
			Axes:    js.AxisCount(),
			Buttons: js.ButtonCount(),
		})
		js.Close()
	}
	return infos
}

// Open opens the controller with the given id for sampling.
func (e *SystemEnumerator) Open(id int) (Device, error) {
	js, err := joystick.Open(id)
	if err != nil {
		return nil, perrors.DeviceUnavailableError(strconv.Itoa(id), err)
	}
	return newJSDevice(js, id), nil
}

// jsDevice wraps an open joystick handle.
type jsDevice struct {
	js   joystick.Joystick
	info DeviceInfo
}

func newJSDevice(js joystick.Joystick, id int) *jsDevice {
	return &jsDevice{
		js: js,
		info: DeviceInfo{
			ID:      id,
			Name:    js.Name(),
			Axes:    js.AxisCount(),
			Buttons: js.ButtonCount(),
		},
	}
}

func (d *jsDevice) Info() DeviceInfo {
	return d.info
}

func (d *jsDevice) Sample() (ControllerSample, error) {
	state, err := d.js.Read()
	if err != nil {
		return ControllerSample{}, perrors.DeviceDisconnectedError(d.info.Name, err)
	}
	return sampleFromState(state), nil
}

func (d *jsDevice) Close() error {
	d.js.Close()
	return nil
}

// Controller sampling tests.
//
// These tests drive the sample conversion and device wrapper through a
// stub joystick; nothing here touches /dev/input.
//
// Copyright (C) 2025 Go port

package gamepad

import (
	"errors"
	"testing"

	"github.com/0xcafed00d/joystick"

	perrors "plasticpilot/pkg/errors"
)

func TestSampleFromStateFullDeflection(t *testing.T) {
	state := joystick.State{
		AxisData: []int{32767, 0, 32767, 0, -32767, 32767},
	}
	s := sampleFromState(state)

	if s.AxisX != 1.0 {
		t.Errorf("Expected AxisX 1.0, got %v", s.AxisX)
	}
	// Raw -32767 on the right stick means pushed forward; the sample
	// inverts it to +1.
	if s.AxisY != 1.0 {
		t.Errorf("Expected AxisY 1.0, got %v", s.AxisY)
	}
	if s.LeftTrigger != 1.0 {
		t.Errorf("Expected LeftTrigger 1.0, got %v", s.LeftTrigger)
	}
	if s.RightTrigger != 1.0 {
		t.Errorf("Expected RightTrigger 1.0, got %v", s.RightTrigger)
	}
}

func TestSampleFromStateNeutral(t *testing.T) {
	// Idle controllers report sticks at 0 and triggers at -32767.
	state := joystick.State{
		AxisData: []int{0, 0, -32767, 0, 0, -32767},
	}
	s := sampleFromState(state)

	if s.AxisX != 0 || s.AxisY != 0 {
		t.Errorf("Expected neutral sticks, got X=%v Y=%v", s.AxisX, s.AxisY)
	}
	if s.LeftTrigger != 0 {
		t.Errorf("Expected idle left trigger 0, got %v", s.LeftTrigger)
	}
	if s.RightTrigger != 0 {
		t.Errorf("Expected idle right trigger 0, got %v", s.RightTrigger)
	}
}

func TestSampleFromStateMissingAxes(t *testing.T) {
	// A device with only two axes reports neutral for everything else.
	state := joystick.State{AxisData: []int{16384, 0}}
	s := sampleFromState(state)

	if s.AxisX <= 0.49 || s.AxisX >= 0.51 {
		t.Errorf("Expected AxisX near 0.5, got %v", s.AxisX)
	}
	if s.AxisY != 0 {
		t.Errorf("Expected AxisY 0 for missing axis, got %v", s.AxisY)
	}
	if s.LeftTrigger != 0 || s.RightTrigger != 0 {
		t.Errorf("Expected idle triggers for missing axes, got L=%v R=%v",
			s.LeftTrigger, s.RightTrigger)
	}
}

func TestSampleFromStateButtons(t *testing.T) {
	state := joystick.State{
		Buttons: buttonA | buttonY | buttonRB,
	}
	s := sampleFromState(state)

	if !s.ButtonA || !s.ButtonY || !s.RightBumper {
		t.Error("Expected A, Y and right bumper pressed")
	}
	if s.ButtonB || s.ButtonX || s.LeftBumper {
		t.Error("Expected B, X and left bumper released")
	}
}

func TestStickValueClamp(t *testing.T) {
	// -32768 is one count beyond the nominal range and must clamp.
	state := joystick.State{AxisData: []int{-32768}}
	if v := stickValue(state, 0); v != -1.0 {
		t.Errorf("Expected clamped -1.0, got %v", v)
	}
}

func TestTriggerValueMidpoint(t *testing.T) {
	state := joystick.State{AxisData: []int{0, 0, 0}}
	if v := triggerValue(state, axisLeftTrigger); v != 0.5 {
		t.Errorf("Expected half pressure 0.5, got %v", v)
	}
}

// stubJoystick implements joystick.Joystick for tests.
type stubJoystick struct {
	name    string
	state   joystick.State
	readErr error
	closed  bool
}

func (s *stubJoystick) AxisCount() int   { return len(s.state.AxisData) }
func (s *stubJoystick) ButtonCount() int { return 11 }
func (s *stubJoystick) Name() string     { return s.name }
func (s *stubJoystick) Close()           { s.closed = true }

func (s *stubJoystick) Read() (joystick.State, error) {
	if s.readErr != nil {
		return joystick.State{}, s.readErr
	}
	return s.state, nil
}

func TestDeviceSample(t *testing.T) {
	stub := &stubJoystick{
		name: "Xbox Wireless Controller",
		state: joystick.State{
			AxisData: []int{32767, 0, -32767, 0, 0, -32767},
			Buttons:  buttonB,
		},
	}
	dev := newJSDevice(stub, 3)

	info := dev.Info()
	if info.ID != 3 {
		t.Errorf("Expected device id 3, got %d", info.ID)
	}
	if info.Name != "Xbox Wireless Controller" {
		t.Errorf("Unexpected device name %q", info.Name)
	}
	if info.Axes != 6 {
		t.Errorf("Expected 6 axes, got %d", info.Axes)
	}

	s, err := dev.Sample()
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if s.AxisX != 1.0 {
		t.Errorf("Expected AxisX 1.0, got %v", s.AxisX)
	}
	if !s.ButtonB {
		t.Error("Expected button B pressed")
	}

	if err := dev.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if !stub.closed {
		t.Error("Expected underlying joystick closed")
	}
}

func TestDeviceSampleDisconnected(t *testing.T) {
	stub := &stubJoystick{
		name:    "Xbox Wireless Controller",
		readErr: errors.New("read /dev/input/js0: no such device"),
	}
	dev := newJSDevice(stub, 0)

	_, err := dev.Sample()
	if err == nil {
		t.Fatal("Expected error from disconnected device")
	}
	if !perrors.Is(err, perrors.ErrDeviceDisconnected) {
		t.Errorf("Expected ErrDeviceDisconnected, got %v", err)
	}
}

func TestEnumeratorOpenMissing(t *testing.T) {
	e := NewEnumerator()
	_, err := e.Open(9999)
	if err == nil {
		t.Fatal("Expected error opening missing controller id")
	}
	if !perrors.Is(err, perrors.ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestEnumeratorList(t *testing.T) {
	// The scan must not fail on machines with no controllers attached.
	infos := NewEnumerator().List()
	for _, info := range infos {
		if info.ID < 0 || info.ID >= MaxControllers {
			t.Errorf("Listed id %d outside probe range", info.ID)
		}
		if info.Name == "" {
			t.Errorf("Listed controller %d has empty name", info.ID)
		}
	}
}

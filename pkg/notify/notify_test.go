package notify

import (
	"testing"

	"plasticpilot/pkg/gamepad"
)

type captureNotifier struct {
	statuses    []StatusPayload
	controllers []ControllersPayload
	settings    []SettingsPayload
}

func (c *captureNotifier) PushStatus(p StatusPayload)           { c.statuses = append(c.statuses, p) }
func (c *captureNotifier) PushControllers(p ControllersPayload) { c.controllers = append(c.controllers, p) }
func (c *captureNotifier) PushSettings(p SettingsPayload)       { c.settings = append(c.settings, p) }

func TestStatusPayload(t *testing.T) {
	id := 3
	p := Status("active", true, &id, "")
	if p.Type != TypeStatus {
		t.Errorf("type = %q, want %q", p.Type, TypeStatus)
	}
	if !p.Active || p.State != "active" {
		t.Errorf("unexpected payload: %+v", p)
	}
	if p.ControllerID == nil || *p.ControllerID != 3 {
		t.Errorf("controller id not carried: %+v", p.ControllerID)
	}

	p = Status("inactive", false, nil, "device vanished")
	if p.ControllerID != nil {
		t.Errorf("expected nil controller id, got %v", *p.ControllerID)
	}
	if p.Error != "device vanished" {
		t.Errorf("error = %q", p.Error)
	}
}

func TestControllerListPayload(t *testing.T) {
	devices := []gamepad.DeviceInfo{{ID: 0, Name: "pad"}}
	p := ControllerList(devices)
	if p.Type != TypeControllers {
		t.Errorf("type = %q, want %q", p.Type, TypeControllers)
	}
	if len(p.Controllers) != 1 || p.Controllers[0].Name != "pad" {
		t.Errorf("unexpected list: %+v", p.Controllers)
	}
}

func TestMuxFanOut(t *testing.T) {
	a := &captureNotifier{}
	b := &captureNotifier{}
	mux := NewMux(a)
	mux.Register(b)

	mux.PushStatus(Status("activating", false, nil, ""))
	mux.PushControllers(ControllerList(nil))
	mux.PushSettings(Settings(map[string]map[string]string{
		"controls": {"base_speed": "3000"},
	}))

	for i, c := range []*captureNotifier{a, b} {
		if len(c.statuses) != 1 || len(c.controllers) != 1 || len(c.settings) != 1 {
			t.Errorf("backend %d: got %d/%d/%d events, want 1/1/1",
				i, len(c.statuses), len(c.controllers), len(c.settings))
		}
	}
	if a.settings[0].Settings["controls"]["base_speed"] != "3000" {
		t.Errorf("settings payload not carried through: %+v", a.settings[0])
	}
}

func TestDiscardAcceptsEverything(t *testing.T) {
	Discard.PushStatus(Status("error", false, nil, "boom"))
	Discard.PushControllers(ControllerList(nil))
	Discard.PushSettings(Settings(nil))
}

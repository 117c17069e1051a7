// Package notify fans session status events out to the configured
// backends. Events are fire-and-forget: backends must not block the
// caller and delivery is not acknowledged.
package notify

import (
	"sync"

	"plasticpilot/pkg/gamepad"
)

// Payload type discriminators, carried in every message so channel
// subscribers can route without inspecting the rest of the body.
const (
	TypeStatus      = "controller_status"
	TypeControllers = "controllers"
	TypeSettings    = "settings"
)

// StatusPayload reports a session-state transition.
type StatusPayload struct {
	Type         string `json:"type"`
	State        string `json:"state"`
	Active       bool   `json:"active"`
	ControllerID *int   `json:"controller_id"`
	Error        string `json:"error,omitempty"`
}

// ControllersPayload carries the current device list after a scan.
type ControllersPayload struct {
	Type        string               `json:"type"`
	Controllers []gamepad.DeviceInfo `json:"controllers"`
}

// SettingsPayload carries the tuning options in file form after a
// settings change, keyed section then option.
type SettingsPayload struct {
	Type     string                       `json:"type"`
	Settings map[string]map[string]string `json:"settings"`
}

// Status builds a StatusPayload. controllerID is nil when no
// controller is associated with the transition.
func Status(state string, active bool, controllerID *int, reason string) StatusPayload {
	return StatusPayload{
		Type:         TypeStatus,
		State:        state,
		Active:       active,
		ControllerID: controllerID,
		Error:        reason,
	}
}

// ControllerList builds a ControllersPayload.
func ControllerList(devices []gamepad.DeviceInfo) ControllersPayload {
	return ControllersPayload{Type: TypeControllers, Controllers: devices}
}

// Settings builds a SettingsPayload.
func Settings(options map[string]map[string]string) SettingsPayload {
	return SettingsPayload{Type: TypeSettings, Settings: options}
}

// Notifier receives status events for display. Implementations drop
// events they cannot deliver; they never report back.
type Notifier interface {
	PushStatus(StatusPayload)
	PushControllers(ControllersPayload)
	PushSettings(SettingsPayload)
}

// Mux duplicates every event to all registered backends.
type Mux struct {
	mu       sync.RWMutex
	backends []Notifier
}

// NewMux creates a Mux with an initial set of backends.
func NewMux(backends ...Notifier) *Mux {
	return &Mux{backends: backends}
}

// Register adds a backend. Safe to call while events are flowing.
func (m *Mux) Register(n Notifier) {
	m.mu.Lock()
	m.backends = append(m.backends, n)
	m.mu.Unlock()
}

func (m *Mux) each(fn func(Notifier)) {
	m.mu.RLock()
	backends := m.backends
	m.mu.RUnlock()
	for _, n := range backends {
		fn(n)
	}
}

// PushStatus implements Notifier.
func (m *Mux) PushStatus(p StatusPayload) {
	m.each(func(n Notifier) { n.PushStatus(p) })
}

// PushControllers implements Notifier.
func (m *Mux) PushControllers(p ControllersPayload) {
	m.each(func(n Notifier) { n.PushControllers(p) })
}

// PushSettings implements Notifier.
func (m *Mux) PushSettings(p SettingsPayload) {
	m.each(func(n Notifier) { n.PushSettings(p) })
}

// Discard drops every event. Used when no backend is configured.
var Discard Notifier = discard{}

type discard struct{}

func (discard) PushStatus(StatusPayload)           {}
func (discard) PushControllers(ControllersPayload) {}
func (discard) PushSettings(SettingsPayload)       {}

// Metric definitions for the pilot's control loop and host surfaces
//
// Copyright (C) 2025 Go port
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"sync"
	"time"
)

// Session state values reported by the pilot_session_state gauge.
const (
	StateInactive     = 0
	StateActivating   = 1
	StateActive       = 2
	StateDeactivating = 3
	StateError        = 4
)

// PilotMetrics holds every metric the daemon exports.
type PilotMetrics struct {
	// Control loop
	PollCycles       *Counter
	CycleDuration    *Histogram
	IntentsCoalesced *Counter
	MovesSuppressed  *Counter
	SessionState     *Gauge
	Activations      *Counter
	SpeedTier        *Gauge
	DrawingMode      *Gauge
	ExtrusionRate    *Gauge
	HeadPosition     *Gauge

	// Command sink
	CommandsSent *Counter
	SinkBusy     *Counter
	SinkErrors   *Counter
	AckLatency   *Histogram

	// Controllers
	DeviceErrors *Counter
	Controllers  *Gauge

	// Host surfaces
	Notifications    *Counter
	WebsocketClients *Gauge

	// Go runtime
	Uptime       *Counter
	Goroutines   *Gauge
	MemoryHeap   *Gauge
	GCCycles     *Counter

	startTime      time.Time
	registry       *Registry
	mu             sync.Mutex
	lastGC         uint32
	lastUptimeMark time.Time
}

// NewPilotMetrics creates and registers the full metric set on a fresh
// registry.
func NewPilotMetrics() *PilotMetrics {
	now := time.Now()
	pm := &PilotMetrics{
		startTime:      now,
		lastUptimeMark: now,
		registry:       NewRegistry(),
	}

	pm.PollCycles = NewCounter("pilot_poll_cycles_total",
		"Total controller poll cycles executed")
	pm.CycleDuration = NewHistogram("pilot_cycle_duration_seconds",
		"Duration of one poll cycle",
		[]float64{.0005, .001, .0025, .005, .01, .025, .05, .1})
	pm.IntentsCoalesced = NewCounter("pilot_intents_coalesced_total",
		"Motion intents merged into a newer one before sending")
	pm.MovesSuppressed = NewCounter("pilot_moves_suppressed_total",
		"Moves dropped for being below the minimum movement distance")
	pm.SessionState = NewGauge("pilot_session_state",
		"Session state (0=inactive, 1=activating, 2=active, 3=deactivating, 4=error)")
	pm.Activations = NewCounter("pilot_session_activations_total",
		"Total controller session activations")
	pm.SpeedTier = NewGauge("pilot_speed_tier",
		"Current speed tier (0=precision, 1=walking, 2=running)")
	pm.DrawingMode = NewGauge("pilot_drawing_mode",
		"Drawing mode flag (1=pen down, 0=travel)")
	pm.ExtrusionRate = NewGauge("pilot_extrusion_feedrate_mm_s",
		"Current extrusion feedrate in mm/s")
	pm.HeadPosition = NewGauge("pilot_head_position_mm",
		"Tracked head position in millimeters per axis")

	pm.CommandsSent = NewCounter("pilot_commands_sent_total",
		"Commands sent to the printer by type")
	pm.SinkBusy = NewCounter("pilot_sink_busy_total",
		"Sends refused because a command was still in flight")
	pm.SinkErrors = NewCounter("pilot_sink_errors_total",
		"Printer command failures by reason")
	pm.AckLatency = NewHistogram("pilot_ack_latency_seconds",
		"Time from write to printer acknowledgment",
		[]float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5})

	pm.DeviceErrors = NewCounter("pilot_device_errors_total",
		"Controller device read and open failures")
	pm.Controllers = NewGauge("pilot_controllers_connected",
		"Number of controllers currently enumerable")

	pm.Notifications = NewCounter("pilot_notifications_sent_total",
		"Status notifications delivered by channel")
	pm.WebsocketClients = NewGauge("pilot_websocket_clients",
		"Connected WebSocket status clients")

	pm.Uptime = NewCounter("pilot_uptime_seconds_total",
		"Daemon uptime in seconds")
	pm.Goroutines = NewGauge("pilot_go_goroutines",
		"Number of active goroutines")
	pm.MemoryHeap = NewGauge("pilot_go_memory_heap_bytes",
		"Go heap memory in use")
	pm.GCCycles = NewCounter("pilot_go_gc_cycles_total",
		"Total Go garbage collection cycles")

	pm.registerAll()
	return pm
}

func (pm *PilotMetrics) registerAll() {
	for _, m := range []Metric{
		pm.PollCycles, pm.CycleDuration, pm.IntentsCoalesced, pm.MovesSuppressed,
		pm.SessionState, pm.Activations, pm.SpeedTier, pm.DrawingMode,
		pm.ExtrusionRate, pm.HeadPosition,
		pm.CommandsSent, pm.SinkBusy, pm.SinkErrors, pm.AckLatency,
		pm.DeviceErrors, pm.Controllers,
		pm.Notifications, pm.WebsocketClients,
		pm.Uptime, pm.Goroutines, pm.MemoryHeap, pm.GCCycles,
	} {
		pm.registry.MustRegister(m)
	}
}

// RecordCycle records one completed poll cycle.
func (pm *PilotMetrics) RecordCycle(d time.Duration) {
	pm.PollCycles.Inc(nil)
	pm.CycleDuration.Observe(nil, d.Seconds())
}

// SetSessionState publishes the session state gauge.
func (pm *PilotMetrics) SetSessionState(state int) {
	pm.SessionState.Set(nil, float64(state))
}

// SetHeadPosition publishes the tracked X/Y position.
func (pm *PilotMetrics) SetHeadPosition(x, y float64) {
	pm.HeadPosition.Set(Labels{"axis": "x"}, x)
	pm.HeadPosition.Set(Labels{"axis": "y"}, y)
}

// RecordCommand counts a sent command by type name.
func (pm *PilotMetrics) RecordCommand(cmdType string) {
	pm.CommandsSent.Inc(Labels{"type": cmdType})
}

// RecordSinkError counts a printer command failure.
func (pm *PilotMetrics) RecordSinkError(reason string) {
	pm.SinkErrors.Inc(Labels{"reason": reason})
}

// RecordDeviceError counts a controller device failure.
func (pm *PilotMetrics) RecordDeviceError(controller string) {
	pm.DeviceErrors.Inc(Labels{"controller": controller})
}

// RecordNotification counts a delivered status notification.
func (pm *PilotMetrics) RecordNotification(channel string) {
	pm.Notifications.Inc(Labels{"channel": channel})
}

// SetDrawingMode publishes the drawing mode flag.
func (pm *PilotMetrics) SetDrawingMode(on bool) {
	v := float64(0)
	if on {
		v = 1
	}
	pm.DrawingMode.Set(nil, v)
}

// UpdateSystemMetrics refreshes the Go runtime gauges and the uptime
// counter. Called on each Gather.
func (pm *PilotMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	pm.Goroutines.Set(nil, float64(goruntime.NumGoroutine()))
	pm.MemoryHeap.Set(nil, float64(m.HeapAlloc))

	pm.mu.Lock()
	if m.NumGC >= pm.lastGC {
		pm.GCCycles.Add(nil, uint64(m.NumGC-pm.lastGC))
	}
	pm.lastGC = m.NumGC
	now := time.Now()
	elapsed := uint64(now.Sub(pm.lastUptimeMark).Seconds())
	if elapsed > 0 {
		pm.Uptime.Add(nil, elapsed)
		pm.lastUptimeMark = pm.lastUptimeMark.Add(time.Duration(elapsed) * time.Second)
	}
	pm.mu.Unlock()
}

// Gather renders all metrics in Prometheus text format.
func (pm *PilotMetrics) Gather() string {
	pm.UpdateSystemMetrics()
	return pm.registry.Gather()
}

// Registry returns the backing registry.
func (pm *PilotMetrics) Registry() *Registry {
	return pm.registry
}

var (
	globalPilot     *PilotMetrics
	globalPilotOnce sync.Once
)

// Global returns the process-wide metric set.
func Global() *PilotMetrics {
	globalPilotOnce.Do(func() {
		globalPilot = NewPilotMetrics()
	})
	return globalPilot
}

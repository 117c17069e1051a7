package control

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"plasticpilot/pkg/config"
	perrors "plasticpilot/pkg/errors"
	"plasticpilot/pkg/gamepad"
	"plasticpilot/pkg/metrics"
	"plasticpilot/pkg/notify"
	"plasticpilot/pkg/printer"
)

var errTest = errors.New("induced failure")

// fakeDevice serves a settable sample until told to fail.
type fakeDevice struct {
	info   gamepad.DeviceInfo
	mu     sync.Mutex
	sample gamepad.ControllerSample
	err    error
	closed bool
}

func (d *fakeDevice) Info() gamepad.DeviceInfo { return d.info }

func (d *fakeDevice) Sample() (gamepad.ControllerSample, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sample, d.err
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDevice) set(s gamepad.ControllerSample) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sample = s
}

func (d *fakeDevice) failWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakeEnumerator struct {
	mu      sync.Mutex
	devices []gamepad.DeviceInfo
	dev     *fakeDevice
}

func (e *fakeEnumerator) List() []gamepad.DeviceInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]gamepad.DeviceInfo, len(e.devices))
	copy(out, e.devices)
	return out
}

func (e *fakeEnumerator) Open(id int) (gamepad.Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dev != nil && e.dev.info.ID == id {
		return e.dev, nil
	}
	return nil, perrors.DeviceUnavailableError(strconv.Itoa(id), nil)
}

func (e *fakeEnumerator) setDevices(devices []gamepad.DeviceInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.devices = devices
}

// recordingNotifier captures every push for later inspection.
type recordingNotifier struct {
	mu       sync.Mutex
	statuses []notify.StatusPayload
	lists    []notify.ControllersPayload
}

func (n *recordingNotifier) PushStatus(p notify.StatusPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, p)
}

func (n *recordingNotifier) PushControllers(p notify.ControllersPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lists = append(n.lists, p)
}

func (n *recordingNotifier) PushSettings(notify.SettingsPayload) {}

func (n *recordingNotifier) states() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.statuses))
	for i, p := range n.statuses {
		out[i] = p.State
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// testTuning shrinks the poll and pacing periods so sessions cycle
// hundreds of times per second under test.
func testTuning() *config.TuningConfig {
	tc := config.DefaultTuning()
	tc.MoveCheckInterval = 2 * time.Millisecond
	tc.CommandDelay = time.Millisecond
	return tc
}

type harness struct {
	enum     *fakeEnumerator
	dev      *fakeDevice
	sink     *fakeSink
	notifier *recordingNotifier
	pm       *metrics.PilotMetrics
	sess     *Session
}

// releaseButtons returns the pad to neutral and waits until the loop
// has sampled it, so the next press reads as a fresh edge.
func (h *harness) releaseButtons(t *testing.T) {
	t.Helper()
	h.dev.set(gamepad.ControllerSample{})
	c := h.pm.PollCycles.Get(nil)
	waitFor(t, "neutral sample", func() bool {
		return h.pm.PollCycles.Get(nil) >= c+2
	})
}

func newHarness(t *testing.T, tc *config.TuningConfig) *harness {
	t.Helper()
	dev := &fakeDevice{info: gamepad.DeviceInfo{ID: 0, Name: "Test Pad", Axes: 6, Buttons: 11}}
	enum := &fakeEnumerator{devices: []gamepad.DeviceInfo{dev.info}, dev: dev}
	h := &harness{
		enum:     enum,
		dev:      dev,
		sink:     newFakeSink(),
		notifier: &recordingNotifier{},
		pm:       metrics.NewPilotMetrics(),
	}
	h.sess = NewSession(SessionOptions{
		Enumerator: enum,
		Sink:       h.sink,
		Notifier:   h.notifier,
		Tuning:     tc,
		Logger:     newTestLogger(),
		Metrics:    h.pm,
	})
	t.Cleanup(func() { h.sess.Close() })
	return h
}

func TestSessionActivateSendsPreamble(t *testing.T) {
	h := newHarness(t, testTuning())

	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	got := h.sink.gcodes()
	want := []string{"G28 X Y", "G28 Z", "G90", "M83"}
	if len(got) < len(want) {
		t.Fatalf("preamble = %v, want %v first", got, want)
	}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("preamble[%d] = %q, want %q", i, got[i], w)
		}
	}

	st := h.sess.Status()
	if st.State != "active" || !st.Active {
		t.Errorf("status = %+v, want active", st)
	}
	if st.ControllerID == nil || *st.ControllerID != 0 {
		t.Errorf("controller id = %v, want 0", st.ControllerID)
	}
}

func TestSessionNeutralStickSendsNoMotion(t *testing.T) {
	h := newHarness(t, testTuning())

	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	preamble := len(h.sink.gcodes())

	waitFor(t, "poll cycles", func() bool {
		return h.pm.PollCycles.Get(nil) >= 20
	})
	if n := len(h.sink.gcodes()); n != preamble {
		t.Errorf("neutral stick emitted %d extra commands: %v",
			n-preamble, h.sink.gcodes()[preamble:])
	}

	if err := h.sess.Deactivate(); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if !h.dev.isClosed() {
		t.Error("device left open after deactivation")
	}
	if st := h.sess.Status(); st.State != "inactive" || st.Active {
		t.Errorf("status after deactivate = %+v", st)
	}
}

func TestSessionLifecycleNotifications(t *testing.T) {
	h := newHarness(t, testTuning())

	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if err := h.sess.Deactivate(); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	states := h.notifier.states()
	want := []string{"activating", "active", "deactivating", "inactive"}
	if len(states) != len(want) {
		t.Fatalf("status pushes = %v, want %v", states, want)
	}
	for i, w := range want {
		if states[i] != w {
			t.Errorf("push[%d] = %q, want %q", i, states[i], w)
		}
	}
}

func TestSessionStickMotionProducesMoves(t *testing.T) {
	h := newHarness(t, testTuning())

	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	h.dev.set(gamepad.ControllerSample{AxisX: 1.0})

	waitFor(t, "motion commands", func() bool {
		for _, g := range h.sink.gcodes() {
			if strings.HasPrefix(g, "G1 X") {
				return true
			}
		}
		return false
	})

	// Moves are absolute and X only grows under a held right deflection.
	var moves []string
	for _, g := range h.sink.gcodes() {
		if strings.HasPrefix(g, "G1 X") {
			moves = append(moves, g)
		}
	}
	prev := -1.0
	for _, g := range moves {
		var x, y, f float64
		if _, err := fmt.Sscanf(g, "G1 X%f Y%f F%f", &x, &y, &f); err != nil {
			t.Fatalf("unparseable move %q: %v", g, err)
		}
		if x <= prev {
			t.Fatalf("X must increase monotonically: %v", moves)
		}
		if y != 0 {
			t.Errorf("Y drifted to %v with a centered Y axis", y)
		}
		prev = x
	}
}

func TestSessionActivateUnknownController(t *testing.T) {
	h := newHarness(t, testTuning())

	err := h.sess.Activate(7)
	if err == nil {
		t.Fatal("expected activation failure for unknown id")
	}
	if !perrors.Is(err, perrors.ErrDeviceUnavailable) {
		t.Errorf("error = %v, want DEVICE_UNAVAILABLE", err)
	}
	st := h.sess.Status()
	if st.State != "inactive" || st.Error == "" {
		t.Errorf("status after failed activate = %+v", st)
	}
	if st.ControllerID != nil {
		t.Errorf("controller id = %v, want nil", *st.ControllerID)
	}

	// The failure is transient state: the next activation clears it.
	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate after failure: %v", err)
	}
	if st := h.sess.Status(); st.Error != "" {
		t.Errorf("stale error %q survived successful activation", st.Error)
	}
}

func TestSessionActivateWhileActive(t *testing.T) {
	h := newHarness(t, testTuning())

	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	err := h.sess.Activate(0)
	if err == nil {
		t.Fatal("expected second activation to be rejected")
	}
	if !perrors.Is(err, perrors.ErrSessionState) {
		t.Errorf("error = %v, want SESSION_STATE", err)
	}
}

func TestSessionDeactivateWhileInactive(t *testing.T) {
	h := newHarness(t, testTuning())

	err := h.sess.Deactivate()
	if err == nil {
		t.Fatal("expected deactivation to be rejected while inactive")
	}
	if !perrors.Is(err, perrors.ErrSessionState) {
		t.Errorf("error = %v, want SESSION_STATE", err)
	}
}

func TestSessionDeviceDisconnect(t *testing.T) {
	h := newHarness(t, testTuning())

	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	h.dev.failWith(fmt.Errorf("read /dev/input/js0: no such device"))

	waitFor(t, "session failure", func() bool {
		st := h.sess.Status()
		return st.State == "inactive" && st.Error != ""
	})
	if !h.dev.isClosed() {
		t.Error("device left open after disconnect")
	}

	// The error transition surfaces before the return to rest.
	states := h.notifier.states()
	sawError := false
	for _, s := range states {
		if s == "error" {
			sawError = true
		}
	}
	if !sawError {
		t.Errorf("status pushes %v missing the error state", states)
	}
	if v := h.pm.SessionState.Get(nil); v != float64(StateInactive) {
		t.Errorf("state gauge = %v, want inactive", v)
	}
}

func TestSessionDrawingToggle(t *testing.T) {
	h := newHarness(t, testTuning())

	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	// Press A: pen drops to the drawing height.
	h.dev.set(gamepad.ControllerSample{ButtonA: true})
	waitFor(t, "pen down", func() bool {
		return h.sink.count("G1 Z0.10 F1000") == 1
	})
	if v := h.pm.DrawingMode.Get(nil); v != 1 {
		t.Errorf("drawing mode gauge = %v, want 1", v)
	}

	// Release, press again: pen lifts to the travel height.
	h.releaseButtons(t)
	h.dev.set(gamepad.ControllerSample{ButtonA: true})
	waitFor(t, "pen up", func() bool {
		return h.sink.count("G1 Z1.00 F1000") == 1
	})
	if v := h.pm.DrawingMode.Get(nil); v != 0 {
		t.Errorf("drawing mode gauge = %v, want 0", v)
	}
}

func TestSessionHomeButtonResetsPosition(t *testing.T) {
	h := newHarness(t, testTuning())

	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	// Move away from the origin, then press B.
	h.dev.set(gamepad.ControllerSample{AxisX: 1.0})
	waitFor(t, "head displacement", func() bool {
		return h.pm.HeadPosition.Get(metrics.Labels{"axis": "x"}) > 0.5
	})
	h.dev.set(gamepad.ControllerSample{ButtonB: true})

	// The preamble already homed once; the button adds a second G28.
	waitFor(t, "home command", func() bool {
		return h.sink.count("G28 X Y") == 2
	})
	waitFor(t, "position reset", func() bool {
		return h.pm.HeadPosition.Get(metrics.Labels{"axis": "x"}) == 0
	})
}

func TestSessionAbortButton(t *testing.T) {
	h := newHarness(t, testTuning())

	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	h.dev.set(gamepad.ControllerSample{ButtonY: true})
	waitFor(t, "abort command", func() bool {
		return h.sink.count("M112") == 1
	})
}

func TestSessionStandaloneExtrusion(t *testing.T) {
	h := newHarness(t, testTuning())

	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	// Full right trigger, sticks centered: filament feeds in place.
	// 0.2 mm per pull at 5 mm/s = 300 mm/min.
	h.dev.set(gamepad.ControllerSample{RightTrigger: 1.0})
	waitFor(t, "extrude command", func() bool {
		return h.sink.count("G1 E0.2000 F300") > 0
	})
}

func TestSessionRetraction(t *testing.T) {
	h := newHarness(t, testTuning())

	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	// Full left trigger: 1.0 mm back at the 25 mm/s retraction speed.
	h.dev.set(gamepad.ControllerSample{LeftTrigger: 1.0})
	waitFor(t, "retract command", func() bool {
		return h.sink.count("G1 E-1.0000 F1500") > 0
	})
}

func TestSessionBothTriggersSuppressed(t *testing.T) {
	h := newHarness(t, testTuning())

	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	h.dev.set(gamepad.ControllerSample{LeftTrigger: 1.0, RightTrigger: 1.0})

	waitFor(t, "poll cycles", func() bool {
		return h.pm.PollCycles.Get(nil) >= 20
	})
	for _, g := range h.sink.gcodes() {
		if strings.HasPrefix(g, "G1 E") {
			t.Fatalf("conflicting triggers emitted filament motion: %q", g)
		}
	}
}

func TestSessionFeedrateBumpers(t *testing.T) {
	// An oversized increment (600 mm/min = 10 mm/s per press) drives
	// the feedrate into both clamps with a single press each way.
	tc := testTuning()
	tc.FeedrateIncrement = 600
	h := newHarness(t, tc)

	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if v := h.pm.ExtrusionRate.Get(nil); v != 5.0 {
		t.Fatalf("initial extrusion feedrate = %v, want 5.0", v)
	}

	// Right bumper: 5 + 10 clamps to the 15 mm/s ceiling.
	h.dev.set(gamepad.ControllerSample{RightBumper: true})
	waitFor(t, "feedrate ceiling", func() bool {
		return h.pm.ExtrusionRate.Get(nil) == 15.0
	})

	// Left bumper: 15 - 10 lands mid-range.
	h.releaseButtons(t)
	h.dev.set(gamepad.ControllerSample{LeftBumper: true})
	waitFor(t, "feedrate drop", func() bool {
		return h.pm.ExtrusionRate.Get(nil) == 5.0
	})

	// Another press clamps to the 0.5 mm/s floor.
	h.releaseButtons(t)
	h.dev.set(gamepad.ControllerSample{LeftBumper: true})
	waitFor(t, "feedrate floor", func() bool {
		return h.pm.ExtrusionRate.Get(nil) == 0.5
	})
}

func TestSessionApplyTuningLive(t *testing.T) {
	h := newHarness(t, testTuning())

	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	tc := testTuning()
	tc.BaseSpeed = 1200
	tc.MaxX = 100
	if err := h.sess.ApplyTuning(tc); err != nil {
		t.Fatalf("ApplyTuning failed: %v", err)
	}
	if got := h.sess.Tuning().BaseSpeed; got != 1200 {
		t.Errorf("tuning base speed = %v, want 1200", got)
	}
	if st := h.sess.Status(); st.State != "active" {
		t.Errorf("session state after retune = %s, want active", st.State)
	}

	// The session keeps polling with the new snapshot.
	before := h.pm.PollCycles.Get(nil)
	waitFor(t, "cycles after retune", func() bool {
		return h.pm.PollCycles.Get(nil) > before+5
	})
}

func TestSessionRefreshPublishesList(t *testing.T) {
	h := newHarness(t, testTuning())

	second := gamepad.DeviceInfo{ID: 1, Name: "Second Pad", Axes: 6, Buttons: 11}
	h.enum.setDevices([]gamepad.DeviceInfo{h.dev.info, second})

	list, err := h.sess.Refresh()
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if len(list) != 2 || list[1].Name != "Second Pad" {
		t.Errorf("refreshed list = %+v", list)
	}
	if v := h.pm.Controllers.Get(nil); v != 2 {
		t.Errorf("controllers gauge = %v, want 2", v)
	}

	h.notifier.mu.Lock()
	pushes := len(h.notifier.lists)
	h.notifier.mu.Unlock()
	if pushes == 0 {
		t.Error("list change was not pushed to the notifier")
	}
}

func TestSessionVanishedControllerEndsSession(t *testing.T) {
	h := newHarness(t, testTuning())

	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	h.enum.setDevices(nil)
	if _, err := h.sess.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	waitFor(t, "session end", func() bool {
		st := h.sess.Status()
		return st.State == "inactive" && st.Error != ""
	})
	if !h.dev.isClosed() {
		t.Error("device left open after vanishing")
	}
}

func TestSessionSinkFailureNotification(t *testing.T) {
	h := newHarness(t, testTuning())

	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	h.sess.NotifySinkFailure(fmt.Errorf("serial port gone"))

	waitFor(t, "session end", func() bool {
		st := h.sess.Status()
		return st.State == "inactive" && st.Error != ""
	})
}

func TestSessionDebugModeSendsNothing(t *testing.T) {
	tc := testTuning()
	tc.DebugMode = true
	h := newHarness(t, tc)

	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	h.dev.set(gamepad.ControllerSample{AxisX: 1.0})

	waitFor(t, "poll cycles", func() bool {
		return h.pm.PollCycles.Get(nil) >= 20
	})
	if got := h.sink.gcodes(); len(got) != 0 {
		t.Errorf("debug mode transmitted %v", got)
	}
	if st := h.sess.Status(); st.State != "active" {
		t.Errorf("debug session state = %s, want active", st.State)
	}
}

func TestSessionPreambleFailureAbandonsActivation(t *testing.T) {
	h := newHarness(t, testTuning())
	h.sink.mu.Lock()
	h.sink.results = []printer.SendResult{printer.SendFailed}
	h.sink.mu.Unlock()

	err := h.sess.Activate(0)
	if err == nil {
		t.Fatal("expected activation to fail with a rejected preamble")
	}
	if !perrors.Is(err, perrors.ErrSinkRejected) {
		t.Errorf("error = %v, want SINK_REJECTED", err)
	}
	if !h.dev.isClosed() {
		t.Error("device left open after preamble failure")
	}
	if st := h.sess.Status(); st.State != "inactive" || st.Error == "" {
		t.Errorf("status = %+v, want inactive with error", st)
	}
}

// connectableSink adds the lazy-connect surface of the serial sink on
// top of the scripted fake.
type connectableSink struct {
	*fakeSink
	connects   int
	connectErr error
}

func (c *connectableSink) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return c.connectErr
}

func TestSessionActivateConnectsSink(t *testing.T) {
	dev := &fakeDevice{info: gamepad.DeviceInfo{ID: 0, Name: "Test Pad", Axes: 6, Buttons: 11}}
	enum := &fakeEnumerator{devices: []gamepad.DeviceInfo{dev.info}, dev: dev}
	sink := &connectableSink{fakeSink: newFakeSink()}
	sess := NewSession(SessionOptions{
		Enumerator: enum,
		Sink:       sink,
		Tuning:     testTuning(),
		Logger:     newTestLogger(),
		Metrics:    metrics.NewPilotMetrics(),
	})
	defer sess.Close()

	if err := sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	sink.mu.Lock()
	connects := sink.connects
	sink.mu.Unlock()
	if connects != 1 {
		t.Errorf("sink connected %d times, want 1", connects)
	}
	if got := sink.gcodes(); len(got) == 0 || got[0] != "G28 X Y" {
		t.Errorf("preamble after connect = %v, want G28 X Y first", got)
	}
}

func TestSessionActivateConnectFailure(t *testing.T) {
	dev := &fakeDevice{info: gamepad.DeviceInfo{ID: 0, Name: "Test Pad", Axes: 6, Buttons: 11}}
	enum := &fakeEnumerator{devices: []gamepad.DeviceInfo{dev.info}, dev: dev}
	sink := &connectableSink{
		fakeSink:   newFakeSink(),
		connectErr: perrors.SerialOpenError("/dev/ttyUSB0", errTest),
	}
	sess := NewSession(SessionOptions{
		Enumerator: enum,
		Sink:       sink,
		Tuning:     testTuning(),
		Logger:     newTestLogger(),
		Metrics:    metrics.NewPilotMetrics(),
	})
	defer sess.Close()

	err := sess.Activate(0)
	if err == nil {
		t.Fatal("expected activation to fail when the sink cannot connect")
	}
	if !perrors.Is(err, perrors.ErrSerialOpen) {
		t.Errorf("error = %v, want SERIAL_OPEN", err)
	}
	if !dev.isClosed() {
		t.Error("device left open after connect failure")
	}
	if got := sink.gcodes(); len(got) != 0 {
		t.Errorf("commands sent despite connect failure: %v", got)
	}
}

func TestSessionDebugModeSkipsConnect(t *testing.T) {
	tc := testTuning()
	tc.DebugMode = true
	dev := &fakeDevice{info: gamepad.DeviceInfo{ID: 0, Name: "Test Pad", Axes: 6, Buttons: 11}}
	enum := &fakeEnumerator{devices: []gamepad.DeviceInfo{dev.info}, dev: dev}
	sink := &connectableSink{
		fakeSink:   newFakeSink(),
		connectErr: perrors.SerialOpenError("/dev/ttyUSB0", errTest),
	}
	sess := NewSession(SessionOptions{
		Enumerator: enum,
		Sink:       sink,
		Tuning:     tc,
		Logger:     newTestLogger(),
		Metrics:    metrics.NewPilotMetrics(),
	})
	defer sess.Close()

	if err := sess.Activate(0); err != nil {
		t.Fatalf("Activate in debug mode failed: %v", err)
	}
	sink.mu.Lock()
	connects := sink.connects
	sink.mu.Unlock()
	if connects != 0 {
		t.Errorf("debug session dialed the printer %d times, want 0", connects)
	}
}

func TestSessionCloseWhileActive(t *testing.T) {
	h := newHarness(t, testTuning())

	if err := h.sess.Activate(0); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if err := h.sess.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !h.dev.isClosed() {
		t.Error("device left open after close")
	}

	err := h.sess.Activate(0)
	if err == nil {
		t.Fatal("expected activation after close to fail")
	}
	if !perrors.Is(err, perrors.ErrSessionState) {
		t.Errorf("error = %v, want SESSION_STATE", err)
	}
}

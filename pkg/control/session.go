// Package control turns game-controller input into paced printer
// motion. The session driver polls the active device on a fixed
// period, runs each sample through the axis mapper, speed classifier,
// trigger mapper and button edge detector, and hands the resulting
// intent to the command pacer, which bounds the outbound G-code rate.
package control

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"plasticpilot/pkg/config"
	perrors "plasticpilot/pkg/errors"
	"plasticpilot/pkg/gamepad"
	"plasticpilot/pkg/log"
	"plasticpilot/pkg/metrics"
	"plasticpilot/pkg/notify"
	"plasticpilot/pkg/printer"
)

// State is a session lifecycle state. Values align with the
// pilot_session_state gauge.
type State int

const (
	StateInactive State = iota
	StateActivating
	StateActive
	StateDeactivating
	StateError
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateDeactivating:
		return "deactivating"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the externally visible session snapshot.
type Status struct {
	State        string `json:"state"`
	Active       bool   `json:"active"`
	ControllerID *int   `json:"controller_id"`
	Error        string `json:"error,omitempty"`
}

// LoopState is the mutable state of one activation session: created
// at activation, owned exclusively by the driver goroutine, discarded
// at deactivation. Every value a pipeline component carries across
// cycles lives here.
type LoopState struct {
	// Smoothing filter recursion terms.
	PrevX float64
	PrevY float64

	// Previous sample for button edge detection.
	PrevButtons gamepad.ControllerSample

	// MotionFeedrate is the base motion speed (mm/min) the velocity
	// integration runs at.
	MotionFeedrate float64

	// ExtrusionFeedrate is the bumper-adjusted filament speed (mm/s).
	ExtrusionFeedrate float64

	// Drawing is true while the pen is down.
	Drawing bool
}

const (
	// refreshInterval is the slow controller scan period while no
	// session is active.
	refreshInterval = 2 * time.Second

	// drainTimeout bounds the one-shot drain at deactivation.
	drainTimeout = 2 * time.Second

	// preambleTimeout bounds the wait for the printer to acknowledge
	// activation homing, which moves real hardware.
	preambleTimeout   = 90 * time.Second
	preambleReadyPoll = 50 * time.Millisecond
)

type eventKind int

const (
	eventActivate eventKind = iota
	eventDeactivate
	eventSettings
	eventRefresh
	eventSinkFailure
)

func (k eventKind) String() string {
	switch k {
	case eventActivate:
		return "activate"
	case eventDeactivate:
		return "deactivate"
	case eventSettings:
		return "apply-settings"
	case eventRefresh:
		return "refresh"
	case eventSinkFailure:
		return "sink-failure"
	default:
		return "unknown"
	}
}

// sessionEvent is one inbound control message. All external requests
// flow through the event channel and are handled between poll cycles,
// never mid-cycle.
type sessionEvent struct {
	kind   eventKind
	id     int
	tuning *config.TuningConfig
	err    error
	reply  chan error
}

func (e sessionEvent) respond(err error) {
	if e.reply != nil {
		e.reply <- err
	}
}

// activeLoop bundles everything that exists only while a session is
// active.
type activeLoop struct {
	dev        gamepad.Device
	info       gamepad.DeviceInfo
	tick       *time.Ticker
	tuning     *config.TuningConfig
	axes       *AxisMapper
	classifier *SpeedClassifier
	triggers   *TriggerMapper
	pacer      *Pacer
	tracker    *printer.PositionTracker
	state      LoopState
}

// SessionOptions bundles the session driver's collaborators.
type SessionOptions struct {
	Enumerator gamepad.Enumerator
	Sink       printer.Sink
	Notifier   notify.Notifier // nil = discard
	Tuning     *config.TuningConfig
	Logger     *log.Logger
	Metrics    *metrics.PilotMetrics
}

// Session drives at most one controller-activation session at a time.
// A single goroutine owns all loop state; external calls are turned
// into events on one inbound channel and answered over per-request
// reply channels.
type Session struct {
	enum     gamepad.Enumerator
	sink     printer.Sink
	notifier notify.Notifier
	log      *log.Logger
	metrics  *metrics.PilotMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	events chan sessionEvent

	// Driver-goroutine-owned; nil while inactive.
	loop *activeLoop

	mu          sync.Mutex
	st          State
	lastError   string
	activeID    int
	tuning      *config.TuningConfig
	controllers []gamepad.DeviceInfo
}

// NewSession builds the driver and starts its goroutine. The driver
// begins Inactive, scanning for controllers every two seconds.
func NewSession(opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = log.GetLogger("session")
	}
	pm := opts.Metrics
	if pm == nil {
		pm = metrics.Global()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}
	tuning := opts.Tuning
	if tuning == nil {
		tuning = config.DefaultTuning()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		enum:     opts.Enumerator,
		sink:     opts.Sink,
		notifier: notifier,
		log:      logger,
		metrics:  pm,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan sessionEvent, 8),
		activeID: -1,
		tuning:   tuning,
	}
	pm.SetSessionState(int(StateInactive))
	s.wg.Add(1)
	go s.run()
	return s
}

// Activate opens controller id and starts the poll loop. It blocks
// until the device is open and the activation preamble (home X/Y and
// Z, absolute positioning, relative extrusion) has been accepted.
func (s *Session) Activate(id int) error {
	return s.request(sessionEvent{kind: eventActivate, id: id})
}

// Deactivate ends the active session, flushing queued one-shot
// actions first.
func (s *Session) Deactivate() error {
	return s.request(sessionEvent{kind: eventDeactivate})
}

// ApplyTuning swaps the tuning snapshot. An active session picks the
// new snapshot up between cycles; debug mode takes effect at the next
// activation.
func (s *Session) ApplyTuning(t *config.TuningConfig) error {
	return s.request(sessionEvent{kind: eventSettings, tuning: t})
}

// Refresh re-scans the enumerator and returns the fresh device list.
func (s *Session) Refresh() ([]gamepad.DeviceInfo, error) {
	if err := s.request(sessionEvent{kind: eventRefresh}); err != nil {
		return nil, err
	}
	return s.Controllers(), nil
}

// NotifySinkFailure reports an asynchronous printer failure into the
// session loop. Safe from any goroutine; never blocks.
func (s *Session) NotifySinkFailure(err error) {
	select {
	case s.events <- sessionEvent{kind: eventSinkFailure, err: err}:
	default:
	}
}

// Status returns the current session snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:  s.st.String(),
		Active: s.st == StateActive,
		Error:  s.lastError,
	}
	if s.activeID >= 0 {
		id := s.activeID
		st.ControllerID = &id
	}
	return st
}

// Controllers returns the most recent scan result.
func (s *Session) Controllers() []gamepad.DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gamepad.DeviceInfo, len(s.controllers))
	copy(out, s.controllers)
	return out
}

// Tuning returns the current tuning snapshot.
func (s *Session) Tuning() *config.TuningConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tuning
}

// Close deactivates any active session and stops the driver.
func (s *Session) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Session) request(ev sessionEvent) error {
	ev.reply = make(chan error, 1)
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
		return perrors.SessionStateError("stopped", ev.kind.String())
	}
	select {
	case err := <-ev.reply:
		return err
	case <-s.ctx.Done():
		return perrors.SessionStateError("stopped", ev.kind.String())
	}
}

// run is the driver goroutine. While inactive it wakes for events and
// the slow controller scan; while active the poll ticker joins the
// select and every firing runs one control cycle.
func (s *Session) run() {
	defer s.wg.Done()
	s.refreshScan()
	idle := time.NewTicker(refreshInterval)
	defer idle.Stop()
	for {
		select {
		case <-s.ctx.Done():
			if s.loop != nil {
				if err := s.deactivate(); err != nil {
					s.log.Warn("deactivate on shutdown: %v", err)
				}
			}
			return
		case ev := <-s.events:
			s.handleEvent(ev)
		case <-idle.C:
			if s.loop == nil {
				s.refreshScan()
			}
		case <-s.tickChan():
			s.cycle()
		}
	}
}

// tickChan returns the poll ticker, or nil (blocking forever in the
// select) while no session is active.
func (s *Session) tickChan() <-chan time.Time {
	if s.loop == nil {
		return nil
	}
	return s.loop.tick.C
}

func (s *Session) handleEvent(ev sessionEvent) {
	switch ev.kind {
	case eventActivate:
		ev.respond(s.activate(ev.id))
	case eventDeactivate:
		ev.respond(s.deactivate())
	case eventSettings:
		s.applyTuning(ev.tuning)
		ev.respond(nil)
	case eventRefresh:
		s.refreshScan()
		ev.respond(nil)
	case eventSinkFailure:
		if s.loop != nil {
			s.fail(ev.err)
		}
	}
}

func (s *Session) activate(id int) error {
	if s.loop != nil {
		return perrors.SessionStateError(s.Status().State, "activate")
	}
	s.mu.Lock()
	s.activeID = id
	s.lastError = ""
	t := s.tuning
	s.mu.Unlock()
	s.setState(StateActivating, nil)
	s.log.Info("activating controller %d", id)

	dev, err := s.enum.Open(id)
	if err != nil {
		s.log.WithError(err).Error("controller open failed")
		s.metrics.RecordDeviceError(strconv.Itoa(id))
		s.abandonActivation(err)
		return err
	}
	info := dev.Info()

	sink := s.sink
	if t.DebugMode {
		s.log.Info("debug mode: commands are logged, not sent")
		sink = debugSink{log: s.log}
	} else if c, ok := sink.(sinkConnector); ok {
		// A serial sink that failed or was never opened reconnects
		// here, so a fixed cable needs no daemon restart.
		if err := c.Connect(); err != nil {
			dev.Close()
			s.log.WithError(err).Error("printer link unavailable")
			s.abandonActivation(err)
			return err
		}
	}

	if err := s.sendPreamble(sink); err != nil {
		dev.Close()
		s.log.WithError(err).Error("activation preamble failed")
		s.abandonActivation(err)
		return err
	}

	s.loop = &activeLoop{
		dev:        dev,
		info:       info,
		tick:       time.NewTicker(t.MoveCheckInterval),
		tuning:     t,
		axes:       NewAxisMapper(t.DeadzoneThreshold, t.SmoothingFactor),
		classifier: NewSpeedClassifier(t),
		triggers:   NewTriggerMapper(t, s.log),
		pacer:      NewPacer(sink, t.CommandDelay, s.metrics),
		tracker:    printer.NewPositionTracker(t.MaxX, t.MaxY, t.MinMovement),
		state: LoopState{
			MotionFeedrate:    t.BaseSpeed,
			ExtrusionFeedrate: t.ExtrusionSpeed,
		},
	}
	s.metrics.Activations.Inc(nil)
	s.metrics.SetDrawingMode(false)
	s.metrics.ExtrusionRate.Set(nil, t.ExtrusionSpeed)
	s.metrics.SetHeadPosition(0, 0)
	s.setState(StateActive, nil)
	s.log.Info("session active on '%s'", info.Name)
	return nil
}

// abandonActivation reports a failed activation and returns to rest.
func (s *Session) abandonActivation(cause error) {
	s.setState(StateError, cause)
	s.mu.Lock()
	s.activeID = -1
	s.mu.Unlock()
	s.setState(StateInactive, cause)
}

// sendPreamble homes the printer and selects absolute positioning
// with relative extrusion. Preamble commands bypass the pacing window
// but still wait for the one-outstanding-command window.
func (s *Session) sendPreamble(sink printer.Sink) error {
	for _, cmd := range []printer.Command{
		printer.HomeXY(),
		printer.HomeZ(),
		printer.Raw("G90"),
		printer.Raw("M83"),
	} {
		if err := s.sendBlocking(sink, cmd); err != nil {
			return err
		}
	}
	return nil
}

// sendBlocking waits for the sink window to clear, then transmits.
// Only used during activation, before the pacer owns the sink.
func (s *Session) sendBlocking(sink printer.Sink, cmd printer.Command) error {
	deadline := time.Now().Add(preambleTimeout)
	for {
		if sink.Ready() {
			switch sink.Send(cmd) {
			case printer.SendAccepted:
				return nil
			case printer.SendFailed:
				return perrors.SinkRejectedError(cmd.GCode(), nil)
			}
			// Busy: the window filled between the readiness check and
			// the send; wait and retry.
		}
		if time.Now().After(deadline) {
			return perrors.SinkRejectedError(cmd.GCode(),
				fmt.Errorf("printer not ready within %s", preambleTimeout))
		}
		select {
		case <-s.ctx.Done():
			return perrors.SessionStateError("stopped", "activate")
		case <-time.After(preambleReadyPoll):
		}
	}
}

func (s *Session) deactivate() error {
	if s.loop == nil {
		return perrors.SessionStateError(StateInactive.String(), "deactivate")
	}
	s.setState(StateDeactivating, nil)
	if err := s.loop.pacer.Drain(drainTimeout); err != nil {
		s.log.Warn("drain on deactivation: %v", err)
	}
	s.teardown()
	s.mu.Lock()
	s.activeID = -1
	s.mu.Unlock()
	s.setState(StateInactive, nil)
	s.log.Info("session deactivated")
	return nil
}

// fail tears the active session down after an unrecoverable error.
func (s *Session) fail(cause error) {
	if s.loop == nil {
		return
	}
	s.log.WithError(cause).Error("session failed")
	s.setState(StateError, cause)
	s.teardown()
	s.mu.Lock()
	s.activeID = -1
	s.mu.Unlock()
	s.setState(StateInactive, cause)
}

func (s *Session) teardown() {
	l := s.loop
	s.loop = nil
	l.tick.Stop()
	if err := l.dev.Close(); err != nil {
		s.log.Warn("controller close: %v", err)
	}
	s.metrics.SetDrawingMode(false)
	s.metrics.SpeedTier.Set(nil, float64(TierPrecision))
}

// applyTuning swaps the tuning snapshot between cycles. The pipeline
// components are rebuilt; smoothing and edge-detection state survives
// in LoopState. Debug mode keeps the sink chosen at activation.
func (s *Session) applyTuning(t *config.TuningConfig) {
	s.mu.Lock()
	s.tuning = t
	s.mu.Unlock()
	if s.loop == nil {
		return
	}
	l := s.loop
	l.tuning = t
	l.tick.Reset(t.MoveCheckInterval)
	l.axes = NewAxisMapper(t.DeadzoneThreshold, t.SmoothingFactor)
	l.classifier = NewSpeedClassifier(t)
	l.triggers = NewTriggerMapper(t, s.log)
	l.pacer.SetDelay(t.CommandDelay)
	l.tracker.SetLimits(t.MaxX, t.MaxY)
	l.tracker.SetMinMovement(t.MinMovement)
	l.state.MotionFeedrate = t.BaseSpeed
	l.state.ExtrusionFeedrate = clamp(l.state.ExtrusionFeedrate, t.MinFeedrate, t.MaxFeedrate)
	s.metrics.ExtrusionRate.Set(nil, l.state.ExtrusionFeedrate)
	s.log.Info("tuning snapshot applied to active session")
}

// refreshScan re-lists controllers, publishes list changes, and fails
// the session if its device vanished.
func (s *Session) refreshScan() {
	list := s.enum.List()
	s.metrics.Controllers.Set(nil, float64(len(list)))
	s.mu.Lock()
	changed := !sameDevices(s.controllers, list)
	s.controllers = list
	s.mu.Unlock()
	if changed {
		s.log.Info("%d controller(s) attached", len(list))
		s.notifier.PushControllers(notify.ControllerList(list))
	}
	if s.loop == nil {
		return
	}
	for _, d := range list {
		if d.ID == s.loop.info.ID {
			return
		}
	}
	s.fail(perrors.DeviceDisconnectedError(s.loop.info.Name, nil))
}

// cycle runs one poll: sample the device, detect button edges, map
// axes and triggers, submit the intent, flush the pacer.
func (s *Session) cycle() {
	start := time.Now()
	l := s.loop
	sample, err := l.dev.Sample()
	if err != nil {
		s.metrics.RecordDeviceError(strconv.Itoa(l.info.ID))
		s.fail(perrors.DeviceDisconnectedError(l.info.Name, err))
		return
	}

	for _, action := range DetectEdges(l.state.PrevButtons, sample) {
		s.applyAction(action)
	}
	l.state.PrevButtons = sample

	vx := l.axes.Map(l.state.PrevX, sample.AxisX)
	vy := l.axes.Map(l.state.PrevY, sample.AxisY)
	l.state.PrevX, l.state.PrevY = vx, vy

	tier, feedrate := l.classifier.Classify(math.Hypot(vx, vy))
	length, espeed := l.triggers.Map(sample.LeftTrigger, sample.RightTrigger, l.state.ExtrusionFeedrate)

	l.pacer.Submit(Intent{
		VX:        vx,
		VY:        vy,
		Tier:      tier,
		Feedrate:  feedrate,
		EDistance: length,
		ESpeed:    espeed,
	})
	s.metrics.SpeedTier.Set(nil, float64(tier))

	if err := l.pacer.Flush(time.Now(), s.render); err != nil {
		s.fail(err)
		return
	}
	s.metrics.RecordCycle(time.Since(start))
}

// applyAction executes one button press edge.
func (s *Session) applyAction(a ButtonAction) {
	l := s.loop
	switch a {
	case ActionToggleDrawing:
		l.state.Drawing = !l.state.Drawing
		z := l.tuning.ZTravel
		mode := "travel"
		if l.state.Drawing {
			z = l.tuning.ZDrawing
			mode = "drawing"
		}
		l.pacer.Enqueue(printer.PenMove(z))
		s.metrics.SetDrawingMode(l.state.Drawing)
		s.log.Info("toggling drawing mode: %s", mode)
	case ActionHome:
		l.pacer.Enqueue(printer.HomeXY())
		l.tracker.Reset()
		s.metrics.SetHeadPosition(0, 0)
		s.log.Info("homing X/Y axes")
	case ActionAbort:
		l.pacer.Enqueue(printer.Abort())
		s.log.Warn("emergency stop requested")
	case ActionFeedrateDown:
		l.state.ExtrusionFeedrate = math.Max(l.tuning.MinFeedrate,
			l.state.ExtrusionFeedrate-l.tuning.FeedrateIncrement/60)
		s.metrics.ExtrusionRate.Set(nil, l.state.ExtrusionFeedrate)
		s.log.Debug("decreased extrusion feedrate to %.1f mm/s", l.state.ExtrusionFeedrate)
	case ActionFeedrateUp:
		l.state.ExtrusionFeedrate = math.Min(l.tuning.MaxFeedrate,
			l.state.ExtrusionFeedrate+l.tuning.FeedrateIncrement/60)
		s.metrics.ExtrusionRate.Set(nil, l.state.ExtrusionFeedrate)
		s.log.Debug("increased extrusion feedrate to %.1f mm/s", l.state.ExtrusionFeedrate)
	}
}

// render turns the merged intent into the flush's command. Motion
// integrates the tracked position over one pacing window; filament
// rides along as E while drawing, or goes out alone when the head is
// still.
func (s *Session) render(in Intent) (printer.Command, bool) {
	l := s.loop
	if in.VX != 0 || in.VY != 0 {
		x, y, ok := l.tracker.Advance(in.VX, in.VY, l.state.MotionFeedrate, l.tuning.CommandDelay)
		if ok {
			s.metrics.SetHeadPosition(x, y)
			if in.EDistance != 0 && l.state.Drawing {
				return printer.MoveExtrude(x, y, in.EDistance, in.Feedrate), true
			}
			return printer.Move(x, y, in.Feedrate), true
		}
		s.metrics.MovesSuppressed.Inc(nil)
	}
	if in.EDistance != 0 {
		return printer.Extrude(in.EDistance, in.ESpeed), true
	}
	return printer.Command{}, false
}

// setState updates the snapshot, the gauge, and pushes the transition
// to the notifier.
func (s *Session) setState(st State, cause error) {
	s.mu.Lock()
	s.st = st
	if cause != nil {
		s.lastError = perrors.Reason(cause)
	}
	reason := s.lastError
	var idPtr *int
	if s.activeID >= 0 {
		id := s.activeID
		idPtr = &id
	}
	s.mu.Unlock()
	s.metrics.SetSessionState(int(st))
	s.notifier.PushStatus(notify.Status(st.String(), st == StateActive, idPtr, reason))
}

func sameDevices(a, b []gamepad.DeviceInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Name != b[i].Name {
			return false
		}
	}
	return true
}

// sinkConnector is implemented by sinks that open a transport lazily,
// such as the serial sink. Activation dials it before the preamble.
type sinkConnector interface {
	Connect() error
}

// debugSink logs rendered commands instead of transmitting them,
// giving a full dry run against a real controller.
type debugSink struct {
	log *log.Logger
}

func (d debugSink) Send(cmd printer.Command) printer.SendResult {
	d.log.Debug("dry run: %s", cmd.GCode())
	return printer.SendAccepted
}

func (d debugSink) Ready() bool  { return true }
func (d debugSink) Close() error { return nil }

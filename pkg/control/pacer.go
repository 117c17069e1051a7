package control

import (
	"time"

	perrors "plasticpilot/pkg/errors"
	"plasticpilot/pkg/metrics"
	"plasticpilot/pkg/printer"
)

// Intent is one cycle's distillation of controller state: what the
// head should be doing until the next flush.
type Intent struct {
	// Signed velocity fractions in [-1, 1].
	VX float64
	VY float64

	// Classified motion speed.
	Tier     Tier
	Feedrate float64 // mm/min

	// Filament motion. Zero EDistance means no extrusion intent.
	EDistance float64 // mm, negative retracts
	ESpeed    float64 // mm/s
}

// RenderFunc turns the merged pending intent into the command to
// transmit. It is called at most once per flush, only when the pacing
// window is open and the sink is ready. A false return means the
// intent renders to nothing this flush (zero velocity, or motion
// below the minimum movement distance).
type RenderFunc func(Intent) (printer.Command, bool)

// Pacer bounds the outbound rate to one motion command per pacing
// window and coalesces everything that arrives in between. Motion
// intents merge last-value-wins; button one-shots queue in order and
// are never dropped. One-shots of a flush go out before its motion
// command.
type Pacer struct {
	sink     printer.Sink
	delay    time.Duration
	pm       *metrics.PilotMetrics
	pending  Intent
	dirty    bool
	oneShots []printer.Command
	lastSent time.Time
}

// NewPacer creates a pacer over sink with the given pacing window.
func NewPacer(sink printer.Sink, delay time.Duration, pm *metrics.PilotMetrics) *Pacer {
	if pm == nil {
		pm = metrics.Global()
	}
	return &Pacer{sink: sink, delay: delay, pm: pm}
}

// Submit merges a fresh motion intent, replacing any pending one.
func (p *Pacer) Submit(in Intent) {
	if p.dirty {
		p.pm.IntentsCoalesced.Inc(nil)
	}
	p.pending = in
	p.dirty = true
}

// Enqueue appends a one-shot command to the ordered queue.
func (p *Pacer) Enqueue(cmd printer.Command) {
	p.oneShots = append(p.oneShots, cmd)
}

// SetDelay adjusts the pacing window. Takes effect at the next flush.
func (p *Pacer) SetDelay(d time.Duration) {
	p.delay = d
}

// Flush transmits the queued one-shots and the pending intent if the
// pacing window has elapsed and the sink is ready. A busy sink leaves
// everything queued for the next cycle; a sink failure is returned
// and ends the session.
func (p *Pacer) Flush(now time.Time, render RenderFunc) error {
	if now.Sub(p.lastSent) < p.delay {
		return nil
	}

	sent := false
	defer func() {
		if sent {
			p.lastSent = now
		}
	}()

	for len(p.oneShots) > 0 {
		ok, err := p.trySend(p.oneShots[0])
		if err != nil {
			return err
		}
		if !ok {
			return nil // busy, retry the remaining queue next cycle
		}
		p.oneShots = p.oneShots[1:]
		sent = true
	}

	if !p.dirty || !p.sink.Ready() {
		return nil
	}
	cmd, ok := render(p.pending)
	p.dirty = false
	if !ok {
		return nil
	}
	okSent, err := p.trySend(cmd)
	if err != nil {
		return err
	}
	if okSent {
		sent = true
	}
	// A busy response after rendering is not retried directly: the
	// rendered target is absolute, so the next flush carries the
	// accumulated position forward.
	return nil
}

// Drain transmits the queued one-shots without regard for the pacing
// window, waiting for sink readiness up to timeout. The pending
// motion intent is discarded. Called at deactivation so toggles and
// aborts pressed moments earlier still reach the printer.
func (p *Pacer) Drain(timeout time.Duration) error {
	p.dirty = false
	deadline := time.Now().Add(timeout)
	for len(p.oneShots) > 0 {
		ok, err := p.trySend(p.oneShots[0])
		if err != nil {
			return err
		}
		if ok {
			p.oneShots = p.oneShots[1:]
			continue
		}
		if time.Now().After(deadline) {
			return perrors.New(perrors.ErrSinkRejected,
				"printer not ready, one-shot actions undelivered").
				SetContext("undelivered", len(p.oneShots))
		}
		time.Sleep(drainPoll)
	}
	return nil
}

const drainPoll = 10 * time.Millisecond

// QueuedOneShots reports how many one-shot commands are waiting.
func (p *Pacer) QueuedOneShots() int {
	return len(p.oneShots)
}

func (p *Pacer) trySend(cmd printer.Command) (bool, error) {
	if !p.sink.Ready() {
		return false, nil
	}
	switch p.sink.Send(cmd) {
	case printer.SendAccepted:
		return true, nil
	case printer.SendBusy:
		return false, nil
	default:
		return false, perrors.SinkRejectedError(cmd.GCode(), nil)
	}
}

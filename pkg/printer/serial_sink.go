package printer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	perrors "plasticpilot/pkg/errors"
	"plasticpilot/pkg/log"
	"plasticpilot/pkg/metrics"
	"plasticpilot/pkg/serial"
)

const (
	// readPollInterval bounds how long the reader blocks per read, so
	// acknowledgment deadlines are checked promptly.
	readPollInterval = 100 * time.Millisecond

	// homeAckTimeout replaces the normal acknowledgment timeout for
	// homing, which the firmware acknowledges only on completion.
	homeAckTimeout = 60 * time.Second
)

// SinkConfig holds serial sink configuration.
type SinkConfig struct {
	// Port is a device path, or "auto" to probe candidate ports.
	Port string

	// Baud rate for the printer link.
	Baud int

	// AckTimeout is how long to wait for the firmware's ok before the
	// link counts as failed (default 5 seconds).
	AckTimeout time.Duration

	// ConnectTimeout bounds port auto-discovery.
	ConnectTimeout time.Duration
}

// serialPort is the subset of serial.Port the sink drives. Tests
// substitute a scripted fake.
type serialPort interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Close() error
	Flush() error
	SetReadTimeout(d time.Duration)
	Device() string
}

// SerialSink sends G-code lines over a serial port with a window of
// exactly one unacknowledged command. A reader goroutine parses the
// firmware's responses: ok clears the window, Error:/!! lines and
// acknowledgment timeouts fail the sink.
type SerialSink struct {
	cfg SinkConfig
	log *log.Logger
	pm  *metrics.PilotMetrics

	mu          sync.Mutex
	port        serialPort
	inflight    bool
	sentAt      time.Time
	ackDeadline time.Time
	failed      bool
	failure     error
	onFailure   func(error)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSerialSink creates a sink. No I/O happens until Connect.
func NewSerialSink(cfg SinkConfig, logger *log.Logger, pm *metrics.PilotMetrics) *SerialSink {
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &SerialSink{cfg: cfg, log: logger, pm: pm}
}

// Connect opens the configured port (probing candidates when the port
// is "auto"), discards boot chatter, and starts the response reader. A
// failed sink reconnects from scratch.
func (s *SerialSink) Connect() error {
	s.mu.Lock()
	healthy := s.port != nil && !s.failed
	s.mu.Unlock()
	if healthy {
		return nil
	}
	s.Close()

	scfg := serial.Config{
		BaudRate:       s.cfg.Baud,
		ReadTimeout:    readPollInterval,
		RTSOnConnect:   true,
		DTROnConnect:   true,
		ConnectTimeout: s.cfg.ConnectTimeout,
	}

	var port *serial.Port
	var err error
	if s.cfg.Port == "" || s.cfg.Port == "auto" {
		port, err = serial.Discover(scfg, s.cfg.ConnectTimeout)
	} else {
		device, rerr := serial.ResolveDevice(s.cfg.Port)
		if rerr != nil {
			return rerr
		}
		scfg.Device = device
		port, err = serial.Open(scfg)
	}
	if err != nil {
		return err
	}
	port.Flush()

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.port = port
	s.cancel = cancel
	s.inflight = false
	s.failed = false
	s.failure = nil
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(ctx, port)

	s.log.Info("printer connected on %s at %d baud", port.Device(), s.cfg.Baud)
	return nil
}

// Close stops the reader and closes the port. Safe to call repeatedly.
func (s *SerialSink) Close() error {
	s.mu.Lock()
	port := s.port
	cancel := s.cancel
	s.port = nil
	s.cancel = nil
	s.inflight = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if port != nil {
		err = port.Close()
	}
	s.wg.Wait()
	return err
}

// Connected reports whether a port is open.
func (s *SerialSink) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}

// Ready reports whether a Send would be accepted right now.
func (s *SerialSink) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil && !s.failed && !s.inflight
}

// Err returns the failure that killed the sink, if any.
func (s *SerialSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Device returns the connected device path, or empty.
func (s *SerialSink) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ""
	}
	return s.port.Device()
}

// SetFailureHandler registers a callback invoked once when the sink
// fails asynchronously. The active session uses it to feed its event
// channel.
func (s *SerialSink) SetFailureHandler(fn func(error)) {
	s.mu.Lock()
	s.onFailure = fn
	s.mu.Unlock()
}

// Send transmits one command. Busy means an earlier command is still
// unacknowledged; the caller retries next cycle. An abort is written
// and then fails the sink, because the firmware halts after M112 and
// the session must end.
func (s *SerialSink) Send(cmd Command) SendResult {
	s.mu.Lock()
	if s.failed || s.port == nil {
		s.mu.Unlock()
		return SendFailed
	}
	if s.inflight {
		s.mu.Unlock()
		if s.pm != nil {
			s.pm.SinkBusy.Inc(nil)
		}
		return SendBusy
	}
	port := s.port
	now := time.Now()
	s.inflight = true
	s.sentAt = now
	s.ackDeadline = now.Add(s.ackTimeoutFor(cmd))
	s.mu.Unlock()

	line := cmd.GCode()
	if _, err := port.Write([]byte(line + "\n")); err != nil {
		s.fail(perrors.SerialIOError("write", err), "write")
		return SendFailed
	}

	s.log.Debug("sent: %s", line)
	if s.pm != nil {
		s.pm.RecordCommand(cmd.Type.String())
	}

	if cmd.Type == CommandAbort {
		s.fail(perrors.New(perrors.ErrSinkRejected, "emergency stop issued"), "estop")
	}
	return SendAccepted
}

func (s *SerialSink) ackTimeoutFor(cmd Command) time.Duration {
	if cmd.Type == CommandHome {
		return homeAckTimeout
	}
	return s.cfg.AckTimeout
}

// readLoop parses firmware responses until the context is cancelled or
// the port dies.
func (s *SerialSink) readLoop(ctx context.Context, port serialPort) {
	defer s.wg.Done()

	port.SetReadTimeout(readPollInterval)
	buf := make([]byte, 512)
	var acc []byte

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			if errors.Is(err, serial.ErrTimeout) {
				s.checkAckDeadline()
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, serial.ErrClosed) {
				if ctx.Err() == nil {
					s.fail(perrors.SerialIOError("read", err), "disconnected")
				}
				return
			}
			s.log.Warn("serial read error: %v", err)
			continue
		}
		if n == 0 {
			continue
		}

		acc = append(acc, buf[:n]...)
		for {
			idx := bytes.IndexByte(acc, '\n')
			if idx < 0 {
				break
			}
			line := strings.TrimRight(string(acc[:idx]), "\r")
			acc = acc[idx+1:]
			s.handleLine(line)
		}
	}
}

// checkAckDeadline fails the sink when the outstanding command has
// gone unacknowledged past its deadline.
func (s *SerialSink) checkAckDeadline() {
	s.mu.Lock()
	expired := s.inflight && time.Now().After(s.ackDeadline)
	s.mu.Unlock()
	if expired {
		s.fail(perrors.New(perrors.ErrSinkRejected, "acknowledgment timeout"), "timeout")
	}
}

// handleLine classifies one response line from the firmware.
func (s *SerialSink) handleLine(line string) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
	case line == "ok" || strings.HasPrefix(line, "ok "):
		s.ackReceived()
	case strings.HasPrefix(line, "Error:"), strings.HasPrefix(line, "!!"):
		s.fail(perrors.SinkRejectedError(line, nil), "rejected")
	case line == "start":
		s.handleStart()
	case strings.HasPrefix(line, "Resend:"):
		// No line numbers in use, so the requested command is gone. The
		// firmware still follows with an ok.
		s.log.Warn("printer requested resend: %s", line)
	case strings.HasPrefix(line, "echo:busy"):
		s.log.Debug("printer busy: %s", line)
	default:
		// Temperature reports, echo chatter and boot banners.
		s.log.Debug("printer: %s", line)
	}
}

func (s *SerialSink) ackReceived() {
	s.mu.Lock()
	if !s.inflight {
		s.mu.Unlock()
		s.log.Debug("unsolicited ok")
		return
	}
	latency := time.Since(s.sentAt)
	s.inflight = false
	s.mu.Unlock()

	if s.pm != nil {
		s.pm.AckLatency.Observe(nil, latency.Seconds())
	}
}

// handleStart reacts to the firmware's reset banner. Mid-command it
// means the board rebooted and the outstanding command is lost.
func (s *SerialSink) handleStart() {
	s.mu.Lock()
	inflight := s.inflight
	s.mu.Unlock()
	if inflight {
		s.fail(perrors.New(perrors.ErrSinkRejected, "printer reset during command"), "reset")
		return
	}
	s.log.Debug("printer: start")
}

// fail marks the sink dead and notifies the registered handler once.
func (s *SerialSink) fail(err error, reason string) {
	s.mu.Lock()
	if s.failed {
		s.mu.Unlock()
		return
	}
	s.failed = true
	s.failure = err
	s.inflight = false
	handler := s.onFailure
	s.mu.Unlock()

	s.log.WithError(err).Error("printer sink failed")
	if s.pm != nil {
		s.pm.RecordSinkError(reason)
	}
	if handler != nil {
		handler(err)
	}
}

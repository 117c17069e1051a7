package printer

// SendResult is the sink's synchronous verdict on one command.
type SendResult int

const (
	// SendAccepted means the command is on the wire.
	SendAccepted SendResult = iota

	// SendBusy means a previous command is still unacknowledged; the
	// caller retries on its next cycle.
	SendBusy

	// SendFailed means the sink is unusable; the session must stop.
	SendFailed
)

func (r SendResult) String() string {
	switch r {
	case SendAccepted:
		return "accepted"
	case SendBusy:
		return "busy"
	case SendFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Sink accepts printer commands one at a time. Ready reports whether a
// Send would currently be accepted; the pacer polls it each cycle.
type Sink interface {
	Send(cmd Command) SendResult
	Ready() bool
	Close() error
}

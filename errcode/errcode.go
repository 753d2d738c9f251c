package errcode

// Code is a stable, log-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK            Code = "ok"
	Busy          Code = "busy"
	Unsupported   Code = "unsupported"
	InvalidParams Code = "invalid_params"
	Timeout       Code = "timeout"

	// Resource acquisition
	PeripheralsTaken Code = "peripherals_taken"
	UnknownPin       Code = "unknown_pin"
	PinInUse         Code = "pin_in_use"
	UnknownBus       Code = "unknown_bus"
	BusInUse         Code = "bus_in_use"
	UnknownDMA       Code = "unknown_dma_channel"
	DMAInUse         Code = "dma_in_use"
	UnknownTimer     Code = "unknown_timer"
	TimerInUse       Code = "timer_in_use"

	// Bus transport
	BusConfig        Code = "bus_config"
	TransferTooLarge Code = "transfer_too_large"
	BusClosed        Code = "bus_closed"

	// Radio transport
	RadioInit       Code = "radio_init"
	BusyTimeout     Code = "busy_timeout"
	ChipNotDetected Code = "chip_not_detected"

	// Session
	JoinFailed        Code = "join_failed"
	NoJoinAccept      Code = "no_join_accept"
	NotJoined         Code = "not_joined"
	UplinkFailed      Code = "uplink_failed"
	InvalidIdentity   Code = "invalid_identity"
	UnsupportedRegion Code = "unsupported_region"

	// Scheduler
	TimeSourceInstalled Code = "time_source_installed"
	NoTimeSource        Code = "no_time_source"
	SpawnFailed         Code = "spawn_failed"

	InvalidConfig Code = "invalid_config"

	Error Code = "error" // generic fallback
)

// E keeps context and a cause alongside a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, code) match a wrapped E against its Code.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Wrap annotates err with a code and the failing operation.
func Wrap(c Code, op string, err error) error {
	return &E{C: c, Op: op, Err: err}
}

// New builds an E without a cause.
func New(c Code, op, msg string) error {
	return &E{C: c, Op: op, Msg: msg}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		if inner := u.Unwrap(); inner != nil {
			return Of(inner)
		}
	}
	return Error
}

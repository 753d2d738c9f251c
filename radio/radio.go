package radio

import (
	"context"
	"strconv"
	"time"

	"tinygo.org/x/drivers"

	"loranode-go/errcode"
	"loranode-go/x/logx"
	"loranode-go/x/mathx"
)

// Init stages, in order.
const (
	StageAttach    = "attach"
	StageReset     = "reset"
	StageBusy      = "busy"
	StageDetect    = "detect"
	StageConfigure = "configure"
)

// InitError reports the stage that failed on the last init attempt.
type InitError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *InitError) Error() string {
	s := "radio: " + string(errcode.RadioInit) + ": " + e.Stage + " failed after " +
		strconv.Itoa(e.Attempts) + " attempt(s)"
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *InitError) Unwrap() error        { return e.Err }
func (e *InitError) Code() errcode.Code   { return errcode.RadioInit }
func (e *InitError) Is(target error) bool { return target == errcode.RadioInit }

type options struct {
	attempts    int
	backoff     time.Duration
	maxBackoff  time.Duration
	busyTimeout time.Duration
	log         logx.Logger
}

type Option func(*options)

// WithInitAttempts bounds the number of init attempts (minimum 1).
func WithInitAttempts(n int) Option { return func(o *options) { o.attempts = mathx.Max(n, 1) } }

// WithInitBackoff sets the first retry delay; it doubles up to limit.
func WithInitBackoff(base, limit time.Duration) Option {
	return func(o *options) { o.backoff, o.maxBackoff = base, limit }
}

func WithBusyTimeout(d time.Duration) Option { return func(o *options) { o.busyTimeout = d } }
func WithLogger(l logx.Logger) Option        { return func(o *options) { o.log = l } }

// Radio is a generic LoRa radio: one initialised chip behind its control
// lines.
type Radio struct {
	chip   Chip
	iv     *InterfaceVariant
	cfg    Config
	public bool
}

// New attaches a chip to the bus and runs reset, busy wait, detect and
// configure. A failed sequence is retried from reset with backoff; after
// the last attempt the error is an *InitError.
func New(ctx context.Context, bus drivers.SPI, iv *InterfaceVariant, cfg Config, publicNetwork bool,
	factory ChipFactory, delay Delay, opts ...Option) (*Radio, error) {

	o := options{attempts: 3, backoff: 100 * time.Millisecond, maxBackoff: time.Second,
		busyTimeout: 100 * time.Millisecond, log: logx.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if bus == nil || iv == nil || factory == nil || delay == nil {
		return nil, errcode.New(errcode.InvalidParams, "radio.New", "bus, variant, factory and delay are required")
	}

	chip, err := factory(bus, iv)
	if err != nil {
		return nil, &InitError{Stage: StageAttach, Attempts: 1, Err: err}
	}
	r := &Radio{chip: chip, iv: iv, cfg: cfg, public: publicNetwork}

	var stage string
	for attempt := 1; ; attempt++ {
		stage, err = r.init(ctx, delay, o.busyTimeout)
		if err == nil {
			o.log.Debug("radio ready", logx.Str("chip", cfg.Chip.String()), logx.Int("attempt", attempt))
			return r, nil
		}
		if attempt >= o.attempts || ctx.Err() != nil {
			return nil, &InitError{Stage: stage, Attempts: attempt, Err: err}
		}
		wait := mathx.ShlSat(o.backoff, uint(attempt-1), o.maxBackoff)
		o.log.Warn("radio init failed", logx.Str("stage", stage), logx.Int("attempt", attempt),
			logx.Dur("retry_in", wait), logx.Err(err))
		if err := delay.Sleep(ctx, wait); err != nil {
			return nil, &InitError{Stage: stage, Attempts: attempt, Err: err}
		}
	}
}

func (r *Radio) init(ctx context.Context, d Delay, busyTimeout time.Duration) (string, error) {
	if err := r.iv.Reset(ctx, d); err != nil {
		return StageReset, err
	}
	if err := r.iv.WaitOnBusy(ctx, d, busyTimeout); err != nil {
		return StageBusy, err
	}
	if !r.chip.Detect() {
		return StageDetect, errcode.ChipNotDetected
	}
	if err := r.chip.Configure(r.cfg); err != nil {
		return StageConfigure, err
	}
	r.chip.SetPublicNetwork(r.public)
	return "", nil
}

func (r *Radio) Chip() Chip                 { return r.chip }
func (r *Radio) Config() Config             { return r.cfg }
func (r *Radio) PublicNetwork() bool        { return r.public }
func (r *Radio) Variant() *InterfaceVariant { return r.iv }

func (r *Radio) Tx(pkt []byte, timeout time.Duration) error {
	r.iv.EnableTx()
	defer r.iv.DisableRF()
	return r.chip.Tx(pkt, timeout)
}

func (r *Radio) Rx(timeout time.Duration) ([]byte, error) {
	r.iv.EnableRx()
	defer r.iv.DisableRF()
	return r.chip.Rx(timeout)
}

package lorawan

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"loranode-go/errcode"
	"loranode-go/radio"
	"loranode-go/x/logx"
	"loranode-go/x/mathx"
)

type State uint8

const (
	Uninitialized State = iota
	Joining
	Joined
	SendingUplink
	// Unjoined is the degraded state after join attempts ran out.
	Unjoined
	// Failed is terminal; the node aborts.
	Failed
)

var stateNames = [...]string{"uninitialized", "joining", "joined", "sending_uplink", "unjoined", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// FailurePolicy decides what happens when every join attempt failed.
type FailurePolicy uint8

const (
	Degrade FailurePolicy = iota
	Abort
)

func (p FailurePolicy) String() string {
	if p == Abort {
		return "abort"
	}
	return "degrade"
}

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "degrade":
		return Degrade, nil
	case "abort":
		return Abort, nil
	}
	return Degrade, errcode.New(errcode.InvalidConfig, "lorawan.ParseFailurePolicy", s)
}

// JoinPolicy bounds join retries. The delay before attempt n+1 is
// BackoffBase<<(n-1), capped at BackoffMax, spread by ±Jitter of itself.
type JoinPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Jitter      float64
	OnFailure   FailurePolicy
}

func DefaultJoinPolicy() JoinPolicy {
	return JoinPolicy{
		MaxAttempts: 5,
		BackoffBase: 5 * time.Second,
		BackoffMax:  60 * time.Second,
		Jitter:      0.25,
		OnFailure:   Degrade,
	}
}

// JoinError is returned once all attempts are exhausted.
type JoinError struct {
	Attempts int
	Err      error
}

func (e *JoinError) Error() string {
	s := string(errcode.JoinFailed) + " after " + itoa(e.Attempts) + " attempt(s)"
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *JoinError) Unwrap() error        { return e.Err }
func (e *JoinError) Code() errcode.Code   { return errcode.JoinFailed }
func (e *JoinError) Is(target error) bool { return target == errcode.JoinFailed }

// Yielder suspends the calling task at timed waits and around stack I/O.
type Yielder interface {
	Sleep(ctx context.Context, d time.Duration) error
	Await(ctx context.Context, fn func() error) error
}

type blocking struct{}

func (blocking) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (blocking) Await(_ context.Context, fn func() error) error { return fn() }

type Option func(*Device)

func WithJoinPolicy(p JoinPolicy) Option { return func(d *Device) { d.policy = p } }
func WithYielder(y Yielder) Option       { return func(d *Device) { d.y = y } }
func WithLogger(l logx.Logger) Option    { return func(d *Device) { d.log = l } }

// WithStateObserver registers fn to run on every state change.
func WithStateObserver(fn func(State)) Option { return func(d *Device) { d.observe = fn } }

// Device is the session controller. It owns the radio, the regional plan
// and, once joined, the session. Only its own Join and Send mutate it.
type Device struct {
	region *RegionalPlan
	radio  *radio.LorawanRadio
	stack  Stack
	rng    *rand.Rand

	policy  JoinPolicy
	y       Yielder
	log     logx.Logger
	observe func(State)

	state    State
	session  JoinResponse
	attempts int

	uplinks        uint32
	uplinkFailures uint32
}

func NewDevice(region *RegionalPlan, r *radio.LorawanRadio, stack Stack, seed int64, opts ...Option) *Device {
	d := &Device{
		region: region,
		radio:  r,
		stack:  stack,
		rng:    rand.New(rand.NewSource(seed)),
		policy: DefaultJoinPolicy(),
		y:      blocking{},
		log:    logx.Nop(),
	}
	for _, o := range opts {
		o(d)
	}
	d.policy.MaxAttempts = mathx.Max(d.policy.MaxAttempts, 1)
	d.policy.Jitter = mathx.Clamp(d.policy.Jitter, 0, 1)
	if r != nil {
		r.SetTxPower(region.MaxEIRPdBm)
	}
	return d
}

func (d *Device) State() State                 { return d.state }
func (d *Device) Region() *RegionalPlan        { return d.region }
func (d *Device) Radio() *radio.LorawanRadio   { return d.radio }
func (d *Device) Policy() JoinPolicy           { return d.policy }
func (d *Device) JoinAttempts() int            { return d.attempts }
func (d *Device) Uplinks() (ok, failed uint32) { return d.uplinks, d.uplinkFailures }

// Session returns the join result while the device is joined.
func (d *Device) Session() (JoinResponse, bool) {
	if d.state != Joined && d.state != SendingUplink {
		return JoinResponse{}, false
	}
	return d.session, true
}

func (d *Device) setState(s State) {
	if d.state == s {
		return
	}
	d.state = s
	if d.observe != nil {
		d.observe(s)
	}
}

// Join runs OTAA with id, retrying under the join policy. When attempts
// run out the device ends Unjoined (Degrade) or Failed (Abort) and a
// *JoinError is returned.
func (d *Device) Join(ctx context.Context, id Identity) (JoinResponse, error) {
	switch d.state {
	case Joined, SendingUplink:
		return d.session, nil
	case Failed, Unjoined:
		return JoinResponse{}, &JoinError{Attempts: d.attempts}
	}
	d.setState(Joining)
	mode := OTAA(id)

	var last error
	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		d.attempts = attempt
		var resp JoinResponse
		err := d.y.Await(ctx, func() error {
			var err error
			resp, err = d.stack.Join(ctx, mode)
			return err
		})
		if err == nil {
			d.session = resp
			d.setState(Joined)
			return resp, nil
		}
		last = err
		if ctx.Err() != nil || attempt == d.policy.MaxAttempts {
			break
		}
		wait := d.backoff(attempt)
		d.log.Warn("join attempt failed",
			logx.Int("attempt", attempt), logx.Dur("retry_in", wait), logx.Err(err))
		if err := d.y.Sleep(ctx, wait); err != nil {
			last = err
			break
		}
	}

	if d.policy.OnFailure == Abort {
		d.setState(Failed)
	} else {
		d.setState(Unjoined)
	}
	return JoinResponse{}, &JoinError{Attempts: d.attempts, Err: last}
}

func (d *Device) backoff(attempt int) time.Duration {
	base := mathx.ShlSat(d.policy.BackoffBase, uint(attempt-1), d.policy.BackoffMax)
	if d.policy.Jitter == 0 {
		return base
	}
	spread := float64(base) * d.policy.Jitter * (2*d.rng.Float64() - 1)
	return mathx.Max(base+time.Duration(spread), 0)
}

// Send transmits one uplink. A failure is reported as errcode.UplinkFailed
// and leaves the session joined. Any frame that reached the air advances
// FCntUp, failed or not.
func (d *Device) Send(ctx context.Context, port uint8, payload []byte, confirmed bool) error {
	const op = "lorawan.Send"
	if d.state != Joined {
		return errcode.New(errcode.NotJoined, op, d.state.String())
	}
	if port == 0 || port > 223 {
		return errcode.New(errcode.InvalidParams, op, "port "+itoa(int(port)))
	}
	if limit := int(d.region.MaxPayloadPerDR[d.region.JoinDR]); len(payload) > limit {
		return errcode.New(errcode.InvalidParams, op, "payload "+itoa(len(payload))+" > "+itoa(limit))
	}

	d.setState(SendingUplink)
	var rep TxReport
	err := d.y.Await(ctx, func() (err error) {
		rep, err = d.stack.Send(ctx, port, payload, confirmed)
		return err
	})
	d.setState(Joined)
	if rep.Sent {
		d.session.FCntUp = rep.FCnt + 1
	}
	if err != nil {
		d.uplinkFailures++
		return errcode.Wrap(errcode.UplinkFailed, op, err)
	}
	d.uplinks++
	return nil
}

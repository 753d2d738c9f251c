package radio

import (
	"context"
	"time"

	"loranode-go/errcode"
	"loranode-go/hal"
)

const (
	resetPulse  = 10 * time.Millisecond
	resetSettle = 20 * time.Millisecond
	busyPoll    = time.Millisecond
)

// Delay suspends the calling task. sched.Executor satisfies it.
type Delay interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// InterfaceVariant binds the chip's control lines. RF switch outputs are
// optional; the reference board switches internally via DIO2.
type InterfaceVariant struct {
	reset    *hal.Output
	dio1     *hal.Input
	busy     *hal.Input
	rxSwitch *hal.Output
	txSwitch *hal.Output
}

func NewInterfaceVariant(reset *hal.Output, dio1, busy *hal.Input, rxSwitch, txSwitch *hal.Output) (*InterfaceVariant, error) {
	if reset == nil || dio1 == nil || busy == nil {
		return nil, errcode.New(errcode.InvalidParams, "radio.NewInterfaceVariant", "reset, dio1 and busy are required")
	}
	return &InterfaceVariant{reset: reset, dio1: dio1, busy: busy, rxSwitch: rxSwitch, txSwitch: txSwitch}, nil
}

func (iv *InterfaceVariant) ResetPin() *hal.Output { return iv.reset }
func (iv *InterfaceVariant) DIO1() *hal.Input      { return iv.dio1 }
func (iv *InterfaceVariant) Busy() *hal.Input      { return iv.busy }

// ReassertInputs reconfigures BUSY and DIO1 with the pull they were
// claimed with. Chip drivers that take over the lines may re-pull them.
func (iv *InterfaceVariant) ReassertInputs() error {
	for _, in := range []*hal.Input{iv.busy, iv.dio1} {
		if err := in.Driver().ConfigureInput(in.Pull()); err != nil {
			return errcode.Wrap(errcode.RadioInit, "radio.ReassertInputs", err)
		}
	}
	return nil
}

// Reset pulses the reset line low and waits for the chip to boot.
func (iv *InterfaceVariant) Reset(ctx context.Context, d Delay) error {
	iv.reset.SetLow()
	if err := d.Sleep(ctx, resetPulse); err != nil {
		iv.reset.SetHigh()
		return err
	}
	iv.reset.SetHigh()
	return d.Sleep(ctx, resetSettle)
}

// WaitOnBusy polls the busy line until it drops or timeout elapses.
// Elapsed time is counted in poll intervals.
func (iv *InterfaceVariant) WaitOnBusy(ctx context.Context, d Delay, timeout time.Duration) error {
	for waited := time.Duration(0); iv.busy.IsHigh(); waited += busyPoll {
		if waited >= timeout {
			return errcode.New(errcode.BusyTimeout, "radio.WaitOnBusy", timeout.String())
		}
		if err := d.Sleep(ctx, busyPoll); err != nil {
			return err
		}
	}
	return nil
}

// EnableRx and EnableTx drive the RF switch when the board has one.
func (iv *InterfaceVariant) EnableRx() {
	if iv.txSwitch != nil {
		iv.txSwitch.SetLow()
	}
	if iv.rxSwitch != nil {
		iv.rxSwitch.SetHigh()
	}
}

func (iv *InterfaceVariant) EnableTx() {
	if iv.rxSwitch != nil {
		iv.rxSwitch.SetLow()
	}
	if iv.txSwitch != nil {
		iv.txSwitch.SetHigh()
	}
}

func (iv *InterfaceVariant) DisableRF() {
	if iv.rxSwitch != nil {
		iv.rxSwitch.SetLow()
	}
	if iv.txSwitch != nil {
		iv.txSwitch.SetLow()
	}
}

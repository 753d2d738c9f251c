//go:build rp2040 || rp2350

package platform

import (
	"sync"
	"time"

	"machine"

	"loranode-go/hal"
)

const rp2DMAChannels = 12

type rp2Pin struct{ p machine.Pin }

func (r *rp2Pin) Number() int          { return int(r.p) }
func (r *rp2Pin) Machine() machine.Pin { return r.p }
func (r *rp2Pin) Set(level bool)       { r.p.Set(level) }
func (r *rp2Pin) Get() bool            { return r.p.Get() }

func (r *rp2Pin) ConfigureInput(pull hal.Pull) error {
	mode := machine.PinInput
	switch pull {
	case hal.PullUp:
		mode = machine.PinInputPullup
	case hal.PullDown:
		mode = machine.PinInputPulldown
	}
	r.p.Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (r *rp2Pin) ConfigureOutput(initial bool) error {
	r.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	r.p.Set(initial)
	return nil
}

// machinePin recovers the machine pin behind a hal pin driver.
func machinePin(d hal.PinDriver) machine.Pin {
	if p, ok := d.(*rp2Pin); ok {
		return p.p
	}
	return machine.NoPin
}

type rp2SPI struct{ hw *machine.SPI }

func (s *rp2SPI) Configure(cfg hal.SPIControllerConfig) error {
	return s.hw.Configure(machine.SPIConfig{
		Frequency: cfg.Frequency,
		Mode:      uint8(cfg.Mode),
		SCK:       machinePin(cfg.SCK),
		SDO:       machinePin(cfg.SDO),
		SDI:       machinePin(cfg.SDI),
	})
}

func (s *rp2SPI) Tx(w, r []byte) error { return s.hw.Tx(w, r) }

// rp2Alarm runs on the runtime's monotonic timer.
type rp2Alarm struct {
	mu    sync.Mutex
	start time.Time
	t     *time.Timer
}

func (a *rp2Alarm) Now() time.Duration { return time.Since(a.start) }

func (a *rp2Alarm) SetAlarm(at time.Duration, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.t != nil {
		a.t.Stop()
	}
	d := at - a.Now()
	if d < 0 {
		d = 0
	}
	a.t = time.AfterFunc(d, fn)
}

type rp2Provider struct {
	mu   sync.Mutex
	pins map[int]*rp2Pin
	spis map[string]*rp2SPI
}

func newRP2Provider() *rp2Provider {
	return &rp2Provider{
		pins: make(map[int]*rp2Pin),
		spis: map[string]*rp2SPI{
			"spi0": {hw: machine.SPI0},
			"spi1": {hw: machine.SPI1},
		},
	}
}

func (p *rp2Provider) Name() string { return "rp2" }

// HardwareID makes every rp2 provider instance share one Take guard.
func (p *rp2Provider) HardwareID() string { return "rp2" }

var _ hal.HardwareProvider = (*rp2Provider)(nil)

func (p *rp2Provider) BootClocks() hal.Clocks {
	hz := machine.CPUFrequency()
	return hal.Clocks{Profile: "boot-default", CPUHz: hz, PeripheralHz: hz}
}

func (p *rp2Provider) Pin(n int) (hal.PinDriver, bool) {
	if n < 0 || n > 29 {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pin, ok := p.pins[n]
	if !ok {
		pin = &rp2Pin{p: machine.Pin(n)}
		p.pins[n] = pin
	}
	return pin, true
}

func (p *rp2Provider) SPI(id string) (hal.SPIController, bool) {
	s, ok := p.spis[id]
	if !ok {
		return nil, false
	}
	return s, true
}

func (p *rp2Provider) DMAChannels() int { return rp2DMAChannels }

// Timer hands out one alarm per timer slot; the RP2 timer has four.
func (p *rp2Provider) Timer(group, index int) (hal.Alarm, bool) {
	if group != 0 || index < 0 || index > 3 {
		return nil, false
	}
	return &rp2Alarm{start: time.Now()}, true
}

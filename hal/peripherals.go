// Package hal is the node's resource acquisition layer. A platform
// Provider exposes raw pins, SPI controllers, DMA channels and timers;
// Take hands out a Peripherals token exactly once per provider or hardware
// id, and every
// sub-resource is then claimed by exactly one owner.
package hal

import (
	"strconv"
	"sync"

	"loranode-go/errcode"
)

// Provider is implemented by each platform (rp2, host simulation).
// Implementations must be pointer types: Take keys its once-guard on them.
type Provider interface {
	Name() string
	BootClocks() Clocks
	Pin(n int) (PinDriver, bool)
	SPI(id string) (SPIController, bool)
	DMAChannels() int
	Timer(group, index int) (Alarm, bool)
}

// HardwareProvider is implemented by providers that front process-wide
// hardware. Take then guards the hardware id instead of the provider
// value, so a second instance over the same chip is rejected too. An
// empty id falls back to the provider value.
type HardwareProvider interface {
	Provider
	HardwareID() string
}

var taken struct {
	mu  sync.Mutex
	set map[any]struct{}
}

func takeKey(p Provider) any {
	if hw, ok := p.(HardwareProvider); ok && hw.HardwareID() != "" {
		return hw.HardwareID()
	}
	return p
}

// Take returns the peripheral set of p. A second call for the same
// provider, or for the same hardware, fails with errcode.PeripheralsTaken.
func Take(p Provider) (*Peripherals, error) {
	if p == nil {
		return nil, errcode.New(errcode.InvalidParams, "hal.Take", "nil provider")
	}
	taken.mu.Lock()
	defer taken.mu.Unlock()
	if taken.set == nil {
		taken.set = make(map[any]struct{})
	}
	key := takeKey(p)
	if _, dup := taken.set[key]; dup {
		return nil, errcode.New(errcode.PeripheralsTaken, "hal.Take", p.Name())
	}
	taken.set[key] = struct{}{}
	return &Peripherals{
		prov:   p,
		pins:   make(map[int]string),
		buses:  make(map[string]string),
		dma:    make(map[int]string),
		timers: make(map[[2]int]string),
	}, nil
}

// Peripherals is the exclusive ownership registry for one provider.
type Peripherals struct {
	mu   sync.Mutex
	prov Provider

	clocks *Clocks

	pins   map[int]string // pin -> owner
	buses  map[string]string
	dma    map[int]string
	timers map[[2]int]string
}

func (p *Peripherals) Name() string { return p.prov.Name() }

// Clocks freezes and returns the boot-default clock profile.
func (p *Peripherals) Clocks() Clocks {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clocks == nil {
		c := p.prov.BootClocks()
		p.clocks = &c
	}
	return *p.clocks
}

func (p *Peripherals) claimPin(op, owner string, n int) (PinDriver, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, inUse := p.pins[n]; inUse {
		return nil, errcode.New(errcode.PinInUse, op, "pin "+strconv.Itoa(n)+" owned by "+prev)
	}
	drv, ok := p.prov.Pin(n)
	if !ok {
		return nil, errcode.New(errcode.UnknownPin, op, "pin "+strconv.Itoa(n))
	}
	p.pins[n] = owner
	return drv, nil
}

func (p *Peripherals) releasePin(n int) {
	p.mu.Lock()
	delete(p.pins, n)
	p.mu.Unlock()
}

// Output claims pin n as a digital output for role and drives it to initial.
func (p *Peripherals) Output(role string, n int, initial Level) (*Output, error) {
	drv, err := p.claimPin("hal.Output", role, n)
	if err != nil {
		return nil, err
	}
	if err := drv.ConfigureOutput(bool(initial)); err != nil {
		p.releasePin(n)
		return nil, errcode.Wrap(errcode.Error, "hal.Output", err)
	}
	return &Output{pin: drv, role: role, level: initial}, nil
}

// Input claims pin n as a digital input for role.
func (p *Peripherals) Input(role string, n int, pull Pull) (*Input, error) {
	drv, err := p.claimPin("hal.Input", role, n)
	if err != nil {
		return nil, err
	}
	if err := drv.ConfigureInput(pull); err != nil {
		p.releasePin(n)
		return nil, errcode.Wrap(errcode.Error, "hal.Input", err)
	}
	return &Input{pin: drv, role: role, pull: pull}, nil
}

// ClaimSPI takes exclusive ownership of an SPI controller.
func (p *Peripherals) ClaimSPI(owner, id string) (SPIController, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, inUse := p.buses[id]; inUse {
		return nil, errcode.New(errcode.BusInUse, "hal.ClaimSPI", id+" owned by "+prev)
	}
	c, ok := p.prov.SPI(id)
	if !ok {
		return nil, errcode.New(errcode.UnknownBus, "hal.ClaimSPI", id)
	}
	p.buses[id] = owner
	return c, nil
}

// ClaimDMA takes exclusive ownership of DMA channel ch.
func (p *Peripherals) ClaimDMA(owner string, ch int) (*DMAChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch < 0 || ch >= p.prov.DMAChannels() {
		return nil, errcode.New(errcode.UnknownDMA, "hal.ClaimDMA", "channel "+strconv.Itoa(ch))
	}
	if prev, inUse := p.dma[ch]; inUse {
		return nil, errcode.New(errcode.DMAInUse, "hal.ClaimDMA", "channel "+strconv.Itoa(ch)+" owned by "+prev)
	}
	p.dma[ch] = owner
	return &DMAChannel{n: ch, owner: owner}, nil
}

// ClaimTimer takes a hardware timer and returns it type-erased as an Alarm.
func (p *Peripherals) ClaimTimer(owner string, group, index int) (Alarm, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := [2]int{group, index}
	id := "timg" + strconv.Itoa(group) + ".timer" + strconv.Itoa(index)
	if prev, inUse := p.timers[key]; inUse {
		return nil, errcode.New(errcode.TimerInUse, "hal.ClaimTimer", id+" owned by "+prev)
	}
	a, ok := p.prov.Timer(group, index)
	if !ok {
		return nil, errcode.New(errcode.UnknownTimer, "hal.ClaimTimer", id)
	}
	p.timers[key] = owner
	return a, nil
}

// Owner reports who holds pin n.
func (p *Peripherals) Owner(n int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.pins[n]
	return o, ok
}

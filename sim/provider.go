// Package sim is the host stand-in for the node's hardware and network:
// a peripheral provider with GPIO, SPI, DMA and timers, an SX1262 chip
// model and a LoRaWAN network that answers joins.
package sim

import (
	"sync"

	"loranode-go/hal"
)

const (
	numPins        = 30
	numDMAChannels = 12
)

// Provider implements hal.Provider for host runs and tests.
type Provider struct {
	name   string
	hwID   string
	clocks hal.Clocks
	alarm  hal.Alarm

	mu   sync.Mutex
	pins map[int]*Pin
	spis map[string]*SPI
}

var _ hal.HardwareProvider = (*Provider)(nil)

type Option func(*Provider)

// WithAlarm sets the alarm behind timer group 0, index 0.
func WithAlarm(a hal.Alarm) Option { return func(p *Provider) { p.alarm = a } }

func WithClocks(c hal.Clocks) Option { return func(p *Provider) { p.clocks = c } }

func WithName(name string) Option { return func(p *Provider) { p.name = name } }

// WithHardwareID makes the provider stand for shared hardware: providers
// with the same id share one hal.Take guard.
func WithHardwareID(id string) Option { return func(p *Provider) { p.hwID = id } }

func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		name:   "sim",
		clocks: hal.Clocks{Profile: "boot-default", CPUHz: 125_000_000, PeripheralHz: 125_000_000},
		pins:   make(map[int]*Pin),
		spis: map[string]*SPI{
			"spi0": {id: "spi0"},
			"spi1": {id: "spi1"},
		},
	}
	for _, o := range opts {
		o(p)
	}
	if p.alarm == nil {
		p.alarm = NewRealtimeAlarm()
	}
	return p
}

func (p *Provider) Name() string           { return p.name }
func (p *Provider) HardwareID() string     { return p.hwID }
func (p *Provider) BootClocks() hal.Clocks { return p.clocks }
func (p *Provider) DMAChannels() int       { return numDMAChannels }
func (p *Provider) Alarm() hal.Alarm       { return p.alarm }

func (p *Provider) Pin(n int) (hal.PinDriver, bool) {
	pin, ok := p.GPIO(n)
	if !ok {
		return nil, false
	}
	return pin, true
}

// GPIO returns the host pin n for inspection.
func (p *Provider) GPIO(n int) (*Pin, bool) {
	if n < 0 || n >= numPins {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pin, ok := p.pins[n]
	if !ok {
		pin = &Pin{number: n, now: p.alarm.Now}
		p.pins[n] = pin
	}
	return pin, true
}

func (p *Provider) SPI(id string) (hal.SPIController, bool) {
	s, ok := p.SPIController(id)
	if !ok {
		return nil, false
	}
	return s, true
}

// SPIController returns the host controller id for inspection.
func (p *Provider) SPIController(id string) (*SPI, bool) {
	s, ok := p.spis[id]
	return s, ok
}

// Timer exposes two groups of two timers. Group 0 index 0 is the
// provider's alarm; the rest run on the host clock.
func (p *Provider) Timer(group, index int) (hal.Alarm, bool) {
	if group < 0 || group > 1 || index < 0 || index > 1 {
		return nil, false
	}
	if group == 0 && index == 0 {
		return p.alarm, true
	}
	return NewRealtimeAlarm(), true
}

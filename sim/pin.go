package sim

import (
	"sync"
	"time"

	"loranode-go/hal"
)

// Edge is one recorded level change of an output.
type Edge struct {
	At    time.Duration
	Level bool
}

// Pin is a host GPIO line. Inputs are driven from tests with Drive.
type Pin struct {
	mu      sync.RWMutex
	number  int
	level   bool
	modeOut bool
	pull    hal.Pull
	edges   []Edge
	now     func() time.Duration
}

var _ hal.PinDriver = (*Pin)(nil)

func (p *Pin) ConfigureInput(pull hal.Pull) error {
	p.mu.Lock()
	p.modeOut = false
	p.pull = pull
	p.level = pull == hal.PullUp
	p.mu.Unlock()
	return nil
}

func (p *Pin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	p.modeOut = true
	p.level = initial
	p.mu.Unlock()
	return nil
}

func (p *Pin) Set(level bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if level != p.level {
		p.edges = append(p.edges, Edge{At: p.now(), Level: level})
	}
	p.level = level
}

func (p *Pin) Get() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.level
}

func (p *Pin) Number() int { return p.number }

// Drive sets the level seen by an input.
func (p *Pin) Drive(level bool) {
	p.mu.Lock()
	p.level = level
	p.mu.Unlock()
}

func (p *Pin) IsOutput() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modeOut
}

func (p *Pin) Pull() hal.Pull {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pull
}

// Edges returns the output level changes recorded so far.
func (p *Pin) Edges() []Edge {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Edge(nil), p.edges...)
}

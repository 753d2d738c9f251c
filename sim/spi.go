package sim

import (
	"sync"

	"loranode-go/hal"
)

// SPI is a host SPI controller. It records every chunk it moves and
// answers reads through an optional responder.
type SPI struct {
	mu         sync.Mutex
	id         string
	cfg        hal.SPIControllerConfig
	configured bool
	chunks     []int
	written    []byte
	respond    func(w, r []byte)
	failNext   error
}

var _ hal.SPIController = (*SPI)(nil)

func (s *SPI) Configure(cfg hal.SPIControllerConfig) error {
	s.mu.Lock()
	s.cfg, s.configured = cfg, true
	s.mu.Unlock()
	return nil
}

func (s *SPI) Tx(w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}
	s.chunks = append(s.chunks, max(len(w), len(r)))
	s.written = append(s.written, w...)
	if s.respond != nil {
		s.respond(w, r)
	} else {
		for i := range r {
			r[i] = 0
		}
	}
	return nil
}

func (s *SPI) ID() string { return s.id }

// Configured returns the controller settings applied by the bus builder.
func (s *SPI) Configured() (hal.SPIControllerConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.configured
}

// Chunks lists the size of every chunk moved, in order.
func (s *SPI) Chunks() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.chunks...)
}

// Written returns all bytes clocked out so far.
func (s *SPI) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.written...)
}

func (s *SPI) SetResponder(fn func(w, r []byte)) {
	s.mu.Lock()
	s.respond = fn
	s.mu.Unlock()
}

// FailNext makes the next chunk fail with err.
func (s *SPI) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

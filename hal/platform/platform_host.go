//go:build !(rp2040 || rp2350)

package platform

import (
	"os"
	"sync"

	"loranode-go/lorawan"
	"loranode-go/radio"
	"loranode-go/sim"
)

var (
	hostOnce sync.Once
	host     *Platform
)

// Default returns the host simulation: a simulated board wired like the
// Pico LoRa HAT, an SX1262 model and a network that accepts the first join.
func Default() *Platform {
	hostOnce.Do(func() {
		board := PicoLoRa
		board.Name = "sim"
		board.SPI = "spi0"
		host = &Platform{
			Board:    board,
			Provider: sim.NewProvider(),
			NewChip:  sim.NewChip().Factory(),
			NewStack: func(r *radio.LorawanRadio, _ *lorawan.RegionalPlan) (lorawan.Stack, error) {
				return sim.NewNetwork(r), nil
			},
			Console: os.Stdout,
		}
	})
	return host
}

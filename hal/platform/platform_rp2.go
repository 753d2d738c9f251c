//go:build rp2040 || rp2350

package platform

import (
	"sync"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"machine"
)

var (
	rp2Once sync.Once
	rp2     *Platform
)

// Default returns the Pico LoRa board. The console is UART0.
func Default() *Platform {
	rp2Once.Do(func() {
		board := PicoLoRa
		console := uartx.UART0
		_ = console.Configure(uartx.UARTConfig{
			BaudRate: board.ConsoleBaud,
			TX:       machine.Pin(board.ConsoleTX),
			RX:       machine.Pin(board.ConsoleRX),
		})
		rp2 = &Platform{
			Board:    board,
			Provider: newRP2Provider(),
			NewChip:  newSX1262,
			NewStack: newTinyGoStack,
			Console:  console,
		}
	})
	return rp2
}

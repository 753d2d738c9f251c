package radio

import (
	"time"

	"tinygo.org/x/drivers"
)

// Chip is the command-level driver for one transceiver.
type Chip interface {
	Detect() bool
	Configure(cfg Config) error
	SetPublicNetwork(public bool)
	SetTxPower(dbm int8)
	Tx(pkt []byte, timeout time.Duration) error
	Rx(timeout time.Duration) ([]byte, error)
}

// ChipFactory attaches a chip driver to the bus and control lines.
type ChipFactory func(bus drivers.SPI, iv *InterfaceVariant) (Chip, error)

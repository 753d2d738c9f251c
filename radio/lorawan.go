package radio

import (
	"time"

	"loranode-go/x/mathx"
)

// DefaultMaxTxPower is the transmit ceiling of the reference node, in dBm.
const DefaultMaxTxPower int8 = 14

// LorawanRadio specialises a generic radio for the LoRaWAN stack and
// never transmits above its power ceiling.
type LorawanRadio struct {
	r          *Radio
	maxTxPower int8
	txPower    int8
}

// NewLorawanRadio wraps r. It performs no I/O.
func NewLorawanRadio(r *Radio, maxTxPower int8) *LorawanRadio {
	return &LorawanRadio{r: r, maxTxPower: maxTxPower, txPower: maxTxPower}
}

// ClampTxPower limits a requested power to the ceiling.
func ClampTxPower(req, ceiling int8) int8 { return mathx.Min(req, ceiling) }

func (l *LorawanRadio) Radio() *Radio    { return l.r }
func (l *LorawanRadio) MaxTxPower() int8 { return l.maxTxPower }
func (l *LorawanRadio) TxPower() int8    { return l.txPower }

// SetTxPower records the power for later transmissions and returns the
// value actually applied.
func (l *LorawanRadio) SetTxPower(dbm int8) int8 {
	l.txPower = ClampTxPower(dbm, l.maxTxPower)
	return l.txPower
}

func (l *LorawanRadio) Tx(pkt []byte, timeout time.Duration) error {
	l.r.chip.SetTxPower(l.txPower)
	return l.r.Tx(pkt, timeout)
}

func (l *LorawanRadio) Rx(timeout time.Duration) ([]byte, error) { return l.r.Rx(timeout) }

package sim

import (
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"loranode-go/errcode"
	"loranode-go/radio"
)

// SX126x opcodes the model puts on the bus.
const (
	opGetStatus       = 0xC0
	opSetStandby      = 0x80
	opSetRegulator    = 0x96
	opSetDIO3AsTCXO   = 0x97
	opSetDIO2RFSwitch = 0x9D
	opSetPacketType   = 0x8A
	opWriteRegister   = 0x0D
	opWriteBuffer     = 0x0E
	opSetTxParams     = 0x8E
	opSetTx           = 0x83

	regSyncWord = 0x0740
	syncPublic  = 0x3444
	syncPrivate = 0x1424
)

// Transmission is one packet sent by the chip model.
type Transmission struct {
	Payload  []byte
	PowerdBm int8
}

// Chip models an SX126x behind the SPI bus. Every command is written
// through the bus it was attached to.
type Chip struct {
	mu sync.Mutex

	present        bool
	detectFailures int
	configFailures int

	bus drivers.SPI
	iv  *radio.InterfaceVariant

	cfg        radio.Config
	configured bool
	public     bool
	txPower    int8
	sent       []Transmission
	inbox      [][]byte
	commands   int
}

var _ radio.Chip = (*Chip)(nil)

type ChipOption func(*Chip)

// Absent makes Detect fail on every attempt.
func Absent() ChipOption { return func(c *Chip) { c.present = false } }

// FailDetect makes the first n Detect calls fail.
func FailDetect(n int) ChipOption { return func(c *Chip) { c.detectFailures = n } }

// FailConfigure makes the first n Configure calls fail.
func FailConfigure(n int) ChipOption { return func(c *Chip) { c.configFailures = n } }

func NewChip(opts ...ChipOption) *Chip {
	c := &Chip{present: true}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Factory attaches this model to a bus.
func (c *Chip) Factory() radio.ChipFactory {
	return func(bus drivers.SPI, iv *radio.InterfaceVariant) (radio.Chip, error) {
		c.mu.Lock()
		c.bus, c.iv = bus, iv
		c.mu.Unlock()
		return c, nil
	}
}

func (c *Chip) command(b ...byte) error {
	c.commands++
	return c.bus.Tx(b, nil)
}

func (c *Chip) Detect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var status [2]byte
	if err := c.bus.Tx([]byte{opGetStatus, 0x00}, status[:]); err != nil {
		return false
	}
	c.commands++
	if c.detectFailures > 0 {
		c.detectFailures--
		return false
	}
	return c.present
}

func (c *Chip) Configure(cfg radio.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.configFailures > 0 {
		c.configFailures--
		return errcode.New(errcode.Error, "sim.Chip.Configure", "config handshake rejected")
	}
	regulator := byte(0)
	if cfg.UseDCDC {
		regulator = 1
	}
	tcxo := cfg.TCXO.DIO3Params()
	for _, cmd := range [][]byte{
		{opSetStandby, 0x00},
		{opSetRegulator, regulator},
		append([]byte{opSetDIO3AsTCXO}, tcxo...),
		{opSetDIO2RFSwitch, 0x01},
		{opSetPacketType, 0x01},
		{opWriteRegister, byte(radio.RegRxGain >> 8), byte(radio.RegRxGain & 0xFF), cfg.RxGain()},
	} {
		if cmd[0] == opSetDIO3AsTCXO && tcxo == nil {
			continue
		}
		if err := c.command(cmd...); err != nil {
			return err
		}
	}
	c.cfg, c.configured = cfg, true
	return nil
}

func (c *Chip) SetPublicNetwork(public bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	word := uint16(syncPrivate)
	if public {
		word = syncPublic
	}
	c.public = public
	_ = c.command(opWriteRegister, byte(regSyncWord>>8), byte(regSyncWord&0xFF), byte(word>>8), byte(word))
}

func (c *Chip) SetTxPower(dbm int8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txPower = dbm
	_ = c.command(opSetTxParams, byte(dbm), 0x04)
}

func (c *Chip) Tx(pkt []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.configured {
		return errcode.New(errcode.Busy, "sim.Chip.Tx", "not configured")
	}
	if err := c.command(append([]byte{opWriteBuffer, 0x00}, pkt...)...); err != nil {
		return err
	}
	if err := c.command(opSetTx, 0x00, 0x00, 0x00); err != nil {
		return err
	}
	c.sent = append(c.sent, Transmission{Payload: append([]byte(nil), pkt...), PowerdBm: c.txPower})
	return nil
}

// Rx returns the next injected packet or times out immediately.
func (c *Chip) Rx(timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbox) == 0 {
		return nil, errcode.New(errcode.Timeout, "sim.Chip.Rx", timeout.String())
	}
	pkt := c.inbox[0]
	c.inbox = c.inbox[1:]
	return pkt, nil
}

// Inject queues a packet for Rx.
func (c *Chip) Inject(pkt []byte) {
	c.mu.Lock()
	c.inbox = append(c.inbox, append([]byte(nil), pkt...))
	c.mu.Unlock()
}

// Sent returns the packets transmitted so far.
func (c *Chip) Sent() []Transmission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transmission(nil), c.sent...)
}

func (c *Chip) Configured() (radio.Config, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, c.configured
}

func (c *Chip) PublicNetwork() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.public
}

func (c *Chip) TxPower() int8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txPower
}

// Commands counts the commands written to the bus.
func (c *Chip) Commands() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commands
}

// Package radio assembles the layered LoRa transport: an interface
// variant over the control pins, a generic radio over a chip driver and
// the LoRaWAN specialisation that enforces the transmit power ceiling.
package radio

type ChipVariant uint8

const (
	SX1261 ChipVariant = iota + 1
	SX1262
	SX1268
)

func (c ChipVariant) String() string {
	switch c {
	case SX1261:
		return "sx1261"
	case SX1262:
		return "sx1262"
	case SX1268:
		return "sx1268"
	default:
		return "unknown"
	}
}

// TCXOVoltage is the DIO3 supply level for the reference oscillator.
type TCXOVoltage uint8

const (
	TCXONone TCXOVoltage = iota
	TCXO1V6
	TCXO1V7
	TCXO1V8
	TCXO2V2
	TCXO2V4
	TCXO2V7
	TCXO3V0
	TCXO3V3
)

var tcxoMillivolts = [...]uint16{0, 1600, 1700, 1800, 2200, 2400, 2700, 3000, 3300}

func (v TCXOVoltage) Millivolts() uint16 {
	if int(v) >= len(tcxoMillivolts) {
		return 0
	}
	return tcxoMillivolts[v]
}

// Config is the chip configuration applied during init.
type Config struct {
	Chip    ChipVariant
	TCXO    TCXOVoltage
	UseDCDC bool
	RxBoost bool
}

// DefaultConfig matches the Pico LoRa SX1262 module.
func DefaultConfig() Config {
	return Config{Chip: SX1262, TCXO: TCXO1V7, UseDCDC: true, RxBoost: false}
}

// TCXOFromMillivolts maps a supply voltage to its DIO3 setting. Zero
// means no TCXO.
func TCXOFromMillivolts(mv uint16) (TCXOVoltage, bool) {
	for i, v := range tcxoMillivolts {
		if v == mv {
			return TCXOVoltage(i), true
		}
	}
	return TCXONone, false
}

// SX126x values applied during Configure. The start-up delay is in
// 15.625 µs steps.
const (
	RegRxGain = 0x08AC

	rxGainBoosted     = 0x96
	rxGainPowerSaving = 0x94
	tcxoStartup       = 0x000140
)

// RxGain is the RX_GAIN register value for the configured mode.
func (c Config) RxGain() byte {
	if c.RxBoost {
		return rxGainBoosted
	}
	return rxGainPowerSaving
}

// DIO3Params is the SetDIO3AsTCXOCtrl argument list: the voltage code
// and the 24-bit start-up delay. It is nil without a TCXO.
func (v TCXOVoltage) DIO3Params() []byte {
	if v.Millivolts() == 0 {
		return nil
	}
	return []byte{byte(v) - 1, byte(tcxoStartup >> 16), byte(tcxoStartup >> 8), byte(tcxoStartup & 0xff)}
}

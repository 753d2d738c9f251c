//go:build rp2040 || rp2350

package platform

import (
	"context"
	"time"

	"machine"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/lora"
	tinylorawan "tinygo.org/x/drivers/lora/lorawan"
	"tinygo.org/x/drivers/lora/lorawan/region"
	"tinygo.org/x/drivers/sx126x"

	"loranode-go/errcode"
	"loranode-go/hal"
	"loranode-go/lorawan"
	"loranode-go/radio"
)

var errNoChipSelect = errcode.New(errcode.BusConfig, "platform.newSX1262", "radio bus needs a software chip select")

// sx126xChip adapts the tinygo SX126x driver to radio.Chip.
type sx126xChip struct {
	dev  *sx126x.Device
	rc   *sx126x.RadioControl
	freq uint32
}

// newSX1262 attaches the driver. The radio control takes over NSS, BUSY
// and DIO1; the RF switch is driven by DIO2 so no switch pins are given.
func newSX1262(bus drivers.SPI, iv *radio.InterfaceVariant) (radio.Chip, error) {
	dev, ok := bus.(*hal.SPIDevice)
	if !ok {
		return nil, errNoChipSelect
	}
	d := sx126x.New(dev.Bus())
	d.SetDeviceType(sx126x.DEVICE_TYPE_SX1262)
	rc := sx126x.NewRadioControl(
		machinePin(dev.ChipSelect().Driver()),
		machinePin(iv.Busy().Driver()),
		machinePin(iv.DIO1().Driver()),
		machine.NoPin, machine.NoPin, machine.NoPin,
	)
	if err := d.SetRadioController(rc); err != nil {
		return nil, err
	}
	// The radio control configures BUSY and DIO1 as pulled-down inputs;
	// the module drives both lines so they stay floating.
	if err := iv.ReassertInputs(); err != nil {
		return nil, err
	}
	return &sx126xChip{dev: d, rc: rc, freq: lora.MHz_868_1}, nil
}

func (c *sx126xChip) Detect() bool { return c.dev.DetectDevice() }

func (c *sx126xChip) Configure(cfg radio.Config) error {
	if cfg.Chip != radio.SX1262 {
		return errcode.New(errcode.Unsupported, "sx126x.Configure", cfg.Chip.String())
	}
	if cfg.UseDCDC {
		c.dev.SetRegulatorMode(sx126x.SX126X_REGULATOR_DC_DC)
	}
	if p := cfg.TCXO.DIO3Params(); p != nil {
		c.dev.ExecSetCommand(sx126x.SX126X_CMD_SET_DIO3_AS_TCXO_CTRL, p)
	}
	c.dev.ExecSetCommand(sx126x.SX126X_CMD_SET_DIO2_AS_RF_SWITCH_CTRL, []uint8{0x01})
	c.dev.WriteRegister(sx126x.SX126X_REG_RX_GAIN, []uint8{cfg.RxGain()})
	c.dev.LoraConfig(lora.Config{
		Freq:           c.freq,
		Bw:             lora.Bandwidth_125_0,
		Sf:             lora.SpreadingFactor9,
		Cr:             lora.CodingRate4_7,
		HeaderType:     lora.HeaderExplicit,
		Preamble:       12,
		Ldr:            lora.LowDataRateOptimizeOff,
		Iq:             lora.IQStandard,
		Crc:            lora.CRCOn,
		SyncWord:       lora.SyncPublic,
		LoraTxPowerDBm: radio.DefaultMaxTxPower,
	})
	return nil
}

func (c *sx126xChip) SetPublicNetwork(public bool) { c.dev.SetPublicNetwork(public) }
func (c *sx126xChip) SetTxPower(dbm int8)          { c.dev.SetTxPower(dbm) }

func (c *sx126xChip) Tx(pkt []byte, timeout time.Duration) error {
	return c.dev.Tx(pkt, uint32(timeout.Milliseconds()))
}

func (c *sx126xChip) Rx(timeout time.Duration) ([]byte, error) {
	return c.dev.Rx(uint32(timeout.Milliseconds()))
}

// cappedRadio is the device as the tinygo stack sees it, with the
// LoRaWAN power ceiling applied to every power request.
type cappedRadio struct {
	*sx126x.Device
	ceiling int8
}

func (r cappedRadio) SetTxPower(dbm int8) {
	r.Device.SetTxPower(radio.ClampTxPower(dbm, r.ceiling))
}

// tinyStack drives tinygo's LoRaWAN MAC over the assembled radio.
type tinyStack struct {
	session *tinylorawan.Session
	otaa    *tinylorawan.Otaa
}

func newTinyGoStack(lr *radio.LorawanRadio, plan *lorawan.RegionalPlan) (lorawan.Stack, error) {
	chip, ok := lr.Radio().Chip().(*sx126xChip)
	if !ok {
		return nil, errcode.New(errcode.Unsupported, "platform.newTinyGoStack", "radio is not an sx126x")
	}
	freq, err := stackFrequency(plan)
	if err != nil {
		return nil, err
	}
	switch plan.Region {
	case lorawan.EU868:
		tinylorawan.UseRegionSettings(region.EU868())
	case lorawan.US915:
		tinylorawan.UseRegionSettings(region.US915())
	case lorawan.AU915:
		tinylorawan.UseRegionSettings(region.AU915())
	default:
		return nil, errcode.New(errcode.UnsupportedRegion, "platform.newTinyGoStack", string(plan.Region))
	}
	// Configure ran before the region was known; retune to the plan.
	chip.freq = freq
	chip.dev.SetFrequency(freq)
	tinylorawan.UseRadio(cappedRadio{Device: chip.dev, ceiling: lr.MaxTxPower()})
	return &tinyStack{session: &tinylorawan.Session{}, otaa: &tinylorawan.Otaa{}}, nil
}

func (s *tinyStack) Join(ctx context.Context, mode lorawan.JoinMode) (lorawan.JoinResponse, error) {
	if err := ctx.Err(); err != nil {
		return lorawan.JoinResponse{}, err
	}
	if err := s.otaa.SetDevEUI(mode.DevEUI[:]); err != nil {
		return lorawan.JoinResponse{}, err
	}
	if err := s.otaa.SetAppEUI(mode.AppEUI[:]); err != nil {
		return lorawan.JoinResponse{}, err
	}
	if err := s.otaa.SetAppKey(mode.AppKey[:]); err != nil {
		return lorawan.JoinResponse{}, err
	}
	if err := tinylorawan.Join(s.otaa, s.session); err != nil {
		return lorawan.JoinResponse{}, errcode.Wrap(errcode.NoJoinAccept, "lorawan.Join", err)
	}
	var resp lorawan.JoinResponse
	copy(resp.DevAddr[:], s.session.DevAddr[:])
	copy(resp.NwkSKey[:], s.session.NwkSKey[:])
	copy(resp.AppSKey[:], s.session.AppSKey[:])
	return resp, nil
}

func (s *tinyStack) Send(ctx context.Context, _ uint8, payload []byte, _ bool) (lorawan.TxReport, error) {
	if err := ctx.Err(); err != nil {
		return lorawan.TxReport{}, err
	}
	fcnt := s.session.FCntUp
	err := tinylorawan.SendUplink(payload, s.session)
	// The MAC spends the counter when it builds the frame.
	return lorawan.TxReport{FCnt: fcnt, Sent: err == nil || s.session.FCntUp != fcnt}, err
}

// Package node is the node's bring-up sequence and main task: acquire
// the peripherals, build the bus and the radio, join the network, then
// spawn the heartbeat and blink the LED forever.
package node

import (
	"context"
	"encoding/binary"
	"time"

	"loranode-go/bus"
	"loranode-go/errcode"
	"loranode-go/hal"
	"loranode-go/hal/platform"
	"loranode-go/lorawan"
	"loranode-go/radio"
	"loranode-go/sched"
	"loranode-go/services/config"
	"loranode-go/services/heartbeat"
	"loranode-go/x/logx"
)

const (
	MsgInit     = "Init!"
	MsgJoining  = "Joining LoRaWAN network"
	MsgJoined   = "LoRaWAN network joined"
	MsgBing     = "Bing!"
	MsgUnjoined = " (unjoined)"
)

const statusVersion = 0x01

type Node struct {
	plat *platform.Platform
	cfg  config.NodeConfig
	id   lorawan.Identity
	log  logx.Logger

	ex   *sched.Executor
	bus  *bus.Bus
	conn *bus.Connection

	periph *hal.Peripherals
	led    *hal.Output
	spi    *hal.SPIBus
	lora   *radio.LorawanRadio
	dev    *lorawan.Device
	hb     *heartbeat.Service

	ticks uint32
}

func New(plat *platform.Platform, cfg config.NodeConfig, id lorawan.Identity, log logx.Logger) *Node {
	b := bus.NewBus(8)
	return &Node{
		plat: plat,
		cfg:  cfg,
		id:   id,
		log:  log,
		ex:   sched.New(sched.WithPoolSize(cfg.Executor.PoolSize), sched.WithLogger(log.With("sched"))),
		bus:  b,
		conn: b.NewConnection("node"),
	}
}

func (n *Node) Executor() *sched.Executor { return n.ex }
func (n *Node) Bus() *bus.Bus             { return n.bus }
func (n *Node) Device() *lorawan.Device   { return n.dev }
func (n *Node) LED() *hal.Output          { return n.led }
func (n *Node) SPI() *hal.SPIBus          { return n.spi }
func (n *Node) Heartbeat() *heartbeat.Service {
	return n.hb
}

// Run executes the main task. It returns only on a fatal error or when
// ctx ends; the heartbeat task keeps its own schedule.
func (n *Node) Run(ctx context.Context) error {
	return n.ex.Run(ctx, n.main)
}

func (n *Node) main(ctx context.Context) error {
	n.log.Info(MsgInit)
	if err := n.bringUp(ctx); err != nil {
		n.log.Error("bring-up failed", logx.Err(err))
		return err
	}

	n.log.Info(MsgJoining,
		logx.Str("deveui", n.id.DevEUI.String()),
		logx.Str("appeui", n.id.AppEUI.String()),
		logx.Str("region", string(n.dev.Region().Region)))
	resp, err := n.dev.Join(ctx, n.id)
	switch {
	case err == nil:
		n.log.Info(MsgJoined + ": " + resp.String())
	case n.dev.State() == lorawan.Failed:
		n.log.Error("join failed", logx.Int("attempts", n.dev.JoinAttempts()), logx.Err(err))
		return err
	default:
		n.log.Warn("join failed, running unjoined", logx.Int("attempts", n.dev.JoinAttempts()), logx.Err(err))
	}

	n.hb = heartbeat.New(n.ex, n.bus.NewConnection("heartbeat"), n.log, n.cfg.Heartbeat.Period)
	if err := n.ex.Spawn(ctx, "heartbeat", n.hb.Run); err != nil {
		n.log.Error("heartbeat spawn failed", logx.Err(err))
	}
	return n.loop(ctx)
}

// stageErr tags a bring-up failure with the step that raised it.
func stageErr(stage string, err error) error {
	return errcode.Wrap(errcode.Of(err), "node."+stage, err)
}

func (n *Node) bringUp(ctx context.Context) error {
	b := n.plat.Board
	cfg := n.cfg

	p, err := hal.Take(n.plat.Provider)
	if err != nil {
		return stageErr("take", err)
	}
	n.periph = p
	clocks := p.Clocks()
	n.log.Debug("clocks frozen", logx.Str("profile", clocks.Profile), logx.Uint32("cpu_hz", clocks.CPUHz))

	alarm, err := p.ClaimTimer("executor", b.TimerGroup, b.TimerIndex)
	if err != nil {
		return stageErr("timer", err)
	}
	if err := n.ex.Install(alarm); err != nil {
		return stageErr("timer", err)
	}

	if n.led, err = p.Output("led", b.LED, hal.High); err != nil {
		return stageErr("gpio", err)
	}
	nss, err := p.Output("nss", b.NSS, hal.High)
	if err != nil {
		return stageErr("gpio", err)
	}
	reset, err := p.Output("reset", b.Reset, hal.High)
	if err != nil {
		return stageErr("gpio", err)
	}
	dio1, err := p.Input("dio1", b.DIO1, hal.PullNone)
	if err != nil {
		return stageErr("gpio", err)
	}
	busy, err := p.Input("busy", b.Busy, hal.PullNone)
	if err != nil {
		return stageErr("gpio", err)
	}

	dma, err := p.ClaimDMA("spi", cfg.Bus.DMAChannel)
	if err != nil {
		return stageErr("dma", err)
	}
	dma.ConfigureForAsync(false, hal.Priority(cfg.Bus.DMAPriority))
	tx, rx := hal.NewDescriptors(cfg.Bus.DMABufferBytes)
	n.spi, err = hal.BuildBus(p, clocks, hal.BusConfig{
		Controller: b.SPI,
		Frequency:  cfg.Bus.FrequencyHz,
		Mode:       hal.Mode(cfg.Bus.Mode),
		SCK:        b.SCK,
		SDO:        b.SDO,
		SDI:        b.SDI,
		CS:         hal.NoPin,
		Timeout:    cfg.Bus.TransferTimeout,
	}, dma, tx, rx)
	if err != nil {
		return stageErr("bus", err)
	}
	n.log.Debug("bus ready", logx.Uint32("hz", cfg.Bus.FrequencyHz), logx.Int("descriptors", tx.Len()))

	iv, err := radio.NewInterfaceVariant(reset, dio1, busy, nil, nil)
	if err != nil {
		return stageErr("radio", err)
	}
	tcxo, ok := radio.TCXOFromMillivolts(cfg.Radio.TCXOMillivolts)
	if !ok {
		return stageErr("radio", errcode.New(errcode.InvalidConfig, "radio", "unsupported tcxo voltage"))
	}
	r, err := radio.New(ctx, n.spi.Device(nss), iv,
		radio.Config{Chip: radio.SX1262, TCXO: tcxo, UseDCDC: cfg.Radio.UseDCDC, RxBoost: cfg.Radio.RxBoost},
		cfg.Radio.PublicNetwork, n.plat.NewChip, n.ex,
		radio.WithInitAttempts(cfg.Radio.InitAttempts),
		radio.WithInitBackoff(cfg.Radio.InitBackoff, cfg.Radio.InitBackoffMax),
		radio.WithBusyTimeout(cfg.Radio.BusyTimeout),
		radio.WithLogger(n.log.With("radio")))
	if err != nil {
		return stageErr("radio", err)
	}
	n.lora = radio.NewLorawanRadio(r, cfg.MaxTxPower)

	plan, err := lorawan.LookupRegion(cfg.Region)
	if err != nil {
		return stageErr("region", err)
	}
	stack, err := n.plat.NewStack(n.lora, plan)
	if err != nil {
		return stageErr("stack", err)
	}
	n.dev = lorawan.NewDevice(plan, n.lora, stack, cfg.Seed,
		lorawan.WithJoinPolicy(cfg.JoinPolicy()),
		lorawan.WithYielder(n.ex),
		lorawan.WithLogger(n.log.With("lorawan")),
		lorawan.WithStateObserver(lorawan.BusObserver(n.conn)))
	config.Publish(n.conn, cfg)
	n.log.Debug("radio ready", logx.Int("max_tx_power", int(n.lora.MaxTxPower())))
	return nil
}

// loop is the periodic half of the main task. It follows changes to the
// main section retained on config/main.
func (n *Node) loop(ctx context.Context) error {
	conn := n.bus.NewConnection("main")
	cfgSub := conn.Subscribe(config.MainTopic())
	defer conn.Unsubscribe(cfgSub)

	joined := n.dev.State() == lorawan.Joined
	line := MsgBing
	if !joined {
		line = MsgBing + MsgUnjoined
	}
	tick := n.ex.NewTicker(n.period(joined))
	for {
		n.poll(tick, cfgSub, joined)
		n.log.Info(line)
		n.led.Toggle()
		n.ticks++
		if joined && n.cfg.Main.UplinkEvery > 0 && n.ticks%uint32(n.cfg.Main.UplinkEvery) == 0 {
			n.uplink(ctx)
		}
		if err := tick.Next(ctx); err != nil {
			return err
		}
	}
}

func (n *Node) period(joined bool) time.Duration {
	if joined {
		return n.cfg.Main.Period
	}
	return n.cfg.Main.DegradedPeriod
}

// poll applies pending main config updates without blocking.
func (n *Node) poll(tick *sched.Ticker, sub *bus.Subscription, joined bool) {
	for {
		select {
		case msg := <-sub.Channel():
			mc, ok := msg.Payload.(config.MainConfig)
			if !ok {
				continue
			}
			if err := mc.Validate(); err != nil {
				n.log.Warn("main config rejected", logx.Err(err))
				continue
			}
			n.cfg.Main = mc
			if p := n.period(joined); p != tick.Period() {
				tick.Reset(p)
				n.log.Info("main period changed", logx.Dur("period", p))
			}
		default:
			return
		}
	}
}

// uplink sends a status frame: version, main tick count, heartbeat count.
// Failures wait for the next uplink tick.
func (n *Node) uplink(ctx context.Context) {
	payload := make([]byte, 0, 9)
	payload = append(payload, statusVersion)
	payload = binary.BigEndian.AppendUint32(payload, n.ticks)
	payload = binary.BigEndian.AppendUint32(payload, n.hb.Beats())
	if err := n.dev.Send(ctx, n.cfg.Main.UplinkPort, payload, n.cfg.Main.ConfirmedUplinks); err != nil {
		n.log.Warn("uplink failed", logx.Err(err))
		return
	}
	n.log.Debug("uplink sent", logx.Int("tick", int(n.ticks)))
}

package node_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"loranode-go/errcode"
	"loranode-go/hal"
	"loranode-go/hal/platform"
	"loranode-go/lorawan"
	"loranode-go/radio"
	"loranode-go/services/config"
	"loranode-go/services/heartbeat"
	"loranode-go/services/node"
	"loranode-go/sim"
	"loranode-go/x/logx"
)

// boot is when the first main tick lands: the radio reset pulse plus
// its settle time.
const boot = 30 * time.Millisecond

type logLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// lines returns every non-debug log line in order.
func (b *syncBuffer) lines(t *testing.T) []logLine {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []logLine
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var l logLine
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			t.Fatalf("bad log line %q: %v", sc.Text(), err)
		}
		if l.Level != "debug" {
			out = append(out, l)
		}
	}
	return out
}

func count(lines []logLine, msg string) int {
	n := 0
	for _, l := range lines {
		if l.Message == msg {
			n++
		}
	}
	return n
}

var testID = lorawan.Identity{
	DevEUI: lorawan.EUI{0x70, 0xB3, 0xD5, 0x7E, 0xD0, 0x05, 0x1A, 0x2F},
	AppEUI: lorawan.EUI{0, 0, 0, 0, 0, 0, 0, 1},
	AppKey: lorawan.Key{0x2B, 0x7E, 0x15, 0x16, 0x28, 0xAE, 0xD2, 0xA6},
}

type scenario struct {
	cfg     config.NodeConfig
	chip    []sim.ChipOption
	network []sim.NetworkOption
}

type harness struct {
	clk  *sim.ManualClock
	prov *sim.Provider
	plat *platform.Platform
	chip *sim.Chip
	net  *sim.Network
	logs *syncBuffer
	node *node.Node

	cancel   context.CancelFunc
	done     chan error
	finished bool
	err      error
}

func newHarness(t *testing.T, sc scenario) *harness {
	t.Helper()
	h := &harness{clk: sim.NewManualClock(), logs: &syncBuffer{}, chip: sim.NewChip(sc.chip...)}
	h.prov = sim.NewProvider(sim.WithAlarm(h.clk))
	h.plat = &platform.Platform{
		Board:    platform.PicoLoRa,
		Provider: h.prov,
		NewChip:  h.chip.Factory(),
		NewStack: func(r *radio.LorawanRadio, _ *lorawan.RegionalPlan) (lorawan.Stack, error) {
			h.net = sim.NewNetwork(r, sc.network...)
			return h.net, nil
		},
	}
	h.node = node.New(h.plat, sc.cfg, testID, logx.New(h.logs))
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.node.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if !h.finished {
			h.wait(t)
		}
	})
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case h.err = <-h.done:
		h.finished = true
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
	}
	return h.err
}

func (h *harness) runUntil(t *testing.T, at time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.clk.RunUntil(ctx, h.node.Executor(), at); err != nil {
		t.Fatalf("RunUntil(%v): %v", at, err)
	}
}

// runToExit steps time until the main task returns.
func (h *harness) runToExit(t *testing.T) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stepped := make(chan struct{})
	go func() {
		defer close(stepped)
		_ = h.clk.RunUntil(ctx, h.node.Executor(), time.Hour)
	}()
	err := h.wait(t)
	cancel()
	<-stepped
	return err
}

func simConfig() config.NodeConfig {
	cfg := config.Default()
	cfg.Board = "sim"
	return cfg
}

func TestNode_JoinedRun(t *testing.T) {
	h := newHarness(t, scenario{cfg: simConfig()})
	h.start(t)
	h.runUntil(t, boot+10*time.Second)

	lines := h.logs.lines(t)
	if len(lines) < 4 {
		t.Fatalf("too few lines: %+v", lines)
	}
	if lines[0].Message != node.MsgInit || lines[1].Message != node.MsgJoining {
		t.Fatalf("boot lines = %+v", lines[:2])
	}
	if !strings.HasPrefix(lines[2].Message, node.MsgJoined+": JoinResponse{DevAddr: 26011BDA") {
		t.Fatalf("join line = %q", lines[2].Message)
	}
	if strings.Contains(lines[2].Message, testID.AppKey.Hex()) {
		t.Fatalf("join line leaks key material: %q", lines[2].Message)
	}
	if lines[3].Message != node.MsgBing {
		t.Fatalf("first tick line = %q", lines[3].Message)
	}
	if n := count(lines, node.MsgBing); n != 3 {
		t.Fatalf("Bing! x%d, want 3", n)
	}
	if n := count(lines, heartbeat.Message); n != 11 {
		t.Fatalf("heartbeat x%d, want 11", n)
	}
	for _, l := range lines {
		if l.Level == "warn" || l.Level == "error" {
			t.Fatalf("unexpected %s line %q", l.Level, l.Message)
		}
	}

	joins := h.net.Joins()
	if len(joins) != 1 || joins[0].DevEUI != testID.DevEUI || joins[0].AppEUI != testID.AppEUI {
		t.Fatalf("joins = %+v", joins)
	}
	if h.node.Device().State() != lorawan.Joined {
		t.Fatalf("state = %s", h.node.Device().State())
	}
}

func TestNode_LEDTogglesOnMainPeriod(t *testing.T) {
	h := newHarness(t, scenario{cfg: simConfig()})
	h.start(t)
	h.runUntil(t, boot+15*time.Second)

	led, _ := h.prov.GPIO(platform.PicoLoRa.LED)
	edges := led.Edges()
	if len(edges) != 4 {
		t.Fatalf("edges = %+v", edges)
	}
	if edges[0].At != boot || edges[0].Level {
		t.Fatalf("first edge = %+v", edges[0])
	}
	for i := 1; i < len(edges); i++ {
		if gap := edges[i].At - edges[i-1].At; gap != 5*time.Second {
			t.Fatalf("edge %d gap = %v", i, gap)
		}
		if edges[i].Level == edges[i-1].Level {
			t.Fatalf("edge %d did not toggle", i)
		}
	}
}

func TestNode_BringUpOrder(t *testing.T) {
	h := newHarness(t, scenario{cfg: simConfig()})
	h.start(t)
	h.runUntil(t, boot)

	b := platform.PicoLoRa
	for _, pin := range []int{b.NSS, b.Reset, b.LED} {
		p, _ := h.prov.GPIO(pin)
		if !p.IsOutput() {
			t.Fatalf("pin %d not an output", pin)
		}
	}
	for _, pin := range []int{b.DIO1, b.Busy} {
		p, _ := h.prov.GPIO(pin)
		if p.IsOutput() || p.Pull() != hal.PullNone {
			t.Fatalf("pin %d should be a floating input", pin)
		}
	}
	ctrl, _ := h.prov.SPIController(b.SPI)
	if cfg, ok := ctrl.Configured(); !ok || cfg.Frequency != 100_000 {
		t.Fatalf("spi config = %+v, %v", cfg, ok)
	}
	got, ok := h.chip.Configured()
	if !ok || got.TCXO.Millivolts() != 1700 || !got.UseDCDC {
		t.Fatalf("chip config = %+v", got)
	}
	if !h.chip.PublicNetwork() {
		t.Fatal("public sync word not set")
	}
	if h.node.Device().Radio().TxPower() != 14 {
		t.Fatalf("tx power = %d", h.node.Device().Radio().TxPower())
	}
	// Every chip command framed by NSS: one low and one high edge each.
	nss, _ := h.prov.GPIO(b.NSS)
	if edges := nss.Edges(); len(edges) == 0 || len(edges)%2 != 0 {
		t.Fatalf("nss edges = %d", len(edges))
	}
}

func TestNode_Uplinks(t *testing.T) {
	cfg := simConfig()
	cfg.Main.UplinkEvery = 2
	cfg.Main.UplinkPort = 9
	h := newHarness(t, scenario{cfg: cfg})
	h.start(t)
	h.runUntil(t, boot+20*time.Second)

	ups := h.net.Uplinks()
	if len(ups) != 2 {
		t.Fatalf("uplinks = %d, want 2", len(ups))
	}
	for i, up := range ups {
		if up.Port != 9 || len(up.Payload) != 9 || up.Payload[0] != 0x01 {
			t.Fatalf("uplink %d = %+v", i, up)
		}
		if ticks := binary.BigEndian.Uint32(up.Payload[1:5]); ticks != uint32(2*(i+1)) {
			t.Fatalf("uplink %d ticks = %d", i, ticks)
		}
		if up.FCnt != uint32(i) {
			t.Fatalf("uplink %d fcnt = %d", i, up.FCnt)
		}
	}
}

func TestNode_FailedUplinkKeepsRunning(t *testing.T) {
	cfg := simConfig()
	cfg.Main.UplinkEvery = 1
	h := newHarness(t, scenario{cfg: cfg, network: []sim.NetworkOption{
		sim.FailUplinks(func(i int) bool { return i == 1 }),
	}})
	h.start(t)
	h.runUntil(t, boot+10*time.Second)

	lines := h.logs.lines(t)
	if n := count(lines, "uplink failed"); n != 1 {
		t.Fatalf("uplink failed x%d", n)
	}
	if n := count(lines, node.MsgBing); n != 3 {
		t.Fatalf("Bing! x%d", n)
	}
	if len(h.net.Uplinks()) != 2 {
		t.Fatalf("uplinks = %d", len(h.net.Uplinks()))
	}

	// Every data frame on air carries a fresh counter, the failed one too.
	var fcnts []uint16
	for _, tx := range h.chip.Sent() {
		p := tx.Payload
		if len(p) >= 8 && (p[0] == 0x40 || p[0] == 0x80) {
			fcnts = append(fcnts, binary.LittleEndian.Uint16(p[6:8]))
		}
	}
	if len(fcnts) != 3 {
		t.Fatalf("data frames on air = %d, want 3", len(fcnts))
	}
	for i := 1; i < len(fcnts); i++ {
		if fcnts[i] <= fcnts[i-1] {
			t.Fatalf("on-air FCnts %v not strictly increasing", fcnts)
		}
	}
}

func TestNode_DegradedRun(t *testing.T) {
	cfg := simConfig()
	cfg.Join.MaxAttempts = 2
	cfg.Join.Jitter = 0
	h := newHarness(t, scenario{cfg: cfg, network: []sim.NetworkOption{sim.RejectAllJoins()}})
	h.start(t)

	// Second join attempt after one 5s backoff, then 1s degraded ticks.
	joinDone := boot + 5*time.Second
	h.runUntil(t, joinDone+3*time.Second)

	lines := h.logs.lines(t)
	if n := count(lines, "join failed, running unjoined"); n != 1 {
		t.Fatalf("degrade warning x%d", n)
	}
	if n := count(lines, node.MsgBing+node.MsgUnjoined); n != 4 {
		t.Fatalf("unjoined ticks x%d, want 4", n)
	}
	if n := count(lines, heartbeat.Message+node.MsgUnjoined); n != 4 {
		t.Fatalf("unjoined heartbeats x%d, want 4", n)
	}
	if count(lines, node.MsgBing) != 0 || count(lines, heartbeat.Message) != 0 {
		t.Fatal("joined lines logged while unjoined")
	}
	if len(h.net.Joins()) != 2 || h.node.Device().State() != lorawan.Unjoined {
		t.Fatalf("joins=%d state=%s", len(h.net.Joins()), h.node.Device().State())
	}

	led, _ := h.prov.GPIO(platform.PicoLoRa.LED)
	edges := led.Edges()
	if len(edges) != 4 || edges[0].At != joinDone || edges[1].At-edges[0].At != time.Second {
		t.Fatalf("led edges = %+v", edges)
	}
}

func TestNode_AbortRun(t *testing.T) {
	cfg := simConfig()
	cfg.Join.MaxAttempts = 1
	cfg.Join.OnFailure = "abort"
	h := newHarness(t, scenario{cfg: cfg, network: []sim.NetworkOption{sim.RejectAllJoins()}})
	h.start(t)

	err := h.runToExit(t)
	if !errors.Is(err, errcode.JoinFailed) {
		t.Fatalf("err = %v", err)
	}
	lines := h.logs.lines(t)
	if count(lines, "join failed") != 1 || count(lines, node.MsgBing) != 0 {
		t.Fatalf("lines = %+v", lines)
	}
	if h.node.Device().State() != lorawan.Failed {
		t.Fatalf("state = %s", h.node.Device().State())
	}
}

func TestNode_RadioAbsent(t *testing.T) {
	h := newHarness(t, scenario{cfg: simConfig(), chip: []sim.ChipOption{sim.Absent()}})
	h.start(t)

	err := h.runToExit(t)
	var ie *radio.InitError
	if !errors.As(err, &ie) || ie.Stage != radio.StageDetect || ie.Attempts != 3 {
		t.Fatalf("err = %v", err)
	}
	if errcode.Of(err) != errcode.RadioInit {
		t.Fatalf("code = %s", errcode.Of(err))
	}
	if h.net != nil {
		t.Fatal("stack built without a radio")
	}
	if h.clk.Now() != 3*boot+300*time.Millisecond {
		t.Fatalf("gave up at %v", h.clk.Now())
	}
}

func TestNode_PeripheralsTakenOnce(t *testing.T) {
	h := newHarness(t, scenario{cfg: simConfig()})
	h.start(t)
	h.runUntil(t, boot)

	second := node.New(h.plat, simConfig(), testID, logx.Nop())
	err := second.Run(context.Background())
	if errcode.Of(err) != errcode.PeripheralsTaken {
		t.Fatalf("second run err = %v", err)
	}
}

func TestNode_FollowsMainConfig(t *testing.T) {
	h := newHarness(t, scenario{cfg: simConfig()})
	h.start(t)
	h.runUntil(t, boot+6*time.Second)

	pub := h.node.Bus().NewConnection("operator")
	bad := config.MainConfig{Period: 0, DegradedPeriod: time.Second}
	pub.Publish(pub.NewMessage(config.MainTopic(), bad, true))
	update := config.MainConfig{Period: 2 * time.Second, DegradedPeriod: time.Second, UplinkEvery: 1, UplinkPort: 9}
	pub.Publish(pub.NewMessage(config.MainTopic(), update, true))
	h.runUntil(t, boot+14*time.Second)

	// Ticks at 0 and 5s on the old grid, then 10, 12 and 14s.
	led, _ := h.prov.GPIO(platform.PicoLoRa.LED)
	edges := led.Edges()
	want := []time.Duration{boot, boot + 5*time.Second, boot + 10*time.Second, boot + 12*time.Second, boot + 14*time.Second}
	if len(edges) != len(want) {
		t.Fatalf("edges = %+v", edges)
	}
	for i, e := range edges {
		if e.At != want[i] {
			t.Fatalf("edge %d at %v, want %v", i, e.At, want[i])
		}
	}

	lines := h.logs.lines(t)
	if n := count(lines, "main period changed"); n != 1 {
		t.Fatalf("period change logged %d times", n)
	}
	if n := count(lines, "main config rejected"); n != 1 {
		t.Fatalf("rejected update logged %d times", n)
	}
	ups := h.net.Uplinks()
	if len(ups) != 3 {
		t.Fatalf("uplinks = %d, want 3", len(ups))
	}
	for _, up := range ups {
		if up.Port != 9 {
			t.Fatalf("uplink port = %d", up.Port)
		}
	}
}

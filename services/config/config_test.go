package config

import (
	"testing"
	"time"

	"loranode-go/bus"
	"loranode-go/errcode"
	"loranode-go/lorawan"
)

func TestLoad_ReferenceBoard(t *testing.T) {
	cfg, err := Load("pico-lora")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("pico-lora.yaml drifted from Default():\n got %+v\nwant %+v", cfg, Default())
	}
	if cfg.Bus.FrequencyHz != 100_000 || cfg.Bus.DMABufferBytes != 32000 {
		t.Fatalf("bus = %+v", cfg.Bus)
	}
	if cfg.Heartbeat.Period != time.Second || cfg.Main.Period != 5*time.Second {
		t.Fatalf("periods = %v / %v", cfg.Heartbeat.Period, cfg.Main.Period)
	}
	if cfg.MaxTxPower != 14 || cfg.Seed != 42 {
		t.Fatalf("max_tx_power=%d seed=%d", cfg.MaxTxPower, cfg.Seed)
	}
}

func TestLoad_SimOverlaysDefaults(t *testing.T) {
	cfg, err := Load("sim")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Board != "sim" || cfg.Main.UplinkEvery != 6 {
		t.Fatalf("overlay not applied: board=%q uplink_every=%d", cfg.Board, cfg.Main.UplinkEvery)
	}
	if cfg.Join.MaxAttempts != 5 || cfg.Radio.TCXOMillivolts != 1700 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoad_UnknownBoardUsesDefaults(t *testing.T) {
	oldLookup := EmbeddedConfigLookup
	EmbeddedConfigLookup = func(string) ([]byte, bool) { return nil, false }
	t.Cleanup(func() { EmbeddedConfigLookup = oldLookup })

	cfg, err := Load("bench")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Board != "bench" || cfg.Region != "EU868" {
		t.Fatalf("got %+v", cfg)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"syntax", "bus: [1, 2"},
		{"region", "region: XX999"},
		{"mode", "bus:\n  mode: 4"},
		{"zero frequency", "bus:\n  frequency_hz: 0"},
		{"jitter", "join:\n  jitter: 1.5"},
		{"policy", "join:\n  on_failure: reboot"},
		{"attempts", "join:\n  max_attempts: 0"},
		{"backoff order", "join:\n  backoff_base: 2m\n  backoff_max: 1m"},
		{"pool", "executor:\n  pool_size: 1"},
		{"port", "main:\n  uplink_port: 0"},
		{"duration", "heartbeat:\n  period: soon"},
	}
	for _, tc := range cases {
		_, err := Parse([]byte(tc.yaml))
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if errcode.Of(err) != errcode.InvalidConfig {
			t.Fatalf("%s: code = %q, want %q (%v)", tc.name, errcode.Of(err), errcode.InvalidConfig, err)
		}
	}
}

func TestJoinPolicy(t *testing.T) {
	cfg, err := Parse([]byte("join:\n  max_attempts: 2\n  on_failure: abort\n  backoff_base: 1s\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p := cfg.JoinPolicy()
	if p.MaxAttempts != 2 || p.OnFailure != lorawan.Abort || p.BackoffBase != time.Second || p.BackoffMax != time.Minute {
		t.Fatalf("policy = %+v", p)
	}
}

func TestPublish_RetainedPerSection(t *testing.T) {
	b := bus.NewBus(8)
	conn := b.NewConnection("test-config")
	Publish(conn, Default())

	sub := conn.Subscribe(bus.T(configPrefix, "#"))
	got := map[string]any{}
	deadline := time.After(500 * time.Millisecond)
	for len(got) < 2 {
		select {
		case m := <-sub.Channel():
			key, ok := m.Topic[1].(string)
			if !ok {
				t.Fatalf("topic[1] type %T, want string", m.Topic[1])
			}
			if !m.Retained {
				t.Fatalf("%s not retained", key)
			}
			got[key] = m.Payload
		case <-deadline:
			t.Fatalf("expected 2 retained sections, got %d", len(got))
		}
	}
	hb, ok := got["heartbeat"].(HeartbeatConfig)
	if !ok || hb.Period != time.Second {
		t.Fatalf("heartbeat payload = %#v", got["heartbeat"])
	}
	if _, ok := got["main"].(MainConfig); !ok {
		t.Fatalf("main payload type %T", got["main"])
	}
	if _, ok := got["join"]; ok {
		t.Fatal("join section published")
	}
}

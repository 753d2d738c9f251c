// Package config holds the node's build-time configuration: Go defaults
// overlaid with the board's embedded YAML file.
package config

import (
	"embed"
	"time"

	"gopkg.in/yaml.v3"

	"loranode-go/bus"
	"loranode-go/errcode"
	"loranode-go/lorawan"
)

const configPrefix = "config"

//go:embed boards/*.yaml
var boards embed.FS

// EmbeddedConfigLookup allows overriding how board files are resolved.
var EmbeddedConfigLookup = func(board string) ([]byte, bool) {
	b, err := boards.ReadFile("boards/" + board + ".yaml")
	return b, err == nil
}

type NodeConfig struct {
	Board      string          `yaml:"board"`
	Region     string          `yaml:"region"`
	MaxTxPower int8            `yaml:"max_tx_power"`
	Seed       int64           `yaml:"seed"`
	Bus        BusConfig       `yaml:"bus"`
	Radio      RadioConfig     `yaml:"radio"`
	Join       JoinConfig      `yaml:"join"`
	Heartbeat  HeartbeatConfig `yaml:"heartbeat"`
	Main       MainConfig      `yaml:"main"`
	Executor   ExecutorConfig  `yaml:"executor"`
}

type BusConfig struct {
	FrequencyHz     uint32        `yaml:"frequency_hz"`
	Mode            uint8         `yaml:"mode"`
	DMAChannel      int           `yaml:"dma_channel"`
	DMABufferBytes  int           `yaml:"dma_buffer_bytes"`
	DMAPriority     uint8         `yaml:"dma_priority"`
	TransferTimeout time.Duration `yaml:"transfer_timeout"`
}

type RadioConfig struct {
	InitAttempts   int           `yaml:"init_attempts"`
	InitBackoff    time.Duration `yaml:"init_backoff"`
	InitBackoffMax time.Duration `yaml:"init_backoff_max"`
	BusyTimeout    time.Duration `yaml:"busy_timeout"`
	PublicNetwork  bool          `yaml:"public_network"`
	TCXOMillivolts uint16        `yaml:"tcxo_millivolts"`
	UseDCDC        bool          `yaml:"use_dcdc"`
	RxBoost        bool          `yaml:"rx_boost"`
}

type JoinConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
	Jitter      float64       `yaml:"jitter"`
	OnFailure   string        `yaml:"on_failure"`
}

type HeartbeatConfig struct {
	Period time.Duration `yaml:"period"`
}

type MainConfig struct {
	Period         time.Duration `yaml:"period"`
	DegradedPeriod time.Duration `yaml:"degraded_period"`
	// UplinkEvery sends an uplink every N main ticks; 0 disables uplinks.
	UplinkEvery      int   `yaml:"uplink_every"`
	UplinkPort       uint8 `yaml:"uplink_port"`
	ConfirmedUplinks bool  `yaml:"confirmed_uplinks"`
}

type ExecutorConfig struct {
	PoolSize int `yaml:"pool_size"`
}

// Default is the reference node configuration.
func Default() NodeConfig {
	return NodeConfig{
		Board:      "pico-lora",
		Region:     string(lorawan.EU868),
		MaxTxPower: 14,
		Seed:       42,
		Bus: BusConfig{
			FrequencyHz:     100_000,
			Mode:            0,
			DMAChannel:      0,
			DMABufferBytes:  32000,
			DMAPriority:     0,
			TransferTimeout: 250 * time.Millisecond,
		},
		Radio: RadioConfig{
			InitAttempts:   3,
			InitBackoff:    100 * time.Millisecond,
			InitBackoffMax: time.Second,
			BusyTimeout:    100 * time.Millisecond,
			PublicNetwork:  true,
			TCXOMillivolts: 1700,
			UseDCDC:        true,
		},
		Join: JoinConfig{
			MaxAttempts: 5,
			BackoffBase: 5 * time.Second,
			BackoffMax:  60 * time.Second,
			Jitter:      0.25,
			OnFailure:   "degrade",
		},
		Heartbeat: HeartbeatConfig{Period: time.Second},
		Main: MainConfig{
			Period:         5 * time.Second,
			DegradedPeriod: time.Second,
			UplinkEvery:    12,
			UplinkPort:     1,
		},
		Executor: ExecutorConfig{PoolSize: 4},
	}
}

// Load resolves the embedded file for board over the defaults. A board
// without a file runs on the defaults.
func Load(board string) (NodeConfig, error) {
	raw, ok := EmbeddedConfigLookup(board)
	if !ok || len(raw) == 0 {
		cfg := Default()
		cfg.Board = board
		return cfg, cfg.Validate()
	}
	return Parse(raw)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(raw []byte) (NodeConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return NodeConfig{}, errcode.Wrap(errcode.InvalidConfig, "config.Parse", err)
	}
	if err := cfg.Validate(); err != nil {
		return NodeConfig{}, err
	}
	return cfg, nil
}

func invalid(msg string) error { return errcode.New(errcode.InvalidConfig, "config.Validate", msg) }

func (c NodeConfig) Validate() error {
	if _, err := lorawan.LookupRegion(c.Region); err != nil {
		return errcode.Wrap(errcode.InvalidConfig, "config.Validate", err)
	}
	if _, err := lorawan.ParseFailurePolicy(c.Join.OnFailure); err != nil {
		return errcode.Wrap(errcode.InvalidConfig, "config.Validate", err)
	}
	switch {
	case c.MaxTxPower < -9 || c.MaxTxPower > 22:
		return invalid("max_tx_power out of range")
	case c.Bus.FrequencyHz == 0:
		return invalid("bus.frequency_hz must be positive")
	case c.Bus.Mode > 3:
		return invalid("bus.mode must be 0..3")
	case c.Bus.DMABufferBytes <= 0:
		return invalid("bus.dma_buffer_bytes must be positive")
	case c.Bus.DMAPriority > 5:
		return invalid("bus.dma_priority must be 0..5")
	case c.Radio.InitAttempts < 1:
		return invalid("radio.init_attempts must be at least 1")
	case c.Join.MaxAttempts < 1:
		return invalid("join.max_attempts must be at least 1")
	case c.Join.Jitter < 0 || c.Join.Jitter > 1:
		return invalid("join.jitter must be within 0..1")
	case c.Join.BackoffMax < c.Join.BackoffBase:
		return invalid("join.backoff_max below backoff_base")
	case c.Heartbeat.Period <= 0:
		return invalid("heartbeat.period must be positive")
	case c.Executor.PoolSize < 2:
		return invalid("executor.pool_size must fit the main and heartbeat tasks")
	}
	return c.Main.Validate()
}

// Validate checks the main section on its own; updates published on
// config/main go through it too.
func (m MainConfig) Validate() error {
	switch {
	case m.Period <= 0 || m.DegradedPeriod <= 0:
		return invalid("main periods must be positive")
	case m.UplinkEvery < 0:
		return invalid("main.uplink_every must not be negative")
	case m.UplinkEvery > 0 && (m.UplinkPort == 0 || m.UplinkPort > 223):
		return invalid("main.uplink_port must be 1..223")
	}
	return nil
}

// JoinPolicy converts the join section.
func (c NodeConfig) JoinPolicy() lorawan.JoinPolicy {
	onFailure, _ := lorawan.ParseFailurePolicy(c.Join.OnFailure)
	return lorawan.JoinPolicy{
		MaxAttempts: c.Join.MaxAttempts,
		BackoffBase: c.Join.BackoffBase,
		BackoffMax:  c.Join.BackoffMax,
		Jitter:      c.Join.Jitter,
		OnFailure:   onFailure,
	}
}

// Publish retains each task's section under config/<section>. The join
// section is consumed once at bring-up and is not published.
func Publish(conn *bus.Connection, c NodeConfig) {
	conn.Publish(conn.NewMessage(HeartbeatTopic(), c.Heartbeat, true))
	conn.Publish(conn.NewMessage(MainTopic(), c.Main, true))
}

// HeartbeatTopic is where the heartbeat section is retained.
func HeartbeatTopic() bus.Topic { return bus.T(configPrefix, "heartbeat") }

// MainTopic is where the main task's section is retained.
func MainTopic() bus.Topic { return bus.T(configPrefix, "main") }

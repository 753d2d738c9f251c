// Package platform selects the hardware the node runs on. rp2040/rp2350
// builds bind the real chip, SPI block and LoRaWAN stack; every other
// build runs on the host simulation.
package platform

import (
	"io"
	"slices"

	"loranode-go/errcode"
	"loranode-go/hal"
	"loranode-go/lorawan"
	"loranode-go/radio"
)

// Board is the pin plan of one board.
type Board struct {
	Name string

	SPI string // controller id
	SCK int
	SDO int
	SDI int

	NSS   int
	Reset int
	Busy  int
	DIO1  int
	LED   int

	TimerGroup int
	TimerIndex int

	ConsoleTX   int
	ConsoleRX   int
	ConsoleBaud uint32
}

// PicoLoRa is a Raspberry Pi Pico with the Waveshare Pico-LoRa-SX1262 HAT.
var PicoLoRa = Board{
	Name: "pico-lora",
	SPI:  "spi1", SCK: 10, SDO: 11, SDI: 12,
	NSS: 3, Reset: 15, Busy: 2, DIO1: 20,
	LED:         25,
	ConsoleTX:   0,
	ConsoleRX:   1,
	ConsoleBaud: 115_200,
}

// tinyGoRegions are the plans tinygo's LoRaWAN MAC carries settings for.
var tinyGoRegions = []lorawan.Region{lorawan.EU868, lorawan.US915, lorawan.AU915}

// stackFrequency checks that the on-chip stack can serve plan and returns
// the channel the radio is tuned to before the first join.
func stackFrequency(plan *lorawan.RegionalPlan) (uint32, error) {
	if plan == nil || len(plan.Channels) == 0 {
		return 0, errcode.New(errcode.InvalidParams, "platform.stackFrequency", "empty regional plan")
	}
	if !slices.Contains(tinyGoRegions, plan.Region) {
		return 0, errcode.New(errcode.UnsupportedRegion, "platform.stackFrequency", string(plan.Region))
	}
	return plan.Channels[0].Frequency, nil
}

// StackFactory builds the LoRaWAN stack on top of the assembled radio.
type StackFactory func(r *radio.LorawanRadio, plan *lorawan.RegionalPlan) (lorawan.Stack, error)

// Platform is everything the node needs from the outside world.
type Platform struct {
	Board    Board
	Provider hal.Provider
	NewChip  radio.ChipFactory
	NewStack StackFactory
	Console  io.Writer
}

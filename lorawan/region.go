package lorawan

import (
	"strings"

	"loranode-go/errcode"
)

type Region string

const (
	EU868 Region = "EU868"
	US915 Region = "US915"
	AU915 Region = "AU915"
	AS923 Region = "AS923"
	IN865 Region = "IN865"
)

// Channel is an uplink channel with its allowed data-rate range.
type Channel struct {
	Frequency uint32
	MinDR     uint8
	MaxDR     uint8
}

type DataRate struct {
	SpreadFactor uint8
	BandwidthKHz uint16
}

// RegionalPlan is the fixed channel plan the node joins with.
type RegionalPlan struct {
	Region          Region
	Channels        []Channel
	DataRates       []DataRate
	JoinDR          uint8
	RX2Frequency    uint32
	RX2DR           uint8
	MaxEIRPdBm      int8
	MaxPayloadPerDR []uint8
}

// UplinkDataRate returns the data rate used for join requests.
func (p *RegionalPlan) UplinkDataRate() DataRate { return p.DataRates[p.JoinDR] }

var eu868 = RegionalPlan{
	Region: EU868,
	Channels: []Channel{
		{Frequency: 868100000, MinDR: 0, MaxDR: 5},
		{Frequency: 868300000, MinDR: 0, MaxDR: 5},
		{Frequency: 868500000, MinDR: 0, MaxDR: 5},
	},
	DataRates: []DataRate{
		{12, 125}, {11, 125}, {10, 125}, {9, 125}, {8, 125}, {7, 125}, {7, 250},
	},
	JoinDR:          0,
	RX2Frequency:    869525000,
	RX2DR:           0,
	MaxEIRPdBm:      16,
	MaxPayloadPerDR: []uint8{51, 51, 51, 115, 242, 242, 242},
}

var us915 = RegionalPlan{
	Region:          US915,
	Channels:        subBand(903900000, 200000, 8, 0, 3),
	DataRates:       []DataRate{{10, 125}, {9, 125}, {8, 125}, {7, 125}, {8, 500}},
	JoinDR:          0,
	RX2Frequency:    923300000,
	RX2DR:           8,
	MaxEIRPdBm:      30,
	MaxPayloadPerDR: []uint8{11, 53, 125, 242, 242},
}

var au915 = RegionalPlan{
	Region:          AU915,
	Channels:        subBand(915200000, 200000, 8, 2, 5),
	DataRates:       []DataRate{{12, 125}, {11, 125}, {10, 125}, {9, 125}, {8, 125}, {7, 125}, {8, 500}},
	JoinDR:          2,
	RX2Frequency:    923300000,
	RX2DR:           8,
	MaxEIRPdBm:      30,
	MaxPayloadPerDR: []uint8{51, 51, 51, 115, 242, 242, 242},
}

var as923 = RegionalPlan{
	Region: AS923,
	Channels: []Channel{
		{Frequency: 923200000, MinDR: 0, MaxDR: 5},
		{Frequency: 923400000, MinDR: 0, MaxDR: 5},
	},
	DataRates:       []DataRate{{12, 125}, {11, 125}, {10, 125}, {9, 125}, {8, 125}, {7, 125}, {7, 250}},
	JoinDR:          2,
	RX2Frequency:    923200000,
	RX2DR:           2,
	MaxEIRPdBm:      16,
	MaxPayloadPerDR: []uint8{59, 59, 123, 123, 250, 250, 250},
}

var in865 = RegionalPlan{
	Region: IN865,
	Channels: []Channel{
		{Frequency: 865062500, MinDR: 0, MaxDR: 5},
		{Frequency: 865402500, MinDR: 0, MaxDR: 5},
		{Frequency: 865985000, MinDR: 0, MaxDR: 5},
	},
	DataRates:       []DataRate{{12, 125}, {11, 125}, {10, 125}, {9, 125}, {8, 125}, {7, 125}},
	JoinDR:          0,
	RX2Frequency:    866550000,
	RX2DR:           2,
	MaxEIRPdBm:      30,
	MaxPayloadPerDR: []uint8{51, 51, 51, 115, 242, 242},
}

// subBand lays out n channels from base at the given spacing.
func subBand(base, step uint32, n int, minDR, maxDR uint8) []Channel {
	out := make([]Channel, n)
	for i := range out {
		out[i] = Channel{Frequency: base + uint32(i)*step, MinDR: minDR, MaxDR: maxDR}
	}
	return out
}

// LookupRegion returns the plan for name (case-insensitive).
func LookupRegion(name string) (*RegionalPlan, error) {
	switch Region(strings.ToUpper(strings.TrimSpace(name))) {
	case EU868:
		return &eu868, nil
	case US915:
		return &us915, nil
	case AU915:
		return &au915, nil
	case AS923:
		return &as923, nil
	case IN865:
		return &in865, nil
	}
	return nil, errcode.New(errcode.UnsupportedRegion, "lorawan.LookupRegion", name)
}

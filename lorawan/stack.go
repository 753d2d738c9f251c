package lorawan

import (
	"context"
	"encoding/binary"
	"strconv"

	"loranode-go/x/conv"
)

type DevAddr [4]byte

func (a DevAddr) String() string {
	var buf [8]byte
	return string(conv.U32Hex(buf[:], binary.BigEndian.Uint32(a[:])))
}

type NetID [3]byte

func (n NetID) String() string { return conv.HexString(n[:]) }

// JoinMode selects the activation method. Only OTAA is supported.
type JoinMode struct {
	DevEUI EUI
	AppEUI EUI
	AppKey Key
}

func OTAA(id Identity) JoinMode {
	return JoinMode{DevEUI: id.DevEUI, AppEUI: id.AppEUI, AppKey: id.AppKey}
}

// JoinResponse is the session established by a successful join.
type JoinResponse struct {
	DevAddr  DevAddr
	NetID    NetID
	NwkSKey  Key
	AppSKey  Key
	FCntUp   uint32
	FCntDown uint32
}

// String prints the session with keys redacted.
func (r JoinResponse) String() string {
	return "JoinResponse{DevAddr: " + r.DevAddr.String() +
		", NetID: " + r.NetID.String() +
		", NwkSKey: " + r.NwkSKey.String() +
		", AppSKey: " + r.AppSKey.String() +
		", FCntUp: " + strconv.FormatUint(uint64(r.FCntUp), 10) +
		", FCntDown: " + strconv.FormatUint(uint64(r.FCntDown), 10) + "}"
}

// TxReport describes one uplink attempt. Sent is set whenever a frame
// went on air, even when the attempt failed afterwards; its FCnt is then
// spent.
type TxReport struct {
	FCnt uint32
	Sent bool
}

// Stack is the LoRaWAN MAC. It owns framing, encryption and the regional
// channel logic, and performs a single attempt per call.
type Stack interface {
	Join(ctx context.Context, mode JoinMode) (JoinResponse, error)
	Send(ctx context.Context, port uint8, payload []byte, confirmed bool) (TxReport, error)
}

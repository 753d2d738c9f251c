package sim

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"loranode-go/errcode"
	"loranode-go/lorawan"
	"loranode-go/radio"
)

const airTimeout = 3 * time.Second

// JoinRecord is a join request the network accepted or rejected.
type JoinRecord struct {
	DevEUI   lorawan.EUI
	AppEUI   lorawan.EUI
	DevNonce uint16
	Accepted bool
}

// Uplink is a data frame received by the network.
type Uplink struct {
	Port      uint8
	Payload   []byte
	Confirmed bool
	FCnt      uint32
	Frame     []byte
}

// Network is a LoRaWAN stack and network server in one. Join requests
// and uplinks go out through the radio; the network side checks the MIC
// and answers from its own provisioning.
type Network struct {
	mu sync.Mutex

	radio *radio.LorawanRadio

	appKey       *lorawan.Key
	joinFailures int
	rejectAll    bool
	uplinkFail   func(n int) bool

	devAddr  lorawan.DevAddr
	netID    lorawan.NetID
	appNonce uint32
	devNonce uint16

	joined  bool
	session lorawan.JoinResponse
	joins   []JoinRecord
	uplinks []Uplink
	sendN   int
}

var _ lorawan.Stack = (*Network)(nil)

type NetworkOption func(*Network)

// ProvisionKey makes the network verify join MICs against key instead of
// trusting the device.
func ProvisionKey(key lorawan.Key) NetworkOption { return func(n *Network) { n.appKey = &key } }

// RejectJoins drops the first k join requests.
func RejectJoins(k int) NetworkOption { return func(n *Network) { n.joinFailures = k } }

// RejectAllJoins makes every join time out.
func RejectAllJoins() NetworkOption { return func(n *Network) { n.rejectAll = true } }

// FailUplinks makes uplink number i (from 1) fail when fn(i) is true.
func FailUplinks(fn func(i int) bool) NetworkOption { return func(n *Network) { n.uplinkFail = fn } }

func WithDevAddr(a lorawan.DevAddr) NetworkOption { return func(n *Network) { n.devAddr = a } }

func NewNetwork(r *radio.LorawanRadio, opts ...NetworkOption) *Network {
	n := &Network{
		radio:   r,
		devAddr: lorawan.DevAddr{0x26, 0x01, 0x1B, 0xDA},
		netID:   lorawan.NetID{0x00, 0x00, 0x13},
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

func (n *Network) Join(ctx context.Context, mode lorawan.JoinMode) (lorawan.JoinResponse, error) {
	const op = "sim.Network.Join"
	if err := ctx.Err(); err != nil {
		return lorawan.JoinResponse{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	n.devNonce++
	frame, err := lorawan.MarshalJoinRequest(mode, n.devNonce)
	if err != nil {
		return lorawan.JoinResponse{}, err
	}
	if err := n.radio.Tx(frame, airTimeout); err != nil {
		return lorawan.JoinResponse{}, errcode.Wrap(errcode.Error, op, err)
	}

	key := mode.AppKey
	if n.appKey != nil {
		key = *n.appKey
	}
	appEUI, devEUI, nonce, perr := lorawan.ParseJoinRequest(frame, key)
	rec := JoinRecord{DevEUI: mode.DevEUI, AppEUI: mode.AppEUI, DevNonce: n.devNonce}
	if perr == nil {
		rec.DevEUI, rec.AppEUI, rec.DevNonce = devEUI, appEUI, nonce
	}

	reject := perr != nil || n.rejectAll || n.joinFailures > 0
	if n.joinFailures > 0 {
		n.joinFailures--
	}
	n.joins = append(n.joins, rec)
	if reject {
		return lorawan.JoinResponse{}, errcode.New(errcode.NoJoinAccept, op, "no join accept in rx windows")
	}
	n.joins[len(n.joins)-1].Accepted = true

	n.appNonce++
	appNonce := [3]byte{byte(n.appNonce), byte(n.appNonce >> 8), byte(n.appNonce >> 16)}
	nwk, app, err := lorawan.DeriveSessionKeys(mode.AppKey, appNonce, n.netID, n.devNonce)
	if err != nil {
		return lorawan.JoinResponse{}, err
	}
	n.session = lorawan.JoinResponse{DevAddr: n.devAddr, NetID: n.netID, NwkSKey: nwk, AppSKey: app}
	n.joined = true
	return n.session, nil
}

func (n *Network) Send(ctx context.Context, port uint8, payload []byte, confirmed bool) (lorawan.TxReport, error) {
	const op = "sim.Network.Send"
	if err := ctx.Err(); err != nil {
		return lorawan.TxReport{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.joined {
		return lorawan.TxReport{}, errcode.New(errcode.NotJoined, op, "")
	}

	mt := lorawan.UnconfirmedDataUp
	if confirmed {
		mt = lorawan.ConfirmedDataUp
	}
	frame := []byte{byte(mt) << 5}
	for i := len(n.devAddr) - 1; i >= 0; i-- {
		frame = append(frame, n.devAddr[i])
	}
	frame = append(frame, 0x00) // FCtrl
	frame = binary.LittleEndian.AppendUint16(frame, uint16(n.session.FCntUp))
	frame = append(frame, port)
	frame = append(frame, payload...)
	mic, err := lorawan.MIC(n.session.NwkSKey, frame)
	if err != nil {
		return lorawan.TxReport{}, err
	}
	frame = append(frame, mic[:]...)

	if err := n.radio.Tx(frame, airTimeout); err != nil {
		return lorawan.TxReport{}, errcode.Wrap(errcode.Error, op, err)
	}
	rep := lorawan.TxReport{FCnt: n.session.FCntUp, Sent: true}
	n.session.FCntUp++
	n.sendN++
	if n.uplinkFail != nil && n.uplinkFail(n.sendN) {
		return rep, errcode.New(errcode.Timeout, op, "no ack")
	}
	n.uplinks = append(n.uplinks, Uplink{
		Port: port, Payload: append([]byte(nil), payload...), Confirmed: confirmed,
		FCnt: rep.FCnt, Frame: frame,
	})
	return rep, nil
}

// Joins returns every join request seen so far.
func (n *Network) Joins() []JoinRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]JoinRecord(nil), n.joins...)
}

// Uplinks returns the uplinks the network received.
func (n *Network) Uplinks() []Uplink {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Uplink(nil), n.uplinks...)
}

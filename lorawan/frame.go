package lorawan

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"loranode-go/errcode"
)

// MType is the 3-bit message type in the MAC header.
type MType byte

const (
	JoinRequest MType = iota
	JoinAccept
	UnconfirmedDataUp
	UnconfirmedDataDown
	ConfirmedDataUp
	ConfirmedDataDown
)

const (
	major1         = 0x00
	joinRequestLen = 23
)

func mhdr(t MType) byte { return byte(t)<<5 | major1 }

// MarshalJoinRequest builds MHDR | AppEUI | DevEUI | DevNonce | MIC. EUIs
// and the nonce go on air little-endian.
func MarshalJoinRequest(m JoinMode, devNonce uint16) ([]byte, error) {
	b := make([]byte, 0, joinRequestLen)
	b = append(b, mhdr(JoinRequest))
	b = appendReversed(b, m.AppEUI[:])
	b = appendReversed(b, m.DevEUI[:])
	b = binary.LittleEndian.AppendUint16(b, devNonce)
	mic, err := MIC(m.AppKey, b)
	if err != nil {
		return nil, err
	}
	return append(b, mic[:]...), nil
}

// ParseJoinRequest decodes a join request and checks its MIC against key.
func ParseJoinRequest(frame []byte, key Key) (appEUI, devEUI EUI, devNonce uint16, err error) {
	const op = "lorawan.ParseJoinRequest"
	if len(frame) != joinRequestLen || frame[0] != mhdr(JoinRequest) {
		return appEUI, devEUI, 0, errcode.New(errcode.InvalidParams, op, "not a join request")
	}
	want, err := MIC(key, frame[:joinRequestLen-4])
	if err != nil {
		return appEUI, devEUI, 0, err
	}
	if [4]byte(frame[joinRequestLen-4:]) != want {
		return appEUI, devEUI, 0, errcode.New(errcode.InvalidParams, op, "mic mismatch")
	}
	copyReversed(appEUI[:], frame[1:9])
	copyReversed(devEUI[:], frame[9:17])
	return appEUI, devEUI, binary.LittleEndian.Uint16(frame[17:19]), nil
}

// DeriveSessionKeys computes the LoRaWAN 1.0.x session keys:
// aes128(AppKey, 0x01|0x02 | AppNonce | NetID | DevNonce | pad16).
func DeriveSessionKeys(appKey Key, appNonce [3]byte, netID NetID, devNonce uint16) (nwkSKey, appSKey Key, err error) {
	block, err := aes.NewCipher(appKey[:])
	if err != nil {
		return nwkSKey, appSKey, err
	}
	var msg [16]byte
	copy(msg[1:4], appNonce[:])
	copy(msg[4:7], netID[:])
	binary.LittleEndian.PutUint16(msg[7:9], devNonce)

	msg[0] = 0x01
	block.Encrypt(nwkSKey[:], msg[:])
	msg[0] = 0x02
	block.Encrypt(appSKey[:], msg[:])
	return nwkSKey, appSKey, nil
}

// MIC is the first four bytes of AES-CMAC(key, data).
func MIC(key Key, data []byte) ([4]byte, error) {
	var mic [4]byte
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return mic, err
	}
	sum := cmac(block, data)
	copy(mic[:], sum[:4])
	return mic, nil
}

// cmac implements AES-CMAC (RFC 4493).
func cmac(block cipher.Block, data []byte) [16]byte {
	var k0, k1, k2 [16]byte
	block.Encrypt(k0[:], k0[:])
	k1 = dbl(k0)
	k2 = dbl(k1)

	n := (len(data) + 15) / 16
	complete := n > 0 && len(data)%16 == 0
	if n == 0 {
		n = 1
	}

	var last [16]byte
	tail := data[(n-1)*16:]
	copy(last[:], tail)
	if complete {
		xorInto(last[:], k1[:])
	} else {
		last[len(tail)] = 0x80
		xorInto(last[:], k2[:])
	}

	var x [16]byte
	for i := 0; i < n-1; i++ {
		xorInto(x[:], data[i*16:(i+1)*16])
		block.Encrypt(x[:], x[:])
	}
	xorInto(x[:], last[:])
	block.Encrypt(x[:], x[:])
	return x
}

// dbl is the GF(2^128) doubling used to derive CMAC subkeys.
func dbl(in [16]byte) [16]byte {
	var out [16]byte
	var carry byte
	for i := 15; i >= 0; i-- {
		out[i] = in[i]<<1 | carry
		carry = in[i] >> 7
	}
	if in[0]&0x80 != 0 {
		out[15] ^= 0x87
	}
	return out
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

func appendReversed(dst, src []byte) []byte {
	for i := len(src) - 1; i >= 0; i-- {
		dst = append(dst, src[i])
	}
	return dst
}

func copyReversed(dst, src []byte) {
	for i := range src {
		dst[len(src)-1-i] = src[i]
	}
}

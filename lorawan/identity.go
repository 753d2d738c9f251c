// Package lorawan holds the node's network identity, regional plans and
// the session controller that drives join and uplinks through a Stack.
package lorawan

import (
	"encoding/hex"
	"strings"

	"loranode-go/errcode"
	"loranode-go/x/conv"
)

// Build-time identity overrides, set with
//
//	-ldflags "-X loranode-go/lorawan.devEUIHex=... -X loranode-go/lorawan.appEUIHex=... -X loranode-go/lorawan.appKeyHex=..."
//
// Unset values resolve to all zeros.
var (
	devEUIHex string
	appEUIHex string
	appKeyHex string
)

type EUI [8]byte

func (e EUI) String() string { return conv.HexString(e[:]) }
func (e EUI) IsZero() bool   { return e == EUI{} }

type Key [16]byte

// String never prints key material.
func (k Key) String() string { return "[redacted]" }
func (k Key) Hex() string    { return conv.HexString(k[:]) }
func (k Key) IsZero() bool   { return k == Key{} }

// Identity is immutable once resolved.
type Identity struct {
	DevEUI EUI
	AppEUI EUI
	AppKey Key
}

func (id Identity) String() string {
	return "DevEUI=" + id.DevEUI.String() + " AppEUI=" + id.AppEUI.String() + " AppKey=" + id.AppKey.String()
}

// BuildIdentity resolves the link-time overrides.
func BuildIdentity() (Identity, error) {
	return ResolveIdentity(devEUIHex, appEUIHex, appKeyHex)
}

// ResolveIdentity parses hex overrides. Each value may use ':', '-' or
// spaces as separators. Empty values give zeros; anything else that is
// not exactly the right length is errcode.InvalidIdentity.
func ResolveIdentity(devEUI, appEUI, appKey string) (Identity, error) {
	var id Identity
	if err := parseHex(id.DevEUI[:], devEUI, "deveui"); err != nil {
		return Identity{}, err
	}
	if err := parseHex(id.AppEUI[:], appEUI, "appeui"); err != nil {
		return Identity{}, err
	}
	if err := parseHex(id.AppKey[:], appKey, "appkey"); err != nil {
		return Identity{}, err
	}
	return id, nil
}

var hexSeparators = strings.NewReplacer(":", "", "-", "", " ", "")

func parseHex(dst []byte, s, name string) error {
	s = hexSeparators.Replace(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 2*len(dst) {
		return errcode.New(errcode.InvalidIdentity, "lorawan.ResolveIdentity",
			name+": want "+conv.Itoa10(2*len(dst))+" hex digits")
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return errcode.Wrap(errcode.InvalidIdentity, "lorawan.ResolveIdentity", err)
	}
	return nil
}

func itoa(n int) string { return conv.Itoa10(n) }

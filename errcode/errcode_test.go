package errcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"bare code", PinInUse, PinInUse},
		{"wrapped E", Wrap(RadioInit, "radio.New", BusyTimeout), RadioInit},
		{"fmt wrapped E", fmt.Errorf("boot: %w", &E{C: BusConfig, Op: "hal.BuildBus"}), BusConfig},
		{"fmt wrapped code", fmt.Errorf("x: %w", JoinFailed), JoinFailed},
		{"foreign", errors.New("boom"), Error},
	}
	for _, tc := range cases {
		if got := Of(tc.err); got != tc.want {
			t.Fatalf("%s: Of() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestErrorsIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("join: %w", Wrap(JoinFailed, "lorawan.Join", NoJoinAccept))
	if !errors.Is(err, JoinFailed) {
		t.Fatal("errors.Is should match outer code")
	}
	if !errors.Is(err, NoJoinAccept) {
		t.Fatal("errors.Is should match the cause code")
	}
	if errors.Is(err, UplinkFailed) {
		t.Fatal("errors.Is matched an unrelated code")
	}
}

func TestEString(t *testing.T) {
	e := &E{C: BusConfig, Op: "hal.BuildBus", Msg: "hardware chip-select not supported"}
	want := "hal.BuildBus: bus_config: hardware chip-select not supported"
	if e.Error() != want {
		t.Fatalf("got %q, want %q", e.Error(), want)
	}
}

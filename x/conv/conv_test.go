package conv

import "testing"

func TestHexString(t *testing.T) {
	cases := []struct {
		in   []byte
		want string
	}{
		{nil, ""},
		{[]byte{0, 0, 0, 0, 0, 0, 0, 0}, "0000000000000000"},
		{[]byte{0x70, 0xB3, 0xD5, 0x7E, 0xD0, 0x05, 0x1A, 0x2F}, "70B3D57ED0051A2F"},
	}
	for _, c := range cases {
		if got := HexString(c.in); got != c.want {
			t.Fatalf("HexString(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestU32Hex(t *testing.T) {
	var buf [8]byte
	if got := string(U32Hex(buf[:], 0x260B1F2A)); got != "260B1F2A" {
		t.Fatalf("got %q", got)
	}
	if got := U32Hex(buf[:4], 1); len(got) != 0 {
		t.Fatalf("short buffer should yield empty slice, got %q", got)
	}
}

func TestItoa(t *testing.T) {
	var buf [20]byte
	cases := map[int64]string{0: "0", 42: "42", -5000: "-5000"}
	for n, want := range cases {
		if got := string(Itoa(buf[:], n)); got != want {
			t.Fatalf("Itoa(%d) = %q, want %q", n, got, want)
		}
	}
}

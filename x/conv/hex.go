package conv

const hexd = "0123456789ABCDEF"

// U32Hex writes 8-digit uppercase hex without 0x, zero-padded.
func U32Hex(buf []byte, n uint32) []byte {
	if len(buf) < 8 {
		return buf[:0]
	}
	i := len(buf)
	for j := 0; j < 8; j++ {
		i--
		buf[i] = hexd[n&0xF]
		n >>= 4
	}
	return buf[i:]
}

// AppendHex appends src as uppercase hex, most significant byte first.
func AppendHex(dst []byte, src []byte) []byte {
	for _, b := range src {
		dst = append(dst, hexd[b>>4], hexd[b&0xF])
	}
	return dst
}

// HexString renders src as an uppercase hex string (EUIs, DevAddr).
func HexString(src []byte) string {
	return string(AppendHex(make([]byte, 0, 2*len(src)), src))
}

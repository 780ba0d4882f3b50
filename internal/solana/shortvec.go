package solana

import (
	"errors"
	"fmt"
)

var errShortvecOverflow = errors.New("shortvec: value overflows u16")

// appendShortvec appends the compact-u16 encoding of n.
func appendShortvec(b []byte, n int) []byte {
	v := uint16(n)
	for {
		elem := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(b, elem)
		}
		b = append(b, elem|0x80)
	}
}

// readShortvec decodes a compact-u16 from b and returns the value and the
// number of bytes consumed.
func readShortvec(b []byte) (int, int, error) {
	var v int
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, fmt.Errorf("shortvec: unexpected end of input")
		}
		elem := int(b[i])
		v |= (elem & 0x7f) << (7 * i)
		if elem&0x80 == 0 {
			if v > 0xffff {
				return 0, 0, errShortvecOverflow
			}
			return v, i + 1, nil
		}
	}
	return 0, 0, errShortvecOverflow
}

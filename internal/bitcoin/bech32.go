package bitcoin

import (
	"fmt"
	"strings"
)

// Bech32Variant identifies which checksum constant a Bech32 string satisfied
type Bech32Variant int

const (
	// Bech32 is the BIP173 encoding, used for witness version 0
	Bech32 Bech32Variant = iota + 1
	// Bech32m is the BIP350 encoding, used for witness versions 1 through 16
	Bech32m
)

// String returns the variant name
func (v Bech32Variant) String() string {
	switch v {
	case Bech32:
		return "bech32"
	case Bech32m:
		return "bech32m"
	default:
		return "unknown"
	}
}

const (
	bech32Charset     = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
	bech32Const       = 1
	bech32mConst      = 0x2bc830a3
	bech32ChecksumLen = 6
	bech32MaxLen      = 90
)

var bech32Generator = [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}

var bech32Index = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(bech32Charset); i++ {
		idx[bech32Charset[i]] = int8(i)
	}
	return idx
}()

func bech32Polymod(values []byte) uint32 {
	chk := uint32(1)
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i := 0; i < 5; i++ {
			if (top>>i)&1 == 1 {
				chk ^= bech32Generator[i]
			}
		}
	}
	return chk
}

func bech32HRPExpand(hrp string) []byte {
	out := make([]byte, 0, len(hrp)*2+1)
	for i := 0; i < len(hrp); i++ {
		out = append(out, hrp[i]>>5)
	}
	out = append(out, 0)
	for i := 0; i < len(hrp); i++ {
		out = append(out, hrp[i]&31)
	}
	return out
}

func (v Bech32Variant) constant() uint32 {
	if v == Bech32m {
		return bech32mConst
	}
	return bech32Const
}

// DecodeBech32 splits s at its last '1' separator, verifies the checksum and
// returns the lowercase HRP and the 5-bit data symbols without the checksum.
func DecodeBech32(s string) (string, []byte, Bech32Variant, error) {
	if len(s) < 8 || len(s) > bech32MaxLen {
		return "", nil, 0, fmt.Errorf("%w: length %d", ErrMalformed, len(s))
	}

	hasLower, hasUpper := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 33 || c > 126 {
			return "", nil, 0, fmt.Errorf("%w: byte 0x%02x at position %d", ErrInvalidCharacter, c, i)
		}
		hasLower = hasLower || (c >= 'a' && c <= 'z')
		hasUpper = hasUpper || (c >= 'A' && c <= 'Z')
	}
	if hasLower && hasUpper {
		return "", nil, 0, fmt.Errorf("%w: mixed case", ErrMalformed)
	}
	s = strings.ToLower(s)

	pos := strings.LastIndexByte(s, '1')
	if pos < 1 || pos+bech32ChecksumLen+1 > len(s) {
		return "", nil, 0, fmt.Errorf("%w: separator at %d", ErrMalformed, pos)
	}

	hrp := s[:pos]
	data := make([]byte, 0, len(s)-pos-1)
	for i := pos + 1; i < len(s); i++ {
		v := bech32Index[s[i]]
		if v < 0 {
			return "", nil, 0, fmt.Errorf("%w: %q at position %d", ErrInvalidCharacter, s[i], i)
		}
		data = append(data, byte(v))
	}

	var variant Bech32Variant
	switch bech32Polymod(append(bech32HRPExpand(hrp), data...)) {
	case bech32Const:
		variant = Bech32
	case bech32mConst:
		variant = Bech32m
	default:
		return "", nil, 0, ErrInvalidChecksum
	}

	return hrp, data[:len(data)-bech32ChecksumLen], variant, nil
}

// EncodeBech32 appends the 6-symbol checksum for variant and renders the string
func EncodeBech32(hrp string, data []byte, variant Bech32Variant) (string, error) {
	hrp = strings.ToLower(hrp)
	if hrp == "" || len(hrp)+1+len(data)+bech32ChecksumLen > bech32MaxLen {
		return "", fmt.Errorf("%w: hrp %q with %d symbols", ErrMalformed, hrp, len(data))
	}
	for _, d := range data {
		if d >= 32 {
			return "", fmt.Errorf("%w: symbol %d out of range", ErrInvalidCharacter, d)
		}
	}

	values := make([]byte, 0, len(hrp)*2+1+len(data)+bech32ChecksumLen)
	values = append(values, bech32HRPExpand(hrp)...)
	values = append(values, data...)
	values = append(values, make([]byte, bech32ChecksumLen)...)
	mod := bech32Polymod(values) ^ variant.constant()

	var sb strings.Builder
	sb.Grow(len(hrp) + 1 + len(data) + bech32ChecksumLen)
	sb.WriteString(hrp)
	sb.WriteByte('1')
	for _, d := range data {
		sb.WriteByte(bech32Charset[d])
	}
	for i := 0; i < bech32ChecksumLen; i++ {
		sb.WriteByte(bech32Charset[(mod>>(5*(5-i)))&31])
	}
	return sb.String(), nil
}

// ConvertBits regroups a bit-packed sequence from fromBits-wide to toBits-wide
// values. With pad set, a trailing partial group is zero-filled; without it,
// leftover bits must be fewer than fromBits and all zero.
func ConvertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	if fromBits < 1 || fromBits > 8 || toBits < 1 || toBits > 8 {
		return nil, fmt.Errorf("%w: cannot convert %d-bit to %d-bit groups", ErrMalformed, fromBits, toBits)
	}

	var acc uint32
	var bits uint
	maxv := uint32(1)<<toBits - 1
	maxAcc := uint32(1)<<(fromBits+toBits-1) - 1
	out := make([]byte, 0, len(data)*int(fromBits)/int(toBits)+1)

	for _, v := range data {
		if uint32(v)>>fromBits != 0 {
			return nil, fmt.Errorf("%w: value %d exceeds %d bits", ErrMalformed, v, fromBits)
		}
		acc = (acc<<fromBits | uint32(v)) & maxAcc
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte(acc>>bits&maxv))
		}
	}

	switch {
	case pad:
		if bits > 0 {
			out = append(out, byte(acc<<(toBits-bits)&maxv))
		}
	case bits >= fromBits:
		return nil, ErrExcessPadding
	case acc<<(toBits-bits)&maxv != 0:
		return nil, ErrNonZeroPadding
	}

	return out, nil
}

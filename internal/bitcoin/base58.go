// Package bitcoin provides the byte-exact Bitcoin codecs the verifier depends on:
// Base58Check and Bech32/Bech32m address encodings, address to scriptPubKey
// conversion in both directions, and a bounds-checked transaction reader.
// It also carries the node-facing helpers (ZMQ block notifications and a
// chain-tip RPC client) used by the watcher.
package bitcoin

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Codec errors. They are always recoverable: a caller that gets one treats the
// input as "not an address" and carries on.
var (
	ErrInvalidChecksum           = errors.New("invalid checksum")
	ErrInvalidCharacter          = errors.New("invalid character")
	ErrTooShort                  = errors.New("decoded data too short")
	ErrMalformed                 = errors.New("malformed encoding")
	ErrNonZeroPadding            = errors.New("non-zero padding bits")
	ErrExcessPadding             = errors.New("excess padding bits")
	ErrUnsupportedAddressVersion = errors.New("unsupported address version")
	ErrUnsupportedWitnessVersion = errors.New("unsupported witness version")
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// base58Index maps an ASCII byte to its alphabet value, -1 when not in the alphabet
var base58Index = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(base58Alphabet); i++ {
		idx[base58Alphabet[i]] = int8(i)
	}
	return idx
}()

const checksumLen = 4

// DecodeBase58 converts a Base58 string to bytes with byte-wise long multiplication.
// Each leading '1' becomes one leading 0x00 byte.
func DecodeBase58(s string) ([]byte, error) {
	zeros := 0
	for zeros < len(s) && s[zeros] == base58Alphabet[0] {
		zeros++
	}

	// little-endian base-256 accumulator
	acc := make([]byte, 0, len(s)*733/1000+1)
	for i := zeros; i < len(s); i++ {
		v := base58Index[s[i]]
		if v < 0 {
			return nil, fmt.Errorf("%w: %q at position %d", ErrInvalidCharacter, s[i], i)
		}

		carry := uint32(v)
		for j := range acc {
			carry += uint32(acc[j]) * 58
			acc[j] = byte(carry)
			carry >>= 8
		}
		for carry > 0 {
			acc = append(acc, byte(carry))
			carry >>= 8
		}
	}

	out := make([]byte, zeros+len(acc))
	for i, b := range acc {
		out[len(out)-1-i] = b
	}
	return out, nil
}

// EncodeBase58 is the inverse of DecodeBase58
func EncodeBase58(data []byte) string {
	zeros := 0
	for zeros < len(data) && data[zeros] == 0 {
		zeros++
	}

	// little-endian base-58 digits
	digits := make([]byte, 0, len(data)*138/100+1)
	for _, b := range data[zeros:] {
		carry := uint32(b)
		for j := range digits {
			carry += uint32(digits[j]) << 8
			digits[j] = byte(carry % 58)
			carry /= 58
		}
		for carry > 0 {
			digits = append(digits, byte(carry%58))
			carry /= 58
		}
	}

	out := make([]byte, zeros+len(digits))
	for i := 0; i < zeros; i++ {
		out[i] = base58Alphabet[0]
	}
	for i, d := range digits {
		out[len(out)-1-i] = base58Alphabet[d]
	}
	return string(out)
}

// DecodeBase58Check decodes s and verifies its trailing double-SHA256 checksum.
// The returned payload includes the version byte and excludes the checksum.
func DecodeBase58Check(s string) ([]byte, error) {
	raw, err := DecodeBase58(s)
	if err != nil {
		return nil, err
	}
	if len(raw) < checksumLen+1 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooShort, len(raw))
	}

	payload, sum := raw[:len(raw)-checksumLen], raw[len(raw)-checksumLen:]
	if !bytes.Equal(chainhash.DoubleHashB(payload)[:checksumLen], sum) {
		return nil, ErrInvalidChecksum
	}
	return payload, nil
}

// EncodeBase58Check appends the checksum to payload and Base58-encodes the result
func EncodeBase58Check(payload []byte) string {
	buf := make([]byte, 0, len(payload)+checksumLen)
	buf = append(buf, payload...)
	buf = append(buf, chainhash.DoubleHashB(payload)[:checksumLen]...)
	return EncodeBase58(buf)
}

package bitcoin

import (
	"bytes"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"testing/quick"
)

func TestDecodeBech32_ChecksumVectors(t *testing.T) {
	tests := []struct {
		input   string
		hrp     string
		variant Bech32Variant
	}{
		{"A12UEL5L", "a", Bech32},
		{"abcdef1qpzry9x8gf2tvdw0s3jn54khce6mua7lmqqqxw", "abcdef", Bech32},
		{"a1lqfn3a", "a", Bech32m},
		{"abcdef1l7aum6echk45nj3s0wdvt2fg8x9yrzpqzd3ryx", "abcdef", Bech32m},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			hrp, data, variant, err := DecodeBech32(tt.input)
			if err != nil {
				t.Fatalf("DecodeBech32() error: %v", err)
			}
			if hrp != tt.hrp {
				t.Errorf("hrp = %q, want %q", hrp, tt.hrp)
			}
			if variant != tt.variant {
				t.Errorf("variant = %s, want %s", variant, tt.variant)
			}

			again, err := EncodeBech32(hrp, data, variant)
			if err != nil {
				t.Fatalf("EncodeBech32() error: %v", err)
			}
			if again != strings.ToLower(tt.input) {
				t.Errorf("EncodeBech32() = %s, want %s", again, strings.ToLower(tt.input))
			}
		})
	}
}

func TestDecodeBech32_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"mixed case", "bc1Qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", ErrMalformed},
		{"no separator", "pzry9x0s0muk", ErrMalformed},
		{"empty hrp", "1pzry9x0s0muk", ErrMalformed},
		{"checksum too short", "li1dgmt3", ErrMalformed},
		{"invalid data character", "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3tb", ErrInvalidCharacter},
		{"control character in hrp", "\x201nwldj5", ErrInvalidCharacter},
		{"bad checksum", "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t5", ErrInvalidChecksum},
		{"too long", "bc1" + strings.Repeat("q", 88), ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := DecodeBech32(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeBech32(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestBech32_SingleSubstitutionDetected(t *testing.T) {
	valid := []string{
		"bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4",
		"tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx",
		"bc1p0xlxvlhemja6c4dqv22uapctqupfhlxm9h8z3k2e72q4k9hcz7vqzk5jj0",
	}
	rng := rand.New(rand.NewSource(173))

	for _, addr := range valid {
		sep := strings.LastIndexByte(addr, '1')
		for i := 0; i < 200; i++ {
			pos := sep + 1 + rng.Intn(len(addr)-sep-1)
			c := bech32Charset[rng.Intn(len(bech32Charset))]
			if c == addr[pos] {
				continue
			}
			mutated := addr[:pos] + string(c) + addr[pos+1:]
			if _, _, _, err := DecodeBech32(mutated); err == nil {
				t.Fatalf("mutation %s accepted", mutated)
			}
		}
	}
}

func TestConvertBits(t *testing.T) {
	t.Run("8 to 5 to 8 round trip", func(t *testing.T) {
		f := func(data []byte) bool {
			five, err := ConvertBits(data, 8, 5, true)
			if err != nil {
				return false
			}
			eight, err := ConvertBits(five, 5, 8, false)
			if err != nil {
				return false
			}
			return bytes.Equal(eight, data) || (len(eight) == 0 && len(data) == 0)
		}
		if err := quick.Check(f, nil); err != nil {
			t.Error(err)
		}
	})

	t.Run("non-zero padding", func(t *testing.T) {
		// 0x1f 0x1f carries 10 bits; the trailing 2 must be zero
		if _, err := ConvertBits([]byte{0x1f, 0x1f}, 5, 8, false); !errors.Is(err, ErrNonZeroPadding) {
			t.Errorf("error = %v, want ErrNonZeroPadding", err)
		}
	})

	t.Run("excess padding", func(t *testing.T) {
		// 5 zero bits cannot be padding when converting to bytes
		if _, err := ConvertBits([]byte{0x00, 0x00, 0x00}, 5, 8, false); !errors.Is(err, ErrExcessPadding) {
			t.Errorf("error = %v, want ErrExcessPadding", err)
		}
	})

	t.Run("value out of range", func(t *testing.T) {
		if _, err := ConvertBits([]byte{32}, 5, 8, false); !errors.Is(err, ErrMalformed) {
			t.Errorf("error = %v, want ErrMalformed", err)
		}
	})
}

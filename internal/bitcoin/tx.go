package bitcoin

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	verrors "github.com/bardlex/poolverify/pkg/errors"
)

// TxOutput is one output in serialized order
type TxOutput struct {
	Index  int
	Value  uint64
	Script []byte
}

const (
	outPointSize  = 32 + 4
	minInputSize  = outPointSize + 1 + 4
	minOutputSize = 8 + 1
	maxTagLen     = 64
	minTagLen     = 3
)

// readPreamble consumes the version and, when present, the SegWit marker and flag
func readPreamble(r *Reader) (segwit bool, err error) {
	if err := r.Skip(4); err != nil {
		return false, err
	}
	if r.Remaining() >= 2 && r.buf[r.pos] == 0x00 && r.buf[r.pos+1] == 0x01 {
		r.pos += 2
		return true, nil
	}
	return false, nil
}

func readCount(r *Reader, op string, minSize int) (int, error) {
	start := r.Offset()
	n, err := r.ReadLength()
	if err != nil {
		return 0, err
	}
	if n*minSize > r.Remaining() {
		return 0, verrors.New(verrors.ErrorTypeBuffer, op,
			fmt.Sprintf("count %d cannot fit in %d remaining bytes", n, r.Remaining())).
			WithContext("offset", start)
	}
	return n, nil
}

// ParseOutputs walks a full serialized transaction and returns its outputs.
// Inputs and witness stacks are traversed and discarded; the locktime must be
// the last four bytes.
func ParseOutputs(raw []byte) ([]TxOutput, error) {
	r := NewReader(raw)

	segwit, err := readPreamble(r)
	if err != nil {
		return nil, err
	}

	inputs, err := readCount(r, "parse_inputs", minInputSize)
	if err != nil {
		return nil, err
	}
	for n := 0; n < inputs; n++ {
		if err := r.Skip(outPointSize); err != nil {
			return nil, err
		}
		if _, err := r.ReadVarBytes(); err != nil {
			return nil, err
		}
		if err := r.Skip(4); err != nil {
			return nil, err
		}
	}

	count, err := readCount(r, "parse_outputs", minOutputSize)
	if err != nil {
		return nil, err
	}
	outputs := make([]TxOutput, 0, count)
	for i := 0; i < count; i++ {
		value, err := r.ReadUint64LE()
		if err != nil {
			return nil, err
		}
		script, err := r.ReadVarBytes()
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, TxOutput{Index: i, Value: value, Script: script})
	}

	if segwit {
		for n := 0; n < inputs; n++ {
			items, err := readCount(r, "parse_witness", 1)
			if err != nil {
				return nil, err
			}
			for k := 0; k < items; k++ {
				if _, err := r.ReadVarBytes(); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := r.Skip(4); err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, verrors.New(verrors.ErrorTypeBuffer, "parse_outputs",
			fmt.Sprintf("%d trailing bytes after locktime", r.Remaining())).
			WithContext("offset", r.Offset())
	}

	return outputs, nil
}

// coinbaseScriptSig returns the scriptSig of the first input
func coinbaseScriptSig(raw []byte) ([]byte, error) {
	r := NewReader(raw)
	if _, err := readPreamble(r); err != nil {
		return nil, err
	}
	inputs, err := readCount(r, "coinbase_input", minInputSize)
	if err != nil {
		return nil, err
	}
	if inputs < 1 {
		return nil, verrors.New(verrors.ErrorTypeBuffer, "coinbase_input", "transaction has no inputs")
	}
	if err := r.Skip(outPointSize); err != nil {
		return nil, err
	}
	return r.ReadVarBytes()
}

// ExtractCoinbaseTag returns the printable characters of the coinbase scriptSig,
// truncated to 64, or "" when fewer than 3 remain or the transaction does not parse.
func ExtractCoinbaseTag(raw []byte) string {
	script, err := coinbaseScriptSig(raw)
	if err != nil {
		return ""
	}

	var sb strings.Builder
	for _, b := range script {
		if b >= 0x20 && b <= 0x7e {
			sb.WriteByte(b)
			if sb.Len() == maxTagLen {
				break
			}
		}
	}
	if sb.Len() < minTagLen {
		return ""
	}
	return sb.String()
}

// CoinbaseHeight decodes the BIP34 block height pushed at the start of the
// coinbase scriptSig
func CoinbaseHeight(raw []byte) (int64, bool) {
	script, err := coinbaseScriptSig(raw)
	if err != nil || len(script) == 0 {
		return 0, false
	}

	op := script[0]
	switch {
	case op == txscript.OP_0:
		return 0, true
	case op >= txscript.OP_1 && op <= txscript.OP_16:
		return int64(op-txscript.OP_1) + 1, true
	case op >= txscript.OP_DATA_1 && op <= txscript.OP_DATA_8:
		n := int(op)
		if len(script) < n+1 {
			return 0, false
		}
		// minimal script number, little-endian with a sign bit
		var v int64
		for i := n - 1; i >= 0; i-- {
			v = v<<8 | int64(script[1+i])
		}
		if script[n]&0x80 != 0 {
			return 0, false
		}
		return v, true
	default:
		return 0, false
	}
}

// TxID is the double SHA256 of raw in the reversed display byte order
func TxID(raw []byte) string {
	return chainhash.DoubleHashH(raw).String()
}

// AssembleCoinbase joins the stratum coinbase fragments around extranonce1 and
// an all-zero extranonce2 of the advertised size.
func AssembleCoinbase(coinb1, extranonce1 string, extranonce2Size int, coinb2 string) ([]byte, error) {
	if extranonce2Size < 0 || extranonce2Size > 32 {
		return nil, verrors.New(verrors.ErrorTypeCodec, "assemble_coinbase",
			fmt.Sprintf("extranonce2 size %d out of range", extranonce2Size))
	}

	parts := make([][]byte, 0, 3)
	for _, field := range []struct{ name, hex string }{
		{"coinb1", coinb1},
		{"extranonce1", extranonce1},
		{"coinb2", coinb2},
	} {
		b, err := hex.DecodeString(field.hex)
		if err != nil {
			return nil, verrors.Wrap(err, verrors.ErrorTypeCodec, "assemble_coinbase",
				"invalid "+field.name+" hex")
		}
		parts = append(parts, b)
	}

	raw := make([]byte, 0, len(parts[0])+len(parts[1])+extranonce2Size+len(parts[2]))
	raw = append(raw, parts[0]...)
	raw = append(raw, parts[1]...)
	raw = append(raw, make([]byte, extranonce2Size)...)
	raw = append(raw, parts[2]...)
	return raw, nil
}

// Package stratumtest provides a scriptable in-process stratum pool and a
// coinbase template builder for prober and verifier tests.
package stratumtest

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/poolverify/internal/stratum"
)

// Payout is one coinbase output. Script, when set, is used verbatim;
// otherwise Address is decoded with btcutil.
type Payout struct {
	Address string
	Script  []byte
	Value   int64
}

// Coinbase describes the coinbase a fake pool hands out
type Coinbase struct {
	Height          int64
	Tag             string
	Extranonce1     string
	Extranonce2Size int
	Payouts         []Payout
	Params          *chaincfg.Params
	// Witness adds a witness reserved value, producing a SegWit serialization
	Witness bool
}

// Build serializes the coinbase with btcd and splits it around the extranonce
// area. It returns the notify template and the transaction a miner would
// assemble with an all-zero extranonce2.
func (c Coinbase) Build() (*stratum.JobTemplate, *wire.MsgTx, error) {
	params := c.Params
	if params == nil {
		params = &chaincfg.MainNetParams
	}

	heightScript, err := txscript.NewScriptBuilder().AddInt64(c.Height).Script()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create height script: %w", err)
	}
	en1, err := hex.DecodeString(c.Extranonce1)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode extranonce1: %w", err)
	}

	prefix := append(heightScript, []byte(c.Tag)...)
	sig := append(append(append([]byte{}, prefix...), en1...), make([]byte, c.Extranonce2Size)...)

	tx := wire.NewMsgTx(wire.TxVersion)
	in := &wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{}, Index: 0xffffffff},
		SignatureScript:  sig,
		Sequence:         0xffffffff,
	}
	if c.Witness {
		in.Witness = wire.TxWitness{make([]byte, 32)}
	}
	tx.AddTxIn(in)

	for _, p := range c.Payouts {
		script := p.Script
		if script == nil {
			addr, err := btcutil.DecodeAddress(p.Address, params)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to decode payout address %s: %w", p.Address, err)
			}
			if script, err = txscript.PayToAddrScript(addr); err != nil {
				return nil, nil, fmt.Errorf("failed to create output script: %w", err)
			}
		}
		tx.AddTxOut(wire.NewTxOut(p.Value, script))
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, nil, fmt.Errorf("failed to serialize coinbase: %w", err)
	}
	raw := buf.Bytes()

	// version, optional marker and flag, input count, outpoint, script length
	scriptStart := 4 + 1 + 36 + wire.VarIntSerializeSize(uint64(len(sig)))
	if c.Witness {
		scriptStart += 2
	}
	split1 := scriptStart + len(prefix)
	split2 := scriptStart + len(sig)

	job := &stratum.JobTemplate{
		JobID:     fmt.Sprintf("%x", c.Height),
		PrevHash:  chainhash.Hash{}.String(),
		Coinb1:    hex.EncodeToString(raw[:split1]),
		Coinb2:    hex.EncodeToString(raw[split2:]),
		Version:   "20000000",
		NBits:     fmt.Sprintf("%08x", params.PowLimitBits),
		NTime:     "66a1b2c3",
		CleanJobs: true,
	}
	return job, tx, nil
}

package bitcoin

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// Network selects the address prefixes used when rendering a scriptPubKey
type Network struct {
	Name   string
	Params *chaincfg.Params
}

// Supported networks
var (
	MainNet = &Network{Name: "mainnet", Params: &chaincfg.MainNetParams}
	TestNet = &Network{Name: "testnet", Params: &chaincfg.TestNet3Params}
)

var networks = []*Network{MainNet, TestNet}

// HRP returns the Bech32 human-readable part for segwit addresses
func (n *Network) HRP() string {
	return n.Params.Bech32HRPSegwit
}

// NetworkByName maps a configuration value to a Network
func NetworkByName(name string) (*Network, error) {
	switch strings.ToLower(name) {
	case "", "mainnet", "main", "bitcoin":
		return MainNet, nil
	case "testnet", "testnet3", "test":
		return TestNet, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin network %q", name)
	}
}

// NetworkForAddress guesses the network an address belongs to: testnet for a
// tb1 prefix or a testnet Base58 version byte, mainnet otherwise.
func NetworkForAddress(addr string) *Network {
	lower := strings.ToLower(addr)
	if strings.HasPrefix(lower, TestNet.HRP()+"1") {
		return TestNet
	}
	if strings.HasPrefix(lower, MainNet.HRP()+"1") {
		return MainNet
	}
	if payload, err := DecodeBase58Check(addr); err == nil {
		v := payload[0]
		if v == TestNet.Params.PubKeyHashAddrID || v == TestNet.Params.ScriptHashAddrID {
			return TestNet
		}
	}
	return MainNet
}

func isSegwitAddress(addr string) bool {
	lower := strings.ToLower(addr)
	for _, n := range networks {
		if strings.HasPrefix(lower, n.HRP()+"1") {
			return true
		}
	}
	return false
}

// AddressToScriptPubKey returns the locking script an address stands for
func AddressToScriptPubKey(addr string) ([]byte, error) {
	if isSegwitAddress(addr) {
		return segwitScript(addr)
	}
	return base58Script(addr)
}

func segwitScript(addr string) ([]byte, error) {
	_, data, variant, err := DecodeBech32(addr)
	if err != nil {
		return nil, err
	}
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty witness data", ErrMalformed)
	}

	version := data[0]
	if version > 16 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedWitnessVersion, version)
	}
	if (version == 0) != (variant == Bech32) {
		return nil, fmt.Errorf("%w: witness v%d encoded as %s", ErrInvalidChecksum, version, variant)
	}

	program, err := ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(program) < 2 || len(program) > 40 {
		return nil, fmt.Errorf("%w: witness program of %d bytes", ErrMalformed, len(program))
	}
	if version == 0 && len(program) != 20 && len(program) != 32 {
		return nil, fmt.Errorf("%w: v0 witness program of %d bytes", ErrMalformed, len(program))
	}

	return txscript.NewScriptBuilder().
		AddOp(witnessVersionOpcode(version)).
		AddData(program).
		Script()
}

func base58Script(addr string) ([]byte, error) {
	payload, err := DecodeBase58Check(addr)
	if err != nil {
		return nil, err
	}
	if len(payload) != 21 {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrMalformed, len(payload))
	}

	version, hash := payload[0], payload[1:]
	for _, n := range networks {
		switch version {
		case n.Params.PubKeyHashAddrID:
			return txscript.NewScriptBuilder().
				AddOp(txscript.OP_DUP).
				AddOp(txscript.OP_HASH160).
				AddData(hash).
				AddOp(txscript.OP_EQUALVERIFY).
				AddOp(txscript.OP_CHECKSIG).
				Script()
		case n.Params.ScriptHashAddrID:
			return txscript.NewScriptBuilder().
				AddOp(txscript.OP_HASH160).
				AddData(hash).
				AddOp(txscript.OP_EQUAL).
				Script()
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupportedAddressVersion, version)
}

// witness version 0 is OP_0, versions 1..16 are OP_1..OP_16
func witnessVersionOpcode(version byte) byte {
	if version == 0 {
		return txscript.OP_0
	}
	return txscript.OP_1 + version - 1
}

// ScriptType names the template a scriptPubKey matches
type ScriptType string

// Recognised script templates
const (
	ScriptP2PKH    ScriptType = "p2pkh"
	ScriptP2SH     ScriptType = "p2sh"
	ScriptP2WPKH   ScriptType = "p2wpkh"
	ScriptP2WSH    ScriptType = "p2wsh"
	ScriptP2TR     ScriptType = "p2tr"
	ScriptWitness  ScriptType = "witness_unknown"
	ScriptNullData ScriptType = "nulldata"
	ScriptUnknown  ScriptType = "nonstandard"
)

// ClassifyScript reports which template script matches
func ClassifyScript(script []byte) ScriptType {
	switch {
	case isP2PKH(script):
		return ScriptP2PKH
	case isP2SH(script):
		return ScriptP2SH
	case len(script) > 0 && script[0] == txscript.OP_RETURN:
		return ScriptNullData
	}

	version, program, ok := witnessProgram(script)
	if !ok {
		return ScriptUnknown
	}
	switch {
	case version == 0 && len(program) == 20:
		return ScriptP2WPKH
	case version == 0 && len(program) == 32:
		return ScriptP2WSH
	case version == 1 && len(program) == 32:
		return ScriptP2TR
	case version == 0:
		return ScriptUnknown
	default:
		return ScriptWitness
	}
}

func isP2PKH(s []byte) bool {
	return len(s) == 25 &&
		s[0] == txscript.OP_DUP &&
		s[1] == txscript.OP_HASH160 &&
		s[2] == txscript.OP_DATA_20 &&
		s[23] == txscript.OP_EQUALVERIFY &&
		s[24] == txscript.OP_CHECKSIG
}

func isP2SH(s []byte) bool {
	return len(s) == 23 &&
		s[0] == txscript.OP_HASH160 &&
		s[1] == txscript.OP_DATA_20 &&
		s[22] == txscript.OP_EQUAL
}

// witnessProgram matches OP_n <direct push of 2..40 bytes>
func witnessProgram(s []byte) (byte, []byte, bool) {
	if len(s) < 4 || len(s) > 42 {
		return 0, nil, false
	}
	var version byte
	switch op := s[0]; {
	case op == txscript.OP_0:
		version = 0
	case op >= txscript.OP_1 && op <= txscript.OP_16:
		version = op - txscript.OP_1 + 1
	default:
		return 0, nil, false
	}
	if int(s[1]) != len(s)-2 {
		return 0, nil, false
	}
	return version, s[2:], true
}

// ScriptPubKeyToAddress renders script as an address on net. The boolean is
// false for any script outside the five supported templates; that is an
// expected outcome, not a failure.
func ScriptPubKeyToAddress(script []byte, net *Network) (string, bool) {
	if net == nil {
		net = MainNet
	}

	switch {
	case isP2PKH(script):
		return EncodeBase58Check(append([]byte{net.Params.PubKeyHashAddrID}, script[3:23]...)), true
	case isP2SH(script):
		return EncodeBase58Check(append([]byte{net.Params.ScriptHashAddrID}, script[2:22]...)), true
	}

	version, program, ok := witnessProgram(script)
	if !ok || (version == 0 && len(program) != 20 && len(program) != 32) {
		return "", false
	}

	converted, err := ConvertBits(program, 8, 5, true)
	if err != nil {
		return "", false
	}
	variant := Bech32m
	if version == 0 {
		variant = Bech32
	}

	addr, err := EncodeBech32(net.HRP(), append([]byte{version}, converted...), variant)
	if err != nil {
		return "", false
	}
	return addr, true
}

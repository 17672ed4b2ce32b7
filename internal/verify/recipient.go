package verify

import (
	"regexp"
	"strings"

	"github.com/bardlex/poolverify/internal/bitcoin"
)

// addressShape is a cheap pre-filter for the Base58 and Bech32 address
// families. Passing it says nothing about the checksum.
var addressShape = regexp.MustCompile(
	`^(?:[123mn][1-9A-HJ-NP-Za-km-z]{25,34}|(?i:(?:bc|tb)1[ac-hj-np-z02-9]{6,87}))$`)

// Recipient is the address payouts are checked against
type Recipient struct {
	Address string
	Script  []byte
	Network *bitcoin.Network
	Type    bitcoin.ScriptType
}

// Valid reports whether the address decoded to a scriptPubKey
func (r Recipient) Valid() bool {
	return len(r.Script) > 0
}

// LooksLikeAddress applies the shape filter only
func LooksLikeAddress(s string) bool {
	return addressShape.MatchString(s)
}

// RecipientCandidate picks the string to interpret as the payout address. An
// explicit override wins. Otherwise the part of the stratum username before a
// ".worker" or "/worker" suffix is used when it has an address shape, and the
// whole username when it does not.
func RecipientCandidate(username, override string) string {
	if o := strings.TrimSpace(override); o != "" {
		return o
	}
	username = strings.TrimSpace(username)
	if i := strings.IndexAny(username, "./"); i >= 0 {
		if prefix := username[:i]; LooksLikeAddress(prefix) {
			return prefix
		}
	}
	return username
}

// ResolveRecipient converts the candidate into a scriptPubKey. An address that
// does not decode is returned without a script; that is the degraded "no
// checkable recipient" mode, not an error.
func ResolveRecipient(username, override string) Recipient {
	addr := RecipientCandidate(username, override)
	r := Recipient{Address: addr}
	if addr == "" {
		return r
	}

	script, err := bitcoin.AddressToScriptPubKey(addr)
	if err != nil {
		return r
	}
	r.Script = script
	r.Network = bitcoin.NetworkForAddress(addr)
	r.Type = bitcoin.ClassifyScript(script)
	return r
}

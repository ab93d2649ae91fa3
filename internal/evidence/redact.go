package evidence

import "regexp"

// On-chain identifiers must never appear in stored audit records, even when a
// rule message interpolates plan fields.
var (
	txHashRE        = regexp.MustCompile(`0x[a-fA-F0-9]{64}`)
	walletAddressRE = regexp.MustCompile(`0x[a-fA-F0-9]{40}`)
)

// Redact replaces wallet addresses and transaction hashes in s with fixed
// placeholders. Hashes are redacted first so a 64-hex-char value is not
// half-matched as an address.
func Redact(s string) string {
	s = txHashRE.ReplaceAllString(s, "[tx-hash]")
	s = walletAddressRE.ReplaceAllString(s, "[wallet-address]")
	return s
}

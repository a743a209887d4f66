// Package fingerprint derives a stable device tag from the raw user-agent
// string and verifies that a token presented on a request still matches the
// context it was issued in.
//
// The tag is the first 32 hex characters of a SHA-256 digest. It is a
// low-stakes anti-replay signal, not a secret: collision resistance at
// truncated-digest strength is sufficient, full preimage resistance is not
// required.
//
// # Matching policy
//
// Binding verification requires byte-exact equality of both the fingerprint
// and, when both sides carry one, the network origin. Subnet-tolerant origin
// matching was considered and rejected: drift within a subnet is exactly the
// replay context a bound token is meant to refuse.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Length is the number of hex characters in a generated fingerprint.
const Length = 32

// Generate returns the device tag for a user-agent string, or "" when no
// user-agent is available. Identical input always yields an identical tag.
func Generate(userAgent string) string {
	if userAgent == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(userAgent))
	return hex.EncodeToString(sum[:])[:Length]
}

// Verify reports whether a token's binding claims match the current request
// context.
//
//   - Both fingerprints empty: the token was issued without binding, match.
//   - Exactly one empty: mismatch.
//   - Both present: must be byte-equal, and if both origin strings are
//     present they must be byte-equal as well.
func Verify(tokenFP, requestFP, tokenOrigin, requestOrigin string) bool {
	if tokenFP == "" && requestFP == "" {
		return true
	}
	if tokenFP == "" || requestFP == "" {
		return false
	}
	if tokenFP != requestFP {
		return false
	}

	if tokenOrigin != "" && requestOrigin != "" {
		return tokenOrigin == requestOrigin
	}

	return true
}

// Package token issues and verifies the signed, time-boxed access and
// refresh tokens that carry identity, device-fingerprint, and network-origin
// claims.
//
// Tokens are stateless: validity is recomputed on every verification call
// and never cached. Verification fails closed — signature failure, expiry,
// issuer/audience mismatch, type mismatch, or binding rejection all return
// an error and no claims.
package token

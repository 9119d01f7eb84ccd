// Package security holds the gateway's authentication and throttling
// primitives: bearer token verification and per-connection rate limiting.
package security

import (
	"crypto/sha256"
	"crypto/subtle"
)

// TokenGuard validates bearer tokens presented during the gateway
// handshake. Tokens are compared as SHA-256 digests so the comparison is
// constant-time regardless of input length.
type TokenGuard struct {
	requireAuth bool
	tokenHash   [sha256.Size]byte
}

// NewTokenGuard creates a guard. When requireAuth is false every Verify
// call succeeds; otherwise the supplied token is the only accepted one.
func NewTokenGuard(requireAuth bool, token string) *TokenGuard {
	g := &TokenGuard{requireAuth: requireAuth}
	if requireAuth {
		g.tokenHash = sha256.Sum256([]byte(token))
	}
	return g
}

// RequireAuth reports whether connections must present a token.
func (g *TokenGuard) RequireAuth() bool { return g.requireAuth }

// Verify checks a presented token. Empty tokens never pass when auth is
// required.
func (g *TokenGuard) Verify(token string) bool {
	if !g.requireAuth {
		return true
	}
	if token == "" {
		return false
	}
	sum := sha256.Sum256([]byte(token))
	return subtle.ConstantTimeCompare(sum[:], g.tokenHash[:]) == 1
}

// Package pkce implements Proof Key for Code Exchange (RFC 7636) as
// required by OAuth 2.1: challenge derivation, verifier format
// validation, and constant-time verification.
package pkce

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/halcyonlabs/oauthcore/security"
)

// Code challenge methods from RFC 7636.
const (
	MethodS256  = "S256"
	MethodPlain = "plain"
)

// Verifier length bounds from RFC 7636 section 4.1.
const (
	MinVerifierLength = 43
	MaxVerifierLength = 128
)

// GenerateVerifier returns a fresh code verifier with at least 256 bits
// of entropy, in the RFC 7636 unreserved alphabet.
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// DeriveChallenge computes the code challenge for a verifier under the
// given method: base64url-no-padding of SHA-256 for S256, identity for
// plain. An unsupported method is an error.
func DeriveChallenge(verifier, method string) (string, error) {
	switch method {
	case MethodS256:
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	case MethodPlain:
		return verifier, nil
	default:
		return "", fmt.Errorf("unsupported code_challenge_method: %s", method)
	}
}

// ValidVerifier reports whether a code verifier satisfies the RFC 7636
// format: 43-128 characters drawn from [A-Za-z0-9-._~]. Format is checked
// before any comparison so a malformed verifier is rejected regardless of
// whether its comparison would succeed.
func ValidVerifier(verifier string) bool {
	if len(verifier) < MinVerifierLength || len(verifier) > MaxVerifierLength {
		return false
	}
	for _, ch := range verifier {
		ok := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !ok {
			return false
		}
	}
	return true
}

// ValidChallenge reports whether a code challenge satisfies the RFC 7636
// format. The challenge grammar is the verifier grammar: an S256 challenge
// is 43 characters of base64url, a plain challenge is the verifier itself.
func ValidChallenge(challenge string) bool {
	return ValidVerifier(challenge)
}

// ValidMethod reports whether method is a known challenge method,
// honoring the allowPlain configuration gate.
func ValidMethod(method string, allowPlain bool) bool {
	switch method {
	case MethodS256:
		return true
	case MethodPlain:
		return allowPlain
	default:
		return false
	}
}

// Verify reports whether verifier reproduces challenge under method. Both
// methods compare in constant time: a plain verifier is effectively a
// secret, and for S256 the uniform comparison costs nothing.
func Verify(verifier, challenge, method string) bool {
	derived, err := DeriveChallenge(verifier, method)
	if err != nil {
		return false
	}
	return security.StringsEqual(derived, challenge)
}

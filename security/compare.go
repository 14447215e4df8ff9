package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"
)

// dummyBcryptHash is a pre-computed bcrypt hash compared against when the
// client is unknown or has no secret, so the endpoint performs the same
// amount of work whether or not the client exists. Response time then
// reveals nothing about client existence.
const dummyBcryptHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// SecretsEqual compares two byte strings in constant time with respect to
// their content. A length mismatch returns false immediately; length is
// allowed to leak, the position of the first differing byte is not.
func SecretsEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// StringsEqual is SecretsEqual for strings.
func StringsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// VerifySecretHash checks a plaintext secret against a bcrypt hash.
// When hash is empty the dummy hash is compared instead, keeping the
// timing profile uniform, and the result is always false.
func VerifySecretHash(hash, secret string) bool {
	real := hash != ""
	if !real {
		hash = dummyBcryptHash
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	return real && err == nil
}

// HashSecret produces a bcrypt hash suitable for Client.SecretHash.
func HashSecret(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Fingerprint returns a deterministic base64url SHA-256 digest of a token
// string. Storage backends key token records by fingerprint so a dump of
// the store yields no usable bearer tokens.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

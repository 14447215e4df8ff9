// Package testutil provides fixtures and helpers shared by the library's
// tests.
package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/halcyonlabs/oauthcore/security"
	"github.com/halcyonlabs/oauthcore/storage"
)

// GenerateRandomString generates a random base64url string of the given
// length.
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair generates a valid S256 (challenge, verifier) pair.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = GenerateRandomString(50)
	hash := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(hash[:])
	return challenge, verifier
}

// NewConfidentialClient builds a confidential client whose secret
// verifies against its stored hash.
func NewConfidentialClient(t *testing.T, id, secret string) *storage.Client {
	t.Helper()

	hash, err := security.HashSecret(secret)
	if err != nil {
		t.Fatalf("HashSecret() error = %v", err)
	}
	return &storage.Client{
		ID:         id,
		SecretHash: hash,
		Name:       "Test Client",
		RedirectURIs: []string{
			"https://app.example/cb",
		},
		GrantTypes: []string{
			storage.GrantAuthorizationCode,
			storage.GrantRefreshToken,
			storage.GrantClientCredentials,
		},
		Scopes:        []string{"read", "write"},
		DefaultScopes: []string{"read"},
		CreatedAt:     time.Now(),
	}
}

// NewPublicClient builds a public client with no secret.
func NewPublicClient(id string) *storage.Client {
	return &storage.Client{
		ID:     id,
		Public: true,
		Name:   "Test Public Client",
		RedirectURIs: []string{
			"https://app.example/cb",
		},
		GrantTypes: []string{
			storage.GrantAuthorizationCode,
			storage.GrantRefreshToken,
		},
		Scopes:        []string{"read", "write"},
		DefaultScopes: []string{"read"},
		CreatedAt:     time.Now(),
	}
}

// NewCodeRecord builds an unconsumed authorization code record bound to
// the given client and challenge.
func NewCodeRecord(clientID, challenge, method string) *storage.AuthorizationCodeRecord {
	return &storage.AuthorizationCodeRecord{
		Code:                GenerateRandomString(43),
		ClientID:            clientID,
		RedirectURI:         "https://app.example/cb",
		Scopes:              []string{"read"},
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		Subject:             "user-123",
		CreatedAt:           time.Now(),
		ExpiresAt:           time.Now().Add(10 * time.Minute),
	}
}

// NewTokenRecord builds a token record of the given kind.
func NewTokenRecord(kind storage.TokenKind, clientID, subject string) *storage.TokenRecord {
	rec := &storage.TokenRecord{
		Token:     GenerateRandomString(43),
		Kind:      kind,
		ClientID:  clientID,
		Subject:   subject,
		Scopes:    []string{"read"},
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if kind == storage.TokenKindRefresh {
		rec.LineageID = GenerateRandomString(16)
		rec.ExpiresAt = time.Now().Add(24 * time.Hour)
	}
	return rec
}

package storage

import (
	"context"
	"time"
)

// Grant type identifiers as they appear in client registrations and
// token requests.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Client represents a registered OAuth client. Clients are created and
// updated by the owner of the storage backend; the core only reads them.
type Client struct {
	ID           string
	SecretHash   string // bcrypt hash; empty for public clients
	Public       bool   // public clients authenticate by identity only
	Name         string
	RedirectURIs []string // exact-match registration set
	GrantTypes   []string // subset of the Grant* constants
	Scopes       []string // scopes the client may be granted
	// DefaultScopes is granted when an authorization request carries no
	// scope parameter. Empty means such requests are rejected.
	DefaultScopes []string
	CreatedAt     time.Time
}

// AllowsGrant reports whether the client is registered for the grant type.
func (c *Client) AllowsGrant(grant string) bool {
	for _, g := range c.GrantTypes {
		if g == grant {
			return true
		}
	}
	return false
}

// AuthorizationCodeRecord is a single-use authorization code with
// everything it was bound to at issuance.
type AuthorizationCodeRecord struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	Subject             string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Consumed            bool
}

// TokenRecord is an issued access or refresh token. Refresh tokens carry
// their rotation lineage: LineageID groups the chain, Generation counts
// rotations, and Rotated marks members that were replaced by a successor.
type TokenRecord struct {
	Token      string
	Kind       TokenKind
	ClientID   string
	Subject    string // empty for client_credentials tokens
	Scopes     []string
	LineageID  string // refresh tokens only
	Generation int
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Rotated    bool
	Revoked    bool
	RevokedAt  time.Time
}

// ClientStore looks up registered clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// FindClient retrieves a client by ID. Returns ErrClientNotFound if
	// no client is registered under the ID.
	FindClient(ctx context.Context, clientID string) (*Client, error)
}

// AuthorizationCodeStore persists authorization codes.
// All methods accept context.Context for tracing and cancellation.
type AuthorizationCodeStore interface {
	// SaveAuthorizationCode persists an issued code with Consumed=false.
	SaveAuthorizationCode(ctx context.Context, rec *AuthorizationCodeRecord) error

	// ConsumeAuthorizationCode atomically checks that the code exists, is
	// unexpired and unconsumed, marks it consumed, and returns the record
	// as it was bound at issuance. At most one of any number of
	// concurrent calls for the same code succeeds.
	//
	// Failure contract: ErrCodeNotFound and ErrCodeExpired return a nil
	// record; ErrCodeConsumed returns the prior record so the caller can
	// run reuse-detection revocation.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCodeRecord, error)

	// DeleteAuthorizationCode removes a code. Deleting an unknown code is
	// not an error.
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore persists access and refresh tokens.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveToken persists an issued token record.
	SaveToken(ctx context.Context, rec *TokenRecord) error

	// FindToken retrieves a token record. Returns ErrTokenNotFound for
	// unknown tokens; expiry and revocation state are returned on the
	// record, not converted to errors, so introspection can report them.
	FindToken(ctx context.Context, token string) (*TokenRecord, error)

	// RevokeToken marks a token revoked. Idempotent: revoking an unknown
	// or already-revoked token is not an error.
	RevokeToken(ctx context.Context, token string) error

	// RotateRefreshToken atomically verifies that oldToken is the current
	// head of its lineage (exists, refresh kind, unexpired, not revoked,
	// not already rotated), marks it rotated, and persists replacement.
	// At most one rotation of a given token succeeds.
	//
	// Failure contract: ErrTokenNotFound and ErrTokenExpired return a nil
	// record; ErrRotationConflict and ErrTokenRevoked return the stale
	// record so the caller can revoke the lineage.
	RotateRefreshToken(ctx context.Context, oldToken string, replacement *TokenRecord) (*TokenRecord, error)

	// RevokeLineage revokes every token in a refresh-token lineage.
	// Idempotent.
	RevokeLineage(ctx context.Context, lineageID string) error

	// RevokeTokensForSubjectClient revokes all tokens bound to the
	// subject+client pair and returns how many were revoked. Used when
	// authorization code reuse is detected.
	RevokeTokensForSubjectClient(ctx context.Context, subject, clientID string) (int, error)
}

// Store aggregates the three contracts for backends that implement all of
// them in one type, as both bundled implementations do.
type Store interface {
	ClientStore
	AuthorizationCodeStore
	TokenStore
}

package storage

import "errors"

// Sentinel errors returned by store implementations. The server package
// maps these to the public error taxonomy; any other error coming out of
// a store is treated as an infrastructure failure (server_error class),
// so implementations must return these exact values (possibly wrapped with
// %w) for domain conditions.
var (
	// ErrClientNotFound indicates no client is registered under the ID.
	ErrClientNotFound = errors.New("client not found")

	// ErrCodeNotFound indicates the authorization code does not exist.
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrCodeExpired indicates the authorization code exists but is past
	// its expiry timestamp.
	ErrCodeExpired = errors.New("authorization code expired")

	// ErrCodeConsumed indicates the authorization code was already
	// redeemed. ConsumeAuthorizationCode returns the prior record
	// alongside this error so the core can revoke the tokens minted by
	// the first redemption.
	ErrCodeConsumed = errors.New("authorization code already consumed")

	// ErrTokenNotFound indicates the token does not exist.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired indicates the token exists but is past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked indicates the token (or its lineage) was revoked.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrRotationConflict indicates the refresh token presented for
	// rotation is not the current head of its lineage: it was already
	// rotated away. RotateRefreshToken returns the stale record alongside
	// this error so the core can revoke the whole lineage.
	ErrRotationConflict = errors.New("refresh token is not the current head of its lineage")
)

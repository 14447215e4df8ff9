package oauthcore

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth error codes from RFC 6749 and RFC 6750.
const (
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidScope         = "invalid_scope"
	ErrorCodeInvalidToken         = "invalid_token"
	ErrorCodeUnauthorizedClient   = "unauthorized_client"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeServerError          = "server_error"
	ErrorCodeAccessDenied         = "access_denied"
)

// Kind identifies the internal failure variant. Kinds are more granular
// than the public OAuth error codes on purpose: the audit log needs to
// distinguish an unknown client from a wrong secret, but the wire response
// must not (both map to invalid_client).
type Kind int

const (
	KindClientNotFound Kind = iota + 1
	KindClientSecretMismatch
	KindClientSecretRequired
	KindGrantNotAllowed
	KindRedirectURIMismatch
	KindRedirectURIInvalid
	KindScopeEmpty
	KindScopeNotAllowed
	KindPKCEMissing
	KindPKCEMethodNotAllowed
	KindPKCEInvalidChallenge
	KindPKCEInvalidVerifier
	KindPKCEMismatch
	KindCodeNotFound
	KindCodeExpired
	KindCodeAlreadyUsed
	KindTokenNotFound
	KindTokenExpired
	KindTokenRevoked
	KindTokenReuseDetected
	KindUnsupportedGrantType
)

// Error is a protocol-level rejection: the request was understood and
// refused. Infrastructure failures are represented by StoreError instead.
type Error struct {
	Kind        Kind
	Code        string // public OAuth error code
	Description string // safe for the wire response
	Status      int    // HTTP status for transport adapters
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Is makes errors.Is match on the variant, so wrapped taxonomy errors
// compare against the package-level sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// The closed taxonomy. Descriptions are deliberately generic where a
// precise one would leak state to an attacker: ErrClientNotFound and
// ErrClientSecretMismatch are indistinguishable on the wire.
var (
	ErrClientNotFound       = &Error{KindClientNotFound, ErrorCodeInvalidClient, "client authentication failed", http.StatusUnauthorized}
	ErrClientSecretMismatch = &Error{KindClientSecretMismatch, ErrorCodeInvalidClient, "client authentication failed", http.StatusUnauthorized}
	ErrClientSecretRequired = &Error{KindClientSecretRequired, ErrorCodeInvalidClient, "client authentication failed", http.StatusUnauthorized}
	ErrGrantNotAllowed      = &Error{KindGrantNotAllowed, ErrorCodeUnauthorizedClient, "client is not authorized for this grant type", http.StatusBadRequest}

	ErrRedirectURIMismatch = &Error{KindRedirectURIMismatch, ErrorCodeInvalidRequest, "redirect_uri is not registered for this client", http.StatusBadRequest}
	ErrRedirectURIInvalid  = &Error{KindRedirectURIInvalid, ErrorCodeInvalidRequest, "redirect_uri is malformed or uses a forbidden scheme", http.StatusBadRequest}

	ErrScopeEmpty      = &Error{KindScopeEmpty, ErrorCodeInvalidScope, "no scope requested and the client has no default scope", http.StatusBadRequest}
	ErrScopeNotAllowed = &Error{KindScopeNotAllowed, ErrorCodeInvalidScope, "requested scope exceeds the scope granted to the client", http.StatusBadRequest}

	ErrPKCEMissing          = &Error{KindPKCEMissing, ErrorCodeInvalidRequest, "code_challenge is required", http.StatusBadRequest}
	ErrPKCEMethodNotAllowed = &Error{KindPKCEMethodNotAllowed, ErrorCodeInvalidRequest, "code_challenge_method is not supported", http.StatusBadRequest}
	ErrPKCEInvalidChallenge = &Error{KindPKCEInvalidChallenge, ErrorCodeInvalidRequest, "code_challenge is malformed", http.StatusBadRequest}
	ErrPKCEInvalidVerifier  = &Error{KindPKCEInvalidVerifier, ErrorCodeInvalidGrant, "invalid grant", http.StatusBadRequest}
	ErrPKCEMismatch         = &Error{KindPKCEMismatch, ErrorCodeInvalidGrant, "invalid grant", http.StatusBadRequest}

	ErrCodeNotFound    = &Error{KindCodeNotFound, ErrorCodeInvalidGrant, "invalid grant", http.StatusBadRequest}
	ErrCodeExpired     = &Error{KindCodeExpired, ErrorCodeInvalidGrant, "invalid grant", http.StatusBadRequest}
	ErrCodeAlreadyUsed = &Error{KindCodeAlreadyUsed, ErrorCodeInvalidGrant, "invalid grant", http.StatusBadRequest}

	ErrTokenNotFound      = &Error{KindTokenNotFound, ErrorCodeInvalidGrant, "invalid grant", http.StatusBadRequest}
	ErrTokenExpired       = &Error{KindTokenExpired, ErrorCodeInvalidGrant, "invalid grant", http.StatusBadRequest}
	ErrTokenRevoked       = &Error{KindTokenRevoked, ErrorCodeInvalidGrant, "invalid grant", http.StatusBadRequest}
	ErrTokenReuseDetected = &Error{KindTokenReuseDetected, ErrorCodeInvalidGrant, "invalid grant", http.StatusBadRequest}

	ErrUnsupportedGrantType = &Error{KindUnsupportedGrantType, ErrorCodeUnsupportedGrantType, "grant type is not supported", http.StatusBadRequest}
)

// StoreError wraps a storage backend failure (timeout, connectivity,
// cancellation). It is a server-side fault, never a client rejection, and
// the orchestrator never converts one into a domain rejection.
type StoreError struct {
	Op  string // storage operation, e.g. "consume_authorization_code"
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError wraps err as a storage failure for operation op.
func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

// Public maps any error returned by the core to the wire-safe triple a
// transport adapter needs. Internal variants that must stay
// indistinguishable already share code and description, so this mapping
// cannot leak more than the taxonomy allows. Unknown errors are treated
// as server faults.
func Public(err error) (code, description string, status int) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code, oe.Description, oe.Status
	}
	return ErrorCodeServerError, "the authorization server encountered an internal error", http.StatusInternalServerError
}

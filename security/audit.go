package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. Subject
// identifiers are hashed before they reach the log; token material never
// reaches it at all.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, enabled: enabled}
}

// Event represents a security audit event.
type Event struct {
	Type      string
	Subject   string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed subject identifiers.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"subject_hash", hashForLogging(event.Subject),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogCodeIssued logs issuance of an authorization code.
func (a *Auditor) LogCodeIssued(subject, clientID string, scopes []string) {
	a.LogEvent(Event{
		Type:     "authorization_code_issued",
		Subject:  subject,
		ClientID: clientID,
		Details:  map[string]any{"scopes": scopes},
	})
}

// LogTokenIssued logs issuance of tokens for a grant.
func (a *Auditor) LogTokenIssued(subject, clientID, grantType string, scopes []string) {
	a.LogEvent(Event{
		Type:     "token_issued",
		Subject:  subject,
		ClientID: clientID,
		Details:  map[string]any{"grant_type": grantType, "scopes": scopes},
	})
}

// LogTokenRefreshed logs a refresh token rotation.
func (a *Auditor) LogTokenRefreshed(subject, clientID string, generation int) {
	a.LogEvent(Event{
		Type:     "token_refreshed",
		Subject:  subject,
		ClientID: clientID,
		Details:  map[string]any{"generation": generation},
	})
}

// LogTokenRevoked logs a token revocation.
func (a *Auditor) LogTokenRevoked(subject, clientID, tokenKind string) {
	a.LogEvent(Event{
		Type:     "token_revoked",
		Subject:  subject,
		ClientID: clientID,
		Details:  map[string]any{"token_kind": tokenKind},
	})
}

// LogAuthFailure logs a rejected request.
func (a *Auditor) LogAuthFailure(subject, clientID, reason string) {
	a.LogEvent(Event{
		Type:     "auth_failure",
		Subject:  subject,
		ClientID: clientID,
		Details:  map[string]any{"reason": reason},
	})
}

// LogReuseDetected logs a replay of an authorization code or a rotated
// refresh token. These are the events monitoring should alert on.
func (a *Auditor) LogReuseDetected(subject, clientID, credential string) {
	a.LogEvent(Event{
		Type:     "reuse_detected",
		Subject:  subject,
		ClientID: clientID,
		Details: map[string]any{
			"severity":   "critical",
			"credential": credential,
			"action":     "tokens_revoked",
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}

package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/halcyonlabs/oauthcore/security"
	"github.com/halcyonlabs/oauthcore/storage"
)

// SaveToken persists a token record keyed by fingerprint. The stored copy
// carries no raw token string.
func (s *Store) SaveToken(ctx context.Context, rec *storage.TokenRecord) error {
	ctx, span := s.startStorageSpan(ctx, "save_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_token", err, startTime)
	}()

	if rec == nil || rec.Token == "" {
		err = fmt.Errorf("token cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.saveTokenLocked(rec)

	s.logger.Debug("Saved token",
		"kind", string(rec.Kind),
		"client_id", rec.ClientID)
	return nil
}

// saveTokenLocked stores a sanitized copy of rec and maintains the
// lineage index. Caller holds the write lock.
func (s *Store) saveTokenLocked(rec *storage.TokenRecord) {
	fp := security.Fingerprint(rec.Token)
	stored := *rec
	stored.Token = ""

	if _, existed := s.tokens[fp]; !existed {
		s.tokensCountAtomic.Add(1)
		if stored.LineageID != "" {
			s.lineages[stored.LineageID] = append(s.lineages[stored.LineageID], fp)
		}
	}
	s.tokens[fp] = &stored
}

// FindToken retrieves a token record. Expiry and revocation state are
// returned on the record, not converted to errors.
func (s *Store) FindToken(ctx context.Context, token string) (*storage.TokenRecord, error) {
	ctx, span := s.startStorageSpan(ctx, "find_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "find_token", err, startTime)
	}()

	fp := security.Fingerprint(token)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tokens[fp]
	if !ok {
		err = storage.ErrTokenNotFound
		return nil, err
	}

	cp := *rec
	return &cp, nil
}

// RevokeToken marks a token revoked. Idempotent.
func (s *Store) RevokeToken(ctx context.Context, token string) error {
	ctx, span := s.startStorageSpan(ctx, "revoke_token")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "revoke_token", nil, startTime)
	}()

	fp := security.Fingerprint(token)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[fp]
	if !ok || rec.Revoked {
		return nil
	}
	rec.Revoked = true
	rec.RevokedAt = time.Now()
	return nil
}

// RotateRefreshToken atomically replaces the current head of a lineage.
// The write lock spans the whole check-and-transition, so of any number
// of concurrent rotations of the same token exactly one succeeds.
func (s *Store) RotateRefreshToken(ctx context.Context, oldToken string, replacement *storage.TokenRecord) (*storage.TokenRecord, error) {
	ctx, span := s.startStorageSpan(ctx, "rotate_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "rotate_refresh_token", err, startTime)
	}()

	if replacement == nil || replacement.Token == "" {
		err = fmt.Errorf("replacement token cannot be empty")
		return nil, err
	}

	fp := security.Fingerprint(oldToken)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[fp]
	if !ok || rec.Kind != storage.TokenKindRefresh {
		err = storage.ErrTokenNotFound
		return nil, err
	}

	if security.IsExpired(rec.ExpiresAt) {
		err = storage.ErrTokenExpired
		return nil, err
	}

	if rec.Revoked {
		cp := *rec
		err = storage.ErrTokenRevoked
		return &cp, err
	}

	if rec.Rotated {
		// Stale head presented again. Return the record so the caller
		// can revoke the lineage.
		cp := *rec
		err = storage.ErrRotationConflict
		return &cp, err
	}

	rec.Rotated = true
	s.saveTokenLocked(replacement)

	cp := *rec
	return &cp, nil
}

// RevokeLineage revokes every token in a refresh token lineage.
// Idempotent.
func (s *Store) RevokeLineage(ctx context.Context, lineageID string) error {
	ctx, span := s.startStorageSpan(ctx, "revoke_lineage")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "revoke_lineage", nil, startTime)
	}()

	if lineageID == "" {
		return nil
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, fp := range s.lineages[lineageID] {
		rec, ok := s.tokens[fp]
		if !ok || rec.Revoked {
			continue
		}
		rec.Revoked = true
		rec.RevokedAt = now
	}

	s.logger.Debug("Revoked token lineage", "lineage_id", lineageID)
	return nil
}

// RevokeTokensForSubjectClient revokes all tokens bound to the
// subject+client pair. Used for the authorization code reuse response.
func (s *Store) RevokeTokensForSubjectClient(ctx context.Context, subject, clientID string) (int, error) {
	ctx, span := s.startStorageSpan(ctx, "revoke_tokens_for_subject_client")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "revoke_tokens_for_subject_client", nil, startTime)
	}()

	now := time.Now()
	revoked := 0

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.tokens {
		if rec.Subject != subject || rec.ClientID != clientID || rec.Revoked {
			continue
		}
		rec.Revoked = true
		rec.RevokedAt = now
		revoked++
	}

	if revoked > 0 {
		s.logger.Info("Revoked tokens for subject and client",
			"client_id", clientID,
			"count", revoked)
	}
	return revoked, nil
}

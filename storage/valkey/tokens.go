package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/halcyonlabs/oauthcore/security"
	"github.com/halcyonlabs/oauthcore/storage"
)

// SaveToken persists a token record and maintains the lineage and
// subject+client member sets used by bulk revocation.
func (s *Store) SaveToken(ctx context.Context, rec *storage.TokenRecord) error {
	if rec == nil || rec.Token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	fp := security.Fingerprint(rec.Token)
	data, err := json.Marshal(toTokenRecordJSON(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	ttl := keyTTL(rec.ExpiresAt)
	key := s.tokenKey(fp)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	ttlSeconds := int64(ttl / time.Second)

	if rec.LineageID != "" {
		lkey := s.lineageKey(rec.LineageID)
		if err := s.client.Do(ctx, s.client.B().Sadd().Key(lkey).Member(fp).Build()).Error(); err != nil {
			return fmt.Errorf("failed to index token lineage: %w", err)
		}
		if err := s.client.Do(ctx, s.client.B().Expire().Key(lkey).Seconds(ttlSeconds).Build()).Error(); err != nil {
			return fmt.Errorf("failed to expire lineage index: %w", err)
		}
	}

	if rec.Subject != "" {
		gkey := s.grantKey(rec.Subject, rec.ClientID)
		if err := s.client.Do(ctx, s.client.B().Sadd().Key(gkey).Member(fp).Build()).Error(); err != nil {
			return fmt.Errorf("failed to index token grant: %w", err)
		}
		if err := s.client.Do(ctx, s.client.B().Expire().Key(gkey).Seconds(ttlSeconds).Build()).Error(); err != nil {
			return fmt.Errorf("failed to expire grant index: %w", err)
		}
	}

	s.logger.Debug("Saved token",
		"kind", string(rec.Kind),
		"client_id", rec.ClientID)
	return nil
}

// FindToken retrieves a token record. Expiry and revocation state are
// returned on the record, not converted to errors.
func (s *Store) FindToken(ctx context.Context, token string) (*storage.TokenRecord, error) {
	key := s.tokenKey(security.Fingerprint(token))

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var j tokenRecordJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return fromTokenRecordJSON(&j), nil
}

// RevokeToken marks a token revoked. Idempotent.
func (s *Store) RevokeToken(ctx context.Context, token string) error {
	return s.revokeByFingerprint(ctx, security.Fingerprint(token))
}

// revokeByFingerprint marks the token record behind fp revoked, keeping
// the key's TTL.
func (s *Store) revokeByFingerprint(ctx context.Context, fp string) error {
	key := s.tokenKey(fp)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil
		}
		return fmt.Errorf("failed to get token for revocation: %w", err)
	}

	var j tokenRecordJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return fmt.Errorf("failed to unmarshal token for revocation: %w", err)
	}
	if j.Revoked {
		return nil
	}

	j.Revoked = true
	j.RevokedAt = time.Now().Unix()
	updated, err := json.Marshal(&j)
	if err != nil {
		return fmt.Errorf("failed to marshal revoked token: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(updated)).Keepttl().Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save revoked token: %w", err)
	}
	return nil
}

// RotateRefreshToken atomically rotates a refresh token via Lua script.
func (s *Store) RotateRefreshToken(ctx context.Context, oldToken string, replacement *storage.TokenRecord) (*storage.TokenRecord, error) {
	if replacement == nil || replacement.Token == "" {
		return nil, fmt.Errorf("replacement token cannot be empty")
	}

	newFP := security.Fingerprint(replacement.Token)
	data, err := json.Marshal(toTokenRecordJSON(replacement))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal replacement token: %w", err)
	}

	oldKey := s.tokenKey(security.Fingerprint(oldToken))
	newKey := s.tokenKey(newFP)
	lineageKey := s.lineageKey(replacement.LineageID)
	now := time.Now().Add(-security.DefaultClockSkewGracePeriod).Unix()
	ttlSeconds := int64(keyTTL(replacement.ExpiresAt) / time.Second)

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaRotateToken).
			Numkeys(3).
			Key(oldKey, newKey, lineageKey).
			Arg(fmt.Sprintf("%d", now), string(data), fmt.Sprintf("%d", ttlSeconds), newFP).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic token rotation: %w", err)
	}

	parse := func(payload string) (*storage.TokenRecord, error) {
		var j tokenRecordJSON
		if err := json.Unmarshal([]byte(payload), &j); err != nil {
			return nil, fmt.Errorf("failed to parse token record: %w", err)
		}
		return fromTokenRecordJSON(&j), nil
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrTokenNotFound
	case result == "EXPIRED":
		return nil, storage.ErrTokenExpired
	case strings.HasPrefix(result, "REVOKED:"):
		rec, perr := parse(strings.TrimPrefix(result, "REVOKED:"))
		if perr != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrTokenRevoked, perr)
		}
		return rec, storage.ErrTokenRevoked
	case strings.HasPrefix(result, "ROTATED:"):
		rec, perr := parse(strings.TrimPrefix(result, "ROTATED:"))
		if perr != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrRotationConflict, perr)
		}
		return rec, storage.ErrRotationConflict
	}

	rec, err := parse(result)
	if err != nil {
		return nil, err
	}
	rec.Rotated = true

	s.logger.Debug("Rotated refresh token",
		"lineage_id", replacement.LineageID,
		"generation", replacement.Generation)
	return rec, nil
}

// RevokeLineage revokes every token in a refresh token lineage.
// Idempotent. The marking loop is not atomic across members, but each
// member transition is, and revocation only ever moves forward.
func (s *Store) RevokeLineage(ctx context.Context, lineageID string) error {
	if lineageID == "" {
		return nil
	}

	members, err := s.client.Do(ctx,
		s.client.B().Smembers().Key(s.lineageKey(lineageID)).Build(),
	).AsStrSlice()
	if err != nil {
		return fmt.Errorf("failed to read lineage members: %w", err)
	}

	for _, fp := range members {
		if err := s.revokeByFingerprint(ctx, fp); err != nil {
			return err
		}
	}

	s.logger.Debug("Revoked token lineage",
		"lineage_id", lineageID,
		"members", len(members))
	return nil
}

// RevokeTokensForSubjectClient revokes all tokens bound to the
// subject+client pair. Used for the authorization code reuse response.
func (s *Store) RevokeTokensForSubjectClient(ctx context.Context, subject, clientID string) (int, error) {
	members, err := s.client.Do(ctx,
		s.client.B().Smembers().Key(s.grantKey(subject, clientID)).Build(),
	).AsStrSlice()
	if err != nil {
		return 0, fmt.Errorf("failed to read grant members: %w", err)
	}

	revoked := 0
	for _, fp := range members {
		if err := s.revokeByFingerprint(ctx, fp); err != nil {
			return revoked, err
		}
		revoked++
	}

	if revoked > 0 {
		s.logger.Info("Revoked tokens for subject and client",
			"client_id", clientID,
			"count", revoked)
	}
	return revoked, nil
}

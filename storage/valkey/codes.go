package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/halcyonlabs/oauthcore/internal/util"
	"github.com/halcyonlabs/oauthcore/security"
	"github.com/halcyonlabs/oauthcore/storage"
)

// SaveAuthorizationCode persists an issued code with a TTL slightly past
// its expiry, so a late redemption still distinguishes expired from
// unknown.
func (s *Store) SaveAuthorizationCode(ctx context.Context, rec *storage.AuthorizationCodeRecord) error {
	if rec == nil || rec.Code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	data, err := json.Marshal(toCodeRecordJSON(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	key := s.codeKey(security.Fingerprint(rec.Code))
	ttl := keyTTL(rec.ExpiresAt)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code", "client_id", rec.ClientID)
	return nil
}

// ConsumeAuthorizationCode atomically redeems a code via Lua script, so
// only one of any number of concurrent redemptions succeeds. The expiry
// comparison inside the script runs against a grace-shifted timestamp.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCodeRecord, error) {
	key := s.codeKey(security.Fingerprint(code))
	now := time.Now().Add(-security.DefaultClockSkewGracePeriod).Unix()

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeCode).
			Numkeys(1).
			Key(key).
			Arg(fmt.Sprintf("%d", now)).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic code consume: %w", err)
	}

	switch {
	case result == "NOT_FOUND":
		return nil, storage.ErrCodeNotFound
	case result == "EXPIRED":
		return nil, storage.ErrCodeExpired
	case strings.HasPrefix(result, "ALREADY_USED:"):
		data := strings.TrimPrefix(result, "ALREADY_USED:")
		var j codeRecordJSON
		if err := json.Unmarshal([]byte(data), &j); err != nil {
			return nil, fmt.Errorf("%w: failed to parse reused code", storage.ErrCodeConsumed)
		}
		return fromCodeRecordJSON(&j), storage.ErrCodeConsumed
	}

	var j codeRecordJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to parse authorization code: %w", err)
	}

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, 8))

	rec := fromCodeRecordJSON(&j)
	rec.Consumed = true
	return rec, nil
}

// DeleteAuthorizationCode removes a code. Deleting an unknown code is not
// an error.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	key := s.codeKey(security.Fingerprint(code))
	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return nil
}

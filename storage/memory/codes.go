package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/halcyonlabs/oauthcore/security"
	"github.com/halcyonlabs/oauthcore/storage"
)

// SaveAuthorizationCode persists an issued code. The stored copy is keyed
// by fingerprint and carries no raw code string.
func (s *Store) SaveAuthorizationCode(ctx context.Context, rec *storage.AuthorizationCodeRecord) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if rec == nil || rec.Code == "" {
		err = fmt.Errorf("authorization code cannot be empty")
		return err
	}

	fp := security.Fingerprint(rec.Code)
	stored := *rec
	stored.Code = ""

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, existed := s.codes[fp]; !existed {
		s.codesCountAtomic.Add(1)
	}
	s.codes[fp] = &stored

	s.logger.Debug("Saved authorization code", "client_id", rec.ClientID)
	return nil
}

// ConsumeAuthorizationCode atomically redeems a code. The write lock spans
// the whole check-and-set, so of any number of concurrent calls for the
// same code exactly one observes it unconsumed.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCodeRecord, error) {
	ctx, span := s.startStorageSpan(ctx, "consume_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error
	defer func() {
		s.recordStorageOperation(ctx, span, "consume_authorization_code", err, startTime)
	}()

	fp := security.Fingerprint(code)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.codes[fp]
	if !ok {
		err = storage.ErrCodeNotFound
		return nil, err
	}

	if security.IsExpired(rec.ExpiresAt) {
		err = storage.ErrCodeExpired
		return nil, err
	}

	if rec.Consumed {
		// Return the record so the caller can run reuse-detection
		// revocation against its bindings.
		cp := *rec
		err = storage.ErrCodeConsumed
		return &cp, err
	}

	rec.Consumed = true
	cp := *rec
	return &cp, nil
}

// DeleteAuthorizationCode removes a code. Deleting an unknown code is not
// an error.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	ctx, span := s.startStorageSpan(ctx, "delete_authorization_code")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "delete_authorization_code", nil, startTime)
	}()

	fp := security.Fingerprint(code)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[fp]; ok {
		delete(s.codes, fp)
		s.codesCountAtomic.Add(-1)
	}
	return nil
}

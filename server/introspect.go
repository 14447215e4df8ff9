package server

import (
	"context"
	"errors"
	"strings"

	oauthcore "github.com/halcyonlabs/oauthcore"
	"github.com/halcyonlabs/oauthcore/instrumentation"
	"github.com/halcyonlabs/oauthcore/security"
	"github.com/halcyonlabs/oauthcore/storage"
)

// inactive is the introspection response for any token that is unknown,
// expired, revoked or rotated. It carries nothing but the flag, so the
// endpoint reveals no token state beyond activeness (RFC 7662 section
// 2.2).
var inactive = &oauthcore.IntrospectionResponse{Active: false}

// Introspect reports the state of a token (RFC 7662). Expiry is checked
// lazily with the configured clock-skew grace; a rotated refresh token is
// inactive even before its lineage is revoked.
func (s *Server) Introspect(ctx context.Context, token string) (*oauthcore.IntrospectionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "server.Introspect")
	defer span.End()

	if token == "" {
		return inactive, nil
	}

	rec, err := s.tokens.FindToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			s.recordIntrospection(ctx, false)
			return inactive, nil
		}
		return nil, failSpan(span, oauthcore.NewStoreError("find_token", err))
	}

	if rec.Revoked || rec.Rotated || security.IsExpiredWithGrace(rec.ExpiresAt, s.clockSkewGrace()) {
		s.recordIntrospection(ctx, false)
		return inactive, nil
	}

	s.recordIntrospection(ctx, true)
	instrumentation.SetSpanSuccess(span)
	return &oauthcore.IntrospectionResponse{
		Active:    true,
		Scope:     strings.Join(rec.Scopes, " "),
		ClientID:  rec.ClientID,
		Subject:   rec.Subject,
		TokenType: string(rec.Kind),
		ExpiresAt: rec.ExpiresAt.Unix(),
		IssuedAt:  rec.IssuedAt.Unix(),
	}, nil
}

func (s *Server) recordIntrospection(ctx context.Context, active bool) {
	if m := s.metrics(); m != nil {
		m.RecordIntrospection(ctx, active)
	}
}

// RevokeRequest carries the parameters of a revocation request.
type RevokeRequest struct {
	ClientID     string
	ClientSecret string
	Token        string
}

// Revoke invalidates a token (RFC 7009). Revocation is idempotent and
// deliberately quiet: revoking an unknown token, an already revoked
// token, or a token belonging to another client all succeed without
// distinction, so the endpoint cannot be used to probe token validity.
// Revoking a refresh token revokes its entire lineage.
func (s *Server) Revoke(ctx context.Context, req *RevokeRequest) error {
	ctx, span := s.tracer.Start(ctx, "server.Revoke")
	defer span.End()

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return failSpan(span, err)
	}

	if req.Token == "" {
		return nil
	}

	rec, err := s.tokens.FindToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil
		}
		return failSpan(span, oauthcore.NewStoreError("find_token", err))
	}

	if rec.ClientID != client.ID {
		s.logSecurityEvent("revoke:"+client.ID, "revocation attempt for another client's token",
			"client_id", client.ID,
			"bound_client_id", rec.ClientID)
		return nil
	}

	if rec.Kind == storage.TokenKindRefresh && rec.LineageID != "" {
		if err := s.tokens.RevokeLineage(ctx, rec.LineageID); err != nil {
			return failSpan(span, oauthcore.NewStoreError("revoke_lineage", err))
		}
	} else {
		if err := s.tokens.RevokeToken(ctx, req.Token); err != nil {
			return failSpan(span, oauthcore.NewStoreError("revoke_token", err))
		}
	}

	s.Auditor.LogTokenRevoked(rec.Subject, client.ID, string(rec.Kind))
	if m := s.metrics(); m != nil {
		m.RecordTokenRevocation(ctx, client.ID)
	}
	instrumentation.SetSpanSuccess(span)
	return nil
}

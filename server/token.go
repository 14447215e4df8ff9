package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	oauthcore "github.com/halcyonlabs/oauthcore"
	"github.com/halcyonlabs/oauthcore/instrumentation"
	"github.com/halcyonlabs/oauthcore/internal/util"
	"github.com/halcyonlabs/oauthcore/pkce"
	"github.com/halcyonlabs/oauthcore/storage"
)

// TokenRequest carries the parameters of a token endpoint request. Which
// fields matter depends on the grant type.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	// Authorization code grant.
	Code         string
	RedirectURI  string
	CodeVerifier string

	// Refresh grant.
	RefreshToken string

	// Requested scopes for the refresh and client credentials grants.
	Scopes []string
}

// Token dispatches a token endpoint request to the grant handler.
func (s *Server) Token(ctx context.Context, req *TokenRequest) (*oauthcore.TokenResponse, error) {
	switch req.GrantType {
	case storage.GrantAuthorizationCode:
		return s.ExchangeAuthorizationCode(ctx, req)
	case storage.GrantRefreshToken:
		return s.RefreshAccessToken(ctx, req)
	case storage.GrantClientCredentials:
		return s.ClientCredentials(ctx, req)
	default:
		return nil, oauthcore.ErrUnsupportedGrantType
	}
}

// ExchangeAuthorizationCode redeems an authorization code for tokens.
// The code is consumed atomically before any binding or PKCE check, so a
// code that fails validation is burned, and a second redemption of the
// same code revokes everything the first redemption minted.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req *TokenRequest) (*oauthcore.TokenResponse, error) {
	ctx, span := s.tracer.Start(ctx, "server.ExchangeAuthorizationCode")
	defer span.End()

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, failSpan(span, err)
	}
	instrumentation.AddGrantAttributes(span, client.ID, storage.GrantAuthorizationCode)

	if !client.AllowsGrant(storage.GrantAuthorizationCode) {
		return nil, failSpan(span, oauthcore.ErrGrantNotAllowed)
	}
	if req.Code == "" {
		return nil, failSpan(span, oauthcore.ErrCodeNotFound)
	}

	rec, err := s.codes.ConsumeAuthorizationCode(ctx, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCodeConsumed):
			s.handleCodeReuse(ctx, client.ID, rec, req.Code)
			return nil, failSpan(span, oauthcore.ErrCodeAlreadyUsed)
		case errors.Is(err, storage.ErrCodeExpired):
			return nil, failSpan(span, oauthcore.ErrCodeExpired)
		case errors.Is(err, storage.ErrCodeNotFound):
			return nil, failSpan(span, oauthcore.ErrCodeNotFound)
		default:
			return nil, failSpan(span, oauthcore.NewStoreError("consume_authorization_code", err))
		}
	}

	// The code is consumed at this point. Binding failures below burn it;
	// the client must start a new authorization.
	if rec.ClientID != client.ID {
		s.logSecurityEvent("exchange:"+client.ID, "authorization code bound to another client",
			"client_id", client.ID,
			"bound_client_id", rec.ClientID,
			"code", util.SafeTruncate(req.Code, 8))
		return nil, failSpan(span, oauthcore.ErrCodeNotFound)
	}

	requestedURI := req.RedirectURI
	if requestedURI == "" && len(client.RedirectURIs) == 1 {
		requestedURI = client.RedirectURIs[0]
	}
	if requestedURI != rec.RedirectURI {
		return nil, failSpan(span, oauthcore.ErrRedirectURIMismatch)
	}

	if err := s.verifyPKCE(ctx, rec, req.CodeVerifier); err != nil {
		s.Auditor.LogAuthFailure(rec.Subject, client.ID, "pkce_verification_failed")
		return nil, failSpan(span, err)
	}

	resp, err := s.issueTokens(ctx, client, rec.Subject, rec.Scopes, true)
	if err != nil {
		return nil, failSpan(span, err)
	}

	s.Auditor.LogTokenIssued(rec.Subject, client.ID, storage.GrantAuthorizationCode, rec.Scopes)
	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, client.ID, rec.CodeChallengeMethod)
		m.RecordTokenIssued(ctx, client.ID, storage.GrantAuthorizationCode)
	}
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

// handleCodeReuse runs the OAuth 2.1 reuse response: every token minted
// for the subject+client pair the code was bound to is revoked, cutting
// off whichever party redeemed the code first.
func (s *Server) handleCodeReuse(ctx context.Context, callerID string, rec *storage.AuthorizationCodeRecord, code string) {
	if rec == nil {
		return
	}

	revoked, err := s.tokens.RevokeTokensForSubjectClient(ctx, rec.Subject, rec.ClientID)
	if err != nil {
		s.Logger.Error("failed to revoke tokens after code reuse",
			"client_id", rec.ClientID,
			"error", err)
	}

	s.Auditor.LogReuseDetected(rec.Subject, rec.ClientID, code)
	s.logSecurityEvent("reuse:"+rec.ClientID, "authorization code replay detected",
		"client_id", rec.ClientID,
		"caller_client_id", callerID,
		"tokens_revoked", revoked)
	if m := s.metrics(); m != nil {
		m.RecordCodeReuseDetected(ctx)
	}
}

// verifyPKCE checks the code verifier against the challenge bound to the
// code. Format is validated before any comparison.
func (s *Server) verifyPKCE(ctx context.Context, rec *storage.AuthorizationCodeRecord, verifier string) error {
	if rec.CodeChallenge == "" {
		// Code was issued without PKCE (RequirePKCE disabled). A stray
		// verifier is rejected rather than ignored.
		if verifier != "" {
			return oauthcore.ErrPKCEMismatch
		}
		return nil
	}

	if !pkce.ValidVerifier(verifier) {
		if m := s.metrics(); m != nil {
			m.RecordPKCEValidationFailed(ctx, rec.CodeChallengeMethod)
		}
		return oauthcore.ErrPKCEInvalidVerifier
	}

	if !pkce.Verify(verifier, rec.CodeChallenge, rec.CodeChallengeMethod) {
		if m := s.metrics(); m != nil {
			m.RecordPKCEValidationFailed(ctx, rec.CodeChallengeMethod)
		}
		return oauthcore.ErrPKCEMismatch
	}

	return nil
}

// RefreshAccessToken rotates a refresh token and mints a fresh access
// token. Presenting a token that was already rotated away revokes its
// entire lineage: either the legitimate client or an attacker holds the
// newer token, and after revocation neither can use it.
func (s *Server) RefreshAccessToken(ctx context.Context, req *TokenRequest) (*oauthcore.TokenResponse, error) {
	ctx, span := s.tracer.Start(ctx, "server.RefreshAccessToken")
	defer span.End()

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, failSpan(span, err)
	}
	instrumentation.AddGrantAttributes(span, client.ID, storage.GrantRefreshToken)

	if !client.AllowsGrant(storage.GrantRefreshToken) {
		return nil, failSpan(span, oauthcore.ErrGrantNotAllowed)
	}
	if req.RefreshToken == "" {
		return nil, failSpan(span, oauthcore.ErrTokenNotFound)
	}

	old, err := s.tokens.FindToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, failSpan(span, oauthcore.ErrTokenNotFound)
		}
		return nil, failSpan(span, oauthcore.NewStoreError("find_token", err))
	}
	if old.Kind != storage.TokenKindRefresh {
		return nil, failSpan(span, oauthcore.ErrTokenNotFound)
	}
	if old.ClientID != client.ID {
		s.logSecurityEvent("refresh:"+client.ID, "refresh token bound to another client",
			"client_id", client.ID,
			"bound_client_id", old.ClientID)
		return nil, failSpan(span, oauthcore.ErrTokenNotFound)
	}

	// Scope narrowing: the request may ask for a subset of what the
	// refresh token carries, never more. Empty inherits the full grant.
	granted := old.Scopes
	if len(req.Scopes) > 0 {
		if !util.ContainsAll(old.Scopes, req.Scopes) {
			return nil, failSpan(span, oauthcore.ErrScopeNotAllowed)
		}
		granted = req.Scopes
	}

	now := time.Now()
	replacement := &storage.TokenRecord{
		Token:    s.generateToken(),
		Kind:     storage.TokenKindRefresh,
		ClientID: client.ID,
		Subject:  old.Subject,
		// The replacement keeps the original grant, not the narrowed
		// request, so a later refresh can still use any subset of it.
		Scopes:     old.Scopes,
		LineageID:  old.LineageID,
		Generation: old.Generation + 1,
		IssuedAt:   now,
		ExpiresAt:  now.Add(time.Duration(s.Config.RefreshTokenTTL) * time.Second),
	}

	rotated, err := s.tokens.RotateRefreshToken(ctx, req.RefreshToken, replacement)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrRotationConflict), errors.Is(err, storage.ErrTokenRevoked):
			s.handleTokenReuse(ctx, client.ID, rotated)
			return nil, failSpan(span, oauthcore.ErrTokenReuseDetected)
		case errors.Is(err, storage.ErrTokenExpired):
			return nil, failSpan(span, oauthcore.ErrTokenExpired)
		case errors.Is(err, storage.ErrTokenNotFound):
			return nil, failSpan(span, oauthcore.ErrTokenNotFound)
		default:
			return nil, failSpan(span, oauthcore.NewStoreError("rotate_refresh_token", err))
		}
	}
	instrumentation.AddLineageAttributes(span, replacement.LineageID, replacement.Generation)

	access := &storage.TokenRecord{
		Token:     s.generateToken(),
		Kind:      storage.TokenKindAccess,
		ClientID:  client.ID,
		Subject:   old.Subject,
		Scopes:    granted,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second),
	}
	if err := s.tokens.SaveToken(ctx, access); err != nil {
		return nil, failSpan(span, oauthcore.NewStoreError("save_token", err))
	}

	s.Auditor.LogTokenRefreshed(old.Subject, client.ID, replacement.Generation)
	if m := s.metrics(); m != nil {
		m.RecordTokenRefresh(ctx, client.ID)
	}
	instrumentation.SetSpanSuccess(span)

	return &oauthcore.TokenResponse{
		AccessToken:  access.Token,
		TokenType:    "Bearer",
		ExpiresIn:    s.Config.AccessTokenTTL,
		RefreshToken: replacement.Token,
		Scope:        strings.Join(granted, " "),
	}, nil
}

// handleTokenReuse revokes the lineage of a refresh token that was
// presented after being rotated away or revoked.
func (s *Server) handleTokenReuse(ctx context.Context, clientID string, stale *storage.TokenRecord) {
	if stale == nil || stale.LineageID == "" {
		return
	}

	if err := s.tokens.RevokeLineage(ctx, stale.LineageID); err != nil {
		s.Logger.Error("failed to revoke lineage after token reuse",
			"client_id", clientID,
			"lineage_id", stale.LineageID,
			"error", err)
	}

	s.Auditor.LogReuseDetected(stale.Subject, clientID, stale.LineageID)
	s.logSecurityEvent("reuse:"+clientID, "rotated refresh token replay detected",
		"client_id", clientID,
		"lineage_id", stale.LineageID,
		"generation", stale.Generation)
	if m := s.metrics(); m != nil {
		m.RecordTokenReuseDetected(ctx)
	}
}

// ClientCredentials issues an access token for the client itself. Public
// clients cannot use this grant, and no refresh token is ever minted.
func (s *Server) ClientCredentials(ctx context.Context, req *TokenRequest) (*oauthcore.TokenResponse, error) {
	ctx, span := s.tracer.Start(ctx, "server.ClientCredentials")
	defer span.End()

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, failSpan(span, err)
	}
	instrumentation.AddGrantAttributes(span, client.ID, storage.GrantClientCredentials)

	if client.Public || !client.AllowsGrant(storage.GrantClientCredentials) {
		return nil, failSpan(span, oauthcore.ErrGrantNotAllowed)
	}

	scopes, err := validateScopes(client, req.Scopes)
	if err != nil {
		return nil, failSpan(span, err)
	}

	resp, err := s.issueTokens(ctx, client, "", scopes, false)
	if err != nil {
		return nil, failSpan(span, err)
	}

	s.Auditor.LogTokenIssued("", client.ID, storage.GrantClientCredentials, scopes)
	if m := s.metrics(); m != nil {
		m.RecordTokenIssued(ctx, client.ID, storage.GrantClientCredentials)
	}
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

// issueTokens mints an access token, and when the grant and configuration
// allow it a refresh token in a fresh lineage, and persists both.
func (s *Server) issueTokens(ctx context.Context, client *storage.Client, subject string, scopes []string, includeRefresh bool) (*oauthcore.TokenResponse, error) {
	now := time.Now()

	access := &storage.TokenRecord{
		Token:     s.generateToken(),
		Kind:      storage.TokenKindAccess,
		ClientID:  client.ID,
		Subject:   subject,
		Scopes:    scopes,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second),
	}
	if err := s.tokens.SaveToken(ctx, access); err != nil {
		return nil, oauthcore.NewStoreError("save_token", err)
	}

	resp := &oauthcore.TokenResponse{
		AccessToken: access.Token,
		TokenType:   "Bearer",
		ExpiresIn:   s.Config.AccessTokenTTL,
		Scope:       strings.Join(scopes, " "),
	}

	if includeRefresh && s.Config.IssueRefreshTokens && client.AllowsGrant(storage.GrantRefreshToken) {
		refresh := &storage.TokenRecord{
			Token:      s.generateToken(),
			Kind:       storage.TokenKindRefresh,
			ClientID:   client.ID,
			Subject:    subject,
			Scopes:     scopes,
			LineageID:  uuid.NewString(),
			Generation: 1,
			IssuedAt:   now,
			ExpiresAt:  now.Add(time.Duration(s.Config.RefreshTokenTTL) * time.Second),
		}
		if err := s.tokens.SaveToken(ctx, refresh); err != nil {
			return nil, oauthcore.NewStoreError("save_token", err)
		}
		resp.RefreshToken = refresh.Token
	}

	return resp, nil
}

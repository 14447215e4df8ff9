package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	oauthcore "github.com/halcyonlabs/oauthcore"
	"github.com/halcyonlabs/oauthcore/instrumentation"
	"github.com/halcyonlabs/oauthcore/pkce"
	"github.com/halcyonlabs/oauthcore/storage"
)

// AuthorizeRequest carries the parameters of an authorization request
// after the embedding application has authenticated the resource owner.
type AuthorizeRequest struct {
	// ClientID identifies the requesting client.
	ClientID string

	// RedirectURI is the requested redirect URI. May be empty when the
	// client registered exactly one URI.
	RedirectURI string

	// Scopes is the requested scope set. Empty falls back to the
	// client's default scopes.
	Scopes []string

	// State is the client's opaque CSRF value, echoed back untouched.
	State string

	// CodeChallenge and CodeChallengeMethod are the PKCE parameters.
	// The method defaults to "plain" when a challenge is present without
	// one (RFC 7636 section 4.3), which OAuth 2.1 rejects unless
	// explicitly enabled.
	CodeChallenge       string
	CodeChallengeMethod string

	// Subject is the authenticated resource owner. The embedding
	// application establishes it before calling Authorize.
	Subject string
}

// AuthorizeResult is a granted authorization: the code to deliver via
// redirect and the bindings it was issued under.
type AuthorizeResult struct {
	Code        string
	State       string
	RedirectURI string
	Scopes      []string
	ExpiresAt   time.Time
}

// Authorize validates an authorization request and mints a single-use
// authorization code bound to the client, redirect URI, scopes, PKCE
// challenge and subject. The caller delivers the code to the client via
// redirect; errors are returned to the caller, never redirected, since an
// unverified redirect URI must not receive error traffic.
func (s *Server) Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResult, error) {
	ctx, span := s.tracer.Start(ctx, "server.Authorize")
	defer span.End()

	if req.Subject == "" {
		// Misuse by the embedding application, not a protocol error.
		return nil, fmt.Errorf("authorize: subject is required")
	}

	client, err := s.clients.FindClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			s.logSecurityEvent("authorize:"+req.ClientID, "authorization request for unknown client",
				"client_id", req.ClientID)
			return nil, failSpan(span, oauthcore.ErrClientNotFound)
		}
		return nil, failSpan(span, oauthcore.NewStoreError("find_client", err))
	}
	instrumentation.AddGrantAttributes(span, client.ID, storage.GrantAuthorizationCode)

	if !client.AllowsGrant(storage.GrantAuthorizationCode) {
		return nil, failSpan(span, oauthcore.ErrGrantNotAllowed)
	}

	redirectURI, err := s.resolveRedirectURI(client, req.RedirectURI)
	if err != nil {
		return nil, failSpan(span, err)
	}

	scopes, err := validateScopes(client, req.Scopes)
	if err != nil {
		return nil, failSpan(span, err)
	}

	challenge, method, err := s.validateChallenge(ctx, client.ID, req.CodeChallenge, req.CodeChallengeMethod)
	if err != nil {
		return nil, failSpan(span, err)
	}

	now := time.Now()
	rec := &storage.AuthorizationCodeRecord{
		Code:                s.generateToken(),
		ClientID:            client.ID,
		RedirectURI:         redirectURI,
		Scopes:              scopes,
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		Subject:             req.Subject,
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
	}

	if err := s.codes.SaveAuthorizationCode(ctx, rec); err != nil {
		return nil, failSpan(span, oauthcore.NewStoreError("save_authorization_code", err))
	}

	s.Auditor.LogCodeIssued(req.Subject, client.ID, scopes)
	if m := s.metrics(); m != nil {
		m.RecordCodeIssued(ctx, client.ID, method)
	}
	instrumentation.SetSpanSuccess(span)

	return &AuthorizeResult{
		Code:        rec.Code,
		State:       req.State,
		RedirectURI: redirectURI,
		Scopes:      scopes,
		ExpiresAt:   rec.ExpiresAt,
	}, nil
}

// validateChallenge applies the PKCE policy to an authorization request
// and returns the challenge and effective method to bind to the code.
func (s *Server) validateChallenge(ctx context.Context, clientID, challenge, method string) (string, string, error) {
	if challenge == "" {
		if s.Config.RequirePKCE {
			s.logSecurityEvent("pkce:"+clientID, "authorization request without code_challenge",
				"client_id", clientID)
			return "", "", oauthcore.ErrPKCEMissing
		}
		return "", "", nil
	}

	if method == "" {
		method = pkce.MethodPlain
	}
	if !pkce.ValidMethod(method, s.Config.AllowPKCEPlain) {
		if m := s.metrics(); m != nil {
			m.RecordPKCEValidationFailed(ctx, method)
		}
		return "", "", oauthcore.ErrPKCEMethodNotAllowed
	}
	if !pkce.ValidChallenge(challenge) {
		if m := s.metrics(); m != nil {
			m.RecordPKCEValidationFailed(ctx, method)
		}
		return "", "", oauthcore.ErrPKCEInvalidChallenge
	}

	return challenge, method, nil
}

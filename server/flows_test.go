package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	oauthcore "github.com/halcyonlabs/oauthcore"
	"github.com/halcyonlabs/oauthcore/internal/testutil"
	"github.com/halcyonlabs/oauthcore/pkce"
	"github.com/halcyonlabs/oauthcore/storage"
	"github.com/halcyonlabs/oauthcore/storage/memory"
)

const (
	testSubject     = "user-123"
	testClientID    = "test-client"
	testSecret      = "test-secret-value"
	testRedirectURI = "https://app.example/cb"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryStoreForTest(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Stop)
	return store
}

func setupTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()

	store := memoryStoreForTest(t)

	srv, err := New(store, store, store, &Config{
		Issuer:          "https://auth.example.com",
		SupportedScopes: []string{"read", "write"},
	}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(srv.Close)

	return srv, store
}

// registerClient stores a confidential client and returns it.
func registerClient(t *testing.T, store *memory.Store) *storage.Client {
	t.Helper()

	client := testutil.NewConfidentialClient(t, testClientID, testSecret)
	if err := store.SaveClient(context.Background(), client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	return client
}

// authorize runs a successful authorization and returns the code result
// and the matching verifier.
func authorize(t *testing.T, srv *Server) (*AuthorizeResult, string) {
	t.Helper()

	challenge, verifier := testutil.GeneratePKCEPair()
	grant, err := srv.Authorize(context.Background(), &AuthorizeRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		Scopes:              []string{"read", "write"},
		State:               "xyz-state",
		CodeChallenge:       challenge,
		CodeChallengeMethod: pkce.MethodS256,
		Subject:             testSubject,
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	return grant, verifier
}

func TestAuthorize_Success(t *testing.T) {
	srv, store := setupTestServer(t)
	registerClient(t, store)

	grant, _ := authorize(t, srv)

	if grant.Code == "" {
		t.Error("Authorize() returned empty code")
	}
	if grant.State != "xyz-state" {
		t.Errorf("State = %q, want %q", grant.State, "xyz-state")
	}
	if grant.RedirectURI != testRedirectURI {
		t.Errorf("RedirectURI = %q, want %q", grant.RedirectURI, testRedirectURI)
	}
	if len(grant.Scopes) != 2 {
		t.Errorf("Scopes = %v, want [read write]", grant.Scopes)
	}
	if until := time.Until(grant.ExpiresAt); until < 9*time.Minute || until > 11*time.Minute {
		t.Errorf("code expiry %v outside expected 10 minute window", until)
	}
}

func TestAuthorize_DefaultRedirectURI(t *testing.T) {
	srv, store := setupTestServer(t)
	registerClient(t, store)

	challenge, _ := testutil.GeneratePKCEPair()
	grant, err := srv.Authorize(context.Background(), &AuthorizeRequest{
		ClientID:            testClientID,
		Scopes:              []string{"read"},
		CodeChallenge:       challenge,
		CodeChallengeMethod: pkce.MethodS256,
		Subject:             testSubject,
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if grant.RedirectURI != testRedirectURI {
		t.Errorf("RedirectURI = %q, want the single registered URI", grant.RedirectURI)
	}
}

func TestAuthorize_DefaultScopes(t *testing.T) {
	srv, store := setupTestServer(t)
	registerClient(t, store)

	challenge, _ := testutil.GeneratePKCEPair()
	grant, err := srv.Authorize(context.Background(), &AuthorizeRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		CodeChallenge:       challenge,
		CodeChallengeMethod: pkce.MethodS256,
		Subject:             testSubject,
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if len(grant.Scopes) != 1 || grant.Scopes[0] != "read" {
		t.Errorf("Scopes = %v, want the client default [read]", grant.Scopes)
	}
}

func TestAuthorize_Validation(t *testing.T) {
	srv, store := setupTestServer(t)
	registerClient(t, store)

	challenge, _ := testutil.GeneratePKCEPair()

	tests := []struct {
		name    string
		req     *AuthorizeRequest
		wantErr error
	}{
		{
			name: "unknown client",
			req: &AuthorizeRequest{
				ClientID:            "nobody",
				RedirectURI:         testRedirectURI,
				CodeChallenge:       challenge,
				CodeChallengeMethod: pkce.MethodS256,
				Subject:             testSubject,
			},
			wantErr: oauthcore.ErrClientNotFound,
		},
		{
			name: "unregistered redirect URI",
			req: &AuthorizeRequest{
				ClientID:            testClientID,
				RedirectURI:         "https://evil.example/cb",
				CodeChallenge:       challenge,
				CodeChallengeMethod: pkce.MethodS256,
				Subject:             testSubject,
			},
			wantErr: oauthcore.ErrRedirectURIMismatch,
		},
		{
			name: "trailing slash is a different URI",
			req: &AuthorizeRequest{
				ClientID:            testClientID,
				RedirectURI:         testRedirectURI + "/",
				CodeChallenge:       challenge,
				CodeChallengeMethod: pkce.MethodS256,
				Subject:             testSubject,
			},
			wantErr: oauthcore.ErrRedirectURIMismatch,
		},
		{
			name: "dangerous redirect scheme",
			req: &AuthorizeRequest{
				ClientID:            testClientID,
				RedirectURI:         "javascript:alert(1)",
				CodeChallenge:       challenge,
				CodeChallengeMethod: pkce.MethodS256,
				Subject:             testSubject,
			},
			wantErr: oauthcore.ErrRedirectURIInvalid,
		},
		{
			name: "scope outside client registration",
			req: &AuthorizeRequest{
				ClientID:            testClientID,
				RedirectURI:         testRedirectURI,
				Scopes:              []string{"read", "admin"},
				CodeChallenge:       challenge,
				CodeChallengeMethod: pkce.MethodS256,
				Subject:             testSubject,
			},
			wantErr: oauthcore.ErrScopeNotAllowed,
		},
		{
			name: "missing code challenge",
			req: &AuthorizeRequest{
				ClientID:    testClientID,
				RedirectURI: testRedirectURI,
				Subject:     testSubject,
			},
			wantErr: oauthcore.ErrPKCEMissing,
		},
		{
			name: "plain method rejected by default",
			req: &AuthorizeRequest{
				ClientID:            testClientID,
				RedirectURI:         testRedirectURI,
				CodeChallenge:       testutil.GenerateRandomString(43),
				CodeChallengeMethod: pkce.MethodPlain,
				Subject:             testSubject,
			},
			wantErr: oauthcore.ErrPKCEMethodNotAllowed,
		},
		{
			name: "challenge without method defaults to plain and is rejected",
			req: &AuthorizeRequest{
				ClientID:      testClientID,
				RedirectURI:   testRedirectURI,
				CodeChallenge: testutil.GenerateRandomString(43),
				Subject:       testSubject,
			},
			wantErr: oauthcore.ErrPKCEMethodNotAllowed,
		},
		{
			name: "malformed challenge",
			req: &AuthorizeRequest{
				ClientID:            testClientID,
				RedirectURI:         testRedirectURI,
				CodeChallenge:       "too-short",
				CodeChallengeMethod: pkce.MethodS256,
				Subject:             testSubject,
			},
			wantErr: oauthcore.ErrPKCEInvalidChallenge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.Authorize(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Authorize() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthorize_GrantNotAllowed(t *testing.T) {
	srv, store := setupTestServer(t)

	client := testutil.NewConfidentialClient(t, "cc-only", testSecret)
	client.GrantTypes = []string{storage.GrantClientCredentials}
	if err := store.SaveClient(context.Background(), client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	challenge, _ := testutil.GeneratePKCEPair()
	_, err := srv.Authorize(context.Background(), &AuthorizeRequest{
		ClientID:            "cc-only",
		RedirectURI:         testRedirectURI,
		CodeChallenge:       challenge,
		CodeChallengeMethod: pkce.MethodS256,
		Subject:             testSubject,
	})
	if !errors.Is(err, oauthcore.ErrGrantNotAllowed) {
		t.Errorf("Authorize() error = %v, want ErrGrantNotAllowed", err)
	}
}

func TestExchange_Success(t *testing.T) {
	ctx := context.Background()
	srv, store := setupTestServer(t)
	registerClient(t, store)

	grant, verifier := authorize(t, srv)

	resp, err := srv.ExchangeAuthorizationCode(ctx, &TokenRequest{
		GrantType:    storage.GrantAuthorizationCode,
		ClientID:     testClientID,
		ClientSecret: testSecret,
		Code:         grant.Code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("ExchangeAuthorizationCode() error = %v", err)
	}

	if resp.AccessToken == "" {
		t.Error("response has no access token")
	}
	if resp.RefreshToken == "" {
		t.Error("response has no refresh token")
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", resp.TokenType)
	}
	if resp.Scope != "read write" {
		t.Errorf("Scope = %q, want %q", resp.Scope, "read write")
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("ExpiresIn = %d, want 3600", resp.ExpiresIn)
	}

	info, err := srv.Introspect(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if !info.Active {
		t.Error("freshly issued access token introspects as inactive")
	}
	if info.Subject != testSubject {
		t.Errorf("Introspect Subject = %q, want %q", info.Subject, testSubject)
	}
}

func TestExchange_PublicClient(t *testing.T) {
	ctx := context.Background()
	srv, store := setupTestServer(t)

	if err := store.SaveClient(ctx, testutil.NewPublicClient("public-app")); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	challenge, verifier := testutil.GeneratePKCEPair()
	grant, err := srv.Authorize(ctx, &AuthorizeRequest{
		ClientID:            "public-app",
		RedirectURI:         testRedirectURI,
		CodeChallenge:       challenge,
		CodeChallengeMethod: pkce.MethodS256,
		Subject:             testSubject,
	})
	if err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}

	resp, err := srv.ExchangeAuthorizationCode(ctx, &TokenRequest{
		GrantType:    storage.GrantAuthorizationCode,
		ClientID:     "public-app",
		Code:         grant.Code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("ExchangeAuthorizationCode() error = %v", err)
	}
	if resp.AccessToken == "" {
		t.Error("public client exchange returned no access token")
	}
}

func TestExchange_ClientAuthentication(t *testing.T) {
	ctx := context.Background()
	srv, store := setupTestServer(t)
	registerClient(t, store)

	grant, verifier := authorize(t, srv)

	tests := []struct {
		name     string
		clientID string
		secret   string
		wantErr  error
	}{
		{"unknown client", "nobody", testSecret, oauthcore.ErrClientNotFound},
		{"wrong secret", testClientID, "wrong", oauthcore.ErrClientSecretMismatch},
		{"missing secret", testClientID, "", oauthcore.ErrClientSecretRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.ExchangeAuthorizationCode(ctx, &TokenRequest{
				GrantType:    storage.GrantAuthorizationCode,
				ClientID:     tt.clientID,
				ClientSecret: tt.secret,
				Code:         grant.Code,
				RedirectURI:  testRedirectURI,
				CodeVerifier: verifier,
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}

			// All three must surface the identical wire response.
			code, desc, status := oauthcore.Public(err)
			if code != oauthcore.ErrorCodeInvalidClient || desc != "client authentication failed" || status != 401 {
				t.Errorf("Public() = (%q, %q, %d), want indistinguishable invalid_client", code, desc, status)
			}
		})
	}
}

func TestExchange_WrongVerifier(t *testing.T) {
	ctx := context.Background()
	srv, store := setupTestServer(t)
	registerClient(t, store)

	grant, _ := authorize(t, srv)

	_, wrongVerifier := testutil.GeneratePKCEPair()
	_, err := srv.ExchangeAuthorizationCode(ctx, &TokenRequest{
		GrantType:    storage.GrantAuthorizationCode,
		ClientID:     testClientID,
		ClientSecret: testSecret,
		Code:         grant.Code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: wrongVerifier,
	})
	if !errors.Is(err, oauthcore.ErrPKCEMismatch) {
		t.Fatalf("error = %v, want ErrPKCEMismatch", err)
	}

	// The failed exchange consumed the code; a retry must not succeed.
	_, err = srv.ExchangeAuthorizationCode(ctx, &TokenRequest{
		GrantType:    storage.GrantAuthorizationCode,
		ClientID:     testClientID,
		ClientSecret: testSecret,
		Code:         grant.Code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: wrongVerifier,
	})
	if !errors.Is(err, oauthcore.ErrCodeAlreadyUsed) {
		t.Errorf("burned code retry error = %v, want ErrCodeAlreadyUsed", err)
	}
}

func TestExchange_MalformedVerifier(t *testing.T) {
	ctx := context.Background()
	srv, store := setupTestServer(t)
	registerClient(t, store)

	grant, _ := authorize(t, srv)

	_, err := srv.ExchangeAuthorizationCode(ctx, &TokenRequest{
		GrantType:    storage.GrantAuthorizationCode,
		ClientID:     testClientID,
		ClientSecret: testSecret,
		Code:         grant.Code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: "short",
	})
	if !errors.Is(err, oauthcore.ErrPKCEInvalidVerifier) {
		t.Errorf("error = %v, want ErrPKCEInvalidVerifier", err)
	}
}

func TestExchange_RedirectURIBinding(t *testing.T) {
	ctx := context.Background()
	srv, store := setupTestServer(t)
	registerClient(t, store)

	grant, verifier := authorize(t, srv)

	_, err := srv.ExchangeAuthorizationCode(ctx, &TokenRequest{
		GrantType:    storage.GrantAuthorizationCode,
		ClientID:     testClientID,
		ClientSecret: testSecret,
		Code:         grant.Code,
		RedirectURI:  "https://other.example/cb",
		CodeVerifier: verifier,
	})
	if !errors.Is(err, oauthcore.ErrRedirectURIMismatch) {
		t.Errorf("error = %v, want ErrRedirectURIMismatch", err)
	}
}

func TestExchange_CrossClientCode(t *testing.T) {
	ctx := context.Background()
	srv, store := setupTestServer(t)
	registerClient(t, store)

	other := testutil.NewConfidentialClient(t, "other-client", "other-secret")
	if err := store.SaveClient(ctx, other); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	grant, verifier := authorize(t, srv)

	_, err := srv.ExchangeAuthorizationCode(ctx, &TokenRequest{
		GrantType:    storage.GrantAuthorizationCode,
		ClientID:     "other-client",
		ClientSecret: "other-secret",
		Code:         grant.Code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: verifier,
	})
	if !errors.Is(err, oauthcore.ErrCodeNotFound) {
		t.Errorf("error = %v, want ErrCodeNotFound", err)
	}
}

func TestExchange_ReuseRevokesTokens(t *testing.T) {
	ctx := context.Background()
	srv, store := setupTestServer(t)
	registerClient(t, store)

	grant, verifier := authorize(t, srv)

	req := &TokenRequest{
		GrantType:    storage.GrantAuthorizationCode,
		ClientID:     testClientID,
		ClientSecret: testSecret,
		Code:         grant.Code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: verifier,
	}

	resp, err := srv.ExchangeAuthorizationCode(ctx, req)
	if err != nil {
		t.Fatalf("first exchange error = %v", err)
	}

	_, err = srv.ExchangeAuthorizationCode(ctx, req)
	if !errors.Is(err, oauthcore.ErrCodeAlreadyUsed) {
		t.Fatalf("second exchange error = %v, want ErrCodeAlreadyUsed", err)
	}

	// The replay must have revoked everything the first redemption minted.
	for _, token := range []string{resp.AccessToken, resp.RefreshToken} {
		info, err := srv.Introspect(ctx, token)
		if err != nil {
			t.Fatalf("Introspect() error = %v", err)
		}
		if info.Active {
			t.Error("token survived authorization code reuse response")
		}
	}
}

func TestExchange_ConcurrentDoubleSpend(t *testing.T) {
	ctx := context.Background()
	srv, store := setupTestServer(t)
	registerClient(t, store)

	grant, verifier := authorize(t, srv)

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := srv.ExchangeAuthorizationCode(ctx, &TokenRequest{
				GrantType:    storage.GrantAuthorizationCode,
				ClientID:     testClientID,
				ClientSecret: testSecret,
				Code:         grant.Code,
				RedirectURI:  testRedirectURI,
				CodeVerifier: verifier,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, reuses int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, oauthcore.ErrCodeAlreadyUsed):
			reuses++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if reuses != workers-1 {
		t.Errorf("reuse errors = %d, want %d", reuses, workers-1)
	}
}

func TestRefresh_RotationAndReuse(t *testing.T) {
	ctx := context.Background()
	srv, store := setupTestServer(t)
	registerClient(t, store)

	grant, verifier := authorize(t, srv)
	first, err := srv.ExchangeAuthorizationCode(ctx, &TokenRequest{
		GrantType:    storage.GrantAuthorizationCode,
		ClientID:     testClientID,
		ClientSecret: testSecret,
		Code:         grant.Code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("exchange error = %v", err)
	}

	second, err := srv.RefreshAccessToken(ctx, &TokenRequest{
		GrantType:    storage.GrantRefreshToken,
		ClientID:     testClientID,
		ClientSecret: testSecret,
		RefreshToken: first.RefreshToken,
	})
	if err != nil {
		t.Fatalf("refresh error = %v", err)
	}
	if second.RefreshToken == "" || second.RefreshToken == first.RefreshToken {
		t.Error("refresh did not rotate the refresh token")
	}
	if second.Scope != "read write" {
		t.Errorf("refreshed Scope = %q, want inherited %q", second.Scope, "read write")
	}

	// Replaying the rotated-away token is reuse: the whole lineage dies.
	_, err = srv.RefreshAccessToken(ctx, &TokenRequest{
		GrantType:    storage.GrantRefreshToken,
		ClientID:     testClientID,
		ClientSecret: testSecret,
		RefreshToken: first.RefreshToken,
	})
	if !errors.Is(err, oauthcore.ErrTokenReuseDetected) {
		t.Fatalf("replay error = %v, want ErrTokenReuseDetected", err)
	}

	_, err = srv.RefreshAccessToken(ctx, &TokenRequest{
		GrantType:    storage.GrantRefreshToken,
		ClientID:     testClientID,
		ClientSecret: testSecret,
		RefreshToken: second.RefreshToken,
	})
	if !errors.Is(err, oauthcore.ErrTokenReuseDetected) {
		t.Errorf("post-revocation refresh error = %v, want ErrTokenReuseDetected", err)
	}

	info, err := srv.Introspect(ctx, second.RefreshToken)
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if info.Active {
		t.Error("lineage head still active after reuse detection")
	}
}

func TestRefresh_ScopeNarrowing(t *testing.T) {
	ctx := context.Background()
	srv, store := setupTestServer(t)
	registerClient(t, store)

	grant, verifier := authorize(t, srv)
	first, err := srv.ExchangeAuthorizationCode(ctx, &TokenRequest{
		GrantType:    storage.GrantAuthorizationCode,
		ClientID:     testClientID,
		ClientSecret: testSecret,
		Code:         grant.Code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("exchange error = %v", err)
	}

	narrowed, err := srv.RefreshAccessToken(ctx, &TokenRequest{
		GrantType:    storage.GrantRefreshToken,
		ClientID:     testClientID,
		ClientSecret: testSecret,
		RefreshToken: first.RefreshToken,
		Scopes:       []string{"read"},
	})
	if err != nil {
		t.Fatalf("narrowing refresh error = %v", err)
	}
	if narrowed.Scope != "read" {
		t.Errorf("narrowed Scope = %q, want %q", narrowed.Scope, "read")
	}

	// The replacement refresh token keeps the original grant, so a later
	// request inside that grant still works.
	widened, err := srv.RefreshAccessToken(ctx, &TokenRequest{
		GrantType:    storage.GrantRefreshToken,
		ClientID:     testClientID,
		ClientSecret: testSecret,
		RefreshToken: narrowed.RefreshToken,
		Scopes:       []string{"read", "write"},
	})
	if err != nil {
		t.Fatalf("refresh within original grant error = %v", err)
	}
	if widened.Scope != "read write" {
		t.Errorf("Scope = %q, want %q", widened.Scope, "read write")
	}

	// Scopes outside the grant are rejected wholesale.
	_, err = srv.RefreshAccessToken(ctx, &TokenRequest{
		GrantType:    storage.GrantRefreshToken,
		ClientID:     testClientID,
		ClientSecret: testSecret,
		RefreshToken: widened.RefreshToken,
		Scopes:       []string{"read", "admin"},
	})
	if !errors.Is(err, oauthcore.ErrScopeNotAllowed) {
		t.Errorf("widening error = %v, want ErrScopeNotAllowed", err)
	}
}

func TestClientCredentials(t *testing.T) {
	ctx := context.Background()
	srv, store := setupTestServer(t)
	registerClient(t, store)

	resp, err := srv.ClientCredentials(ctx, &TokenRequest{
		GrantType:    storage.GrantClientCredentials,
		ClientID:     testClientID,
		ClientSecret: testSecret,
		Scopes:       []string{"write"},
	})
	if err != nil {
		t.Fatalf("ClientCredentials() error = %v", err)
	}
	if resp.RefreshToken != "" {
		t.Error("client credentials grant minted a refresh token")
	}

	info, err := srv.Introspect(ctx, resp.AccessToken)
	if err != nil {
		t.Fatalf("Introspect() error = %v", err)
	}
	if !info.Active {
		t.Error("client credentials access token inactive")
	}
	if info.Subject != "" {
		t.Errorf("Subject = %q, want empty for client credentials", info.Subject)
	}
}

func TestClientCredentials_PublicClientRejected(t *testing.T) {
	ctx := context.Background()
	srv, store := setupTestServer(t)

	public := testutil.NewPublicClient("public-app")
	public.GrantTypes = append(public.GrantTypes, storage.GrantClientCredentials)
	if err := store.SaveClient(ctx, public); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	_, err := srv.ClientCredentials(ctx, &TokenRequest{
		GrantType: storage.GrantClientCredentials,
		ClientID:  "public-app",
	})
	if !errors.Is(err, oauthcore.ErrGrantNotAllowed) {
		t.Errorf("error = %v, want ErrGrantNotAllowed", err)
	}
}

func TestToken_UnsupportedGrantType(t *testing.T) {
	srv, store := setupTestServer(t)
	registerClient(t, store)

	_, err := srv.Token(context.Background(), &TokenRequest{
		GrantType:    "password",
		ClientID:     testClientID,
		ClientSecret: testSecret,
	})
	if !errors.Is(err, oauthcore.ErrUnsupportedGrantType) {
		t.Errorf("error = %v, want ErrUnsupportedGrantType", err)
	}
}

func TestIntrospect_InactiveStates(t *testing.T) {
	ctx := context.Background()
	srv, store := setupTestServer(t)
	registerClient(t, store)

	t.Run("unknown token", func(t *testing.T) {
		info, err := srv.Introspect(ctx, "no-such-token")
		if err != nil {
			t.Fatalf("Introspect() error = %v", err)
		}
		if info.Active {
			t.Error("unknown token reported active")
		}
		if info.Subject != "" || info.Scope != "" || info.ClientID != "" {
			t.Error("inactive response leaks token state")
		}
	})

	t.Run("expired token", func(t *testing.T) {
		rec := testutil.NewTokenRecord(storage.TokenKindAccess, testClientID, testSubject)
		rec.ExpiresAt = time.Now().Add(-time.Minute)
		if err := store.SaveToken(ctx, rec); err != nil {
			t.Fatalf("SaveToken() error = %v", err)
		}
		info, err := srv.Introspect(ctx, rec.Token)
		if err != nil {
			t.Fatalf("Introspect() error = %v", err)
		}
		if info.Active {
			t.Error("expired token reported active")
		}
	})

	t.Run("expired within grace still active", func(t *testing.T) {
		rec := testutil.NewTokenRecord(storage.TokenKindAccess, testClientID, testSubject)
		rec.ExpiresAt = time.Now().Add(-time.Second)
		if err := store.SaveToken(ctx, rec); err != nil {
			t.Fatalf("SaveToken() error = %v", err)
		}
		info, err := srv.Introspect(ctx, rec.Token)
		if err != nil {
			t.Fatalf("Introspect() error = %v", err)
		}
		if !info.Active {
			t.Error("token inside the clock skew grace reported inactive")
		}
	})

	t.Run("revoked token", func(t *testing.T) {
		rec := testutil.NewTokenRecord(storage.TokenKindAccess, testClientID, testSubject)
		if err := store.SaveToken(ctx, rec); err != nil {
			t.Fatalf("SaveToken() error = %v", err)
		}
		if err := store.RevokeToken(ctx, rec.Token); err != nil {
			t.Fatalf("RevokeToken() error = %v", err)
		}
		info, err := srv.Introspect(ctx, rec.Token)
		if err != nil {
			t.Fatalf("Introspect() error = %v", err)
		}
		if info.Active {
			t.Error("revoked token reported active")
		}
	})
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	srv, store := setupTestServer(t)
	registerClient(t, store)

	t.Run("unknown token succeeds", func(t *testing.T) {
		err := srv.Revoke(ctx, &RevokeRequest{
			ClientID:     testClientID,
			ClientSecret: testSecret,
			Token:        "no-such-token",
		})
		if err != nil {
			t.Errorf("Revoke() error = %v, want nil", err)
		}
	})

	t.Run("refresh token revokes lineage", func(t *testing.T) {
		grant, verifier := authorize(t, srv)
		resp, err := srv.ExchangeAuthorizationCode(ctx, &TokenRequest{
			GrantType:    storage.GrantAuthorizationCode,
			ClientID:     testClientID,
			ClientSecret: testSecret,
			Code:         grant.Code,
			RedirectURI:  testRedirectURI,
			CodeVerifier: verifier,
		})
		if err != nil {
			t.Fatalf("exchange error = %v", err)
		}

		if err := srv.Revoke(ctx, &RevokeRequest{
			ClientID:     testClientID,
			ClientSecret: testSecret,
			Token:        resp.RefreshToken,
		}); err != nil {
			t.Fatalf("Revoke() error = %v", err)
		}

		_, err = srv.RefreshAccessToken(ctx, &TokenRequest{
			GrantType:    storage.GrantRefreshToken,
			ClientID:     testClientID,
			ClientSecret: testSecret,
			RefreshToken: resp.RefreshToken,
		})
		if !errors.Is(err, oauthcore.ErrTokenReuseDetected) {
			t.Errorf("refresh after revocation error = %v, want ErrTokenReuseDetected", err)
		}
	})

	t.Run("another client's token is untouched", func(t *testing.T) {
		other := testutil.NewConfidentialClient(t, "other-rev", "other-secret")
		if err := store.SaveClient(ctx, other); err != nil {
			t.Fatalf("SaveClient() error = %v", err)
		}
		rec := testutil.NewTokenRecord(storage.TokenKindAccess, "other-rev", testSubject)
		if err := store.SaveToken(ctx, rec); err != nil {
			t.Fatalf("SaveToken() error = %v", err)
		}

		if err := srv.Revoke(ctx, &RevokeRequest{
			ClientID:     testClientID,
			ClientSecret: testSecret,
			Token:        rec.Token,
		}); err != nil {
			t.Fatalf("Revoke() error = %v", err)
		}

		info, err := srv.Introspect(ctx, rec.Token)
		if err != nil {
			t.Fatalf("Introspect() error = %v", err)
		}
		if !info.Active {
			t.Error("cross-client revocation attempt revoked the token")
		}
	})
}

func TestMetadata(t *testing.T) {
	srv, _ := setupTestServer(t)

	md := srv.Metadata()
	if md.Issuer != "https://auth.example.com" {
		t.Errorf("Issuer = %q", md.Issuer)
	}
	if len(md.CodeChallengeMethodsSupported) != 1 || md.CodeChallengeMethodsSupported[0] != "S256" {
		t.Errorf("CodeChallengeMethodsSupported = %v, want [S256]", md.CodeChallengeMethodsSupported)
	}
	if !strings.Contains(strings.Join(md.GrantTypesSupported, " "), "client_credentials") {
		t.Errorf("GrantTypesSupported = %v missing client_credentials", md.GrantTypesSupported)
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/oauth2"

	oauthcore "github.com/halcyonlabs/oauthcore"
	"github.com/halcyonlabs/oauthcore/instrumentation"
	"github.com/halcyonlabs/oauthcore/security"
	"github.com/halcyonlabs/oauthcore/storage"
)

// Server implements the OAuth 2.1 authorization server logic on top of
// pluggable storage backends.
type Server struct {
	clients storage.ClientStore
	codes   storage.AuthorizationCodeStore
	tokens  storage.TokenStore

	Auditor *security.Auditor

	// SecurityEventRateLimiter caps per-client security event logging so
	// an attacker cannot flood the audit log.
	SecurityEventRateLimiter *security.RateLimiter

	Logger *slog.Logger
	Config *Config

	schemePatterns []*regexp.Regexp

	inst   *instrumentation.Instrumentation
	tracer trace.Tracer
}

// New creates a new authorization server core.
func New(
	clients storage.ClientStore,
	codes storage.AuthorizationCodeStore,
	tokens storage.TokenStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if codes == nil {
		return nil, fmt.Errorf("authorization code store is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	schemePatterns, err := compileSchemePatterns(config.AllowedCustomSchemes)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		clients: clients,
		codes:   codes,
		tokens:  tokens,
		Auditor: security.NewAuditor(logger, config.AuditEnabled),
		// 1 event/sec with a burst of 5 per client, capped at 10k tracked
		// clients.
		SecurityEventRateLimiter: security.NewRateLimiter(1, 5, 10000, logger),
		Logger:                   logger,
		Config:                   config,
		schemePatterns:           schemePatterns,
		tracer:                   tracenoop.NewTracerProvider().Tracer(""),
	}

	return srv, nil
}

// SetInstrumentation attaches OpenTelemetry instrumentation. Safe to skip;
// without it the server records nothing.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
	if inst != nil {
		s.tracer = inst.Tracer("server")
	}
}

// Metadata returns the RFC 8414 authorization server metadata document
// for this configuration.
func (s *Server) Metadata() oauthcore.AuthorizationServerMetadata {
	md := oauthcore.MetadataDefaults(s.Config.Issuer, s.Config.SupportedScopes)
	if s.Config.AllowPKCEPlain {
		md.CodeChallengeMethodsSupported = append(md.CodeChallengeMethodsSupported, "plain")
	}
	return md
}

// Close releases background resources (rate limiter goroutines).
func (s *Server) Close() {
	if s.SecurityEventRateLimiter != nil {
		s.SecurityEventRateLimiter.Stop()
	}
}

// metrics returns the metrics holder, or nil when instrumentation is not
// attached. Callers nil-check.
func (s *Server) metrics() *instrumentation.Metrics {
	if s.inst == nil {
		return nil
	}
	return s.inst.Metrics()
}

// clockSkewGrace returns the configured expiry grace period.
func (s *Server) clockSkewGrace() time.Duration {
	return time.Duration(s.Config.ClockSkewGracePeriod) * time.Second
}

// generateToken mints an opaque credential string with at least 256 bits
// of entropy. Used for authorization codes, access tokens and refresh
// tokens alike.
func (s *Server) generateToken() string {
	return oauth2.GenerateVerifier()
}

// failSpan records err on the span and returns it unchanged.
func failSpan(span trace.Span, err error) error {
	instrumentation.RecordError(span, err)
	return err
}

// logSecurityEvent logs a warning subject to the per-key security event
// rate limit.
func (s *Server) logSecurityEvent(key, msg string, args ...any) {
	if s.SecurityEventRateLimiter != nil && !s.SecurityEventRateLimiter.Allow(key) {
		return
	}
	s.Logger.Warn(msg, args...)
}

// authenticateClient resolves and authenticates a client for a token
// endpoint request. Confidential clients must present their secret;
// public clients authenticate by identity alone. Unknown clients and
// wrong secrets burn the same bcrypt work and surface the same public
// error, so the endpoint is not an existence oracle.
func (s *Server) authenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	client, err := s.clients.FindClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			security.VerifySecretHash("", clientSecret)
			s.recordAuthFailure(ctx, clientID, "client_not_found")
			return nil, oauthcore.ErrClientNotFound
		}
		return nil, oauthcore.NewStoreError("find_client", err)
	}

	if client.Public {
		// Public clients carry no secret; a presented secret is ignored
		// rather than rejected, per RFC 6749 section 2.3.
		return client, nil
	}

	if clientSecret == "" {
		security.VerifySecretHash("", "")
		s.recordAuthFailure(ctx, clientID, "secret_required")
		return nil, oauthcore.ErrClientSecretRequired
	}

	if !security.VerifySecretHash(client.SecretHash, clientSecret) {
		s.recordAuthFailure(ctx, clientID, "secret_mismatch")
		return nil, oauthcore.ErrClientSecretMismatch
	}

	return client, nil
}

func (s *Server) recordAuthFailure(ctx context.Context, clientID, reason string) {
	s.Auditor.LogAuthFailure("", clientID, reason)
	s.logSecurityEvent("auth:"+clientID, "client authentication failed",
		"client_id", clientID,
		"reason", reason)
	if m := s.metrics(); m != nil {
		m.RecordAuthenticationFailed(ctx, clientID)
	}
}

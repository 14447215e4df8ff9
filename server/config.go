package server

import (
	"log/slog"
)

// Config holds authorization server configuration.
type Config struct {
	// Issuer is the server's issuer identifier (base URL). Used for the
	// RFC 8414 metadata document.
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 7776000 (90 days)

	// IssueRefreshTokens controls whether the authorization code and
	// refresh grants mint a refresh token alongside the access token.
	// Default: true
	IssueRefreshTokens bool

	// RequirePKCE enforces PKCE for all authorization requests
	// WARNING: Disabling this significantly weakens security
	// When true, code_challenge parameter is mandatory (secure by default)
	// Default: true
	RequirePKCE bool // default: true

	// AllowPKCEPlain allows the 'plain' code_challenge_method (NOT RECOMMENDED)
	// WARNING: The 'plain' method is insecure and deprecated in OAuth 2.1
	// Only enable for backward compatibility with legacy clients
	// When false, only S256 method is accepted (secure by default)
	// Default: false
	AllowPKCEPlain bool // default: false

	// ClockSkewGracePeriod is the grace period for expiry checks (in seconds)
	// This prevents false expiration errors due to time synchronization issues
	// Default: 5 seconds
	ClockSkewGracePeriod int64 // seconds, default: 5

	// SupportedScopes lists the scopes advertised in server metadata.
	// Per-client scope enforcement uses the client registration, not this
	// list; if empty, metadata omits the claim.
	SupportedScopes []string

	// AllowedCustomSchemes is a list of allowed custom URI scheme patterns (regex)
	// Used for validating custom redirect URIs (e.g., myapp://, com.example.app://)
	// Empty list allows all RFC 3986 compliant schemes
	AllowedCustomSchemes []string

	// AuditEnabled controls whether security audit events are logged.
	// Default: true
	AuditEnabled bool
}

// applySecureDefaults applies secure-by-default configuration values
// This follows the principle: secure by default, opt-in for less secure options
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)
	applySecurityDefaults(config, logger)
	return config
}

// applyTimeDefaults sets default values for time-based configuration
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 7776000 // 90 days
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5
	}
}

// applySecurityDefaults sets secure defaults for security-related configuration
// Uses a heuristic to detect if config is new (all security bools false) vs explicitly configured
func applySecurityDefaults(config *Config, logger *slog.Logger) {
	isDefaultConfig := !config.RequirePKCE &&
		!config.AllowPKCEPlain &&
		!config.IssueRefreshTokens &&
		!config.AuditEnabled

	if isDefaultConfig {
		config.RequirePKCE = true
		config.AllowPKCEPlain = false
		config.IssueRefreshTokens = true
		config.AuditEnabled = true
		return
	}

	logSecurityWarnings(config, logger)
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if !config.RequirePKCE {
		logger.Warn("⚠️  SECURITY WARNING: PKCE is DISABLED",
			"risk", "Authorization code interception attacks",
			"recommendation", "Set RequirePKCE=true for OAuth 2.1 compliance",
			"learn_more", "https://datatracker.ietf.org/doc/html/draft-ietf-oauth-v2-1-10#section-7.6")
	}
	if config.AllowPKCEPlain {
		logger.Warn("⚠️  SECURITY WARNING: Plain PKCE method is ALLOWED",
			"risk", "Weak code challenge protection",
			"recommendation", "Set AllowPKCEPlain=false to require S256",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc7636#section-4.2")
	}
	if !config.IssueRefreshTokens {
		logger.Warn("⚠️  NOTICE: Refresh tokens are DISABLED",
			"effect", "Clients must re-authorize when access tokens expire")
	}
	if !config.AuditEnabled {
		logger.Warn("⚠️  NOTICE: Security audit logging is DISABLED",
			"recommendation", "Set AuditEnabled=true in production deployments")
	}
}

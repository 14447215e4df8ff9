package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/halcyonlabs/oauthcore/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys.
	DefaultKeyPrefix = "oauth:"

	// connectionVerifyTimeout is the timeout for the initial PING.
	connectionVerifyTimeout = 5 * time.Second

	// expiryMargin keeps record keys alive slightly past their logical
	// expiry so the Lua scripts can distinguish EXPIRED from NOT_FOUND
	// and clock-skew grace still finds the record.
	expiryMargin = 5 * time.Minute

	// minTTL is the floor for any key TTL.
	minTTL = time.Second
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g. "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of all storage interfaces.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.ClientStore            = (*Store)(nil)
	_ storage.AuthorizationCodeStore = (*Store)(nil)
	_ storage.TokenStore             = (*Store)(nil)
	_ storage.Store                  = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// clientKey returns the key for a client registration: {prefix}client:{id}
func (s *Store) clientKey(clientID string) string {
	return s.prefix + "client:" + clientID
}

// codeKey returns the key for an authorization code: {prefix}code:{fingerprint}
func (s *Store) codeKey(fp string) string {
	return s.prefix + "code:" + fp
}

// tokenKey returns the key for a token record: {prefix}token:{fingerprint}
func (s *Store) tokenKey(fp string) string {
	return s.prefix + "token:" + fp
}

// lineageKey returns the key for a lineage member set: {prefix}lineage:{id}
func (s *Store) lineageKey(lineageID string) string {
	return s.prefix + "lineage:" + lineageID
}

// grantKey returns the key for the subject+client member set:
// {prefix}grant:{subject}:{clientID}
func (s *Store) grantKey(subject, clientID string) string {
	return s.prefix + "grant:" + subject + ":" + clientID
}

// keyTTL converts a record expiry into a key TTL with the safety margin.
func keyTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt) + expiryMargin
	if ttl < minTTL {
		ttl = minTTL
	}
	return ttl
}

// Lua scripts for the atomic check-and-transition operations. Running
// them server-side makes the read-check-write sequence atomic, which a
// GET followed by SET cannot be.

// luaConsumeCode atomically redeems an authorization code.
//
// KEYS[1] = code key
// ARGV[1] = current Unix timestamp in seconds
//
// Returns:
//   - the original JSON on success (code marked consumed)
//   - "NOT_FOUND" if the key does not exist
//   - "EXPIRED" if now is past the stored expiry
//   - "ALREADY_USED:<json>" if the code was already consumed
const luaConsumeCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)

local now = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at)
if expiresAt and now > expiresAt then
    return 'EXPIRED'
end

if code.consumed then
    return 'ALREADY_USED:' .. data
end

code.consumed = true
redis.call('SET', KEYS[1], cjson.encode(code), 'KEEPTTL')

return data
`

// luaRotateToken atomically rotates a refresh token: the old record is
// marked rotated and the replacement is written in the same script, so
// only one concurrent rotation of a given token can succeed.
//
// KEYS[1] = old token key
// KEYS[2] = replacement token key
// KEYS[3] = lineage member set key
// ARGV[1] = current Unix timestamp in seconds
// ARGV[2] = replacement record JSON
// ARGV[3] = replacement key TTL in seconds
// ARGV[4] = replacement fingerprint (lineage set member)
//
// Returns:
//   - the old record JSON on success
//   - "NOT_FOUND" if the old token does not exist or is not a refresh token
//   - "EXPIRED" if the old token is past its stored expiry
//   - "REVOKED:<json>" if the old token was revoked
//   - "ROTATED:<json>" if the old token was already rotated away
const luaRotateToken = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local tok = cjson.decode(data)
if tok.kind ~= 'refresh' then
    return 'NOT_FOUND'
end

local now = tonumber(ARGV[1])
local expiresAt = tonumber(tok.expires_at)
if expiresAt and expiresAt > 0 and now > expiresAt then
    return 'EXPIRED'
end

if tok.revoked then
    return 'REVOKED:' .. data
end

if tok.rotated then
    return 'ROTATED:' .. data
end

tok.rotated = true
redis.call('SET', KEYS[1], cjson.encode(tok), 'KEEPTTL')

local ttl = tonumber(ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'EX', ttl)
redis.call('SADD', KEYS[3], ARGV[4])
redis.call('EXPIRE', KEYS[3], ttl)

return data
`

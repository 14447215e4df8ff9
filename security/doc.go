// Package security provides the security primitives the authorization
// server core builds on: constant-time credential comparison, client
// secret verification, token fingerprinting, audit logging with PII
// protection, per-key rate limiting, and clock-skew-tolerant expiry
// checks.
package security

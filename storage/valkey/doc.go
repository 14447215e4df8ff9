// Package valkey provides a Valkey-backed implementation of all storage
// interfaces for multi-instance deployments.
//
// Records are stored as JSON values keyed by credential fingerprint, with
// TTLs matching record expiry. The two security-critical operations,
// consuming an authorization code and rotating a refresh token, run as
// Lua scripts so their check-and-transition is atomic on the server.
package valkey

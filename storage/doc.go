// Package storage defines the persistence contracts the authorization
// server core depends on, together with the record types that cross the
// boundary. The core never assumes a concrete backend.
//
// Two operations carry the correctness-critical atomicity requirements of
// the core and MUST be implemented with true check-and-transition
// semantics (a transaction, a compare-and-swap, or a lock held across the
// check and the write; a naive read-then-write is a replay vulnerability):
//   - AuthorizationCodeStore.ConsumeAuthorizationCode: at most one of any
//     number of concurrent calls for the same code may succeed.
//   - TokenStore.RotateRefreshToken: at most one rotation of a given
//     refresh token may succeed; a second attempt must observe
//     ErrRotationConflict, which the core treats as a reuse signal.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory reference backend for development,
//     testing, and single-instance deployments
//   - storage/valkey: Valkey/Redis-compatible distributed backend using
//     Lua scripts for the atomic operations
package storage

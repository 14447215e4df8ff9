// Package oauthcore is the protocol core of an OAuth 2.1 authorization
// server. It decides, for every authorization or token request, whether the
// request is well-formed, whether the client and grant are legitimate, and
// what token material to mint in response.
//
// The core is storage-agnostic: it depends only on the store contracts in
// the storage package, with reference backends in storage/memory and
// storage/valkey. It owns no wire format: a transport adapter parses HTTP
// requests into the server package's request types and maps the error
// taxonomy in this package back to standard OAuth error codes.
//
// Security properties enforced by the core:
//   - PKCE is mandatory for the authorization code grant (OAuth 2.1),
//     with S256 as the only method accepted by default.
//   - Authorization codes are single-use; consumption is atomic and code
//     reuse revokes all tokens for the bound subject and client.
//   - Refresh tokens rotate on every use; reuse of a rotated token revokes
//     the entire lineage.
//   - All secret comparisons (client secrets, PKCE verifiers) take
//     constant time in the content of the operands.
package oauthcore

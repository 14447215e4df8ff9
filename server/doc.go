// Package server implements the OAuth 2.1 authorization server core:
// the authorization code flow with mandatory PKCE, refresh token rotation
// with reuse detection, the client credentials grant, and token
// introspection and revocation.
//
// The package is transport-agnostic. Callers adapt HTTP (or any other
// surface) onto the request and result structs; the oauthcore.Public
// helper maps the returned errors to wire-safe OAuth error responses.
package server

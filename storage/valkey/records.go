package valkey

import (
	"time"

	"github.com/halcyonlabs/oauthcore/storage"
)

// JSON shapes stored in Valkey. Timestamps are Unix seconds so the Lua
// scripts can compare them; raw credential strings are never stored, the
// key fingerprint is the only handle.

type clientJSON struct {
	ID            string   `json:"id"`
	SecretHash    string   `json:"secret_hash,omitempty"`
	Public        bool     `json:"public"`
	Name          string   `json:"name,omitempty"`
	RedirectURIs  []string `json:"redirect_uris,omitempty"`
	GrantTypes    []string `json:"grant_types,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`
	DefaultScopes []string `json:"default_scopes,omitempty"`
	CreatedAt     int64    `json:"created_at,omitempty"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	return &clientJSON{
		ID:            c.ID,
		SecretHash:    c.SecretHash,
		Public:        c.Public,
		Name:          c.Name,
		RedirectURIs:  c.RedirectURIs,
		GrantTypes:    c.GrantTypes,
		Scopes:        c.Scopes,
		DefaultScopes: c.DefaultScopes,
		CreatedAt:     unixOrZero(c.CreatedAt),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	return &storage.Client{
		ID:            j.ID,
		SecretHash:    j.SecretHash,
		Public:        j.Public,
		Name:          j.Name,
		RedirectURIs:  j.RedirectURIs,
		GrantTypes:    j.GrantTypes,
		Scopes:        j.Scopes,
		DefaultScopes: j.DefaultScopes,
		CreatedAt:     timeOrZero(j.CreatedAt),
	}
}

type codeRecordJSON struct {
	ClientID            string   `json:"client_id"`
	RedirectURI         string   `json:"redirect_uri,omitempty"`
	Scopes              []string `json:"scopes,omitempty"`
	CodeChallenge       string   `json:"code_challenge,omitempty"`
	CodeChallengeMethod string   `json:"code_challenge_method,omitempty"`
	Subject             string   `json:"subject"`
	CreatedAt           int64    `json:"created_at,omitempty"`
	ExpiresAt           int64    `json:"expires_at,omitempty"`
	Consumed            bool     `json:"consumed"`
}

func toCodeRecordJSON(rec *storage.AuthorizationCodeRecord) *codeRecordJSON {
	return &codeRecordJSON{
		ClientID:            rec.ClientID,
		RedirectURI:         rec.RedirectURI,
		Scopes:              rec.Scopes,
		CodeChallenge:       rec.CodeChallenge,
		CodeChallengeMethod: rec.CodeChallengeMethod,
		Subject:             rec.Subject,
		CreatedAt:           unixOrZero(rec.CreatedAt),
		ExpiresAt:           unixOrZero(rec.ExpiresAt),
		Consumed:            rec.Consumed,
	}
}

func fromCodeRecordJSON(j *codeRecordJSON) *storage.AuthorizationCodeRecord {
	return &storage.AuthorizationCodeRecord{
		ClientID:            j.ClientID,
		RedirectURI:         j.RedirectURI,
		Scopes:              j.Scopes,
		CodeChallenge:       j.CodeChallenge,
		CodeChallengeMethod: j.CodeChallengeMethod,
		Subject:             j.Subject,
		CreatedAt:           timeOrZero(j.CreatedAt),
		ExpiresAt:           timeOrZero(j.ExpiresAt),
		Consumed:            j.Consumed,
	}
}

type tokenRecordJSON struct {
	Kind       string   `json:"kind"`
	ClientID   string   `json:"client_id"`
	Subject    string   `json:"subject,omitempty"`
	Scopes     []string `json:"scopes,omitempty"`
	LineageID  string   `json:"lineage_id,omitempty"`
	Generation int      `json:"generation,omitempty"`
	IssuedAt   int64    `json:"issued_at,omitempty"`
	ExpiresAt  int64    `json:"expires_at,omitempty"`
	Rotated    bool     `json:"rotated"`
	Revoked    bool     `json:"revoked"`
	RevokedAt  int64    `json:"revoked_at,omitempty"`
}

func toTokenRecordJSON(rec *storage.TokenRecord) *tokenRecordJSON {
	return &tokenRecordJSON{
		Kind:       string(rec.Kind),
		ClientID:   rec.ClientID,
		Subject:    rec.Subject,
		Scopes:     rec.Scopes,
		LineageID:  rec.LineageID,
		Generation: rec.Generation,
		IssuedAt:   unixOrZero(rec.IssuedAt),
		ExpiresAt:  unixOrZero(rec.ExpiresAt),
		Rotated:    rec.Rotated,
		Revoked:    rec.Revoked,
		RevokedAt:  unixOrZero(rec.RevokedAt),
	}
}

func fromTokenRecordJSON(j *tokenRecordJSON) *storage.TokenRecord {
	return &storage.TokenRecord{
		Kind:       storage.TokenKind(j.Kind),
		ClientID:   j.ClientID,
		Subject:    j.Subject,
		Scopes:     j.Scopes,
		LineageID:  j.LineageID,
		Generation: j.Generation,
		IssuedAt:   timeOrZero(j.IssuedAt),
		ExpiresAt:  timeOrZero(j.ExpiresAt),
		Rotated:    j.Rotated,
		Revoked:    j.Revoked,
		RevokedAt:  timeOrZero(j.RevokedAt),
	}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

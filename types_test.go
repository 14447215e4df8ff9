package oauthcore

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMetadataDefaults(t *testing.T) {
	md := MetadataDefaults("https://auth.example.com", []string{"read", "write"})

	if md.Issuer != "https://auth.example.com" {
		t.Errorf("Issuer = %q", md.Issuer)
	}
	if len(md.ResponseTypesSupported) != 1 || md.ResponseTypesSupported[0] != "code" {
		t.Errorf("ResponseTypesSupported = %v, want [code]", md.ResponseTypesSupported)
	}
	if len(md.CodeChallengeMethodsSupported) != 1 || md.CodeChallengeMethodsSupported[0] != "S256" {
		t.Errorf("CodeChallengeMethodsSupported = %v, want [S256]", md.CodeChallengeMethodsSupported)
	}
}

func TestMetadataJSON(t *testing.T) {
	md := MetadataDefaults("https://auth.example.com", nil)
	data, err := json.Marshal(md)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	out := string(data)
	if !strings.Contains(out, `"issuer":"https://auth.example.com"`) {
		t.Errorf("missing issuer claim: %s", out)
	}
	if strings.Contains(out, "scopes_supported") {
		t.Errorf("empty scopes must be omitted: %s", out)
	}
	if strings.Contains(out, "revocation_endpoint") {
		t.Errorf("unset endpoints must be omitted: %s", out)
	}
}

func TestIntrospectionResponseJSON(t *testing.T) {
	t.Run("inactive is a bare object", func(t *testing.T) {
		data, err := json.Marshal(&IntrospectionResponse{Active: false})
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if string(data) != `{"active":false}` {
			t.Errorf("inactive response = %s, want {\"active\":false}", data)
		}
	})

	t.Run("active uses RFC 7662 claim names", func(t *testing.T) {
		data, err := json.Marshal(&IntrospectionResponse{
			Active:    true,
			Subject:   "user-123",
			ExpiresAt: 1700000000,
			IssuedAt:  1690000000,
		})
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		out := string(data)
		for _, claim := range []string{`"sub":"user-123"`, `"exp":1700000000`, `"iat":1690000000`} {
			if !strings.Contains(out, claim) {
				t.Errorf("missing claim %s in %s", claim, out)
			}
		}
	})
}

func TestTokenResponseJSON(t *testing.T) {
	data, err := json.Marshal(&TokenResponse{
		AccessToken: "tok",
		TokenType:   "Bearer",
		ExpiresIn:   3600,
	})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	out := string(data)
	if strings.Contains(out, "refresh_token") {
		t.Errorf("empty refresh_token must be omitted: %s", out)
	}
	if !strings.Contains(out, `"expires_in":3600`) {
		t.Errorf("missing expires_in: %s", out)
	}
}

package server

import (
	"testing"
)

func TestApplySecureDefaults_FreshConfig(t *testing.T) {
	config := applySecureDefaults(&Config{}, testLogger())

	if !config.RequirePKCE {
		t.Error("RequirePKCE should default to true")
	}
	if config.AllowPKCEPlain {
		t.Error("AllowPKCEPlain should default to false")
	}
	if !config.IssueRefreshTokens {
		t.Error("IssueRefreshTokens should default to true")
	}
	if !config.AuditEnabled {
		t.Error("AuditEnabled should default to true")
	}
}

func TestApplySecureDefaults_TimeDefaults(t *testing.T) {
	config := applySecureDefaults(&Config{}, testLogger())

	if config.AuthorizationCodeTTL != 600 {
		t.Errorf("AuthorizationCodeTTL = %d, want 600", config.AuthorizationCodeTTL)
	}
	if config.AccessTokenTTL != 3600 {
		t.Errorf("AccessTokenTTL = %d, want 3600", config.AccessTokenTTL)
	}
	if config.RefreshTokenTTL != 7776000 {
		t.Errorf("RefreshTokenTTL = %d, want 7776000", config.RefreshTokenTTL)
	}
	if config.ClockSkewGracePeriod != 5 {
		t.Errorf("ClockSkewGracePeriod = %d, want 5", config.ClockSkewGracePeriod)
	}
}

func TestApplySecureDefaults_ExplicitConfigPreserved(t *testing.T) {
	config := applySecureDefaults(&Config{
		RequirePKCE:    false,
		AllowPKCEPlain: true,
	}, testLogger())

	// At least one security bool was set, so the heuristic must not
	// overwrite the operator's explicit choices.
	if config.RequirePKCE {
		t.Error("explicit RequirePKCE=false was overridden")
	}
	if !config.AllowPKCEPlain {
		t.Error("explicit AllowPKCEPlain=true was overridden")
	}
	if config.IssueRefreshTokens {
		t.Error("IssueRefreshTokens flipped on in an explicitly configured Config")
	}
}

func TestApplySecureDefaults_CustomTTLsKept(t *testing.T) {
	config := applySecureDefaults(&Config{
		AuthorizationCodeTTL: 120,
		AccessTokenTTL:       900,
	}, testLogger())

	if config.AuthorizationCodeTTL != 120 {
		t.Errorf("AuthorizationCodeTTL = %d, want 120", config.AuthorizationCodeTTL)
	}
	if config.AccessTokenTTL != 900 {
		t.Errorf("AccessTokenTTL = %d, want 900", config.AccessTokenTTL)
	}
}

func TestMetadata_PlainMethodAdvertised(t *testing.T) {
	store := memoryStoreForTest(t)
	srv, err := New(store, store, store, &Config{
		Issuer:             "https://auth.example.com",
		RequirePKCE:        true,
		AllowPKCEPlain:     true,
		IssueRefreshTokens: true,
		AuditEnabled:       true,
	}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(srv.Close)

	md := srv.Metadata()
	found := false
	for _, m := range md.CodeChallengeMethodsSupported {
		if m == "plain" {
			found = true
		}
	}
	if !found {
		t.Errorf("CodeChallengeMethodsSupported = %v, want plain included", md.CodeChallengeMethodsSupported)
	}
}

func TestNew_RequiresStores(t *testing.T) {
	store := memoryStoreForTest(t)

	if _, err := New(nil, store, store, &Config{Issuer: "https://a"}, testLogger()); err == nil {
		t.Error("New() accepted a nil client store")
	}
	if _, err := New(store, nil, store, &Config{Issuer: "https://a"}, testLogger()); err == nil {
		t.Error("New() accepted a nil code store")
	}
	if _, err := New(store, store, nil, &Config{Issuer: "https://a"}, testLogger()); err == nil {
		t.Error("New() accepted a nil token store")
	}
}

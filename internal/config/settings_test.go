package config

import (
	"os"
	"path/filepath"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("NASGATE_ACCESS_TOKEN", "test-token")
	t.Setenv("NAS_URL", "https://nas.local")
	t.Setenv("NAS_API_KEY", "api-key")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	s, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ListenAddr != ":8080" {
		t.Errorf("unexpected listen addr: %s", s.ListenAddr)
	}
	if !s.IntentClassificationEnabled {
		t.Error("expected intent classification enabled by default")
	}
	if s.IntentPrecedence != "intent" {
		t.Errorf("unexpected precedence: %s", s.IntentPrecedence)
	}
	if s.StrictContextLimit {
		t.Error("expected strict context limit off by default")
	}
	if s.DefaultMaxTools != 12 {
		t.Errorf("unexpected max tools: %d", s.DefaultMaxTools)
	}
	if !s.NASVerifyTLS {
		t.Error("expected TLS verification on by default")
	}
}

func TestLoad_MissingCredentialFails(t *testing.T) {
	t.Setenv("NASGATE_ACCESS_TOKEN", "")
	t.Setenv("NASGATE_ACCESS_TOKEN_HASH", "")
	t.Setenv("NASGATE_TOKEN_SCOPES", "")
	t.Setenv("NAS_URL", "https://nas.local")
	t.Setenv("NAS_API_KEY", "api-key")

	if _, err := Load(); err == nil {
		t.Error("expected error without any credential config")
	}
}

func TestLoad_MissingNASURLFails(t *testing.T) {
	t.Setenv("NASGATE_ACCESS_TOKEN", "test-token")
	t.Setenv("NAS_URL", "")
	t.Setenv("NAS_API_KEY", "api-key")

	if _, err := Load(); err == nil {
		t.Error("expected error without NAS_URL")
	}
}

func TestLoad_InvalidPrecedenceFails(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("NASGATE_INTENT_PRECEDENCE", "whatever")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid precedence")
	}
}

func TestLoad_TokenScopes(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("NASGATE_TOKEN_SCOPES", `{"reader":["storage-ops","sharing-ops"]}`)

	s, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.TokenScopes["reader"]) != 2 {
		t.Errorf("unexpected token scopes: %v", s.TokenScopes)
	}
}

func TestLoad_InvalidTokenScopesFails(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("NASGATE_TOKEN_SCOPES", "not-json")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid token scopes JSON")
	}
}

func TestLoad_AccessTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("file-token\n"), 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}

	t.Setenv("NASGATE_ACCESS_TOKEN", "")
	t.Setenv("NASGATE_ACCESS_TOKEN_FILE", path)
	t.Setenv("NAS_URL", "https://nas.local")
	t.Setenv("NAS_API_KEY", "api-key")

	s, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.AccessToken != "file-token" {
		t.Errorf("expected trimmed file token, got %q", s.AccessToken)
	}
}

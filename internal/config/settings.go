// Package config loads the gateway's environment-driven settings and
// the filter configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings is the process-wide configuration, loaded once at startup
// and passed by value into every consumer. Invalid settings are fatal.
type Settings struct {
	ListenAddr     string
	LogLevel       string
	AllowedOrigins []string

	// Inbound auth
	AccessToken     string
	AccessTokenHash string
	TokenScopes     map[string][]string

	// Gating
	IntentClassificationEnabled bool
	IntentFallbackToAll         bool
	IntentPrecedence            string
	StrictContextLimit          bool
	DefaultMaxTools             int
	FilterConfigPath            string

	// Appliance connection
	NASBaseURL    string
	NASAPIKey     string
	NASVerifyTLS  bool
	NASTimeout    time.Duration
	NASMaxRetries int

	// Audit sink
	ClickHouseDSN string
}

// Load reads settings from the environment and validates them.
func Load() (*Settings, error) {
	token, err := envOrFile("NASGATE_ACCESS_TOKEN")
	if err != nil {
		return nil, err
	}

	s := &Settings{
		ListenAddr:     envOrDefault("NASGATE_LISTEN_ADDR", ":8080"),
		LogLevel:       envOrDefault("NASGATE_LOG_LEVEL", "info"),
		AllowedOrigins: parseOrigins(envOrDefault("NASGATE_ALLOWED_ORIGINS", "*")),

		AccessToken:     token,
		AccessTokenHash: strings.TrimSpace(os.Getenv("NASGATE_ACCESS_TOKEN_HASH")),

		IntentClassificationEnabled: envOrDefaultBool("NASGATE_INTENT_CLASSIFICATION_ENABLED", true),
		IntentFallbackToAll:         envOrDefaultBool("NASGATE_INTENT_FALLBACK_TO_ALL", true),
		IntentPrecedence:            strings.ToLower(envOrDefault("NASGATE_INTENT_PRECEDENCE", "intent")),
		StrictContextLimit:          envOrDefaultBool("NASGATE_STRICT_CONTEXT_LIMIT", false),
		DefaultMaxTools:             envOrDefaultInt("NASGATE_MAX_TOOLS", 12),
		FilterConfigPath:            envOrDefault("NASGATE_FILTER_CONFIG", "filter-config.yaml"),

		NASBaseURL:    strings.TrimSpace(os.Getenv("NAS_URL")),
		NASAPIKey:     strings.TrimSpace(os.Getenv("NAS_API_KEY")),
		NASVerifyTLS:  envOrDefaultBool("NAS_VERIFY_TLS", true),
		NASTimeout:    time.Duration(envOrDefaultInt("NAS_HTTP_TIMEOUT_S", 30)) * time.Second,
		NASMaxRetries: envOrDefaultInt("NAS_HTTP_MAX_RETRIES", 3),

		ClickHouseDSN: os.Getenv("CLICKHOUSE_DSN"),
	}

	if raw := strings.TrimSpace(os.Getenv("NASGATE_TOKEN_SCOPES")); raw != "" {
		var mapping map[string][]string
		if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
			return nil, fmt.Errorf("NASGATE_TOKEN_SCOPES contains invalid JSON: %w", err)
		}
		s.TokenScopes = mapping
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	if s.AccessToken == "" && s.AccessTokenHash == "" && len(s.TokenScopes) == 0 {
		return fmt.Errorf("NASGATE_ACCESS_TOKEN, NASGATE_ACCESS_TOKEN_HASH, or NASGATE_TOKEN_SCOPES must be configured")
	}
	if s.IntentPrecedence != "intent" && s.IntentPrecedence != "explicit" {
		return fmt.Errorf("NASGATE_INTENT_PRECEDENCE must be 'intent' or 'explicit', got %q", s.IntentPrecedence)
	}
	if s.NASBaseURL == "" {
		return fmt.Errorf("NAS_URL must be configured")
	}
	if s.NASAPIKey == "" {
		return fmt.Errorf("NAS_API_KEY must be configured")
	}
	return nil
}

func parseOrigins(raw string) []string {
	if raw == "" {
		return []string{"*"}
	}
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// envOrFile reads KEY directly, or the file named by KEY_FILE.
func envOrFile(key string) (string, error) {
	if path := os.Getenv(key + "_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("unable to read %s_FILE: %w", key, err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	return strings.TrimSpace(os.Getenv(key)), nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true")
	}
	return defaultVal
}

// Package auth verifies inbound access tokens and resolves their
// authorization scopes.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthenticated is returned when no valid credential is presented.
var ErrUnauthenticated = errors.New("unauthenticated")

// AdminScope bypasses all per-tool scope checks.
const AdminScope = "admin"

// Scopes is the verified scope set attached to a request.
type Scopes map[string]struct{}

// NewScopes builds a scope set from labels.
func NewScopes(labels ...string) Scopes {
	s := make(Scopes, len(labels))
	for _, l := range labels {
		s[l] = struct{}{}
	}
	return s
}

// Has reports membership of a single scope.
func (s Scopes) Has(scope string) bool {
	_, ok := s[scope]
	return ok
}

// IsAdmin reports whether the universal bypass scope is present.
func (s Scopes) IsAdmin() bool {
	return s.Has(AdminScope)
}

// Intersects reports whether any required label is present.
func (s Scopes) Intersects(required []string) bool {
	for _, r := range required {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Labels returns the scope labels, mainly for logging.
func (s Scopes) Labels() []string {
	labels := make([]string, 0, len(s))
	for l := range s {
		labels = append(labels, l)
	}
	return labels
}

// Config holds the verifier's credential material.
type Config struct {
	// AccessToken is the shared primary token, compared in constant time.
	AccessToken string

	// AccessTokenHash is a bcrypt hash accepted instead of (or alongside)
	// the plain token.
	AccessTokenHash string

	// TokenScopes maps individual tokens to their scope labels. Tokens in
	// this map authenticate with exactly those scopes; the primary token
	// resolves to {admin}.
	TokenScopes map[string][]string
}

// Verifier authenticates requests against configured tokens.
type Verifier struct {
	cfg    Config
	logger *zap.Logger
}

func NewVerifier(cfg Config, logger *zap.Logger) *Verifier {
	return &Verifier{cfg: cfg, logger: logger}
}

// Verify extracts and validates the request credential, returning the
// resolved scope set.
func (v *Verifier) Verify(r *http.Request) (Scopes, error) {
	token, err := ExtractToken(r)
	if err != nil {
		return nil, err
	}

	if labels, ok := v.cfg.TokenScopes[token]; ok {
		return NewScopes(labels...), nil
	}

	if v.cfg.AccessToken != "" &&
		subtle.ConstantTimeCompare([]byte(v.cfg.AccessToken), []byte(token)) == 1 {
		return NewScopes(AdminScope), nil
	}

	if v.cfg.AccessTokenHash != "" &&
		bcrypt.CompareHashAndPassword([]byte(v.cfg.AccessTokenHash), []byte(token)) == nil {
		return NewScopes(AdminScope), nil
	}

	v.logger.Warn("authentication failed: invalid token provided")
	return nil, ErrUnauthenticated
}

// ExtractToken pulls the credential from the Authorization header
// (Bearer scheme, comma-separated candidates supported) with an
// X-Access-Token fallback.
func ExtractToken(r *http.Request) (string, error) {
	for _, header := range r.Header.Values("Authorization") {
		for _, candidate := range strings.Split(header, ",") {
			candidate = strings.TrimSpace(candidate)
			if candidate == "" {
				continue
			}
			scheme, credentials, found := strings.Cut(candidate, " ")
			if !found {
				continue
			}
			if strings.EqualFold(scheme, "Bearer") && credentials != "" {
				return strings.TrimSpace(credentials), nil
			}
		}
	}

	if fallback := r.Header.Get("X-Access-Token"); fallback != "" {
		return fallback, nil
	}

	return "", ErrUnauthenticated
}

// Package auth verifies bearer tokens presented during the WebSocket
// handshake and derives the connection's security level.
//
// Token issuance belongs to the platform's auth service; this package only
// checks signatures and claims against the configured verifier key.
package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
)

// Rejection codes surfaced to the connecting client.
const (
	CodeTokenRequired        = "AUTH_TOKEN_REQUIRED"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeInvalidTokenPayload  = "INVALID_TOKEN_PAYLOAD"
	CodeTokenExpired         = "TOKEN_EXPIRED"
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
)

// Error is an authentication failure with a wire-level rejection code.
type Error struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// ErrorCode extracts the rejection code from err, defaulting to
// AUTHENTICATION_FAILED for unexpected failures.
func ErrorCode(err error) string {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return CodeAuthenticationFailed
}

// rawEnv holds raw env values before post-parse validation.
type rawEnv struct {
	Issuer    string `env:"ROUNDTABLE_AUTH_ISSUER"`
	Audience  string `env:"ROUNDTABLE_AUTH_AUDIENCE"`
	PublicKey string `env:"ROUNDTABLE_AUTH_PUBLIC_KEY"`
}

// Config defines how bearer tokens are verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// Identity is the authenticated caller derived from a valid token.
type Identity struct {
	UserID        string
	Role          string
	SecurityLevel int
}

// tokenClaims is the internal claims type used for JWT parsing.
type tokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// LoadConfigFromEnv reads token verification configuration.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw rawEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse auth env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	if issuer == "" {
		return Config{}, fmt.Errorf("ROUNDTABLE_AUTH_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("ROUNDTABLE_AUTH_AUDIENCE is required")
	}
	if publicKey == "" {
		return Config{}, fmt.Errorf("ROUNDTABLE_AUTH_PUBLIC_KEY is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode auth public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return Config{}, fmt.Errorf("auth public key must be %d bytes", ed25519.PublicKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// VerifyToken validates a bearer token and returns the caller identity.
func VerifyToken(token string, cfg Config) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, &Error{Code: CodeTokenRequired, Message: "authentication token is required"}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PublicKeySize {
		return Identity{}, &Error{Code: CodeAuthenticationFailed, Message: "token verifier is not configured"}
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Identity{}, &Error{Code: CodeInvalidToken, Message: "token signature is invalid"}
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return Identity{}, &Error{Code: CodeInvalidToken, Message: "token issuer mismatch"}
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return Identity{}, &Error{Code: CodeInvalidToken, Message: "token audience mismatch"}
	}

	now := cfg.Now().UTC()
	if parsed.ExpiresAt == nil || !now.Before(parsed.ExpiresAt.Time) {
		return Identity{}, &Error{Code: CodeTokenExpired, Message: "token is expired"}
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time) {
		return Identity{}, &Error{Code: CodeInvalidToken, Message: "token is not valid yet"}
	}

	userID := strings.TrimSpace(parsed.UserID)
	if userID == "" {
		return Identity{}, &Error{Code: CodeInvalidTokenPayload, Message: "token payload has no user id"}
	}

	role := strings.ToLower(strings.TrimSpace(parsed.Role))
	return Identity{
		UserID:        userID,
		Role:          role,
		SecurityLevel: SecurityLevelForRole(role),
	}, nil
}

// SecurityLevelForRole maps a role claim to its security level.
func SecurityLevelForRole(role string) int {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "admin":
		return 5
	case "operator":
		return 4
	case "moderator":
		return 3
	case "user":
		return 2
	default:
		return 1
	}
}

func audienceContains(audience jwt.ClaimStrings, expected string) bool {
	for _, value := range audience {
		if value == expected {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, encoding := range encodings {
		decoded, err := encoding.DecodeString(value)
		if err == nil {
			return decoded, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

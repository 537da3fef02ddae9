// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

package api

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/mkessl/vigilium/internal/config"
)

// Claims are the JWT claims issued at login.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager creates and validates access tokens. HMAC-SHA256 only;
// tokens with any other algorithm are rejected to prevent algorithm
// confusion.
type JWTManager struct {
	secret  []byte
	expiry  time.Duration
	user    string
	pwdHash []byte
}

// NewJWTManager creates a token manager from the security configuration.
func NewJWTManager(cfg *config.SecurityConfig) (*JWTManager, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT secret is required but was empty")
	}
	expiry := cfg.TokenExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &JWTManager{
		secret:  []byte(cfg.JWTSecret),
		expiry:  expiry,
		user:    cfg.AdminUsername,
		pwdHash: []byte(cfg.AdminPasswordHash),
	}, nil
}

// Authenticate checks login credentials. The bcrypt comparison always
// runs, even for unknown usernames, so response timing does not leak
// which usernames exist.
func (m *JWTManager) Authenticate(username, password string) bool {
	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(m.user)) == 1
	pwdErr := bcrypt.CompareHashAndPassword(m.pwdHash, []byte(password))
	return userMatch && pwdErr == nil
}

// GenerateToken creates a signed token for an authenticated user.
func (m *JWTManager) GenerateToken(username, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates a token string and returns its claims.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// TokenExpiry returns the configured token lifetime.
func (m *JWTManager) TokenExpiry() time.Duration {
	return m.expiry
}

// HashPassword produces a bcrypt hash suitable for
// security.admin_password_hash. Exposed for the hash-generation CLI
// path.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

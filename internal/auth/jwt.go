// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth verifies bearer tokens and carries the caller's identity
// through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// LocalUser owns every session when authentication is disabled.
const LocalUser = "local"

var (
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Claims are the token claims warden reads. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// Config selects how tokens are verified. With neither Secret nor JWKSURL
// set, authentication is disabled and every caller is LocalUser.
type Config struct {
	Secret   string
	JWKSURL  string
	Issuer   string
	Audience string
}

// Verifier checks a raw token and returns the user id it names.
type Verifier interface {
	Verify(token string) (string, error)
}

// NewVerifier builds the verifier cfg describes.
func NewVerifier(ctx context.Context, cfg Config) (Verifier, error) {
	switch {
	case cfg.JWKSURL != "":
		return NewJWKSValidator(ctx, cfg)
	case cfg.Secret != "":
		return NewSecretValidator(cfg), nil
	default:
		return Disabled{}, nil
	}
}

// Disabled accepts every request as LocalUser.
type Disabled struct{}

func (Disabled) Verify(string) (string, error) { return LocalUser, nil }

// JWTValidator validates JWTs against a shared secret or a JWKS endpoint.
type JWTValidator struct {
	keyfunc  jwt.Keyfunc
	methods  []string
	issuer   string
	audience string
}

// NewSecretValidator verifies HS256 tokens signed with cfg.Secret.
func NewSecretValidator(cfg Config) *JWTValidator {
	secret := []byte(cfg.Secret)
	return &JWTValidator{
		keyfunc:  func(*jwt.Token) (interface{}, error) { return secret, nil },
		methods:  []string{jwt.SigningMethodHS256.Alg()},
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}
}

// NewJWKSValidator fetches and caches keys from cfg.JWKSURL.
func NewJWKSValidator(ctx context.Context, cfg Config) (*JWTValidator, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	k, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}
	return &JWTValidator{
		keyfunc:  k.Keyfunc,
		methods:  []string{"RS256", "RS384", "RS512", "ES256", "ES384", "EdDSA"},
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

// Validate parses tokenString and returns its claims.
func (v *JWTValidator) Validate(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods(v.methods), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyfunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// Verify implements Verifier.
func (v *JWTValidator) Verify(tokenString string) (string, error) {
	claims, err := v.Validate(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// Sign issues an HS256 token for userID. Used by the CLI and tests.
func Sign(secret, userID string, ttl time.Duration, audience ...string) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	if len(audience) > 0 {
		claims.Audience = slices.Clone(audience)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the token query parameter that browsers use for
// websocket upgrades.
func TokenFromRequest(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

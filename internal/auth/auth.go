// Package auth validates caller bearer tokens against the identity server's
// RSA public key.
package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrUnauthorized = errors.New("Not Authorized")

const maxCacheTTL = 5 * time.Minute

// NormalizePEM turns literal "\n" sequences (as found in env files) into newlines.
func NormalizePEM(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}

type Verifier struct {
	key   *rsa.PublicKey
	cache *lru.Cache[string, time.Time]
	now   func() time.Time
}

// NewVerifier parses publicKeyPEM. With an empty key every non-empty token is accepted.
func NewVerifier(publicKeyPEM string, cacheSize int) (*Verifier, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, time.Time](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("token cache: %w", err)
	}
	v := &Verifier{cache: cache, now: time.Now}

	pem := strings.TrimSpace(NormalizePEM(publicKeyPEM))
	if pem == "" {
		return v, nil
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	v.key = key
	return v, nil
}

// Enforcing reports whether tokens are signature checked.
func (v *Verifier) Enforcing() bool { return v.key != nil }

// StripBearer returns the token part of an "Authorization" header value.
func StripBearer(header string) string {
	token := strings.TrimSpace(header)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

// Verify accepts a raw token or an "Authorization" header value.
func (v *Verifier) Verify(token string) error {
	token = StripBearer(token)
	if token == "" {
		return ErrUnauthorized
	}
	if v.key == nil {
		return nil
	}

	now := v.now()
	if until, ok := v.cache.Get(token); ok && now.Before(until) {
		return nil
	}

	claims := jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil {
		v.cache.Remove(token)
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	until := now.Add(maxCacheTTL)
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(until) {
		until = claims.ExpiresAt.Time
	}
	v.cache.Add(token, until)
	return nil
}

type ctxKey struct{}

func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKey{}, token)
}

// TokenFrom returns the caller's verified bearer token, if any.
func TokenFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}

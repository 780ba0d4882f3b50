// Package auth verifies caller tokens and maps them to wallet owners.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"swap-relay/internal/domain"
	"swap-relay/internal/solana"
)

// Verifier maps a bearer token to the owner it authenticates.
// Failures wrap domain.ErrUnauthorized.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// JWTConfig configures HMAC signed tokens. The owner is the "sub" claim.
type JWTConfig struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

// JWTVerifier verifies HS256 tokens.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
	cfg    JWTConfig
}

// NewJWTVerifier creates a verifier. The secret must not be empty.
func NewJWTVerifier(cfg JWTConfig) (*JWTVerifier, error) {
	secret := []byte(strings.TrimSpace(cfg.Secret))
	if len(secret) == 0 {
		return nil, errors.New("auth: jwt secret not configured")
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 30 * time.Second
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &JWTVerifier{secret: secret, parser: jwt.NewParser(opts...), cfg: cfg}, nil
}

// Verify returns the owner of token.
func (v *JWTVerifier) Verify(_ context.Context, token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("%w: token invalid", domain.ErrUnauthorized)
	}

	owner := claims.Subject
	if _, err := solana.ParsePublicKey(owner); err != nil {
		return "", fmt.Errorf("%w: subject is not a wallet address", domain.ErrUnauthorized)
	}
	return owner, nil
}

// Issue signs a token for owner valid for ttl.
func (v *JWTVerifier) Issue(owner string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   owner,
		Issuer:    v.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if v.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{v.cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token of an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

var _ Verifier = (*JWTVerifier)(nil)

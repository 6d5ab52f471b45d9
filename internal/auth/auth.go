package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aaronwang/campus-auction/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for malformed, expired or foreign tokens
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims carried by a bearer token
type Claims struct {
	Nickname string `json:"nickname"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies caller identities
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a new token service
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

// Issue generates a signed token for the identity
func (s *TokenService) Issue(id models.Identity) (string, error) {
	if id.ID == "" {
		return "", fmt.Errorf("identity id cannot be empty")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Nickname: id.Nickname,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies the token and extracts the identity
func (s *TokenService) Parse(tokenString string) (models.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return models.Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return models.Identity{}, ErrInvalidToken
	}
	return models.Identity{ID: claims.Subject, Nickname: claims.Nickname}, nil
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying the caller identity
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the caller identity stored by WithIdentity
func FromContext(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(models.Identity)
	return id, ok
}

// Package auth supplies the bearer credentials attached to task API
// requests and validates them on the serving side.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// TokenProvider hands out the opaque bearer credential for a request.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// HeaderValue returns the Authorization header value for p.
func HeaderValue(ctx context.Context, p TokenProvider) (string, error) {
	token, err := p.Token(ctx)
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}

// StaticProvider always returns the same token.
type StaticProvider struct {
	token string
}

// NewStaticProvider creates a provider for a fixed token.
func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{token: strings.TrimSpace(token)}
}

// Token implements TokenProvider.
func (p *StaticProvider) Token(context.Context) (string, error) {
	if p.token == "" {
		return "", ErrMissingToken
	}
	return p.token, nil
}

// SigningProvider mints short-lived HS256 tokens and caches them until
// shortly before they expire.
type SigningProvider struct {
	config   *Config
	clientID string
	now      func() time.Time

	mu        sync.Mutex
	cached    string
	expiresAt time.Time
}

// NewSigningProvider creates a provider that signs tokens with cfg.JWTSecret.
func NewSigningProvider(cfg *Config) (*SigningProvider, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required: %w", ErrMissingToken)
	}
	return &SigningProvider{
		config:   cfg,
		clientID: uuid.NewString(),
		now:      time.Now,
	}, nil
}

// Token implements TokenProvider.
func (p *SigningProvider) Token(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.cached != "" && now.Add(refreshMargin).Before(p.expiresAt) {
		return p.cached, nil
	}

	token, expiresAt, err := p.generateToken(now)
	if err != nil {
		return "", err
	}
	p.cached = token
	p.expiresAt = expiresAt
	return token, nil
}

func (p *SigningProvider) generateToken(now time.Time) (string, time.Time, error) {
	duration := p.config.TokenDuration
	if duration <= 0 {
		duration = defaultDuration
	}
	issuer := p.config.Issuer
	if issuer == "" {
		issuer = defaultIssuer
	}
	expiresAt := now.Add(duration)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ClientID: p.clientID,
		Type:     tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.config.Subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString([]byte(p.config.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validator checks bearer tokens presented to the task server.
type Validator struct {
	config *Config
}

// NewValidator creates a validator. With neither a secret nor a static
// hash configured it is disabled and Middleware admits every request.
func NewValidator(cfg *Config) *Validator {
	return &Validator{config: cfg}
}

// Enabled reports whether any credential is configured.
func (v *Validator) Enabled() bool {
	return v.config.JWTSecret != "" || v.config.StaticTokenHash != ""
}

// ValidateToken accepts a signed access token or the static token.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	if v.config.StaticTokenHash != "" {
		err := bcrypt.CompareHashAndPassword([]byte(v.config.StaticTokenHash), []byte(tokenString))
		if err == nil {
			return &Claims{Type: "static"}, nil
		}
	}

	if v.config.JWTSecret == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(v.config.JWTSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Type != tokenTypeAccess {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashStaticToken returns the bcrypt hash to configure for a static token.
func HashStaticToken(token string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hashed), nil
}

// Fingerprint returns a short, non-reversible identifier of a token for logs.
func Fingerprint(token string) string {
	hash := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(hash[:])[:12]
}

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims carried by self-signed client tokens.
type Claims struct {
	ClientID string `json:"client_id,omitempty"`
	Type     string `json:"type"`
	jwt.RegisteredClaims
}

// Config configures token signing and validation.
type Config struct {
	JWTSecret     string
	Subject       string
	Issuer        string
	TokenDuration time.Duration

	// StaticTokenHash is a bcrypt hash of an opaque token accepted in
	// addition to signed tokens.
	StaticTokenHash string
}

const (
	tokenTypeAccess = "access"
	defaultIssuer   = "hivestream"
	defaultDuration = 15 * time.Minute

	// refreshMargin is how long before expiry a cached token is replaced.
	refreshMargin = 30 * time.Second
)

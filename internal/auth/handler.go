package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const claimsKey = "auth_claims"

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", ErrInvalidToken
	}
	return parts[1], nil
}

// Middleware rejects requests without a valid bearer token. A validator
// with nothing configured lets every request through.
func Middleware(v *Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !v.Enabled() {
			c.Next()
			return
		}

		token, err := BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			if errors.Is(err, ErrMissingToken) {
				respondWithError(c, http.StatusUnauthorized, "Authorization header required")
				return
			}
			respondWithError(c, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		claims, err := v.ValidateToken(token)
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				respondWithError(c, http.StatusUnauthorized, "Token expired")
				return
			}
			respondWithError(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom returns the claims stored by Middleware.
func ClaimsFrom(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

func respondWithError(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, gin.H{"error": message})
}

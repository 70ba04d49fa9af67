package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/memtensor/manageusers/pkg/errors"
)

// Token scopes understood by the admin API
const (
	ScopeRead  = "accounts:read"
	ScopeWrite = "accounts:write"
)

const tokenIssuer = "manageusers"

// Claims represents JWT claims. Scope is a space separated list.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// HasScope reports whether the token grants scope
func (c *Claims) HasScope(scope string) bool {
	for _, s := range strings.Fields(c.Scope) {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenIssuer signs and verifies operator tokens with a shared HMAC secret
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates an issuer; an empty secret is rejected
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.NewConfigInvalidError("api.jwt_secret must be set")
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}, nil
}

// Issue generates a token for operator with the given scopes
func (ti *TokenIssuer) Issue(operator string, scopes []string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ti.ttl)
	claims := &Claims{
		Scope: strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   operator,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign JWT: %w", err)
	}
	return tokenString, expiresAt, nil
}

// Validate verifies a token and returns its claims
func (ti *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ti.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.NewUnauthorizedError(fmt.Sprintf("invalid token: %v", err))
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, errors.NewUnauthorizedError("invalid token")
	}
	return claims, nil
}

// jwtAuthMiddleware requires a valid bearer token on every non-public route
func (s *Server) jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isPublicEndpoint(c.Request.URL.Path) {
			c.Next()
			return
		}

		tokenString := extractTokenFromHeader(c.GetHeader("Authorization"))
		if tokenString == "" {
			s.abortWithError(c, errors.NewUnauthorizedError("no token provided"))
			return
		}

		claims, err := s.tokens.Validate(tokenString)
		if err != nil {
			s.abortWithError(c, err)
			return
		}

		c.Set("operator", claims.Subject)
		c.Set("claims", claims)
		c.Next()
	}
}

// requireScope rejects tokens lacking scope
func (s *Server) requireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := c.Get("claims")
		if !ok || !claims.(*Claims).HasScope(scope) {
			s.abortWithError(c, errors.NewForbiddenError(fmt.Sprintf("token lacks scope %s", scope)))
			return
		}
		c.Next()
	}
}

func extractTokenFromHeader(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) > len(prefix) && strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return strings.TrimSpace(authHeader[len(prefix):])
	}
	return ""
}

func isPublicEndpoint(path string) bool {
	switch path {
	case "/health", "/metrics", "/openapi.json":
		return true
	default:
		return false
	}
}

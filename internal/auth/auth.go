// Package auth resolves the calling user from an HS256 bearer token.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/akylbek/payment-system/payment-verification/internal/models"
)

const identityKey = "identity"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims carries the identity fields issued by the identity provider. The subject is the user id.
type Claims struct {
	Email       string `json:"email"`
	DisplayName string `json:"name,omitempty"`
	IsReviewer  bool   `json:"is_reviewer"`
	jwt.RegisteredClaims
}

type Provider struct {
	secret []byte
}

func NewProvider(secret string) *Provider {
	return &Provider{secret: []byte(secret)}
}

// Issue signs a token for id. Used by the token command and tests.
func (p *Provider) Issue(id models.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:       id.Email,
		DisplayName: id.DisplayName,
		IsReviewer:  id.IsReviewer,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// Parse validates an Authorization header value and returns the identity it carries.
func (p *Provider) Parse(header string) (models.Identity, error) {
	raw := strings.TrimSpace(header)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		raw = strings.TrimSpace(raw[7:])
	}
	if raw == "" {
		return models.Identity{}, ErrMissingToken
	}

	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid || claims.Subject == "" {
		return models.Identity{}, ErrInvalidToken
	}

	return models.Identity{
		UserID:      claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		IsReviewer:  claims.IsReviewer,
	}, nil
}

// Middleware rejects unauthenticated requests and stores the identity on the context.
func (p *Provider) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := p.Parse(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"code":    "unauthorized",
				"error":   err.Error(),
			})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireReviewer must run after Middleware.
func RequireReviewer() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CurrentUser(c)
		if !ok || !id.IsReviewer {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"code":    "forbidden",
				"error":   "reviewer access required",
			})
			return
		}
		c.Next()
	}
}

func CurrentUser(c *gin.Context) (models.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return models.Identity{}, false
	}
	id, ok := v.(models.Identity)
	return id, ok
}

// WithIdentity stores id on the context. Handler tests use it in place of a signed token.
func WithIdentity(c *gin.Context, id models.Identity) {
	c.Set(identityKey, id)
}

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/relaykit/relay-api/pkg/auth"
	apperrors "github.com/relaykit/relay-api/pkg/errors"
	"github.com/relaykit/relay-api/pkg/httputil"
	"github.com/relaykit/relay-api/pkg/security"
)

const (
	ContextCaller = "caller"
	ContextRole   = "role"

	headerAPIKey = "X-API-Key"
)

type AuthMiddleware struct {
	jwt          auth.JWTService
	hasher       security.KeyHasher
	apiKeyHashes map[string]string
}

func NewAuthMiddleware(jwtSvc auth.JWTService, hasher security.KeyHasher, apiKeyHashes map[string]string) *AuthMiddleware {
	return &AuthMiddleware{
		jwt:          jwtSvc,
		hasher:       hasher,
		apiKeyHashes: apiKeyHashes,
	}
}

// Authenticate accepts either a bearer JWT or a machine API key and sets
// caller identity in the request context. State is never touched before
// this check passes.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(headerAPIKey); key != "" {
			caller, ok := m.matchAPIKey(key)
			if !ok {
				httputil.RespondWithError(c, apperrors.Unauthorized(nil))
				c.Abort()
				return
			}
			c.Set(ContextCaller, caller)
			c.Set(ContextRole, auth.RoleService)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httputil.RespondWithError(c, apperrors.Unauthorized(nil))
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.RespondWithError(c, apperrors.Unauthorized(nil))
			c.Abort()
			return
		}

		claims, err := m.jwt.ValidateToken(parts[1])
		if err != nil {
			httputil.RespondWithError(c, apperrors.Unauthorized(err))
			c.Abort()
			return
		}

		c.Set(ContextCaller, claims.Subject)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// RequireAdmin gates the operational endpoints (dispatch, reconcile,
// health, dead-letter requeue) to admin tokens.
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != auth.RoleAdmin {
			httputil.RespondWithError(c, apperrors.Forbidden(nil))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (m *AuthMiddleware) matchAPIKey(key string) (string, bool) {
	for caller, hash := range m.apiKeyHashes {
		if m.hasher.Compare(hash, key) == nil {
			return caller, true
		}
	}
	return "", false
}

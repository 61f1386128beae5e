package middleware

import (
	"net/http"
	"strings"

	"classengage-backend/internal/services"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserID   = "user_id"
	ContextIdentity = "identity"

	ClickerKeyHeader = "X-Clicker-Hub-Key"
)

// JWTAuth accepts the bearer token in the Authorization header or, for
// EventSource and websocket clients that cannot set headers, the access_token
// query parameter.
func JWTAuth(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("access_token")
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
				return
			}
			token = parts[1]
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		identity, err := authService.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(ContextUserID, identity.UserID)
		c.Set(ContextIdentity, identity)
		c.Next()
	}
}

// RequireCapability passes when the identity holds any of the capabilities.
// It must run after JWTAuth.
func RequireCapability(capabilities ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if ok {
			for _, capability := range capabilities {
				if identity.Can(capability) {
					c.Next()
					return
				}
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing capability " + strings.Join(capabilities, " or ")})
	}
}

func ClickerHubAuth(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authService.VerifyClickerKey(c.GetHeader(ClickerKeyHeader)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid clicker hub key"})
			return
		}
		c.Next()
	}
}

func IdentityFrom(c *gin.Context) (*services.Identity, bool) {
	v, ok := c.Get(ContextIdentity)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*services.Identity)
	return identity, ok
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	"outpatient-backend/internal/models"
	"outpatient-backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

// Context keys set by AuthMiddleware.
const (
	ClaimsKey = "claims"
	UserIDKey = "userID"
	RoleKey   = "role"
)

// Authenticator resolves a bearer token into live session claims.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*utils.Claims, error)
}

func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. Read the Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.APIResponse(c, http.StatusUnauthorized, false, "Authorization token missing", nil)
			c.Abort()
			return
		}

		// 2. It must be "Bearer <token>"
		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			utils.APIResponse(c, http.StatusUnauthorized, false, "Authorization header must be Bearer <token>", nil)
			c.Abort()
			return
		}

		// 3. Validate the token and the session behind it
		claims, err := auth.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			utils.APIError(c, err)
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(UserIDKey, claims.UserID)
		c.Set(RoleKey, models.Role(claims.Role))

		c.Next()
	}
}

// RequireRoles lets the listed roles through. Master may access every
// department.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := c.Get(RoleKey)
		if !ok {
			utils.APIResponse(c, http.StatusForbidden, false, "Access denied", nil)
			c.Abort()
			return
		}

		current, _ := role.(models.Role)
		if current == models.RoleMaster {
			c.Next()
			return
		}
		for _, r := range roles {
			if current == r {
				c.Next()
				return
			}
		}

		utils.APIResponse(c, http.StatusForbidden, false, "Access denied for role "+string(current), nil)
		c.Abort()
	}
}

// CurrentUserID returns the authenticated staff ID.
func CurrentUserID(c *gin.Context) uint64 {
	return c.GetUint64(UserIDKey)
}

// CurrentClaims returns the claims of the authenticated session.
func CurrentClaims(c *gin.Context) *utils.Claims {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*utils.Claims)
	return claims
}

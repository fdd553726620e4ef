package middlewares

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/pathway_backend/appctx"
	"github.com/mmdatafocus/pathway_backend/entitlement"
)

type AuthMode int

const (
	// AuthRequired rejects a missing credential with 401 and an invalid one with 403.
	AuthRequired AuthMode = iota
	// AuthOptional lets the request through without claims when the credential is missing or invalid.
	AuthOptional
)

type TokenVerifier interface {
	Verify(token string) (*entitlement.Claims, error)
}

// Entitlement verifies the bearer credential and attaches its claims to the request context.
// Attached claims are not a grant: handlers still scope them to the requested report.
func Entitlement(verifier TokenVerifier, mode AuthMode) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request.Header.Get("Authorization"))
		if token == "" {
			if mode == AuthRequired {
				abortJSON(c, http.StatusUnauthorized, "authentication required")
				return
			}
			c.Next()
			return
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			if mode == AuthRequired {
				abortJSON(c, http.StatusForbidden, "invalid or expired credential")
				return
			}
			c.Next()
			return
		}

		c.Request = c.Request.WithContext(appctx.Set(c.Request.Context(), appctx.ContextKeyEntitlement, claims))
		c.Next()
	}
}

func ClaimsFromContext(ctx context.Context) *entitlement.Claims {
	claims, _ := appctx.Get[*entitlement.Claims](ctx, appctx.ContextKeyEntitlement)
	return claims
}

func bearerToken(header string) string {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func abortJSON(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
}

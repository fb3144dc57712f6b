package middleware

import (
	"net/http"
	"strings"

	"homehelp/models"
	"homehelp/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PrincipalKey is the gin context key holding the signed-in models.Principal.
const PrincipalKey = "principal"

// JWTAuthMiddleware validates the bearer token issued by the auth service and
// stores the customer principal in the context. The raw token is kept so it
// can be forwarded to the preference and availability services.
func JWTAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, utils.ErrorResponse{
				Message: "Missing or invalid Authorization header",
				Kind:    string(models.ErrKindAuthRequired),
			})
			return
		}

		customerID, err := utils.ExtractIDFromToken(tokenString)
		if err != nil {
			utils.GetLogger().Debug("JWTAuthMiddleware: rejected token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, utils.ErrorResponse{
				Message: "Invalid token",
				Kind:    string(models.ErrKindAuthRequired),
			})
			return
		}

		c.Set(PrincipalKey, models.Principal{CustomerID: customerID, Token: tokenString})
		c.Next()
	}
}

// bearerToken reads the Authorization header. Websocket clients that cannot
// set headers may pass access_token as a query parameter instead.
func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	if c.IsWebsocket() {
		return c.Query("access_token")
	}
	return ""
}

// PrincipalFrom returns the principal set by JWTAuthMiddleware. The zero
// value is returned on unauthenticated routes.
func PrincipalFrom(c *gin.Context) models.Principal {
	if v, ok := c.Get(PrincipalKey); ok {
		if p, ok := v.(models.Principal); ok {
			return p
		}
	}
	return models.Principal{}
}

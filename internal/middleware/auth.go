package middleware

import (
	"net/http"

	"flagplane/internal/repository"
	"flagplane/pkg/constraints"
	"flagplane/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const SDKKeyHeader = "X-SDK-Key"

// SDKAuthMiddleware admits SDK clients whose API key is valid for the
// requested env.
func SDKAuthMiddleware(repo repository.SDKRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(SDKKeyHeader)
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}
		env := c.DefaultQuery("env", constraints.DefaultEnv)

		ok, err := repo.ValidateAPIKey(c.Request.Context(), apiKey, env)
		if err != nil {
			logger.Error("sdk key lookup failed", zap.String("env", env), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "key lookup unavailable"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

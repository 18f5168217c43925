package api

import (
	"flagplane/internal/metrics"
	"flagplane/internal/middleware"
	"flagplane/internal/repository"

	"github.com/gin-gonic/gin"
)

type RouterOptions struct {
	DevPass     bool
	CorsOrigins []string
}

func RegisterRoutes(
	featureHandler *FeatureHandler,
	streamHandler *StreamHandler,
	authHandler *AuthHandler,
	verifier middleware.TokenVerifier,
	sdkRepo repository.SDKRepository,
	limiter *middleware.RateLimiter,
	opts RouterOptions,
) *gin.Engine {
	r := gin.New()

	r.Use(
		middleware.Cors(opts.CorsOrigins),
		middleware.RequestID(),
		middleware.TraceMiddleware(),
		middleware.GinZapLogger(),
		middleware.GinZapRecovery(),
		middleware.HttpMiddleware(),
	)
	_ = r.SetTrustedProxies(nil)

	r.GET("/health", featureHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	jwtAuth := middleware.JWTMiddleware(verifier, opts.DevPass)

	auth := r.Group("/v1/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.GET("/me", jwtAuth, authHandler.GetProfile)
		auth.POST("/logout", jwtAuth, authHandler.Logout)
	}

	stream := r.Group("/v1/stream")
	stream.Use(middleware.SDKAuthMiddleware(sdkRepo))
	{
		stream.GET("/watch", streamHandler.WatchFeature)
		stream.GET("/snapshot", streamHandler.FetchAll)
	}

	admin := r.Group("/v1/admin")
	admin.Use(jwtAuth)
	{
		admin.GET("/stream", streamHandler.DashboardWatch)
	}

	protected := r.Group("/v1")
	protected.Use(jwtAuth)

	writeLimiter := limiter.Middleware()
	{
		protected.POST("/feature", writeLimiter, featureHandler.WriteFeature)
		protected.GET("/features", featureHandler.ListFeatures)
		protected.GET("/feature/:key", featureHandler.GetFeature)
		protected.GET("/feature/:key/audits", featureHandler.GetFeatureAudits)
		protected.POST("/feature/:key/rollback", writeLimiter, featureHandler.RollbackFeature)
		protected.POST("/feature/:key/evaluate", featureHandler.EvaluateFeature)
	}
	return r
}

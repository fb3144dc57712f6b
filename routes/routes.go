package routes

import (
	"net/http"
	"time"

	"homehelp/handlers"
	"homehelp/middleware"
	"homehelp/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterDiscoveryRoutes registers the customer discovery endpoints. All of
// them require a signed-in customer.
func RegisterDiscoveryRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	api := r.Group("/api/discovery")
	api.Use(middleware.JWTAuthMiddleware())
	{
		api.POST("/session", hb.OpenSessionHandler)
		api.DELETE("/session", hb.CloseSessionHandler)
		api.GET("/state", hb.GetStateHandler)
		api.GET("/ws", hb.DeviceSocketHandler)

		loc := api.Group("/location")
		loc.POST("/auto", hb.ResolveAutoHandler)
		loc.POST("/manual", hb.ResolveManualHandler)
		loc.POST("/current", hb.UseCurrentLocationHandler)
		loc.POST("/search", hb.SearchTextHandler)
		loc.GET("/suggestions", hb.SuggestionsHandler)
		loc.POST("/select", hb.SelectSearchResultHandler)

		api.POST("/settings/open", hb.OpenSettingsHandler)

		saved := api.Group("/saved")
		saved.GET("", hb.ListSavedHandler)
		saved.POST("", hb.SaveLocationHandler)
		saved.POST("/use", hb.UseSavedHandler)
		saved.DELETE("/:id", hb.RemoveSavedHandler)

		api.POST("/query", hb.SetQueryHandler)
		api.POST("/retry", hb.RetryHandler)
	}
}

// RegisterHealthRoute registers a health-check endpoint reporting the last
// backing-service probe.
func RegisterHealthRoute(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "services": utils.GetHealthStatus()})
	})
}

// RegisterMetricsRoute exposes Prometheus metrics.
func RegisterMetricsRoute(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// RegisterRoutes centralizes registration of all endpoints and middleware.
func RegisterRoutes(r *gin.Engine, hb *handlers.HandlerBundle) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	RegisterHealthRoute(r)
	RegisterMetricsRoute(r)
	RegisterDiscoveryRoutes(r, hb)
}

package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/axellelanca/linkcloak/internal/auth"
)

// NewRouter builds the gin engine with middleware and every route mounted.
func NewRouter(d Dependencies, trustedProxies []string) (*gin.Engine, error) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	router := gin.New()
	if err := router.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	router.Use(RequestID(), RequestLogger(d.Logger.Named("http")), Recovery(d.Logger))

	SetupRoutes(router, d)
	return router, nil
}

// SetupRoutes mounts the routes on router.
func SetupRoutes(router *gin.Engine, d Dependencies) {
	router.GET("/health", HealthCheckHandler(d.Recorder))

	if d.Codes != nil {
		router.GET("/extension/auth", ExtensionAuthPageHandler(d))
	}

	if d.Tokens != nil {
		api := router.Group("/api/v1")
		{
			private := api.Group("", auth.RequireBearer(d.Tokens))
			private.POST("/links", CreateLinkHandler(d))
			private.GET("/links/:slug/stats", LinkStatsHandler(d))

			if d.Codes != nil {
				private.POST("/extension/codes", IssueCodeHandler(d))
				api.POST("/extension/exchange", ExchangeCodeHandler(d))
			}
		}
	}

	// cloaked links live at the root, e.g. https://go.example/deal1
	router.GET("/:slug", RedirectHandler(d))
}

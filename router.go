package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"voiceonboard/api/config"
	"voiceonboard/api/handlers"
	"voiceonboard/api/middleware"
)

type routerDeps struct {
	cfg        config.Config
	logger     *zap.Logger
	onboarding *handlers.OnboardingHandlers
	funnel     *handlers.FunnelHandlers
	admin      *handlers.AdminHandlers
	metrics    http.Handler
}

func newRouter(d routerDeps) *gin.Engine {
	if d.metrics == nil {
		d.metrics = promhttp.Handler()
	}

	r := gin.New()
	r.Use(middleware.RequestLogger(d.logger), gin.Recovery())
	r.Use(middleware.CORSMiddleware(d.cfg.FrontendOrigin))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(d.metrics))

	api := r.Group("/api")
	{
		api.GET("/steps", d.onboarding.ListSteps)

		api.POST("/admin/login", d.admin.Login)
		api.POST("/admin/logout", d.admin.Logout)

		// Mobile app endpoints
		app := api.Group("/onboarding")
		app.Use(middleware.APIKeyRequired(d.cfg.AppAPIKey))
		{
			app.POST("/events", d.onboarding.TrackStepEvents)
			app.POST("/profile", d.onboarding.SaveProfile)
		}

		// Dashboard endpoints
		dashboard := api.Group("/")
		dashboard.Use(middleware.AdminRequired(d.admin.Tokens, d.logger))
		{
			dashboard.GET("/stats/funnel", d.funnel.GetFunnel)
			dashboard.GET("/profiles/:userId", d.onboarding.GetProfile)
		}
	}
	return r
}

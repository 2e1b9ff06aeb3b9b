package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/ridesafe/ridesafe-api/internal/handler"
	"github.com/ridesafe/ridesafe-api/internal/middleware"
	"github.com/ridesafe/ridesafe-api/internal/models"
	"github.com/ridesafe/ridesafe-api/internal/service"
	"github.com/ridesafe/ridesafe-api/pkg/config"
	"github.com/ridesafe/ridesafe-api/pkg/logger"
	corsmiddleware "github.com/ridesafe/ridesafe-api/pkg/middleware/cors"
	reqidmiddleware "github.com/ridesafe/ridesafe-api/pkg/middleware/requestid"
)

type routes struct {
	auth           *handler.AuthHandler
	profiles       *handler.ProfileHandler
	admissions     *handler.AdmissionHandler
	changeRequests *handler.ChangeRequestHandler
	adminCodes     *handler.AdminCodeHandler
	stats          *handler.StatsHandler
	exports        *handler.ExportHandler
	realtime       *handler.RealtimeHandler
	metrics        *handler.MetricsHandler
	validator      middleware.TokenValidator
}

func newRouter(cfg *config.Config, logr *zap.Logger, metrics *service.MetricsService, h routes) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics, cfg.APIPrefix+"/realtime/ws"))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	authGroup := api.Group("/auth")
	authGroup.POST("/register", h.auth.Register)
	authGroup.POST("/login", h.auth.Login)
	authGroup.POST("/verify-email", h.auth.VerifyEmail)
	authGroup.POST("/forgot-password", h.auth.ForgotPassword)
	authGroup.POST("/reset-password", h.auth.ResetPassword)
	api.POST("/admin-codes/validate", h.adminCodes.Validate)
	if h.exports != nil {
		api.GET("/exports/:token", h.exports.Download)
	}

	secured := api.Group("")
	secured.Use(middleware.JWT(h.validator))
	secured.POST("/auth/logout", h.auth.Logout)
	secured.GET("/auth/me", h.auth.Me)
	secured.POST("/auth/resend-verification", h.auth.ResendVerification)
	secured.GET("/profiles/me", h.profiles.Mine)
	secured.GET("/profiles/me/:role", h.profiles.MineByRole)
	secured.GET("/realtime/ws", h.realtime.Connect)

	guardian := secured.Group("")
	guardian.Use(middleware.RequireRole(models.RoleUser))
	guardian.POST("/admissions", h.admissions.Submit)
	guardian.GET("/admissions/me", h.admissions.Mine)
	guardian.POST("/change-requests", h.changeRequests.Submit)
	guardian.GET("/change-requests/me", h.changeRequests.Mine)

	admin := secured.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	admin.GET("/users", h.profiles.List)
	admin.GET("/users/:id", h.profiles.Get)
	admin.PATCH("/users/:id", h.profiles.Update)
	admin.GET("/admissions", h.admissions.List)
	admin.POST("/admissions/:id/approve", h.admissions.Approve)
	admin.POST("/admissions/:id/reject", h.admissions.Reject)
	admin.GET("/change-requests", h.changeRequests.List)
	admin.POST("/change-requests/:id/approve", h.changeRequests.Approve)
	admin.POST("/change-requests/:id/reject", h.changeRequests.Reject)
	admin.GET("/admin-codes", h.adminCodes.List)
	admin.POST("/admin-codes", h.adminCodes.Create)
	admin.POST("/admin-codes/:code/deactivate", h.adminCodes.Deactivate)
	admin.DELETE("/admin-codes/:code", h.adminCodes.Delete)
	admin.GET("/stats", h.stats.Stats)
	admin.GET("/system-metrics", h.stats.System)
	if h.exports != nil {
		admin.POST("/exports/admissions", h.exports.Admissions)
	}

	return r
}

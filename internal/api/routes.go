package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cvforge/internal/api/middleware"
	"cvforge/internal/auth"
	"cvforge/internal/config"
	"cvforge/internal/cv"
	"cvforge/internal/storage"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *gorm.DB,
	asynqClient *asynq.Client,
	authService *auth.AuthService,
	redisClient *redis.Client,
	logger *slog.Logger,
	storageClient *storage.Client,
) {
	cvService := cv.NewService(db)

	cvHandler := NewCVHandler(cvService, asynqClient, storageClient, logger, cfg.API.PublicBaseURL)
	authHandler := NewAuthHandler(db, authService, cvService, redisClient, logger, cfg.Auth.LoginRatePerH, cfg.Auth.LockThreshold, cfg.Auth.LockTTL)
	userHandler := NewUserHandler(db, cvService, storageClient, redisClient, logger)
	publicHandler := NewPublicHandler(cvService, redisClient, logger)
	assetHandler := NewAssetHandler(storageClient, logger, cfg.Clamd.Addr)
	wsHandler := NewWsHandler(redisClient, authService, logger, nil)
	authMiddleware := middleware.AuthMiddleware(authService, db)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)
		v1.GET("/public/:username/:slug", publicHandler.GetPublicCV)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.GET("/profile", authMiddleware, userHandler.GetProfile)
		}

		userGroup := v1.Group("/users")
		userGroup.Use(authMiddleware)
		{
			userGroup.GET("/profile", userHandler.GetProfile)
			userGroup.PATCH("/profile", userHandler.UpdateProfile)
			userGroup.DELETE("/account", userHandler.DeleteAccount)
		}
		v1.GET("/account/export", authMiddleware, userHandler.ExportAccount)

		cvGroup := v1.Group("/cvs")
		cvGroup.Use(authMiddleware)
		{
			cvGroup.GET("", cvHandler.List)
			cvGroup.POST("", cvHandler.Create)
			cvGroup.GET("/:id", cvHandler.Get)
			cvGroup.PATCH("/:id", cvHandler.Update)
			cvGroup.DELETE("/:id", cvHandler.Delete)
			cvGroup.POST("/:id/duplicate", cvHandler.Duplicate)
			cvGroup.PATCH("/:id/visibility", cvHandler.UpdateVisibility)

			cvGroup.POST("/:id/versions", cvHandler.CreateVersion)
			cvGroup.GET("/:id/versions/:versionID/diff", cvHandler.DiffVersion)
			cvGroup.POST("/versions/:versionID/restore", cvHandler.RestoreVersion)
			cvGroup.DELETE("/versions/:versionID", cvHandler.DeleteVersion)

			cvGroup.POST("/:id/share", cvHandler.CreateShareToken)
			cvGroup.DELETE("/share/:token", cvHandler.RevokeShareToken)

			cvGroup.POST("/:id/export-pdf", cvHandler.ExportPDF)
			cvGroup.GET("/:id/export-link", cvHandler.ExportLink)
		}

		assetGroup := v1.Group("/assets")
		assetGroup.Use(authMiddleware)
		{
			assetGroup.POST("/upload", assetHandler.UploadAsset)
			assetGroup.GET("", assetHandler.ListAssets)
			assetGroup.GET("/view", assetHandler.GetAssetURL)
			assetGroup.DELETE("", assetHandler.DeleteAsset)
		}
	}
}

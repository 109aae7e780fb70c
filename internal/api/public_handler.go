package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"cvforge/internal/api/middleware"
	"cvforge/internal/cv"
)

const publicViewRatePerMinute = 60

// PublicHandler 处理匿名访问的公开简历页。
type PublicHandler struct {
	service *cv.Service
	redis   redis.UniversalClient
	logger  *slog.Logger
}

// NewPublicHandler 构造公开页处理器。
func NewPublicHandler(service *cv.Service, redisClient redis.UniversalClient, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{
		service: service,
		redis:   redisClient,
		logger:  logger,
	}
}

// GetPublicCV 解析 {username, slug, token?} 并返回可渲染的简历文档。
// 所有失败统一返回 404，避免探测私有简历的存在。
func (h *PublicHandler) GetPublicCV(c *gin.Context) {
	ctx := c.Request.Context()

	rateKey := "rate:public:" + c.ClientIP() + ":" + time.Now().UTC().Format("200601021504")
	if rateLimitExceeded(ctx, h.redis, rateKey, publicViewRatePerMinute, time.Minute) {
		TooManyRequests(c, "rate limit exceeded")
		return
	}

	username := c.Param("username")
	slug := c.Param("slug")
	token := c.Query("token")

	record, owner, err := h.service.ResolvePublic(ctx, username, slug, token)
	if err != nil {
		if !errors.Is(err, cv.ErrNotFound) {
			h.loggerFromContext(c).Error("resolve public cv failed", slog.Any("error", err))
		}
		NotFound(c, "not found")
		return
	}

	displayName := owner.Name
	if displayName == "" {
		displayName = owner.Email
	}

	c.JSON(http.StatusOK, gin.H{
		"cv": gin.H{
			"title":     record.Title,
			"slug":      record.Slug,
			"template":  record.Template,
			"theme":     json.RawMessage(record.Theme),
			"data":      json.RawMessage(record.Data),
			"updatedAt": record.UpdatedAt,
		},
		"owner": gin.H{
			"name":  displayName,
			"image": owner.Image,
		},
	})
}

func (h *PublicHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

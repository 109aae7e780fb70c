package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"cvforge/internal/api/middleware"
	"cvforge/internal/cv"
	"cvforge/internal/database"
	"cvforge/internal/storage"
)

const accountExportRatePerHour = 5

// UserHandler 处理用户档案、账号导出与注销。
type UserHandler struct {
	db        *gorm.DB
	cvService *cv.Service
	storage   *storage.Client
	redis     redis.UniversalClient
	logger    *slog.Logger
}

// NewUserHandler 构造用户处理器。
func NewUserHandler(db *gorm.DB, cvService *cv.Service, storageClient *storage.Client, redisClient redis.UniversalClient, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		db:        db,
		cvService: cvService,
		storage:   storageClient,
		redis:     redisClient,
		logger:    logger,
	}
}

type profilePayload struct {
	ID       uint            `json:"id"`
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Image    string          `json:"image,omitempty"`
	Settings json.RawMessage `json:"settings,omitempty"`
	// 公开页地址由展示名派生，改名会改变 URL。
	PublicUsername string    `json:"publicUsername"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toProfilePayload(user *database.User) profilePayload {
	displayName := user.Name
	if displayName == "" {
		displayName = user.Email
	}
	return profilePayload{
		ID:             user.ID,
		Name:           user.Name,
		Email:          user.Email,
		Image:          user.Image,
		Settings:       json.RawMessage(user.Settings),
		PublicUsername: cv.Slugify(displayName),
		CreatedAt:      user.CreatedAt,
	}
}

// GetProfile 返回当前用户档案。
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var user database.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			Unauthorized(c)
			return
		}
		h.loggerFromContext(c).Error("load profile failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": toProfilePayload(&user)})
}

type updateProfileRequest struct {
	Name     *string         `json:"name"`
	Image    *string         `json:"image"`
	Settings json.RawMessage `json:"settings"`
}

// UpdateProfile 对用户档案做浅合并更新。
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		logger.Info("update profile: user not found", slog.Any("error", err))
		Unauthorized(c)
		return
	}

	updates := map[string]any{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			BadRequest(c, "name must not be empty")
			return
		}
		updates["name"] = name
	}
	if req.Image != nil {
		updates["image"] = strings.TrimSpace(*req.Image)
	}
	if len(req.Settings) > 0 {
		if !json.Valid(req.Settings) {
			BadRequest(c, "settings must be valid json")
			return
		}
		updates["settings"] = datatypes.JSON(req.Settings)
	}

	if len(updates) > 0 {
		if err := h.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
			logger.Error("update profile failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
		if err := h.db.WithContext(ctx).First(&user, userID).Error; err != nil {
			logger.Error("reload profile failed", slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"user": toProfilePayload(&user)})
}

// ExportAccount 以附件形式返回账号的完整 JSON 导出。
func (h *UserHandler) ExportAccount(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()

	rateKey := fmt.Sprintf("rate:export:%d:%s", userID, time.Now().UTC().Format("2006010215"))
	if rateLimitExceeded(ctx, h.redis, rateKey, accountExportRatePerHour, time.Hour) {
		TooManyRequests(c, "rate limit exceeded")
		return
	}

	export, err := h.cvService.ExportAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, cv.ErrNotFound) {
			Unauthorized(c)
			return
		}
		h.loggerFromContext(c).Error("export account failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	filename := fmt.Sprintf("account-export-%s.json", export.ExportedAt.Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.JSON(http.StatusOK, export)
}

// DeleteAccount 注销账号：删除简历数据并清理对象存储。
func (h *UserHandler) DeleteAccount(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c).With(slog.Uint64("user_id", uint64(userID)))

	items, err := h.cvService.ListForUser(ctx, userID)
	if err != nil {
		logger.Error("list cvs for deletion failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	for _, item := range items {
		if err := h.cvService.Remove(ctx, item.CV.ID, userID); err != nil && !errors.Is(err, cv.ErrNotFound) {
			logger.Error("delete cv failed", slog.Uint64("cv_id", uint64(item.CV.ID)), slog.Any("error", err))
			Internal(c, "internal error")
			return
		}
	}

	res := h.db.WithContext(ctx).Delete(&database.User{}, userID)
	if res.Error != nil {
		logger.Error("delete user failed", slog.Any("error", res.Error))
		Internal(c, "internal error")
		return
	}
	if res.RowsAffected == 0 {
		Unauthorized(c)
		return
	}

	// 对象清理失败不回滚账号删除，留给后台巡检补偿。
	for _, prefix := range []string{
		fmt.Sprintf("generated-cvs/%d/", userID),
		fmt.Sprintf("user-assets/%d/", userID),
	} {
		if err := h.storage.DeletePrefix(ctx, prefix); err != nil {
			logger.Warn("cleanup storage prefix failed", slog.String("prefix", prefix), slog.Any("error", err))
		}
	}

	logger.Info("account deleted")
	c.Status(http.StatusNoContent)
}

func (h *UserHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

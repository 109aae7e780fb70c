package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"cvforge/internal/api/middleware"
	"cvforge/internal/cv"
	"cvforge/internal/database"
	"cvforge/internal/storage"
	"cvforge/internal/tasks"
)

const pdfDownloadLinkTTL = 10 * time.Minute

// CVHandler 暴露简历聚合的 REST 接口。
type CVHandler struct {
	service       *cv.Service
	asynqClient   *asynq.Client
	storage       *storage.Client
	logger        *slog.Logger
	publicBaseURL string
}

// NewCVHandler 构造简历处理器。
func NewCVHandler(service *cv.Service, asynqClient *asynq.Client, storageClient *storage.Client, logger *slog.Logger, publicBaseURL string) *CVHandler {
	return &CVHandler{
		service:       service,
		asynqClient:   asynqClient,
		storage:       storageClient,
		logger:        logger,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
	}
}

// cvPayload 是简历在 API 边界上的序列化形式，JSONB 字段原样透传。
type cvPayload struct {
	ID        uint            `json:"id"`
	Title     string          `json:"title"`
	Slug      string          `json:"slug"`
	IsPublic  bool            `json:"isPublic"`
	Template  string          `json:"template"`
	Theme     json.RawMessage `json:"theme"`
	Data      json.RawMessage `json:"data"`
	PdfStatus string          `json:"pdfStatus,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

type versionPayload struct {
	ID        uint            `json:"id"`
	Label     string          `json:"label"`
	Snapshot  json.RawMessage `json:"snapshot"`
	CreatedAt time.Time       `json:"createdAt"`
}

func toCVPayload(record *database.CV) cvPayload {
	return cvPayload{
		ID:        record.ID,
		Title:     record.Title,
		Slug:      record.Slug,
		IsPublic:  record.IsPublic,
		Template:  record.Template,
		Theme:     json.RawMessage(record.Theme),
		Data:      json.RawMessage(record.Data),
		PdfStatus: record.PdfStatus,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

func toVersionPayload(v *database.Version) versionPayload {
	return versionPayload{
		ID:        v.ID,
		Label:     v.Label,
		Snapshot:  json.RawMessage(v.Snapshot),
		CreatedAt: v.CreatedAt,
	}
}

// List 返回当前用户的全部简历摘要。
func (h *CVHandler) List(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	items, err := h.service.ListForUser(c.Request.Context(), userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	payload := make([]gin.H, 0, len(items))
	for _, item := range items {
		entry := gin.H{"cv": toCVPayload(&item.CV)}
		if item.LatestVersion != nil {
			entry["latestVersion"] = toVersionPayload(item.LatestVersion)
		}
		payload = append(payload, entry)
	}
	c.JSON(http.StatusOK, gin.H{"items": payload})
}

// Get 返回简历详情与全部版本。
func (h *CVHandler) Get(c *gin.Context) {
	userID, cvID, ok := h.bindCVID(c)
	if !ok {
		return
	}

	record, versions, err := h.service.Get(c.Request.Context(), cvID, userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	versionItems := make([]versionPayload, 0, len(versions))
	for i := range versions {
		versionItems = append(versionItems, toVersionPayload(&versions[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"cv":       toCVPayload(record),
		"versions": versionItems,
	})
}

type createCVRequest struct {
	Title    string    `json:"title" binding:"required,min=1,max=255"`
	Slug     string    `json:"slug"`
	Template string    `json:"template"`
	Theme    *cv.Theme `json:"theme"`
	Data     *cv.Data  `json:"data"`
}

// Create 新建简历并写入初始版本。
func (h *CVHandler) Create(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req createCVRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if !validTemplate(req.Template) {
		BadRequest(c, "unknown template")
		return
	}

	record, err := h.service.Create(c.Request.Context(), userID, cv.CreateInput{
		Title:    req.Title,
		Slug:     req.Slug,
		Template: req.Template,
		Theme:    req.Theme,
		Data:     req.Data,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"cv": toCVPayload(record)})
}

type updateCVRequest struct {
	Title    *string   `json:"title"`
	Template *string   `json:"template"`
	Theme    *cv.Theme `json:"theme"`
	Data     *cv.Data  `json:"data"`
	IsPublic *bool     `json:"isPublic"`
}

// Update 对简历做浅合并更新（自动保存走这里，不产生新版本）。
func (h *CVHandler) Update(c *gin.Context) {
	userID, cvID, ok := h.bindCVID(c)
	if !ok {
		return
	}

	var req updateCVRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.Template != nil && !validTemplate(*req.Template) {
		BadRequest(c, "unknown template")
		return
	}

	record, err := h.service.Update(c.Request.Context(), cvID, userID, cv.UpdateInput{
		Title:    req.Title,
		Template: req.Template,
		Theme:    req.Theme,
		Data:     req.Data,
		IsPublic: req.IsPublic,
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cv": toCVPayload(record)})
}

// Delete 删除简历及其版本与分享令牌。
func (h *CVHandler) Delete(c *gin.Context) {
	userID, cvID, ok := h.bindCVID(c)
	if !ok {
		return
	}

	if err := h.service.Remove(c.Request.Context(), cvID, userID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Duplicate 复制简历为一份新的私有简历。
func (h *CVHandler) Duplicate(c *gin.Context) {
	userID, cvID, ok := h.bindCVID(c)
	if !ok {
		return
	}

	record, err := h.service.Duplicate(c.Request.Context(), cvID, userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"cv": toCVPayload(record)})
}

type visibilityRequest struct {
	IsPublic *bool `json:"isPublic" binding:"required"`
}

// UpdateVisibility 切换公开状态。
func (h *CVHandler) UpdateVisibility(c *gin.Context) {
	userID, cvID, ok := h.bindCVID(c)
	if !ok {
		return
	}

	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	record, err := h.service.UpdateVisibility(c.Request.Context(), cvID, userID, *req.IsPublic)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cv": toCVPayload(record)})
}

type createVersionRequest struct {
	Label string `json:"label" binding:"required,min=1,max=255"`
}

// CreateVersion 冻结当前内容为新版本。
func (h *CVHandler) CreateVersion(c *gin.Context) {
	userID, cvID, ok := h.bindCVID(c)
	if !ok {
		return
	}

	var req createVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	version, err := h.service.CreateVersion(c.Request.Context(), cvID, userID, req.Label)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"version": toVersionPayload(version)})
}

// RestoreVersion 将版本快照恢复为简历当前内容。
func (h *CVHandler) RestoreVersion(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	versionID, ok := parseUintParam(c, "versionID")
	if !ok {
		return
	}

	record, err := h.service.RestoreVersion(c.Request.Context(), versionID, userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cv": toCVPayload(record)})
}

// DeleteVersion 删除单条版本。
func (h *CVHandler) DeleteVersion(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	versionID, ok := parseUintParam(c, "versionID")
	if !ok {
		return
	}

	if err := h.service.DeleteVersion(c.Request.Context(), versionID, userID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DiffVersion 比较简历当前内容与指定版本。
func (h *CVHandler) DiffVersion(c *gin.Context) {
	userID, cvID, ok := h.bindCVID(c)
	if !ok {
		return
	}
	versionID, ok := parseUintParam(c, "versionID")
	if !ok {
		return
	}

	diff, err := h.service.DiffVersion(c.Request.Context(), cvID, versionID, userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"diff": diff})
}

// CreateShareToken 生成只读分享令牌。
func (h *CVHandler) CreateShareToken(c *gin.Context) {
	userID, cvID, ok := h.bindCVID(c)
	if !ok {
		return
	}

	share, err := h.service.CreateShareToken(c.Request.Context(), cvID, userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	payload := gin.H{"token": share.Token}
	if h.publicBaseURL != "" {
		record, _, err := h.service.Get(c.Request.Context(), cvID, userID)
		if err == nil {
			payload["url"] = fmt.Sprintf("%s/cv/%s?token=%s", h.publicBaseURL, record.Slug, share.Token)
		}
	}
	c.JSON(http.StatusCreated, payload)
}

// RevokeShareToken 撤销分享令牌。
func (h *CVHandler) RevokeShareToken(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		BadRequest(c, "missing token")
		return
	}

	if err := h.service.RevokeShareToken(c.Request.Context(), token, userID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ExportPDF 标记简历为待导出并投递异步渲染任务。
func (h *CVHandler) ExportPDF(c *gin.Context) {
	userID, cvID, ok := h.bindCVID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c)

	if _, err := h.service.UpdateExportStatus(ctx, cvID, userID, database.PdfStatusPending); err != nil {
		h.respondServiceError(c, err)
		return
	}

	correlationID := middleware.GetCorrelationID(c)
	task, err := tasks.NewPDFExportTask(cvID, correlationID)
	if err != nil {
		logger.Error("build pdf export task failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if _, err := h.asynqClient.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		logger.Error("enqueue pdf export task failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":         database.PdfStatusPending,
		"correlation_id": correlationID,
	})
}

// ExportLink 返回最近一次导出 PDF 的限时下载链接。
func (h *CVHandler) ExportLink(c *gin.Context) {
	userID, cvID, ok := h.bindCVID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	record, _, err := h.service.Get(ctx, cvID, userID)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	if record.PdfStatus != database.PdfStatusCompleted || record.PdfObjectKey == "" {
		NotFound(c, "no exported pdf available")
		return
	}

	url, err := h.storage.GeneratePresignedURL(ctx, record.PdfObjectKey, pdfDownloadLinkTTL)
	if err != nil {
		h.loggerFromContext(c).Error("generate pdf download link failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"url":        url,
		"expires_in": int(pdfDownloadLinkTTL.Seconds()),
	})
}

func (h *CVHandler) bindCVID(c *gin.Context) (userID, cvID uint, ok bool) {
	userID, authed := userIDFromContext(c)
	if !authed {
		AbortUnauthorized(c)
		return 0, 0, false
	}
	cvID, ok = parseUintParam(c, "id")
	if !ok {
		return 0, 0, false
	}
	return userID, cvID, true
}

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	value, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || value == 0 {
		BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(value), true
}

func validTemplate(name string) bool {
	switch name {
	case "", database.TemplateClassic, database.TemplateModern, database.TemplateCompact:
		return true
	}
	return false
}

func (h *CVHandler) respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, cv.ErrNotFound):
		NotFound(c, "cv not found")
	case errors.Is(err, cv.ErrForbidden):
		Forbidden(c, "access denied")
	default:
		h.loggerFromContext(c).Error("cv operation failed", slog.Any("error", err))
		Internal(c, "internal error")
	}
}

func (h *CVHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

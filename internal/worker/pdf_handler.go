package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cvforge/internal/cv"
	"cvforge/internal/database"
	"cvforge/internal/errcode"
	"cvforge/internal/pdf"
	"cvforge/internal/storage"
	"cvforge/internal/tasks"
)

// PDFTaskHandler 负责消费简历 PDF 导出任务。
type PDFTaskHandler struct {
	db          *gorm.DB
	storage     *storage.Client
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewPDFTaskHandler 创建任务处理器。
func NewPDFTaskHandler(db *gorm.DB, storage *storage.Client, redisClient *redis.Client, logger *slog.Logger) *PDFTaskHandler {
	return &PDFTaskHandler{
		db:          db,
		storage:     storage,
		redisClient: redisClient,
		logger:      logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *PDFTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.PDFExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Int("cv_id", int(payload.CVID)),
	)
	log.Info("Starting CV PDF export task...")

	var record database.CV
	if err := h.db.WithContext(ctx).First(&record, payload.CVID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("cv not found, skipping task")
			return nil
		}
		log.Error("query cv failed", slog.Any("error", err))
		return err
	}

	log = log.With(slog.Uint64("user_id", uint64(record.UserID)))

	defer func() {
		if retErr == nil {
			return
		}
		if !isFinalAsynqAttempt(ctx) {
			return
		}

		notify := PDFExportNotifyMessage{
			Status:        "error",
			CVID:          record.ID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := h.publishPDFExportNotify(ctx, record.UserID, notify); err != nil {
			log.Error("publish pdf error notification failed", slog.Any("error", err))
		}
	}()

	htmlContent, err := renderCVDocument(&record)
	if err != nil {
		log.Error("render cv html failed", slog.Any("error", err))
		return err
	}

	pdfBytes, err := pdf.GenerateFromHTML(ctx, htmlContent)
	if err != nil {
		log.Error("generate pdf failed", slog.Any("error", err))
		return err
	}

	objectName := fmt.Sprintf("generated-cvs/%d/%s.pdf", record.UserID, uuid.NewString())
	pdfReader := bytes.NewReader(pdfBytes)
	if _, err := h.storage.UploadFile(ctx, objectName, pdfReader, int64(len(pdfBytes)), "application/pdf"); err != nil {
		log.Error("upload pdf to minio failed", slog.Any("error", err))
		return err
	}

	// 旧的导出文件留给 MinIO 生命周期策略清理，这里只覆盖指针。
	update := map[string]any{
		"pdf_object_key": objectName,
		"pdf_status":     database.PdfStatusCompleted,
	}
	if err := h.db.WithContext(ctx).Model(&record).Updates(update).Error; err != nil {
		log.Error("update cv failed", slog.Any("error", err))
		return err
	}

	notify := PDFExportNotifyMessage{
		Status:        "completed",
		CVID:          record.ID,
		CorrelationID: payload.CorrelationID,
		ObjectKey:     objectName,
		ErrorCode:     errcode.OK,
	}
	if err := h.publishPDFExportNotify(ctx, record.UserID, notify); err != nil {
		log.Error("publish redis notification failed", slog.Any("error", err))
		return err
	}

	log.Info("PDF export task completed successfully.")
	return nil
}

// renderCVDocument 把数据库记录的 JSONB 字段解包成文档并渲染为 HTML。
func renderCVDocument(record *database.CV) (string, error) {
	theme := cv.DefaultTheme()
	if len(record.Theme) > 0 {
		if err := json.Unmarshal(record.Theme, &theme); err != nil {
			return "", fmt.Errorf("unmarshal cv theme: %w", err)
		}
	}

	var data cv.Data
	if len(record.Data) > 0 {
		if err := json.Unmarshal(record.Data, &data); err != nil {
			return "", fmt.Errorf("unmarshal cv data: %w", err)
		}
	}

	return RenderHTML(record.Title, record.Template, theme, data)
}

func (h *PDFTaskHandler) publishPDFExportNotify(ctx context.Context, userID uint, notify PDFExportNotifyMessage) error {
	data, err := json.Marshal(notify)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := fmt.Sprintf("user_notify:%d", userID)
	if err := h.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}

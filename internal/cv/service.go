package cv

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"cvforge/internal/database"
)

// 业务错误哨兵：NotFound 表示简历不存在，Forbidden 表示简历存在但调用方不是所有者。
// 对同一个合法 ID，两者互斥且穷尽。
var (
	ErrNotFound  = errors.New("cv not found")
	ErrForbidden = errors.New("access denied")
)

const (
	initialVersionLabel    = "Initial version"
	duplicatedVersionLabel = "Duplicated from existing"
)

// Service 实现简历聚合：CRUD、版本化、分享与公开解析。
type Service struct {
	db *gorm.DB
}

// NewService 构造简历服务。
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// CreateInput 描述新建简历的可选字段，缺省值见 defaults.go。
type CreateInput struct {
	Title    string
	Slug     string
	Template string
	Theme    *Theme
	Data     *Data
}

// UpdateInput 描述浅合并更新；nil 字段保持不变。
type UpdateInput struct {
	Title    *string
	Template *string
	Theme    *Theme
	Data     *Data
	IsPublic *bool
}

// ListItem 是列表页的简历摘要，附带最近一次版本。
type ListItem struct {
	CV            database.CV
	LatestVersion *database.Version
}

// ListForUser 返回用户的全部简历，按 updatedAt 倒序，每份附带最近版本。
func (s *Service) ListForUser(ctx context.Context, ownerID uint) ([]ListItem, error) {
	var cvs []database.CV
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", ownerID).
		Order("updated_at DESC").
		Find(&cvs).Error; err != nil {
		return nil, fmt.Errorf("list cvs: %w", err)
	}

	items := make([]ListItem, 0, len(cvs))
	for _, c := range cvs {
		item := ListItem{CV: c}
		var latest database.Version
		err := s.db.WithContext(ctx).
			Where("cv_id = ?", c.ID).
			Order("created_at DESC").
			First(&latest).Error
		switch {
		case err == nil:
			item.LatestVersion = &latest
		case errors.Is(err, gorm.ErrRecordNotFound):
			// 无版本的简历照常列出。
		default:
			return nil, fmt.Errorf("load latest version: %w", err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Get 返回简历与全部版本（新在前）。
// 简历不存在返回 ErrNotFound，所有者不匹配返回 ErrForbidden。
func (s *Service) Get(ctx context.Context, cvID, ownerID uint) (*database.CV, []database.Version, error) {
	record, err := s.getOwned(ctx, cvID, ownerID)
	if err != nil {
		return nil, nil, err
	}

	var versions []database.Version
	if err := s.db.WithContext(ctx).
		Where("cv_id = ?", cvID).
		Order("created_at DESC").
		Find(&versions).Error; err != nil {
		return nil, nil, fmt.Errorf("load versions: %w", err)
	}

	return record, versions, nil
}

// Create 持久化一份新简历并立即写入 "Initial version" 快照。
// slug 缺省时从标题生成；同名 slug 通过追加序号避让（读写之间无原子性保证）。
func (s *Service) Create(ctx context.Context, ownerID uint, in CreateInput) (*database.CV, error) {
	slug := in.Slug
	if slug == "" {
		slug = Slugify(in.Title)
	}
	if slug == "" {
		slug = "cv-untitled"
	}
	slug, err := s.resolveSlugCollision(ctx, ownerID, slug)
	if err != nil {
		return nil, err
	}

	template := in.Template
	if template == "" {
		template = database.TemplateClassic
	}

	theme := DefaultTheme()
	if in.Theme != nil {
		theme = *in.Theme
	}
	data := EmptyData("", "")
	if in.Data != nil {
		data = *in.Data
	}

	themeJSON, err := json.Marshal(theme)
	if err != nil {
		return nil, fmt.Errorf("marshal theme: %w", err)
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}

	record := database.CV{
		UserID:   ownerID,
		Title:    in.Title,
		Slug:     slug,
		IsPublic: false,
		Template: template,
		Theme:    datatypes.JSON(themeJSON),
		Data:     datatypes.JSON(dataJSON),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("create cv: %w", err)
	}

	if _, err := s.snapshotVersion(ctx, &record, initialVersionLabel); err != nil {
		return nil, err
	}

	return &record, nil
}

// CreateDefault 为新注册用户创建默认简历，头部预填姓名与邮箱。
func (s *Service) CreateDefault(ctx context.Context, ownerID uint, name, email string) (*database.CV, error) {
	data := EmptyData(name, email)
	return s.Create(ctx, ownerID, CreateInput{
		Title: "My CV",
		Slug:  fmt.Sprintf("my-cv-%d", time.Now().UnixMilli()),
		Data:  &data,
	})
}

// Update 对简历做浅合并更新并刷新 updatedAt；不会自动产生新版本。
func (s *Service) Update(ctx context.Context, cvID, ownerID uint, in UpdateInput) (*database.CV, error) {
	record, err := s.getOwned(ctx, cvID, ownerID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if in.Title != nil {
		updates["title"] = *in.Title
	}
	if in.Template != nil {
		updates["template"] = *in.Template
	}
	if in.IsPublic != nil {
		updates["is_public"] = *in.IsPublic
	}
	if in.Theme != nil {
		themeJSON, err := json.Marshal(in.Theme)
		if err != nil {
			return nil, fmt.Errorf("marshal theme: %w", err)
		}
		updates["theme"] = datatypes.JSON(themeJSON)
	}
	if in.Data != nil {
		dataJSON, err := json.Marshal(in.Data)
		if err != nil {
			return nil, fmt.Errorf("marshal data: %w", err)
		}
		updates["data"] = datatypes.JSON(dataJSON)
	}

	if len(updates) == 0 {
		return record, nil
	}
	updates["updated_at"] = time.Now()

	if err := s.db.WithContext(ctx).Model(record).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update cv: %w", err)
	}
	if err := s.db.WithContext(ctx).First(record, record.ID).Error; err != nil {
		return nil, fmt.Errorf("reload cv: %w", err)
	}
	return record, nil
}

// Remove 删除简历及其版本与分享令牌。
// 并发删除竞争下，后到者以 ErrNotFound 失败。
func (s *Service) Remove(ctx context.Context, cvID, ownerID uint) error {
	if _, err := s.getOwned(ctx, cvID, ownerID); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Where("cv_id = ?", cvID).Delete(&database.ShareToken{}).Error; err != nil {
		return fmt.Errorf("delete share tokens: %w", err)
	}
	if err := s.db.WithContext(ctx).Where("cv_id = ?", cvID).Delete(&database.Version{}).Error; err != nil {
		return fmt.Errorf("delete versions: %w", err)
	}

	res := s.db.WithContext(ctx).Delete(&database.CV{}, cvID)
	if res.Error != nil {
		return fmt.Errorf("delete cv: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Duplicate 复制简历内容为一份新简历，并写入一条新的初始版本。
// 标题追加 " (Copy)"，slug 追加时间戳避免与源冲突。
func (s *Service) Duplicate(ctx context.Context, cvID, ownerID uint) (*database.CV, error) {
	src, err := s.getOwned(ctx, cvID, ownerID)
	if err != nil {
		return nil, err
	}

	copyRecord := database.CV{
		UserID:   ownerID,
		Title:    src.Title + " (Copy)",
		Slug:     fmt.Sprintf("%s-copy-%d", src.Slug, time.Now().UnixMilli()),
		IsPublic: false,
		Template: src.Template,
		Theme:    src.Theme,
		Data:     src.Data,
	}
	if err := s.db.WithContext(ctx).Create(&copyRecord).Error; err != nil {
		return nil, fmt.Errorf("create cv copy: %w", err)
	}

	if _, err := s.snapshotVersion(ctx, &copyRecord, duplicatedVersionLabel); err != nil {
		return nil, err
	}

	return &copyRecord, nil
}

// UpdateVisibility 切换简历公开状态。
func (s *Service) UpdateVisibility(ctx context.Context, cvID, ownerID uint, isPublic bool) (*database.CV, error) {
	record, err := s.getOwned(ctx, cvID, ownerID)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(record).Update("is_public", isPublic).Error; err != nil {
		return nil, fmt.Errorf("update visibility: %w", err)
	}
	record.IsPublic = isPublic
	return record, nil
}

// UpdateExportStatus 更新 PDF 导出状态（入队时置为 pending）。
func (s *Service) UpdateExportStatus(ctx context.Context, cvID, ownerID uint, status string) (*database.CV, error) {
	record, err := s.getOwned(ctx, cvID, ownerID)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(record).Update("pdf_status", status).Error; err != nil {
		return nil, fmt.Errorf("update pdf status: %w", err)
	}
	record.PdfStatus = status
	return record, nil
}

// CreateVersion 冻结简历当前的 {template, theme, data} 为一条新版本。
func (s *Service) CreateVersion(ctx context.Context, cvID, ownerID uint, label string) (*database.Version, error) {
	record, err := s.getOwned(ctx, cvID, ownerID)
	if err != nil {
		return nil, err
	}
	return s.snapshotVersion(ctx, record, label)
}

// RestoreVersion 将指定版本的快照覆盖回简历本体；版本历史本身不变。
func (s *Service) RestoreVersion(ctx context.Context, versionID, ownerID uint) (*database.CV, error) {
	version, record, err := s.getOwnedVersion(ctx, versionID, ownerID)
	if err != nil {
		return nil, err
	}

	var snapshot Snapshot
	if err := json.Unmarshal(version.Snapshot, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	themeJSON, err := json.Marshal(snapshot.Theme)
	if err != nil {
		return nil, fmt.Errorf("marshal theme: %w", err)
	}
	dataJSON, err := json.Marshal(snapshot.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}

	updates := map[string]any{
		"template": snapshot.Template,
		"theme":    datatypes.JSON(themeJSON),
		"data":     datatypes.JSON(dataJSON),
	}
	if err := s.db.WithContext(ctx).Model(record).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("restore version: %w", err)
	}
	if err := s.db.WithContext(ctx).First(record, record.ID).Error; err != nil {
		return nil, fmt.Errorf("reload cv: %w", err)
	}
	return record, nil
}

// DeleteVersion 删除单条版本记录，不影响简历本体。
func (s *Service) DeleteVersion(ctx context.Context, versionID, ownerID uint) error {
	version, _, err := s.getOwnedVersion(ctx, versionID, ownerID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&database.Version{}, version.ID).Error; err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	return nil
}

// CreateShareToken 为简历生成只读分享令牌，默认不过期。
func (s *Service) CreateShareToken(ctx context.Context, cvID, ownerID uint) (*database.ShareToken, error) {
	if _, err := s.getOwned(ctx, cvID, ownerID); err != nil {
		return nil, err
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate share token: %w", err)
	}

	record := database.ShareToken{
		CVID:  cvID,
		Token: hex.EncodeToString(buf),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("create share token: %w", err)
	}
	return &record, nil
}

// RevokeShareToken 删除分享令牌；删除即撤销，无黑名单。
func (s *Service) RevokeShareToken(ctx context.Context, token string, ownerID uint) error {
	var share database.ShareToken
	if err := s.db.WithContext(ctx).Where("token = ?", token).First(&share).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load share token: %w", err)
	}

	if _, err := s.getOwned(ctx, share.CVID, ownerID); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(&database.ShareToken{}, share.ID).Error; err != nil {
		return fmt.Errorf("delete share token: %w", err)
	}
	return nil
}

// ResolvePublic 将 {username, slug, token?} 解析为可公开渲染的简历。
// 令牌命中时无视 isPublic；否则要求简历公开且所有者展示名 slug 匹配。
// 所有失败统一折叠为 ErrNotFound，避免枚举探测。
func (s *Service) ResolvePublic(ctx context.Context, username, slug, token string) (*database.CV, *database.User, error) {
	if token != "" {
		var share database.ShareToken
		err := s.db.WithContext(ctx).Where("token = ?", token).First(&share).Error
		switch {
		case err == nil:
			if share.ExpiresAt == nil || share.ExpiresAt.After(time.Now()) {
				var record database.CV
				if err := s.db.WithContext(ctx).First(&record, share.CVID).Error; err == nil && record.Slug == slug {
					var owner database.User
					if err := s.db.WithContext(ctx).First(&owner, record.UserID).Error; err == nil {
						return &record, &owner, nil
					}
				}
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// 令牌无效则继续走公开路径。
		default:
			return nil, nil, fmt.Errorf("load share token: %w", err)
		}
	}

	var record database.CV
	if err := s.db.WithContext(ctx).
		Where("slug = ? AND is_public = ?", slug, true).
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("load public cv: %w", err)
	}

	var owner database.User
	if err := s.db.WithContext(ctx).First(&owner, record.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("load cv owner: %w", err)
	}

	displayName := owner.Name
	if displayName == "" {
		displayName = owner.Email
	}
	if Slugify(displayName) != username {
		return nil, nil, ErrNotFound
	}

	return &record, &owner, nil
}

func (s *Service) snapshotVersion(ctx context.Context, record *database.CV, label string) (*database.Version, error) {
	snapshot := map[string]any{
		"template": record.Template,
		"theme":    json.RawMessage(record.Theme),
		"data":     json.RawMessage(record.Data),
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	version := database.Version{
		CVID:     record.ID,
		Label:    label,
		Snapshot: datatypes.JSON(payload),
	}
	if err := s.db.WithContext(ctx).Create(&version).Error; err != nil {
		return nil, fmt.Errorf("create version: %w", err)
	}
	return &version, nil
}

func (s *Service) getOwned(ctx context.Context, cvID, ownerID uint) (*database.CV, error) {
	var record database.CV
	if err := s.db.WithContext(ctx).First(&record, cvID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load cv: %w", err)
	}
	if record.UserID != ownerID {
		return nil, ErrForbidden
	}
	return &record, nil
}

func (s *Service) getOwnedVersion(ctx context.Context, versionID, ownerID uint) (*database.Version, *database.CV, error) {
	var version database.Version
	if err := s.db.WithContext(ctx).First(&version, versionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("load version: %w", err)
	}

	record, err := s.getOwned(ctx, version.CVID, ownerID)
	if err != nil {
		return nil, nil, err
	}
	return &version, record, nil
}

// resolveSlugCollision 通过读-写序列检查用户内 slug 唯一性，冲突则追加序号重试。
// 无 compare-and-swap 保证，并发同名创建可能（罕见地）产生重复 slug。
func (s *Service) resolveSlugCollision(ctx context.Context, ownerID uint, base string) (string, error) {
	slug := base
	for counter := 1; ; counter++ {
		var count int64
		if err := s.db.WithContext(ctx).
			Model(&database.CV{}).
			Where("user_id = ? AND slug = ?", ownerID, slug).
			Count(&count).Error; err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if count == 0 {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, counter)
	}
}

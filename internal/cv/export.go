package cv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"cvforge/internal/database"
)

// AccountExport 是账号导出文件的顶层结构。
type AccountExport struct {
	User       ExportUser `json:"user"`
	CVs        []ExportCV `json:"cvs"`
	ExportedAt time.Time  `json:"exportedAt"`
	Version    string     `json:"version"`
}

// ExportUser 是导出的用户档案（不含密码哈希）。
type ExportUser struct {
	ID        uint           `json:"id"`
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	Image     string         `json:"image,omitempty"`
	Settings  datatypes.JSON `json:"settings,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// ExportCV 是导出的单份简历，内嵌全部版本。
type ExportCV struct {
	ID        uint            `json:"id"`
	Title     string          `json:"title"`
	Slug      string          `json:"slug"`
	IsPublic  bool            `json:"isPublic"`
	Template  string          `json:"template"`
	Theme     datatypes.JSON  `json:"theme"`
	Data      datatypes.JSON  `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Versions  []ExportVersion `json:"versions"`
}

// ExportVersion 是导出的版本快照。
type ExportVersion struct {
	ID        uint           `json:"id"`
	Label     string         `json:"label"`
	Snapshot  datatypes.JSON `json:"snapshot"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ExportAccount 汇总用户档案与全部简历（含嵌套版本）为可下载的 JSON 文档。
func (s *Service) ExportAccount(ctx context.Context, userID uint) (*AccountExport, error) {
	var user database.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	var cvs []database.CV
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&cvs).Error; err != nil {
		return nil, fmt.Errorf("load cvs: %w", err)
	}

	export := &AccountExport{
		User: ExportUser{
			ID:        user.ID,
			Name:      user.Name,
			Email:     user.Email,
			Image:     user.Image,
			Settings:  user.Settings,
			CreatedAt: user.CreatedAt,
			UpdatedAt: user.UpdatedAt,
		},
		CVs:        make([]ExportCV, 0, len(cvs)),
		ExportedAt: time.Now().UTC(),
		Version:    "1.0",
	}

	for _, c := range cvs {
		var versions []database.Version
		if err := s.db.WithContext(ctx).
			Where("cv_id = ?", c.ID).
			Order("created_at ASC").
			Find(&versions).Error; err != nil {
			return nil, fmt.Errorf("load versions: %w", err)
		}

		exportCV := ExportCV{
			ID:        c.ID,
			Title:     c.Title,
			Slug:      c.Slug,
			IsPublic:  c.IsPublic,
			Template:  c.Template,
			Theme:     c.Theme,
			Data:      c.Data,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
			Versions:  make([]ExportVersion, 0, len(versions)),
		}
		for _, v := range versions {
			exportCV.Versions = append(exportCV.Versions, ExportVersion{
				ID:        v.ID,
				Label:     v.Label,
				Snapshot:  v.Snapshot,
				CreatedAt: v.CreatedAt,
			})
		}
		export.CVs = append(export.CVs, exportCV)
	}

	return export, nil
}

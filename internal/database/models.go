package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CV 模板枚举，与前端渲染变体一一对应。
const (
	TemplateClassic = "CLASSIC"
	TemplateModern  = "MODERN"
	TemplateCompact = "COMPACT"
)

// PDF 导出状态。
const (
	PdfStatusPending   = "pending"
	PdfStatusCompleted = "completed"
)

// User 表示系统中的账号信息。
type User struct {
	gorm.Model
	Name         string         `gorm:"size:255"`
	Email        string         `gorm:"uniqueIndex;size:255"`
	PasswordHash string         `gorm:"size:255"`
	Image        string         `gorm:"size:512"`
	Settings     datatypes.JSON `gorm:"type:jsonb"`
	CVs          []CV           `gorm:"constraint:OnDelete:CASCADE"`
}

// CV 表示用户创建的简历聚合。
// Theme 与 Data 按不透明 JSON 存储，结构由 internal/cv 定义。
type CV struct {
	gorm.Model
	UserID       uint           `gorm:"index"`
	User         User           `gorm:"constraint:OnDelete:CASCADE"`
	Title        string         `gorm:"size:255"`
	Slug         string         `gorm:"size:255;index"`
	IsPublic     bool           `gorm:"default:false"`
	Template     string         `gorm:"size:32;default:CLASSIC"`
	Theme        datatypes.JSON `gorm:"type:jsonb"`
	Data         datatypes.JSON `gorm:"type:jsonb"`
	PdfObjectKey string         `gorm:"size:512"`
	PdfStatus    string         `gorm:"size:32"`
	Versions     []Version      `gorm:"foreignKey:CVID;constraint:OnDelete:CASCADE"`
	ShareTokens  []ShareToken   `gorm:"foreignKey:CVID;constraint:OnDelete:CASCADE"`
}

// Version 表示简历在某一时刻的不可变快照（append-only）。
type Version struct {
	gorm.Model
	CVID     uint           `gorm:"index"`
	Label    string         `gorm:"size:255"`
	Snapshot datatypes.JSON `gorm:"type:jsonb"`
}

// ShareToken 表示只读分享凭据，token 即唯一凭证。
type ShareToken struct {
	gorm.Model
	CVID      uint       `gorm:"index"`
	Token     string     `gorm:"uniqueIndex;size:64"`
	ExpiresAt *time.Time `gorm:"index"`
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/lk2023060901/bookhub-backend/internal/book/types"
)

// Book 书籍模型
type Book struct {
	ID uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`

	// 元数据
	Title       string `gorm:"type:varchar(500);not null;index"`
	Author      string `gorm:"type:varchar(255);not null;index"`
	Publisher   string `gorm:"type:varchar(255)"`
	Language    string `gorm:"type:varchar(20);not null;default:'en'"`
	Identifier  string `gorm:"type:varchar(255)"`
	Description string `gorm:"type:text"`
	PublishDate string `gorm:"type:varchar(50)"`
	Rights      string `gorm:"type:text"`

	// 主题标签（JSONB 数组）
	Subjects datatypes.JSON `gorm:"type:jsonb"`

	// 封面落盘路径
	CoverPath string `gorm:"type:varchar(500)"`

	// 处理状态
	Status string `gorm:"type:varchar(50);not null;default:'pending';index"` // pending, processing, completed, failed

	// 统计信息（解析完成后回填）
	ChapterCount int `gorm:"default:0"`
	WordCount    int `gorm:"default:0"`
	PageCount    int `gorm:"default:0"`
	ReadingTime  int `gorm:"default:0"` // 分钟

	// 时间戳
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`

	// 关联
	Files     []BookFile        `gorm:"foreignKey:BookID;constraint:OnDelete:CASCADE"`
	Structure *ContentStructure `gorm:"foreignKey:BookID;constraint:OnDelete:CASCADE"`
	Assets    []Asset           `gorm:"foreignKey:BookID;constraint:OnDelete:CASCADE"`
}

// TableName 指定表名
func (Book) TableName() string {
	return "books"
}

// Validate 验证书籍
func (b *Book) Validate() error {
	if b.Title == "" {
		return ErrInvalidTitle
	}
	if b.Author == "" {
		return ErrInvalidAuthor
	}
	if !types.ProcessStatus(b.Status).Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// IsCompleted 是否解析完成
func (b *Book) IsCompleted() bool {
	return b.Status == types.ProcessStatusCompleted.String()
}

// IsFailed 是否解析失败
func (b *Book) IsFailed() bool {
	return b.Status == types.ProcessStatusFailed.String()
}

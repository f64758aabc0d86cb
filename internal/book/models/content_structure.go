package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ContentStructure 解析产物根记录，每本书至多一条，重新解析覆盖更新
type ContentStructure struct {
	ID     uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	BookID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`

	// 解析出的元数据（JSONB）
	Metadata datatypes.JSON `gorm:"type:jsonb"`

	// 统计信息
	ChapterCount int `gorm:"not null;default:0"`
	WordCount    int `gorm:"not null;default:0"`
	ReadingTime  int `gorm:"not null;default:0"` // 分钟

	// 解析器信息
	ExtractionMethod string `gorm:"type:varchar(50);not null"` // container, htmlbundle, markdown
	ExtractorVersion string `gorm:"type:varchar(20);not null"`

	// 解析过程中的软失败记录（JSONB 数组）
	Warnings datatypes.JSON `gorm:"type:jsonb"`

	// 时间戳
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`

	// 关联
	Chapters   []Chapter  `gorm:"foreignKey:StructureID;constraint:OnDelete:CASCADE"`
	TOCEntries []TOCEntry `gorm:"foreignKey:StructureID;constraint:OnDelete:CASCADE"`
}

// TableName 指定表名
func (ContentStructure) TableName() string {
	return "content_structures"
}

// Validate 验证结构记录
func (s *ContentStructure) Validate() error {
	if s.BookID == uuid.Nil {
		return ErrInvalidBookID
	}
	return nil
}

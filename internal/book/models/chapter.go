package models

import (
	"time"

	"github.com/google/uuid"
)

// Chapter 章节模型，同一结构下章节号唯一
type Chapter struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	StructureID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uniq_chapters_structure_number,priority:1"`
	BookID      uuid.UUID `gorm:"type:uuid;not null;index"`

	ChapterNumber int    `gorm:"not null;uniqueIndex:uniq_chapters_structure_number,priority:2"`
	Title         string `gorm:"type:varchar(500);not null"`

	// 重写过资源引用的 HTML 内容
	Content string `gorm:"type:text;not null"`

	WordCount      int `gorm:"not null;default:0"`
	ReadingMinutes int `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (Chapter) TableName() string {
	return "chapters"
}

// Validate 验证章节
func (c *Chapter) Validate() error {
	if c.StructureID == uuid.Nil {
		return ErrInvalidStructureID
	}
	if c.BookID == uuid.Nil {
		return ErrInvalidBookID
	}
	if c.ChapterNumber <= 0 {
		return ErrInvalidChapterNumber
	}
	return nil
}

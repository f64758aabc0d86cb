package models

import (
	"time"

	"github.com/google/uuid"
)

// TOCEntry 目录条目，按 entry_order 排序展示
type TOCEntry struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	StructureID uuid.UUID `gorm:"type:uuid;not null;index"`

	EntryOrder int    `gorm:"not null"`
	Level      int    `gorm:"not null;default:1"`
	Title      string `gorm:"type:varchar(500);not null"`
	Href       string `gorm:"type:varchar(500)"`
	Anchor     string `gorm:"type:varchar(255)"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (TOCEntry) TableName() string {
	return "toc_entries"
}

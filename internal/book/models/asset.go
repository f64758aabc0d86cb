package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lk2023060901/bookhub-backend/internal/book/types"
)

// Asset 解析出的资源文件记录
type Asset struct {
	ID     uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	BookID uuid.UUID `gorm:"type:uuid;not null;index"`

	// 容器内原始路径
	Href string `gorm:"type:varchar(500);not null"`

	// 落盘路径
	StoredPath string `gorm:"type:varchar(500);not null"`

	MediaType string `gorm:"type:varchar(100)"`
	AssetType string `gorm:"type:varchar(20);not null;index"` // image, stylesheet, font, other
	FileSize  int64  `gorm:"not null;default:0"`
	IsCover   bool   `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (Asset) TableName() string {
	return "assets"
}

// Validate 验证资源记录
func (a *Asset) Validate() error {
	if a.BookID == uuid.Nil {
		return ErrInvalidBookID
	}
	if a.StoredPath == "" {
		return ErrInvalidStoragePath
	}
	if !types.AssetType(a.AssetType).Valid() {
		return ErrInvalidStatus
	}
	return nil
}

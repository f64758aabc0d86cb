package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lk2023060901/bookhub-backend/internal/book/types"
)

// BookFile 上传文件记录。每本书持有自己的记录；
// 同一内容哈希的记录共享对象存储里的同一份字节。
type BookFile struct {
	ID     uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	BookID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uniq_book_files_book_content"`

	// 文件信息
	Kind     string `gorm:"type:varchar(20);not null;index"` // cover, ebook, sample
	Format   string `gorm:"type:varchar(20)"`                // epub, html, markdown（仅 ebook）
	Filename string `gorm:"type:varchar(255);not null"`
	FileSize int64  `gorm:"not null"`

	// SHA-256 内容哈希：书内去重键，跨书共享字节
	ContentHash string `gorm:"type:varchar(64);not null;index;uniqueIndex:uniq_book_files_book_content"`

	// 引用计数：同一本书重复上传同样内容的次数
	RefCount int `gorm:"not null;default:1"`

	// 对象存储位置（ebook 原始字节）
	MinioBucket    string `gorm:"type:varchar(100)"`
	MinioObjectKey string `gorm:"type:varchar(500)"`

	// 本地落盘路径（封面、样章）
	LocalPath string `gorm:"type:varchar(500)"`

	// 处理状态
	Status       string `gorm:"type:varchar(50);not null;default:'pending';index"` // pending, processing, completed, failed
	ErrorMessage string `gorm:"type:text"`

	// 时间戳
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName 指定表名
func (BookFile) TableName() string {
	return "book_files"
}

// Validate 验证文件记录
func (f *BookFile) Validate() error {
	if f.BookID == uuid.Nil {
		return ErrInvalidBookID
	}
	if !types.FileKind(f.Kind).Valid() {
		return ErrInvalidFileKind
	}
	if f.Kind == types.FileKindEbook.String() && !types.BookFormat(f.Format).Valid() {
		return ErrInvalidFormat
	}
	if f.Filename == "" {
		return ErrInvalidFilename
	}
	if f.FileSize <= 0 {
		return ErrInvalidFileSize
	}
	if f.ContentHash == "" {
		return ErrInvalidContentHash
	}
	if f.MinioObjectKey == "" && f.LocalPath == "" {
		return ErrInvalidStoragePath
	}
	if !types.ProcessStatus(f.Status).Valid() {
		return ErrInvalidStatus
	}
	return nil
}

// StoredInObjectStore 内容是否存放在对象存储
func (f *BookFile) StoredInObjectStore() bool {
	return f.MinioObjectKey != ""
}

package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lk2023060901/bookhub-backend/internal/book/models"
	booktypes "github.com/lk2023060901/bookhub-backend/internal/book/types"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/database"
)

// BookFileRepository 上传文件仓储接口
type BookFileRepository interface {
	// CreateOrGet 原子去重写入：同一本书下内容哈希已存在时返回既有记录
	// 并增加引用计数，否则插入新记录。返回值 created 标识是否新建。
	CreateOrGet(ctx context.Context, file *models.BookFile) (*models.BookFile, bool, error)

	// GetByID 根据 ID 获取文件记录
	GetByID(ctx context.Context, id uuid.UUID) (*models.BookFile, error)

	// GetByBookAndHash 获取某本书下指定内容哈希的文件记录
	GetByBookAndHash(ctx context.Context, bookID uuid.UUID, contentHash string) (*models.BookFile, error)

	// GetByBookID 获取书籍的全部文件记录
	GetByBookID(ctx context.Context, bookID uuid.UUID) ([]*models.BookFile, error)

	// UpdateStatus 更新处理状态
	UpdateStatus(ctx context.Context, id uuid.UUID, status booktypes.ProcessStatus, errorMsg string) error

	// CountByHash 统计引用某内容哈希的文件记录数，用于判断字节是否可删
	CountByHash(ctx context.Context, contentHash string) (int64, error)

	// DeleteByBookID 删除书籍的全部文件记录
	DeleteByBookID(ctx context.Context, bookID uuid.UUID) error
}

// bookFileRepository 上传文件仓储实现
type bookFileRepository struct {
	db *database.DB
}

// NewBookFileRepository 创建上传文件仓储
func NewBookFileRepository(db *database.DB) BookFileRepository {
	return &bookFileRepository{
		db: db,
	}
}

// CreateOrGet 原子去重写入。依赖 (book_id, content_hash) 上的唯一约束：
// 冲突时不回错误，改为读取既有记录并递增引用计数。
func (r *bookFileRepository) CreateOrGet(ctx context.Context, file *models.BookFile) (*models.BookFile, bool, error) {
	if err := file.Validate(); err != nil {
		return nil, false, fmt.Errorf("validation failed: %w", err)
	}

	conn := r.db.GetDBFromContext(ctx)

	result := conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "book_id"}, {Name: "content_hash"}},
		DoNothing: true,
	}).Create(file)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to create book file: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		return file, true, nil
	}

	// 冲突路径：读既有记录并递增引用
	existing, err := r.GetByBookAndHash(ctx, file.BookID, file.ContentHash)
	if err != nil {
		return nil, false, err
	}

	if err := conn.Model(&models.BookFile{}).
		Where("id = ?", existing.ID).
		UpdateColumn("ref_count", gorm.Expr("ref_count + 1")).Error; err != nil {
		return nil, false, fmt.Errorf("failed to increment ref count: %w", err)
	}
	existing.RefCount++

	return existing, false, nil
}

// GetByID 根据 ID 获取文件记录
func (r *bookFileRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.BookFile, error) {
	var file models.BookFile
	if err := r.db.GetDBFromContext(ctx).Where("id = ?", id).First(&file).Error; err != nil {
		return nil, fmt.Errorf("failed to get book file: %w", err)
	}
	return &file, nil
}

// GetByBookAndHash 获取某本书下指定内容哈希的文件记录
func (r *bookFileRepository) GetByBookAndHash(ctx context.Context, bookID uuid.UUID, contentHash string) (*models.BookFile, error) {
	var file models.BookFile
	if err := r.db.GetDBFromContext(ctx).
		Where("book_id = ? AND content_hash = ?", bookID, contentHash).
		First(&file).Error; err != nil {
		return nil, fmt.Errorf("failed to get book file by hash: %w", err)
	}
	return &file, nil
}

// GetByBookID 获取书籍的全部文件记录
func (r *bookFileRepository) GetByBookID(ctx context.Context, bookID uuid.UUID) ([]*models.BookFile, error) {
	var files []*models.BookFile
	if err := r.db.GetDBFromContext(ctx).
		Where("book_id = ?", bookID).
		Order("created_at ASC").
		Find(&files).Error; err != nil {
		return nil, fmt.Errorf("failed to list book files: %w", err)
	}
	return files, nil
}

// UpdateStatus 更新处理状态
func (r *bookFileRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status booktypes.ProcessStatus, errorMsg string) error {
	result := r.db.GetDBFromContext(ctx).
		Model(&models.BookFile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status.String(),
			"error_message": errorMsg,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update book file status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("book file not found: %s", id)
	}
	return nil
}

// CountByHash 统计引用某内容哈希的文件记录数
func (r *bookFileRepository) CountByHash(ctx context.Context, contentHash string) (int64, error) {
	var count int64
	if err := r.db.GetDBFromContext(ctx).
		Model(&models.BookFile{}).
		Where("content_hash = ?", contentHash).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count book files by hash: %w", err)
	}
	return count, nil
}

// DeleteByBookID 删除书籍的全部文件记录
func (r *bookFileRepository) DeleteByBookID(ctx context.Context, bookID uuid.UUID) error {
	if err := r.db.GetDBFromContext(ctx).
		Delete(&models.BookFile{}, "book_id = ?", bookID).Error; err != nil {
		return fmt.Errorf("failed to delete book files: %w", err)
	}
	return nil
}

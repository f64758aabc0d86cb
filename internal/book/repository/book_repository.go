package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lk2023060901/bookhub-backend/internal/book/models"
	booktypes "github.com/lk2023060901/bookhub-backend/internal/book/types"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/database"
)

// ListFilter 书籍列表过滤条件
type ListFilter struct {
	Status booktypes.ProcessStatus
	Author string
	Search string // 标题模糊匹配
	Page   int
	Size   int
}

// BookRepository 书籍仓储接口
type BookRepository interface {
	// Create 创建书籍
	Create(ctx context.Context, book *models.Book) error

	// GetByID 根据 ID 获取书籍
	GetByID(ctx context.Context, id uuid.UUID) (*models.Book, error)

	// List 按条件分页查询书籍
	List(ctx context.Context, filter ListFilter) ([]*models.Book, int64, error)

	// Update 整体更新书籍
	Update(ctx context.Context, book *models.Book) error

	// UpdateFields 按字段更新书籍
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error

	// UpdateStatus 更新处理状态
	UpdateStatus(ctx context.Context, id uuid.UUID, status booktypes.ProcessStatus) error

	// Delete 删除书籍
	Delete(ctx context.Context, id uuid.UUID) error
}

// bookRepository 书籍仓储实现
type bookRepository struct {
	db *database.DB
}

// NewBookRepository 创建书籍仓储
func NewBookRepository(db *database.DB) BookRepository {
	return &bookRepository{
		db: db,
	}
}

// Create 创建书籍
func (r *bookRepository) Create(ctx context.Context, book *models.Book) error {
	if err := book.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if err := r.db.GetDBFromContext(ctx).Create(book).Error; err != nil {
		return fmt.Errorf("failed to create book: %w", err)
	}

	return nil
}

// GetByID 根据 ID 获取书籍
func (r *bookRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	var book models.Book
	if err := r.db.GetDBFromContext(ctx).Where("id = ?", id).First(&book).Error; err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return &book, nil
}

// List 按条件分页查询书籍
func (r *bookRepository) List(ctx context.Context, filter ListFilter) ([]*models.Book, int64, error) {
	var books []*models.Book
	var total int64

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Size < 1 {
		filter.Size = 20
	}
	offset := (filter.Page - 1) * filter.Size

	query := r.db.GetDBFromContext(ctx).Model(&models.Book{})

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Author != "" {
		query = query.Where("author = ?", filter.Author)
	}
	if filter.Search != "" {
		query = query.Where("title ILIKE ?", "%"+filter.Search+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count books: %w", err)
	}

	if err := query.
		Preload("Files").
		Order("created_at DESC").
		Limit(filter.Size).
		Offset(offset).
		Find(&books).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list books: %w", err)
	}

	return books, total, nil
}

// Update 整体更新书籍
func (r *bookRepository) Update(ctx context.Context, book *models.Book) error {
	if err := book.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if err := r.db.GetDBFromContext(ctx).Save(book).Error; err != nil {
		return fmt.Errorf("failed to update book: %w", err)
	}

	return nil
}

// UpdateFields 按字段更新书籍
func (r *bookRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	result := r.db.GetDBFromContext(ctx).
		Model(&models.Book{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update book fields: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("book not found: %s", id)
	}

	return nil
}

// UpdateStatus 更新处理状态
func (r *bookRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status booktypes.ProcessStatus) error {
	return r.UpdateFields(ctx, id, map[string]interface{}{
		"status": status.String(),
	})
}

// Delete 删除书籍
func (r *bookRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.db.GetDBFromContext(ctx).Delete(&models.Book{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	return nil
}

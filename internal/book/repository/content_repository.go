package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/lk2023060901/bookhub-backend/internal/book/models"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/database"
)

// ContentRepository 解析产物仓储接口
type ContentRepository interface {
	// UpsertStructure 写入或覆盖结构记录（每本书至多一条），返回落库后的记录
	UpsertStructure(ctx context.Context, structure *models.ContentStructure) (*models.ContentStructure, error)

	// GetStructureByBookID 获取书籍的结构记录
	GetStructureByBookID(ctx context.Context, bookID uuid.UUID) (*models.ContentStructure, error)

	// ReplaceChapters 整体替换结构下的章节
	ReplaceChapters(ctx context.Context, structureID uuid.UUID, chapters []*models.Chapter) error

	// GetChapter 按书和章节号获取章节
	GetChapter(ctx context.Context, bookID uuid.UUID, number int) (*models.Chapter, error)

	// ListChapters 按序获取结构下的全部章节（不含正文）
	ListChapters(ctx context.Context, structureID uuid.UUID) ([]*models.Chapter, error)

	// ReplaceTOC 整体替换结构下的目录条目
	ReplaceTOC(ctx context.Context, structureID uuid.UUID, entries []*models.TOCEntry) error

	// ListTOC 按序获取结构下的目录条目
	ListTOC(ctx context.Context, structureID uuid.UUID) ([]*models.TOCEntry, error)

	// ReplaceAssets 整体替换书籍的资源记录
	ReplaceAssets(ctx context.Context, bookID uuid.UUID, assets []*models.Asset) error

	// ListAssets 获取书籍的资源记录
	ListAssets(ctx context.Context, bookID uuid.UUID) ([]*models.Asset, error)

	// DeleteByBookID 删除书籍的全部解析产物
	DeleteByBookID(ctx context.Context, bookID uuid.UUID) error
}

// contentRepository 解析产物仓储实现
type contentRepository struct {
	db *database.DB
}

// NewContentRepository 创建解析产物仓储
func NewContentRepository(db *database.DB) ContentRepository {
	return &contentRepository{
		db: db,
	}
}

// UpsertStructure 写入或覆盖结构记录
func (r *contentRepository) UpsertStructure(ctx context.Context, structure *models.ContentStructure) (*models.ContentStructure, error) {
	if err := structure.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	if err := r.db.GetDBFromContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "book_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"metadata", "chapter_count", "word_count", "reading_time",
			"extraction_method", "extractor_version", "warnings", "updated_at",
		}),
	}).Create(structure).Error; err != nil {
		return nil, fmt.Errorf("failed to upsert content structure: %w", err)
	}

	// 冲突更新时 gorm 不回填既有主键，重新读取
	return r.GetStructureByBookID(ctx, structure.BookID)
}

// GetStructureByBookID 获取书籍的结构记录
func (r *contentRepository) GetStructureByBookID(ctx context.Context, bookID uuid.UUID) (*models.ContentStructure, error) {
	var structure models.ContentStructure
	if err := r.db.GetDBFromContext(ctx).
		Where("book_id = ?", bookID).
		First(&structure).Error; err != nil {
		return nil, fmt.Errorf("failed to get content structure: %w", err)
	}
	return &structure, nil
}

// ReplaceChapters 整体替换结构下的章节
func (r *contentRepository) ReplaceChapters(ctx context.Context, structureID uuid.UUID, chapters []*models.Chapter) error {
	conn := r.db.GetDBFromContext(ctx)

	if err := conn.Delete(&models.Chapter{}, "structure_id = ?", structureID).Error; err != nil {
		return fmt.Errorf("failed to clear chapters: %w", err)
	}

	if len(chapters) == 0 {
		return nil
	}

	for _, ch := range chapters {
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("validation failed for chapter %d: %w", ch.ChapterNumber, err)
		}
	}

	if err := conn.CreateInBatches(chapters, 50).Error; err != nil {
		return fmt.Errorf("failed to create chapters: %w", err)
	}

	return nil
}

// GetChapter 按书和章节号获取章节
func (r *contentRepository) GetChapter(ctx context.Context, bookID uuid.UUID, number int) (*models.Chapter, error) {
	var chapter models.Chapter
	if err := r.db.GetDBFromContext(ctx).
		Where("book_id = ? AND chapter_number = ?", bookID, number).
		First(&chapter).Error; err != nil {
		return nil, fmt.Errorf("failed to get chapter: %w", err)
	}
	return &chapter, nil
}

// ListChapters 按序获取结构下的全部章节（不含正文）
func (r *contentRepository) ListChapters(ctx context.Context, structureID uuid.UUID) ([]*models.Chapter, error) {
	var chapters []*models.Chapter
	if err := r.db.GetDBFromContext(ctx).
		Select("id", "structure_id", "book_id", "chapter_number", "title", "word_count", "reading_minutes", "created_at", "updated_at").
		Where("structure_id = ?", structureID).
		Order("chapter_number ASC").
		Find(&chapters).Error; err != nil {
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	return chapters, nil
}

// ReplaceTOC 整体替换结构下的目录条目
func (r *contentRepository) ReplaceTOC(ctx context.Context, structureID uuid.UUID, entries []*models.TOCEntry) error {
	conn := r.db.GetDBFromContext(ctx)

	if err := conn.Delete(&models.TOCEntry{}, "structure_id = ?", structureID).Error; err != nil {
		return fmt.Errorf("failed to clear toc entries: %w", err)
	}

	if len(entries) == 0 {
		return nil
	}

	if err := conn.CreateInBatches(entries, 100).Error; err != nil {
		return fmt.Errorf("failed to create toc entries: %w", err)
	}

	return nil
}

// ListTOC 按序获取结构下的目录条目
func (r *contentRepository) ListTOC(ctx context.Context, structureID uuid.UUID) ([]*models.TOCEntry, error) {
	var entries []*models.TOCEntry
	if err := r.db.GetDBFromContext(ctx).
		Where("structure_id = ?", structureID).
		Order("entry_order ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list toc entries: %w", err)
	}
	return entries, nil
}

// ReplaceAssets 整体替换书籍的资源记录
func (r *contentRepository) ReplaceAssets(ctx context.Context, bookID uuid.UUID, assets []*models.Asset) error {
	conn := r.db.GetDBFromContext(ctx)

	if err := conn.Delete(&models.Asset{}, "book_id = ?", bookID).Error; err != nil {
		return fmt.Errorf("failed to clear assets: %w", err)
	}

	if len(assets) == 0 {
		return nil
	}

	for _, a := range assets {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("validation failed for asset %s: %w", a.Href, err)
		}
	}

	if err := conn.CreateInBatches(assets, 100).Error; err != nil {
		return fmt.Errorf("failed to create assets: %w", err)
	}

	return nil
}

// ListAssets 获取书籍的资源记录
func (r *contentRepository) ListAssets(ctx context.Context, bookID uuid.UUID) ([]*models.Asset, error) {
	var assets []*models.Asset
	if err := r.db.GetDBFromContext(ctx).
		Where("book_id = ?", bookID).
		Order("created_at ASC").
		Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	return assets, nil
}

// DeleteByBookID 删除书籍的全部解析产物。
// 先删子表再删结构，避免外键约束失败。
func (r *contentRepository) DeleteByBookID(ctx context.Context, bookID uuid.UUID) error {
	conn := r.db.GetDBFromContext(ctx)

	structure, err := r.GetStructureByBookID(ctx, bookID)
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			// 没有解析产物也要清掉游离的资源记录
			if err := conn.Delete(&models.Asset{}, "book_id = ?", bookID).Error; err != nil {
				return fmt.Errorf("failed to delete assets: %w", err)
			}
			return nil
		}
		return err
	}

	if err := conn.Delete(&models.Chapter{}, "structure_id = ?", structure.ID).Error; err != nil {
		return fmt.Errorf("failed to delete chapters: %w", err)
	}
	if err := conn.Delete(&models.TOCEntry{}, "structure_id = ?", structure.ID).Error; err != nil {
		return fmt.Errorf("failed to delete toc entries: %w", err)
	}
	if err := conn.Delete(&models.Asset{}, "book_id = ?", bookID).Error; err != nil {
		return fmt.Errorf("failed to delete assets: %w", err)
	}
	if err := conn.Delete(&models.ContentStructure{}, "id = ?", structure.ID).Error; err != nil {
		return fmt.Errorf("failed to delete content structure: %w", err)
	}

	return nil
}

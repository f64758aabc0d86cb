package models

import (
	"context"
	"fmt"

	"github.com/lk2023060901/bookhub-backend/internal/pkg/database"
)

// AutoMigrate 自动迁移所有书籍相关表
func AutoMigrate(ctx context.Context, db *database.DB) error {
	// 按依赖顺序迁移表
	models := []interface{}{
		&Book{},
		&BookFile{},
		&ContentStructure{},
		&Chapter{},
		&TOCEntry{},
		&Asset{},
		&ParsingJob{},
	}

	for _, model := range models {
		if err := db.WithContext(ctx).AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	// 创建额外的索引
	if err := createIndexes(ctx, db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// createIndexes 创建额外的索引
func createIndexes(ctx context.Context, db *database.DB) error {
	// 书籍列表按状态和创建时间过滤
	if err := db.WithContext(ctx).Exec(`
		CREATE INDEX IF NOT EXISTS idx_books_status_created
		ON books(status, created_at DESC)
	`).Error; err != nil {
		return err
	}

	// 按书查文件
	if err := db.WithContext(ctx).Exec(`
		CREATE INDEX IF NOT EXISTS idx_book_files_book_kind
		ON book_files(book_id, kind)
	`).Error; err != nil {
		return err
	}

	// 章节按书和章节号顺序读取
	if err := db.WithContext(ctx).Exec(`
		CREATE INDEX IF NOT EXISTS idx_chapters_book_number
		ON chapters(book_id, chapter_number)
	`).Error; err != nil {
		return err
	}

	// 目录条目按结构和顺序读取
	if err := db.WithContext(ctx).Exec(`
		CREATE INDEX IF NOT EXISTS idx_toc_entries_structure_order
		ON toc_entries(structure_id, entry_order)
	`).Error; err != nil {
		return err
	}

	// 队列轮询按状态和入队时间取最早任务
	if err := db.WithContext(ctx).Exec(`
		CREATE INDEX IF NOT EXISTS idx_parsing_jobs_status_created
		ON parsing_jobs(status, created_at)
	`).Error; err != nil {
		return err
	}

	return nil
}

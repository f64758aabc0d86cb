package biz

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lk2023060901/bookhub-backend/internal/book/models"
	"github.com/lk2023060901/bookhub-backend/internal/book/repository"
	"github.com/lk2023060901/bookhub-backend/internal/book/storage"
	"github.com/lk2023060901/bookhub-backend/internal/book/types"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/database"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/errors"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/logger"
)

// CreateBookRequest 创建书籍请求
type CreateBookRequest struct {
	Title       string
	Author      string
	Publisher   string
	Language    string
	Description string
}

// UpdateBookRequest 更新书籍请求，仅允许更新白名单字段，nil 表示不变
type UpdateBookRequest struct {
	Title       *string
	Author      *string
	Publisher   *string
	Language    *string
	Description *string
}

// BookDetail 书籍详情：基础信息加解析产物概览
type BookDetail struct {
	Book      *models.Book
	Structure *models.ContentStructure
	TOC       []*models.TOCEntry
}

// BookUseCase 书籍管理用例
type BookUseCase struct {
	db      TxManager
	books   repository.BookRepository
	files   repository.BookFileRepository
	jobs    repository.ParsingJobRepository
	content repository.ContentRepository
	local   FileStorage
	objects ObjectStorage
	logger  *logger.Logger
}

// NewBookUseCase 创建书籍用例
func NewBookUseCase(
	db TxManager,
	books repository.BookRepository,
	files repository.BookFileRepository,
	jobs repository.ParsingJobRepository,
	content repository.ContentRepository,
	local FileStorage,
	objects ObjectStorage,
	log *logger.Logger,
) *BookUseCase {
	return &BookUseCase{
		db:      db,
		books:   books,
		files:   files,
		jobs:    jobs,
		content: content,
		local:   local,
		objects: objects,
		logger:  log,
	}
}

// newBookFromRequest 根据请求构造待入库的书籍记录
func newBookFromRequest(req *CreateBookRequest) (*models.Book, error) {
	if req.Title == "" || req.Author == "" {
		return nil, errors.New(errors.ErrBookInvalidParams, "title and author are required")
	}

	language := req.Language
	if language == "" {
		language = "en"
	}

	return &models.Book{
		Title:       req.Title,
		Author:      req.Author,
		Publisher:   req.Publisher,
		Language:    language,
		Description: req.Description,
		Status:      types.ProcessStatusPending.String(),
	}, nil
}

// CreateBook 创建书籍
func (uc *BookUseCase) CreateBook(ctx context.Context, req *CreateBookRequest) (*models.Book, error) {
	book, err := newBookFromRequest(req)
	if err != nil {
		return nil, err
	}
	if err := uc.books.Create(ctx, book); err != nil {
		return nil, err
	}

	uc.logger.Info("book created",
		zap.String("book_id", book.ID.String()),
		zap.String("title", book.Title),
	)

	return book, nil
}

// GetBook 获取书籍
func (uc *BookUseCase) GetBook(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	book, err := uc.books.GetByID(ctx, id)
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, errors.Wrap(err, errors.ErrBookNotFound, id.String())
		}
		return nil, err
	}
	return book, nil
}

// GetBookDetail 获取书籍详情，未解析的书籍没有结构和目录
func (uc *BookUseCase) GetBookDetail(ctx context.Context, id uuid.UUID) (*BookDetail, error) {
	book, err := uc.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &BookDetail{Book: book}

	structure, err := uc.content.GetStructureByBookID(ctx, id)
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return detail, nil
		}
		return nil, err
	}
	detail.Structure = structure

	toc, err := uc.content.ListTOC(ctx, structure.ID)
	if err != nil {
		return nil, err
	}
	detail.TOC = toc

	return detail, nil
}

// ListBooks 分页查询书籍
func (uc *BookUseCase) ListBooks(ctx context.Context, filter repository.ListFilter) ([]*models.Book, int64, error) {
	return uc.books.List(ctx, filter)
}

// UpdateBook 更新书籍，只接受白名单字段
func (uc *BookUseCase) UpdateBook(ctx context.Context, id uuid.UUID, req *UpdateBookRequest) (*models.Book, error) {
	if _, err := uc.GetBook(ctx, id); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{}
	if req.Title != nil {
		if *req.Title == "" {
			return nil, errors.New(errors.ErrBookInvalidParams, "title cannot be empty")
		}
		fields["title"] = *req.Title
	}
	if req.Author != nil {
		if *req.Author == "" {
			return nil, errors.New(errors.ErrBookInvalidParams, "author cannot be empty")
		}
		fields["author"] = *req.Author
	}
	if req.Publisher != nil {
		fields["publisher"] = *req.Publisher
	}
	if req.Language != nil && *req.Language != "" {
		fields["language"] = *req.Language
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}

	if len(fields) > 0 {
		if err := uc.books.UpdateFields(ctx, id, fields); err != nil {
			return nil, err
		}
	}

	return uc.GetBook(ctx, id)
}

// GetChapter 按章节号获取章节正文
func (uc *BookUseCase) GetChapter(ctx context.Context, bookID uuid.UUID, number int) (*models.Chapter, error) {
	if _, err := uc.GetBook(ctx, bookID); err != nil {
		return nil, err
	}

	chapter, err := uc.content.GetChapter(ctx, bookID, number)
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, errors.Wrap(err, errors.ErrBookChapterNotFound, "chapter not found")
		}
		return nil, err
	}
	return chapter, nil
}

// CoverURL 生成封面的签名访问凭证
func (uc *BookUseCase) CoverURL(ctx context.Context, id uuid.UUID, ttl time.Duration) (storage.SignedURL, error) {
	book, err := uc.GetBook(ctx, id)
	if err != nil {
		return storage.SignedURL{}, err
	}
	if book.CoverPath == "" {
		return storage.SignedURL{}, errors.New(errors.ErrStorageFileNotFound, "book has no cover")
	}
	return uc.local.CreateSecureURL(book.CoverPath, ttl)
}

// EbookDownloadURL 为电子书原始文件生成限时下载链接，
// 链接直连对象存储（预签名 GET）
func (uc *BookUseCase) EbookDownloadURL(ctx context.Context, bookID, fileID uuid.UUID, ttl time.Duration) (string, error) {
	file, err := uc.files.GetByID(ctx, fileID)
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return "", errors.Wrap(err, errors.ErrStorageFileNotFound, fileID.String())
		}
		return "", err
	}
	if file.BookID != bookID || !file.StoredInObjectStore() {
		return "", errors.New(errors.ErrStorageFileNotFound, fileID.String())
	}
	return uc.objects.DownloadURL(ctx, file.ContentHash, ttl)
}

// DeleteBook 删除书籍及全部关联数据。
// 先收集待清理的文件路径，再在单事务里级联删除数据库记录，
// 提交后尽力删除磁盘和对象存储里的文件——文件删除失败不回滚。
func (uc *BookUseCase) DeleteBook(ctx context.Context, id uuid.UUID) error {
	book, err := uc.GetBook(ctx, id)
	if err != nil {
		return err
	}

	// 删除前收集文件位置
	var localPaths []string
	if book.CoverPath != "" {
		localPaths = append(localPaths, book.CoverPath)
	}

	assets, err := uc.content.ListAssets(ctx, id)
	if err != nil {
		return err
	}
	for _, a := range assets {
		localPaths = append(localPaths, a.StoredPath)
	}

	bookFiles, err := uc.files.GetByBookID(ctx, id)
	if err != nil {
		return err
	}

	var removableHashes []string
	err = uc.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		txCtx := database.ContextWithTransaction(ctx, tx)

		ownedHashes := make(map[string]bool)
		for _, f := range bookFiles {
			if f.LocalPath != "" {
				localPaths = append(localPaths, f.LocalPath)
			}
			if f.MinioObjectKey != "" {
				ownedHashes[f.ContentHash] = true
			}
		}

		if err := uc.jobs.DeleteByBookID(txCtx, id); err != nil {
			return err
		}
		if err := uc.content.DeleteByBookID(txCtx, id); err != nil {
			return err
		}
		if err := uc.files.DeleteByBookID(txCtx, id); err != nil {
			return err
		}

		// 本书记录已删，再无其他书引用同一哈希时才允许删对象存储里的字节
		for hash := range ownedHashes {
			remaining, err := uc.files.CountByHash(txCtx, hash)
			if err != nil {
				return err
			}
			if remaining == 0 {
				removableHashes = append(removableHashes, hash)
			}
		}

		return uc.books.Delete(txCtx, id)
	})
	if err != nil {
		return err
	}

	// 数据库已提交，文件清理尽力而为
	for _, p := range localPaths {
		if err := uc.local.Delete(p); err != nil && !errors.Is(err, errors.ErrStorageFileNotFound) {
			uc.logger.Warn("delete local file failed", zap.String("path", p), zap.Error(err))
		}
	}
	for _, hash := range removableHashes {
		if err := uc.objects.Remove(ctx, hash); err != nil {
			uc.logger.Warn("delete object failed", zap.String("content_hash", hash), zap.Error(err))
		}
	}

	uc.logger.Info("book deleted",
		zap.String("book_id", id.String()),
		zap.Int("local_files", len(localPaths)),
		zap.Int("objects", len(removableHashes)),
	)

	return nil
}

// QueueDepth 当前解析队列里排队的任务数
func (uc *BookUseCase) QueueDepth(ctx context.Context) (int64, error) {
	return uc.jobs.CountByStatus(ctx, types.QueueStatusQueued)
}

// ProcessingCount 当前正在解析中的任务数
func (uc *BookUseCase) ProcessingCount(ctx context.Context) (int64, error) {
	return uc.jobs.CountByStatus(ctx, types.QueueStatusProcessing)
}

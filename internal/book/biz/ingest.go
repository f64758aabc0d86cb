package biz

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/lk2023060901/bookhub-backend/internal/book/models"
	"github.com/lk2023060901/bookhub-backend/internal/book/parser"
	"github.com/lk2023060901/bookhub-backend/internal/book/repository"
	"github.com/lk2023060901/bookhub-backend/internal/book/storage"
	"github.com/lk2023060901/bookhub-backend/internal/book/types"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/database"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/errors"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/logger"
)

// 解析器版本，随切分或元数据提取逻辑变化递增
const extractorVersion = "1.0.0"

// wordsPerPage 页数估算用的每页词数
const wordsPerPage = 300

func estimatePages(words int) int {
	if words <= 0 {
		return 0
	}
	return (words + wordsPerPage - 1) / wordsPerPage
}

// IngestUseCase 消费解析任务：取原始字节、调解析器、持久化产物
type IngestUseCase struct {
	db      TxManager
	books   repository.BookRepository
	files   repository.BookFileRepository
	jobs    repository.ParsingJobRepository
	content repository.ContentRepository
	objects ObjectStorage
	store   *storage.LocalStore
	logger  *logger.Logger
}

// NewIngestUseCase 创建解析用例
func NewIngestUseCase(
	db TxManager,
	books repository.BookRepository,
	files repository.BookFileRepository,
	jobs repository.ParsingJobRepository,
	content repository.ContentRepository,
	objects ObjectStorage,
	store *storage.LocalStore,
	log *logger.Logger,
) *IngestUseCase {
	return &IngestUseCase{
		db:      db,
		books:   books,
		files:   files,
		jobs:    jobs,
		content: content,
		objects: objects,
		store:   store,
		logger:  log,
	}
}

// ProcessJob 执行一次解析任务。
// 解析语义失败（容器损坏、格式不支持）直接标记终态；
// 基础设施失败返回错误，任务保持 processing 由调用方重试。
func (uc *IngestUseCase) ProcessJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := uc.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	if job.IsTerminal() {
		uc.logger.WithContext(ctx).Info("skipping terminal job",
			zap.String("job_id", jobID.String()),
			zap.String("status", job.Status),
		)
		return nil
	}

	ctx = logger.WithBookID(ctx, job.BookID.String())

	// 先取文件记录：记录已消失时直接终态，不先改任何状态
	file, err := uc.files.GetByID(ctx, job.FileID)
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			wrapped := errors.Wrap(err, errors.ErrParseFailed, "upload record vanished")
			uc.failPermanent(ctx, job, wrapped)
			return wrapped
		}
		return err
	}

	if job.Status == types.QueueStatusQueued.String() {
		if err := uc.jobs.MarkProcessing(ctx, jobID); err != nil {
			return err
		}
		if err := uc.books.UpdateStatus(ctx, job.BookID, types.ProcessStatusProcessing); err != nil {
			return err
		}
		if err := uc.files.UpdateStatus(ctx, job.FileID, types.ProcessStatusProcessing, ""); err != nil {
			return err
		}
	} else {
		// 重试路径：任务已处于 processing，只记次数
		if err := uc.jobs.IncrementAttempt(ctx, jobID); err != nil {
			return err
		}
	}

	data, err := uc.objects.Fetch(ctx, file.ContentHash)
	if err != nil {
		return err
	}

	p, err := parser.New(types.BookFormat(job.Format), uc.store, uc.logger)
	if err != nil {
		uc.failPermanent(ctx, job, err)
		return err
	}

	result, err := p.Parse(ctx, parser.Input{
		BookID:   job.BookID.String(),
		Filename: file.Filename,
		Data:     data,
	})
	if err != nil {
		if isParseError(err) {
			uc.failPermanent(ctx, job, err)
		}
		return err
	}

	if err := uc.persist(ctx, job, result); err != nil {
		return err
	}

	uc.logger.WithContext(ctx).Info("parsing job completed",
		zap.String("job_id", jobID.String()),
		zap.Int("chapters", len(result.Chapters)),
		zap.Int("word_count", result.WordCount),
	)

	return nil
}

// FailJob 重试耗尽后把任务和关联记录标记为失败
func (uc *IngestUseCase) FailJob(ctx context.Context, jobID uuid.UUID, reason string) error {
	job, err := uc.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.IsTerminal() {
		return nil
	}

	uc.markFailed(ctx, job, reason)
	return nil
}

// persist 解析产物单事务落库：结构、章节、目录、资源、统计和状态
func (uc *IngestUseCase) persist(ctx context.Context, job *models.ParsingJob, result *types.ParseResult) error {
	metadataJSON, err := json.Marshal(result.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	var warningsJSON []byte
	if len(result.Warnings) > 0 {
		if warningsJSON, err = json.Marshal(result.Warnings); err != nil {
			return fmt.Errorf("marshal warnings: %w", err)
		}
	}

	return uc.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		txCtx := database.ContextWithTransaction(ctx, tx)

		structure, err := uc.content.UpsertStructure(txCtx, &models.ContentStructure{
			BookID:           job.BookID,
			Metadata:         datatypes.JSON(metadataJSON),
			ChapterCount:     len(result.Chapters),
			WordCount:        result.WordCount,
			ReadingTime:      result.ReadingTime,
			ExtractionMethod: methodForFormat(types.BookFormat(job.Format)),
			ExtractorVersion: extractorVersion,
			Warnings:         datatypes.JSON(warningsJSON),
		})
		if err != nil {
			return err
		}

		chapters := make([]*models.Chapter, 0, len(result.Chapters))
		for _, ch := range result.Chapters {
			chapters = append(chapters, &models.Chapter{
				StructureID:    structure.ID,
				BookID:         job.BookID,
				ChapterNumber:  ch.Number,
				Title:          ch.Title,
				Content:        ch.Content,
				WordCount:      ch.WordCount,
				ReadingMinutes: ch.ReadingMinutes,
			})
		}
		if err := uc.content.ReplaceChapters(txCtx, structure.ID, chapters); err != nil {
			return err
		}

		entries := make([]*models.TOCEntry, 0, len(result.TOC))
		for _, e := range result.TOC {
			entries = append(entries, &models.TOCEntry{
				StructureID: structure.ID,
				EntryOrder:  e.Order,
				Level:       e.Level,
				Title:       e.Title,
				Href:        e.Href,
				Anchor:      e.Anchor,
			})
		}
		if err := uc.content.ReplaceTOC(txCtx, structure.ID, entries); err != nil {
			return err
		}

		assets := make([]*models.Asset, 0, len(result.Assets))
		for _, a := range result.Assets {
			assets = append(assets, &models.Asset{
				BookID:     job.BookID,
				Href:       a.Href,
				StoredPath: a.StoredPath,
				MediaType:  a.MediaType,
				AssetType:  a.Type.String(),
				FileSize:   a.Size,
				IsCover:    a.IsCoverImage,
			})
		}
		if err := uc.content.ReplaceAssets(txCtx, job.BookID, assets); err != nil {
			return err
		}

		fields := map[string]interface{}{
			"title":         result.Metadata.Title,
			"author":        result.Metadata.Author,
			"language":      result.Metadata.Language,
			"chapter_count": len(result.Chapters),
			"word_count":    result.WordCount,
			"page_count":    estimatePages(result.WordCount),
			"reading_time":  result.ReadingTime,
			"status":        types.ProcessStatusCompleted.String(),
		}
		if result.Metadata.Publisher != "" {
			fields["publisher"] = result.Metadata.Publisher
		}
		if result.Metadata.Identifier != "" {
			fields["identifier"] = result.Metadata.Identifier
		}
		if result.Metadata.Description != "" {
			fields["description"] = result.Metadata.Description
		}
		if result.Metadata.Date != "" {
			fields["publish_date"] = result.Metadata.Date
		}
		if result.Metadata.Rights != "" {
			fields["rights"] = result.Metadata.Rights
		}
		if len(result.Metadata.Subjects) > 0 {
			subjects, err := json.Marshal(result.Metadata.Subjects)
			if err != nil {
				return fmt.Errorf("marshal subjects: %w", err)
			}
			fields["subjects"] = datatypes.JSON(subjects)
		}
		if result.CoverPath != "" {
			fields["cover_path"] = result.CoverPath
		}
		if err := uc.books.UpdateFields(txCtx, job.BookID, fields); err != nil {
			return err
		}

		if err := uc.files.UpdateStatus(txCtx, job.FileID, types.ProcessStatusCompleted, ""); err != nil {
			return err
		}

		return uc.jobs.MarkCompleted(txCtx, job.ID)
	})
}

// failPermanent 解析语义失败：任务、文件、书籍一起标记失败
func (uc *IngestUseCase) failPermanent(ctx context.Context, job *models.ParsingJob, cause error) {
	uc.logger.WithContext(ctx).Error("parsing failed permanently",
		zap.String("job_id", job.ID.String()),
		zap.Error(cause),
	)
	uc.markFailed(ctx, job, cause.Error())
}

// markFailed 尽力而为的失败标记，标记动作本身的错误只记日志
func (uc *IngestUseCase) markFailed(ctx context.Context, job *models.ParsingJob, reason string) {
	if err := uc.jobs.MarkFailed(ctx, job.ID, reason); err != nil {
		uc.logger.Error("mark job failed errored", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	if err := uc.files.UpdateStatus(ctx, job.FileID, types.ProcessStatusFailed, reason); err != nil {
		uc.logger.Error("mark file failed errored", zap.String("file_id", job.FileID.String()), zap.Error(err))
	}
	if err := uc.books.UpdateStatus(ctx, job.BookID, types.ProcessStatusFailed); err != nil {
		uc.logger.Error("mark book failed errored", zap.String("book_id", job.BookID.String()), zap.Error(err))
	}
}

// isParseError 是否解析语义错误（重试无意义）
func isParseError(err error) bool {
	switch errors.ExtractCode(err) {
	case errors.ErrParseInvalidContainer,
		errors.ErrParseMissingPackage,
		errors.ErrParseMissingSpine,
		errors.ErrParseFailed:
		return true
	}
	return false
}

// methodForFormat 解析方式标识，写入结构记录
func methodForFormat(format types.BookFormat) string {
	switch format {
	case types.FormatEPUB:
		return "container"
	case types.FormatHTML:
		return "htmlbundle"
	case types.FormatMarkdown:
		return "markdown"
	}
	return "unknown"
}

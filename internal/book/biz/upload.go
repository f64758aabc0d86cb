package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lk2023060901/bookhub-backend/internal/book/models"
	"github.com/lk2023060901/bookhub-backend/internal/book/repository"
	"github.com/lk2023060901/bookhub-backend/internal/book/storage"
	"github.com/lk2023060901/bookhub-backend/internal/book/types"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/database"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/errors"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/logger"
)

const (
	// 上传去重锁：同一内容哈希并发上传串行化
	uploadLockPrefix = "lock:upload:"
	uploadLockTTL    = 30 * time.Second

	// defaultParsePriority 新建解析任务的调度优先级
	defaultParsePriority = 0
)

// 封面允许的扩展名
var coverExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
}

// UploadLimits 上传限制
type UploadLimits struct {
	MaxEbookSize  int64 // 电子书和样章的大小上限
	MaxImageSize  int64 // 封面图片的大小上限
	MaxQueueDepth int64 // 解析队列深度上限，0 表示不限
}

// UploadRequest 上传请求
type UploadRequest struct {
	BookID   uuid.UUID
	Kind     types.FileKind
	Filename string
	Data     []byte
}

// UploadResult 上传结果
type UploadResult struct {
	File         *models.BookFile
	Format       types.BookFormat
	Deduplicated bool      // 内容已存在，复用既有记录
	JobID        uuid.UUID // 新建解析任务时非零
}

// UploadUseCase 上传入口：校验、去重、落存储、触发解析
type UploadUseCase struct {
	books   repository.BookRepository
	files   repository.BookFileRepository
	jobs    repository.ParsingJobRepository
	local   FileStorage
	objects ObjectStorage
	locker  Locker
	queue   Enqueuer
	limits  UploadLimits
	logger  *logger.Logger
}

// NewUploadUseCase 创建上传用例
func NewUploadUseCase(
	books repository.BookRepository,
	files repository.BookFileRepository,
	jobs repository.ParsingJobRepository,
	local FileStorage,
	objects ObjectStorage,
	locker Locker,
	queue Enqueuer,
	limits UploadLimits,
	log *logger.Logger,
) *UploadUseCase {
	return &UploadUseCase{
		books:   books,
		files:   files,
		jobs:    jobs,
		local:   local,
		objects: objects,
		locker:  locker,
		queue:   queue,
		limits:  limits,
		logger:  log,
	}
}

// Upload 处理一次文件上传。
// 同一本书重复上传相同内容（SHA-256 相同）直接复用既有记录，不再触发解析；
// 不同书籍上传相同内容各自建记录，对象存储里的字节只存一份。
// 电子书上传成功后创建解析任务并入队。
func (uc *UploadUseCase) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	format, err := uc.validate(req)
	if err != nil {
		return nil, err
	}

	book, err := uc.books.GetByID(ctx, req.BookID)
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, errors.Wrap(err, errors.ErrBookNotFound, req.BookID.String())
		}
		return nil, err
	}

	sum := sha256.Sum256(req.Data)
	contentHash := hex.EncodeToString(sum[:])

	var result *UploadResult
	err = uc.locker.WithLock(ctx, uploadLockPrefix+contentHash, uploadLockTTL, func(ctx context.Context) error {
		var lockErr error
		result, lockErr = uc.store(ctx, req, book, format, contentHash)
		return lockErr
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// validate 校验类别、大小和扩展名
func (uc *UploadUseCase) validate(req *UploadRequest) (types.BookFormat, error) {
	if req.BookID == uuid.Nil || req.Filename == "" || len(req.Data) == 0 {
		return "", errors.New(errors.ErrBookInvalidParams, "book id, filename and data are required")
	}

	ext := strings.ToLower(filepath.Ext(req.Filename))

	switch req.Kind {
	case types.FileKindCover:
		if uc.limits.MaxImageSize > 0 && int64(len(req.Data)) > uc.limits.MaxImageSize {
			return "", errors.New(errors.ErrStorageImageTooLarge,
				fmt.Sprintf("cover exceeds %d bytes", uc.limits.MaxImageSize))
		}
		if !coverExts[ext] || !strings.HasPrefix(http.DetectContentType(req.Data), "image/") {
			return "", errors.New(errors.ErrBookInvalidFileType, req.Filename)
		}
		return "", nil

	case types.FileKindEbook, types.FileKindSample:
		if uc.limits.MaxEbookSize > 0 && int64(len(req.Data)) > uc.limits.MaxEbookSize {
			return "", errors.New(errors.ErrBookFileTooLarge,
				fmt.Sprintf("file exceeds %d bytes", uc.limits.MaxEbookSize))
		}
		format, ok := types.FormatForExtension(ext)
		if !ok {
			return "", errors.New(errors.ErrBookInvalidFileType, req.Filename)
		}
		return format, nil
	}

	return "", errors.New(errors.ErrBookInvalidParams, "unsupported file kind: "+req.Kind.String())
}

// store 锁内执行：写存储、落记录、触发解析
func (uc *UploadUseCase) store(ctx context.Context, req *UploadRequest, book *models.Book,
	format types.BookFormat, contentHash string) (*UploadResult, error) {

	file := &models.BookFile{
		BookID:      req.BookID,
		Kind:        req.Kind.String(),
		Format:      format.String(),
		Filename:    req.Filename,
		FileSize:    int64(len(req.Data)),
		ContentHash: contentHash,
		Status:      types.ProcessStatusPending.String(),
	}

	var localPath string
	switch req.Kind {
	case types.FileKindCover:
		target := uc.local.GenerateSecurePath(types.FileKindCover, req.BookID.String(), req.Filename, "")
		stored, err := uc.local.Store(req.Data, target)
		if err != nil {
			return nil, err
		}
		localPath = stored.Path
		file.LocalPath = stored.Path
		// 封面无需解析，落盘即完成
		file.Status = types.ProcessStatusCompleted.String()

	case types.FileKindEbook, types.FileKindSample:
		// 内容寻址：同样的字节已在对象存储里就不再写一遍
		exists, err := uc.objects.Exists(ctx, contentHash)
		if err != nil {
			return nil, err
		}
		objectKey := storage.ObjectKey(contentHash)
		if !exists {
			if objectKey, err = uc.objects.Put(ctx, contentHash, req.Data, contentTypeForFormat(format)); err != nil {
				return nil, err
			}
		}
		file.MinioBucket = uc.objects.Bucket()
		file.MinioObjectKey = objectKey
	}

	persisted, created, err := uc.files.CreateOrGet(ctx, file)
	if err != nil {
		return nil, err
	}

	result := &UploadResult{File: persisted, Format: format, Deduplicated: !created}

	if !created {
		// 去重短路：回收刚写入的本地副本，复用既有记录
		if localPath != "" && persisted.LocalPath != localPath {
			if delErr := uc.local.Delete(localPath); delErr != nil {
				uc.logger.Warn("cleanup duplicate cover failed",
					zap.String("path", localPath), zap.Error(delErr))
			}
		}
		if req.Kind == types.FileKindCover && persisted.LocalPath != "" {
			if err := uc.books.UpdateFields(ctx, book.ID, map[string]interface{}{
				"cover_path": persisted.LocalPath,
			}); err != nil {
				return nil, err
			}
		}

		uc.logger.Info("upload deduplicated",
			zap.String("book_id", req.BookID.String()),
			zap.String("content_hash", contentHash),
			zap.Int("ref_count", persisted.RefCount),
		)
		return result, nil
	}

	if req.Kind == types.FileKindCover {
		if err := uc.books.UpdateFields(ctx, book.ID, map[string]interface{}{
			"cover_path": persisted.LocalPath,
		}); err != nil {
			return nil, err
		}
		return result, nil
	}

	if req.Kind == types.FileKindEbook {
		jobID, err := uc.enqueueParsing(ctx, persisted, format)
		if err != nil {
			return nil, err
		}
		result.JobID = jobID
	}

	uc.logger.Info("file uploaded",
		zap.String("book_id", req.BookID.String()),
		zap.String("kind", req.Kind.String()),
		zap.String("content_hash", contentHash),
		zap.Int64("size", persisted.FileSize),
	)

	return result, nil
}

// enqueueParsing 创建解析任务并入队
func (uc *UploadUseCase) enqueueParsing(ctx context.Context, file *models.BookFile, format types.BookFormat) (uuid.UUID, error) {
	if uc.limits.MaxQueueDepth > 0 {
		depth, err := uc.queue.Depth(ctx)
		if err != nil {
			return uuid.Nil, err
		}
		if depth >= uc.limits.MaxQueueDepth {
			return uuid.Nil, errors.New(errors.ErrParseQueueFull,
				fmt.Sprintf("queue depth %d reached limit", depth))
		}
	}

	job := &models.ParsingJob{
		BookID:   file.BookID,
		FileID:   file.ID,
		Format:   format.String(),
		Status:   types.QueueStatusQueued.String(),
		Priority: defaultParsePriority,
	}
	if err := uc.jobs.Create(ctx, job); err != nil {
		return uuid.Nil, err
	}

	if err := uc.queue.Enqueue(ctx, job.ID); err != nil {
		return uuid.Nil, err
	}

	return job.ID, nil
}

// FilePayload 随建书请求附带的文件内容
type FilePayload struct {
	Filename string
	Data     []byte
}

// CreateBookWithFiles 创建书籍，并处理随请求附带的封面和电子书。
// 封面先落盘，电子书走上传去重链路并触发解析；
// 任一步失败即返回错误，已创建的书籍保留 pending 状态。
func (uc *UploadUseCase) CreateBookWithFiles(
	ctx context.Context,
	req *CreateBookRequest,
	cover, ebook *FilePayload,
) (*models.Book, *UploadResult, error) {
	book, err := newBookFromRequest(req)
	if err != nil {
		return nil, nil, err
	}
	if err := uc.books.Create(ctx, book); err != nil {
		return nil, nil, err
	}

	if cover != nil {
		if _, err := uc.Upload(ctx, &UploadRequest{
			BookID:   book.ID,
			Kind:     types.FileKindCover,
			Filename: cover.Filename,
			Data:     cover.Data,
		}); err != nil {
			return nil, nil, err
		}
	}

	var result *UploadResult
	if ebook != nil {
		result, err = uc.Upload(ctx, &UploadRequest{
			BookID:   book.ID,
			Kind:     types.FileKindEbook,
			Filename: ebook.Filename,
			Data:     ebook.Data,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	created, err := uc.books.GetByID(ctx, book.ID)
	if err != nil {
		return nil, nil, err
	}

	uc.logger.Info("book created",
		zap.String("book_id", created.ID.String()),
		zap.String("title", created.Title),
		zap.Bool("with_cover", cover != nil),
		zap.Bool("with_ebook", ebook != nil),
	)

	return created, result, nil
}

// contentTypeForFormat 电子书原始字节的存储内容类型
func contentTypeForFormat(format types.BookFormat) string {
	switch format {
	case types.FormatEPUB:
		return "application/epub+zip"
	case types.FormatHTML:
		return "text/html"
	case types.FormatMarkdown:
		return "text/markdown"
	}
	return "application/octet-stream"
}

package biz

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/bookhub-backend/internal/book/models"
	"github.com/lk2023060901/bookhub-backend/internal/book/repository"
	"github.com/lk2023060901/bookhub-backend/internal/book/storage"
	"github.com/lk2023060901/bookhub-backend/internal/book/types"
	apperrors "github.com/lk2023060901/bookhub-backend/internal/pkg/errors"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/logger"
)

type bookFixture struct {
	uc      *BookUseCase
	books   *fakeBookRepo
	files   *fakeFileRepo
	jobs    *fakeJobRepo
	content *fakeContentRepo
	objects *fakeObjects
	local   *storage.LocalStore
}

func newBookFixture(t *testing.T) *bookFixture {
	t.Helper()

	log, err := logger.New(nil)
	require.NoError(t, err)

	base := t.TempDir()
	local, err := storage.NewLocalStore(&storage.Config{
		CoverRoot:  filepath.Join(base, "covers"),
		AssetRoot:  filepath.Join(base, "assets"),
		TempRoot:   filepath.Join(base, "temp"),
		SigningKey: "test-secret",
		TokenTTL:   15 * time.Minute,
	}, log)
	require.NoError(t, err)

	f := &bookFixture{
		books:   newFakeBookRepo(),
		files:   newFakeFileRepo(),
		jobs:    newFakeJobRepo(),
		content: newFakeContentRepo(),
		objects: newFakeObjects(),
		local:   local,
	}
	f.uc = NewBookUseCase(fakeTx{}, f.books, f.files, f.jobs, f.content, f.local, f.objects, log)
	return f
}

func TestCreateBook(t *testing.T) {
	f := newBookFixture(t)

	book, err := f.uc.CreateBook(context.Background(), &CreateBookRequest{
		Title:  "孙子兵法",
		Author: "孙武",
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, book.ID)
	assert.Equal(t, "en", book.Language, "language defaults when unset")
	assert.Equal(t, types.ProcessStatusPending.String(), book.Status)
}

func TestCreateBookRequiresTitleAndAuthor(t *testing.T) {
	f := newBookFixture(t)

	_, err := f.uc.CreateBook(context.Background(), &CreateBookRequest{Author: "someone"})
	assert.True(t, apperrors.Is(err, apperrors.ErrBookInvalidParams))

	_, err = f.uc.CreateBook(context.Background(), &CreateBookRequest{Title: "untitled"})
	assert.True(t, apperrors.Is(err, apperrors.ErrBookInvalidParams))
}

func TestGetBookNotFound(t *testing.T) {
	f := newBookFixture(t)

	_, err := f.uc.GetBook(context.Background(), uuid.New())
	assert.True(t, apperrors.Is(err, apperrors.ErrBookNotFound))
}

func TestGetBookDetail(t *testing.T) {
	f := newBookFixture(t)
	ctx := context.Background()

	book, err := f.uc.CreateBook(ctx, &CreateBookRequest{Title: "T", Author: "A"})
	require.NoError(t, err)

	// 尚未解析：详情只有书籍本身
	detail, err := f.uc.GetBookDetail(ctx, book.ID)
	require.NoError(t, err)
	assert.Nil(t, detail.Structure)
	assert.Empty(t, detail.TOC)

	structure, err := f.content.UpsertStructure(ctx, &models.ContentStructure{
		BookID:           book.ID,
		ChapterCount:     2,
		ExtractionMethod: "container",
		ExtractorVersion: "1.0.0",
	})
	require.NoError(t, err)
	require.NoError(t, f.content.ReplaceTOC(ctx, structure.ID, []*models.TOCEntry{
		{StructureID: structure.ID, EntryOrder: 1, Level: 1, Title: "Chapter 1"},
		{StructureID: structure.ID, EntryOrder: 2, Level: 1, Title: "Chapter 2"},
	}))

	detail, err = f.uc.GetBookDetail(ctx, book.ID)
	require.NoError(t, err)
	require.NotNil(t, detail.Structure)
	assert.Equal(t, 2, detail.Structure.ChapterCount)
	assert.Len(t, detail.TOC, 2)
}

func TestUpdateBookWhitelist(t *testing.T) {
	f := newBookFixture(t)
	ctx := context.Background()

	book, err := f.uc.CreateBook(ctx, &CreateBookRequest{Title: "Old", Author: "A"})
	require.NoError(t, err)

	title := "New Title"
	updated, err := f.uc.UpdateBook(ctx, book.ID, &UpdateBookRequest{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "New Title", updated.Title)
	assert.Equal(t, "A", updated.Author)

	empty := ""
	_, err = f.uc.UpdateBook(ctx, book.ID, &UpdateBookRequest{Title: &empty})
	assert.True(t, apperrors.Is(err, apperrors.ErrBookInvalidParams))

	_, err = f.uc.UpdateBook(ctx, uuid.New(), &UpdateBookRequest{Title: &title})
	assert.True(t, apperrors.Is(err, apperrors.ErrBookNotFound))
}

func TestGetChapter(t *testing.T) {
	f := newBookFixture(t)
	ctx := context.Background()

	book, err := f.uc.CreateBook(ctx, &CreateBookRequest{Title: "T", Author: "A"})
	require.NoError(t, err)

	structure, err := f.content.UpsertStructure(ctx, &models.ContentStructure{BookID: book.ID})
	require.NoError(t, err)
	require.NoError(t, f.content.ReplaceChapters(ctx, structure.ID, []*models.Chapter{
		{StructureID: structure.ID, BookID: book.ID, ChapterNumber: 1, Title: "One", Content: "<p>hello</p>"},
	}))

	chapter, err := f.uc.GetChapter(ctx, book.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "One", chapter.Title)

	_, err = f.uc.GetChapter(ctx, book.ID, 99)
	assert.True(t, apperrors.Is(err, apperrors.ErrBookChapterNotFound))
}

func TestCoverURL(t *testing.T) {
	f := newBookFixture(t)
	ctx := context.Background()

	book, err := f.uc.CreateBook(ctx, &CreateBookRequest{Title: "T", Author: "A"})
	require.NoError(t, err)

	// 没有封面时拒绝签发
	_, err = f.uc.CoverURL(ctx, book.ID, time.Minute)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorageFileNotFound))

	path := f.local.GenerateSecurePath(types.FileKindCover, book.ID.String(), "front.png", "")
	_, err = f.local.Store(pngBytes, path)
	require.NoError(t, err)
	require.NoError(t, f.books.UpdateFields(ctx, book.ID, map[string]interface{}{"cover_path": path}))

	signed, err := f.uc.CoverURL(ctx, book.ID, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, signed.Token)
	assert.Equal(t, path, signed.Path)
}

func TestListBooks(t *testing.T) {
	f := newBookFixture(t)
	ctx := context.Background()

	for _, title := range []string{"One", "Two", "Three"} {
		_, err := f.uc.CreateBook(ctx, &CreateBookRequest{Title: title, Author: "A"})
		require.NoError(t, err)
	}

	books, total, err := f.uc.ListBooks(ctx, repository.ListFilter{Page: 1, Size: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, books, 3)
}

func TestEbookDownloadURL(t *testing.T) {
	f := newBookFixture(t)
	ctx := context.Background()

	book, err := f.uc.CreateBook(ctx, &CreateBookRequest{Title: "T", Author: "A"})
	require.NoError(t, err)

	file, _, err := f.files.CreateOrGet(ctx, &models.BookFile{
		BookID:         book.ID,
		Kind:           types.FileKindEbook.String(),
		Format:         types.FormatEPUB.String(),
		Filename:       "novel.epub",
		FileSize:       4,
		ContentHash:    "dl-hash",
		MinioBucket:    "test-bucket",
		MinioObjectKey: storage.ObjectKey("dl-hash"),
		Status:         types.ProcessStatusCompleted.String(),
	})
	require.NoError(t, err)
	f.objects.blobs["dl-hash"] = []byte("data")

	url, err := f.uc.EbookDownloadURL(ctx, book.ID, file.ID, 15*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, storage.ObjectKey("dl-hash"))

	// 文件不属于这本书时拒绝
	_, err = f.uc.EbookDownloadURL(ctx, uuid.New(), file.ID, 15*time.Minute)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorageFileNotFound))

	// 记录不存在
	_, err = f.uc.EbookDownloadURL(ctx, book.ID, uuid.New(), 15*time.Minute)
	assert.True(t, apperrors.Is(err, apperrors.ErrStorageFileNotFound))
}

func TestDeleteBookKeepsSharedBlob(t *testing.T) {
	f := newBookFixture(t)
	ctx := context.Background()

	book1, err := f.uc.CreateBook(ctx, &CreateBookRequest{Title: "One", Author: "A"})
	require.NoError(t, err)
	book2, err := f.uc.CreateBook(ctx, &CreateBookRequest{Title: "Two", Author: "A"})
	require.NoError(t, err)

	// 两本书各自持有记录，共享同一份对象存储字节
	for _, id := range []uuid.UUID{book1.ID, book2.ID} {
		_, created, err := f.files.CreateOrGet(ctx, &models.BookFile{
			BookID:         id,
			Kind:           types.FileKindEbook.String(),
			Format:         types.FormatEPUB.String(),
			Filename:       "shared.epub",
			FileSize:       5,
			ContentHash:    "shared-hash",
			MinioBucket:    "test-bucket",
			MinioObjectKey: storage.ObjectKey("shared-hash"),
			Status:         types.ProcessStatusCompleted.String(),
		})
		require.NoError(t, err)
		require.True(t, created)
	}
	f.objects.blobs["shared-hash"] = []byte("bytes")

	require.NoError(t, f.uc.DeleteBook(ctx, book1.ID))

	// 另一本书仍引用该内容，字节和它自己的记录都保留
	exists, err := f.objects.Exists(ctx, "shared-hash")
	require.NoError(t, err)
	assert.True(t, exists)

	remaining, err := f.files.GetByBookID(ctx, book2.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)

	// 最后一个引用删除后字节才被回收
	require.NoError(t, f.uc.DeleteBook(ctx, book2.ID))
	exists, err = f.objects.Exists(ctx, "shared-hash")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestQueueCounters(t *testing.T) {
	f := newBookFixture(t)
	ctx := context.Background()

	jobs := make([]*models.ParsingJob, 3)
	for i := range jobs {
		jobs[i] = &models.ParsingJob{
			BookID: uuid.New(),
			FileID: uuid.New(),
			Format: types.FormatEPUB.String(),
			Status: types.QueueStatusQueued.String(),
		}
		require.NoError(t, f.jobs.Create(ctx, jobs[i]))
	}
	require.NoError(t, f.jobs.MarkProcessing(ctx, jobs[0].ID))

	depth, err := f.uc.QueueDepth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, depth)

	processing, err := f.uc.ProcessingCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, processing)
}

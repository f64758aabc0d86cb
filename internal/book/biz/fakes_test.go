package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lk2023060901/bookhub-backend/internal/book/models"
	"github.com/lk2023060901/bookhub-backend/internal/book/repository"
	"github.com/lk2023060901/bookhub-backend/internal/book/storage"
	booktypes "github.com/lk2023060901/bookhub-backend/internal/book/types"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/database"
)

// 内存实现的仓储和外部依赖，测试用

// fakeTx 直接执行事务函数，内存仓储不区分事务内外
type fakeTx struct{}

func (fakeTx) Transaction(ctx context.Context, fn database.TxFunc) error {
	return fn(ctx, nil)
}

type fakeBookRepo struct {
	mu      sync.Mutex
	books   map[uuid.UUID]*models.Book
	deleted []uuid.UUID
}

func newFakeBookRepo() *fakeBookRepo {
	return &fakeBookRepo{books: map[uuid.UUID]*models.Book{}}
}

func (r *fakeBookRepo) Create(ctx context.Context, book *models.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if book.ID == uuid.Nil {
		book.ID = uuid.New()
	}
	r.books[book.ID] = book
	return nil
}

func (r *fakeBookRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	book, ok := r.books[id]
	if !ok {
		return nil, fmt.Errorf("failed to get book: %w", gorm.ErrRecordNotFound)
	}
	copied := *book
	return &copied, nil
}

func (r *fakeBookRepo) List(ctx context.Context, filter repository.ListFilter) ([]*models.Book, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Book
	for _, b := range r.books {
		copied := *b
		out = append(out, &copied)
	}
	return out, int64(len(out)), nil
}

func (r *fakeBookRepo) Update(ctx context.Context, book *models.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books[book.ID] = book
	return nil
}

func (r *fakeBookRepo) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	book, ok := r.books[id]
	if !ok {
		return fmt.Errorf("book not found: %s", id)
	}
	if v, ok := fields["cover_path"].(string); ok {
		book.CoverPath = v
	}
	if v, ok := fields["status"].(string); ok {
		book.Status = v
	}
	if v, ok := fields["title"].(string); ok {
		book.Title = v
	}
	if v, ok := fields["author"].(string); ok {
		book.Author = v
	}
	if v, ok := fields["chapter_count"].(int); ok {
		book.ChapterCount = v
	}
	if v, ok := fields["word_count"].(int); ok {
		book.WordCount = v
	}
	if v, ok := fields["reading_time"].(int); ok {
		book.ReadingTime = v
	}
	return nil
}

func (r *fakeBookRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status booktypes.ProcessStatus) error {
	return r.UpdateFields(ctx, id, map[string]interface{}{"status": status.String()})
}

func (r *fakeBookRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.books, id)
	r.deleted = append(r.deleted, id)
	return nil
}

type fakeFileRepo struct {
	mu      sync.Mutex
	files   map[uuid.UUID]*models.BookFile
	deleted []uuid.UUID // 按 book_id 删除的书
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{
		files: map[uuid.UUID]*models.BookFile{},
	}
}

func (r *fakeFileRepo) CreateOrGet(ctx context.Context, file *models.BookFile) (*models.BookFile, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.files {
		if existing.BookID == file.BookID && existing.ContentHash == file.ContentHash {
			existing.RefCount++
			copied := *existing
			return &copied, false, nil
		}
	}
	file.ID = uuid.New()
	if file.RefCount == 0 {
		file.RefCount = 1
	}
	r.files[file.ID] = file
	copied := *file
	return &copied, true, nil
}

func (r *fakeFileRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.BookFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[id]
	if !ok {
		return nil, fmt.Errorf("failed to get book file: %w", gorm.ErrRecordNotFound)
	}
	copied := *file
	return &copied, nil
}

func (r *fakeFileRepo) GetByBookAndHash(ctx context.Context, bookID uuid.UUID, hash string) (*models.BookFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.BookID == bookID && f.ContentHash == hash {
			copied := *f
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("failed to get book file by hash: %w", gorm.ErrRecordNotFound)
}

func (r *fakeFileRepo) GetByBookID(ctx context.Context, bookID uuid.UUID) ([]*models.BookFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.BookFile
	for _, f := range r.files {
		if f.BookID == bookID {
			copied := *f
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeFileRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status booktypes.ProcessStatus, errorMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[id]
	if !ok {
		return fmt.Errorf("book file not found: %s", id)
	}
	file.Status = status.String()
	file.ErrorMessage = errorMsg
	return nil
}

func (r *fakeFileRepo) CountByHash(ctx context.Context, hash string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, f := range r.files {
		if f.ContentHash == hash {
			count++
		}
	}
	return count, nil
}

func (r *fakeFileRepo) DeleteByBookID(ctx context.Context, bookID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, f := range r.files {
		if f.BookID == bookID {
			delete(r.files, id)
		}
	}
	r.deleted = append(r.deleted, bookID)
	return nil
}

type fakeJobRepo struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*models.ParsingJob
	deleted []uuid.UUID
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: map[uuid.UUID]*models.ParsingJob{}}
}

func (r *fakeJobRepo) Create(ctx context.Context, job *models.ParsingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.ID = uuid.New()
	r.jobs[job.ID] = job
	return nil
}

func (r *fakeJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ParsingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("failed to get parsing job: %w", gorm.ErrRecordNotFound)
	}
	copied := *job
	return &copied, nil
}

func (r *fakeJobRepo) setStatus(id uuid.UUID, from []booktypes.QueueStatus, to booktypes.QueueStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("job not found: %s", id)
	}
	allowed := false
	for _, f := range from {
		if job.Status == f.String() {
			allowed = true
		}
	}
	if !allowed {
		return fmt.Errorf("job %s not in expected state", id)
	}
	job.Status = to.String()
	job.ErrorMessage = errMsg
	return nil
}

func (r *fakeJobRepo) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	if err := r.setStatus(id, []booktypes.QueueStatus{booktypes.QueueStatusQueued}, booktypes.QueueStatusProcessing, ""); err != nil {
		return err
	}
	r.mu.Lock()
	r.jobs[id].Attempts++
	r.mu.Unlock()
	return nil
}

func (r *fakeJobRepo) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return r.setStatus(id, []booktypes.QueueStatus{booktypes.QueueStatusProcessing}, booktypes.QueueStatusCompleted, "")
}

func (r *fakeJobRepo) MarkFailed(ctx context.Context, id uuid.UUID, errorMsg string) error {
	return r.setStatus(id, []booktypes.QueueStatus{booktypes.QueueStatusQueued, booktypes.QueueStatusProcessing}, booktypes.QueueStatusFailed, errorMsg)
}

func (r *fakeJobRepo) IncrementAttempt(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[id]; ok {
		job.Attempts++
	}
	return nil
}

func (r *fakeJobRepo) CountByStatus(ctx context.Context, status booktypes.QueueStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, j := range r.jobs {
		if j.Status == status.String() {
			count++
		}
	}
	return count, nil
}

func (r *fakeJobRepo) GetByBookID(ctx context.Context, bookID uuid.UUID) ([]*models.ParsingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ParsingJob
	for _, j := range r.jobs {
		if j.BookID == bookID {
			copied := *j
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeJobRepo) DeleteByBookID(ctx context.Context, bookID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, j := range r.jobs {
		if j.BookID == bookID {
			delete(r.jobs, id)
		}
	}
	r.deleted = append(r.deleted, bookID)
	return nil
}

// fakeObjects 内存对象存储
type fakeObjects struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	removed []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{blobs: map[string][]byte{}}
}

func (o *fakeObjects) Put(ctx context.Context, hash string, data []byte, contentType string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blobs[hash] = data
	return storage.ObjectKey(hash), nil
}

func (o *fakeObjects) Exists(ctx context.Context, hash string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.blobs[hash]
	return ok, nil
}

func (o *fakeObjects) Fetch(ctx context.Context, hash string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.blobs[hash]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", hash)
	}
	return data, nil
}

func (o *fakeObjects) Remove(ctx context.Context, hash string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.blobs, hash)
	o.removed = append(o.removed, hash)
	return nil
}

func (o *fakeObjects) DownloadURL(ctx context.Context, hash string, ttl time.Duration) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.blobs[hash]; !ok {
		return "", fmt.Errorf("object not found: %s", hash)
	}
	return "https://test-bucket.local/" + storage.ObjectKey(hash) + "?sig=fake", nil
}

func (o *fakeObjects) Bucket() string {
	return "test-bucket"
}

// fakeLocker 直接执行回调的锁
type fakeLocker struct {
	keys []string
}

func (l *fakeLocker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	l.keys = append(l.keys, key)
	return fn(ctx)
}

// fakeQueue 内存任务队列
type fakeQueue struct {
	mu      sync.Mutex
	entries []uuid.UUID
}

func (q *fakeQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, jobID)
	return nil
}

func (q *fakeQueue) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}

// fakeContentRepo 内存解析产物仓储
type fakeContentRepo struct {
	mu         sync.Mutex
	structures map[uuid.UUID]*models.ContentStructure // keyed by book ID
	chapters   map[uuid.UUID][]*models.Chapter        // keyed by structure ID
	toc        map[uuid.UUID][]*models.TOCEntry       // keyed by structure ID
	assets     map[uuid.UUID][]*models.Asset          // keyed by book ID
	deleted    []uuid.UUID
}

func newFakeContentRepo() *fakeContentRepo {
	return &fakeContentRepo{
		structures: map[uuid.UUID]*models.ContentStructure{},
		chapters:   map[uuid.UUID][]*models.Chapter{},
		toc:        map[uuid.UUID][]*models.TOCEntry{},
		assets:     map[uuid.UUID][]*models.Asset{},
	}
}

func (r *fakeContentRepo) UpsertStructure(ctx context.Context, structure *models.ContentStructure) (*models.ContentStructure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.structures[structure.BookID]; ok {
		structure.ID = existing.ID
	} else if structure.ID == uuid.Nil {
		structure.ID = uuid.New()
	}
	r.structures[structure.BookID] = structure
	copied := *structure
	return &copied, nil
}

func (r *fakeContentRepo) GetStructureByBookID(ctx context.Context, bookID uuid.UUID) (*models.ContentStructure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	structure, ok := r.structures[bookID]
	if !ok {
		return nil, fmt.Errorf("failed to get structure: %w", gorm.ErrRecordNotFound)
	}
	copied := *structure
	return &copied, nil
}

func (r *fakeContentRepo) ReplaceChapters(ctx context.Context, structureID uuid.UUID, chapters []*models.Chapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chapters[structureID] = chapters
	return nil
}

func (r *fakeContentRepo) GetChapter(ctx context.Context, bookID uuid.UUID, number int) (*models.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, list := range r.chapters {
		for _, ch := range list {
			if ch.BookID == bookID && ch.ChapterNumber == number {
				copied := *ch
				return &copied, nil
			}
		}
	}
	return nil, fmt.Errorf("failed to get chapter: %w", gorm.ErrRecordNotFound)
}

func (r *fakeContentRepo) ListChapters(ctx context.Context, structureID uuid.UUID) ([]*models.Chapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chapters[structureID], nil
}

func (r *fakeContentRepo) ReplaceTOC(ctx context.Context, structureID uuid.UUID, entries []*models.TOCEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toc[structureID] = entries
	return nil
}

func (r *fakeContentRepo) ListTOC(ctx context.Context, structureID uuid.UUID) ([]*models.TOCEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.toc[structureID], nil
}

func (r *fakeContentRepo) ReplaceAssets(ctx context.Context, bookID uuid.UUID, assets []*models.Asset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[bookID] = assets
	return nil
}

func (r *fakeContentRepo) ListAssets(ctx context.Context, bookID uuid.UUID) ([]*models.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assets[bookID], nil
}

func (r *fakeContentRepo) DeleteByBookID(ctx context.Context, bookID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assets, bookID)
	if structure, ok := r.structures[bookID]; ok {
		delete(r.chapters, structure.ID)
		delete(r.toc, structure.ID)
		delete(r.structures, bookID)
	}
	r.deleted = append(r.deleted, bookID)
	return nil
}

package biz

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lk2023060901/bookhub-backend/internal/book/storage"
	"github.com/lk2023060901/bookhub-backend/internal/book/types"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/database"
)

// TxManager 数据库事务执行器
type TxManager interface {
	Transaction(ctx context.Context, fn database.TxFunc) error
}

// ObjectStorage 内容寻址对象存储（MinIO），存放电子书原始字节
type ObjectStorage interface {
	Put(ctx context.Context, contentHash string, data []byte, contentType string) (string, error)
	Exists(ctx context.Context, contentHash string) (bool, error)
	Fetch(ctx context.Context, contentHash string) ([]byte, error)
	Remove(ctx context.Context, contentHash string) error
	DownloadURL(ctx context.Context, contentHash string, ttl time.Duration) (string, error)
	Bucket() string
}

// FileStorage 本地文件存储（封面、样章、解析资源）
type FileStorage interface {
	GenerateSecurePath(kind types.FileKind, bookID, originalName, subKind string) string
	Store(data []byte, targetPath string) (storage.StoredFile, error)
	Read(path string) ([]byte, error)
	Delete(path string) error
	CreateSecureURL(path string, ttl time.Duration) (storage.SignedURL, error)
}

// Locker 分布式互斥锁（Redis）
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Enqueuer 解析任务队列生产端
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID uuid.UUID) error
	Depth(ctx context.Context) (int64, error)
}

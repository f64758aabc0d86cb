package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/lk2023060901/bookhub-backend/internal/pkg/minio"
)

// ObjectStore 基于对象存储的内容寻址原始文件仓库。
// 对象键由内容哈希决定，相同内容只存一份。
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore 创建对象存储仓库，并确保桶存在
func NewObjectStore(ctx context.Context, client *minio.Client, bucket string) (*ObjectStore, error) {
	if err := client.EnsureBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return nil, fmt.Errorf("object store: ensure bucket %q: %w", bucket, err)
	}

	return &ObjectStore{
		client: client,
		bucket: bucket,
	}, nil
}

// ObjectKey 内容哈希到对象键：books/{hash[:2]}/{hash}
func ObjectKey(contentHash string) string {
	if len(contentHash) < 2 {
		return "books/" + contentHash
	}
	return fmt.Sprintf("books/%s/%s", contentHash[:2], contentHash)
}

// Put 按内容哈希写入原始字节。对象存储写入幂等，重复写同一键无副作用。
func (s *ObjectStore) Put(ctx context.Context, contentHash string, data []byte, contentType string) (string, error) {
	key := ObjectKey(contentHash)

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}

	return key, nil
}

// DownloadURL 生成原始内容的限时下载链接（预签名 GET），
// 客户端凭链接直连对象存储，不经过本服务中转
func (s *ObjectStore) DownloadURL(ctx context.Context, contentHash string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, ObjectKey(contentHash), ttl, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// Exists 检查内容是否已存储
func (s *ObjectStore) Exists(ctx context.Context, contentHash string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, ObjectKey(contentHash))
	if err != nil {
		if minio.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Fetch 读取原始字节
func (s *ObjectStore) Fetch(ctx context.Context, contentHash string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, ObjectKey(contentHash))
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("object store: read %s: %w", ObjectKey(contentHash), err)
	}

	return data, nil
}

// Remove 删除对象
func (s *ObjectStore) Remove(ctx context.Context, contentHash string) error {
	return s.client.RemoveObject(ctx, s.bucket, ObjectKey(contentHash))
}

// Bucket 返回桶名
func (s *ObjectStore) Bucket() string {
	return s.bucket
}

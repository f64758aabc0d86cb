package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/lk2023060901/bookhub-backend/internal/book/types"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/errors"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

const maxSanitizedNameLen = 40

// 文件名只保留字母、数字、下划线和连字符
var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Config 本地存储配置
type Config struct {
	CoverRoot  string // 封面根目录
	AssetRoot  string // 资源文件根目录
	TempRoot   string // 临时文件目录
	SigningKey string // 签名密钥
	TokenTTL   time.Duration
}

// StoredFile 落盘结果
type StoredFile struct {
	Path string
	Size int64
	Hash string // SHA-256 hex
}

// LocalStore 本地文件存储。显式构造，持有根目录与签名器，无全局状态。
type LocalStore struct {
	coverRoot string
	assetRoot string
	tempRoot  string
	signer    *Signer
	logger    *logger.Logger
}

// NewLocalStore 创建本地存储
func NewLocalStore(cfg *Config, log *logger.Logger) (*LocalStore, error) {
	if cfg.CoverRoot == "" || cfg.AssetRoot == "" || cfg.TempRoot == "" {
		return nil, fmt.Errorf("storage: cover_root, asset_root and temp_root are required")
	}
	if cfg.SigningKey == "" {
		return nil, fmt.Errorf("storage: signing_key is required")
	}

	roots := []string{cfg.CoverRoot, cfg.AssetRoot, cfg.TempRoot}
	abs := make([]string, len(roots))
	for i, root := range roots {
		a, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("storage: resolve root %q: %w", root, err)
		}
		if err := os.MkdirAll(a, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create root %q: %w", a, err)
		}
		abs[i] = a
	}

	return &LocalStore{
		coverRoot: abs[0],
		assetRoot: abs[1],
		tempRoot:  abs[2],
		signer:    NewSigner(cfg.SigningKey, cfg.TokenTTL),
		logger:    log,
	}, nil
}

// Signer 返回签名器
func (s *LocalStore) Signer() *Signer {
	return s.signer
}

// Roots 返回全部存储根目录
func (s *LocalStore) Roots() []string {
	return []string{s.coverRoot, s.assetRoot, s.tempRoot}
}

// rootFor 按文件类别选择根目录
func (s *LocalStore) rootFor(kind types.FileKind) string {
	switch kind {
	case types.FileKindCover:
		return s.coverRoot
	case types.FileKindEbook, types.FileKindSample, types.FileKindAsset:
		return s.assetRoot
	}
	return s.tempRoot
}

// GenerateSecurePath 生成安全存储路径：
// root/kind[/subKind]/bookId/timestamp_random_sanitizedName.ext
func (s *LocalStore) GenerateSecurePath(kind types.FileKind, bookID, originalName, subKind string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	base := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	base = unsafeNameChars.ReplaceAllString(base, "")
	if len(base) > maxSanitizedNameLen {
		base = base[:maxSanitizedNameLen]
	}
	if base == "" {
		base = "file"
	}

	name := fmt.Sprintf("%d_%s_%s%s", time.Now().UnixNano(), randomHex(4), base, ext)

	parts := []string{s.rootFor(kind), kind.String()}
	if subKind != "" {
		parts = append(parts, subKind)
	}
	parts = append(parts, bookID, name)

	return filepath.Join(parts...)
}

// Store 写入文件：创建父目录，计算 SHA-256，先写临时文件再重命名，
// 失败不留下半成品。targetPath 必须落在配置的根目录之下。
func (s *LocalStore) Store(data []byte, targetPath string) (StoredFile, error) {
	resolved, err := s.ValidatePath(targetPath)
	if err != nil {
		return StoredFile{}, err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return StoredFile{}, errors.Wrap(err, errors.ErrStorageFailed, "create parent directory")
	}

	sum := sha256.Sum256(data)

	tmp, err := os.CreateTemp(filepath.Dir(resolved), ".upload-*")
	if err != nil {
		return StoredFile{}, errors.Wrap(err, errors.ErrStorageFailed, "create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return StoredFile{}, errors.Wrap(err, errors.ErrStorageFailed, "write file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return StoredFile{}, errors.Wrap(err, errors.ErrStorageFailed, "close file")
	}

	if err := os.Rename(tmpName, resolved); err != nil {
		os.Remove(tmpName)
		return StoredFile{}, errors.Wrap(err, errors.ErrStorageFailed, "commit file")
	}

	return StoredFile{
		Path: resolved,
		Size: int64(len(data)),
		Hash: hex.EncodeToString(sum[:]),
	}, nil
}

// Read 读取文件，路径必须通过校验
func (s *LocalStore) Read(path string) ([]byte, error) {
	resolved, err := s.ValidatePath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrStorageFileNotFound, path)
		}
		return nil, errors.Wrap(err, errors.ErrStorageFailed, "read file")
	}

	return data, nil
}

// Delete 删除文件，路径必须通过校验
func (s *LocalStore) Delete(path string) error {
	resolved, err := s.ValidatePath(path)
	if err != nil {
		return err
	}

	if err := os.Remove(resolved); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrap(err, errors.ErrStorageFileNotFound, path)
		}
		return errors.Wrap(err, errors.ErrStorageFailed, "delete file")
	}

	return nil
}

// ValidatePath 规范化路径并确认其落在某个存储根目录之下，
// 防止路径穿越。返回规范化后的绝对路径。
func (s *LocalStore) ValidatePath(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrStoragePathTraversal, path)
	}

	for _, root := range s.Roots() {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return abs, nil
		}
	}

	return "", errors.New(errors.ErrStoragePathTraversal, path)
}

// CreateSecureURL 为已存储的文件生成签名访问凭证
func (s *LocalStore) CreateSecureURL(path string, ttl time.Duration) (SignedURL, error) {
	resolved, err := s.ValidatePath(path)
	if err != nil {
		return SignedURL{}, err
	}
	if ttl <= 0 {
		return s.signer.Sign(resolved), nil
	}
	return s.signer.SignWithTTL(resolved, ttl), nil
}

// VerifySecureURL 校验签名访问凭证。
// 签名覆盖的是规范化后的绝对路径，这里先做同样的规范化再比对。
func (s *LocalStore) VerifySecureURL(path string, expiresAt int64, token string) error {
	resolved, err := s.ValidatePath(path)
	if err != nil {
		return err
	}
	return s.signer.Verify(resolved, expiresAt, token)
}

// CleanupTemp 清理临时目录中超过 maxAge 的文件，尽力而为，返回删除数量
func (s *LocalStore) CleanupTemp(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	err := filepath.Walk(s.tempRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // 跳过不可访问的条目
		}
		if info.IsDir() {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if rmErr := os.Remove(path); rmErr != nil {
				s.logger.Warn("cleanup temp file failed",
					zap.String("path", path),
					zap.Error(rmErr),
				)
				return nil
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, errors.Wrap(err, errors.ErrStorageFailed, "walk temp directory")
	}

	if removed > 0 {
		s.logger.Info("temp files cleaned up", zap.Int("removed", removed))
	}

	return removed, nil
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// 回退到时间戳，仅影响文件名唯一性
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

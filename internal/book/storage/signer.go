package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/lk2023060901/bookhub-backend/internal/pkg/errors"
)

// Signer 基于 HMAC-SHA256 的签名 URL 生成与校验。
// 签名覆盖 path|expires，无吊销机制：已签发的 URL 在过期前始终有效。
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// SignedURL 签名访问凭证
type SignedURL struct {
	Path      string
	ExpiresAt int64 // Unix 秒
	Token     string
}

// Query 返回可拼接到文件服务端点的查询串
func (s SignedURL) Query() string {
	v := url.Values{}
	v.Set("path", s.Path)
	v.Set("expires", strconv.FormatInt(s.ExpiresAt, 10))
	v.Set("token", s.Token)
	return v.Encode()
}

// NewSigner 创建签名器
func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Sign 使用默认有效期签名
func (s *Signer) Sign(path string) SignedURL {
	return s.SignWithTTL(path, s.ttl)
}

// SignWithTTL 使用指定有效期签名
func (s *Signer) SignWithTTL(path string, ttl time.Duration) SignedURL {
	expiresAt := s.now().Add(ttl).Unix()
	return SignedURL{
		Path:      path,
		ExpiresAt: expiresAt,
		Token:     s.compute(path, expiresAt),
	}
}

// Verify 校验签名：过期或 HMAC 不匹配均失败
func (s *Signer) Verify(path string, expiresAt int64, token string) error {
	if s.now().Unix() > expiresAt {
		return errors.New(errors.ErrStorageTokenExpired, path)
	}

	expected := s.compute(path, expiresAt)
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return errors.New(errors.ErrStorageInvalidToken, path)
	}

	return nil
}

func (s *Signer) compute(path string, expiresAt int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%d", path, expiresAt)
	return hex.EncodeToString(mac.Sum(nil))
}

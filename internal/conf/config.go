package conf

import (
	"fmt"
	"time"

	"github.com/lk2023060901/bookhub-backend/internal/pkg/database"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/logger"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/minio"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/redis"
	"github.com/lk2023060901/bookhub-backend/internal/pkg/workerpool"
	"github.com/spf13/viper"
)

type Config struct {
	Database database.Config `mapstructure:"database"`
	Redis    redis.Config    `mapstructure:"redis"`
	MinIO    MinIOConfig     `mapstructure:"minio"`
	Storage  StorageConfig   `mapstructure:"storage"`
	Upload   UploadConfig    `mapstructure:"upload"`
	Worker   WorkerConfig    `mapstructure:"worker"`
	Log      logger.Config   `mapstructure:"log"`
}

// MinIOConfig 对象存储配置（原始电子书内容）
type MinIOConfig struct {
	minio.Config `mapstructure:",squash"`
	Bucket       string `mapstructure:"bucket"`
}

// StorageConfig 本地文件存储配置（封面、插图等资源文件）
type StorageConfig struct {
	CoverRoot    string        `mapstructure:"cover_root"`     // 封面存储根目录
	AssetRoot    string        `mapstructure:"asset_root"`     // 资源文件存储根目录
	TempRoot     string        `mapstructure:"temp_root"`      // 临时文件目录
	SigningKey   string        `mapstructure:"signing_key"`    // 签名 URL 密钥
	TokenTTL     time.Duration `mapstructure:"token_ttl"`      // 签名 URL 有效期
	MaxImageSize int64         `mapstructure:"max_image_size"` // 图片大小上限（字节）
	TempMaxAge   time.Duration `mapstructure:"temp_max_age"`   // 临时文件保留时间
}

// UploadConfig 上传配置
type UploadConfig struct {
	MaxFileSize int64 `mapstructure:"max_file_size"` // 电子书文件大小上限（字节）
}

// WorkerConfig 解析 worker 配置
type WorkerConfig struct {
	Pool         workerpool.Config `mapstructure:"pool"`
	MaxRetries   int               `mapstructure:"max_retries"`   // 任务最大重试次数
	RetryBackoff time.Duration     `mapstructure:"retry_backoff"` // 重试基础间隔
	PollInterval time.Duration     `mapstructure:"poll_interval"` // 队列轮询间隔
}

func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.setDefaults()

	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Storage.TokenTTL == 0 {
		c.Storage.TokenTTL = 15 * time.Minute
	}
	if c.Storage.MaxImageSize == 0 {
		c.Storage.MaxImageSize = 10 << 20 // 10 MiB
	}
	if c.Storage.TempMaxAge == 0 {
		c.Storage.TempMaxAge = 24 * time.Hour
	}
	if c.Upload.MaxFileSize == 0 {
		c.Upload.MaxFileSize = 100 << 20 // 100 MiB
	}
	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 3
	}
	if c.Worker.RetryBackoff == 0 {
		c.Worker.RetryBackoff = 5 * time.Second
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = time.Second
	}
	if c.Worker.Pool.Workers == 0 {
		c.Worker.Pool.Workers = 4
	}
	if c.Worker.Pool.QueueSize == 0 {
		c.Worker.Pool.QueueSize = 256
	}
}

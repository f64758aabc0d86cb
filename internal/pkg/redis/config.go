package redis

import (
	"errors"
	"time"
)

// Config Redis 配置
type Config struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`         // 节点地址 (host:port)
	Username string `mapstructure:"username" yaml:"username"` // 用户名（Redis 6.0+）
	Password string `mapstructure:"password" yaml:"password"` // 密码
	DB       int    `mapstructure:"db" yaml:"db"`             // 数据库编号

	// 连接池配置
	PoolSize     int `mapstructure:"pool_size" yaml:"pool_size"`           // 连接池大小
	MinIdleConns int `mapstructure:"min_idle_conns" yaml:"min_idle_conns"` // 最小空闲连接数

	// 超时配置
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`   // 连接超时
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`   // 读超时
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"` // 写超时
	PoolTimeout  time.Duration `mapstructure:"pool_timeout" yaml:"pool_timeout"`   // 连接池超时

	// 重试配置
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`             // 最大重试次数
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff" yaml:"min_retry_backoff"` // 最小重试间隔
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff" yaml:"max_retry_backoff"` // 最大重试间隔

	// 连接配置
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"` // 连接最大空闲时间
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`   // 连接最大生命周期
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Addr: "localhost:6379",
		DB:   0,

		PoolSize:     10,
		MinIdleConns: 5,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,

		ConnMaxIdleTime: 5 * time.Minute,
		ConnMaxLifetime: 0, // 0表示不限制
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("redis: addr is required")
	}

	// 验证数据库编号
	if c.DB < 0 || c.DB > 15 {
		return errors.New("redis: db must be between 0 and 15")
	}

	// 验证连接池配置
	if c.PoolSize <= 0 {
		return errors.New("redis: pool_size must be > 0")
	}
	if c.MinIdleConns < 0 {
		return errors.New("redis: min_idle_conns must be >= 0")
	}
	if c.MinIdleConns > c.PoolSize {
		return errors.New("redis: min_idle_conns cannot exceed pool_size")
	}

	// 验证超时配置
	if c.DialTimeout <= 0 {
		return errors.New("redis: dial_timeout must be > 0")
	}
	if c.ReadTimeout < 0 {
		return errors.New("redis: read_timeout must be >= 0")
	}
	if c.WriteTimeout < 0 {
		return errors.New("redis: write_timeout must be >= 0")
	}
	if c.PoolTimeout <= 0 {
		return errors.New("redis: pool_timeout must be > 0")
	}

	// 验证重试配置
	if c.MaxRetries < 0 {
		return errors.New("redis: max_retries must be >= 0")
	}
	if c.MinRetryBackoff < 0 {
		return errors.New("redis: min_retry_backoff must be >= 0")
	}
	if c.MaxRetryBackoff < 0 {
		return errors.New("redis: max_retry_backoff must be >= 0")
	}
	if c.MinRetryBackoff > c.MaxRetryBackoff {
		return errors.New("redis: min_retry_backoff cannot exceed max_retry_backoff")
	}

	return nil
}

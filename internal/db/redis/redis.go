package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	log "liveavatar-agent-golang/logger"
)

var (
	globalClient *redis.Client
	mu           sync.RWMutex
)

// Config Redis配置
type Config struct {
	Host         string        `mapstructure:"host" json:"host"`
	Port         int           `mapstructure:"port" json:"port"`
	Password     string        `mapstructure:"password" json:"password"`
	DB           int           `mapstructure:"db" json:"db"`
	PoolSize     int           `mapstructure:"pool_size" json:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns" json:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries" json:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Init 创建全局客户端并 PING，已初始化时替换旧客户端
func Init(ctx context.Context, config *Config) (*redis.Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr(),
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 redis %s 失败: %w", config.Addr(), err)
	}

	mu.Lock()
	old := globalClient
	globalClient = client
	mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	log.Infof("Redis客户端初始化成功, addr: %s", config.Addr())
	return client, nil
}

// GetClient 未初始化时返回 nil
func GetClient() *redis.Client {
	mu.RLock()
	defer mu.RUnlock()
	return globalClient
}

func Close() error {
	mu.Lock()
	client := globalClient
	globalClient = nil
	mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil {
		log.Errorf("关闭Redis连接失败: %v", err)
		return err
	}
	log.Info("Redis连接已关闭")
	return nil
}

// GetKeyWithPrefix 获取带前缀的键名
func GetKeyWithPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}

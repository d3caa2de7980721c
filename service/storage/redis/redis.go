package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quizlink/tools/errs"
)

var (
	redisMu  sync.Mutex
	redisMgr *RedisManager
)

type RedisManager struct {
	client *redis.Client
}

// Config 用于初始化 Redis
type Config struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	PoolSize int    `yaml:"poolSize" env:"POOL_SIZE"`
}

// Open 建立连接并在 3s 内 ping 通
func Open(ctx context.Context, c Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.WrapMsg(err, "redis ping", "addr", c.Addr)
	}
	return rdb, nil
}

// InitRedis 初始化进程级 Redis（单例），重复调用返回已有连接
func InitRedis(ctx context.Context, c Config) (*redis.Client, error) {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisMgr != nil {
		return redisMgr.client, nil
	}
	rdb, err := Open(ctx, c)
	if err != nil {
		return nil, err
	}
	redisMgr = &RedisManager{client: rdb}
	return rdb, nil
}

// GetRedis 获取 Redis Client
func GetRedis() (*redis.Client, error) {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisMgr == nil {
		return nil, errs.ErrNotConnected.WrapMsg("redis not initialized")
	}
	return redisMgr.client, nil
}

// CloseRedis 关闭连接
func CloseRedis() error {
	redisMu.Lock()
	defer redisMu.Unlock()
	if redisMgr == nil {
		return nil
	}
	err := redisMgr.client.Close()
	redisMgr = nil
	return err
}

package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"quizlink/logger"
	"quizlink/service/storage/redis"
	"quizlink/tools/errs"
	"quizlink/tools/ids"
)

const EnvPrefix = "QUIZLINK_"

// Global 默认配置，Load 在其副本上叠加文件与环境变量
var Global = AppConfig{
	Server: ServerConfig{
		URL:              "ws://127.0.0.1:8080/ws",
		HandshakeTimeout: 10 * time.Second,
		AuthTimeout:      10 * time.Second,
		WriteTimeout:     10 * time.Second,
		OutageBudget:     2 * time.Minute,
		SendBuffer:       256,
	},
	Heartbeat: HeartbeatConfig{PingEvery: 25 * time.Second, Timeout: 60 * time.Second},
	Backoff:   BackoffConfig{Base: time.Second, Max: 30 * time.Second},
	Matchmaking: MatchmakingConfig{
		GameMode:       "casual",
		ConfirmTimeout: 30 * time.Second,
		ResendAfter:    500 * time.Millisecond,
	},
	Offline: OfflineConfig{
		Store:      StoreFile,
		Path:       "./data",
		Key:        "quizlink:offline_actions",
		Capacity:   100,
		MaxRetries: 3,
		MaxAge:     7 * 24 * time.Hour,
		Redis:      redis.Config{Addr: "127.0.0.1:6379"},
	},
	Nats: NatsConfig{
		Servers: []string{"nats://127.0.0.1:4222"},
		Name:    "quizlink",
		Prefix:  "quizlink",
	},
	Log: LogConfig{Level: "info"},
}

// Load 默认值 -> YAML 文件（path 为空则跳过）-> QUIZLINK_* 环境变量
func Load(path string) (AppConfig, error) {
	cfg := Global
	cfg.Nats.Servers = append([]string(nil), Global.Nats.Servers...)
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, errs.WrapMsg(err, "read config", "path", path)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, errs.WrapMsg(err, "parse config", "path", path)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, errs.WrapMsg(err, "parse env")
	}
	return cfg, cfg.Validate()
}

func (c AppConfig) Validate() error {
	if c.Server.URL == "" {
		return errs.ErrInvalidState.WrapMsg("server.url is required")
	}
	switch c.Offline.Store {
	case StoreMemory, StoreFile, StoreRedis, StorePostgres:
	default:
		return errs.ErrInvalidState.WrapMsg("unknown offline store", "store", c.Offline.Store)
	}
	if c.Offline.Store == StorePostgres && c.Offline.Postgres.URL == "" {
		return errs.ErrInvalidState.WrapMsg("offline.postgres.url is required")
	}
	if c.Heartbeat.Timeout > 0 && c.Heartbeat.PingEvery >= c.Heartbeat.Timeout {
		return errs.ErrInvalidState.WrapMsg("heartbeat.pingEvery must be below heartbeat.timeout")
	}
	return nil
}

// ConfigIds 补齐设备 id，并用它派生雪花节点号
func ConfigIds(c *AppConfig) {
	if c.Identity.DeviceID == "" {
		c.Identity.DeviceID = ids.DeviceID()
		logger.Infof("生成设备 id %s", c.Identity.DeviceID)
	}
	ids.SetNodeID(ids.NodeFromDevice(c.Identity.DeviceID))
}

package config

import (
	"time"

	"quizlink/service/storage/postgres"
	"quizlink/service/storage/redis"
)

// 离线队列存储类型
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type AppConfig struct {
	Server      ServerConfig      `yaml:"server" envPrefix:"SERVER_"`
	Identity    IdentityConfig    `yaml:"identity" envPrefix:"IDENTITY_"`
	Heartbeat   HeartbeatConfig   `yaml:"heartbeat" envPrefix:"HEARTBEAT_"`
	Backoff     BackoffConfig     `yaml:"backoff" envPrefix:"BACKOFF_"`
	Matchmaking MatchmakingConfig `yaml:"matchmaking" envPrefix:"MATCHMAKING_"`
	Offline     OfflineConfig     `yaml:"offline" envPrefix:"OFFLINE_"`
	Nats        NatsConfig        `yaml:"nats" envPrefix:"NATS_"`
	Debug       DebugConfig       `yaml:"debug" envPrefix:"DEBUG_"`
	Log         LogConfig         `yaml:"log" envPrefix:"LOG_"`
}

type ServerConfig struct {
	URL              string        `yaml:"url" env:"URL"` // ws(s):// 或 http(s)://，后者自动换成 ws
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout" env:"HANDSHAKE_TIMEOUT"`
	AuthTimeout      time.Duration `yaml:"authTimeout" env:"AUTH_TIMEOUT"`
	WriteTimeout     time.Duration `yaml:"writeTimeout" env:"WRITE_TIMEOUT"`
	OutageBudget     time.Duration `yaml:"outageBudget" env:"OUTAGE_BUDGET"` // 连续失败多久后上报一次 outage
	SendBuffer       int           `yaml:"sendBuffer" env:"SEND_BUFFER"`
}

type IdentityConfig struct {
	UserID      string `yaml:"userId" env:"USER_ID"`
	Token       string `yaml:"token" env:"TOKEN"`
	DisplayName string `yaml:"displayName" env:"DISPLAY_NAME"`
	DeviceID    string `yaml:"deviceId" env:"DEVICE_ID"` // 为空时启动生成
	// 仅 token 子命令签发开发用 token
	Secret string `yaml:"secret" env:"SECRET"`
}

type HeartbeatConfig struct {
	PingEvery time.Duration `yaml:"pingEvery" env:"PING_EVERY"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type BackoffConfig struct {
	Base time.Duration `yaml:"base" env:"BASE"`
	Max  time.Duration `yaml:"max" env:"MAX"`
}

type MatchmakingConfig struct {
	GameMode       string        `yaml:"gameMode" env:"GAME_MODE"`
	ConfirmTimeout time.Duration `yaml:"confirmTimeout" env:"CONFIRM_TIMEOUT"`
	ResendAfter    time.Duration `yaml:"resendAfter" env:"RESEND_AFTER"`
}

type OfflineConfig struct {
	Store      string          `yaml:"store" env:"STORE"` // memory | file | redis | postgres
	Path       string          `yaml:"path" env:"PATH"`   // file 存储目录
	Key        string          `yaml:"key" env:"KEY"`
	Capacity   int             `yaml:"capacity" env:"CAPACITY"`
	MaxRetries int             `yaml:"maxRetries" env:"MAX_RETRIES"`
	MaxAge     time.Duration   `yaml:"maxAge" env:"MAX_AGE"`
	RatePerSec float64         `yaml:"ratePerSec" env:"RATE_PER_SEC"` // 重放限速，0 不限
	Redis      redis.Config    `yaml:"redis" envPrefix:"REDIS_"`
	Postgres   postgres.Config `yaml:"postgres" envPrefix:"PG_"`
}

type NatsConfig struct {
	Enabled      bool     `yaml:"enabled" env:"ENABLED"`
	Servers      []string `yaml:"servers" env:"SERVERS" envSeparator:","`
	Name         string   `yaml:"name" env:"NAME"`
	User         string   `yaml:"user" env:"USER"`
	Password     string   `yaml:"password" env:"PASSWORD"`
	JetStream    bool     `yaml:"jetStream" env:"JETSTREAM"`
	Prefix       string   `yaml:"prefix" env:"PREFIX"`
	CommandQueue string   `yaml:"commandQueue" env:"COMMAND_QUEUE"`
}

type DebugConfig struct {
	Addr  string `yaml:"addr" env:"ADDR"` // 为空不启动
	Token string `yaml:"token" env:"TOKEN"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	JSON  bool   `yaml:"json" env:"JSON"`
}

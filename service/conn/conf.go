package conn

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quizlink/logger"
	"quizlink/service/events"
)

// ===== 配置 =====

type ManagerConf struct {
	URL              string        // ws(s):// 或 http(s)://，后者自动换成 ws(s)
	HandshakeTimeout time.Duration // websocket 握手超时（如 10s）
	AuthTimeout      time.Duration // 等待 auth:success 的超时（如 10s）
	WriteTimeout     time.Duration // 单帧写超时
	PingEvery        time.Duration // connection.ping 周期（如 25s）
	HeartbeatTimeout time.Duration // 超过此时长无任何入站帧即断开重连（如 60s）
	OutageBudget     time.Duration // 连续失败超过此时长上报一次 ErrOutage（如 2m）
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	SendBuffer       int // 写协程队列长度

	// BestEffort decides which envelopes are dropped rather than queued while the
	// connection is not authenticated. nil => events.IsBestEffort.
	BestEffort func(typ string) bool

	Queue    OfflineQueue // nil: mutating sends fail with ErrNotConnected while offline
	Replay   Replayer     // nil: nothing is drained after auth
	Observer Observer     // nil: no metrics

	Dialer *websocket.Dialer
	Header http.Header
	Clock  func() time.Time // 可注入时钟（单测用）；nil => time.Now
	Jitter func(ceiling time.Duration) time.Duration
	Log    *zap.Logger
}

func (c *ManagerConf) norm() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingEvery <= 0 {
		c.PingEvery = 25 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 60 * time.Second
	}
	if c.OutageBudget <= 0 {
		c.OutageBudget = 2 * time.Minute
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.BestEffort == nil {
		c.BestEffort = events.IsBestEffort
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{
			HandshakeTimeout: c.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Jitter == nil {
		c.Jitter = fullJitter
	}
	if c.Log == nil {
		c.Log = logger.Named("conn")
	}
	if u, err := NormalizeWSURL(c.URL); err == nil {
		c.URL = u
	}
}

// NormalizeWSURL maps http(s) base URLs onto ws(s).
func NormalizeWSURL(base string) (string, error) {
	if strings.HasPrefix(base, "ws://") || strings.HasPrefix(base, "wss://") {
		return base, nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

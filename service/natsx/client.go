package natsx

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// NatsxMode 发布模式
type NatsxMode int

const (
	Core      NatsxMode = iota // 无持久化
	JetStream                  // 经 JetStream 落盘，需预先建好 stream
)

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers         []string      `yaml:"servers"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Mode            NatsxMode     `yaml:"mode"`
	ReconnectWait   time.Duration `yaml:"reconnectWait"`
	Timeout         time.Duration `yaml:"timeout"`
	PublishAsyncMax int           `yaml:"publishAsyncMax"`
}

func (c *NatsxConfig) norm() {
	if c.Name == "" {
		c.Name = "quizlink"
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	if c.PublishAsyncMax == 0 {
		c.PublishAsyncMax = 4096
	}
}

// NatsxClient 包一层 nats.Conn，发布走 Core 或 JetStream
type NatsxClient struct {
	cfg NatsxConfig
	nc  *nats.Conn
	js  nats.JetStreamContext

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNatsxClient 连接 NATS，断线无限重连
func NewNatsxClient(cfg NatsxConfig) (*NatsxClient, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	cfg.norm()
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	c := &NatsxClient{cfg: cfg, nc: nc}
	if cfg.Mode == JetStream {
		js, err := nc.JetStream(nats.PublishAsyncMaxPending(cfg.PublishAsyncMax))
		if err != nil {
			nc.Close()
			return nil, errors.Wrap(err, "init jetstream")
		}
		c.js = js
	}
	return c, nil
}

// Publish 按模式发送
func (c *NatsxClient) Publish(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	if c.cfg.Mode == JetStream {
		if _, err := c.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
			return errors.Wrapf(err, "jetstream publish %s", subject)
		}
		return nil
	}
	if err := c.nc.PublishMsg(msg); err != nil {
		return errors.Wrapf(err, "publish %s", subject)
	}
	return nil
}

// Subscribe Core 订阅；queue 非空时组内分摊。返回取消函数
func (c *NatsxClient) Subscribe(subject, queue string, h NatsxHandler) (func() error, error) {
	cb := func(m *nats.Msg) {
		_ = h(context.Background(), NatsxMessage{
			Subject: m.Subject,
			Data:    append([]byte(nil), m.Data...),
			Header:  headerToMap(m.Header),
		})
	}
	var (
		sub *nats.Subscription
		err error
	)
	if queue == "" {
		sub, err = c.nc.Subscribe(subject, cb)
	} else {
		sub, err = c.nc.QueueSubscribe(subject, queue, cb)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe %s", subject)
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub.Drain, nil
}

// Close 先 drain 订阅再 drain 连接
func (c *NatsxClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		_ = sub.Drain()
	}
	c.subs = nil
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

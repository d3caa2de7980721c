package natsx

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quizlink/logger"
	"quizlink/service/conn"
	"quizlink/tools/decode"
	"quizlink/tools/errs"
)

// Bus 是 Relay 用到的那部分 NATS 能力，*NatsxClient 实现它
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte, hdr map[string]string) error
	Subscribe(subject, queue string, h NatsxHandler) (func() error, error)
}

// Sender accepts outbound envelopes; *conn.Manager implements it.
type Sender interface {
	Send(env decode.Envelope) error
}

type RelayConf struct {
	Prefix       string        // subject 前缀，默认 quizlink
	CommandQueue string        // 命令订阅的队列组，多实例时分摊
	IdemTTL      time.Duration // 命令去重窗口，默认 5m
	Buffer       int           // 镜像订阅缓冲，默认 conn.DefaultSubscriberBuffer
	Log          *zap.Logger
}

func (c *RelayConf) norm() {
	if c.Prefix == "" {
		c.Prefix = "quizlink"
	}
	if c.IdemTTL <= 0 {
		c.IdemTTL = 5 * time.Minute
	}
	if c.Buffer <= 0 {
		c.Buffer = conn.DefaultSubscriberBuffer
	}
	if c.Log == nil {
		c.Log = logger.Named("natsx")
	}
}

// Relay mirrors inbound envelopes to <prefix>.in.<type>, publishes connection
// transitions to <prefix>.state and forwards envelopes published on
// <prefix>.out to the connection.
type Relay struct {
	bus  Bus
	conf RelayConf
	log  *zap.Logger
	idem IdemStore

	mu      sync.Mutex
	cancels []func() error
	wg      sync.WaitGroup
}

func NewRelay(bus Bus, conf RelayConf) *Relay {
	conf.norm()
	return &Relay{bus: bus, conf: conf, log: conf.Log, idem: NewMemIdem(conf.IdemTTL)}
}

// InboundSubject maps an envelope type to its mirror subject; ':' separators
// become subject tokens.
func (r *Relay) InboundSubject(typ string) string {
	if typ == "" {
		typ = "unknown"
	}
	typ = strings.NewReplacer(":", ".", " ", "_", "*", "_", ">", "_").Replace(typ)
	return r.conf.Prefix + ".in." + typ
}

func (r *Relay) StateSubject() string   { return r.conf.Prefix + ".state" }
func (r *Relay) CommandSubject() string { return r.conf.Prefix + ".out" }

// Mirror publishes every envelope from in until ctx ends or in closes.
func (r *Relay) Mirror(ctx context.Context, in <-chan decode.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-in:
			if !ok {
				return
			}
			if err := r.publishEnvelope(ctx, env); err != nil {
				r.log.Debug("mirror envelope", zap.String("type", env.Type), zap.Error(err))
			}
		}
	}
}

func (r *Relay) publishEnvelope(ctx context.Context, env decode.Envelope) error {
	b, err := env.Marshal()
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, r.InboundSubject(env.Type), b, map[string]string{
		HeaderMsgID: uuid.NewString(),
		"Type":      env.Type,
	})
}

type stateMsg struct {
	State string `json:"state"`
	At    int64  `json:"at"`
}

// PublishState is shaped for conn.Manager.OnState; it must not block long.
func (r *Relay) PublishState(s conn.State) {
	b, _ := json.Marshal(stateMsg{State: s.String(), At: time.Now().UnixMilli()})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.bus.Publish(ctx, r.StateSubject(), b, nil); err != nil {
		r.log.Warn("publish state", zap.String("state", s.String()), zap.Error(err))
	}
}

// ServeCommands subscribes to the command subject; each message is one
// envelope forwarded to sender, duplicates by message id are skipped.
func (r *Relay) ServeCommands(sender Sender) error {
	h := NatsxChain(r.commandHandler(sender), r.logging, NatsxIdemMiddleware(r.idem, r.conf.IdemTTL))
	cancel, err := r.bus.Subscribe(r.CommandSubject(), r.conf.CommandQueue, h)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cancels = append(r.cancels, cancel)
	r.mu.Unlock()
	return nil
}

func (r *Relay) commandHandler(sender Sender) NatsxHandler {
	return func(_ context.Context, msg NatsxMessage) error {
		env, err := decode.Parse(msg.Data)
		if err != nil {
			return errs.WrapMsg(err, "bad command", "subject", msg.Subject)
		}
		if env.Type == "" {
			return errs.ErrInvalidState.WrapMsg("command without type")
		}
		return sender.Send(env)
	}
}

func (r *Relay) logging(next NatsxHandler) NatsxHandler {
	return func(ctx context.Context, msg NatsxMessage) error {
		err := next(ctx, msg)
		switch {
		case err == nil:
		case errs.Code(err) == errs.CodeQueuedOffline:
			r.log.Info("command queued offline", zap.String("subject", msg.Subject))
		default:
			r.log.Warn("command failed", zap.String("subject", msg.Subject), zap.Error(err))
		}
		return err
	}
}

// Attach wires the relay to mgr: mirror, state and commands. The mirror
// stops when ctx ends or Close is called.
func (r *Relay) Attach(ctx context.Context, mgr *conn.Manager) error {
	if err := r.ServeCommands(mgr); err != nil {
		return err
	}
	mgr.OnState(r.PublishState)
	sub := mgr.Subscribe(r.conf.Buffer)
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancels = append(r.cancels, func() error {
		cancel()
		sub.Close()
		return nil
	})
	r.mu.Unlock()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Mirror(ctx, sub.Events())
	}()
	return nil
}

// Close drains the command subscription and stops the mirror.
func (r *Relay) Close() error {
	r.mu.Lock()
	cancels := r.cancels
	r.cancels = nil
	r.mu.Unlock()
	var first error
	for _, c := range cancels {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	r.wg.Wait()
	return first
}

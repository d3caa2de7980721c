// Package global assembles the process: offline store and queue, connection
// manager, state machines, metrics, the NATS relay and the debug server.
package global

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"quizlink/global/config"
	"quizlink/logger"
	"quizlink/service/battle"
	"quizlink/service/conn"
	"quizlink/service/debug"
	"quizlink/service/events"
	"quizlink/service/matchmaking"
	"quizlink/service/metrics"
	"quizlink/service/natsx"
	"quizlink/service/offline"
	"quizlink/service/storage/postgres"
	"quizlink/service/storage/redis"
	"quizlink/tools/errs"
)

// 过期离线动作的清理周期
const pruneEvery = time.Hour

type App struct {
	Conf        config.AppConfig
	Registry    *prometheus.Registry
	Conn        *conn.Manager
	Queue       *offline.Queue
	Replay      *offline.Processor
	Matchmaking *matchmaking.Machine
	Battle      *battle.Session
	Metrics     *metrics.Collector
	Relay       *natsx.Relay  // nil: nats.enabled=false
	Debug       *debug.Server // nil: debug.addr 为空

	log      *zap.Logger
	attached bool
	closers  []func() error
}

// OpenStore 按 offline.store 选择持久化；返回的 close 释放底层连接
func OpenStore(ctx context.Context, c config.OfflineConfig) (offline.Store, func() error, error) {
	nop := func() error { return nil }
	switch c.Store {
	case config.StoreMemory:
		return offline.NewMemoryStore(), nop, nil
	case config.StoreFile:
		s, err := offline.NewFileStore(c.Path)
		return s, nop, err
	case config.StoreRedis:
		rdb, err := redis.InitRedis(ctx, c.Redis)
		if err != nil {
			return nil, nil, err
		}
		return offline.NewRedisStore(rdb), redis.CloseRedis, nil
	case config.StorePostgres:
		pool, err := postgres.Open(ctx, c.Postgres)
		if err != nil {
			return nil, nil, err
		}
		s, err := offline.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, func() error { pool.Close(); return nil }, nil
	}
	return nil, nil, errs.ErrInvalidState.WrapMsg("unknown offline store", "store", c.Store)
}

func OpenQueue(ctx context.Context, c config.OfflineConfig) (*offline.Queue, func() error, error) {
	store, closeStore, err := OpenStore(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	q := offline.NewQueue(ctx, store, offline.QueueConf{Key: c.Key, Capacity: c.Capacity})
	return q, closeStore, nil
}

// ConfigAll builds every component from cfg without connecting; Run connects.
func ConfigAll(ctx context.Context, cfg config.AppConfig) (*App, error) {
	logger.Init(cfg.Log.Level, cfg.Log.JSON)
	config.ConfigIds(&cfg)

	a := &App{Conf: cfg, log: logger.Named("app"), Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	q, closeStore, err := OpenQueue(ctx, cfg.Offline)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)
	a.Queue = q

	opts := []offline.ProcessorOption{offline.WithMaxRetries(cfg.Offline.MaxRetries)}
	if cfg.Offline.RatePerSec > 0 {
		opts = append(opts, offline.WithLimiter(rate.NewLimiter(rate.Limit(cfg.Offline.RatePerSec), 1)))
	}
	a.Replay = offline.NewProcessor(q, opts...)

	a.Metrics = metrics.New(metrics.Conf{Registry: a.Registry})
	a.Metrics.QueueGauges(q.Size, q.Evicted)

	a.Conn = conn.New(conn.ManagerConf{
		URL:              cfg.Server.URL,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		AuthTimeout:      cfg.Server.AuthTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		PingEvery:        cfg.Heartbeat.PingEvery,
		HeartbeatTimeout: cfg.Heartbeat.Timeout,
		OutageBudget:     cfg.Server.OutageBudget,
		BackoffBase:      cfg.Backoff.Base,
		BackoffMax:       cfg.Backoff.Max,
		SendBuffer:       cfg.Server.SendBuffer,
		Queue:            q,
		Replay:           a.Replay,
		Observer:         a.Metrics,
	})
	a.Metrics.SubscriberGauge(a.Conn.Subscribers)

	a.Matchmaking = matchmaking.New(a.Conn, matchmaking.Conf{
		UserID:         cfg.Identity.UserID,
		GameMode:       cfg.Matchmaking.GameMode,
		ConfirmTimeout: cfg.Matchmaking.ConfirmTimeout,
		ResendAfter:    cfg.Matchmaking.ResendAfter,
	})
	a.Battle = battle.New(a.Conn, battle.Conf{UserID: cfg.Identity.UserID})

	if cfg.Nats.Enabled {
		nc := natsx.NatsxConfig{
			Servers:  cfg.Nats.Servers,
			Name:     cfg.Nats.Name,
			User:     cfg.Nats.User,
			Password: cfg.Nats.Password,
		}
		if cfg.Nats.JetStream {
			nc.Mode = natsx.JetStream
		}
		client, err := natsx.NewNatsxClient(nc)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		a.Relay = natsx.NewRelay(client, natsx.RelayConf{Prefix: cfg.Nats.Prefix, CommandQueue: cfg.Nats.CommandQueue})
	}

	if cfg.Debug.Addr != "" {
		a.Debug = debug.New(debug.Conf{Addr: cfg.Debug.Addr, Token: cfg.Debug.Token, Gatherer: a.Registry}, a.Conn)
		a.Debug.Section("matchmaking", func() any { return a.Matchmaking.State() })
		a.Debug.Section("battle", func() any { return a.Battle.State() })
		a.Debug.Section("queue", func() any {
			return map[string]int{"size": q.Size(), "evicted": q.Evicted()}
		})
		a.Debug.OnDrain(a.Conn.DrainOffline)
	}
	return a, nil
}

func (a *App) Identity() conn.Identity {
	id := a.Conf.Identity
	return conn.Identity{UserID: id.UserID, Token: id.Token, DisplayName: id.DisplayName, DeviceID: id.DeviceID}
}

// Run connects and blocks until ctx ends or authentication is rejected.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Matchmaking.Attach(a.Conn)
	a.Battle.Attach(a.Conn)
	a.attached = true
	if a.Relay != nil {
		if err := a.Relay.Attach(ctx, a.Conn); err != nil {
			return err
		}
	}
	sub := a.Conn.Subscribe(0)
	defer sub.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { a.logEvents(gctx, sub); return nil })
	g.Go(func() error { return a.watchErrors(gctx) })
	g.Go(func() error { a.prune(gctx); return nil })
	if a.Debug != nil {
		g.Go(func() error { return a.Debug.Run(gctx) })
	}

	if err := a.Conn.Connect(ctx, a.Identity()); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	a.log.Info("connected", zap.String("user", a.Conf.Identity.UserID), zap.String("url", a.Conf.Server.URL))
	return g.Wait()
}

func (a *App) logEvents(ctx context.Context, sub *conn.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.Events():
			if !ok {
				return
			}
			a.log.Debug("event", zap.String("type", env.Type), zap.String("kind", fmt.Sprintf("%T", events.Route(env))))
		}
	}
}

// watchErrors ends Run on auth rejection; outages are logged and retried.
func (a *App) watchErrors(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-a.Conn.Errors():
			if errors.Is(err, errs.ErrAuth) {
				a.log.Error("authentication rejected", zap.Error(err))
				return err
			}
			a.log.Warn("connection", zap.Error(err))
		}
	}
}

func (a *App) prune(ctx context.Context) {
	t := time.NewTicker(pruneEvery)
	defer t.Stop()
	for {
		n, err := a.Queue.ClearOldActions(ctx, a.Conf.Offline.MaxAge)
		if err != nil {
			a.log.Warn("prune offline queue", zap.Error(err))
		} else if n > 0 {
			a.log.Info("pruned offline actions", zap.Int("count", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Close is safe after a failed ConfigAll or Run.
func (a *App) Close() error {
	if a.attached {
		a.Matchmaking.Stop()
		a.Battle.Stop()
	}
	if a.Relay != nil {
		_ = a.Relay.Close()
	}
	var first error
	if a.Conn != nil {
		first = a.Conn.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	logger.Sync()
	return first
}

// Package debug serves the local introspection endpoints: health, Prometheus
// metrics, live state snapshots and a manual queue drain.
package debug

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"quizlink/logger"
	"quizlink/service/conn"
	"quizlink/service/offline"
	"quizlink/tools/errs"
)

// Conn is the slice of *conn.Manager the server reads.
type Conn interface {
	State() conn.State
	Subscribers() int
	Identity() conn.Identity
}

type Conf struct {
	Addr     string              // 监听地址，默认 127.0.0.1:6061
	Token    string              // 非空时要求 Authorization: Bearer <token>
	Gatherer prometheus.Gatherer // 默认 prometheus.DefaultGatherer
	Log      *zap.Logger
}

func (c *Conf) norm() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:6061"
	}
	if c.Gatherer == nil {
		c.Gatherer = prometheus.DefaultGatherer
	}
	if c.Log == nil {
		c.Log = logger.Named("debug")
	}
}

type Server struct {
	conf Conf
	conn Conn
	log  *zap.Logger

	mu       sync.RWMutex
	sections map[string]func() any
	drain    func(ctx context.Context) offline.Result

	engine *gin.Engine
}

func New(conf Conf, c Conn) *Server {
	conf.norm()
	gin.SetMode(gin.ReleaseMode)
	s := &Server{conf: conf, conn: c, log: conf.Log, sections: map[string]func() any{}}
	s.engine = s.routes()
	return s
}

// Section adds a named snapshot to /state; fn is called per request.
func (s *Server) Section(name string, fn func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sections[name] = fn
}

// OnDrain enables POST /queue/drain.
func (s *Server) OnDrain(fn func(ctx context.Context) offline.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drain = fn
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.GET("/healthz", s.healthz)

	auth := r.Group("/", s.bearer())
	auth.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.conf.Gatherer, promhttp.HandlerOpts{})))
	auth.GET("/state", s.state)
	auth.POST("/queue/drain", s.drainQueue)
	return r
}

func (s *Server) healthz(c *gin.Context) {
	st := s.conn.State()
	code := http.StatusOK
	if st != conn.Authenticated {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"state": st.String()})
}

func (s *Server) state(c *gin.Context) {
	id := s.conn.Identity()
	out := gin.H{
		"connection": gin.H{
			"state":       s.conn.State().String(),
			"userId":      id.UserID,
			"deviceId":    id.DeviceID,
			"subscribers": s.conn.Subscribers(),
		},
	}
	s.mu.RLock()
	for name, fn := range s.sections {
		out[name] = fn()
	}
	s.mu.RUnlock()
	c.JSON(http.StatusOK, out)
}

func (s *Server) drainQueue(c *gin.Context) {
	s.mu.RLock()
	fn := s.drain
	s.mu.RUnlock()
	if fn == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "offline queue disabled"})
		return
	}
	res := fn(c.Request.Context())
	c.JSON(http.StatusOK, res)
}

// bearer 兼容 Authorization: Bearer xxx；未配置 token 时放行
func (s *Server) bearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.conf.Token == "" {
			c.Next()
			return
		}
		authz := strings.TrimSpace(c.GetHeader("Authorization"))
		token := ""
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[len("bearer "):])
		}
		if token != s.conf.Token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrAuth)
			return
		}
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("debug request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.conf.Addr, Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("debug server listening", zap.String("addr", s.conf.Addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errs.WrapMsg(err, "debug server", "addr", s.conf.Addr)
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdown)
}

package livehttp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"spotpilot/internal/logger"

	"github.com/gin-gonic/gin"
)

// Server 提供 spotpilot 的运维 HTTP 接口（健康检查、指标、建议查询、手动提交与对账）。
type Server struct {
	mu     sync.Mutex
	addr   string
	router *gin.Engine
}

// ServerConfig 描述 HTTP 服务依赖。
type ServerConfig struct {
	Addr    string
	Metrics http.Handler
	Router  *Router
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Router == nil {
		return nil, errors.New("live http server requires a router")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	started := time.Now().UTC()
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "startedAt": started})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	cfg.Router.Register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Handler exposes the gin engine (tests).
func (s *Server) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return s.router
}

// requestLogger 记录接口调用；写操作与 5xx 提升日志级别。
func requestLogger() gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		line := log.With("method", c.Request.Method, "path", c.FullPath(), "status", status, "ip", c.ClientIP())
		switch {
		case status >= http.StatusInternalServerError:
			line.Warnf("request failed dur=%s errors=%s", time.Since(start), c.Errors.String())
		case c.Request.Method != http.MethodGet:
			line.Infof("request dur=%s", time.Since(start))
		default:
			line.Debugf("request dur=%s", time.Since(start))
		}
	}
}

// Addr is the configured address, or the bound one once Start is listening.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start 监听并服务，直到 ctx 取消；关闭时给在途请求 5 秒。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr(), err)
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	logger.Named("http").Infof("listening on %s", s.addr)

	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

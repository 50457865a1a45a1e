package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/hewenyu/someip-routing/internal/config"
	"github.com/hewenyu/someip-routing/pkg/api/handler"
	"github.com/hewenyu/someip-routing/pkg/api/router"
	"github.com/hewenyu/someip-routing/pkg/provider"
)

// Server 路由表管理API服务
type Server struct {
	e      *echo.Echo
	addr   string
	logger config.Logger
}

// NewServer 创建管理API服务
func NewServer(conf *config.Config, p *provider.Provider, logger config.Logger) *Server {
	if logger == nil {
		logger = config.NewNopLogger()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.New().String() },
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("API请求",
				zap.String("request_id", v.RequestID),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status))
			return nil
		},
	}))

	serviceHandler := handler.NewServiceHandler(p, conf.Discovery.DefaultTTL)
	healthHandler := handler.NewHealthHandler(p.Table(), p.Endpoints())
	router.RegisterRoutes(e, serviceHandler, healthHandler)

	return &Server{
		e:      e,
		addr:   net.JoinHostPort(conf.API.ListenAddress, strconv.Itoa(conf.API.Port)),
		logger: logger,
	}
}

// Echo 返回底层echo实例
func (s *Server) Echo() *echo.Echo {
	return s.e
}

// Start 以非阻塞方式启动服务，监听失败时返回错误
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("管理API监听 %s 失败: %w", s.addr, err)
	}
	s.e.Listener = listener

	go func() {
		if err := s.e.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("管理API服务异常退出", zap.Error(err))
		}
	}()

	s.logger.Info("管理API服务启动", zap.String("addr", listener.Addr().String()))
	return nil
}

// Shutdown 关闭服务
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

package dns

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/hewenyu/someip-routing/internal/config"
	"github.com/hewenyu/someip-routing/pkg/routing"
	"github.com/hewenyu/someip-routing/pkg/serviceinfo"
)

// Server 对外提供路由表视图的DNS服务器
type Server struct {
	udpServer     *dns.Server
	tcpServer     *dns.Server
	handler       *Handler
	recordManager *RecordManager
	cache         *DNSCache
	logger        config.Logger
	cancelFunc    context.CancelFunc
}

// NewServer 创建DNS服务器
func NewServer(conf *config.Config, table *routing.Table, logger config.Logger) *Server {
	if logger == nil {
		logger = config.NewNopLogger()
	}

	cache := NewDNSCache(conf.DNS.CacheTTL)
	recordManager := NewRecordManager(table, conf.DNS.Domain)
	handler := NewHandler(recordManager, cache, logger)

	// 服务移除后旧应答不再有效
	table.OnRemove(func(routing.Key, *serviceinfo.ServiceInfo) { cache.Flush() })

	addr := net.JoinHostPort(conf.DNS.ListenAddress, strconv.Itoa(conf.DNS.Port))
	return &Server{
		udpServer:     &dns.Server{Addr: addr, Net: "udp", Handler: handler},
		tcpServer:     &dns.Server{Addr: addr, Net: "tcp", Handler: handler},
		handler:       handler,
		recordManager: recordManager,
		cache:         cache,
		logger:        logger,
	}
}

// Handler 返回DNS请求处理器
func (s *Server) Handler() *Handler {
	return s.handler
}

// Start 启动DNS服务器，监听失败时返回错误
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	s.cache.StartCleanupRoutine(ctx, defaultCleanupInterval)

	for _, srv := range []*dns.Server{s.udpServer, s.tcpServer} {
		started := make(chan struct{})
		errCh := make(chan error, 1)
		srv.NotifyStartedFunc = func() { close(started) }

		go func(srv *dns.Server) {
			if err := srv.ListenAndServe(); err != nil {
				errCh <- err
			}
		}(srv)

		select {
		case <-started:
			s.logger.Info("DNS服务器启动",
				zap.String("net", srv.Net),
				zap.String("addr", srv.Addr),
				zap.String("domain", s.recordManager.Domain()))
		case err := <-errCh:
			cancel()
			s.shutdown()
			return fmt.Errorf("启动DNS %s服务器失败: %w", srv.Net, err)
		}
	}

	return nil
}

// Stop 停止DNS服务器
func (s *Server) Stop() error {
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.shutdown()
	return nil
}

func (s *Server) shutdown() {
	for _, srv := range []*dns.Server{s.udpServer, s.tcpServer} {
		if err := srv.Shutdown(); err != nil {
			s.logger.Debug("关闭DNS服务器", zap.String("net", srv.Net), zap.Error(err))
		}
	}
}

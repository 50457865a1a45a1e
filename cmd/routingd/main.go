package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/someip-routing/internal/config"
	"github.com/hewenyu/someip-routing/pkg/api"
	"github.com/hewenyu/someip-routing/pkg/discovery"
	"github.com/hewenyu/someip-routing/pkg/dns"
	"github.com/hewenyu/someip-routing/pkg/endpoint"
	"github.com/hewenyu/someip-routing/pkg/provider"
	"github.com/hewenyu/someip-routing/pkg/routing"
	"github.com/hewenyu/someip-routing/pkg/storage/etcd"
)

const shutdownTimeout = 5 * time.Second

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "", "配置文件路径")
}

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger, err := config.NewLoggerWithLevel(cfg.Log.Development, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	if zl, ok := logger.(*config.ZapLogger); ok {
		defer func() { _ = zl.Sync() }()
	}

	logger.Info("SOME/IP routing service starting...",
		zap.String("dns_domain", cfg.DNS.Domain),
		zap.Int("dns_port", cfg.DNS.Port),
		zap.Int("api_port", cfg.API.Port),
		zap.Bool("etcd_enabled", cfg.Etcd.Enabled),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table := routing.NewTable(logger)
	serviceProvider := provider.New(table, endpoint.NewManager(), logger)

	// 注册中心不可用时退化为只记录日志
	var publisher discovery.Publisher = discovery.NewLogPublisher(logger)
	var importer *etcd.Importer
	if cfg.Etcd.Enabled {
		client, err := etcd.NewClient(cfg)
		if err != nil {
			logger.Warn("连接etcd失败，服务将不会被发布", zap.Error(err))
		} else {
			defer func() {
				if err := client.Close(); err != nil {
					logger.Warn("关闭etcd客户端失败", zap.Error(err))
				}
			}()
			publisher = etcd.NewRegistry(client, logger)
			logger.Info("etcd连接成功", zap.Strings("endpoints", cfg.Etcd.Endpoints))
			if cfg.Etcd.Import {
				importer = etcd.NewImporter(client, serviceProvider, logger)
			}
		}
	}

	leaseTimer := discovery.NewLeaseTimer(table, cfg.Discovery.TickInterval, logger)
	scheduler := discovery.NewOfferScheduler(table, publisher, discovery.TimingFromConfig(cfg), cfg.Discovery.TickInterval, logger)

	dnsServer := dns.NewServer(cfg, table, logger)
	if err := dnsServer.Start(ctx); err != nil {
		logger.Fatal("启动DNS服务失败", zap.Error(err))
	}

	apiServer := api.NewServer(cfg, serviceProvider, logger)
	if err := apiServer.Start(); err != nil {
		_ = dnsServer.Stop()
		logger.Fatal("启动管理API失败", zap.Error(err))
	}

	leaseTimer.Start(ctx)
	scheduler.Start(ctx)
	if importer != nil {
		if err := importer.Start(ctx); err != nil {
			logger.Warn("导入远程服务失败，仅提供本地服务", zap.Error(err))
			importer = nil
		}
	}

	// 等待信号以优雅关闭
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("接收到关闭信号，正在优雅关闭...", zap.String("signal", sig.String()))

	if importer != nil {
		importer.Stop()
	}
	scheduler.Stop()
	leaseTimer.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("关闭管理API失败", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dnsServer.Stop(); err != nil {
			logger.Warn("关闭DNS服务失败", zap.Error(err))
		}
	}()

	wg.Wait()
	logger.Info("服务已关闭")
}

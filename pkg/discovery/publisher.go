package discovery

import (
	"context"

	"go.uber.org/zap"

	"github.com/hewenyu/someip-routing/internal/config"
	"github.com/hewenyu/someip-routing/pkg/routing"
	"github.com/hewenyu/someip-routing/pkg/serviceinfo"
)

// LogPublisher 未配置注册中心时使用，只记录发布动作
type LogPublisher struct {
	logger config.Logger
}

// NewLogPublisher 创建日志发布器
func NewLogPublisher(logger config.Logger) *LogPublisher {
	if logger == nil {
		logger = config.NewNopLogger()
	}
	return &LogPublisher{logger: logger}
}

// Publish 记录一次服务发布
func (p *LogPublisher) Publish(_ context.Context, key routing.Key, info *serviceinfo.ServiceInfo) error {
	p.logger.Debug("发布服务",
		zap.Stringer("service", key),
		zap.Uint8("major", uint8(info.Major())),
		zap.Uint32("minor", uint32(info.Minor())),
		zap.Uint32("ttl", uint32(info.TTL())),
		zap.Bool("main_phase", info.IsInMainPhase()))
	return nil
}

// Withdraw 记录一次服务撤回
func (p *LogPublisher) Withdraw(_ context.Context, key routing.Key) error {
	p.logger.Debug("撤回服务", zap.Stringer("service", key))
	return nil
}

package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/hewenyu/someip-routing/internal/config"
	"github.com/hewenyu/someip-routing/pkg/routing"
	"go.uber.org/zap"
)

// LeaseTimer 按真实流逝时间递减远程服务租约并移除过期服务
type LeaseTimer struct {
	table    *routing.Table
	interval time.Duration
	logger   config.Logger

	mu       sync.Mutex
	lastTick time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewLeaseTimer 创建租约定时器
func NewLeaseTimer(table *routing.Table, interval time.Duration, logger config.Logger) *LeaseTimer {
	if logger == nil {
		logger = config.NewNopLogger()
	}
	return &LeaseTimer{
		table:    table,
		interval: interval,
		logger:   logger,
	}
}

// Tick 以now为当前时间执行一次检查，返回本次移除的服务
// 首次调用只记录时间。
func (l *LeaseTimer) Tick(now time.Time) []routing.Key {
	l.mu.Lock()
	last := l.lastTick
	l.lastTick = now
	l.mu.Unlock()

	if last.IsZero() || !now.After(last) {
		return nil
	}

	expired := l.table.Expire(now.Sub(last))
	if len(expired) > 0 {
		l.logger.Debug("租约检查完成", zap.Int("expired", len(expired)), zap.Int("remaining", l.table.Len()))
	}
	return expired
}

// Start 启动后台定时检查
func (l *LeaseTimer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	l.mu.Lock()
	l.cancel = cancel
	l.done = done
	l.mu.Unlock()

	l.Tick(time.Now())

	ticker := time.NewTicker(l.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case now := <-ticker.C:
				l.Tick(now)
			case <-ctx.Done():
				return
			}
		}
	}()

	l.logger.Info("租约定时器已启动", zap.Duration("interval", l.interval))
}

// Stop 停止后台检查并等待协程退出
func (l *LeaseTimer) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.logger.Info("租约定时器已停止")
}

package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/hewenyu/someip-routing/internal/config"
	"github.com/hewenyu/someip-routing/pkg/routing"
	"github.com/hewenyu/someip-routing/pkg/serviceinfo"
	"go.uber.org/zap"
)

// publishTimeout 单次发布的超时时间
const publishTimeout = 2 * time.Second

// Publisher 对外发布本地服务
type Publisher interface {
	Publish(ctx context.Context, key routing.Key, info *serviceinfo.ServiceInfo) error
	Withdraw(ctx context.Context, key routing.Key) error
}

// Timing 服务提供的时序参数
type Timing struct {
	InitialDelay         time.Duration
	RepetitionsBaseDelay time.Duration
	RepetitionsMax       int
	CyclicOfferDelay     time.Duration
}

// TimingFromConfig 从配置读取时序参数
func TimingFromConfig(cfg *config.Config) Timing {
	return Timing{
		InitialDelay:         cfg.Discovery.InitialDelay,
		RepetitionsBaseDelay: cfg.Discovery.RepetitionsBaseDelay,
		RepetitionsMax:       cfg.Discovery.RepetitionsMax,
		CyclicOfferDelay:     cfg.Discovery.CyclicOfferDelay,
	}
}

// NextOfferDelay 返回第sent次发布之后到下一次发布的间隔
// sent为0表示尚未发布。重复阶段的间隔从基础间隔开始逐次翻倍。
func (t Timing) NextOfferDelay(sent int) time.Duration {
	switch {
	case sent <= 0:
		return t.InitialDelay
	case sent <= t.RepetitionsMax:
		return t.RepetitionsBaseDelay << (sent - 1)
	default:
		return t.CyclicOfferDelay
	}
}

// InMainPhase 发布sent次后是否已进入主阶段
func (t Timing) InMainPhase(sent int) bool {
	return sent > t.RepetitionsMax
}

type offerState struct {
	info *serviceinfo.ServiceInfo
	sent int
	next time.Time
}

// OfferScheduler 按重复阶段和主阶段的节奏发布本地服务
type OfferScheduler struct {
	table     *routing.Table
	publisher Publisher
	timing    Timing
	interval  time.Duration
	logger    config.Logger

	mu     sync.Mutex
	states map[routing.Key]*offerState
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOfferScheduler 创建服务提供调度器
func NewOfferScheduler(table *routing.Table, publisher Publisher, timing Timing, interval time.Duration, logger config.Logger) *OfferScheduler {
	if logger == nil {
		logger = config.NewNopLogger()
	}
	s := &OfferScheduler{
		table:     table,
		publisher: publisher,
		timing:    timing,
		interval:  interval,
		logger:    logger,
		states:    make(map[routing.Key]*offerState),
	}
	table.OnRemove(s.forget)
	return s
}

// Tick 发布所有到期的本地服务
func (s *OfferScheduler) Tick(ctx context.Context, now time.Time) {
	for _, entry := range s.table.List() {
		if !entry.Info.IsLocal() {
			continue
		}

		if entry.Info.PreciseTTL() == 0 {
			s.withdraw(ctx, entry.Key)
			continue
		}

		s.mu.Lock()
		state, ok := s.states[entry.Key]
		if !ok || state.info != entry.Info {
			state = &offerState{info: entry.Info, next: now.Add(s.timing.NextOfferDelay(0))}
			s.states[entry.Key] = state
			entry.Info.SetIsInMainPhase(false)
		}
		due := !now.Before(state.next)
		s.mu.Unlock()

		if !due {
			continue
		}
		s.publish(ctx, now, entry.Key, state)
	}
}

func (s *OfferScheduler) publish(ctx context.Context, now time.Time, key routing.Key, state *offerState) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, key, state.info); err != nil {
		s.logger.Warn("发布服务失败", zap.Stringer("service", key), zap.Error(err))
	}

	s.mu.Lock()
	state.sent++
	state.next = now.Add(s.timing.NextOfferDelay(state.sent))
	mainPhase := s.timing.InMainPhase(state.sent)
	s.mu.Unlock()

	if mainPhase && !state.info.IsInMainPhase() {
		state.info.SetIsInMainPhase(true)
		s.logger.Info("服务进入主阶段", zap.Stringer("service", key), zap.Int("offers", state.sent))
	}
}

func (s *OfferScheduler) withdraw(ctx context.Context, key routing.Key) {
	s.mu.Lock()
	_, ok := s.states[key]
	delete(s.states, key)
	s.mu.Unlock()

	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.publisher.Withdraw(ctx, key); err != nil {
		s.logger.Warn("撤回服务失败", zap.Stringer("service", key), zap.Error(err))
	}
}

// forget 服务被移除时撤回发布并清理状态
func (s *OfferScheduler) forget(key routing.Key, info *serviceinfo.ServiceInfo) {
	if !info.IsLocal() {
		return
	}
	s.withdraw(context.Background(), key)
}

// Start 启动后台调度
func (s *OfferScheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	go func() {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case now := <-ticker.C:
				s.Tick(ctx, now)
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.Info("服务提供调度器已启动",
		zap.Duration("initial_delay", s.timing.InitialDelay),
		zap.Duration("repetitions_base_delay", s.timing.RepetitionsBaseDelay),
		zap.Int("repetitions_max", s.timing.RepetitionsMax),
		zap.Duration("cyclic_offer_delay", s.timing.CyclicOfferDelay))
}

// Stop 停止后台调度
func (s *OfferScheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("服务提供调度器已停止")
}

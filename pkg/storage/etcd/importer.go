package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/hewenyu/someip-routing/internal/config"
	"github.com/hewenyu/someip-routing/pkg/provider"
	"github.com/hewenyu/someip-routing/pkg/routing"
)

// rewatchDelay 监听中断后重新同步前的等待时间
const rewatchDelay = time.Second

// Importer 监听etcd中其他节点发布的服务记录，导入为路由表中的远程服务
// 记录被删除时只将租约置零，由租约定时器移除。
type Importer struct {
	client   *Client
	provider *provider.Provider
	logger   config.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewImporter 创建远程服务导入器
func NewImporter(client *Client, p *provider.Provider, logger config.Logger) *Importer {
	if logger == nil {
		logger = config.NewNopLogger()
	}
	return &Importer{
		client:   client,
		provider: p,
		logger:   logger,
	}
}

// Start 同步已有记录并开始监听变化，初次同步失败时返回错误
func (im *Importer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	rev, err := im.sync(ctx)
	if err != nil {
		cancel()
		return err
	}

	done := make(chan struct{})
	im.mu.Lock()
	im.cancel = cancel
	im.done = done
	im.mu.Unlock()

	go func() {
		defer close(done)
		im.watch(ctx, rev)
	}()

	im.logger.Info("开始导入远程服务",
		zap.String("prefix", im.client.GetServicesPrefix()),
		zap.String("node_id", im.client.NodeID()))
	return nil
}

// Stop 停止监听并等待协程退出
func (im *Importer) Stop() {
	im.mu.Lock()
	cancel, done := im.cancel, im.done
	im.cancel, im.done = nil, nil
	im.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// sync 导入当前所有记录，返回读取时的revision
func (im *Importer) sync(ctx context.Context) (int64, error) {
	resp, err := im.client.GetClient().Get(ctx, im.client.GetServicesPrefix(), clientv3.WithPrefix())
	if err != nil {
		return 0, fmt.Errorf("获取已发布服务失败: %w", err)
	}

	for _, kv := range resp.Kvs {
		im.applyPut(string(kv.Key), kv.Value)
	}
	return resp.Header.Revision, nil
}

func (im *Importer) watch(ctx context.Context, rev int64) {
	prefix := im.client.GetServicesPrefix()
	for {
		watchCtx, watchCancel := context.WithCancel(ctx)
		watchChan := im.client.GetClient().Watch(watchCtx, prefix,
			clientv3.WithPrefix(), clientv3.WithRev(rev+1))

		for watchResp := range watchChan {
			if err := watchResp.Err(); err != nil {
				im.logger.Warn("etcd监听中断", zap.String("prefix", prefix), zap.Error(err))
				break
			}
			for _, event := range watchResp.Events {
				im.handleEvent(event)
			}
			rev = watchResp.Header.Revision
		}
		watchCancel()

		select {
		case <-ctx.Done():
			return
		case <-time.After(rewatchDelay):
		}

		// 压缩等原因导致监听失效时重新全量同步
		newRev, err := im.sync(ctx)
		if err != nil {
			im.logger.Warn("重新同步远程服务失败", zap.Error(err))
			continue
		}
		rev = newRev
	}
}

func (im *Importer) handleEvent(event *clientv3.Event) {
	key := string(event.Kv.Key)
	switch event.Type {
	case clientv3.EventTypePut:
		im.applyPut(key, event.Kv.Value)
	case clientv3.EventTypeDelete:
		im.applyDelete(key)
	}
}

// applyPut 将一条记录导入为远程服务，本节点发布的记录被忽略
func (im *Importer) applyPut(etcdKey string, value []byte) {
	var record Record
	if err := json.Unmarshal(value, &record); err != nil {
		im.logger.Warn("跳过无法解析的服务记录", zap.String("key", etcdKey), zap.Error(err))
		return
	}
	if record.Origin != "" && record.Origin == im.client.NodeID() {
		return
	}

	offer := provider.Offer{
		Key:   record.Key(),
		Major: record.Major,
		Minor: record.Minor,
		TTL:   record.TTL,
		Group: record.Group,
	}
	if record.Reliable != nil {
		offer.Reliable = &provider.Address{Address: record.Reliable.Address, Port: record.Reliable.Port}
	}
	if record.Unreliable != nil {
		offer.Unreliable = &provider.Address{Address: record.Unreliable.Address, Port: record.Unreliable.Port}
	}

	if _, created, err := im.provider.Offer(offer); err != nil {
		im.logger.Debug("导入远程服务失败",
			zap.Stringer("service", offer.Key),
			zap.String("origin", record.Origin),
			zap.Error(err))
	} else if created {
		im.logger.Info("导入远程服务",
			zap.Stringer("service", offer.Key),
			zap.String("origin", record.Origin))
	}
}

// applyDelete 远程记录被删除时停止该服务
func (im *Importer) applyDelete(etcdKey string) {
	key, err := routing.ParseKey(strings.TrimPrefix(etcdKey, im.client.GetServicesPrefix()))
	if err != nil {
		return
	}

	table := im.provider.Table()
	info, err := table.Find(key)
	if err != nil || info.IsLocal() {
		return
	}
	if err := table.StopOffer(key); err == nil {
		im.logger.Info("远程服务已撤回", zap.Stringer("service", key))
	}
}

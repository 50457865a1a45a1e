package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hewenyu/someip-routing/internal/config"
	"github.com/hewenyu/someip-routing/pkg/routing"
	"github.com/hewenyu/someip-routing/pkg/serviceinfo"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Record 存储在etcd中的服务记录
type Record struct {
	Service    routing.ServiceID         `json:"service"`
	Instance   routing.InstanceID        `json:"instance"`
	Major      serviceinfo.MajorVersion  `json:"major"`
	Minor      serviceinfo.MinorVersion  `json:"minor"`
	TTL        serviceinfo.TTL           `json:"ttl"`
	Group      string                    `json:"group,omitempty"`
	Local      bool                      `json:"local"`
	Origin     string                    `json:"origin,omitempty"`
	Reliable   *serviceinfo.EndpointView `json:"reliable,omitempty"`
	Unreliable *serviceinfo.EndpointView `json:"unreliable,omitempty"`
	Requesters []serviceinfo.ClientID    `json:"requesters"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// Key 记录对应的路由表索引
func (r *Record) Key() routing.Key {
	return routing.Key{Service: r.Service, Instance: r.Instance}
}

// NewRecord 根据服务描述生成记录
func NewRecord(key routing.Key, info *serviceinfo.ServiceInfo, now time.Time) *Record {
	snap := info.Snapshot()
	return &Record{
		Service:    key.Service,
		Instance:   key.Instance,
		Major:      snap.Major,
		Minor:      snap.Minor,
		TTL:        snap.TTL,
		Group:      snap.Group,
		Local:      snap.Local,
		Reliable:   snap.Reliable,
		Unreliable: snap.Unreliable,
		Requesters: snap.Requesters,
		UpdatedAt:  now,
	}
}

type leaseState struct {
	id  clientv3.LeaseID
	ttl int64
}

// Registry 将本地提供的服务以租约的方式发布到etcd
// etcd租约时长取服务描述的整秒租约，最短1秒。
type Registry struct {
	client *Client
	logger config.Logger

	mu     sync.Mutex
	leases map[routing.Key]leaseState
}

// NewRegistry 创建etcd服务发布器
func NewRegistry(client *Client, logger config.Logger) *Registry {
	if logger == nil {
		logger = config.NewNopLogger()
	}
	return &Registry{
		client: client,
		logger: logger,
		leases: make(map[routing.Key]leaseState),
	}
}

// leaseTTL etcd租约时长
func leaseTTL(info *serviceinfo.ServiceInfo) int64 {
	ttl := int64(info.TTL())
	if ttl < 1 {
		ttl = 1
	}
	return ttl
}

// Publish 发布或续约服务记录
func (r *Registry) Publish(ctx context.Context, key routing.Key, info *serviceinfo.ServiceInfo) error {
	record := NewRecord(key, info, time.Now())
	record.Origin = r.client.NodeID()

	data, err := json.Marshal(record)
	if err != nil {
		return routing.NewInternalError(fmt.Sprintf("序列化服务记录失败: %v", err))
	}

	leaseID, err := r.ensureLease(ctx, key, leaseTTL(info))
	if err != nil {
		return err
	}

	if _, err := r.client.GetClient().Put(ctx, r.client.GetServiceKey(key), string(data), clientv3.WithLease(leaseID)); err != nil {
		return routing.NewInternalError(fmt.Sprintf("写入etcd失败: %v", err))
	}
	return nil
}

// ensureLease 复用已有租约，租约时长变化或续约失败时重新申请
func (r *Registry) ensureLease(ctx context.Context, key routing.Key, ttl int64) (clientv3.LeaseID, error) {
	cli := r.client.GetClient()

	r.mu.Lock()
	state, ok := r.leases[key]
	r.mu.Unlock()

	if ok && state.ttl == ttl {
		_, err := cli.KeepAliveOnce(ctx, state.id)
		if err == nil {
			return state.id, nil
		}
		r.logger.Debug("续约失败，重新申请租约", zap.Stringer("service", key), zap.Error(err))
	} else if ok {
		if _, err := cli.Revoke(ctx, state.id); err != nil {
			r.logger.Debug("撤销旧租约失败", zap.Stringer("service", key), zap.Error(err))
		}
	}

	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, routing.NewInternalError(fmt.Sprintf("创建etcd租约失败: %v", err))
	}

	r.mu.Lock()
	r.leases[key] = leaseState{id: lease.ID, ttl: ttl}
	r.mu.Unlock()

	return lease.ID, nil
}

// Withdraw 撤回服务记录
func (r *Registry) Withdraw(ctx context.Context, key routing.Key) error {
	r.mu.Lock()
	state, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	cli := r.client.GetClient()
	if ok {
		// 撤销租约会同时删除关联的key
		if _, err := cli.Revoke(ctx, state.id); err == nil {
			return nil
		}
	}

	if _, err := cli.Delete(ctx, r.client.GetServiceKey(key)); err != nil {
		return routing.NewInternalError(fmt.Sprintf("从etcd删除失败: %v", err))
	}
	return nil
}

// Get 读取单个服务记录
func (r *Registry) Get(ctx context.Context, key routing.Key) (*Record, error) {
	resp, err := r.client.GetClient().Get(ctx, r.client.GetServiceKey(key))
	if err != nil {
		return nil, routing.NewInternalError(fmt.Sprintf("从etcd读取失败: %v", err))
	}
	if len(resp.Kvs) == 0 {
		return nil, routing.NewNotFoundError("服务记录不存在: " + key.String())
	}

	var record Record
	if err := json.Unmarshal(resp.Kvs[0].Value, &record); err != nil {
		return nil, routing.NewInternalError(fmt.Sprintf("解析服务记录失败: %v", err))
	}
	return &record, nil
}

// List 读取所有已发布的服务记录，无法解析的记录被跳过
func (r *Registry) List(ctx context.Context) ([]*Record, error) {
	prefix := r.client.GetServicesPrefix()
	resp, err := r.client.GetClient().Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, routing.NewInternalError(fmt.Sprintf("从etcd读取失败: %v", err))
	}

	records := make([]*Record, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var record Record
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			r.logger.Warn("跳过无法解析的服务记录",
				zap.String("key", strings.TrimPrefix(string(kv.Key), prefix)),
				zap.Error(err))
			continue
		}
		records = append(records, &record)
	}
	return records, nil
}

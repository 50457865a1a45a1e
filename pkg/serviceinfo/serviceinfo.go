package serviceinfo

import (
	"sort"
	"sync"
	"time"
)

// MajorVersion 服务接口主版本号
type MajorVersion uint8

// MinorVersion 服务接口次版本号
type MinorVersion uint32

// TTL 以整秒表示的租约时长，与服务发现报文中的粒度一致
type TTL uint32

// ClientID 本地客户端标识
type ClientID uint16

// Group 服务所属的服务组
type Group interface {
	Name() string
}

// Endpoint 服务可达的传输端点
type Endpoint interface {
	ID() string
	Address() string
	Port() uint16
	IsReliable() bool
}

// ServiceInfo 路由层为一个服务实例保存的描述信息
//
// 版本号与本地标志在构造后不可变。租约、请求者集合以及绑定信息(服务组、端点、
// 主阶段标志)分别由三把互不嵌套的锁保护，任何操作都不会同时持有两把锁。
type ServiceInfo struct {
	major MajorVersion
	minor MinorVersion
	local bool

	ttlMu sync.Mutex
	ttl   time.Duration

	bindingMu   sync.RWMutex
	group       Group
	reliable    Endpoint
	unreliable  Endpoint
	inMainPhase bool

	requestersMu sync.Mutex
	requesters   map[ClientID]struct{}
}

// New 创建服务描述，ttl以秒为单位
func New(major MajorVersion, minor MinorVersion, ttl TTL, local bool) *ServiceInfo {
	return &ServiceInfo{
		major:      major,
		minor:      minor,
		local:      local,
		ttl:        secondsToDuration(ttl),
		requesters: make(map[ClientID]struct{}),
	}
}

// Group 返回所属服务组，未设置时为nil
func (s *ServiceInfo) Group() Group {
	s.bindingMu.RLock()
	defer s.bindingMu.RUnlock()
	return s.group
}

// SetGroup 替换所属服务组，不持有其所有权
func (s *ServiceInfo) SetGroup(group Group) {
	s.bindingMu.Lock()
	defer s.bindingMu.Unlock()
	s.group = group
}

// Major 返回主版本号
func (s *ServiceInfo) Major() MajorVersion {
	return s.major
}

// Minor 返回次版本号
func (s *ServiceInfo) Minor() MinorVersion {
	return s.minor
}

// TTL 返回剩余租约，向下取整到秒
func (s *ServiceInfo) TTL() TTL {
	s.ttlMu.Lock()
	defer s.ttlMu.Unlock()
	return TTL(s.ttl / time.Second)
}

// SetTTL 以秒为单位覆盖租约
func (s *ServiceInfo) SetTTL(ttl TTL) {
	s.ttlMu.Lock()
	defer s.ttlMu.Unlock()
	s.ttl = secondsToDuration(ttl)
}

// PreciseTTL 返回毫秒精度的剩余租约
func (s *ServiceInfo) PreciseTTL() time.Duration {
	s.ttlMu.Lock()
	defer s.ttlMu.Unlock()
	return s.ttl
}

// SetPreciseTTL 以毫秒精度覆盖租约
// 负值按0处理，不足1毫秒的部分被截断。
func (s *ServiceInfo) SetPreciseTTL(ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	ttl = ttl.Truncate(time.Millisecond)

	s.ttlMu.Lock()
	defer s.ttlMu.Unlock()
	s.ttl = ttl
}

// Endpoint 返回可靠或不可靠端点，未设置时为nil
func (s *ServiceInfo) Endpoint(reliable bool) Endpoint {
	s.bindingMu.RLock()
	defer s.bindingMu.RUnlock()
	if reliable {
		return s.reliable
	}
	return s.unreliable
}

// SetEndpoint 替换对应的端点，传入nil清空该端点
func (s *ServiceInfo) SetEndpoint(endpoint Endpoint, reliable bool) {
	s.bindingMu.Lock()
	defer s.bindingMu.Unlock()
	if reliable {
		s.reliable = endpoint
	} else {
		s.unreliable = endpoint
	}
}

// AddClient 添加请求者，重复添加无效果
func (s *ServiceInfo) AddClient(client ClientID) {
	s.requestersMu.Lock()
	defer s.requestersMu.Unlock()
	s.requesters[client] = struct{}{}
}

// RemoveClient 移除请求者，不存在时无效果
func (s *ServiceInfo) RemoveClient(client ClientID) {
	s.requestersMu.Lock()
	defer s.requestersMu.Unlock()
	delete(s.requesters, client)
}

// RequestersSize 返回当前请求者数量
func (s *ServiceInfo) RequestersSize() uint32 {
	s.requestersMu.Lock()
	defer s.requestersMu.Unlock()
	return uint32(len(s.requesters))
}

// Requesters 返回按ID排序的请求者副本
func (s *ServiceInfo) Requesters() []ClientID {
	s.requestersMu.Lock()
	clients := make([]ClientID, 0, len(s.requesters))
	for client := range s.requesters {
		clients = append(clients, client)
	}
	s.requestersMu.Unlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	return clients
}

// IsLocal 是否为本地提供的服务
func (s *ServiceInfo) IsLocal() bool {
	return s.local
}

// IsInMainPhase 是否已结束服务发现的重复阶段
func (s *ServiceInfo) IsInMainPhase() bool {
	s.bindingMu.RLock()
	defer s.bindingMu.RUnlock()
	return s.inMainPhase
}

// SetIsInMainPhase 设置主阶段标志
func (s *ServiceInfo) SetIsInMainPhase(inMainPhase bool) {
	s.bindingMu.Lock()
	defer s.bindingMu.Unlock()
	s.inMainPhase = inMainPhase
}

func secondsToDuration(ttl TTL) time.Duration {
	return time.Duration(ttl) * time.Second
}

// ReduceTTL 将租约减少elapsed并返回剩余值，结果不小于0
// 读取与写回在同一次加锁内完成，不会覆盖并发的刷新。
func (s *ServiceInfo) ReduceTTL(elapsed time.Duration) time.Duration {
	if elapsed < 0 {
		elapsed = 0
	}

	s.ttlMu.Lock()
	defer s.ttlMu.Unlock()

	remaining := (s.ttl - elapsed).Truncate(time.Millisecond)
	if remaining < 0 {
		remaining = 0
	}
	s.ttl = remaining
	return remaining
}

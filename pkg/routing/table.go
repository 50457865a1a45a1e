package routing

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hewenyu/someip-routing/internal/config"
	"github.com/hewenyu/someip-routing/pkg/serviceinfo"
	"go.uber.org/zap"
)

// ServiceID 服务标识
type ServiceID uint16

// InstanceID 实例标识
type InstanceID uint16

// Key 路由表中服务实例的索引
type Key struct {
	Service  ServiceID
	Instance InstanceID
}

// String 返回 ssss.iiii 形式的十六进制表示
func (k Key) String() string {
	return fmt.Sprintf("%04x.%04x", uint16(k.Service), uint16(k.Instance))
}

// ParseKey 解析 ssss.iiii 形式的服务索引
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return Key{}, NewInvalidArgumentError("服务索引格式应为 ssss.iiii: " + s)
	}

	service, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return Key{}, NewInvalidArgumentError("无效的服务ID: " + parts[0])
	}
	instance, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return Key{}, NewInvalidArgumentError("无效的实例ID: " + parts[1])
	}

	return Key{Service: ServiceID(service), Instance: InstanceID(instance)}, nil
}

// OfferRequest 提供或刷新服务的参数
type OfferRequest struct {
	Key   Key
	Major serviceinfo.MajorVersion
	Minor serviceinfo.MinorVersion
	TTL   serviceinfo.TTL
	Local bool
	// Group 为空时使用DefaultGroup
	Group string
	// 为nil的端点保持原值不变
	Reliable   serviceinfo.Endpoint
	Unreliable serviceinfo.Endpoint
}

// RemoveFunc 服务从路由表移除后的回调
type RemoveFunc func(key Key, info *serviceinfo.ServiceInfo)

// Entry 路由表条目
type Entry struct {
	Key  Key
	Info *serviceinfo.ServiceInfo
}

// Table 路由表，按服务和实例索引服务描述
type Table struct {
	mu       sync.RWMutex
	services map[Key]*serviceinfo.ServiceInfo
	groups   map[string]*ServiceGroup

	hooksMu  sync.RWMutex
	onRemove []RemoveFunc

	logger config.Logger
}

// NewTable 创建路由表
func NewTable(logger config.Logger) *Table {
	if logger == nil {
		logger = config.NewNopLogger()
	}
	return &Table{
		services: make(map[Key]*serviceinfo.ServiceInfo),
		groups:   make(map[string]*ServiceGroup),
		logger:   logger,
	}
}

// OnRemove 注册移除回调，回调在路由表锁之外执行
func (t *Table) OnRemove(fn RemoveFunc) {
	t.hooksMu.Lock()
	defer t.hooksMu.Unlock()
	t.onRemove = append(t.onRemove, fn)
}

// Replaced 刷新时被替换下来的端点，对应槽位未被替换时为nil
type Replaced struct {
	Reliable   serviceinfo.Endpoint
	Unreliable serviceinfo.Endpoint
}

// Offer 提供服务或刷新已存在服务的租约
// 返回的布尔值表示是否新建了服务描述。
func (t *Table) Offer(req OfferRequest) (*serviceinfo.ServiceInfo, bool, error) {
	info, created, _, err := t.OfferSwap(req)
	return info, created, err
}

// OfferSwap 与Offer相同，另外返回刷新时被替换的端点
// 旧端点的读取与新端点的绑定在同一次加锁内完成。
func (t *Table) OfferSwap(req OfferRequest) (*serviceinfo.ServiceInfo, bool, Replaced, error) {
	var replaced Replaced
	if req.Reliable != nil && !req.Reliable.IsReliable() {
		return nil, false, replaced, NewInvalidArgumentError("可靠端点必须使用可靠传输")
	}
	if req.Unreliable != nil && req.Unreliable.IsReliable() {
		return nil, false, replaced, NewInvalidArgumentError("不可靠端点不能使用可靠传输")
	}
	groupName := req.Group
	if groupName == "" {
		groupName = DefaultGroup
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if info, ok := t.services[req.Key]; ok {
		if info.Major() != req.Major {
			return nil, false, replaced, NewAlreadyExistsError(fmt.Sprintf("服务 %s 已以主版本 %d 提供", req.Key, info.Major()))
		}
		if info.IsLocal() != req.Local {
			return nil, false, replaced, NewAlreadyExistsError(fmt.Sprintf("服务 %s 的本地属性冲突", req.Key))
		}

		if req.Reliable != nil {
			replaced.Reliable = info.Endpoint(true)
		}
		if req.Unreliable != nil {
			replaced.Unreliable = info.Endpoint(false)
		}
		info.SetTTL(req.TTL)
		bindEndpoints(info, req)
		if t.moveLocked(req.Key, info, groupName) {
			t.logger.Info("服务移动到新的服务组",
				zap.Stringer("service", req.Key),
				zap.String("group", groupName))
		}
		t.logger.Debug("刷新服务租约",
			zap.Stringer("service", req.Key),
			zap.Uint32("ttl", uint32(req.TTL)))
		return info, false, replaced, nil
	}

	info := serviceinfo.New(req.Major, req.Minor, req.TTL, req.Local)
	bindEndpoints(info, req)
	t.moveLocked(req.Key, info, groupName)

	t.services[req.Key] = info
	t.logger.Info("新增服务",
		zap.Stringer("service", req.Key),
		zap.Uint8("major", uint8(req.Major)),
		zap.Uint32("minor", uint32(req.Minor)),
		zap.Uint32("ttl", uint32(req.TTL)),
		zap.Bool("local", req.Local),
		zap.String("group", groupName))
	return info, true, replaced, nil
}

func bindEndpoints(info *serviceinfo.ServiceInfo, req OfferRequest) {
	if req.Reliable != nil {
		info.SetEndpoint(req.Reliable, true)
	}
	if req.Unreliable != nil {
		info.SetEndpoint(req.Unreliable, false)
	}
}

// StopOffer 停止提供服务，租约置0后由租约定时器移除
func (t *Table) StopOffer(key Key) error {
	info, err := t.Find(key)
	if err != nil {
		return err
	}

	info.SetTTL(0)
	t.logger.Info("停止提供服务", zap.Stringer("service", key))
	return nil
}

// Find 查找服务描述
func (t *Table) Find(key Key) (*serviceinfo.ServiceInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info, ok := t.services[key]
	if !ok {
		return nil, NewNotFoundError("服务不存在: " + key.String())
	}
	return info, nil
}

// List 返回所有服务，按索引排序
func (t *Table) List() []Entry {
	t.mu.RLock()
	entries := make([]Entry, 0, len(t.services))
	for key, info := range t.services {
		entries = append(entries, Entry{Key: key, Info: info})
	}
	t.mu.RUnlock()

	sortEntries(entries)
	return entries
}

// ListByGroup 返回指定服务组内的服务
func (t *Table) ListByGroup(name string) ([]Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	group, ok := t.groups[name]
	if !ok {
		return nil, NewNotFoundError("服务组不存在: " + name)
	}

	keys := group.Members()
	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		if info, ok := t.services[key]; ok {
			entries = append(entries, Entry{Key: key, Info: info})
		}
	}
	return entries, nil
}

// Len 返回服务数量
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.services)
}

// Remove 从路由表移除服务
func (t *Table) Remove(key Key) error {
	t.mu.Lock()
	info, ok := t.services[key]
	if ok {
		t.removeLocked(key, info)
	}
	t.mu.Unlock()

	if !ok {
		return NewNotFoundError("服务不存在: " + key.String())
	}

	t.logger.Info("移除服务", zap.Stringer("service", key))
	t.notifyRemoved(key, info)
	return nil
}

// Request 记录客户端对服务的请求
func (t *Table) Request(key Key, client serviceinfo.ClientID) error {
	info, err := t.Find(key)
	if err != nil {
		return err
	}

	info.AddClient(client)
	t.logger.Debug("客户端请求服务",
		zap.Stringer("service", key),
		zap.Uint16("client", uint16(client)),
		zap.Uint32("requesters", info.RequestersSize()))
	return nil
}

// Release 记录客户端释放服务，重复释放无效果
func (t *Table) Release(key Key, client serviceinfo.ClientID) error {
	info, err := t.Find(key)
	if err != nil {
		return err
	}

	info.RemoveClient(client)
	t.logger.Debug("客户端释放服务",
		zap.Stringer("service", key),
		zap.Uint16("client", uint16(client)),
		zap.Uint32("requesters", info.RequestersSize()))
	return nil
}

// Group 获取服务组，不存在时创建
func (t *Table) Group(name string) *ServiceGroup {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.groupLocked(name)
}

// Groups 返回所有服务组名
func (t *Table) Groups() []string {
	t.mu.RLock()
	names := make([]string, 0, len(t.groups))
	for name := range t.groups {
		names = append(names, name)
	}
	t.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Regroup 将服务移动到另一个服务组
func (t *Table) Regroup(key Key, groupName string) error {
	if groupName == "" {
		return NewInvalidArgumentError("服务组名不能为空")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.services[key]
	if !ok {
		return NewNotFoundError("服务不存在: " + key.String())
	}

	t.moveLocked(key, info, groupName)
	return nil
}

// Expire 按经过的时间递减远程服务的租约并移除到期的服务
// 本地服务的租约不递减，仅在停止提供(租约为0)后移除。
func (t *Table) Expire(elapsed time.Duration) []Key {
	var expired []Entry

	t.mu.Lock()
	for key, info := range t.services {
		var remaining time.Duration
		if info.IsLocal() {
			remaining = info.PreciseTTL()
		} else {
			remaining = info.ReduceTTL(elapsed)
		}
		if remaining > 0 {
			continue
		}

		t.removeLocked(key, info)
		expired = append(expired, Entry{Key: key, Info: info})
	}
	t.mu.Unlock()

	sortEntries(expired)
	keys := make([]Key, 0, len(expired))
	for _, entry := range expired {
		t.logger.Info("服务租约到期",
			zap.Stringer("service", entry.Key),
			zap.Bool("local", entry.Info.IsLocal()),
			zap.Uint32("requesters", entry.Info.RequestersSize()))
		t.notifyRemoved(entry.Key, entry.Info)
		keys = append(keys, entry.Key)
	}
	return keys
}

func (t *Table) groupLocked(name string) *ServiceGroup {
	group, ok := t.groups[name]
	if !ok {
		group = newServiceGroup(name)
		t.groups[name] = group
	}
	return group
}

// moveLocked 将服务放入指定组，已在该组时返回false
func (t *Table) moveLocked(key Key, info *serviceinfo.ServiceInfo, name string) bool {
	old, _ := info.Group().(*ServiceGroup)
	if old != nil && old.Name() == name {
		return false
	}
	if old != nil {
		old.remove(key)
	}
	group := t.groupLocked(name)
	group.add(key)
	info.SetGroup(group)
	return true
}

func (t *Table) removeLocked(key Key, info *serviceinfo.ServiceInfo) {
	delete(t.services, key)
	if group, ok := info.Group().(*ServiceGroup); ok && group != nil {
		group.remove(key)
	}
}

func (t *Table) notifyRemoved(key Key, info *serviceinfo.ServiceInfo) {
	t.hooksMu.RLock()
	hooks := make([]RemoveFunc, len(t.onRemove))
	copy(hooks, t.onRemove)
	t.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(key, info)
	}
}

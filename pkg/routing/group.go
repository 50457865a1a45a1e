package routing

import (
	"sort"
	"sync"
)

// DefaultGroup 未指定服务组时使用的组名
const DefaultGroup = "default"

// ServiceGroup 服务组，服务描述通过弱引用指向所属的组
type ServiceGroup struct {
	name string

	mu      sync.RWMutex
	members map[Key]struct{}
}

func newServiceGroup(name string) *ServiceGroup {
	return &ServiceGroup{
		name:    name,
		members: make(map[Key]struct{}),
	}
}

// Name 组名
func (g *ServiceGroup) Name() string {
	return g.name
}

// Members 返回组内服务，按服务ID和实例ID排序
func (g *ServiceGroup) Members() []Key {
	g.mu.RLock()
	keys := make([]Key, 0, len(g.members))
	for key := range g.members {
		keys = append(keys, key)
	}
	g.mu.RUnlock()

	sortKeys(keys)
	return keys
}

// Len 组内服务数量
func (g *ServiceGroup) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

func (g *ServiceGroup) add(key Key) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[key] = struct{}{}
}

func (g *ServiceGroup) remove(key Key) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members, key)
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Service != keys[j].Service {
			return keys[i].Service < keys[j].Service
		}
		return keys[i].Instance < keys[j].Instance
	})
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Key, entries[j].Key
		if a.Service != b.Service {
			return a.Service < b.Service
		}
		return a.Instance < b.Instance
	})
}

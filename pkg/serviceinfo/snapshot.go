package serviceinfo

import "time"

// EndpointView 端点的只读视图
type EndpointView struct {
	ID       string `json:"id"`
	Address  string `json:"address"`
	Port     uint16 `json:"port"`
	Reliable bool   `json:"reliable"`
}

// Snapshot 服务描述在某一时刻的值拷贝
// 各字段按各自的锁分别读取，不保证跨锁的一致性。
type Snapshot struct {
	Group string       `json:"group,omitempty"`
	Major MajorVersion `json:"major"`
	Minor MinorVersion `json:"minor"`
	TTL   TTL          `json:"ttl"`
	// PreciseTTLMs 毫秒精度的剩余租约
	PreciseTTLMs int64         `json:"precise_ttl_ms"`
	Local        bool          `json:"local"`
	InMainPhase  bool          `json:"in_main_phase"`
	Reliable     *EndpointView `json:"reliable,omitempty"`
	Unreliable   *EndpointView `json:"unreliable,omitempty"`
	Requesters   []ClientID    `json:"requesters"`
}

// Snapshot 生成当前状态的拷贝，供管理接口和DNS导出使用
func (s *ServiceInfo) Snapshot() Snapshot {
	precise := s.PreciseTTL()

	snap := Snapshot{
		Major:        s.major,
		Minor:        s.minor,
		TTL:          TTL(precise / time.Second),
		PreciseTTLMs: int64(precise / time.Millisecond),
		Local:        s.local,
		Requesters:   s.Requesters(),
	}

	s.bindingMu.RLock()
	group, reliable, unreliable := s.group, s.reliable, s.unreliable
	snap.InMainPhase = s.inMainPhase
	s.bindingMu.RUnlock()

	// 锁外调用协作对象
	if group != nil {
		snap.Group = group.Name()
	}
	snap.Reliable = viewOf(reliable)
	snap.Unreliable = viewOf(unreliable)

	return snap
}

func viewOf(ep Endpoint) *EndpointView {
	if ep == nil {
		return nil
	}
	return &EndpointView{
		ID:       ep.ID(),
		Address:  ep.Address(),
		Port:     ep.Port(),
		Reliable: ep.IsReliable(),
	}
}

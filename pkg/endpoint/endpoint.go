package endpoint

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Protocol 端点使用的传输协议
type Protocol string

const (
	// ProtocolTCP 可靠传输
	ProtocolTCP Protocol = "tcp"
	// ProtocolUDP 不可靠传输
	ProtocolUDP Protocol = "udp"
)

// ProtocolFor 根据可靠性返回协议
func ProtocolFor(reliable bool) Protocol {
	if reliable {
		return ProtocolTCP
	}
	return ProtocolUDP
}

// Endpoint 表示一个可共享的传输端点
// 只描述地址信息，不负责实际的网络读写。
type Endpoint struct {
	id       string
	address  net.IP
	port     uint16
	protocol Protocol
}

// New 创建端点，address必须是合法的IP地址
func New(address string, port uint16, protocol Protocol) (*Endpoint, error) {
	ip := net.ParseIP(address)
	if ip == nil {
		return nil, fmt.Errorf("无效的IP地址: %s", address)
	}
	if port == 0 {
		return nil, fmt.Errorf("端口不能为0")
	}
	if protocol != ProtocolTCP && protocol != ProtocolUDP {
		return nil, fmt.Errorf("不支持的协议: %s", protocol)
	}

	return &Endpoint{
		id:       uuid.New().String(),
		address:  ip,
		port:     port,
		protocol: protocol,
	}, nil
}

// ID 端点唯一标识
func (e *Endpoint) ID() string {
	return e.id
}

// Address 端点IP地址
func (e *Endpoint) Address() string {
	return e.address.String()
}

// IP 端点IP
func (e *Endpoint) IP() net.IP {
	return e.address
}

// Port 端点端口
func (e *Endpoint) Port() uint16 {
	return e.port
}

// Protocol 端点协议
func (e *Endpoint) Protocol() Protocol {
	return e.protocol
}

// IsReliable 是否为可靠传输
func (e *Endpoint) IsReliable() bool {
	return e.protocol == ProtocolTCP
}

// String 返回 protocol://ip:port 形式
func (e *Endpoint) String() string {
	return string(e.protocol) + "://" + net.JoinHostPort(e.Address(), strconv.Itoa(int(e.port)))
}

type managerKey struct {
	address  string
	port     uint16
	protocol Protocol
}

type managedEndpoint struct {
	endpoint *Endpoint
	refs     int
}

// Manager 按地址复用端点并维护引用计数
type Manager struct {
	mu        sync.Mutex
	endpoints map[managerKey]*managedEndpoint
}

// NewManager 创建端点管理器
func NewManager() *Manager {
	return &Manager{
		endpoints: make(map[managerKey]*managedEndpoint),
	}
}

// Acquire 获取端点，相同地址、端口和协议返回同一实例
func (m *Manager) Acquire(address string, port uint16, reliable bool) (*Endpoint, error) {
	ip := net.ParseIP(address)
	if ip == nil {
		return nil, fmt.Errorf("无效的IP地址: %s", address)
	}
	key := managerKey{address: ip.String(), port: port, protocol: ProtocolFor(reliable)}

	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, ok := m.endpoints[key]; ok {
		managed.refs++
		return managed.endpoint, nil
	}

	ep, err := New(key.address, port, key.protocol)
	if err != nil {
		return nil, err
	}
	m.endpoints[key] = &managedEndpoint{endpoint: ep, refs: 1}
	return ep, nil
}

// Release 释放一次引用，引用归零时移除端点
// 返回端点是否已被移除。
func (m *Manager) Release(ep *Endpoint) bool {
	if ep == nil {
		return false
	}
	key := managerKey{address: ep.Address(), port: ep.port, protocol: ep.protocol}

	m.mu.Lock()
	defer m.mu.Unlock()

	managed, ok := m.endpoints[key]
	if !ok || managed.endpoint != ep {
		return false
	}

	managed.refs--
	if managed.refs > 0 {
		return false
	}
	delete(m.endpoints, key)
	return true
}

// Refs 返回端点当前引用数
func (m *Manager) Refs(ep *Endpoint) int {
	if ep == nil {
		return 0
	}
	key := managerKey{address: ep.Address(), port: ep.port, protocol: ep.protocol}

	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, ok := m.endpoints[key]; ok && managed.endpoint == ep {
		return managed.refs
	}
	return 0
}

// Len 返回被管理的端点数量
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.endpoints)
}

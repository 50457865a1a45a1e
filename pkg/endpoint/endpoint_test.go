package endpoint

import (
	"testing"

	"github.com/hewenyu/someip-routing/pkg/serviceinfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ serviceinfo.Endpoint = (*Endpoint)(nil)

func TestNew(t *testing.T) {
	ep, err := New("192.168.1.10", 30509, ProtocolTCP)
	require.NoError(t, err)

	assert.NotEmpty(t, ep.ID())
	assert.Equal(t, "192.168.1.10", ep.Address())
	assert.Equal(t, uint16(30509), ep.Port())
	assert.True(t, ep.IsReliable())
	assert.Equal(t, "tcp://192.168.1.10:30509", ep.String())

	udp, err := New("fd00::1", 30490, ProtocolUDP)
	require.NoError(t, err)
	assert.False(t, udp.IsReliable())
	assert.Equal(t, "udp://[fd00::1]:30490", udp.String())
	assert.NotEqual(t, ep.ID(), udp.ID())

	// 测试无效参数
	_, err = New("not-an-ip", 1, ProtocolTCP)
	assert.Error(t, err)
	_, err = New("10.0.0.1", 0, ProtocolTCP)
	assert.Error(t, err)
	_, err = New("10.0.0.1", 1, Protocol("sctp"))
	assert.Error(t, err)
}

func TestManagerSharesEndpoints(t *testing.T) {
	m := NewManager()

	a, err := m.Acquire("10.0.0.1", 30501, true)
	require.NoError(t, err)
	b, err := m.Acquire("10.0.0.1", 30501, true)
	require.NoError(t, err)
	assert.Same(t, a, b, "相同地址应复用同一端点")
	assert.Equal(t, 2, m.Refs(a))

	// 协议不同视为不同端点
	c, err := m.Acquire("10.0.0.1", 30501, false)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, m.Len())

	assert.False(t, m.Release(a), "仍有引用时不应移除")
	assert.Equal(t, 1, m.Refs(a))
	assert.True(t, m.Release(b), "最后一次释放应移除端点")
	assert.Equal(t, 0, m.Refs(a))
	assert.Equal(t, 1, m.Len())

	// 重复释放无效果
	assert.False(t, m.Release(a))
	assert.False(t, m.Release(nil))

	_, err = m.Acquire("bad", 1, true)
	assert.Error(t, err)
}

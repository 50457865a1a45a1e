package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// 从默认位置加载配置
	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载默认配置")
	require.NotNil(t, config, "配置不应为nil")

	// 验证默认值
	assert.Equal(t, 5353, config.DNS.Port, "DNS端口应为5353")
	assert.Equal(t, "someip.local", config.DNS.Domain)
	assert.Equal(t, 8080, config.API.Port, "管理API端口应为8080")
	assert.Equal(t, []string{"localhost:2379"}, config.Etcd.Endpoints)
	assert.Equal(t, 5*time.Second, config.Etcd.DialTimeout)
	assert.False(t, config.Etcd.Enabled)
	assert.True(t, config.Etcd.Import)
	assert.NotEmpty(t, config.Etcd.NodeID, "未配置节点ID时应取主机名")
	assert.Equal(t, 100*time.Millisecond, config.Discovery.TickInterval)
	assert.Equal(t, 200*time.Millisecond, config.Discovery.RepetitionsBaseDelay)
	assert.Equal(t, 3, config.Discovery.RepetitionsMax)
	assert.Equal(t, 2*time.Second, config.Discovery.CyclicOfferDelay)
	assert.Equal(t, uint32(3), config.Discovery.DefaultTTL)
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	t.Setenv("SOMEIP_ROUTING_DNS_PORT", "5454")
	t.Setenv("SOMEIP_ROUTING_API_PORT", "9090")
	t.Setenv("SOMEIP_ROUTING_DEFAULT_TTL", "10")
	t.Setenv("SOMEIP_ROUTING_NODE_ID", "ecu-front")

	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载配置")
	require.NotNil(t, config, "配置不应为nil")

	// 验证环境变量覆盖
	assert.Equal(t, 5454, config.DNS.Port, "环境变量应正确覆盖DNS端口")
	assert.Equal(t, 9090, config.API.Port, "环境变量应正确覆盖管理API端口")
	assert.Equal(t, uint32(10), config.Discovery.DefaultTTL)
	assert.Equal(t, "ecu-front", config.Etcd.NodeID)

	// 确认其他值不受影响
	assert.Equal(t, "someip.local", config.DNS.Domain, "域名不应被环境变量影响")
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.yaml")
	content := []byte(`
dns:
  domain: vehicle.local
discovery:
  tick_interval: 50ms
  repetitions_max: 0
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "vehicle.local", config.DNS.Domain)
	assert.Equal(t, 50*time.Millisecond, config.Discovery.TickInterval)
	assert.Equal(t, 0, config.Discovery.RepetitionsMax)
	assert.Equal(t, "debug", config.Log.Level)
	// 未在文件中出现的项保持默认值
	assert.Equal(t, 8080, config.API.Port)
}

func TestLoadConfigInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("discovery:\n  tick_interval: 0s\n"), 0o600))

	config, err := LoadConfig(path)
	assert.Error(t, err, "tick_interval为0应校验失败")
	assert.Nil(t, config)
}

func TestLoadConfigWithMissingFile(t *testing.T) {
	// 尝试从不存在的文件加载配置
	config, err := LoadConfig("non_existent_file.yaml")

	assert.Error(t, err, "从不存在的文件加载配置应该失败")
	assert.Nil(t, config, "加载不存在的配置文件应该返回nil配置")
}

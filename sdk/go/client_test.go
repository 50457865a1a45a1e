package sdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/someip-routing/internal/config"
	"github.com/hewenyu/someip-routing/pkg/api"
	"github.com/hewenyu/someip-routing/pkg/endpoint"
	"github.com/hewenyu/someip-routing/pkg/provider"
	"github.com/hewenyu/someip-routing/pkg/routing"
)

func newRoutingServer(t *testing.T) (*httptest.Server, *routing.Table) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Discovery.DefaultTTL = 3
	table := routing.NewTable(nil)
	server := api.NewServer(cfg, provider.New(table, endpoint.NewManager(), nil), nil)

	ts := httptest.NewServer(server.Echo())
	t.Cleanup(ts.Close)
	return ts, table
}

func newTestClient(t *testing.T, ts *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(&Config{
		ServerAddr:     strings.TrimPrefix(ts.URL, "http://"),
		Service:        0x1234,
		Instance:       1,
		Major:          1,
		Minor:          2,
		Group:          "body",
		ReliableAddr:   "127.0.0.1",
		ReliablePort:   30501,
		UnreliableAddr: "127.0.0.1",
		UnreliablePort: 30502,
		TTL:            4,
	})
	require.NoError(t, err)
	return client
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(&Config{})
	assert.Error(t, err)

	_, err = NewClient(&Config{ServerAddr: "localhost:8080", ReliableAddr: "127.0.0.1"})
	assert.Error(t, err, "端点缺少端口应返回错误")

	client, err := NewClient(&Config{ServerAddr: "localhost:8080", Service: 0xabcd, Instance: 2})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), client.config.TTL)
	assert.Equal(t, 1500*time.Millisecond, client.config.RefreshInterval)
	assert.Equal(t, "abcd.0002", client.Key())
}

func TestClient_OfferLifecycle(t *testing.T) {
	ts, table := newRoutingServer(t)
	client := newTestClient(t, ts)
	ctx := context.Background()

	assert.Error(t, client.StopOffer(ctx), "未提供时不能停止")

	info, err := client.Offer(ctx)
	require.NoError(t, err)
	assert.True(t, client.IsOffered())
	assert.Equal(t, "1234.0001", info.Key)
	assert.True(t, info.Local)
	assert.Equal(t, uint32(4), info.TTL)
	assert.Equal(t, int64(4000), info.PreciseTTLMs)
	require.NotNil(t, info.Reliable)
	assert.Equal(t, uint16(30501), info.Reliable.Port)
	assert.Equal(t, 1, table.Len())

	count, err := client.Request(ctx, 0x42)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), count)

	got, err := client.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x42}, got.Requesters)

	count, err = client.Release(ctx, 0x42)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), count)

	require.NoError(t, client.Close(ctx))
	assert.False(t, client.IsOffered())

	stored, err := table.Find(routing.Key{Service: 0x1234, Instance: 1})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), stored.PreciseTTL(), "停止提供后租约为0")
}

func TestClient_APIError(t *testing.T) {
	ts, _ := newRoutingServer(t)
	client := newTestClient(t, ts)

	_, err := client.Get(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestClient_Refresh(t *testing.T) {
	ts, table := newRoutingServer(t)
	client := newTestClient(t, ts)
	client.config.RefreshInterval = 20 * time.Millisecond

	_, err := client.Offer(context.Background())
	require.NoError(t, err)
	stored, err := table.Find(routing.Key{Service: 0x1234, Instance: 1})
	require.NoError(t, err)

	stored.SetTTL(1)
	client.StartRefresh()
	defer client.StopRefresh()

	assert.Eventually(t, func() bool {
		return stored.TTL() == 4
	}, 2*time.Second, 10*time.Millisecond, "刷新应恢复租约")

	// 重复停止不应panic
	client.StopRefresh()
	client.StopRefresh()
}

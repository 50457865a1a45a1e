package provider

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/someip-routing/pkg/endpoint"
	"github.com/hewenyu/someip-routing/pkg/routing"
)

func newProvider() (*Provider, *routing.Table, *endpoint.Manager) {
	table := routing.NewTable(nil)
	endpoints := endpoint.NewManager()
	return New(table, endpoints, nil), table, endpoints
}

func TestProvider_OfferAcquiresEndpoints(t *testing.T) {
	p, _, endpoints := newProvider()
	key := routing.Key{Service: 0x10, Instance: 1}

	info, created, err := p.Offer(Offer{
		Key: key, Major: 1, TTL: 5,
		Reliable:   &Address{Address: "10.0.0.1", Port: 30501},
		Unreliable: &Address{Address: "10.0.0.1", Port: 30501},
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2, endpoints.Len(), "同一地址的TCP与UDP是不同的端点")

	rel, ok := info.Endpoint(true).(*endpoint.Endpoint)
	require.True(t, ok)
	assert.Equal(t, 1, endpoints.Refs(rel))

	// 两个服务共享同一端点
	_, _, err = p.Offer(Offer{
		Key: routing.Key{Service: 0x11, Instance: 1}, Major: 1, TTL: 5,
		Reliable: &Address{Address: "10.0.0.1", Port: 30501},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, endpoints.Refs(rel))
}

func TestProvider_RefreshReplacesEndpoint(t *testing.T) {
	p, _, endpoints := newProvider()
	key := routing.Key{Service: 0x10, Instance: 1}

	info, _, err := p.Offer(Offer{Key: key, Major: 1, TTL: 5, Reliable: &Address{Address: "10.0.0.1", Port: 30501}})
	require.NoError(t, err)
	first := info.Endpoint(true).(*endpoint.Endpoint)

	// 相同地址的刷新不改变引用数
	_, created, err := p.Offer(Offer{Key: key, Major: 1, TTL: 7, Reliable: &Address{Address: "10.0.0.1", Port: 30501}})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, endpoints.Refs(first))

	// 不带端点的刷新保留原端点
	_, _, err = p.Offer(Offer{Key: key, Major: 1, TTL: 7})
	require.NoError(t, err)
	assert.Same(t, first, info.Endpoint(true))

	// 换地址后旧端点被释放
	_, _, err = p.Offer(Offer{Key: key, Major: 1, TTL: 7, Reliable: &Address{Address: "10.0.0.2", Port: 30501}})
	require.NoError(t, err)
	assert.Equal(t, 0, endpoints.Refs(first))
	assert.Equal(t, 1, endpoints.Len())
	assert.Equal(t, "10.0.0.2", info.Endpoint(true).Address())
}

func TestProvider_FailureReleases(t *testing.T) {
	p, _, endpoints := newProvider()
	key := routing.Key{Service: 0x10, Instance: 1}

	_, _, err := p.Offer(Offer{
		Key: key, Major: 1, TTL: 5,
		Reliable:   &Address{Address: "10.0.0.1", Port: 30501},
		Unreliable: &Address{Address: "bad", Port: 30502},
	})
	require.Error(t, err)
	assert.Equal(t, routing.ErrInvalidArgument, routing.CodeOf(err))
	assert.Equal(t, 0, endpoints.Len())

	_, _, err = p.Offer(Offer{Key: key, Major: 1, TTL: 5})
	require.NoError(t, err)
	_, _, err = p.Offer(Offer{Key: key, Major: 2, TTL: 5, Reliable: &Address{Address: "10.0.0.1", Port: 30501}})
	assert.Equal(t, routing.ErrAlreadyExists, routing.CodeOf(err))
	assert.Equal(t, 0, endpoints.Len())
}

func TestProvider_RemoveReleases(t *testing.T) {
	p, table, endpoints := newProvider()
	key := routing.Key{Service: 0x10, Instance: 1}

	_, _, err := p.Offer(Offer{
		Key: key, Major: 1, TTL: 1,
		Reliable:   &Address{Address: "10.0.0.1", Port: 30501},
		Unreliable: &Address{Address: "10.0.0.1", Port: 30502},
	})
	require.NoError(t, err)
	require.Equal(t, 2, endpoints.Len())

	expired := table.Expire(1500 * time.Millisecond)
	assert.Equal(t, []routing.Key{key}, expired)
	assert.Equal(t, 0, endpoints.Len())
}

func TestProvider_ConcurrentRefresh(t *testing.T) {
	p, table, endpoints := newProvider()
	key := routing.Key{Service: 0x10, Instance: 1}

	_, _, err := p.Offer(Offer{Key: key, Major: 1, TTL: 5, Reliable: &Address{Address: "10.0.0.1", Port: 30501}})
	require.NoError(t, err)

	const workers = 32
	const rounds = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				// 每次刷新使用不同地址，迫使端点被替换
				addr := fmt.Sprintf("10.1.%d.%d", i, r+1)
				_, _, err := p.Offer(Offer{Key: key, Major: 1, TTL: 5, Reliable: &Address{Address: addr, Port: 30501}})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	// 只剩当前绑定的端点，且只有一个引用
	require.Equal(t, 1, endpoints.Len(), "被替换的端点应全部释放")
	info, err := table.Find(key)
	require.NoError(t, err)
	bound, ok := info.Endpoint(true).(*endpoint.Endpoint)
	require.True(t, ok)
	assert.Equal(t, 1, endpoints.Refs(bound))

	require.NoError(t, table.Remove(key))
	assert.Equal(t, 0, endpoints.Len())
}

package etcd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hewenyu/someip-routing/internal/config"
	"github.com/hewenyu/someip-routing/pkg/routing"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// defaultPrefix 服务记录的默认key前缀
const defaultPrefix = "/someip-routing/services/"

// Client 封装etcd客户端
type Client struct {
	client *clientv3.Client
	prefix string
	nodeID string
}

// NewClient 创建新的etcd客户端并检查连接
func NewClient(cfg *config.Config) (*Client, error) {
	if len(cfg.Etcd.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd地址不能为空")
	}

	dialTimeout := cfg.Etcd.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Etcd.Endpoints,
		DialTimeout: dialTimeout,
		Username:    cfg.Etcd.Username,
		Password:    cfg.Etcd.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("连接etcd失败: %w", err)
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if _, err := client.Status(ctx, cfg.Etcd.Endpoints[0]); err != nil {
		client.Close()
		return nil, fmt.Errorf("etcd连接测试失败: %w", err)
	}

	return &Client{
		client: client,
		prefix: normalizePrefix(cfg.Etcd.Prefix),
		nodeID: cfg.Etcd.NodeID,
	}, nil
}

// Close 关闭etcd客户端连接
func (c *Client) Close() error {
	return c.client.Close()
}

// GetClient 获取原始etcd客户端
func (c *Client) GetClient() *clientv3.Client {
	return c.client
}

// NodeID 本节点标识
func (c *Client) NodeID() string {
	return c.nodeID
}

// GetServiceKey 获取服务记录的完整key
func (c *Client) GetServiceKey(key routing.Key) string {
	return c.prefix + key.String()
}

// GetServicesPrefix 获取服务记录的前缀
func (c *Client) GetServicesPrefix() string {
	return c.prefix
}

func normalizePrefix(prefix string) string {
	if prefix == "" {
		return defaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

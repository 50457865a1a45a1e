package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// endpointRequest 端点参数
type endpointRequest struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
}

// offerRequest 提供服务请求
type offerRequest struct {
	Service    uint16           `json:"service"`
	Instance   uint16           `json:"instance"`
	Major      uint8            `json:"major"`
	Minor      uint32           `json:"minor"`
	TTL        *uint32          `json:"ttl,omitempty"`
	Local      bool             `json:"local"`
	Group      string           `json:"group,omitempty"`
	Reliable   *endpointRequest `json:"reliable,omitempty"`
	Unreliable *endpointRequest `json:"unreliable,omitempty"`
}

// Endpoint 服务端点
type Endpoint struct {
	ID       string `json:"id"`
	Address  string `json:"address"`
	Port     uint16 `json:"port"`
	Reliable bool   `json:"reliable"`
}

// ServiceInfo 路由服务中的服务描述
type ServiceInfo struct {
	Key          string    `json:"key"`
	Group        string    `json:"group"`
	Major        uint8     `json:"major"`
	Minor        uint32    `json:"minor"`
	TTL          uint32    `json:"ttl"`
	PreciseTTLMs int64     `json:"precise_ttl_ms"`
	Local        bool      `json:"local"`
	InMainPhase  bool      `json:"in_main_phase"`
	Reliable     *Endpoint `json:"reliable,omitempty"`
	Unreliable   *Endpoint `json:"unreliable,omitempty"`
	Requesters   []uint16  `json:"requesters"`
}

// Offer 提供服务，已提供时刷新租约
func (c *Client) Offer(ctx context.Context) (*ServiceInfo, error) {
	ttl := c.config.TTL
	req := offerRequest{
		Service:  c.config.Service,
		Instance: c.config.Instance,
		Major:    c.config.Major,
		Minor:    c.config.Minor,
		TTL:      &ttl,
		Local:    true,
		Group:    c.config.Group,
	}
	if c.config.ReliableAddr != "" {
		req.Reliable = &endpointRequest{Address: c.config.ReliableAddr, Port: c.config.ReliablePort}
	}
	if c.config.UnreliableAddr != "" {
		req.Unreliable = &endpointRequest{Address: c.config.UnreliableAddr, Port: c.config.UnreliablePort}
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/services", req)
	if err != nil {
		return nil, fmt.Errorf("提供服务失败: %w", err)
	}

	var info ServiceInfo
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		return nil, fmt.Errorf("解析服务描述失败: %w", err)
	}

	c.mu.Lock()
	c.offered = true
	c.mu.Unlock()
	return &info, nil
}

// StopOffer 停止提供服务
func (c *Client) StopOffer(ctx context.Context) error {
	if !c.IsOffered() {
		return fmt.Errorf("服务尚未提供")
	}

	if _, err := c.doRequest(ctx, http.MethodDelete, "/api/v1/services/"+c.Key(), nil); err != nil {
		return fmt.Errorf("停止提供服务失败: %w", err)
	}

	c.mu.Lock()
	c.offered = false
	c.mu.Unlock()
	return nil
}

// Get 查询服务描述
func (c *Client) Get(ctx context.Context) (*ServiceInfo, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/services/"+c.Key(), nil)
	if err != nil {
		return nil, fmt.Errorf("查询服务失败: %w", err)
	}

	var info ServiceInfo
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		return nil, fmt.Errorf("解析服务描述失败: %w", err)
	}
	return &info, nil
}

// Request 以指定客户端ID请求服务，返回当前请求者数量
func (c *Client) Request(ctx context.Context, client uint16) (uint32, error) {
	return c.updateRequester(ctx, http.MethodPost, client)
}

// Release 以指定客户端ID释放服务，返回当前请求者数量
func (c *Client) Release(ctx context.Context, client uint16) (uint32, error) {
	return c.updateRequester(ctx, http.MethodDelete, client)
}

func (c *Client) updateRequester(ctx context.Context, method string, client uint16) (uint32, error) {
	path := fmt.Sprintf("/api/v1/services/%s/requesters/%d", c.Key(), client)
	resp, err := c.doRequest(ctx, method, path, nil)
	if err != nil {
		return 0, fmt.Errorf("更新请求者失败: %w", err)
	}

	var result struct {
		Requesters uint32 `json:"requesters"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return 0, fmt.Errorf("解析响应失败: %w", err)
	}
	return result.Requesters, nil
}

// IsOffered 检查服务是否已提供
func (c *Client) IsOffered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offered
}

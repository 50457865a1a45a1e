package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Config SDK客户端配置
type Config struct {
	// 路由服务管理API地址
	ServerAddr string `json:"server_addr"`
	// 服务ID与实例ID
	Service  uint16 `json:"service"`
	Instance uint16 `json:"instance"`
	// 接口版本
	Major uint8  `json:"major"`
	Minor uint32 `json:"minor"`
	// 服务组，为空时使用默认组
	Group string `json:"group"`
	// 可靠(TCP)端点，地址为空表示不提供
	ReliableAddr string `json:"reliable_addr"`
	ReliablePort uint16 `json:"reliable_port"`
	// 不可靠(UDP)端点，地址为空表示不提供
	UnreliableAddr string `json:"unreliable_addr"`
	UnreliablePort uint16 `json:"unreliable_port"`
	// 租约（秒）
	TTL uint32 `json:"ttl"`
	// 刷新间隔，默认为租约的一半
	RefreshInterval time.Duration `json:"refresh_interval"`
	// 操作超时时间
	Timeout time.Duration `json:"timeout"`
	// 是否使用HTTPS
	Secure bool `json:"secure"`
}

// Client SDK客户端
type Client struct {
	config     *Config
	httpClient *http.Client

	mu       sync.Mutex
	offered  bool
	stopChan chan struct{}
}

// Response API响应结构
type Response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// APIError 管理API返回的错误
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API请求失败: %s (状态码: %d)", e.Message, e.StatusCode)
}

// NewClient 创建SDK客户端
func NewClient(config *Config) (*Client, error) {
	// 验证必填配置
	if config.ServerAddr == "" {
		return nil, fmt.Errorf("服务器地址不能为空")
	}
	if config.ReliableAddr != "" && config.ReliablePort == 0 {
		return nil, fmt.Errorf("可靠端点端口必须大于0")
	}
	if config.UnreliableAddr != "" && config.UnreliablePort == 0 {
		return nil, fmt.Errorf("不可靠端点端口必须大于0")
	}

	// 设置默认值
	if config.TTL == 0 {
		config.TTL = 3
	}
	if config.RefreshInterval == 0 {
		config.RefreshInterval = time.Duration(config.TTL) * time.Second / 2
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Key 服务索引，格式为 ssss.iiii
func (c *Client) Key() string {
	return fmt.Sprintf("%04x.%04x", c.config.Service, c.config.Instance)
}

// 构建API地址
func (c *Client) buildURL(path string) string {
	protocol := "http"
	if c.config.Secure {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s%s", protocol, c.config.ServerAddr, path)
}

// 发送HTTP请求
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	var apiResp Response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w, 响应内容: %s", err, string(respBody))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiResp, &APIError{StatusCode: resp.StatusCode, Message: apiResp.Message}
	}

	return &apiResp, nil
}

package sdk

import (
	"context"
	"fmt"
	"log"
	"time"
)

// StartRefresh 开始周期性刷新租约
func (c *Client) StartRefresh() {
	// 停止已有刷新任务
	c.StopRefresh()

	stopChan := make(chan struct{})
	c.mu.Lock()
	c.stopChan = stopChan
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.config.RefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
				if _, err := c.Offer(ctx); err != nil {
					log.Printf("刷新租约失败: %v, 将在下一个周期重试", err)
				}
				cancel()
			case <-stopChan:
				return
			}
		}
	}()
}

// StopRefresh 停止刷新任务
func (c *Client) StopRefresh() {
	c.mu.Lock()
	stopChan := c.stopChan
	c.stopChan = nil
	c.mu.Unlock()

	if stopChan != nil {
		close(stopChan)
	}
}

// Close 停止刷新并停止提供服务
func (c *Client) Close(ctx context.Context) error {
	c.StopRefresh()

	if c.IsOffered() {
		if err := c.StopOffer(ctx); err != nil {
			return fmt.Errorf("关闭客户端失败: %w", err)
		}
	}
	return nil
}

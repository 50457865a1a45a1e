package dns

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// defaultCleanupInterval 过期缓存的清理周期
const defaultCleanupInterval = time.Minute

// DNSCache 缓存本地区域的DNS响应
type DNSCache struct {
	mu         sync.RWMutex
	cache      map[string]*cacheEntry
	defaultTTL time.Duration
}

// cacheEntry 表示缓存中的一条记录
type cacheEntry struct {
	msg      *dns.Msg
	expireAt time.Time
}

// NewDNSCache 创建新的DNS缓存，defaultTTL以秒为单位
func NewDNSCache(defaultTTL int) *DNSCache {
	return &DNSCache{
		cache:      make(map[string]*cacheEntry),
		defaultTTL: time.Duration(defaultTTL) * time.Second,
	}
}

// Get 从缓存获取DNS响应，返回副本
func (c *DNSCache) Get(key string) *dns.Msg {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, found := c.cache[key]
	if !found || time.Now().After(entry.expireAt) {
		return nil
	}
	return entry.msg.Copy()
}

// Set 缓存响应，缓存时长取默认时长与应答中最小TTL的较小值
// 应答中存在TTL为0的记录时不缓存。
func (c *DNSCache) Set(key string, msg *dns.Msg) {
	if msg == nil || c.defaultTTL <= 0 {
		return
	}

	ttl := c.defaultTTL
	for _, rr := range msg.Answer {
		rrTTL := time.Duration(rr.Header().Ttl) * time.Second
		if rrTTL < ttl {
			ttl = rrTTL
		}
	}
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = &cacheEntry{
		msg:      msg.Copy(),
		expireAt: time.Now().Add(ttl),
	}
}

// Flush 清空缓存
func (c *DNSCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*cacheEntry)
}

// Len 缓存条目数
func (c *DNSCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// CleanupExpired 清理所有过期缓存
func (c *DNSCache) CleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.cache {
		if now.After(entry.expireAt) {
			delete(c.cache, key)
		}
	}
}

// GetCacheKey 生成缓存键
func GetCacheKey(q dns.Question) string {
	return strings.ToLower(q.Name) + "-" + dns.TypeToString[q.Qtype]
}

// StartCleanupRoutine 启动定期清理过期缓存的协程，ctx取消时退出
func (c *DNSCache) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.CleanupExpired()
			case <-ctx.Done():
				return
			}
		}
	}()
}

package sdk

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Resolver 通过路由服务的DNS接口查找服务端点
type Resolver struct {
	dnsServer string
	domain    string
	cacheTTL  time.Duration
	client    *dns.Client

	cacheLocker sync.RWMutex
	cache       map[string]resolveCacheEntry
}

type resolveCacheEntry struct {
	addr       string
	expiration time.Time
}

// NewResolver 创建服务解析器
// cacheTTL为缓存上限，实际缓存时长不超过记录自身的TTL。
func NewResolver(dnsServer, domain string, cacheTTL time.Duration) *Resolver {
	if dnsServer == "" {
		dnsServer = "127.0.0.1:5353"
	}
	if domain == "" {
		domain = "someip.local"
	}

	return &Resolver{
		dnsServer: dnsServer,
		domain:    strings.TrimSuffix(domain, "."),
		cacheTTL:  cacheTTL,
		client:    &dns.Client{Net: "udp", Timeout: 5 * time.Second},
		cache:     make(map[string]resolveCacheEntry),
	}
}

// ServiceName 服务的SRV查询名
func (r *Resolver) ServiceName(service, instance uint16, reliable bool) string {
	proto := "_udp"
	if reliable {
		proto = "_tcp"
	}
	return dns.Fqdn(fmt.Sprintf("_someip.%s.%04x.%04x.%s", proto, service, instance, r.domain))
}

// ResolveService 解析服务端点，返回 主机:端口
func (r *Resolver) ResolveService(ctx context.Context, service, instance uint16, reliable bool) (string, error) {
	name := r.ServiceName(service, instance, reliable)
	if addr := r.getFromCache(name); addr != "" {
		return addr, nil
	}

	resp, err := r.exchange(ctx, name, dns.TypeSRV)
	if err != nil {
		return "", err
	}

	var srv *dns.SRV
	for _, rr := range resp.Answer {
		if record, ok := rr.(*dns.SRV); ok {
			srv = record
			break
		}
	}
	if srv == nil {
		return "", fmt.Errorf("未找到服务[%s]的SRV记录", name)
	}

	host, ttl, err := r.resolveHost(ctx, srv.Target)
	if err != nil {
		return "", err
	}
	if srv.Hdr.Ttl < ttl {
		ttl = srv.Hdr.Ttl
	}

	addr := net.JoinHostPort(host, strconv.Itoa(int(srv.Port)))
	r.updateCache(name, addr, time.Duration(ttl)*time.Second)
	return addr, nil
}

// resolveHost 先查A记录，没有时查AAAA记录
func (r *Resolver) resolveHost(ctx context.Context, target string) (string, uint32, error) {
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		resp, err := r.exchange(ctx, target, qtype)
		if err != nil {
			return "", 0, err
		}
		for _, rr := range resp.Answer {
			switch record := rr.(type) {
			case *dns.A:
				return record.A.String(), record.Hdr.Ttl, nil
			case *dns.AAAA:
				return record.AAAA.String(), record.Hdr.Ttl, nil
			}
		}
	}
	return "", 0, fmt.Errorf("未找到主机[%s]的地址", target)
}

func (r *Resolver) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)

	resp, _, err := r.client.ExchangeContext(ctx, m, r.dnsServer)
	if err != nil {
		return nil, fmt.Errorf("查询[%s]失败: %w", name, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("查询[%s]失败: %s", name, dns.RcodeToString[resp.Rcode])
	}
	return resp, nil
}

// 从缓存中获取地址
func (r *Resolver) getFromCache(name string) string {
	r.cacheLocker.RLock()
	defer r.cacheLocker.RUnlock()

	if entry, ok := r.cache[name]; ok && time.Now().Before(entry.expiration) {
		return entry.addr
	}
	return ""
}

// 更新缓存
func (r *Resolver) updateCache(name, addr string, ttl time.Duration) {
	if r.cacheTTL < ttl {
		ttl = r.cacheTTL
	}
	if ttl <= 0 {
		return
	}

	r.cacheLocker.Lock()
	defer r.cacheLocker.Unlock()
	r.cache[name] = resolveCacheEntry{
		addr:       addr,
		expiration: time.Now().Add(ttl),
	}
}

// FlushCache 清空缓存
func (r *Resolver) FlushCache() {
	r.cacheLocker.Lock()
	defer r.cacheLocker.Unlock()
	r.cache = make(map[string]resolveCacheEntry)
}

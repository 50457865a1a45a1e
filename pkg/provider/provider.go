package provider

import (
	"go.uber.org/zap"

	"github.com/hewenyu/someip-routing/internal/config"
	"github.com/hewenyu/someip-routing/pkg/endpoint"
	"github.com/hewenyu/someip-routing/pkg/routing"
	"github.com/hewenyu/someip-routing/pkg/serviceinfo"
)

// Address 端点地址
type Address struct {
	Address string
	Port    uint16
}

// Offer 提供服务的参数，端点以地址给出
type Offer struct {
	Key   routing.Key
	Major serviceinfo.MajorVersion
	Minor serviceinfo.MinorVersion
	TTL   serviceinfo.TTL
	Local bool
	Group string
	// 为nil的端点保持原值不变
	Reliable   *Address
	Unreliable *Address
}

// Provider 将端点的获取和释放与路由表的增删绑定
// 每个服务描述对其端点各持有一个引用，服务移除或端点被替换时归还。
type Provider struct {
	table     *routing.Table
	endpoints *endpoint.Manager
	logger    config.Logger
}

// New 创建服务提供器
func New(table *routing.Table, endpoints *endpoint.Manager, logger config.Logger) *Provider {
	if logger == nil {
		logger = config.NewNopLogger()
	}
	p := &Provider{
		table:     table,
		endpoints: endpoints,
		logger:    logger,
	}
	table.OnRemove(func(_ routing.Key, info *serviceinfo.ServiceInfo) {
		p.release(info.Endpoint(true))
		p.release(info.Endpoint(false))
	})
	return p
}

// Table 返回路由表
func (p *Provider) Table() *routing.Table {
	return p.table
}

// Endpoints 返回端点管理器
func (p *Provider) Endpoints() *endpoint.Manager {
	return p.endpoints
}

// Offer 获取端点后提供或刷新服务
// 返回的布尔值表示是否新建了服务描述。失败时已获取的端点会被归还。
func (p *Provider) Offer(offer Offer) (*serviceinfo.ServiceInfo, bool, error) {
	req := routing.OfferRequest{
		Key:   offer.Key,
		Major: offer.Major,
		Minor: offer.Minor,
		TTL:   offer.TTL,
		Local: offer.Local,
		Group: offer.Group,
	}

	var acquired []*endpoint.Endpoint
	if offer.Reliable != nil {
		ep, err := p.endpoints.Acquire(offer.Reliable.Address, offer.Reliable.Port, true)
		if err != nil {
			return nil, false, routing.NewInvalidArgumentError(err.Error())
		}
		req.Reliable = ep
		acquired = append(acquired, ep)
	}
	if offer.Unreliable != nil {
		ep, err := p.endpoints.Acquire(offer.Unreliable.Address, offer.Unreliable.Port, false)
		if err != nil {
			p.releaseAll(acquired)
			return nil, false, routing.NewInvalidArgumentError(err.Error())
		}
		req.Unreliable = ep
		acquired = append(acquired, ep)
	}

	info, created, replaced, err := p.table.OfferSwap(req)
	if err != nil {
		p.releaseAll(acquired)
		return nil, false, err
	}

	// 被替换的端点由路由表在锁内取出，并发刷新同一服务时各自只归还自己换下的那个
	p.release(replaced.Reliable)
	p.release(replaced.Unreliable)
	return info, created, nil
}

// release 归还一次引用，同一地址的端点由管理器复用，刷新时只归还多取的那次
func (p *Provider) release(ep serviceinfo.Endpoint) {
	managed, ok := ep.(*endpoint.Endpoint)
	if !ok || managed == nil {
		return
	}
	if p.endpoints.Release(managed) {
		p.logger.Debug("释放端点", zap.String("endpoint", managed.String()))
	}
}

func (p *Provider) releaseAll(eps []*endpoint.Endpoint) {
	for _, ep := range eps {
		p.endpoints.Release(ep)
	}
}

package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hewenyu/someip-routing/pkg/provider"
	"github.com/hewenyu/someip-routing/pkg/routing"
	"github.com/hewenyu/someip-routing/pkg/serviceinfo"
)

// EndpointRequest 端点参数
type EndpointRequest struct {
	Address string `json:"address" validate:"required,ip"`
	Port    uint16 `json:"port" validate:"required,min=1"`
}

// OfferRequest 提供服务请求
type OfferRequest struct {
	Service    uint16           `json:"service"`
	Instance   uint16           `json:"instance"`
	Major      uint8            `json:"major"`
	Minor      uint32           `json:"minor"`
	TTL        *uint32          `json:"ttl"`
	Local      bool             `json:"local"`
	Group      string           `json:"group"`
	Reliable   *EndpointRequest `json:"reliable" validate:"omitempty"`
	Unreliable *EndpointRequest `json:"unreliable" validate:"omitempty"`
}

// ServiceView 服务描述的API视图
type ServiceView struct {
	Key string `json:"key"`
	serviceinfo.Snapshot
}

func newServiceView(key routing.Key, info *serviceinfo.ServiceInfo) ServiceView {
	return ServiceView{Key: key.String(), Snapshot: info.Snapshot()}
}

// ServiceHandler 处理路由表相关API
type ServiceHandler struct {
	provider   *provider.Provider
	table      *routing.Table
	defaultTTL serviceinfo.TTL
}

// NewServiceHandler 创建服务处理器
func NewServiceHandler(p *provider.Provider, defaultTTL uint32) *ServiceHandler {
	return &ServiceHandler{
		provider:   p,
		table:      p.Table(),
		defaultTTL: serviceinfo.TTL(defaultTTL),
	}
}

// ListServices 获取服务列表，可按group过滤
func (h *ServiceHandler) ListServices(c echo.Context) error {
	var entries []routing.Entry
	if group := c.QueryParam("group"); group != "" {
		var err error
		entries, err = h.table.ListByGroup(group)
		if err != nil {
			return routingFailure(c, err)
		}
	} else {
		entries = h.table.List()
	}

	views := make([]ServiceView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, newServiceView(entry.Key, entry.Info))
	}

	return success(c, http.StatusOK, map[string]any{
		"services": views,
		"total":    len(views),
	})
}

// GetService 获取服务详情
func (h *ServiceHandler) GetService(c echo.Context) error {
	key, err := routing.ParseKey(c.Param("key"))
	if err != nil {
		return routingFailure(c, err)
	}

	info, err := h.table.Find(key)
	if err != nil {
		return routingFailure(c, err)
	}
	return success(c, http.StatusOK, newServiceView(key, info))
}

// OfferService 提供或刷新服务
func (h *ServiceHandler) OfferService(c echo.Context) error {
	var req OfferRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, "请求参数无效: "+err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return failure(c, http.StatusBadRequest, "参数验证失败: "+err.Error())
	}

	ttl := h.defaultTTL
	if req.TTL != nil {
		ttl = serviceinfo.TTL(*req.TTL)
	}

	offer := provider.Offer{
		Key:   routing.Key{Service: routing.ServiceID(req.Service), Instance: routing.InstanceID(req.Instance)},
		Major: serviceinfo.MajorVersion(req.Major),
		Minor: serviceinfo.MinorVersion(req.Minor),
		TTL:   ttl,
		Local: req.Local,
		Group: req.Group,
	}
	if req.Reliable != nil {
		offer.Reliable = &provider.Address{Address: req.Reliable.Address, Port: req.Reliable.Port}
	}
	if req.Unreliable != nil {
		offer.Unreliable = &provider.Address{Address: req.Unreliable.Address, Port: req.Unreliable.Port}
	}

	info, created, err := h.provider.Offer(offer)
	if err != nil {
		return routingFailure(c, err)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return success(c, status, newServiceView(offer.Key, info))
}

// StopOffer 停止提供服务
func (h *ServiceHandler) StopOffer(c echo.Context) error {
	key, err := routing.ParseKey(c.Param("key"))
	if err != nil {
		return routingFailure(c, err)
	}
	if err := h.table.StopOffer(key); err != nil {
		return routingFailure(c, err)
	}
	return success(c, http.StatusOK, nil)
}

// RequestService 记录客户端请求服务
func (h *ServiceHandler) RequestService(c echo.Context) error {
	return h.updateRequester(c, h.table.Request)
}

// ReleaseService 记录客户端释放服务
func (h *ServiceHandler) ReleaseService(c echo.Context) error {
	return h.updateRequester(c, h.table.Release)
}

func (h *ServiceHandler) updateRequester(c echo.Context, update func(routing.Key, serviceinfo.ClientID) error) error {
	key, err := routing.ParseKey(c.Param("key"))
	if err != nil {
		return routingFailure(c, err)
	}
	client, err := strconv.ParseUint(c.Param("client"), 0, 16)
	if err != nil {
		return failure(c, http.StatusBadRequest, "无效的客户端ID: "+c.Param("client"))
	}

	if err := update(key, serviceinfo.ClientID(client)); err != nil {
		return routingFailure(c, err)
	}

	info, err := h.table.Find(key)
	if err != nil {
		return routingFailure(c, err)
	}
	return success(c, http.StatusOK, map[string]any{
		"requesters": info.RequestersSize(),
	})
}

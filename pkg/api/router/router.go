package router

import (
	"github.com/labstack/echo/v4"

	"github.com/hewenyu/someip-routing/pkg/api/handler"
)

// RegisterRoutes 配置路由表管理API
func RegisterRoutes(e *echo.Echo, serviceHandler *handler.ServiceHandler, healthHandler *handler.HealthHandler) {
	// API分组，版本v1
	api := e.Group("/api/v1")

	// 服务描述相关路由，key格式为 ssss.iiii
	services := api.Group("/services")
	services.GET("", serviceHandler.ListServices)                              // 查询服务列表
	services.GET("/:key", serviceHandler.GetService)                           // 查询服务详情
	services.POST("", serviceHandler.OfferService)                             // 提供或刷新服务
	services.DELETE("/:key", serviceHandler.StopOffer)                         // 停止提供服务
	services.POST("/:key/requesters/:client", serviceHandler.RequestService)   // 客户端请求服务
	services.DELETE("/:key/requesters/:client", serviceHandler.ReleaseService) // 客户端释放服务

	// 健康检查
	api.GET("/health", healthHandler.HealthCheck)
}

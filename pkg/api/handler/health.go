package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hewenyu/someip-routing/pkg/endpoint"
	"github.com/hewenyu/someip-routing/pkg/routing"
)

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	table     *routing.Table
	endpoints *endpoint.Manager
	startTime time.Time
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(table *routing.Table, endpoints *endpoint.Manager) *HealthHandler {
	return &HealthHandler{
		table:     table,
		endpoints: endpoints,
		startTime: time.Now(),
	}
}

// routingStats 路由表概况
type routingStats struct {
	Local      int `json:"local"`
	Remote     int `json:"remote"`
	Stopped    int `json:"stopped"`
	MainPhase  int `json:"main_phase"`
	Requesters int `json:"requesters"`
}

func collectStats(entries []routing.Entry) routingStats {
	var stats routingStats
	for _, entry := range entries {
		info := entry.Info
		if info.IsLocal() {
			stats.Local++
		} else {
			stats.Remote++
		}
		if info.PreciseTTL() == 0 {
			stats.Stopped++
		}
		if info.IsInMainPhase() {
			stats.MainPhase++
		}
		stats.Requesters += int(info.RequestersSize())
	}
	return stats
}

// HealthCheck 健康检查处理函数
func (h *HealthHandler) HealthCheck(c echo.Context) error {
	entries := h.table.List()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Details: map[string]any{
			"services":     len(entries),
			"routing":      collectStats(entries),
			"groups":       len(h.table.Groups()),
			"endpoints":    h.endpoints.Len(),
			"uptime":       time.Since(h.startTime).Truncate(time.Second).String(),
			"goroutines":   runtime.NumGoroutine(),
			"heap_alloc_b": mem.HeapAlloc,
		},
	})
}

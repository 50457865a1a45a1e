package dns

import (
	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/hewenyu/someip-routing/internal/config"
)

// Handler DNS请求处理器，只对本地区域做权威应答
type Handler struct {
	recordManager *RecordManager
	cache         *DNSCache
	logger        config.Logger
}

// NewHandler 创建DNS请求处理器
func NewHandler(recordManager *RecordManager, cache *DNSCache, logger config.Logger) *Handler {
	if logger == nil {
		logger = config.NewNopLogger()
	}
	return &Handler{
		recordManager: recordManager,
		cache:         cache,
		logger:        logger,
	}
}

// ServeDNS 处理DNS请求
func (h *Handler) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)

	// 只处理标准查询
	if r.Opcode != dns.OpcodeQuery {
		m.Rcode = dns.RcodeNotImplemented
		h.write(w, m)
		return
	}

	if len(r.Question) == 0 {
		m.Rcode = dns.RcodeFormatError
		h.write(w, m)
		return
	}

	q := r.Question[0]
	if !h.recordManager.InZone(q.Name) {
		m.Rcode = dns.RcodeRefused
		h.write(w, m)
		return
	}

	// 检查缓存
	cacheKey := GetCacheKey(q)
	if cached := h.cache.Get(cacheKey); cached != nil {
		cached.Id = r.Id
		h.write(w, cached)
		return
	}

	records, exists := h.recordManager.GetRecords(q.Name, q.Qtype)
	m.Authoritative = true
	if !exists {
		m.Rcode = dns.RcodeNameError
		h.write(w, m)
		return
	}

	m.Answer = append(m.Answer, records...)
	if len(records) > 0 {
		h.cache.Set(cacheKey, m)
	}

	h.logger.Debug("DNS查询",
		zap.String("name", q.Name),
		zap.String("type", dns.TypeToString[q.Qtype]),
		zap.Int("answers", len(records)))
	h.write(w, m)
}

func (h *Handler) write(w dns.ResponseWriter, m *dns.Msg) {
	if err := w.WriteMsg(m); err != nil {
		h.logger.Warn("写入DNS响应失败", zap.Error(err))
	}
}

package dns

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/hewenyu/someip-routing/pkg/routing"
	"github.com/hewenyu/someip-routing/pkg/serviceinfo"
)

// 域名格式:
//
//	_someip._tcp.<ssss>.<iiii>.<domain>  SRV 指向可靠端点
//	_someip._udp.<ssss>.<iiii>.<domain>  SRV 指向不可靠端点
//	<ssss>.<iiii>.<domain>               TXT 版本、服务组等信息
//	ep-<endpoint id>.<domain>            A/AAAA 端点地址
const (
	srvPrefixTCP   = "_someip._tcp."
	srvPrefixUDP   = "_someip._udp."
	endpointPrefix = "ep-"
)

// RecordManager 根据路由表生成DNS记录
// 记录的TTL取服务描述当前的整秒租约。
type RecordManager struct {
	table  *routing.Table
	domain string
}

// NewRecordManager 创建DNS记录管理器
func NewRecordManager(table *routing.Table, domain string) *RecordManager {
	return &RecordManager{
		table:  table,
		domain: strings.ToLower(strings.TrimSuffix(domain, ".")),
	}
}

// Domain 本地区域域名
func (rm *RecordManager) Domain() string {
	return rm.domain
}

// InZone 判断域名是否属于本地区域
func (rm *RecordManager) InZone(name string) bool {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	return name == rm.domain || strings.HasSuffix(name, "."+rm.domain)
}

// EndpointName 端点的主机名
func (rm *RecordManager) EndpointName(ep serviceinfo.Endpoint) string {
	return dns.Fqdn(endpointPrefix + ep.ID() + "." + rm.domain)
}

// ServiceName 服务的SRV查询名
func (rm *RecordManager) ServiceName(key routing.Key, reliable bool) string {
	prefix := srvPrefixUDP
	if reliable {
		prefix = srvPrefixTCP
	}
	return dns.Fqdn(prefix + key.String() + "." + rm.domain)
}

// GetRecords 获取指定域名和类型的DNS记录
// 返回的布尔值表示该域名是否存在(用于区分NXDOMAIN与空应答)。
func (rm *RecordManager) GetRecords(name string, qtype uint16) ([]dns.RR, bool) {
	if !rm.InZone(name) {
		return nil, false
	}

	fqdn := dns.Fqdn(strings.ToLower(name))
	name = strings.TrimSuffix(fqdn, ".")
	if name == rm.domain {
		return nil, true
	}
	prefix := strings.TrimSuffix(name, "."+rm.domain)

	switch {
	case strings.HasPrefix(prefix, srvPrefixTCP):
		return rm.srvRecords(fqdn, strings.TrimPrefix(prefix, srvPrefixTCP), true, qtype)
	case strings.HasPrefix(prefix, srvPrefixUDP):
		return rm.srvRecords(fqdn, strings.TrimPrefix(prefix, srvPrefixUDP), false, qtype)
	case strings.HasPrefix(prefix, endpointPrefix):
		return rm.addressRecords(fqdn, strings.TrimPrefix(prefix, endpointPrefix), qtype)
	default:
		return rm.txtRecords(fqdn, prefix, qtype)
	}
}

func (rm *RecordManager) srvRecords(fqdn, keyPart string, reliable bool, qtype uint16) ([]dns.RR, bool) {
	key, err := routing.ParseKey(keyPart)
	if err != nil {
		return nil, false
	}
	info, err := rm.table.Find(key)
	if err != nil {
		return nil, false
	}
	ep := info.Endpoint(reliable)
	if ep == nil {
		return nil, false
	}
	if qtype != dns.TypeSRV && qtype != dns.TypeANY {
		return nil, true
	}

	rr, err := createSRVRecord(fqdn, rm.EndpointName(ep), ep.Port(), uint32(info.TTL()))
	if err != nil {
		return nil, true
	}
	return []dns.RR{rr}, true
}

func (rm *RecordManager) addressRecords(fqdn, id string, qtype uint16) ([]dns.RR, bool) {
	ep, ttl, ok := rm.findEndpoint(id)
	if !ok {
		return nil, false
	}

	ip := net.ParseIP(ep.Address())
	if ip == nil {
		return nil, true
	}

	var rr dns.RR
	var err error
	switch {
	case ip.To4() != nil && (qtype == dns.TypeA || qtype == dns.TypeANY):
		rr, err = createARecord(fqdn, ip.String(), ttl)
	case ip.To4() == nil && (qtype == dns.TypeAAAA || qtype == dns.TypeANY):
		rr, err = createAAAARecord(fqdn, ip.String(), ttl)
	default:
		return nil, true
	}
	if err != nil {
		return nil, true
	}
	return []dns.RR{rr}, true
}

// findEndpoint 查找端点，同一端点被多个服务引用时取最长的租约
func (rm *RecordManager) findEndpoint(id string) (serviceinfo.Endpoint, uint32, bool) {
	var found serviceinfo.Endpoint
	var ttl uint32
	for _, entry := range rm.table.List() {
		for _, reliable := range []bool{true, false} {
			ep := entry.Info.Endpoint(reliable)
			if ep == nil || strings.ToLower(ep.ID()) != id {
				continue
			}
			found = ep
			if t := uint32(entry.Info.TTL()); t > ttl {
				ttl = t
			}
		}
	}
	return found, ttl, found != nil
}

func (rm *RecordManager) txtRecords(fqdn, keyPart string, qtype uint16) ([]dns.RR, bool) {
	key, err := routing.ParseKey(keyPart)
	if err != nil {
		return nil, false
	}
	info, err := rm.table.Find(key)
	if err != nil {
		return nil, false
	}
	if qtype != dns.TypeTXT && qtype != dns.TypeANY {
		return nil, true
	}

	snap := info.Snapshot()
	txt := []string{
		fmt.Sprintf("major=%d", snap.Major),
		fmt.Sprintf("minor=%d", snap.Minor),
		fmt.Sprintf("local=%t", snap.Local),
		fmt.Sprintf("requesters=%d", len(snap.Requesters)),
	}
	if snap.Group != "" {
		txt = append(txt, "group="+snap.Group)
	}

	return []dns.RR{createTXTRecord(fqdn, txt, uint32(snap.TTL))}, true
}

// createARecord 创建A记录
func createARecord(name, ip string, ttl uint32) (dns.RR, error) {
	return dns.NewRR(fmt.Sprintf("%s %d IN A %s", name, ttl, ip))
}

// createAAAARecord 创建AAAA记录
func createAAAARecord(name, ip string, ttl uint32) (dns.RR, error) {
	return dns.NewRR(fmt.Sprintf("%s %d IN AAAA %s", name, ttl, ip))
}

// createSRVRecord 创建SRV记录
func createSRVRecord(name, target string, port uint16, ttl uint32) (dns.RR, error) {
	return dns.NewRR(fmt.Sprintf("%s %d IN SRV 10 10 %d %s", name, ttl, port, target))
}

// createTXTRecord 创建TXT记录
func createTXTRecord(name string, txt []string, ttl uint32) dns.RR {
	return &dns.TXT{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: ttl},
		Txt: txt,
	}
}

package dns

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/someip-routing/pkg/endpoint"
	"github.com/hewenyu/someip-routing/pkg/routing"
)

// mockResponseWriter 记录写入的响应，用于测试
type mockResponseWriter struct {
	dns.ResponseWriter
	msg *dns.Msg
}

func (w *mockResponseWriter) WriteMsg(m *dns.Msg) error {
	w.msg = m
	return nil
}

type testFixture struct {
	table *routing.Table
	rm    *RecordManager
	tcp   *endpoint.Endpoint
	udp   *endpoint.Endpoint
	key   routing.Key
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()

	table := routing.NewTable(nil)
	tcp, err := endpoint.New("192.168.1.10", 30501, endpoint.ProtocolTCP)
	require.NoError(t, err)
	udp, err := endpoint.New("fd00::10", 30502, endpoint.ProtocolUDP)
	require.NoError(t, err)

	key := routing.Key{Service: 0x1234, Instance: 1}
	_, _, err = table.Offer(routing.OfferRequest{
		Key: key, Major: 1, Minor: 3, TTL: 30, Group: "body",
		Reliable: tcp, Unreliable: udp,
	})
	require.NoError(t, err)
	require.NoError(t, table.Request(key, 7))

	return &testFixture{
		table: table,
		rm:    NewRecordManager(table, "someip.local."),
		tcp:   tcp,
		udp:   udp,
		key:   key,
	}
}

func TestRecordManager_SRV(t *testing.T) {
	f := newFixture(t)

	name := f.rm.ServiceName(f.key, true)
	assert.Equal(t, "_someip._tcp.1234.0001.someip.local.", name)

	records, exists := f.rm.GetRecords(name, dns.TypeSRV)
	require.True(t, exists)
	require.Len(t, records, 1)
	srv, ok := records[0].(*dns.SRV)
	require.True(t, ok)
	assert.Equal(t, uint16(30501), srv.Port)
	assert.Equal(t, f.rm.EndpointName(f.tcp), srv.Target)
	assert.Equal(t, uint32(30), srv.Hdr.Ttl, "记录TTL应取服务租约")

	records, exists = f.rm.GetRecords(f.rm.ServiceName(f.key, false), dns.TypeSRV)
	require.True(t, exists)
	require.Len(t, records, 1)
	assert.Equal(t, uint16(30502), records[0].(*dns.SRV).Port)

	// 名称存在但类型不匹配
	records, exists = f.rm.GetRecords(name, dns.TypeA)
	assert.True(t, exists)
	assert.Empty(t, records)

	// 端点被清空后名称不存在
	info, err := f.table.Find(f.key)
	require.NoError(t, err)
	info.SetEndpoint(nil, true)
	_, exists = f.rm.GetRecords(name, dns.TypeSRV)
	assert.False(t, exists)
}

func TestRecordManager_Address(t *testing.T) {
	f := newFixture(t)

	records, exists := f.rm.GetRecords(f.rm.EndpointName(f.tcp), dns.TypeA)
	require.True(t, exists)
	require.Len(t, records, 1)
	a, ok := records[0].(*dns.A)
	require.True(t, ok)
	assert.True(t, a.A.Equal(net.ParseIP("192.168.1.10")))

	records, exists = f.rm.GetRecords(f.rm.EndpointName(f.udp), dns.TypeAAAA)
	require.True(t, exists)
	require.Len(t, records, 1)
	aaaa, ok := records[0].(*dns.AAAA)
	require.True(t, ok)
	assert.True(t, aaaa.AAAA.Equal(net.ParseIP("fd00::10")))

	// IPv4端点没有AAAA记录
	records, exists = f.rm.GetRecords(f.rm.EndpointName(f.tcp), dns.TypeAAAA)
	assert.True(t, exists)
	assert.Empty(t, records)

	_, exists = f.rm.GetRecords("ep-unknown.someip.local.", dns.TypeA)
	assert.False(t, exists)
}

func TestRecordManager_TXT(t *testing.T) {
	f := newFixture(t)

	records, exists := f.rm.GetRecords("1234.0001.someip.local.", dns.TypeTXT)
	require.True(t, exists)
	require.Len(t, records, 1)
	txt, ok := records[0].(*dns.TXT)
	require.True(t, ok)
	assert.Equal(t, []string{"major=1", "minor=3", "local=false", "requesters=1", "group=body"}, txt.Txt)

	_, exists = f.rm.GetRecords("9999.0001.someip.local.", dns.TypeTXT)
	assert.False(t, exists)
	_, exists = f.rm.GetRecords("not-a-key.someip.local.", dns.TypeTXT)
	assert.False(t, exists)

	// 区域顶点存在但没有记录
	records, exists = f.rm.GetRecords("someip.local.", dns.TypeTXT)
	assert.True(t, exists)
	assert.Empty(t, records)

	assert.False(t, f.rm.InZone("example.com."))
	assert.True(t, f.rm.InZone("SOMEIP.LOCAL"))
}

func TestHandler_ServeDNS(t *testing.T) {
	f := newFixture(t)
	cache := NewDNSCache(60)
	handler := NewHandler(f.rm, cache, nil)

	query := func(name string, qtype uint16) *dns.Msg {
		req := new(dns.Msg)
		req.SetQuestion(name, qtype)
		w := &mockResponseWriter{}
		handler.ServeDNS(w, req)
		require.NotNil(t, w.msg)
		assert.Equal(t, req.Id, w.msg.Id)
		return w.msg
	}

	resp := query(f.rm.ServiceName(f.key, true), dns.TypeSRV)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.True(t, resp.Authoritative)
	assert.Len(t, resp.Answer, 1)
	assert.Equal(t, 1, cache.Len(), "成功的应答应被缓存")

	// 缓存命中
	resp = query(f.rm.ServiceName(f.key, true), dns.TypeSRV)
	assert.Len(t, resp.Answer, 1)

	resp = query("_someip._tcp.4321.0001.someip.local.", dns.TypeSRV)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)

	resp = query("www.example.com.", dns.TypeA)
	assert.Equal(t, dns.RcodeRefused, resp.Rcode)

	// 非标准查询
	req := new(dns.Msg)
	req.SetQuestion("someip.local.", dns.TypeA)
	req.Opcode = dns.OpcodeStatus
	w := &mockResponseWriter{}
	handler.ServeDNS(w, req)
	assert.Equal(t, dns.RcodeNotImplemented, w.msg.Rcode)

	// 没有问题部分
	w = &mockResponseWriter{}
	handler.ServeDNS(w, new(dns.Msg))
	assert.Equal(t, dns.RcodeFormatError, w.msg.Rcode)
}

func TestDNSCache(t *testing.T) {
	cache := NewDNSCache(60)

	msg := new(dns.Msg)
	msg.SetQuestion("a.someip.local.", dns.TypeA)
	rr, err := createARecord("a.someip.local.", "10.0.0.1", 0)
	require.NoError(t, err)
	msg.Answer = []dns.RR{rr}

	// TTL为0的应答不缓存
	cache.Set("a", msg)
	assert.Nil(t, cache.Get("a"))

	msg.Answer[0].Header().Ttl = 30
	cache.Set("a", msg)
	cached := cache.Get("a")
	require.NotNil(t, cached)
	assert.Len(t, cached.Answer, 1)

	cache.CleanupExpired()
	assert.Equal(t, 1, cache.Len())

	cache.Flush()
	assert.Nil(t, cache.Get("a"))

	assert.Equal(t, "a.someip.local.-SRV", GetCacheKey(dns.Question{Name: "A.someip.local.", Qtype: dns.TypeSRV}))
}

func TestHandlerOverUDP(t *testing.T) {
	f := newFixture(t)
	handler := NewHandler(f.rm, NewDNSCache(0), nil)

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	server := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go server.ActivateAndServe()
	defer server.Shutdown()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("DNS服务器未启动")
	}

	client := &dns.Client{Net: "udp", Timeout: 2 * time.Second}
	req := new(dns.Msg)
	req.SetQuestion(f.rm.ServiceName(f.key, false), dns.TypeSRV)

	resp, _, err := client.Exchange(req, pc.LocalAddr().String())
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, uint16(30502), resp.Answer[0].(*dns.SRV).Port)
}

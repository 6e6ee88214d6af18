package engine

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgrahem/lanscout/internal"
)

func testLogger() *internal.Logger {
	return internal.NewLogger("error")
}

func testPTR(ttl uint32) *dns.PTR {
	return &dns.PTR{
		Hdr: dns.RR_Header{Name: "_mygame._tcp.local.", Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: ttl},
		Ptr: "Game Server A._mygame._tcp.local.",
	}
}

func testSRV(port uint16, ttl uint32) *dns.SRV {
	return &dns.SRV{
		Hdr:    dns.RR_Header{Name: "Game Server A._mygame._tcp.local.", Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: ttl},
		Target: "marks-pc.local.",
		Port:   port,
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, defaultQueryIntervalMin, cfg.QueryIntervalMin)
	assert.Equal(t, defaultQueryIntervalMax, cfg.QueryIntervalMax)
	assert.Equal(t, uint32(defaultRecordTTL), cfg.RecordTTL)
	assert.Equal(t, uint32(defaultHostTTL), cfg.HostTTL)
	assert.Equal(t, defaultEventBuffer, cfg.EventBuffer)
	assert.Equal(t, defaultShutdownTimeout, cfg.ShutdownTimeout)
}

func TestCacheAddIsChangeDetecting(t *testing.T) {
	cache := newRecordCache()
	now := time.Now()

	assert.True(t, cache.add(testPTR(4500), now), "first sighting is a change")
	assert.False(t, cache.add(testPTR(4500), now), "re-announcement is a TTL refresh, not a change")
	assert.Equal(t, 1, cache.size())
}

func TestCacheSRVReplacement(t *testing.T) {
	cache := newRecordCache()
	now := time.Now()

	require.True(t, cache.add(testSRV(7350, 4500), now))
	require.True(t, cache.add(testSRV(7351, 4500), now), "changed port is a new value")
	assert.Equal(t, 1, cache.size(), "SRV carries one live value per name")
}

func TestCacheAccumulatesAddresses(t *testing.T) {
	cache := newRecordCache()
	now := time.Now()

	a1 := &dns.A{
		Hdr: dns.RR_Header{Name: "marks-pc.local.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 120},
		A:   net.ParseIP("192.168.1.42").To4(),
	}
	a2 := &dns.A{
		Hdr: dns.RR_Header{Name: "marks-pc.local.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 120},
		A:   net.ParseIP("10.0.0.5").To4(),
	}

	require.True(t, cache.add(a1, now))
	require.True(t, cache.add(a2, now))
	assert.Equal(t, 2, cache.size(), "a multihomed host keeps every address")
}

func TestCacheExpiry(t *testing.T) {
	cache := newRecordCache()
	now := time.Now()

	cache.add(testPTR(1), now)
	cache.add(testSRV(7350, 4500), now)

	expired := cache.expire(now.Add(2 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, dns.TypePTR, expired[0].Header().Rrtype)
	assert.Equal(t, 1, cache.size())
}

func TestCacheRemove(t *testing.T) {
	cache := newRecordCache()
	now := time.Now()

	cache.add(testPTR(4500), now)

	goodbye := testPTR(0)
	assert.True(t, cache.remove(goodbye))
	assert.False(t, cache.remove(goodbye), "already gone")
	assert.Equal(t, 0, cache.size())
}

func TestCacheNameMatchingIsCaseInsensitive(t *testing.T) {
	cache := newRecordCache()
	now := time.Now()

	cache.add(testPTR(4500), now)

	upper := testPTR(0)
	upper.Hdr.Name = "_MyGame._TCP.local."
	upper.Ptr = "GAME SERVER A._mygame._tcp.local."
	assert.True(t, cache.remove(upper))
}

func TestRelevantFiltersByScope(t *testing.T) {
	sub := &Subscription{serviceType: "_mygame._tcp.local."}

	assert.True(t, relevant(sub, testPTR(4500)))
	assert.True(t, relevant(sub, testSRV(7350, 4500)))

	otherPTR := testPTR(4500)
	otherPTR.Hdr.Name = "_printer._tcp.local."
	assert.False(t, relevant(sub, otherPTR))

	otherSRV := testSRV(631, 4500)
	otherSRV.Hdr.Name = "Laser._printer._tcp.local."
	assert.False(t, relevant(sub, otherSRV))

	// Address records pass for every subscription; the bridge associates
	// them with services by hostname.
	a := &dns.A{
		Hdr: dns.RR_Header{Name: "somewhere.local.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 120},
		A:   net.ParseIP("192.168.1.42").To4(),
	}
	assert.True(t, relevant(sub, a))
}

func TestAnswerSetShape(t *testing.T) {
	reg := &Registration{
		instance:    "Game Server A",
		serviceType: "_mygame._tcp.local.",
		fullName:    "Game Server A._mygame._tcp.local.",
		hostname:    "marks-pc.local.",
		port:        7350,
		txtEntries:  []string{"version=1.0"},
		ips:         []net.IP{net.ParseIP("192.168.1.42").To4(), net.ParseIP("fd00::1")},
	}

	set := reg.answerSet(4500, 120)
	require.Len(t, set, 5)

	ptr, ok := set[0].(*dns.PTR)
	require.True(t, ok)
	assert.Equal(t, "_mygame._tcp.local.", ptr.Hdr.Name)
	assert.Equal(t, reg.fullName, ptr.Ptr)
	assert.Equal(t, uint32(4500), ptr.Hdr.Ttl)

	srv, ok := set[1].(*dns.SRV)
	require.True(t, ok)
	assert.Equal(t, reg.fullName, srv.Hdr.Name)
	assert.Equal(t, "marks-pc.local.", srv.Target)
	assert.Equal(t, uint16(7350), srv.Port)

	txt, ok := set[2].(*dns.TXT)
	require.True(t, ok)
	assert.Equal(t, []string{"version=1.0"}, txt.Txt)

	_, ok = set[3].(*dns.A)
	assert.True(t, ok)
	aaaa, ok := set[4].(*dns.AAAA)
	require.True(t, ok)
	assert.Equal(t, uint32(120), aaaa.Hdr.Ttl)
}

func TestGoodbyeSetZeroesTTLs(t *testing.T) {
	reg := &Registration{
		instance:    "Game Server A",
		serviceType: "_mygame._tcp.local.",
		fullName:    "Game Server A._mygame._tcp.local.",
		hostname:    "marks-pc.local.",
		port:        7350,
		ips:         []net.IP{net.ParseIP("192.168.1.42").To4()},
	}

	for _, rr := range reg.goodbyeSet() {
		assert.Equal(t, uint32(0), rr.Header().Ttl)
	}
}

func TestEmptyTxtStillHasRecord(t *testing.T) {
	reg := &Registration{
		instance:    "Bare",
		serviceType: "_mygame._tcp.local.",
		fullName:    "Bare._mygame._tcp.local.",
		hostname:    "marks-pc.local.",
	}

	assert.Equal(t, []string{""}, reg.wireTxt())
}

func TestAnswersForQuestionMatching(t *testing.T) {
	reg := &Registration{
		instance:    "Game Server A",
		serviceType: "_mygame._tcp.local.",
		fullName:    "Game Server A._mygame._tcp.local.",
		hostname:    "marks-pc.local.",
		port:        7350,
		ips:         []net.IP{net.ParseIP("192.168.1.42").To4()},
	}

	ptrQ := dns.Question{Name: "_MYGAME._tcp.local.", Qtype: dns.TypePTR, Qclass: dns.ClassINET}
	assert.Len(t, reg.answersFor(ptrQ, 4500, 120), 4, "PTR query gets the full set")

	srvQ := dns.Question{Name: reg.fullName, Qtype: dns.TypeSRV, Qclass: dns.ClassINET}
	answers := reg.answersFor(srvQ, 4500, 120)
	require.Len(t, answers, 2, "SRV plus the address record")
	assert.Equal(t, dns.TypeSRV, answers[0].Header().Rrtype)

	aQ := dns.Question{Name: "marks-pc.local.", Qtype: dns.TypeA, Qclass: dns.ClassINET}
	assert.Len(t, reg.answersFor(aQ, 4500, 120), 1)

	missQ := dns.Question{Name: "_other._tcp.local.", Qtype: dns.TypePTR, Qclass: dns.ClassINET}
	assert.Empty(t, reg.answersFor(missQ, 4500, 120))
}

func TestEmitLatchesOverflowInsteadOfBlocking(t *testing.T) {
	e := &Engine{logger: testLogger()}
	sub := &Subscription{
		serviceType: "_mygame._tcp.local.",
		events:      make(chan RecordEvent, 1),
		overflowed:  make(chan struct{}),
	}

	e.emit(sub, RecordEvent{RR: testPTR(4500)})
	e.emit(sub, RecordEvent{RR: testPTR(4500)})
	e.emit(sub, RecordEvent{RR: testPTR(4500)})

	select {
	case <-sub.Overflowed():
	default:
		t.Fatal("overflow was not latched")
	}

	assert.Len(t, sub.events, 1, "queued events survive an overflow")
}

func TestQueryCadenceDoublesToCeiling(t *testing.T) {
	cfg := DefaultConfig()
	b := queryCadence(cfg)

	prev := b.NextBackOff()
	assert.InDelta(t, float64(cfg.QueryIntervalMin), float64(prev), float64(cfg.QueryIntervalMin)/4)

	for i := 0; i < 12; i++ {
		prev = b.NextBackOff()
	}
	assert.LessOrEqual(t, prev, cfg.QueryIntervalMax+cfg.QueryIntervalMax/4)
}

func TestLocalHostnameShape(t *testing.T) {
	h, err := localHostname()
	require.NoError(t, err)
	assert.True(t, len(h) > len(".local."))
	assert.Contains(t, h, ".local.")
	assert.NotContains(t, h[:len(h)-len(".local.")], ".", "domain part is stripped")
}

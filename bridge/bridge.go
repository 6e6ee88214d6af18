// Package bridge folds the engine's raw record stream into an ordered,
// deduplicated sequence of service lifecycle events. One bridge serves one
// browse subscription and is drained from the consumer's own thread: Poll
// never blocks, and all folding state lives on the consumer side of the
// queue.
package bridge

import (
	"net/netip"
	"sort"
	"strings"

	"github.com/miekg/dns"

	"github.com/kgrahem/lanscout/engine"
	"github.com/kgrahem/lanscout/internal"
	"github.com/kgrahem/lanscout/txtrec"
)

// MARK: RecordSource

// RecordSource is the producer side of the record event queue, satisfied by
// *engine.Subscription.
type RecordSource interface {
	Events() <-chan engine.RecordEvent
	Overflowed() <-chan struct{}
	ServiceType() string
	Generation() uint64
}

// MARK: Bridge
type Bridge struct {
	serviceType string
	sub         RecordSource
	generation  uint64
	logger      *internal.Logger

	// Keyed by lowercased full name / hostname. Only touched from Poll.
	services  map[string]*serviceState
	hostAddrs map[string]map[netip.Addr]struct{}

	overflowReported bool
}

// MARK: New
// Wraps a subscription. The bridge only honors events stamped with the
// subscription's generation; anything older is a stopped session's leftovers.
func New(sub RecordSource, logger *internal.Logger) *Bridge {
	return &Bridge{
		serviceType: sub.ServiceType(),
		sub:         sub,
		generation:  sub.Generation(),
		logger:      logger,
		services:    make(map[string]*serviceState),
		hostAddrs:   make(map[string]map[netip.Addr]struct{}),
	}
}

// MARK: ServiceType
func (b *Bridge) ServiceType() string {
	return b.serviceType
}

// MARK: Generation
func (b *Bridge) Generation() uint64 {
	return b.generation
}

// MARK: Poll
// Drains every pending record event without blocking and returns the service
// lifecycle events they produce, in processing order. A queue overflow is
// reported once as ErrQueueOverflow alongside whatever events survived.
func (b *Bridge) Poll() ([]Event, error) {
	var events []Event

	for {
		var ev engine.RecordEvent
		select {
		case ev = <-b.sub.Events():
		default:
			return events, b.checkOverflow()
		}

		if ev.Generation != b.generation {
			continue
		}
		events = append(events, b.fold(ev)...)
	}
}

// MARK: checkOverflow
func (b *Bridge) checkOverflow() error {
	select {
	case <-b.sub.Overflowed():
	default:
		return nil
	}
	if b.overflowReported {
		return nil
	}
	b.overflowReported = true
	b.logger.Warn("Browse event backlog overflowed", "service_type", b.serviceType)
	return ErrQueueOverflow
}

// MARK: fold
// Merges one record observation into per-service state.
func (b *Bridge) fold(ev engine.RecordEvent) []Event {
	switch rr := ev.RR.(type) {
	case *dns.PTR:
		if ev.Expired {
			return b.removeService(rr.Ptr)
		}
		return b.foldPTR(rr)
	case *dns.SRV:
		if ev.Expired {
			return nil
		}
		return b.foldSRV(rr)
	case *dns.TXT:
		if ev.Expired {
			return nil
		}
		return b.foldTXT(rr)
	case *dns.A:
		if ev.Expired {
			return b.dropAddress(rr.Hdr.Name, rr.A.String())
		}
		return b.foldAddress(rr.Hdr.Name, rr.A.String())
	case *dns.AAAA:
		if ev.Expired {
			return b.dropAddress(rr.Hdr.Name, rr.AAAA.String())
		}
		return b.foldAddress(rr.Hdr.Name, rr.AAAA.String())
	}
	return nil
}

// MARK: foldPTR
func (b *Bridge) foldPTR(rr *dns.PTR) []Event {
	st := b.ensure(rr.Ptr)
	if st == nil {
		return nil
	}
	return b.tryEmit(st)
}

// MARK: foldSRV
func (b *Bridge) foldSRV(rr *dns.SRV) []Event {
	st := b.ensure(rr.Hdr.Name)
	if st == nil {
		return nil
	}
	st.hostname = rr.Target
	st.port = rr.Port
	st.havePort = true
	return b.tryEmit(st)
}

// MARK: foldTXT
func (b *Bridge) foldTXT(rr *dns.TXT) []Event {
	st := b.ensure(rr.Hdr.Name)
	if st == nil {
		return nil
	}
	txt, skipped := txtrec.Decode(rr.Txt)
	if skipped > 0 {
		b.logger.Debug("Skipped malformed TXT entries", "full_name", st.fullName, "skipped", skipped)
	}
	st.txt = txt
	return b.tryEmit(st)
}

// MARK: foldAddress
func (b *Bridge) foldAddress(hostname, addr string) []Event {
	parsed, err := netip.ParseAddr(addr)
	if err != nil {
		return nil
	}
	parsed = parsed.Unmap()

	host := strings.ToLower(hostname)
	if b.hostAddrs[host] == nil {
		b.hostAddrs[host] = make(map[netip.Addr]struct{})
	}
	b.hostAddrs[host][parsed] = struct{}{}

	return b.reEmitHost(hostname)
}

// MARK: dropAddress
// Handles an expired or goodbyed address record. The address leaves the
// host's set and every service on that host re-emits with the survivors; a
// host whose last address expired stays silent until an address returns.
func (b *Bridge) dropAddress(hostname, addr string) []Event {
	parsed, err := netip.ParseAddr(addr)
	if err != nil {
		return nil
	}
	parsed = parsed.Unmap()

	host := strings.ToLower(hostname)
	set := b.hostAddrs[host]
	if _, exists := set[parsed]; !exists {
		return nil
	}
	delete(set, parsed)
	if len(set) == 0 {
		delete(b.hostAddrs, host)
	}

	return b.reEmitHost(hostname)
}

// MARK: reEmitHost
func (b *Bridge) reEmitHost(hostname string) []Event {
	var events []Event
	for _, st := range b.orderedServices() {
		if strings.EqualFold(st.hostname, hostname) {
			events = append(events, b.tryEmit(st)...)
		}
	}
	return events
}

// MARK: ensure
// Finds or creates the partial state for a full name under this bridge's
// service type. Names outside the type are not ours.
func (b *Bridge) ensure(fullName string) *serviceState {
	suffix := "." + b.serviceType
	lower := strings.ToLower(fullName)
	if !strings.HasSuffix(lower, suffix) {
		return nil
	}

	if st, exists := b.services[lower]; exists {
		return st
	}
	st := &serviceState{
		instance: fullName[:len(fullName)-len(suffix)],
		fullName: fullName,
	}
	b.services[lower] = st
	return st
}

// MARK: removeService
// Handles a PTR goodbye or expiry: one Removed event if the consumer ever saw
// the service, then the identity is forgotten so later records start fresh.
func (b *Bridge) removeService(fullName string) []Event {
	lower := strings.ToLower(fullName)
	st, exists := b.services[lower]
	if !exists {
		return nil
	}
	delete(b.services, lower)

	if !st.resolved {
		return nil
	}
	return []Event{{
		Kind: Removed,
		Service: Service{
			Instance:  st.instance,
			FullName:  st.fullName,
			Hostname:  st.hostname,
			Addresses: st.lastAddrs,
			Port:      st.lastPort,
			Txt:       st.lastTxt,
			State:     StateRemoved,
		},
	}}
}

// MARK: tryEmit
// Emits Discovered on the Partial to Resolved transition and Updated when an
// already-resolved service's addresses, port, or TXT actually changed.
// Identical re-announcements produce nothing.
func (b *Bridge) tryEmit(st *serviceState) []Event {
	addrs := b.addressesFor(st.hostname)
	if st.hostname == "" || !st.havePort || len(addrs) == 0 {
		return nil
	}

	if st.resolved &&
		st.lastPort == st.port &&
		addrsEqual(st.lastAddrs, addrs) &&
		st.lastTxt.Equal(st.txt) {
		return nil
	}

	kind := Discovered
	if st.resolved {
		kind = Updated
	}
	st.resolved = true
	st.lastAddrs = addrs
	st.lastPort = st.port
	st.lastTxt = st.txt.Clone()

	return []Event{{
		Kind: kind,
		Service: Service{
			Instance:  st.instance,
			FullName:  st.fullName,
			Hostname:  st.hostname,
			Addresses: addrs,
			Port:      st.port,
			Txt:       st.txt.Clone(),
			State:     StateResolved,
		},
	}}
}

// MARK: addressesFor
// The known addresses of a hostname, IPv4 before IPv6, stably ordered.
func (b *Bridge) addressesFor(hostname string) []netip.Addr {
	set := b.hostAddrs[strings.ToLower(hostname)]
	if len(set) == 0 {
		return nil
	}

	addrs := make([]netip.Addr, 0, len(set))
	for addr := range set {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		if addrs[i].Is4() != addrs[j].Is4() {
			return addrs[i].Is4()
		}
		return addrs[i].Less(addrs[j])
	})
	return addrs
}

// MARK: orderedServices
// Services in a stable order so event ordering is deterministic when one
// address record touches several instances.
func (b *Bridge) orderedServices() []*serviceState {
	keys := make([]string, 0, len(b.services))
	for key := range b.services {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]*serviceState, len(keys))
	for i, key := range keys {
		out[i] = b.services[key]
	}
	return out
}

// MARK: addrsEqual
func addrsEqual(a, b []netip.Addr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Package engine runs the mDNS protocol state machine: multicast socket I/O,
// periodic queries for subscribed service types, periodic announcements for
// registered services, and the record cache. All protocol state is owned by
// a single background run loop; consumers talk to it through the exported
// methods and receive raw record events over per-subscription queues.
package engine

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/miekg/dns"

	"github.com/kgrahem/lanscout/internal"
	"github.com/kgrahem/lanscout/utilities"
)

// MARK: Engine
type Engine struct {
	cfg    Config
	logger *internal.Logger
	ns     *netserver

	cmdCh   chan func()
	closing chan struct{}
	closed  atomic.Bool
	genSeq  atomic.Uint64
	wg      sync.WaitGroup

	// Owned by the run loop; never touched from consumer calls directly.
	cache *recordCache
	subs  map[*Subscription]struct{}
	regs  map[*Registration]struct{}
}

// MARK: New
// Binds the multicast sockets and starts the background workers. A multicast
// join refused on every interface returns an error matching both
// ErrEngineUnavailable and ErrMulticastBlocked.
func New(cfg Config, logger *internal.Logger) (*Engine, error) {
	cfg = cfg.withDefaults()

	ns, err := newNetserver(cfg, logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		ns:      ns,
		cmdCh:   make(chan func()),
		closing: make(chan struct{}),
		cache:   newRecordCache(),
		subs:    make(map[*Subscription]struct{}),
		regs:    make(map[*Registration]struct{}),
	}

	e.wg.Add(1 + ns.receiverCount())
	go e.run()
	ns.startReceiving(e.wg.Done)

	logger.Info("mDNS engine started", "interface", cfg.Interface)
	return e, nil
}

// MARK: Subscribe
// Begins periodic PTR querying for a service type. Cached records are
// replayed to the new subscription so a late subscriber converges without
// waiting for the next announcement.
func (e *Engine) Subscribe(serviceType string) (*Subscription, error) {
	if e.closed.Load() {
		return nil, fmt.Errorf("browse %q: engine closed: %w", serviceType, ErrEngineUnavailable)
	}

	sub := &Subscription{
		serviceType: strings.ToLower(serviceType),
		generation:  e.genSeq.Add(1),
		events:      make(chan RecordEvent, e.cfg.EventBuffer),
		overflowed:  make(chan struct{}),
		cadence:     queryCadence(e.cfg),
	}

	ok := e.do(func() {
		e.subs[sub] = struct{}{}
		for _, rr := range e.cache.all() {
			if relevant(sub, rr) {
				e.emit(sub, RecordEvent{RR: rr, Generation: sub.generation})
			}
		}
		e.sendPTRQuery(sub)
	})
	if !ok {
		return nil, fmt.Errorf("browse %q: engine closed: %w", serviceType, ErrEngineUnavailable)
	}

	e.logger.Debug("Subscribed to service type", "service_type", sub.serviceType, "generation", sub.generation)
	return sub, nil
}

// MARK: Unsubscribe
// Stops querying for the subscription's type. Events already emitted remain
// in the queue; staleness is the bridge's concern via generation counters.
func (e *Engine) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	e.do(func() {
		delete(e.subs, sub)
	})
}

// MARK: Register
// Publishes a local service and begins periodic re-announcement. A duplicate
// instance under the same type on this engine fails with ErrNameConflict.
func (e *Engine) Register(instance, serviceType string, port uint16, txtEntries []string) (*Registration, error) {
	if e.closed.Load() {
		return nil, fmt.Errorf("advertise %q: engine closed: %w", instance, ErrEngineUnavailable)
	}

	hostname, err := localHostname()
	if err != nil {
		return nil, fmt.Errorf("advertise %q: resolving local hostname: %w: %v", instance, ErrEngineUnavailable, err)
	}
	ips, err := utilities.AdvertiseIPs(e.cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("advertise %q: no usable addresses: %w", instance, ErrEngineUnavailable)
	}

	serviceType = strings.ToLower(serviceType)
	reg := &Registration{
		instance:    instance,
		serviceType: serviceType,
		fullName:    instance + "." + serviceType,
		hostname:    hostname,
		port:        port,
		txtEntries:  append([]string(nil), txtEntries...),
		ips:         ips,
		cadence:     announceCadence(e.cfg),
	}

	errCh := make(chan error, 1)
	ok := e.do(func() {
		for other := range e.regs {
			if strings.EqualFold(other.fullName, reg.fullName) {
				errCh <- fmt.Errorf("advertise %q as %q: %w", reg.instance, reg.serviceType, ErrNameConflict)
				return
			}
		}
		e.regs[reg] = struct{}{}
		e.announce(reg, time.Now())
		errCh <- nil
	})
	if !ok {
		return nil, fmt.Errorf("advertise %q: engine closed: %w", instance, ErrEngineUnavailable)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}

	e.logger.Info("Registered mDNS service",
		"full_name", reg.fullName,
		"port", reg.port,
		"addresses", len(reg.ips))
	return reg, nil
}

// MARK: Unregister
// Sends goodbye records best-effort and frees the announcement state. UDP
// delivery is not confirmed and goodbyes are not retried; waiting is bounded
// so consumer teardown cannot hang on the run loop.
func (e *Engine) Unregister(reg *Registration) {
	if reg == nil {
		return
	}

	done := make(chan struct{})
	ok := e.do(func() {
		defer close(done)
		if _, exists := e.regs[reg]; !exists {
			return
		}
		delete(e.regs, reg)
		e.sendGoodbye(reg)
	})
	if !ok {
		return
	}

	select {
	case <-done:
		e.logger.Info("Unregistered mDNS service", "full_name", reg.fullName)
	case <-time.After(e.cfg.ShutdownTimeout):
		e.logger.Warn("Timed out waiting for goodbye send", "full_name", reg.fullName)
	}
}

// MARK: Close
// Stops the background workers. Remaining registrations get goodbyes first,
// then the sockets close; waiting for worker exit is bounded and remaining
// resources are forcibly released after the timeout.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	flushed := make(chan struct{})
	select {
	case e.cmdCh <- func() {
		for reg := range e.regs {
			e.sendGoodbye(reg)
		}
		e.regs = make(map[*Registration]struct{})
		close(flushed)
	}:
		select {
		case <-flushed:
		case <-time.After(e.cfg.ShutdownTimeout):
		}
	case <-time.After(e.cfg.ShutdownTimeout):
	}

	close(e.closing)
	e.ns.shutdown()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("mDNS engine stopped")
		return nil
	case <-time.After(e.cfg.ShutdownTimeout):
		e.logger.Warn("mDNS engine workers did not acknowledge exit", "timeout", e.cfg.ShutdownTimeout.String())
		return fmt.Errorf("stopping mDNS engine: workers did not exit within %s", e.cfg.ShutdownTimeout)
	}
}

// MARK: do
// Hands a closure to the run loop. Returns false if the engine is closing.
func (e *Engine) do(fn func()) bool {
	select {
	case e.cmdCh <- fn:
		return true
	case <-e.closing:
		return false
	}
}

// MARK: run
// The protocol worker. Exclusive owner of cache, subscriptions and
// registrations; everything reaches it via cmdCh or the socket channel.
func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-e.closing:
			return
		case fn := <-e.cmdCh:
			fn()
		case im := <-e.ns.msgCh:
			e.handleMessage(im)
		case now := <-ticker.C:
			e.sweep(now)
			e.runQuerySchedule(now)
			e.runAnnounceSchedule(now)
		}
	}
}

// MARK: handleMessage
func (e *Engine) handleMessage(im *incomingMsg) {
	if im.msg.Opcode != dns.OpcodeQuery {
		return
	}

	if !im.msg.Response {
		e.handleQuery(im.msg)
		return
	}

	now := time.Now()
	for _, rr := range im.msg.Answer {
		e.acceptRecord(rr, now)
	}
	for _, rr := range im.msg.Extra {
		e.acceptRecord(rr, now)
	}
}

// MARK: handleQuery
// Answers peer questions (including probes) that touch local registrations.
func (e *Engine) handleQuery(msg *dns.Msg) {
	var answers []dns.RR
	for _, q := range msg.Question {
		for reg := range e.regs {
			answers = append(answers, reg.answersFor(q, e.cfg.RecordTTL, e.cfg.HostTTL)...)
		}
	}
	if len(answers) == 0 {
		return
	}
	if err := e.ns.send(responseMsg(answers)); err != nil {
		e.logger.Debug("Failed to answer mDNS query", "error", err)
	}
}

// MARK: acceptRecord
// Folds one received record into the cache and fans out the change. A zero
// TTL is a goodbye. Unchanged re-announcements refresh the TTL silently.
func (e *Engine) acceptRecord(rr dns.RR, now time.Time) {
	switch rr.Header().Rrtype {
	case dns.TypePTR, dns.TypeSRV, dns.TypeTXT, dns.TypeA, dns.TypeAAAA:
	default:
		return
	}

	if rr.Header().Ttl == 0 {
		if e.cache.remove(rr) {
			e.fanout(rr, true)
		}
		return
	}

	if e.cache.add(rr, now) {
		e.fanout(rr, false)
	}
}

// MARK: fanout
func (e *Engine) fanout(rr dns.RR, expired bool) {
	for sub := range e.subs {
		if relevant(sub, rr) {
			e.emit(sub, RecordEvent{RR: rr, Expired: expired, Generation: sub.generation})
		}
	}
}

// MARK: emit
// Non-blocking send to the subscription queue. A full queue latches the
// overflow signal instead of dropping silently or blocking the worker.
func (e *Engine) emit(sub *Subscription, ev RecordEvent) {
	select {
	case sub.events <- ev:
	default:
		if !sub.overflowSet {
			sub.overflowSet = true
			close(sub.overflowed)
			e.logger.Warn("Subscription event queue overflowed", "service_type", sub.serviceType)
		}
	}
}

// MARK: relevant
// Record scope filter for one subscription. Address records pass through for
// every subscription: the bridge associates them with services by hostname.
func relevant(sub *Subscription, rr dns.RR) bool {
	name := strings.ToLower(rr.Header().Name)
	switch rr.Header().Rrtype {
	case dns.TypePTR:
		return name == sub.serviceType
	case dns.TypeSRV, dns.TypeTXT:
		return strings.HasSuffix(name, "."+sub.serviceType)
	case dns.TypeA, dns.TypeAAAA:
		return true
	}
	return false
}

// MARK: sweep
// Evicts records past their TTL deadline and reports them as expirations.
func (e *Engine) sweep(now time.Time) {
	for _, rr := range e.cache.expire(now) {
		e.fanout(rr, true)
	}
}

// MARK: runQuerySchedule
func (e *Engine) runQuerySchedule(now time.Time) {
	for sub := range e.subs {
		if !now.Before(sub.nextQuery) {
			e.sendPTRQuery(sub)
		}
	}
}

// MARK: sendPTRQuery
func (e *Engine) sendPTRQuery(sub *Subscription) {
	msg := new(dns.Msg)
	msg.Question = []dns.Question{{
		Name:   sub.serviceType,
		Qtype:  dns.TypePTR,
		Qclass: dns.ClassINET,
	}}

	if err := e.ns.send(msg); err != nil {
		e.logger.Debug("Failed to send browse query", "service_type", sub.serviceType, "error", err)
	}
	sub.nextQuery = time.Now().Add(sub.cadence.NextBackOff())
}

// MARK: runAnnounceSchedule
func (e *Engine) runAnnounceSchedule(now time.Time) {
	for reg := range e.regs {
		if !now.Before(reg.nextAnnounce) {
			e.announce(reg, now)
		}
	}
}

// MARK: announce
// Sends the registration's full record set. The cadence starts one second
// out and doubles up to half the record TTL, covering both the initial
// announcement burst and steady-state refresh.
func (e *Engine) announce(reg *Registration, now time.Time) {
	if err := e.ns.send(responseMsg(reg.answerSet(e.cfg.RecordTTL, e.cfg.HostTTL))); err != nil {
		e.logger.Debug("Failed to announce service", "full_name", reg.fullName, "error", err)
	}
	reg.nextAnnounce = now.Add(reg.cadence.NextBackOff())
}

// MARK: sendGoodbye
// Two zero-TTL announcements, best-effort.
func (e *Engine) sendGoodbye(reg *Registration) {
	msg := responseMsg(reg.goodbyeSet())
	for i := 0; i < 2; i++ {
		if err := e.ns.send(msg); err != nil {
			e.logger.Debug("Failed to send goodbye", "full_name", reg.fullName, "error", err)
			return
		}
	}
}

// MARK: queryCadence
func queryCadence(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.QueryIntervalMin
	b.RandomizationFactor = 0.1
	b.Multiplier = 2
	b.MaxInterval = cfg.QueryIntervalMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// MARK: announceCadence
func announceCadence(cfg Config) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.RandomizationFactor = 0.1
	b.Multiplier = 2
	b.MaxInterval = time.Duration(cfg.RecordTTL/2) * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// MARK: localHostname
// The machine's short hostname under the mDNS domain.
func localHostname() (string, error) {
	h, err := os.Hostname()
	if err != nil {
		return "", err
	}
	if i := strings.IndexByte(h, '.'); i > 0 {
		h = h[:i]
	}
	return h + ".local.", nil
}

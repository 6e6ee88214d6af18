package engine

import (
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/miekg/dns"
)

const (
	mdnsPort = 5353

	// DNS-SD conventional TTLs: long-lived for service records, short for
	// host address records (RFC 6762 section 10).
	defaultRecordTTL = 4500
	defaultHostTTL   = 120

	defaultQueryIntervalMin = 1 * time.Second
	defaultQueryIntervalMax = 60 * time.Second
	defaultEventBuffer      = 1024
	defaultShutdownTimeout  = 3 * time.Second

	// Upper bound on any peer-supplied TTL before cache eviction.
	maxRecordTTL = 75 * 60
)

// MARK: Config
type Config struct {
	// Interface pins the engine to a single network interface, by name or by
	// one of its IP addresses. Empty means all multicast-capable interfaces.
	// Required on platforms whose drivers only deliver multicast on one
	// interface (Android WiFi) even after the permission shim is satisfied.
	Interface string

	DisableIPv4 bool
	DisableIPv6 bool

	// Browse query cadence: first query after QueryIntervalMin, doubling up
	// to QueryIntervalMax (RFC 6762 section 5.2).
	QueryIntervalMin time.Duration
	QueryIntervalMax time.Duration

	// TTLs in seconds for published records.
	RecordTTL uint32
	HostTTL   uint32

	// EventBuffer is the per-subscription record event queue length.
	EventBuffer int

	// ShutdownTimeout bounds how long Close waits for background workers.
	ShutdownTimeout time.Duration
}

// MARK: DefaultConfig
// Returns the standard DNS-SD configuration.
func DefaultConfig() Config {
	return Config{
		QueryIntervalMin: defaultQueryIntervalMin,
		QueryIntervalMax: defaultQueryIntervalMax,
		RecordTTL:        defaultRecordTTL,
		HostTTL:          defaultHostTTL,
		EventBuffer:      defaultEventBuffer,
		ShutdownTimeout:  defaultShutdownTimeout,
	}
}

// MARK: withDefaults
// Fills zero-valued fields with defaults.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.QueryIntervalMin <= 0 {
		c.QueryIntervalMin = def.QueryIntervalMin
	}
	if c.QueryIntervalMax <= 0 {
		c.QueryIntervalMax = def.QueryIntervalMax
	}
	if c.RecordTTL == 0 {
		c.RecordTTL = def.RecordTTL
	}
	if c.HostTTL == 0 {
		c.HostTTL = def.HostTTL
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}

// MARK: RecordEvent

// RecordEvent is one raw protocol observation handed to the event bridge.
// Expired marks a record that left the cache, either via a goodbye (zero
// TTL) announcement or by outliving its TTL.
type RecordEvent struct {
	RR         dns.RR
	Expired    bool
	Generation uint64
}

// MARK: Subscription

// Subscription is an active browse for one service type. The scheduling
// fields are owned by the engine run loop and never touched elsewhere.
type Subscription struct {
	serviceType string
	generation  uint64
	events      chan RecordEvent
	overflowed  chan struct{}

	nextQuery   time.Time
	cadence     *backoff.ExponentialBackOff
	overflowSet bool
}

// MARK: Events
// The record event queue. Single consumer; drained non-blocking by the bridge.
func (s *Subscription) Events() <-chan RecordEvent {
	return s.events
}

// MARK: Overflowed
// Closed when the event queue overflowed; the backlog since then is lost and
// the consumer should restart the browse.
func (s *Subscription) Overflowed() <-chan struct{} {
	return s.overflowed
}

// MARK: ServiceType
func (s *Subscription) ServiceType() string {
	return s.serviceType
}

// MARK: Generation
func (s *Subscription) Generation() uint64 {
	return s.generation
}

// MARK: Registration

// Registration is one advertised local service. Scheduling fields are owned
// by the engine run loop.
type Registration struct {
	instance    string
	serviceType string
	fullName    string
	hostname    string
	port        uint16
	txtEntries  []string
	ips         []net.IP

	nextAnnounce time.Time
	cadence      *backoff.ExponentialBackOff
}

// MARK: FullName
func (r *Registration) FullName() string {
	return r.fullName
}

// MARK: Instance
func (r *Registration) Instance() string {
	return r.instance
}

// MARK: ServiceType
func (r *Registration) ServiceType() string {
	return r.serviceType
}

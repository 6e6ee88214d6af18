package bridge

import (
	"errors"
	"net/netip"

	"github.com/kgrahem/lanscout/txtrec"
)

// ErrQueueOverflow reports that the consumer polled too infrequently and the
// record backlog exceeded its bound. The browse stream is truncated;
// restarting the browse recovers.
var ErrQueueOverflow = errors.New("bridge: event queue overflowed, restart the browse")

// MARK: State
type State int

const (
	StatePartial State = iota
	StateResolved
	StateRemoved
)

// MARK: String
func (s State) String() string {
	switch s {
	case StatePartial:
		return "partial"
	case StateResolved:
		return "resolved"
	case StateRemoved:
		return "removed"
	}
	return "unknown"
}

// MARK: EventKind
type EventKind int

const (
	Discovered EventKind = iota
	Updated
	Removed
)

// MARK: String
func (k EventKind) String() string {
	switch k {
	case Discovered:
		return "discovered"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// MARK: Service

// Service is one resolved network endpoint as handed to the consumer.
// Addresses are ordered IPv4 first so Addresses[0] is always usable as a
// plain host string by consumers that cannot dial IPv6 link-locals.
type Service struct {
	Instance  string
	FullName  string
	Hostname  string
	Addresses []netip.Addr
	Port      uint16
	Txt       txtrec.Map
	State     State
}

// MARK: Event
type Event struct {
	Kind    EventKind
	Service Service
}

// MARK: serviceState

// serviceState is the bridge's in-progress view of one full name. A service
// leaves Partial once hostname, port, and at least one address are known.
type serviceState struct {
	instance string
	fullName string
	hostname string
	port     uint16
	havePort bool
	txt      txtrec.Map

	resolved bool
	// Last snapshot handed to the consumer, for deep-equality dedup of
	// periodic re-announcements.
	lastAddrs []netip.Addr
	lastPort  uint16
	lastTxt   txtrec.Map
}

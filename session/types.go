package session

import (
	"errors"
	"sync/atomic"

	"github.com/kgrahem/lanscout/engine"
)

// ErrInvalidServiceType reports a malformed service type string; valid types
// look like "_mygame._tcp.local." with the trailing dot required.
var ErrInvalidServiceType = errors.New("session: invalid service type")

// MARK: RegistrationState
type RegistrationState int32

const (
	RegistrationPending RegistrationState = iota
	RegistrationActive
	RegistrationFailed
	RegistrationStopped
)

// MARK: String
func (s RegistrationState) String() string {
	switch s {
	case RegistrationPending:
		return "pending"
	case RegistrationActive:
		return "registered"
	case RegistrationFailed:
		return "failed"
	case RegistrationStopped:
		return "unregistered"
	}
	return "unknown"
}

// MARK: BrowseHandle

// BrowseHandle is an opaque reference to one browse session. It goes stale
// the moment a newer browse starts or StopBrowse runs; polling a stale
// handle yields nothing, never events from the replaced session.
type BrowseHandle struct {
	generation  uint64
	serviceType string
}

// MARK: ServiceType
func (h *BrowseHandle) ServiceType() string {
	if h == nil {
		return ""
	}
	return h.serviceType
}

// MARK: AdvertiseHandle

// AdvertiseHandle is an opaque reference to one advertised service.
type AdvertiseHandle struct {
	reg   *engine.Registration
	state atomic.Int32
}

// MARK: State
func (h *AdvertiseHandle) State() RegistrationState {
	if h == nil {
		return RegistrationStopped
	}
	return RegistrationState(h.state.Load())
}

// MARK: setState
func (h *AdvertiseHandle) setState(s RegistrationState) {
	h.state.Store(int32(s))
}

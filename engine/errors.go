package engine

import (
	"errors"
)

// Sentinel errors surfaced by the protocol engine.
var (
	// ErrEngineUnavailable reports that the engine's sockets or background
	// workers could not be started, or that the engine has been closed.
	ErrEngineUnavailable = errors.New("mdns engine unavailable")

	// ErrMulticastBlocked reports that every multicast group join failed.
	// This is the expected failure mode when the platform blocks inbound
	// multicast at the driver level (e.g. Android without a multicast lock);
	// the host should surface the platform-specific remedy. Errors carrying
	// this kind also match ErrEngineUnavailable.
	ErrMulticastBlocked = errors.New("multicast group join blocked")

	// ErrNameConflict reports a local duplicate registration of the same
	// instance name and service type.
	ErrNameConflict = errors.New("instance name already registered")
)

// Package session is the consumer-facing surface of the discovery stack. A
// Manager owns at most one active browse and one active advertisement; a new
// start of either kind implicitly stops its predecessor, and stop calls on
// already-idle handles are no-ops so host lifecycle hooks can tear down
// unconditionally. No method blocks on the network: browsing results arrive
// through non-blocking polls of the event bridge.
package session

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kgrahem/lanscout/bridge"
	"github.com/kgrahem/lanscout/engine"
	"github.com/kgrahem/lanscout/internal"
	"github.com/kgrahem/lanscout/txtrec"
)

// MARK: Manager
type Manager struct {
	cfg    engine.Config
	logger *internal.Logger

	mu           sync.Mutex
	eng          *engine.Engine
	sharedEngine bool
	browseSub    *engine.Subscription
	browseBridge *bridge.Bridge
	browseHandle *BrowseHandle
	advHandle    *AdvertiseHandle
}

// MARK: NewManager
// Creates a session manager. The protocol engine starts lazily on the first
// browse or advertise so socket errors surface at the call that needs them.
func NewManager(cfg engine.Config, logger *internal.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger,
	}
}

// MARK: NewManagerWithEngine
// Creates a session manager on an engine owned by the caller; several owner
// contexts can share one engine's sockets this way. Close leaves the shared
// engine running.
func NewManagerWithEngine(eng *engine.Engine, logger *internal.Logger) *Manager {
	return &Manager{
		logger:       logger,
		eng:          eng,
		sharedEngine: true,
	}
}

// MARK: StartBrowse
// Begins browsing for a service type, implicitly stopping any browse already
// active on this manager.
func (m *Manager) StartBrowse(serviceType string) (*BrowseHandle, error) {
	normalized, err := NormalizeServiceType(serviceType)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureEngine(); err != nil {
		return nil, fmt.Errorf("start browse %q: %w", normalized, err)
	}

	m.stopBrowseLocked()

	sub, err := m.eng.Subscribe(normalized)
	if err != nil {
		return nil, err
	}

	handle := &BrowseHandle{
		generation:  sub.Generation(),
		serviceType: normalized,
	}
	m.browseSub = sub
	m.browseBridge = bridge.New(sub, m.logger)
	m.browseHandle = handle

	m.logger.Info("Browse started", "service_type", normalized, "generation", handle.generation)
	return handle, nil
}

// MARK: PollBrowse
// Non-blocking: returns every service lifecycle event that became available
// since the previous poll, empty when nothing is new, and nothing at all for
// a stale handle. ErrQueueOverflow is recoverable by restarting the browse.
func (m *Manager) PollBrowse(h *BrowseHandle) ([]bridge.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h == nil || m.browseHandle != h {
		return nil, nil
	}
	return m.browseBridge.Poll()
}

// MARK: StopBrowse
// Stops the browse owned by h. Calling it on a stale or already-stopped
// handle is a no-op.
func (m *Manager) StopBrowse(h *BrowseHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h == nil || m.browseHandle != h {
		return
	}
	m.stopBrowseLocked()
}

// MARK: IsBrowsing
func (m *Manager) IsBrowsing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browseHandle != nil
}

// MARK: stopBrowseLocked
func (m *Manager) stopBrowseLocked() {
	if m.browseSub == nil {
		return
	}
	m.eng.Unsubscribe(m.browseSub)
	m.logger.Info("Browse stopped", "service_type", m.browseHandle.serviceType)
	m.browseSub = nil
	m.browseBridge = nil
	m.browseHandle = nil
}

// MARK: Advertise
// Registers a local service, implicitly unregistering any advertisement
// already active on this manager.
func (m *Manager) Advertise(instance, serviceType string, port uint16, txt map[string]string) (*AdvertiseHandle, error) {
	if instance == "" {
		return nil, fmt.Errorf("advertise: instance name must not be empty")
	}
	normalized, err := NormalizeServiceType(serviceType)
	if err != nil {
		return nil, err
	}

	entries, err := txtrec.Encode(txtrec.FromMap(txt))
	if err != nil {
		return nil, fmt.Errorf("advertise %q: %w", instance, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureEngine(); err != nil {
		return nil, fmt.Errorf("advertise %q: %w", instance, err)
	}

	m.unadvertiseLocked()

	handle := &AdvertiseHandle{}
	handle.setState(RegistrationPending)

	reg, err := m.eng.Register(instance, normalized, port, entries)
	if err != nil {
		handle.setState(RegistrationFailed)
		return nil, err
	}

	handle.reg = reg
	handle.setState(RegistrationActive)
	m.advHandle = handle

	return handle, nil
}

// MARK: Unadvertise
// Unregisters the advertisement owned by h. Stale or already-stopped handles
// are a no-op.
func (m *Manager) Unadvertise(h *AdvertiseHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h == nil || m.advHandle != h {
		return
	}
	m.unadvertiseLocked()
}

// MARK: IsAdvertising
func (m *Manager) IsAdvertising() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.advHandle != nil
}

// MARK: RegisteredFullName
// The full service name of the active advertisement, or an empty string when
// h is stale or inactive.
func (m *Manager) RegisteredFullName(h *AdvertiseHandle) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h == nil || m.advHandle != h || h.reg == nil {
		return ""
	}
	return h.reg.FullName()
}

// MARK: unadvertiseLocked
func (m *Manager) unadvertiseLocked() {
	if m.advHandle == nil {
		return
	}
	m.eng.Unregister(m.advHandle.reg)
	m.advHandle.setState(RegistrationStopped)
	m.advHandle = nil
}

// MARK: Close
// Stops any active browse and advertisement and shuts the engine down,
// waiting a bounded time for the background workers.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopBrowseLocked()
	m.unadvertiseLocked()

	if m.eng == nil || m.sharedEngine {
		m.eng = nil
		return nil
	}
	err := m.eng.Close()
	m.eng = nil
	return err
}

// MARK: ensureEngine
func (m *Manager) ensureEngine() error {
	if m.eng != nil {
		return nil
	}
	eng, err := engine.New(m.cfg, m.logger)
	if err != nil {
		return err
	}
	m.eng = eng
	return nil
}

// MARK: NormalizeServiceType
// Validates and canonicalizes a service type: lowercased, trailing dot
// enforced, and shaped like "_name._tcp.local." or "_name._udp.local.".
func NormalizeServiceType(serviceType string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(serviceType))
	if t == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidServiceType)
	}
	if !strings.HasSuffix(t, ".") {
		t += "."
	}
	if !strings.HasSuffix(t, "local.") {
		return "", fmt.Errorf("%w: %q must end with the \"local.\" domain", ErrInvalidServiceType, serviceType)
	}
	if !strings.HasSuffix(t, "._tcp.local.") && !strings.HasSuffix(t, "._udp.local.") {
		return "", fmt.Errorf("%w: %q must use the \"_tcp\" or \"_udp\" protocol label", ErrInvalidServiceType, serviceType)
	}
	if !strings.HasPrefix(t, "_") {
		return "", fmt.Errorf("%w: %q must start with an underscore label", ErrInvalidServiceType, serviceType)
	}
	return t, nil
}

package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kgrahem/lanscout/bridge"
	"github.com/kgrahem/lanscout/engine"
	"github.com/kgrahem/lanscout/internal"
)

func TestNormalizeServiceType(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "_mygame._tcp.local.", want: "_mygame._tcp.local."},
		{in: "_mygame._tcp.local", want: "_mygame._tcp.local."},
		{in: "_MyGame._TCP.local.", want: "_mygame._tcp.local."},
		{in: "_music._udp.local.", want: "_music._udp.local."},
		{in: "", wantErr: true},
		{in: "_mygame._tcp", wantErr: true},
		{in: "mygame._tcp.local.", wantErr: true},
		{in: "_mygame._http.local.", wantErr: true},
	}

	for _, tc := range cases {
		got, err := NormalizeServiceType(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrInvalidServiceType, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestStartBrowseRejectsInvalidType(t *testing.T) {
	m := NewManager(engine.DefaultConfig(), internal.NewLogger("error"))

	_, err := m.StartBrowse("not-a-service-type")
	require.ErrorIs(t, err, ErrInvalidServiceType)
	assert.False(t, m.IsBrowsing())
}

func TestIdleTeardownIsNoOp(t *testing.T) {
	m := NewManager(engine.DefaultConfig(), internal.NewLogger("error"))

	// Host lifecycle hooks tear down unconditionally; none of these may
	// error or panic on an idle manager.
	m.StopBrowse(nil)
	m.Unadvertise(nil)
	assert.Equal(t, "", m.RegisteredFullName(nil))

	events, err := m.PollBrowse(nil)
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestAdvertiseRejectsEmptyInstance(t *testing.T) {
	m := NewManager(engine.DefaultConfig(), internal.NewLogger("error"))

	_, err := m.Advertise("", "_mygame._tcp.local.", 7350, nil)
	require.Error(t, err)
}

func TestAdvertiseRejectsBadTxtKey(t *testing.T) {
	m := NewManager(engine.DefaultConfig(), internal.NewLogger("error"))

	_, err := m.Advertise("Game Server A", "_mygame._tcp.local.", 7350,
		map[string]string{"bad=key": "v"})
	require.Error(t, err)
	assert.False(t, m.IsAdvertising())
}

// Network-dependent tests. These exercise the real engine over multicast
// loopback and are skipped, not failed, on machines where the OS cannot
// deliver multicast to the sending host.

func newLoopbackEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.New(engine.DefaultConfig(), internal.NewLogger("error"))
	if err != nil {
		t.Skipf("mDNS engine unavailable in this environment: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func uniqueServiceType() string {
	return fmt.Sprintf("_t%d._tcp.local.", time.Now().UnixNano()%1_000_000_000)
}

func pollUntil(t *testing.T, m *Manager, h *BrowseHandle, timeout time.Duration,
	match func(bridge.Event) bool) *bridge.Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		events, err := m.PollBrowse(h)
		require.NoError(t, err)
		for i := range events {
			if match(events[i]) {
				return &events[i]
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

func TestAdvertiseThenBrowseLoopback(t *testing.T) {
	eng := newLoopbackEngine(t)
	logger := internal.NewLogger("error")
	serviceType := uniqueServiceType()

	advertiser := NewManagerWithEngine(eng, logger)
	advHandle, err := advertiser.Advertise("Game Server A", serviceType, 7350,
		map[string]string{"version": "1.0"})
	require.NoError(t, err)
	defer advertiser.Unadvertise(advHandle)

	assert.Equal(t, RegistrationActive, advHandle.State())
	assert.Equal(t, "Game Server A."+serviceType, advertiser.RegisteredFullName(advHandle))

	browserM := NewManagerWithEngine(eng, logger)
	browseHandle, err := browserM.StartBrowse(serviceType)
	require.NoError(t, err)
	defer browserM.StopBrowse(browseHandle)

	found := pollUntil(t, browserM, browseHandle, 10*time.Second, func(ev bridge.Event) bool {
		return ev.Kind == bridge.Discovered && ev.Service.Instance == "Game Server A"
	})
	if found == nil {
		t.Skip("multicast loopback unavailable on this machine")
	}

	assert.Equal(t, uint16(7350), found.Service.Port)
	assert.NotEmpty(t, found.Service.Addresses)
	v, ok := found.Service.Txt.Get("version")
	require.True(t, ok)
	assert.Equal(t, "1.0", v)
}

func TestSecondBrowseInvalidatesFirstHandle(t *testing.T) {
	eng := newLoopbackEngine(t)
	m := NewManagerWithEngine(eng, internal.NewLogger("error"))

	first, err := m.StartBrowse(uniqueServiceType())
	require.NoError(t, err)

	second, err := m.StartBrowse(uniqueServiceType())
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	assert.True(t, m.IsBrowsing())

	// The replaced session's handle is stale: polling it yields nothing,
	// ever, regardless of what the old subscription had in flight.
	events, err := m.PollBrowse(first)
	require.NoError(t, err)
	assert.Empty(t, events)

	m.StopBrowse(first) // stale stop is a no-op
	assert.True(t, m.IsBrowsing(), "stopping a stale handle must not stop the live session")

	m.StopBrowse(second)
	assert.False(t, m.IsBrowsing())
	m.StopBrowse(second) // idempotent
}

func TestReadvertiseReplacesRecord(t *testing.T) {
	eng := newLoopbackEngine(t)
	m := NewManagerWithEngine(eng, internal.NewLogger("error"))
	serviceType := uniqueServiceType()

	first, err := m.Advertise("Game Server A", serviceType, 7350, nil)
	require.NoError(t, err)

	second, err := m.Advertise("Game Server B", serviceType, 7351, nil)
	require.NoError(t, err)

	assert.Equal(t, RegistrationStopped, first.State())
	assert.Equal(t, RegistrationActive, second.State())
	assert.Equal(t, "", m.RegisteredFullName(first))
	assert.Equal(t, "Game Server B."+serviceType, m.RegisteredFullName(second))

	m.Unadvertise(second)
	assert.Equal(t, RegistrationStopped, second.State())
	m.Unadvertise(second) // idempotent
	assert.False(t, m.IsAdvertising())
}

func TestDuplicateRegistrationConflicts(t *testing.T) {
	eng := newLoopbackEngine(t)
	logger := internal.NewLogger("error")
	serviceType := uniqueServiceType()

	a := NewManagerWithEngine(eng, logger)
	_, err := a.Advertise("Game Server A", serviceType, 7350, nil)
	require.NoError(t, err)

	// A second owner claiming the same instance on the same engine.
	b := NewManagerWithEngine(eng, logger)
	_, err = b.Advertise("Game Server A", serviceType, 7351, nil)
	require.ErrorIs(t, err, engine.ErrNameConflict)
}

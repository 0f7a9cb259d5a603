// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nm

import (
	"context"
	"sync"
	"testing"
	"time"

	godbus "github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netinstall/internal/events"
	"grimm.is/netinstall/internal/network/model"
)

// recordingDispatcher applies changes to a plain NetworkState.
type recordingDispatcher struct {
	mu    sync.Mutex
	state *model.NetworkState
	calls []string
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{state: model.NewNetworkState(nil, nil)}
}

func (d *recordingDispatcher) record(call string) {
	d.calls = append(d.calls, call)
}

func (d *recordingDispatcher) AddDevice(_ context.Context, dev *model.Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("AddDevice " + dev.Name)
	return d.state.AddDevice(dev)
}

func (d *recordingDispatcher) UpdateDevice(_ context.Context, name string, dev *model.Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("UpdateDevice " + name)
	return d.state.UpdateDevice(name, dev)
}

func (d *recordingDispatcher) RemoveDevice(_ context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("RemoveDevice " + name)
	return d.state.RemoveDevice(name)
}

func (d *recordingDispatcher) NewConnection(_ context.Context, conn *model.Connection) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("NewConnection " + conn.ID)
	return d.state.AddConnection(conn)
}

func (d *recordingDispatcher) ForgetConnection(_ context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("ForgetConnection " + id.String())
	return d.state.ForgetConnection(id)
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Send(e events.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) types() []events.Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Type, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func newTestWatcher(fake *fakeNM) (*Watcher, *recordingDispatcher, *eventLog) {
	d := newRecordingDispatcher()
	log := &eventLog{}
	w := NewWatcher(newFakeSignals(), NewAdapter(fake, quietLogger()), d, WatcherOptions{
		Events: log,
		Logger: quietLogger(),
	})
	return w, d, log
}

func TestWatcherDeviceLifecycle(t *testing.T) {
	ctx := context.Background()
	fake := newFakeNM()
	w, d, log := newTestWatcher(fake)

	path := godbus.ObjectPath("/org/freedesktop/NetworkManager/Devices/2")
	fake.addDevice(path, ethernetDevice("eth0", 30, ReasonUserRequested, noPath))
	require.NoError(t, w.Handle(ctx, ChangeEvent{Kind: DeviceAdded, Path: path}))
	dev, ok := d.state.GetDevice("eth0")
	require.True(t, ok)
	assert.Equal(t, model.DeviceStateDisconnected, dev.State)

	// The device is activated and gets an IPv4 configuration.
	ip4 := godbus.ObjectPath("/org/freedesktop/NetworkManager/IP4Config/9")
	fake.ipConfigs[ip4] = ip4Config("10.0.0.5", 24, "10.0.0.1", "10.0.0.1")
	fake.devices[path] = ethernetDevice("eth0", 100, 0, ip4)
	require.NoError(t, w.Handle(ctx, ChangeEvent{Kind: IP4ConfigChanged, Path: ip4}))
	dev, _ = d.state.GetDevice("eth0")
	assert.Equal(t, model.DeviceStateConnected, dev.State)
	require.NotNil(t, dev.IPConfig)

	// Renames are tracked through the cached proxy name.
	fake.devices[path] = ethernetDevice("lan0", 100, 0, ip4)
	require.NoError(t, w.Handle(ctx, ChangeEvent{Kind: DeviceUpdated, Path: path}))
	_, ok = d.state.GetDevice("eth0")
	assert.False(t, ok)
	_, ok = d.state.GetDevice("lan0")
	assert.True(t, ok)

	require.NoError(t, w.Handle(ctx, ChangeEvent{Kind: DeviceRemoved, Path: path}))
	assert.Empty(t, d.state.Devices)
	// A second removal of an unknown path is a no-op.
	require.NoError(t, w.Handle(ctx, ChangeEvent{Kind: DeviceRemoved, Path: path}))

	assert.Equal(t, []events.Type{
		events.DeviceAdded, events.DeviceUpdated, events.DeviceUpdated, events.DeviceRemoved,
	}, log.types())
}

func TestWatcherIgnoresUnknownIPConfig(t *testing.T) {
	fake := newFakeNM()
	w, d, log := newTestWatcher(fake)
	require.NoError(t, w.Handle(context.Background(), ChangeEvent{Kind: IP6ConfigChanged, Path: "/org/freedesktop/NetworkManager/IP6Config/1"}))
	assert.Empty(t, d.calls)
	assert.Empty(t, log.types())
}

func TestWatcherConnections(t *testing.T) {
	ctx := context.Background()
	fake := newFakeNM()
	w, d, log := newTestWatcher(fake)

	conn := model.NewConnection("external", model.KindEthernet)
	path := fake.addConnection(ConnectionToDBus(conn, nil))
	require.NoError(t, w.Handle(ctx, ChangeEvent{Kind: ConnectionAdded, Path: path}))
	got, ok := d.state.GetConnection("external")
	require.True(t, ok)
	assert.Equal(t, conn.UUID, got.UUID)

	// Our own writes come back as duplicates and are dropped silently.
	require.NoError(t, w.Handle(ctx, ChangeEvent{Kind: ConnectionAdded, Path: path}))

	require.NoError(t, w.Handle(ctx, ChangeEvent{Kind: ConnectionUpdated, Path: path}))

	require.NoError(t, w.Handle(ctx, ChangeEvent{Kind: ConnectionRemoved, Path: path}))
	_, ok = d.state.GetConnectionByUUID(conn.UUID)
	assert.False(t, ok)

	// Unknown paths, such as connections deleted by a write, are ignored.
	require.NoError(t, w.Handle(ctx, ChangeEvent{Kind: ConnectionRemoved, Path: path}))

	assert.Equal(t, []events.Type{
		events.ConnectionAdded, events.ConnectionUpdated, events.ConnectionRemoved,
	}, log.types())
	assert.Equal(t, conn.UUID.String(), log.events[1].UUID)
}

func TestWatcherRun(t *testing.T) {
	fake := newFakeNM()
	path := godbus.ObjectPath("/org/freedesktop/NetworkManager/Devices/1")
	signals := newFakeSignals()
	d := newRecordingDispatcher()
	log := &eventLog{}
	w := NewWatcher(signals, NewAdapter(fake, quietLogger()), d, WatcherOptions{Events: log, Logger: quietLogger()})
	assert.Equal(t, "nm-watcher", w.Name())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	for range 3 {
		<-signals.ready
	}

	fake.addDevice(path, ethernetDevice("eth0", 100, 0, noPath))
	signals.emit(interfacesAdded(path, ifaceDevice))

	assert.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		_, ok := d.state.GetDevice("eth0")
		return ok
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

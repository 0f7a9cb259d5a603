// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nm

import (
	"context"
	"fmt"
	"slices"
	"sync"

	godbus "github.com/godbus/dbus/v5"
)

// fakeNM is an in-memory NetworkManager answering the calls the adapter,
// the proxies registry and the watcher make.
type fakeNM struct {
	mu sync.Mutex

	devices     map[godbus.ObjectPath]Props
	deviceOrder []godbus.ObjectPath
	ipConfigs   map[godbus.ObjectPath]Props
	active      map[godbus.ObjectPath]Props
	activeOrder []godbus.ObjectPath
	settings    map[godbus.ObjectPath]Settings
	connOrder   []godbus.ObjectPath
	flags       map[godbus.ObjectPath]uint32
	next        int

	// fail maps "Method" or "Method path" to the error returned for it.
	fail  map[string]error
	calls []string
}

func newFakeNM() *fakeNM {
	return &fakeNM{
		devices:   map[godbus.ObjectPath]Props{},
		ipConfigs: map[godbus.ObjectPath]Props{},
		active:    map[godbus.ObjectPath]Props{},
		settings:  map[godbus.ObjectPath]Settings{},
		flags:     map[godbus.ObjectPath]uint32{},
		fail:      map[string]error{},
	}
}

func reply(values ...any) *godbus.Call { return &godbus.Call{Body: values} }

func failed(err error) *godbus.Call { return &godbus.Call{Err: err} }

func (f *fakeNM) addDevice(path godbus.ObjectPath, props Props) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[path] = props
	f.deviceOrder = append(f.deviceOrder, path)
}

func (f *fakeNM) addConnection(settings Settings) godbus.ObjectPath {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storeConnection(settings)
}

func (f *fakeNM) storeConnection(settings Settings) godbus.ObjectPath {
	f.next++
	path := godbus.ObjectPath(fmt.Sprintf("%s/%d", SettingsPath, f.next))
	f.settings[path] = settings
	f.connOrder = append(f.connOrder, path)
	return path
}

func (f *fakeNM) activate(path godbus.ObjectPath) godbus.ObjectPath {
	s := f.settings[path]
	f.next++
	ac := godbus.ObjectPath(fmt.Sprintf("%s/ActiveConnection/%d", RootPath, f.next))
	f.active[ac] = Props{
		"Uuid":       s[sectionConnection]["uuid"],
		"Id":         s[sectionConnection]["id"],
		"Connection": godbus.MakeVariant(path),
	}
	f.activeOrder = append(f.activeOrder, ac)
	return ac
}

func (f *fakeNM) called(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *fakeNM) CallMethod(_ context.Context, path godbus.ObjectPath, method string, args ...any) *godbus.Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, method)
	if err, ok := f.fail[method]; ok {
		return failed(err)
	}
	if err, ok := f.fail[method+" "+string(path)]; ok {
		return failed(err)
	}

	switch method {
	case ifaceNM + ".GetDevices":
		return reply(slices.Clone(f.deviceOrder))
	case ifaceProperties + ".GetAll":
		var props Props
		var ok bool
		switch args[0].(string) {
		case ifaceDevice:
			props, ok = f.devices[path]
		case ifaceIP4Config, ifaceIP6Config:
			props, ok = f.ipConfigs[path]
		case ifaceActiveConnection:
			props, ok = f.active[path]
		}
		if !ok {
			return failed(fmt.Errorf("no object %s", path))
		}
		return reply(props)
	case ifaceProperties + ".Get":
		name := args[1].(string)
		switch {
		case path == RootPath && name == "ActiveConnections":
			return reply(godbus.MakeVariant(slices.Clone(f.activeOrder)))
		case name == "Flags":
			return reply(godbus.MakeVariant(f.flags[path]))
		}
		return failed(fmt.Errorf("no property %s", name))
	case ifaceSettings + ".ListConnections":
		return reply(slices.Clone(f.connOrder))
	case ifaceSettingsConnection + ".GetSettings":
		s, ok := f.settings[path]
		if !ok {
			return failed(fmt.Errorf("no connection %s", path))
		}
		return reply(s)
	case ifaceSettings + ".GetConnectionByUuid":
		want := args[0].(string)
		for _, p := range f.connOrder {
			if id, _ := field[string](f.settings[p][sectionConnection], "uuid"); id == want {
				return reply(p)
			}
		}
		return failed(fmt.Errorf("no connection with uuid %s", want))
	case ifaceSettings + ".AddConnection":
		return reply(f.storeConnection(args[0].(Settings)))
	case ifaceSettingsConnection + ".Update":
		f.settings[path] = args[0].(Settings)
		return reply()
	case ifaceSettingsConnection + ".Delete":
		delete(f.settings, path)
		f.connOrder = slices.DeleteFunc(f.connOrder, func(p godbus.ObjectPath) bool { return p == path })
		return reply()
	case ifaceNM + ".ActivateConnection":
		target := args[0].(godbus.ObjectPath)
		for ac, props := range f.active {
			if conn, _ := field[godbus.ObjectPath](props, "Connection"); conn == target {
				return reply(ac)
			}
		}
		return reply(f.activate(target))
	case ifaceNM + ".DeactivateConnection":
		ac := args[0].(godbus.ObjectPath)
		delete(f.active, ac)
		f.activeOrder = slices.DeleteFunc(f.activeOrder, func(p godbus.ObjectPath) bool { return p == ac })
		return reply()
	}
	return failed(fmt.Errorf("unexpected call %s on %s", method, path))
}

// fakeSignals is a SignalSource whose signals are pushed by the test.
type fakeSignals struct {
	mu      sync.Mutex
	chans   []chan<- *godbus.Signal
	matches int
	ready   chan struct{}
}

func newFakeSignals() *fakeSignals {
	return &fakeSignals{ready: make(chan struct{}, 16)}
}

func (s *fakeSignals) AddMatchSignal(...godbus.MatchOption) error {
	s.mu.Lock()
	s.matches++
	s.mu.Unlock()
	return nil
}

func (s *fakeSignals) RemoveMatchSignal(...godbus.MatchOption) error {
	s.mu.Lock()
	s.matches--
	s.mu.Unlock()
	return nil
}

func (s *fakeSignals) Signal(ch chan<- *godbus.Signal) {
	s.mu.Lock()
	s.chans = append(s.chans, ch)
	s.mu.Unlock()
	s.ready <- struct{}{}
}

func (s *fakeSignals) RemoveSignal(ch chan<- *godbus.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chans = slices.DeleteFunc(s.chans, func(c chan<- *godbus.Signal) bool { return c == ch })
}

func (s *fakeSignals) emit(sig *godbus.Signal) {
	s.mu.Lock()
	chans := slices.Clone(s.chans)
	s.mu.Unlock()
	for _, ch := range chans {
		ch <- sig
	}
}

func interfacesAdded(path godbus.ObjectPath, ifaces ...string) *godbus.Signal {
	body := map[string]map[string]godbus.Variant{}
	for _, i := range ifaces {
		body[i] = map[string]godbus.Variant{}
	}
	return &godbus.Signal{Sender: Service, Path: "/org/freedesktop", Name: signalInterfacesAdded, Body: []any{path, body}}
}

func interfacesRemoved(path godbus.ObjectPath, ifaces ...string) *godbus.Signal {
	return &godbus.Signal{Sender: Service, Path: "/org/freedesktop", Name: signalInterfacesRemoved, Body: []any{path, ifaces}}
}

func propertiesChanged(path godbus.ObjectPath, iface string, props ...string) *godbus.Signal {
	changed := map[string]godbus.Variant{}
	for _, p := range props {
		changed[p] = godbus.MakeVariant("x")
	}
	return &godbus.Signal{Sender: Service, Path: path, Name: signalPropertiesChanged, Body: []any{iface, changed, []string{}}}
}

// ethernetDevice returns the properties of an activated ethernet device.
func ethernetDevice(name string, state, reason uint32, ip4 godbus.ObjectPath) Props {
	return Props{
		"Interface":        godbus.MakeVariant(name),
		"HwAddress":        godbus.MakeVariant("52:54:00:12:34:56"),
		"DeviceType":       godbus.MakeVariant(uint32(1)),
		"State":            godbus.MakeVariant(state),
		"StateReason":      godbus.MakeVariant([]any{state, reason}),
		"Ip4Config":        godbus.MakeVariant(ip4),
		"Ip6Config":        godbus.MakeVariant(noPath),
		"ActiveConnection": godbus.MakeVariant(noPath),
	}
}

func ip4Config(addr string, prefix uint32, gateway, dns string) Props {
	return Props{
		"AddressData": godbus.MakeVariant([]map[string]godbus.Variant{{
			"address": godbus.MakeVariant(addr),
			"prefix":  godbus.MakeVariant(prefix),
		}}),
		"Gateway": godbus.MakeVariant(gateway),
		"NameserverData": godbus.MakeVariant([]map[string]godbus.Variant{{
			"address": godbus.MakeVariant(dns),
		}}),
		"RouteData": godbus.MakeVariant([]map[string]godbus.Variant{}),
	}
}

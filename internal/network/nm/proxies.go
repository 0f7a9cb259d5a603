// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nm

import (
	"context"
	"sync"

	godbus "github.com/godbus/dbus/v5"
)

// DeviceProxy caches what is needed to route notifications to a device:
// its interface name and the paths of its IP config objects.
type DeviceProxy struct {
	Path      godbus.ObjectPath
	Name      string
	IP4Config godbus.ObjectPath
	IP6Config godbus.ObjectPath
}

// ProxiesRegistry lazily keeps one DeviceProxy per device path.
type ProxiesRegistry struct {
	caller Caller

	mu      sync.Mutex
	devices map[godbus.ObjectPath]*DeviceProxy
}

func NewProxiesRegistry(caller Caller) *ProxiesRegistry {
	return &ProxiesRegistry{
		caller:  caller,
		devices: make(map[godbus.ObjectPath]*DeviceProxy),
	}
}

// Load populates the registry with every current device. Devices that
// vanish while loading are skipped.
func (r *ProxiesRegistry) Load(ctx context.Context) error {
	var paths []godbus.ObjectPath
	if err := call(ctx, r.caller, RootPath, ifaceNM+".GetDevices", []any{&paths}); err != nil {
		return err
	}
	for _, path := range paths {
		_, _ = r.Refresh(ctx, path)
	}
	return nil
}

// Device returns the cached proxy for path, creating it on first use.
func (r *ProxiesRegistry) Device(ctx context.Context, path godbus.ObjectPath) (*DeviceProxy, error) {
	r.mu.Lock()
	p, ok := r.devices[path]
	r.mu.Unlock()
	if ok {
		return p, nil
	}
	return r.Refresh(ctx, path)
}

// Refresh re-reads the device at path and replaces the cached proxy.
func (r *ProxiesRegistry) Refresh(ctx context.Context, path godbus.ObjectPath) (*DeviceProxy, error) {
	props, err := getAll(ctx, r.caller, path, ifaceDevice)
	if err != nil {
		return nil, err
	}
	p := &DeviceProxy{Path: path}
	p.Name, _ = field[string](props, "Interface")
	p.IP4Config, _ = field[godbus.ObjectPath](props, "Ip4Config")
	p.IP6Config, _ = field[godbus.ObjectPath](props, "Ip6Config")

	r.mu.Lock()
	r.devices[path] = p
	r.mu.Unlock()
	return p, nil
}

// Remove drops and returns the proxy for path.
func (r *ProxiesRegistry) Remove(path godbus.ObjectPath) (*DeviceProxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.devices[path]
	delete(r.devices, path)
	return p, ok
}

// FindByIPConfig returns the device owning an IP4Config or IP6Config
// object. When no cached proxy matches, the cache is refreshed once since
// devices get new config objects on every activation.
func (r *ProxiesRegistry) FindByIPConfig(ctx context.Context, path godbus.ObjectPath) (*DeviceProxy, bool) {
	if p, ok := r.lookupIPConfig(path); ok {
		return p, true
	}
	for _, devPath := range r.paths() {
		_, _ = r.Refresh(ctx, devPath)
	}
	return r.lookupIPConfig(path)
}

func (r *ProxiesRegistry) lookupIPConfig(path godbus.ObjectPath) (*DeviceProxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.devices {
		if p.IP4Config == path || p.IP6Config == path {
			return p, true
		}
	}
	return nil, false
}

func (r *ProxiesRegistry) paths() []godbus.ObjectPath {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]godbus.ObjectPath, 0, len(r.devices))
	for p := range r.devices {
		out = append(out, p)
	}
	return out
}

// Len returns the number of cached devices.
func (r *ProxiesRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nm

import (
	"context"
	"fmt"
	"slices"

	godbus "github.com/godbus/dbus/v5"

	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/logging"
)

// SignalSource is the part of *dbus.Conn the streams need.
type SignalSource interface {
	AddMatchSignal(options ...godbus.MatchOption) error
	RemoveMatchSignal(options ...godbus.MatchOption) error
	Signal(ch chan<- *godbus.Signal)
	RemoveSignal(ch chan<- *godbus.Signal)
}

// ChangeKind is the type of a change reported by a stream.
type ChangeKind uint8

const (
	ConnectionAdded ChangeKind = iota
	ConnectionRemoved
	ConnectionUpdated
	ActiveConnectionAdded
	ActiveConnectionRemoved
	ActiveConnectionUpdated
	DeviceAdded
	DeviceRemoved
	DeviceUpdated
	IP4ConfigChanged
	IP6ConfigChanged
)

var changeKindNames = []string{
	"ConnectionAdded", "ConnectionRemoved", "ConnectionUpdated",
	"ActiveConnectionAdded", "ActiveConnectionRemoved", "ActiveConnectionUpdated",
	"DeviceAdded", "DeviceRemoved", "DeviceUpdated",
	"IP4ConfigChanged", "IP6ConfigChanged",
}

func (k ChangeKind) String() string {
	if int(k) < len(changeKindNames) {
		return changeKindNames[k]
	}
	return fmt.Sprintf("ChangeKind(%d)", uint8(k))
}

// ChangeEvent reports a change on the object at Path.
type ChangeEvent struct {
	Kind ChangeKind
	Path godbus.ObjectPath
}

const (
	signalInterfacesAdded   = ifaceObjectManager + ".InterfacesAdded"
	signalInterfacesRemoved = ifaceObjectManager + ".InterfacesRemoved"
	signalPropertiesChanged = ifaceProperties + ".PropertiesChanged"
	signalUpdated           = ifaceSettingsConnection + ".Updated"
)

// Property allow-lists; other property churn does not produce events.
var (
	deviceProperties   = []string{"State", "StateReason", "HwAddress", "Interface", "Ip4Config", "Ip6Config", "ActiveConnection"}
	ipConfigProperties = []string{"AddressData", "Gateway", "NameserverData", "RouteData"}
	activeProperties   = []string{"State", "Devices"}
)

// Stream merges object manager and property notifications for one family of
// objects into typed change events.
type Stream struct {
	name     string
	source   SignalSource
	matches  [][]godbus.MatchOption
	classify func(*godbus.Signal) (ChangeEvent, bool)
	logger   *logging.Logger
}

func newStream(name string, source SignalSource, logger *logging.Logger, classify func(*godbus.Signal) (ChangeEvent, bool), matches ...[]godbus.MatchOption) *Stream {
	if logger == nil {
		logger = logging.Default()
	}
	return &Stream{
		name:     name,
		source:   source,
		matches:  matches,
		classify: classify,
		logger:   logger.WithComponent("nm-stream").With("stream", name),
	}
}

func objectManagerMatches() [][]godbus.MatchOption {
	return [][]godbus.MatchOption{
		{godbus.WithMatchSender(Service), godbus.WithMatchInterface(ifaceObjectManager), godbus.WithMatchMember("InterfacesAdded")},
		{godbus.WithMatchSender(Service), godbus.WithMatchInterface(ifaceObjectManager), godbus.WithMatchMember("InterfacesRemoved")},
	}
}

func propertiesMatch(iface string) []godbus.MatchOption {
	return []godbus.MatchOption{
		godbus.WithMatchSender(Service),
		godbus.WithMatchInterface(ifaceProperties),
		godbus.WithMatchMember("PropertiesChanged"),
		godbus.WithMatchArg(0, iface),
	}
}

// NewConnectionsStream reports added, removed and updated connection settings.
func NewConnectionsStream(source SignalSource, logger *logging.Logger) *Stream {
	matches := append(objectManagerMatches(), []godbus.MatchOption{
		godbus.WithMatchSender(Service),
		godbus.WithMatchInterface(ifaceSettingsConnection),
		godbus.WithMatchMember("Updated"),
	})
	return newStream("connections", source, logger, classifyConnections, matches...)
}

// NewActiveConnectionsStream reports active connections coming and going
// and their state changes.
func NewActiveConnectionsStream(source SignalSource, logger *logging.Logger) *Stream {
	matches := append(objectManagerMatches(), propertiesMatch(ifaceActiveConnection))
	return newStream("active-connections", source, logger, classifyActiveConnections, matches...)
}

// NewDevicesStream reports device lifecycle and IP configuration changes.
func NewDevicesStream(source SignalSource, logger *logging.Logger) *Stream {
	matches := append(objectManagerMatches(),
		propertiesMatch(ifaceDevice),
		propertiesMatch(ifaceIP4Config),
		propertiesMatch(ifaceIP6Config),
	)
	return newStream("devices", source, logger, classifyDevices, matches...)
}

// Name identifies the stream in logs.
func (s *Stream) Name() string { return s.name }

// Run subscribes and forwards events to out until ctx is done.
func (s *Stream) Run(ctx context.Context, out chan<- ChangeEvent) error {
	for _, m := range s.matches {
		if err := s.source.AddMatchSignal(m...); err != nil {
			return errors.Wrapf(err, errors.KindUnavailable, "subscribe %s stream", s.name)
		}
	}
	defer func() {
		for _, m := range s.matches {
			_ = s.source.RemoveMatchSignal(m...)
		}
	}()

	signals := make(chan *godbus.Signal, 64)
	s.source.Signal(signals)
	defer s.source.RemoveSignal(signals)

	s.logger.Debug("stream started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			ev, ok := s.classify(sig)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// objectInterfaces returns the object path and interface names of an
// InterfacesAdded or InterfacesRemoved signal.
func objectInterfaces(sig *godbus.Signal) (godbus.ObjectPath, []string, bool) {
	if len(sig.Body) < 2 {
		return "", nil, false
	}
	path, ok := sig.Body[0].(godbus.ObjectPath)
	if !ok {
		return "", nil, false
	}
	switch v := sig.Body[1].(type) {
	case map[string]map[string]godbus.Variant:
		names := make([]string, 0, len(v))
		for name := range v {
			names = append(names, name)
		}
		return path, names, true
	case []string:
		return path, v, true
	}
	return "", nil, false
}

// changedProperties returns the interface name and changed plus
// invalidated property names of a PropertiesChanged signal.
func changedProperties(sig *godbus.Signal) (string, []string, bool) {
	if len(sig.Body) < 2 {
		return "", nil, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return "", nil, false
	}
	changed, ok := sig.Body[1].(map[string]godbus.Variant)
	if !ok {
		return "", nil, false
	}
	names := make([]string, 0, len(changed))
	for name := range changed {
		names = append(names, name)
	}
	if len(sig.Body) > 2 {
		if invalidated, ok := sig.Body[2].([]string); ok {
			names = append(names, invalidated...)
		}
	}
	return iface, names, true
}

func containsAny(list, want []string) bool {
	for _, w := range want {
		if slices.Contains(list, w) {
			return true
		}
	}
	return false
}

// lifecycle classifies InterfacesAdded/Removed for objects implementing iface.
func lifecycle(sig *godbus.Signal, iface string, added, removed ChangeKind) (ChangeEvent, bool) {
	var kind ChangeKind
	switch sig.Name {
	case signalInterfacesAdded:
		kind = added
	case signalInterfacesRemoved:
		kind = removed
	default:
		return ChangeEvent{}, false
	}
	path, names, ok := objectInterfaces(sig)
	if !ok || !slices.Contains(names, iface) {
		return ChangeEvent{}, false
	}
	return ChangeEvent{Kind: kind, Path: path}, true
}

func classifyConnections(sig *godbus.Signal) (ChangeEvent, bool) {
	if sig.Name == signalUpdated {
		return ChangeEvent{Kind: ConnectionUpdated, Path: sig.Path}, true
	}
	return lifecycle(sig, ifaceSettingsConnection, ConnectionAdded, ConnectionRemoved)
}

func classifyActiveConnections(sig *godbus.Signal) (ChangeEvent, bool) {
	if sig.Name == signalPropertiesChanged {
		iface, props, ok := changedProperties(sig)
		if ok && iface == ifaceActiveConnection && containsAny(props, activeProperties) {
			return ChangeEvent{Kind: ActiveConnectionUpdated, Path: sig.Path}, true
		}
		return ChangeEvent{}, false
	}
	return lifecycle(sig, ifaceActiveConnection, ActiveConnectionAdded, ActiveConnectionRemoved)
}

func classifyDevices(sig *godbus.Signal) (ChangeEvent, bool) {
	if sig.Name != signalPropertiesChanged {
		return lifecycle(sig, ifaceDevice, DeviceAdded, DeviceRemoved)
	}
	iface, props, ok := changedProperties(sig)
	if !ok {
		return ChangeEvent{}, false
	}
	switch iface {
	case ifaceDevice:
		if containsAny(props, deviceProperties) {
			return ChangeEvent{Kind: DeviceUpdated, Path: sig.Path}, true
		}
	case ifaceIP4Config:
		if containsAny(props, ipConfigProperties) {
			return ChangeEvent{Kind: IP4ConfigChanged, Path: sig.Path}, true
		}
	case ifaceIP6Config:
		if containsAny(props, ipConfigProperties) {
			return ChangeEvent{Kind: IP6ConfigChanged, Path: sig.Path}, true
		}
	}
	return ChangeEvent{}, false
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nm

import (
	"net/netip"

	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/network/model"
)

// NMDeviceType codes (NM_DEVICE_TYPE_*) that the installer knows about.
var deviceTypes = map[uint32]model.DeviceType{
	1:  model.DeviceTypeEthernet,
	2:  model.DeviceTypeWireless,
	10: model.DeviceTypeBond,
	13: model.DeviceTypeBridge,
	22: model.DeviceTypeDummy,
	32: model.DeviceTypeLoopback,
}

// NMDeviceState values.
const (
	nmStateUnknown      uint32 = 0
	nmStateUnmanaged    uint32 = 10
	nmStateUnavailable  uint32 = 20
	nmStateDisconnected uint32 = 30
	nmStatePrepare      uint32 = 40
	nmStateConfig       uint32 = 50
	nmStateNeedAuth     uint32 = 60
	nmStateIPConfig     uint32 = 70
	nmStateIPCheck      uint32 = 80
	nmStateSecondaries  uint32 = 90
	nmStateActivated    uint32 = 100
	nmStateDeactivating uint32 = 110
	nmStateFailed       uint32 = 120
)

// ReasonUserRequested is NM_DEVICE_STATE_REASON_USER_REQUESTED.
const ReasonUserRequested uint32 = 39

// DeviceTypeFromNM maps a device type code. Unknown codes are an error.
func DeviceTypeFromNM(code uint32) (model.DeviceType, error) {
	t, ok := deviceTypes[code]
	if !ok {
		return 0, errors.Errorf(errors.KindValidation, "unsupported device type %d", code)
	}
	return t, nil
}

// DeviceStateFromNM collapses a NetworkManager device state and its reason
// into a model.DeviceState. A disconnect the user did not ask for is a failure.
func DeviceStateFromNM(state, reason uint32) model.DeviceState {
	switch state {
	case nmStateUnmanaged:
		return model.DeviceStateUnmanaged
	case nmStateUnavailable:
		return model.DeviceStateUnavailable
	case nmStatePrepare, nmStateConfig, nmStateNeedAuth, nmStateIPConfig, nmStateIPCheck, nmStateSecondaries:
		return model.DeviceStateConnecting
	case nmStateActivated:
		return model.DeviceStateConnected
	case nmStateDeactivating:
		return model.DeviceStateDisconnecting
	case nmStateDisconnected:
		if reason == ReasonUserRequested {
			return model.DeviceStateDisconnected
		}
		return model.DeviceStateFailed
	case nmStateFailed:
		return model.DeviceStateFailed
	}
	return model.DeviceStateUnknown
}

// deviceState reads State and StateReason. StateReason is a (uu) struct
// holding the state again followed by the reason.
func deviceState(props Props) (uint32, uint32) {
	state, _ := field[uint32](props, "State")
	var reason uint32
	if sr, ok := field[[]any](props, "StateReason"); ok && len(sr) == 2 {
		reason, _ = sr[1].(uint32)
	}
	return state, reason
}

// DeviceFromDBus builds a Device from the properties of an
// org.freedesktop.NetworkManager.Device object. ip4 and ip6 are the
// properties of its IP config objects and are only used while activated.
func DeviceFromDBus(props, ip4, ip6 Props) (*model.Device, error) {
	name, ok := field[string](props, "Interface")
	if !ok || name == "" {
		return nil, errors.New(errors.KindValidation, "device without interface name")
	}
	code, ok := field[uint32](props, "DeviceType")
	if !ok {
		return nil, errors.Attr(errors.New(errors.KindValidation, "device without type"), "device", name)
	}
	typ, err := DeviceTypeFromNM(code)
	if err != nil {
		return nil, errors.Attr(err, "device", name)
	}

	dev := &model.Device{Name: name, Type: typ}
	if mac, ok := parsed(props, "HwAddress", model.ParseMacAddress); ok && mac.Kind == model.MacCustom {
		dev.MacAddress = mac
	}

	state, reason := deviceState(props)
	dev.State = DeviceStateFromNM(state, reason)
	if state == nmStateActivated {
		ip := IPConfigFromDBus(ip4, ip6)
		dev.IPConfig = &ip
	}
	return dev, nil
}

// IPConfigFromDBus builds the runtime IP configuration of a device from its
// IP4Config and IP6Config properties. Nameservers are only taken from IPv4:
// IP6Config does not expose NameserverData.
func IPConfigFromDBus(ip4, ip6 Props) model.IPConfig {
	cfg := model.IPConfig{}
	if ip4 != nil {
		cfg.Addresses = append(cfg.Addresses, list(ip4, "AddressData", decodeAddress)...)
		if gw, ok := parsed(ip4, "Gateway", netip.ParseAddr); ok {
			cfg.Gateway4 = gw
		}
		cfg.Nameservers = list(ip4, "NameserverData", decodeNameserver)
		cfg.Routes4 = list(ip4, "RouteData", decodeRoute)
	}
	if ip6 != nil {
		cfg.Addresses = append(cfg.Addresses, list(ip6, "AddressData", decodeAddress)...)
		if gw, ok := parsed(ip6, "Gateway", netip.ParseAddr); ok {
			cfg.Gateway6 = gw
		}
		cfg.Routes6 = list(ip6, "RouteData", decodeRoute)
	}
	return cfg
}

func decodeNameserver(p Props) (netip.Addr, bool) {
	return parsed(p, "address", netip.ParseAddr)
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nm

import (
	"net/netip"

	godbus "github.com/godbus/dbus/v5"
)

// Settings is the a{sa{sv}} shape of a NetworkManager connection.
type Settings = map[string]map[string]godbus.Variant

// Props is an a{sv} property bag.
type Props = map[string]godbus.Variant

// The helpers below implement the decode policy: a missing or mistyped
// optional value yields ok=false and the caller skips that field. Only the
// caller decides what is mandatory.

// field returns props[key] when it is present and holds a T.
func field[T any](props Props, key string) (T, bool) {
	var zero T
	v, ok := props[key]
	if !ok {
		return zero, false
	}
	t, ok := v.Value().(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// parsed is field followed by a conversion. A failed conversion is a skip.
func parsed[T, U any](props Props, key string, parse func(T) (U, error)) (U, bool) {
	var zero U
	raw, ok := field[T](props, key)
	if !ok {
		return zero, false
	}
	u, err := parse(raw)
	if err != nil {
		return zero, false
	}
	return u, true
}

// section returns a named sub-map of a settings bag.
func section(settings Settings, name string) (Props, bool) {
	s, ok := settings[name]
	return s, ok && s != nil
}

// list decodes every element of an aa{sv} property, dropping the elements
// that do not decode.
func list[U any](props Props, key string, decode func(Props) (U, bool)) []U {
	items, ok := field[[]map[string]godbus.Variant](props, key)
	if !ok {
		return nil
	}
	var out []U
	for _, item := range items {
		if u, ok := decode(item); ok {
			out = append(out, u)
		}
	}
	return out
}

// stringList decodes an "as" property with a per-element conversion.
func stringList[U any](props Props, key string, parse func(string) (U, error)) []U {
	items, ok := field[[]string](props, key)
	if !ok {
		return nil
	}
	var out []U
	for _, s := range items {
		if u, err := parse(s); err == nil {
			out = append(out, u)
		}
	}
	return out
}

// decodeAddress decodes {address: s, prefix: u}.
func decodeAddress(p Props) (netip.Prefix, bool) {
	addr, ok := parsed(p, "address", netip.ParseAddr)
	if !ok {
		return netip.Prefix{}, false
	}
	prefix, ok := field[uint32](p, "prefix")
	if !ok {
		return netip.Prefix{}, false
	}
	pfx := netip.PrefixFrom(addr, int(prefix))
	return pfx, pfx.IsValid()
}

func encodeAddress(p netip.Prefix) Props {
	return Props{
		"address": godbus.MakeVariant(p.Addr().String()),
		"prefix":  godbus.MakeVariant(uint32(p.Bits())),
	}
}

// ipv4FromUint32 converts the legacy "au" encoding, which stores addresses
// in network byte order.
func ipv4FromUint32(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

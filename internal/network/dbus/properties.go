// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dbus

import (
	"context"
	"reflect"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"grimm.is/netinstall/internal/errors"
)

// property is one bus property projected from a value of type T. A nil set
// makes it read-only.
type property[T any] struct {
	name string
	sig  string
	get  func(T) any
	set  func(T, godbus.Variant) error
}

type table[T any] []property[T]

func (t table[T]) find(name string) (property[T], bool) {
	for _, p := range t {
		if p.name == name {
			return p, true
		}
	}
	return property[T]{}, false
}

// project reads every property of v.
func (t table[T]) project(v T) map[string]godbus.Variant {
	out := make(map[string]godbus.Variant, len(t))
	for _, p := range t {
		out[p.name] = godbus.MakeVariant(p.get(v))
	}
	return out
}

func (t table[T]) introspect(name string) introspect.Interface {
	iface := introspect.Interface{Name: name}
	for _, p := range t {
		access := "read"
		if p.set != nil {
			access = "readwrite"
		}
		iface.Properties = append(iface.Properties, introspect.Property{Name: p.name, Type: p.sig, Access: access})
	}
	return iface
}

// mediator serves one interface of an object. It keeps no state of its own.
type mediator interface {
	Name() string
	Introspect() introspect.Interface
	Methods() map[string]any
	Get(ctx context.Context, prop string) (godbus.Variant, error)
	GetAll(ctx context.Context) (map[string]godbus.Variant, error)
	Set(ctx context.Context, prop string, value godbus.Variant) error
}

// noProperties is embedded by mediators that only have methods.
type noProperties struct{}

func (noProperties) Get(_ context.Context, prop string) (godbus.Variant, error) {
	return godbus.Variant{}, unknownProperty(prop)
}

func (noProperties) GetAll(context.Context) (map[string]godbus.Variant, error) {
	return map[string]godbus.Variant{}, nil
}

func (noProperties) Set(_ context.Context, prop string, _ godbus.Variant) error {
	return unknownProperty(prop)
}

func unknownProperty(name string) error {
	return errors.Attr(errors.Errorf(errors.KindNotFound, "no property %q", name), "property", name)
}

func readOnly(name string) error {
	return errors.Attr(errors.Errorf(errors.KindValidation, "property %q is read-only", name), "property", name)
}

// variantAs extracts a value of type T or fails with a validation error.
func variantAs[T any](v godbus.Variant, prop string) (T, error) {
	val, ok := v.Value().(T)
	if !ok {
		var zero T
		want := godbus.SignatureOf(zero)
		return zero, errors.Attr(
			errors.Errorf(errors.KindValidation, "property %s wants %s, got %s", prop, want, v.Signature()),
			"property", prop)
	}
	return val, nil
}

// changed returns the entries of next that differ from prev.
func changed(prev, next map[string]godbus.Variant) map[string]godbus.Variant {
	out := map[string]godbus.Variant{}
	for k, v := range next {
		old, ok := prev[k]
		if !ok || old.Signature() != v.Signature() || !reflect.DeepEqual(old.Value(), v.Value()) {
			out[k] = v
		}
	}
	return out
}

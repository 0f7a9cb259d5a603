// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package model

import (
	"grimm.is/netinstall/internal/errors"
)

// Network state errors. They are returned to callers through the control
// loop's reply channels and never abort the loop itself.

func UnknownConnectionError(id string) error {
	return errors.Attr(errors.Errorf(errors.KindNotFound, "unknown connection %q", id), "connection", id)
}

func UnknownDeviceError(name string) error {
	return errors.Attr(errors.Errorf(errors.KindNotFound, "unknown device %q", name), "device", name)
}

func InvalidUUIDError(s string) error {
	return errors.Errorf(errors.KindValidation, "invalid uuid %q", s)
}

func InvalidSecurityProtocolError(s string) error {
	return errors.Errorf(errors.KindValidation, "invalid security protocol %q", s)
}

func InvalidMacAddressError(s string) error {
	return errors.Errorf(errors.KindValidation, "invalid MAC address %q", s)
}

// InvalidValueError reports a value that does not parse as the named field.
func InvalidValueError(field, value string) error {
	return errors.Attr(errors.Errorf(errors.KindValidation, "invalid %s %q", field, value), "field", field)
}

func DuplicateConnectionError(id string) error {
	return errors.Attr(errors.Errorf(errors.KindConflict, "connection %q already exists", id), "connection", id)
}

func DuplicateDeviceError(name string) error {
	return errors.Attr(errors.Errorf(errors.KindConflict, "device %q already exists", name), "device", name)
}

// NotControllerError is returned when ports are assigned to a connection that
// cannot own them.
func NotControllerError(id string) error {
	return errors.Attr(errors.Errorf(errors.KindValidation, "connection %q is not a bond or bridge", id), "connection", id)
}

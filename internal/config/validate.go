// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"net"
	"slices"
	"strings"
	"time"

	"go.uber.org/multierr"

	"grimm.is/netinstall/internal/errors"
)

var logLevels = []string{"debug", "info", "warn", "warning", "error"}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs error
	invalid := func(field, format string, args ...any) {
		errs = multierr.Append(errs, errors.Attr(errors.Errorf(errors.KindValidation, field+": "+format, args...), "field", field))
	}

	if !slices.Contains(logLevels, strings.ToLower(c.LogLevel)) {
		invalid("log_level", "unknown level %q", c.LogLevel)
	}
	switch c.Backend {
	case BackendNetworkManager, BackendKernel, BackendMemory:
	default:
		invalid("backend", "unknown backend %q", c.Backend)
	}
	if c.ActionQueue < 1 {
		invalid("action_queue", "must be positive, got %d", c.ActionQueue)
	}

	if c.Bus != nil {
		switch c.Bus.Kind {
		case BusSystem, BusSession:
		default:
			invalid("bus.kind", "unknown bus %q", c.Bus.Kind)
		}
		if !validBusName(c.Bus.ServiceName) {
			invalid("bus.service_name", "invalid bus name %q", c.Bus.ServiceName)
		}
		if !validBusName(c.Bus.NetworkManagerService) {
			invalid("bus.network_manager_service", "invalid bus name %q", c.Bus.NetworkManagerService)
		}
	}

	if c.Tree != nil {
		if err := positiveDuration(c.Tree.RebuildTimeout); err != nil {
			invalid("tree.rebuild_timeout", "%v", err)
		}
		if err := positiveDuration(c.Tree.CallTimeout); err != nil {
			invalid("tree.call_timeout", "%v", err)
		}
	}

	if c.API != nil {
		if _, _, err := net.SplitHostPort(c.API.Listen); err != nil {
			invalid("api.listen", "%v", err)
		}
		if err := positiveDuration(c.API.CollectInterval); err != nil {
			invalid("api.collect_interval", "%v", err)
		}
	}
	return errs
}

func positiveDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return errors.Errorf(errors.KindValidation, "must be positive, got %s", s)
	}
	return nil
}

// validBusName accepts well-known names: at least two dot separated
// elements of letters, digits, '_' and '-', none starting with a digit.
func validBusName(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return false
	}
	for _, p := range parts {
		if p == "" || (p[0] >= '0' && p[0] <= '9') {
			return false
		}
		for _, r := range p {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			default:
				return false
			}
		}
	}
	return true
}

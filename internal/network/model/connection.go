// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package model

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Status is the desired state of a connection.
type Status uint8

const (
	StatusUp Status = iota
	StatusDown
	// StatusRemoved marks a connection to be deleted on the next apply.
	StatusRemoved
)

func (s Status) String() string {
	switch s {
	case StatusUp:
		return "up"
	case StatusDown:
		return "down"
	case StatusRemoved:
		return "removed"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ConnectionKind discriminates the ConnectionConfig payload.
type ConnectionKind uint8

const (
	KindEthernet ConnectionKind = iota
	KindWireless
	KindBond
	KindBridge
	KindLoopback
	KindDummy
)

var connectionKindNames = []string{"ethernet", "wireless", "bond", "bridge", "loopback", "dummy"}

func (k ConnectionKind) String() string {
	if int(k) < len(connectionKindNames) {
		return connectionKindNames[k]
	}
	return fmt.Sprintf("ConnectionKind(%d)", uint8(k))
}

// Valid reports whether k is one of the known kinds.
func (k ConnectionKind) Valid() bool {
	return int(k) < len(connectionKindNames)
}

func (k ConnectionKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *ConnectionKind) UnmarshalText(b []byte) error {
	parsed, err := ParseConnectionKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func ParseConnectionKind(s string) (ConnectionKind, error) {
	if i := slices.Index(connectionKindNames, strings.ToLower(s)); i >= 0 {
		return ConnectionKind(i), nil
	}
	return 0, InvalidValueError("connection kind", s)
}

// ConnectionConfig is the kind-specific part of a connection. Exactly one of
// the payload pointers matching Kind is set; Ethernet, Loopback and Dummy
// carry no payload.
type ConnectionConfig struct {
	Kind     ConnectionKind  `json:"kind" yaml:"kind"`
	Wireless *WirelessConfig `json:"wireless,omitempty" yaml:"wireless,omitempty"`
	Bond     *BondConfig     `json:"bond,omitempty" yaml:"bond,omitempty"`
	Bridge   *BridgeConfig   `json:"bridge,omitempty" yaml:"bridge,omitempty"`
}

// NewConfig returns a config of the given kind with a default payload.
func NewConfig(kind ConnectionKind) ConnectionConfig {
	cfg := ConnectionConfig{Kind: kind}
	switch kind {
	case KindWireless:
		cfg.Wireless = &WirelessConfig{Mode: WirelessModeInfra}
	case KindBond:
		cfg.Bond = &BondConfig{Mode: BondModeRoundRobin, Options: BondOptions{}}
	case KindBridge:
		cfg.Bridge = &BridgeConfig{STP: true, Priority: 32768}
	}
	return cfg
}

// Valid reports whether the payload matches the discriminant.
func (c ConnectionConfig) Valid() bool {
	switch c.Kind {
	case KindWireless:
		return c.Wireless != nil && c.Bond == nil && c.Bridge == nil
	case KindBond:
		return c.Bond != nil && c.Wireless == nil && c.Bridge == nil
	case KindBridge:
		return c.Bridge != nil && c.Wireless == nil && c.Bond == nil
	case KindEthernet, KindLoopback, KindDummy:
		return c.Wireless == nil && c.Bond == nil && c.Bridge == nil
	}
	return false
}

func (c ConnectionConfig) Clone() ConnectionConfig {
	out := ConnectionConfig{Kind: c.Kind}
	if c.Wireless != nil {
		w := *c.Wireless
		w.SSID = slices.Clone(c.Wireless.SSID)
		out.Wireless = &w
	}
	if c.Bond != nil {
		out.Bond = &BondConfig{Mode: c.Bond.Mode, Options: maps.Clone(c.Bond.Options)}
	}
	if c.Bridge != nil {
		b := *c.Bridge
		out.Bridge = &b
	}
	return out
}

// SecurityProtocol is the wireless key management scheme. The zero value is
// WPA2 personal.
type SecurityProtocol uint8

const (
	SecurityWPA2 SecurityProtocol = iota
	SecurityWEP
	SecurityOWE
	SecurityDynamicWEP
	SecurityWPA3Personal
	SecurityWPA2Enterprise
	SecurityWPA3Only
)

// keyMgmt holds the network manager key-mgmt strings, indexed by protocol.
var keyMgmt = []string{"wpa-psk", "none", "owe", "ieee8021x", "sae", "wpa-eap", "wpa-eap-suite-b-192"}

func (p SecurityProtocol) String() string {
	if int(p) < len(keyMgmt) {
		return keyMgmt[p]
	}
	return fmt.Sprintf("SecurityProtocol(%d)", uint8(p))
}

func (p SecurityProtocol) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *SecurityProtocol) UnmarshalText(b []byte) error {
	parsed, err := ParseSecurityProtocol(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParseSecurityProtocol parses a key-mgmt value.
func ParseSecurityProtocol(s string) (SecurityProtocol, error) {
	if i := slices.Index(keyMgmt, s); i >= 0 {
		return SecurityProtocol(i), nil
	}
	return 0, InvalidSecurityProtocolError(s)
}

type WirelessMode uint8

const (
	WirelessModeUnknown WirelessMode = iota
	WirelessModeAdHoc
	WirelessModeInfra
	WirelessModeAP
	WirelessModeMesh
)

var wirelessModeNames = []string{"unknown", "adhoc", "infrastructure", "ap", "mesh"}

func (m WirelessMode) String() string {
	if int(m) < len(wirelessModeNames) {
		return wirelessModeNames[m]
	}
	return fmt.Sprintf("WirelessMode(%d)", uint8(m))
}

func (m WirelessMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// ParseWirelessMode maps the 802-11-wireless mode string. Unknown strings
// are WirelessModeUnknown.
func ParseWirelessMode(s string) WirelessMode {
	if i := slices.Index(wirelessModeNames, s); i > 0 {
		return WirelessMode(i)
	}
	return WirelessModeUnknown
}

type WirelessConfig struct {
	Mode     WirelessMode     `json:"mode" yaml:"mode"`
	SSID     []byte           `json:"ssid" yaml:"ssid"`
	Security SecurityProtocol `json:"security" yaml:"security"`
	Password string           `json:"-" yaml:"-"`
	Hidden   bool             `json:"hidden,omitempty" yaml:"hidden,omitempty"`
}

// BondMode is the kernel bonding mode, numbered as the kernel numbers them.
type BondMode uint8

const (
	BondModeRoundRobin BondMode = iota
	BondModeActiveBackup
	BondModeXOR
	BondModeBroadcast
	BondModeLACP
	BondModeTLB
	BondModeALB
)

var bondModeNames = []string{"balance-rr", "active-backup", "balance-xor", "broadcast", "802.3ad", "balance-tlb", "balance-alb"}

func (m BondMode) String() string {
	if int(m) < len(bondModeNames) {
		return bondModeNames[m]
	}
	return fmt.Sprintf("BondMode(%d)", uint8(m))
}

func (m BondMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// ParseBondMode accepts either the mode name or its number.
func ParseBondMode(s string) (BondMode, error) {
	if i := slices.Index(bondModeNames, s); i >= 0 {
		return BondMode(i), nil
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < len(bondModeNames) {
		return BondMode(n), nil
	}
	return 0, InvalidValueError("bond mode", s)
}

// BondOptions are the bonding options other than the mode.
type BondOptions map[string]string

// String renders the options as "key=value" pairs sorted by key.
func (o BondOptions) String() string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+o[k])
	}
	return strings.Join(parts, " ")
}

// ParseBondOptions parses whitespace separated "key=value" pairs.
func ParseBondOptions(s string) (BondOptions, error) {
	opts := BondOptions{}
	for _, field := range strings.Fields(s) {
		k, v, ok := strings.Cut(field, "=")
		if !ok || k == "" {
			return nil, InvalidValueError("bond option", field)
		}
		opts[k] = v
	}
	return opts, nil
}

type BondConfig struct {
	Mode    BondMode    `json:"mode" yaml:"mode"`
	Options BondOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

type BridgeConfig struct {
	STP      bool   `json:"stp" yaml:"stp"`
	Priority uint32 `json:"priority" yaml:"priority"`
}

// MatchConfig lists the patterns used to bind a connection to hardware.
type MatchConfig struct {
	Driver    []string `json:"driver,omitempty" yaml:"driver,omitempty"`
	Path      []string `json:"path,omitempty" yaml:"path,omitempty"`
	Interface []string `json:"interface,omitempty" yaml:"interface,omitempty"`
	Kernel    []string `json:"kernel,omitempty" yaml:"kernel,omitempty"`
}

func (m MatchConfig) IsEmpty() bool {
	return len(m.Driver) == 0 && len(m.Path) == 0 && len(m.Interface) == 0 && len(m.Kernel) == 0
}

func (m MatchConfig) Clone() MatchConfig {
	return MatchConfig{
		Driver:    slices.Clone(m.Driver),
		Path:      slices.Clone(m.Path),
		Interface: slices.Clone(m.Interface),
		Kernel:    slices.Clone(m.Kernel),
	}
}

// Connection is a persisted network configuration unit.
type Connection struct {
	ID         string      `json:"id" yaml:"id"`
	UUID       uuid.UUID   `json:"uuid" yaml:"uuid"`
	Interface  string      `json:"interface,omitempty" yaml:"interface,omitempty"`
	MacAddress MacAddress  `json:"macAddress" yaml:"mac_address"`
	Controller *uuid.UUID  `json:"controller,omitempty" yaml:"controller,omitempty"`
	Match      MatchConfig `json:"match" yaml:"match"`
	IPConfig   IPConfig    `json:"ipConfig" yaml:"ip_config"`
	Status     Status      `json:"status" yaml:"status"`
	// Generated connections are owned by the network manager (for example
	// bond ports it created itself) and are never written back.
	Generated bool             `json:"generated,omitempty" yaml:"generated,omitempty"`
	Config    ConnectionConfig `json:"config" yaml:"config"`
}

// NewConnection returns an active connection of the given kind with a fresh uuid.
func NewConnection(id string, kind ConnectionKind) *Connection {
	return &Connection{
		ID:     id,
		UUID:   uuid.New(),
		Status: StatusUp,
		Config: NewConfig(kind),
	}
}

func (c *Connection) Kind() ConnectionKind { return c.Config.Kind }

func (c *Connection) IsUp() bool { return c.Status == StatusUp }

func (c *Connection) IsRemoved() bool { return c.Status == StatusRemoved }

func (c *Connection) IsLoopback() bool { return c.Config.Kind == KindLoopback }

// IsController reports whether the connection can own ports.
func (c *Connection) IsController() bool {
	return c.Config.Kind == KindBond || c.Config.Kind == KindBridge
}

// SetUp sets the desired status. A removed connection stays removed.
func (c *Connection) SetUp(up bool) {
	if c.IsRemoved() {
		return
	}
	if up {
		c.Status = StatusUp
	} else {
		c.Status = StatusDown
	}
}

// PortName is how the connection is listed as a port of its controller.
func (c *Connection) PortName() string {
	if c.Interface != "" {
		return c.Interface
	}
	return c.ID
}

// Clone returns a deep copy of the connection.
func (c *Connection) Clone() *Connection {
	if c == nil {
		return nil
	}
	out := *c
	out.MacAddress = c.MacAddress.Clone()
	if c.Controller != nil {
		ctrl := *c.Controller
		out.Controller = &ctrl
	}
	out.Match = c.Match.Clone()
	out.IPConfig = c.IPConfig.Clone()
	out.Config = c.Config.Clone()
	return &out
}

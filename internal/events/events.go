// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package events carries change notifications from the network subsystem
// to whoever presents them (the web layer, logs). The envelope is owned by
// the receiver; this package only defines what is sent.
package events

import (
	"time"
)

// Type names a change.
type Type string

const (
	ConnectionAdded   Type = "ConnectionAdded"
	ConnectionUpdated Type = "ConnectionUpdated"
	ConnectionRemoved Type = "ConnectionRemoved"
	DeviceAdded       Type = "DeviceAdded"
	DeviceUpdated     Type = "DeviceUpdated"
	DeviceRemoved     Type = "DeviceRemoved"
	ActiveConnection  Type = "ActiveConnectionChanged"
	Applied           Type = "NetworkApplied"
)

// Event describes one change. Fields that do not apply are empty.
type Event struct {
	Type   Type      `json:"type"`
	ID     string    `json:"id,omitempty"`
	UUID   string    `json:"uuid,omitempty"`
	Device string    `json:"device,omitempty"`
	Path   string    `json:"path,omitempty"`
	Time   time.Time `json:"time"`
}

// New returns an event of type t stamped with the current time.
func New(t Type) Event {
	return Event{Type: t, Time: time.Now()}
}

// Sender forwards events. Send must not block the caller for long.
type Sender interface {
	Send(Event)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(Event)

func (f SenderFunc) Send(e Event) { f(e) }

// Discard drops every event.
var Discard Sender = SenderFunc(func(Event) {})

// Multi fans an event out to several senders.
type Multi []Sender

func (m Multi) Send(e Event) {
	for _, s := range m {
		s.Send(e)
	}
}

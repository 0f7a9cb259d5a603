// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package system owns the canonical network state. A single goroutine takes
// actions off a channel and applies them one at a time; everything else
// reaches the state through a Client.
package system

import (
	"context"
	"sync"
	"time"

	godbus "github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/events"
	"grimm.is/netinstall/internal/logging"
	"grimm.is/netinstall/internal/metrics"
	"grimm.is/netinstall/internal/network/model"
)

const (
	DefaultQueueSize      = 64
	DefaultRebuildTimeout = 10 * time.Second
)

// Adapter reads and writes the state of an external network manager.
type Adapter interface {
	Read(ctx context.Context) (*model.NetworkState, error)
	Write(ctx context.Context, state *model.NetworkState) error
}

// Publisher mirrors the state as bus objects. The loop hands it unique
// ids; AddConnection may still rewrite the id of conn to keep them unique.
// Implementations must not keep the pointers they are given.
type Publisher interface {
	AddConnection(conn *model.Connection) (godbus.ObjectPath, error)
	UpdateConnection(conn *model.Connection) error
	RemoveConnection(id string) error
	SetConnections(ctx context.Context, conns []*model.Connection) error
	AddDevice(dev *model.Device) (godbus.ObjectPath, error)
	UpdateDevice(name string, dev *model.Device) error
	RemoveDevice(name string) error
	SetDevices(ctx context.Context, devs []*model.Device) error
	ConnectionPath(id string) (godbus.ObjectPath, bool)
	ConnectionsPaths() []godbus.ObjectPath
	DevicesPaths() []godbus.ObjectPath
}

// Options holds the optional settings of a System.
type Options struct {
	QueueSize      int
	RebuildTimeout time.Duration
	Events         events.Sender
	Metrics        *metrics.Registry
	Logger         *logging.Logger
}

// System is the control loop.
type System struct {
	adapter Adapter
	tree    Publisher
	state   *model.NetworkState
	ids     *model.IDAllocator

	actions chan Action
	done    chan struct{}
	once    sync.Once

	rebuildTimeout time.Duration
	rebuildMu      sync.Mutex
	rebuild        chan struct{}

	sender  events.Sender
	metrics *metrics.Registry
	logger  *logging.Logger
}

// New returns a stopped control loop. Call Run to start it.
func New(adapter Adapter, tree Publisher, opts Options) *System {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.RebuildTimeout <= 0 {
		opts.RebuildTimeout = DefaultRebuildTimeout
	}
	if opts.Events == nil {
		opts.Events = events.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &System{
		adapter:        adapter,
		tree:           tree,
		state:          model.NewNetworkState(nil, nil),
		ids:            model.NewIDAllocator(),
		actions:        make(chan Action, opts.QueueSize),
		done:           make(chan struct{}),
		rebuildTimeout: opts.RebuildTimeout,
		sender:         opts.Events,
		metrics:        opts.Metrics,
		logger:         opts.Logger.WithComponent("network-system"),
	}
}

func (s *System) Name() string { return "network-system" }

// Client returns a client sending to this loop.
func (s *System) Client() *Client {
	return &Client{actions: s.actions, done: s.done}
}

// Run reads the initial state, publishes it and handles actions until ctx
// is done or the action channel is closed.
func (s *System) Run(ctx context.Context) error {
	defer s.once.Do(func() { close(s.done) })

	state, err := s.adapter.Read(ctx)
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "read initial network state")
	}
	s.dedup(state)
	s.state = state
	// Objects that cannot be published are left out; the state keeps them.
	err = multierr.Combine(
		s.tree.SetConnections(ctx, state.Clone().Connections),
		s.tree.SetDevices(ctx, state.Clone().Devices),
	)
	if err != nil {
		s.logger.Warn("could not publish the whole network state", "error", err)
	}
	s.logger.Info("network system started",
		"devices", len(state.Devices), "connections", len(state.Connections))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("network system stopped")
			return nil
		case a, ok := <-s.actions:
			if !ok {
				return nil
			}
			s.handle(ctx, a)
		}
	}
}

func respond[T any](r Reply[T]) func(T, error) error {
	return func(v T, err error) error {
		if r != nil {
			r.send(v, err)
		}
		return err
	}
}

func ack(r Reply[struct{}], err error) error {
	return respond(r)(struct{}{}, err)
}

func (s *System) handle(ctx context.Context, action Action) {
	var err error
	switch a := action.(type) {
	case AddConnection:
		err = respond(a.Reply)(s.addConnection(ctx, a.Conn))
	case GetConnection:
		err = respond(a.Reply)(s.getConnection(a.UUID))
	case GetConnections:
		err = respond(a.Reply)(s.getConnections(), nil)
	case GetConnectionPath:
		err = respond(a.Reply)(s.connectionPath(ctx, a.UUID))
	case GetConnectionPathByID:
		err = respond(a.Reply)(s.connectionPathByID(ctx, a.ID))
	case GetController:
		err = respond(a.Reply)(s.getController(a.UUID))
	case GetConnectionsPaths:
		_ = s.WaitTree(ctx)
		err = respond(a.Reply)(s.tree.ConnectionsPaths(), nil)
	case GetDevicesPaths:
		_ = s.WaitTree(ctx)
		err = respond(a.Reply)(s.tree.DevicesPaths(), nil)
	case GetDevice:
		err = respond(a.Reply)(s.getDevice(a.Name))
	case GetDevices:
		err = respond(a.Reply)(s.state.Clone().Devices, nil)
	case GetState:
		err = respond(a.Reply)(s.state.Clone(), nil)
	case SetPorts:
		err = ack(a.Reply, s.setPorts(ctx, a.UUID, a.Ports))
	case UpdateConnection:
		err = ack(a.Reply, s.updateConnection(ctx, a.Conn))
	case RemoveConnection:
		err = ack(a.Reply, s.removeConnection(ctx, a.UUID))
	case Apply:
		err = respond(a.Reply)(s.apply(ctx))
	case AddDevice:
		err = ack(a.Reply, s.addDevice(ctx, a.Dev))
	case UpdateDevice:
		err = ack(a.Reply, s.updateDevice(ctx, a.Name, a.Dev))
	case RemoveDevice:
		err = ack(a.Reply, s.removeDevice(ctx, a.Name))
	case NewConnection:
		err = ack(a.Reply, s.newConnection(ctx, a.Conn))
	case ForgetConnection:
		err = ack(a.Reply, s.forgetConnection(ctx, a.UUID))
	default:
		s.logger.Error("unknown action", "action", action.name())
		return
	}
	s.metrics.ObserveAction(action.name(), err)
	if err != nil {
		s.logger.Debug("action failed", "action", action.name(), "error", err)
	}
}

// WaitTree blocks until the tree rebuild spawned by the last apply is done.
func (s *System) WaitTree(ctx context.Context) error {
	s.rebuildMu.Lock()
	ch := s.rebuild
	s.rebuildMu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spawnRebuild republishes snapshot on its own goroutine, after any rebuild
// still running. The tree is stale until it finishes, for at most
// rebuildTimeout. Actions that touch the tree wait for it first.
func (s *System) spawnRebuild(ctx context.Context, snapshot *model.NetworkState) {
	done := make(chan struct{})
	s.rebuildMu.Lock()
	prev := s.rebuild
	s.rebuild = done
	s.rebuildMu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.rebuildTimeout)
	go func() {
		defer close(done)
		defer cancel()
		if prev != nil {
			select {
			case <-prev:
			case <-ctx.Done():
			}
		}
		err := multierr.Combine(
			s.tree.SetConnections(ctx, snapshot.Connections),
			s.tree.SetDevices(ctx, snapshot.Devices),
		)
		if err != nil {
			s.logger.Error("could not rebuild the object tree", "error", err)
		}
	}()
}

// dedup renames connections of a freshly read state that share an id. The
// manager allows that, the live state does not.
func (s *System) dedup(state *model.NetworkState) {
	for id, newID := range state.DedupConnectionIDs(s.ids) {
		s.logger.Info("renamed connection with a duplicate id", "uuid", id.String(), "id", newID)
	}
}

func (s *System) notify(t events.Type, conn *model.Connection) {
	e := events.New(t)
	e.ID = conn.ID
	e.UUID = conn.UUID.String()
	if path, ok := s.tree.ConnectionPath(conn.ID); ok {
		e.Path = string(path)
	}
	s.sender.Send(e)
}

func (s *System) liveConnection(id uuid.UUID) (*model.Connection, error) {
	conn, ok := s.state.GetConnectionByUUID(id)
	if !ok || conn.IsRemoved() {
		return nil, model.UnknownConnectionError(id.String())
	}
	return conn, nil
}

func (s *System) addConnection(ctx context.Context, conn *model.Connection) (godbus.ObjectPath, error) {
	if conn == nil {
		return "", errors.New(errors.KindValidation, "no connection given")
	}
	_ = s.WaitTree(ctx)
	if _, known := s.state.GetConnectionByUUID(conn.UUID); known {
		return "", model.DuplicateConnectionError(conn.UUID.String())
	}
	conn = conn.Clone()
	conn.ID = s.ids.Unique(conn.ID, s.state.LiveIDs())
	path, err := s.tree.AddConnection(conn)
	if err != nil {
		return "", err
	}
	if err := s.state.AddConnection(conn); err != nil {
		if rerr := s.tree.RemoveConnection(conn.ID); rerr != nil {
			s.logger.Warn("could not retract connection", "connection", conn.ID, "error", rerr)
		}
		return "", err
	}
	s.notify(events.ConnectionAdded, conn)
	return path, nil
}

func (s *System) getConnection(id uuid.UUID) (*model.Connection, error) {
	conn, err := s.liveConnection(id)
	if err != nil {
		return nil, err
	}
	return conn.Clone(), nil
}

func (s *System) getConnections() []*model.Connection {
	live := s.state.LiveConnections()
	out := make([]*model.Connection, len(live))
	for i, c := range live {
		out[i] = c.Clone()
	}
	return out
}

func (s *System) connectionPath(ctx context.Context, id uuid.UUID) (godbus.ObjectPath, error) {
	conn, err := s.liveConnection(id)
	if err != nil {
		return "", err
	}
	return s.connectionPathByID(ctx, conn.ID)
}

func (s *System) connectionPathByID(ctx context.Context, id string) (godbus.ObjectPath, error) {
	_ = s.WaitTree(ctx)
	path, ok := s.tree.ConnectionPath(id)
	if !ok {
		return "", model.UnknownConnectionError(id)
	}
	return path, nil
}

func (s *System) getController(id uuid.UUID) (ControllerInfo, error) {
	conn, err := s.liveConnection(id)
	if err != nil {
		return ControllerInfo{}, err
	}
	if !conn.IsController() {
		return ControllerInfo{}, model.NotControllerError(conn.ID)
	}
	ports, err := s.state.PortsOf(id)
	if err != nil {
		return ControllerInfo{}, err
	}
	return ControllerInfo{Connection: conn.Clone(), Ports: ports}, nil
}

func (s *System) getDevice(name string) (*model.Device, error) {
	dev, ok := s.state.GetDevice(name)
	if !ok {
		return nil, model.UnknownDeviceError(name)
	}
	return dev.Clone(), nil
}

// portsOf returns the live connections whose controller is id.
func (s *System) portsOf(id uuid.UUID) []*model.Connection {
	var out []*model.Connection
	for _, c := range s.state.LiveConnections() {
		if c.Controller != nil && *c.Controller == id {
			out = append(out, c)
		}
	}
	return out
}

// republish refreshes the published properties of conns. Tree failures do
// not undo a state change that already happened.
func (s *System) republish(conns ...*model.Connection) {
	for _, c := range conns {
		if err := s.tree.UpdateConnection(c); err != nil {
			s.logger.Warn("could not update published connection", "connection", c.ID, "error", err)
		}
	}
}

func (s *System) setPorts(ctx context.Context, id uuid.UUID, ports []string) error {
	before := s.portsOf(id)
	if err := s.state.SetPorts(id, ports); err != nil {
		return err
	}
	_ = s.WaitTree(ctx)
	s.republish(before...)
	s.republish(s.portsOf(id)...)
	return nil
}

func (s *System) updateConnection(ctx context.Context, conn *model.Connection) error {
	if conn == nil {
		return errors.New(errors.KindValidation, "no connection given")
	}
	old, err := s.liveConnection(conn.UUID)
	if err != nil {
		return err
	}
	conn = conn.Clone()
	if conn.IsRemoved() {
		conn.Status = old.Status
	}
	if err := s.state.UpdateConnection(conn); err != nil {
		return err
	}
	_ = s.WaitTree(ctx)
	s.republish(conn)
	s.notify(events.ConnectionUpdated, conn)
	return nil
}

// removeConnection retracts the connection from the tree now and marks it
// so that the next apply deletes it from the manager.
func (s *System) removeConnection(ctx context.Context, id uuid.UUID) error {
	conn, err := s.liveConnection(id)
	if err != nil {
		return err
	}
	_ = s.WaitTree(ctx)
	e := events.New(events.ConnectionRemoved)
	e.ID = conn.ID
	e.UUID = conn.UUID.String()
	if path, ok := s.tree.ConnectionPath(conn.ID); ok {
		e.Path = string(path)
	}
	if err := s.tree.RemoveConnection(conn.ID); err != nil {
		return err
	}
	ports := s.portsOf(id)
	if err := s.state.RemoveConnection(id); err != nil {
		return err
	}
	s.sender.Send(e)
	s.republish(ports...)
	return nil
}

// apply writes the state and replaces it with what the manager reports back.
// The state is read back even when the write failed. Connections that failed
// to write are listed in the result; failing to read the state back, or a
// write failure not tied to a connection, is an error.
func (s *System) apply(ctx context.Context) (ApplyResult, error) {
	start := time.Now()
	var result ApplyResult

	var writeErr error
	if err := s.adapter.Write(ctx, s.state); err != nil {
		failed, whole := failedConnections(err)
		result.Failed = failed
		if len(failed) > 0 {
			s.logger.Warn("some connections could not be written", "failed", failed)
		}
		if whole != nil {
			writeErr = errors.Wrap(whole, errors.GetKind(whole), "write network state")
		}
	}

	state, err := s.adapter.Read(ctx)
	if err != nil {
		return result, multierr.Append(writeErr, errors.Wrap(err, errors.KindUnavailable, "read network state"))
	}
	s.dedup(state)
	s.state = state
	s.spawnRebuild(ctx, state.Clone())
	s.metrics.ObserveApply(time.Since(start), len(result.Failed))
	if writeErr != nil {
		return result, writeErr
	}

	s.sender.Send(events.New(events.Applied))
	s.logger.Info("network configuration applied",
		"connections", len(state.Connections), "failed", len(result.Failed))
	return result, nil
}

// failedConnections splits a write error into the ids of the connections
// that failed and whatever is left that names no connection.
func failedConnections(err error) ([]string, error) {
	var ids []string
	var rest error
	for _, e := range multierr.Errors(err) {
		if id, ok := errors.GetAttributes(e)["connection"].(string); ok {
			ids = append(ids, id)
			continue
		}
		rest = multierr.Append(rest, e)
	}
	return ids, rest
}

func (s *System) addDevice(ctx context.Context, dev *model.Device) error {
	if dev == nil {
		return errors.New(errors.KindValidation, "no device given")
	}
	dev = dev.Clone()
	if err := s.state.AddDevice(dev); err != nil {
		return err
	}
	_ = s.WaitTree(ctx)
	if _, err := s.tree.AddDevice(dev); err != nil {
		s.logger.Warn("could not publish device", "device", dev.Name, "error", err)
	}
	return nil
}

func (s *System) updateDevice(ctx context.Context, name string, dev *model.Device) error {
	if dev == nil {
		return errors.New(errors.KindValidation, "no device given")
	}
	dev = dev.Clone()
	if err := s.state.UpdateDevice(name, dev); err != nil {
		return err
	}
	_ = s.WaitTree(ctx)
	if err := s.tree.UpdateDevice(name, dev); err != nil {
		s.logger.Warn("could not update published device", "device", name, "error", err)
	}
	return nil
}

func (s *System) removeDevice(ctx context.Context, name string) error {
	if err := s.state.RemoveDevice(name); err != nil {
		return err
	}
	_ = s.WaitTree(ctx)
	if err := s.tree.RemoveDevice(name); err != nil {
		s.logger.Warn("could not retract device", "device", name, "error", err)
	}
	return nil
}

// newConnection adds a connection created in the manager by someone else.
// A uuid this loop already knows is rejected as a conflict; a taken id is
// replaced by a unique one.
func (s *System) newConnection(ctx context.Context, conn *model.Connection) error {
	if conn == nil {
		return errors.New(errors.KindValidation, "no connection given")
	}
	if _, known := s.state.GetConnectionByUUID(conn.UUID); known {
		return model.DuplicateConnectionError(conn.UUID.String())
	}
	conn = conn.Clone()
	conn.ID = s.ids.Unique(conn.ID, s.state.LiveIDs())
	if err := s.state.AddConnection(conn); err != nil {
		return err
	}
	_ = s.WaitTree(ctx)
	if _, err := s.tree.AddConnection(conn); err != nil {
		_ = s.state.ForgetConnection(conn.UUID)
		return err
	}
	return nil
}

// forgetConnection drops a connection deleted in the manager.
func (s *System) forgetConnection(ctx context.Context, id uuid.UUID) error {
	conn, ok := s.state.GetConnectionByUUID(id)
	if !ok {
		return model.UnknownConnectionError(id.String())
	}
	if !conn.IsRemoved() {
		_ = s.WaitTree(ctx)
		if err := s.tree.RemoveConnection(conn.ID); err != nil {
			s.logger.Warn("could not retract connection", "connection", conn.ID, "error", err)
		}
	}
	return s.state.ForgetConnection(id)
}

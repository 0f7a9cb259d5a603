// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"context"
	"sync"
	"time"

	"grimm.is/netinstall/internal/logging"
	"grimm.is/netinstall/internal/network/model"
)

// StateSource returns the current network state. The control loop client
// satisfies it.
type StateSource interface {
	State(ctx context.Context) (*model.NetworkState, error)
}

// Summary is the last sampled overview of the network state.
type Summary struct {
	Devices     map[string]int `json:"devices"`
	Connections map[string]int `json:"connections"`
	Connected   []string       `json:"connected"`
	Updated     time.Time      `json:"updated"`
}

// Collector periodically samples the network state into gauges.
type Collector struct {
	registry *Registry
	source   StateSource
	logger   *logging.Logger
	interval time.Duration

	mu      sync.RWMutex
	summary Summary
}

// NewCollector creates a collector. A nil registry uses Get().
func NewCollector(registry *Registry, source StateSource, logger *logging.Logger, interval time.Duration) *Collector {
	if registry == nil {
		registry = Get()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Collector{
		registry: registry,
		source:   source,
		logger:   logger.WithComponent("metrics"),
		interval: interval,
	}
}

func (c *Collector) Name() string { return "metrics-collector" }

// Run samples once immediately and then on every tick until ctx is done.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("Starting metrics collector", "interval", c.interval.String())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.collect(ctx); err != nil {
			c.logger.Warn("Failed to collect network state", "error", err)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			c.logger.Info("Stopping metrics collector")
			return nil
		}
	}
}

func (c *Collector) collect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	state, err := c.source.State(ctx)
	if err != nil {
		return err
	}
	c.Observe(state)
	return nil
}

// Observe updates the gauges and the cached summary from state.
func (c *Collector) Observe(state *model.NetworkState) {
	summary := Summary{
		Devices:     make(map[string]int),
		Connections: make(map[string]int),
		Updated:     time.Now(),
	}
	for _, d := range state.Devices {
		summary.Devices[d.State.String()]++
		if d.State == model.DeviceStateConnected {
			summary.Connected = append(summary.Connected, d.Name)
		}
	}
	for _, conn := range state.Connections {
		summary.Connections[conn.Config.Kind.String()+"/"+conn.Status.String()]++
	}

	c.registry.Devices.Reset()
	for st, n := range summary.Devices {
		c.registry.Devices.WithLabelValues(st).Set(float64(n))
	}
	c.registry.Connections.Reset()
	for _, conn := range state.Connections {
		c.registry.Connections.WithLabelValues(conn.Config.Kind.String(), conn.Status.String()).Inc()
	}

	c.mu.Lock()
	c.summary = summary
	c.mu.Unlock()
}

// Summary returns the last sample.
func (c *Collector) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.summary
}

// GetLastUpdate returns when the state was last sampled.
func (c *Collector) GetLastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.summary.Updated
}

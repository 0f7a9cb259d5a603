// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package services

import (
	"context"

	"golang.org/x/sync/errgroup"

	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/logging"
)

// Service is a long-running part of the daemon.
type Service interface {
	// Name returns the unique name of the service.
	Name() string

	// Run blocks until ctx is done or the service fails. A service that
	// stops because ctx was cancelled returns nil.
	Run(ctx context.Context) error
}

// Func adapts a function to Service.
type Func struct {
	ServiceName string
	Fn          func(ctx context.Context) error
}

func (f Func) Name() string                  { return f.ServiceName }
func (f Func) Run(ctx context.Context) error { return f.Fn(ctx) }

// RunAll runs every service until ctx is done. The first service to fail
// cancels the others; its error is returned once all of them have stopped.
func RunAll(ctx context.Context, logger *logging.Logger, svcs ...Service) error {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("services")

	g, ctx := errgroup.WithContext(ctx)
	for _, svc := range svcs {
		g.Go(func() error {
			logger.Debug("Starting service", "service", svc.Name())
			err := svc.Run(ctx)
			if err != nil {
				logger.Error("Service failed", "service", svc.Name(), "error", err)
				return errors.Attr(err, "service", svc.Name())
			}
			logger.Debug("Service stopped", "service", svc.Name())
			return nil
		})
	}
	return g.Wait()
}

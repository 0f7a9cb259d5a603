// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/logging"
)

func quietLogger() *logging.Logger {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LevelError
	return logging.New(cfg)
}

func waiter(name string, stopped *atomic.Int32) Service {
	return Func{ServiceName: name, Fn: func(ctx context.Context) error {
		<-ctx.Done()
		stopped.Add(1)
		return nil
	}}
}

func TestRunAllStopsOnCancel(t *testing.T) {
	var stopped atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- RunAll(ctx, quietLogger(), waiter("a", &stopped), waiter("b", &stopped)) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunAll did not return")
	}
	assert.Equal(t, int32(2), stopped.Load())
}

func TestRunAllFirstFailureCancelsOthers(t *testing.T) {
	var stopped atomic.Int32
	failing := Func{ServiceName: "broken", Fn: func(context.Context) error {
		return errors.New(errors.KindUnavailable, "bus went away")
	}}

	err := RunAll(context.Background(), quietLogger(), waiter("a", &stopped), failing)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindUnavailable))
	assert.Equal(t, "broken", errors.GetAttributes(err)["service"])
	assert.Equal(t, int32(1), stopped.Load())
}

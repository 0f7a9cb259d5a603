// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nm

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netinstall/internal/testutil"
)

func TestReadFromNetworkManager(t *testing.T) {
	conn := testutil.RequireSystemBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	adapter := NewAdapter(NewBusCaller(conn, Service), nil)
	state, err := adapter.Read(ctx)
	require.NoError(t, err)

	for _, c := range state.Connections {
		assert.NotEqual(t, uuid.Nil, c.UUID, c.ID)
		assert.True(t, c.Config.Valid(), c.ID)
	}
	for _, d := range state.Devices {
		assert.NotEmpty(t, d.Name)
	}
}

// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireBlocksUntilCapacity(t *testing.T) {
	q := New(1)
	ctx := context.Background()

	slot1, err := q.Acquire(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, q.InUse())

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = q.Acquire(shortCtx, "s2")
	assert.Error(t, err)

	slot1.Release()
	assert.Equal(t, 0, q.InUse())

	slot2, err := q.Acquire(ctx, "s2")
	require.NoError(t, err)
	defer slot2.Release()
	assert.Equal(t, 1, q.InUse())
}

func TestReleaseIsIdempotent(t *testing.T) {
	q := New(2)
	slot, err := q.Acquire(context.Background(), "s1")
	require.NoError(t, err)

	slot.Release()
	slot.Release()
	assert.Equal(t, 0, q.InUse())
}

func TestIsHeldReflectsActiveSlots(t *testing.T) {
	q := New(2)
	assert.False(t, q.IsHeld("s1"))

	slot, err := q.Acquire(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, q.IsHeld("s1"))

	slot.Release()
	assert.False(t, q.IsHeld("s1"))
}

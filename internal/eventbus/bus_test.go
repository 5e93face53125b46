// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agendo/workerd/internal/model"
)

func TestPublishEventDeliversToSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	events, unsub, err := b.SubscribeEvents(context.Background(), "s1")
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, b.PublishEvent(context.Background(), model.AgendoEvent{
		ID: 1, SessionID: "s1", Type: model.EventAgentText, Text: "hi",
	}))

	select {
	case ev := <-events:
		assert.Equal(t, int64(1), ev.ID)
		assert.Equal(t, "hi", ev.Text)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestPublishControlDeliversToSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	ctrls, unsub, err := b.SubscribeControl(context.Background(), "s1")
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, b.PublishControl(context.Background(), "s1", model.AgendoControl{Type: model.ControlCancel}))

	select {
	case c := <-ctrls:
		assert.Equal(t, model.ControlCancel, c.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published control")
	}
}

func TestReplaySinceReturnsOnlyNewerEventsInOrder(t *testing.T) {
	b := New()
	defer b.Close()

	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, b.PublishEvent(context.Background(), model.AgendoEvent{ID: id, SessionID: "s1"}))
	}

	tail := b.ReplaySince("s1", 1)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(2), tail[0].ID)
	assert.Equal(t, int64(3), tail[1].ID)
}

func TestReplaySinceIsolatesBySession(t *testing.T) {
	b := New()
	defer b.Close()

	require.NoError(t, b.PublishEvent(context.Background(), model.AgendoEvent{ID: 1, SessionID: "s1"}))
	require.NoError(t, b.PublishEvent(context.Background(), model.AgendoEvent{ID: 1, SessionID: "s2"}))

	assert.Len(t, b.ReplaySince("s1", 0), 1)
	assert.Len(t, b.ReplaySince("s2", 0), 1)
}

func TestCloseRejectsFurtherPublish(t *testing.T) {
	b := New()
	require.NoError(t, b.Close())

	err := b.PublishEvent(context.Background(), model.AgendoEvent{ID: 1, SessionID: "s1"})
	assert.ErrorIs(t, err, ErrBusClosed)

	_, _, err = b.SubscribeEvents(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New()
	require.NoError(t, b.Close())
	assert.NoError(t, b.Close())
}

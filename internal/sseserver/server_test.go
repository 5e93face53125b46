// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package sseserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agendo/workerd/internal/eventbus"
	"github.com/agendo/workerd/internal/model"
	"github.com/agendo/workerd/internal/store"
)

func newTestServer(t *testing.T) (*Server, *eventbus.Bus, store.SessionStore) {
	t.Helper()
	bus := eventbus.New()
	t.Cleanup(func() { bus.Close() })

	sessions, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, sessions.Create(context.Background(), &model.Session{ID: "s1", Status: model.StatusActive}))

	return New(bus, sessions, zerolog.Nop()), bus, sessions
}

func TestPostControlPublishesToBus(t *testing.T) {
	srv, bus, _ := newTestServer(t)
	r := mux.NewRouter()
	srv.Routes(r)

	ch, unsub, err := bus.SubscribeControl(context.Background(), "s1")
	require.NoError(t, err)
	defer unsub()

	req := httptest.NewRequest(http.MethodPost, "/sessions/s1/control", strings.NewReader(`{"type":"interrupt"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	select {
	case ctrl := <-ch:
		assert.Equal(t, model.ControlInterrupt, ctrl.Type)
	case <-time.After(time.Second):
		t.Fatal("expected control to be published")
	}
}

func TestPostControlRejectsBadJSON(t *testing.T) {
	srv, _, _ := newTestServer(t)
	r := mux.NewRouter()
	srv.Routes(r)

	req := httptest.NewRequest(http.MethodPost, "/sessions/s1/control", strings.NewReader(`not json`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamEventsReplaysBusTail(t *testing.T) {
	srv, bus, _ := newTestServer(t)
	r := mux.NewRouter()
	srv.Routes(r)

	require.NoError(t, bus.PublishEvent(context.Background(), model.AgendoEvent{ID: 1, SessionID: "s1", Type: model.EventAgentText, Text: "hi"}))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/sessions/s1/events/stream?since=0", nil).WithContext(ctx)
	w := newFlushRecorder()
	r.ServeHTTP(w, req)

	body := w.Body.String()
	assert.Contains(t, body, "event: agent:text")
	assert.Contains(t, body, `"text":"hi"`)
}

// flushRecorder is an httptest.ResponseRecorder that also implements
// http.Flusher, since streamEvents requires one.
type flushRecorder struct {
	*httptest.ResponseRecorder
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{ResponseRecorder: httptest.NewRecorder()}
}

func (f *flushRecorder) Flush() {}

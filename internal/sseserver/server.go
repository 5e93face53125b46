// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sseserver is the thin HTTP boundary spec.md describes only by
// the interfaces the core consumes: a subscribe-and-replay stream for a
// session's event log, and a control POST that feeds
// internal/control.Dispatch via the event bus. Routing, auth, and the
// dashboard UI itself stay out of scope (SPEC_FULL.md §D).
package sseserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/agendo/workerd/internal/eventbus"
	"github.com/agendo/workerd/internal/model"
	"github.com/agendo/workerd/internal/sessionlog"
	"github.com/agendo/workerd/internal/store"
)

// HeartbeatInterval matches go-opencode's SSE heartbeat cadence, used
// here to keep intermediate proxies from closing an idle stream.
const HeartbeatInterval = 30 * time.Second

// Server wires the two boundary routes onto a gorilla/mux router.
type Server struct {
	bus   *eventbus.Bus
	store store.SessionStore
	log   zerolog.Logger
}

// New constructs a Server. Call Routes to attach it to a mux.Router.
func New(bus *eventbus.Bus, sessions store.SessionStore, log zerolog.Logger) *Server {
	return &Server{bus: bus, store: sessions, log: log}
}

// Routes registers the stream and control endpoints on r.
func (s *Server) Routes(r *mux.Router) {
	r.HandleFunc("/sessions/{id}/events/stream", s.streamEvents).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/control", s.postControl).Methods(http.MethodPost)
}

// streamEvents serves text/event-stream: replay everything since the
// caller's last-seen event id (bus tail first, session log file for
// anything older than the bus retains), then live events as they're
// published.
//
// Grounded on go-opencode's internal/server/sse.go (ResponseController
// flush-with-fallback, heartbeat ticker) and the teacher's
// api/handlers/events.go subscribe/unsubscribe shape.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	rc := http.NewResponseController(w)

	since := int64(0)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flush(rc, flusher)

	ctx := r.Context()
	live, unsub, err := s.bus.SubscribeEvents(ctx, sessionID)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("sse subscribe failed")
		return
	}
	defer unsub()

	for _, ev := range s.replayFrom(ctx, sessionID, since) {
		if err := writeSSE(w, ev); err != nil {
			return
		}
		flush(rc, flusher)
	}

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flush(rc, flusher)
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flush(rc, flusher)
		}
	}
}

// replayFrom returns events after lastEventID. The bus holds a bounded
// in-memory tail (eventbus.Bus.ReplaySince); when that tail doesn't reach
// back far enough to cover lastEventID contiguously, this falls back to
// the append-only session log file on disk, the durable record of truth.
func (s *Server) replayFrom(ctx context.Context, sessionID string, lastEventID int64) []model.AgendoEvent {
	fromBus := s.bus.ReplaySince(sessionID, lastEventID)
	if len(fromBus) > 0 && fromBus[0].ID == lastEventID+1 {
		return fromBus
	}

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil || sess == nil || sess.LogFilePath == "" {
		return fromBus
	}
	fromLog, err := sessionlog.ReplaySince(sess.LogFilePath, lastEventID)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("session log replay failed")
		return fromBus
	}
	return fromLog
}

func writeSSE(w http.ResponseWriter, ev model.AgendoEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

func flush(rc *http.ResponseController, fallback http.Flusher) {
	if err := rc.Flush(); err != nil {
		fallback.Flush()
	}
}

// postControl decodes one AgendoControl message and publishes it to the
// session's control topic; the owning supervisor's controlLoop is the
// sole consumer (internal/control.Dispatch runs there, not here).
func (s *Server) postControl(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var ctrl model.AgendoControl
	if err := json.NewDecoder(r.Body).Decode(&ctrl); err != nil {
		http.Error(w, "invalid control payload", http.StatusBadRequest)
		return
	}

	if err := s.bus.PublishControl(r.Context(), sessionID, ctrl); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

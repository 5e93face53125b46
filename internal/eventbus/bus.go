// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package eventbus is the per-session publish/subscribe transport: one
// channel carries outbound AgendoEvents, a second carries inbound
// AgendoControls, matching the "two notification channels" design in the
// worker's system overview. It is built on watermill's in-process
// gochannel pub/sub so a future durable backend (e.g. Postgres
// LISTEN/NOTIFY) is a transport swap behind the same Bus interface.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/agendo/workerd/internal/model"
)

// ErrBusClosed is returned when operating on a closed bus.
var ErrBusClosed = errors.New("eventbus: closed")

// defaultReplayDepth bounds the in-memory replay tail kept per session;
// beyond this the session log file (the durable record) is authoritative.
const defaultReplayDepth = 2000

// Bus fans out canonical events and control messages per session.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu     sync.RWMutex
	closed bool
	tails  map[string][]model.AgendoEvent // sessionID -> bounded replay buffer
}

// New constructs a Bus backed by an in-process gochannel pub/sub.
func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 256,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		tails: make(map[string][]model.AgendoEvent),
	}
}

func eventTopic(sessionID string) string   { return "agendo.events." + sessionID }
func controlTopic(sessionID string) string { return "agendo.control." + sessionID }

// PublishEvent publishes one canonical event. The caller (the session
// supervisor) is solely responsible for having already assigned a
// monotonic ID; the bus does not allocate sequence numbers.
func (b *Bus) PublishEvent(ctx context.Context, ev model.AgendoEvent) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	tail := append(b.tails[ev.SessionID], ev)
	if len(tail) > defaultReplayDepth {
		tail = tail[len(tail)-defaultReplayDepth:]
	}
	b.tails[ev.SessionID] = tail
	b.mu.Unlock()

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return b.pubsub.Publish(eventTopic(ev.SessionID), msg)
}

// SubscribeEvents returns a channel of events for sessionID and an
// unsubscribe function. The channel closes when unsubscribe is called or
// the bus is closed.
func (b *Bus) SubscribeEvents(ctx context.Context, sessionID string) (<-chan model.AgendoEvent, func(), error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, nil, ErrBusClosed
	}
	b.mu.RUnlock()

	subCtx, cancel := context.WithCancel(ctx)
	raw, err := b.pubsub.Subscribe(subCtx, eventTopic(sessionID))
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("subscribe events: %w", err)
	}

	out := make(chan model.AgendoEvent, 64)
	go func() {
		defer close(out)
		for msg := range raw {
			var ev model.AgendoEvent
			if err := json.Unmarshal(msg.Payload, &ev); err == nil {
				select {
				case out <- ev:
				case <-subCtx.Done():
					msg.Ack()
					return
				}
			}
			msg.Ack()
		}
	}()

	return out, cancel, nil
}

// PublishControl publishes one inbound control message for sessionID.
func (b *Bus) PublishControl(ctx context.Context, sessionID string, c model.AgendoControl) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	b.mu.RUnlock()

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal control: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return b.pubsub.Publish(controlTopic(sessionID), msg)
}

// SubscribeControl returns a channel of control messages for sessionID.
// Deliveries on this channel are causally ordered for a single
// subscription; the supervisor processes one control message at a time.
func (b *Bus) SubscribeControl(ctx context.Context, sessionID string) (<-chan model.AgendoControl, func(), error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, nil, ErrBusClosed
	}
	b.mu.RUnlock()

	subCtx, cancel := context.WithCancel(ctx)
	raw, err := b.pubsub.Subscribe(subCtx, controlTopic(sessionID))
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("subscribe control: %w", err)
	}

	out := make(chan model.AgendoControl, 16)
	go func() {
		defer close(out)
		for msg := range raw {
			var c model.AgendoControl
			if err := json.Unmarshal(msg.Payload, &c); err == nil {
				select {
				case out <- c:
				case <-subCtx.Done():
					msg.Ack()
					return
				}
			}
			msg.Ack()
		}
	}()

	return out, cancel, nil
}

// ReplaySince returns buffered events for sessionID with ID > lastEventID,
// from the bus's in-memory tail. Callers needing history older than the
// tail depth must fall back to the session log file, which is the
// durable record of truth.
func (b *Bus) ReplaySince(sessionID string, lastEventID int64) []model.AgendoEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tail := b.tails[sessionID]
	out := make([]model.AgendoEvent, 0, len(tail))
	for _, ev := range tail {
		if ev.ID > lastEventID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close shuts the bus down; further Publish/Subscribe calls fail.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.tails = nil
	b.mu.Unlock()
	return b.pubsub.Close()
}

// Package sse implements the in-process, non-durable event fan-out used to
// push live updates to connected clients over server-sent events (spec
// §2.7, §4.7). It is deliberately separate from pkg/eventbus: eventbus gives
// other services durable, at-least-once delivery of domain events through
// NATS JetStream, while this bus only needs to reach whichever browser tabs
// happen to be connected right now. A subscriber that isn't listening when
// an event fires has simply missed it — there is nothing to replay.
package sse

import (
	"sync"

	"github.com/google/uuid"
)

// Topics used across booking, matching and payments.
const (
	TopicBookingRequested = "booking:requested"
	TopicBookingAccepted  = "booking:accepted"
	TopicBookingRejected  = "booking:rejected"
	TopicTripCreated      = "trip:created"
	TopicTripCancelled    = "trip:cancelled"
	TopicPaymentSucceeded = "payment:succeeded"
	TopicPaymentFailed    = "payment:failed"
	TopicMatchFound       = "match:found"
)

// queueSize bounds each subscriber's backlog; once full, the oldest queued
// event is dropped to make room rather than blocking the publisher.
const queueSize = 32

// Message is a single event delivered to a subscriber.
type Message struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

type subscriber struct {
	id uuid.UUID
	ch chan Message
}

// Bus fans events out to per-user subscriber channels. The zero value is not
// usable; construct with New.
type Bus struct {
	mu   sync.Mutex
	subs map[uuid.UUID][]*subscriber
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[uuid.UUID][]*subscriber)}
}

// Subscribe registers a new listener for userID and returns its channel plus
// an unsubscribe function the caller must invoke when the connection closes.
func (b *Bus) Subscribe(userID uuid.UUID) (<-chan Message, func()) {
	sub := &subscriber{id: uuid.New(), ch: make(chan Message, queueSize)}

	b.mu.Lock()
	b.subs[userID] = append(b.subs[userID], sub)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[userID]
		for i, s := range list {
			if s.id == sub.id {
				b.subs[userID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(b.subs[userID]) == 0 {
			delete(b.subs, userID)
		}
		close(sub.ch)
	}

	return sub.ch, unsubscribe
}

// Emit delivers payload under topic to every subscriber of each of
// targetUserIDs. The subscriber list is snapshotted under the lock and
// delivery happens outside it, so a slow or closed subscriber can never
// block Emit or a concurrent Subscribe/unsubscribe.
func (b *Bus) Emit(topic string, payload interface{}, targetUserIDs ...uuid.UUID) {
	msg := Message{Topic: topic, Payload: payload}

	b.mu.Lock()
	var targets []*subscriber
	for _, uid := range targetUserIDs {
		targets = append(targets, b.subs[uid]...)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- msg:
		default:
			// Backlog full: drop the oldest queued message and retry once.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- msg:
			default:
			}
		}
	}
}

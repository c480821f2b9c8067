package sse

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesEmit(t *testing.T) {
	bus := New()
	user := uuid.New()

	ch, unsubscribe := bus.Subscribe(user)
	defer unsubscribe()

	bus.Emit(TopicBookingAccepted, map[string]string{"tripId": "trip-1"}, user)

	select {
	case msg := <-ch:
		assert.Equal(t, TopicBookingAccepted, msg.Topic)
	case <-time.After(time.Second):
		t.Fatal("expected message, got none")
	}
}

func TestEmitIgnoresUnrelatedUsers(t *testing.T) {
	bus := New()
	user, other := uuid.New(), uuid.New()

	ch, unsubscribe := bus.Subscribe(user)
	defer unsubscribe()

	bus.Emit(TopicTripCancelled, "payload", other)

	select {
	case <-ch:
		t.Fatal("should not have received a message for another user")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	user := uuid.New()

	ch, unsubscribe := bus.Subscribe(user)
	unsubscribe()

	bus.Emit(TopicTripCreated, "payload", user)

	_, open := <-ch
	assert.False(t, open)
}

func TestEmitDropsOldestWhenQueueFull(t *testing.T) {
	bus := New()
	user := uuid.New()

	ch, unsubscribe := bus.Subscribe(user)
	defer unsubscribe()

	for i := 0; i < queueSize+5; i++ {
		bus.Emit(TopicBookingRequested, i, user)
	}

	require.Len(t, ch, queueSize)
	first := <-ch
	assert.NotEqual(t, 0, first.Payload)
}

func TestMultipleSubscribersForSameUser(t *testing.T) {
	bus := New()
	user := uuid.New()

	ch1, unsub1 := bus.Subscribe(user)
	defer unsub1()
	ch2, unsub2 := bus.Subscribe(user)
	defer unsub2()

	bus.Emit(TopicPaymentSucceeded, "ok", user)

	<-ch1
	<-ch2
}

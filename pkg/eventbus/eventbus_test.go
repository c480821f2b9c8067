package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent_Success(t *testing.T) {
	data := map[string]string{"trip_id": "abc"}

	event, err := NewEvent("booking.requested", "booking-service", data)
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, "booking.requested", event.Type)
	assert.Equal(t, "booking-service", event.Source)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())

	_, err = uuid.Parse(event.ID)
	assert.NoError(t, err)

	var decoded map[string]string
	err = json.Unmarshal(event.Data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "abc", decoded["trip_id"])
}

func TestNewEvent_NilData(t *testing.T) {
	event, err := NewEvent("test.event", "test-source", nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage("null"), event.Data)
}

func TestNewEvent_ComplexData(t *testing.T) {
	data := BookingRequestedData{
		ParticipantID: uuid.New(),
		TripID:        uuid.New(),
		RiderID:       uuid.New(),
		DriverID:      uuid.New(),
		SeatsHeld:     2,
		RequestedAt:   time.Now(),
	}

	event, err := NewEvent(SubjectBookingRequested, "booking-service", data)
	require.NoError(t, err)

	var decoded BookingRequestedData
	err = json.Unmarshal(event.Data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, data.ParticipantID, decoded.ParticipantID)
	assert.Equal(t, data.TripID, decoded.TripID)
	assert.Equal(t, data.SeatsHeld, decoded.SeatsHeld)
}

func TestNewEvent_UnmarshalableData(t *testing.T) {
	event, err := NewEvent("test", "src", make(chan int))
	assert.Error(t, err)
	assert.Nil(t, event)
}

func TestNewEvent_UniqueIDs(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		event, err := NewEvent("test", "src", nil)
		require.NoError(t, err)
		assert.False(t, ids[event.ID], "duplicate event ID generated")
		ids[event.ID] = true
	}
}

func TestNewEvent_TimestampIsUTC(t *testing.T) {
	event, err := NewEvent("test", "src", nil)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, event.Timestamp.Location())
}

func TestEvent_JSONRoundTrip(t *testing.T) {
	original, err := NewEvent("trip.cancelled", "booking-service", map[string]int{"seats": 2})
	require.NoError(t, err)

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var restored Event
	err = json.Unmarshal(data, &restored)
	require.NoError(t, err)

	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.Type, restored.Type)
	assert.Equal(t, original.Source, restored.Source)
	assert.JSONEq(t, string(original.Data), string(restored.Data))
}

func TestSubjectConstants(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		expected string
	}{
		{"BookingRequested", SubjectBookingRequested, "booking.requested"},
		{"BookingAccepted", SubjectBookingAccepted, "booking.accepted"},
		{"BookingRejected", SubjectBookingRejected, "booking.rejected"},
		{"TripCreated", SubjectTripCreated, "trip.created"},
		{"TripCancelled", SubjectTripCancelled, "trip.cancelled"},
		{"PaymentSucceeded", SubjectPaymentSucceeded, "payment.succeeded"},
		{"PaymentFailed", SubjectPaymentFailed, "payment.failed"},
		{"DriverLocationUpdated", SubjectDriverLocationUpdated, "driver.location.updated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.subject)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotEmpty(t, cfg.URL)
	assert.Equal(t, "carpoolhq", cfg.Name)
	assert.Equal(t, "CARPOOLHQ", cfg.StreamName)
}

func TestConfig_Fields(t *testing.T) {
	cfg := Config{
		URL:        "nats://custom:4222",
		Name:       "my-service",
		StreamName: "MYSTREAM",
	}

	assert.Equal(t, "nats://custom:4222", cfg.URL)
	assert.Equal(t, "my-service", cfg.Name)
	assert.Equal(t, "MYSTREAM", cfg.StreamName)
}

func TestHandlerFunc_Invocation(t *testing.T) {
	var called bool
	var receivedEvent *Event

	handler := HandlerFunc(func(ctx context.Context, event *Event) error {
		called = true
		receivedEvent = event
		return nil
	})

	event, _ := NewEvent("test.event", "test", map[string]string{"key": "value"})
	err := handler(context.Background(), event)

	assert.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, event.ID, receivedEvent.ID)
}

func TestHandlerFunc_ReturnsError(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, event *Event) error {
		return assert.AnError
	})

	event, _ := NewEvent("test", "src", nil)
	err := handler(context.Background(), event)

	assert.ErrorIs(t, err, assert.AnError)
}

func TestBookingAcceptedData_Serialization(t *testing.T) {
	data := BookingAcceptedData{
		ParticipantID: uuid.New(),
		TripID:        uuid.New(),
		RiderID:       uuid.New(),
		DriverID:      uuid.New(),
		SeatsHeld:     1,
		AcceptedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded BookingAcceptedData
	err = json.Unmarshal(b, &decoded)
	require.NoError(t, err)

	assert.Equal(t, data.ParticipantID, decoded.ParticipantID)
	assert.Equal(t, data.SeatsHeld, decoded.SeatsHeld)
}

func TestBookingRejectedData_Serialization(t *testing.T) {
	data := BookingRejectedData{
		ParticipantID: uuid.New(),
		TripID:        uuid.New(),
		RiderID:       uuid.New(),
		DriverID:      uuid.New(),
		Reason:        "no longer available",
		RejectedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded BookingRejectedData
	err = json.Unmarshal(b, &decoded)
	require.NoError(t, err)

	assert.Equal(t, data.Reason, decoded.Reason)
}

func TestTripCancelledData_Serialization(t *testing.T) {
	data := TripCancelledData{
		TripID:           uuid.New(),
		DriverID:         uuid.New(),
		AffectedRiderIDs: []uuid.UUID{uuid.New(), uuid.New()},
		Reason:           "vehicle breakdown",
		CancelledAt:      time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded TripCancelledData
	err = json.Unmarshal(b, &decoded)
	require.NoError(t, err)

	assert.Len(t, decoded.AffectedRiderIDs, 2)
	assert.Equal(t, data.Reason, decoded.Reason)
}

func TestPaymentSucceededData_Serialization(t *testing.T) {
	data := PaymentSucceededData{
		ParticipantID:   uuid.New(),
		TripID:          uuid.New(),
		RiderID:         uuid.New(),
		PaymentIntentID: "pi_123",
		AmountMinor:     4000,
		Currency:        "zar",
		CompletedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded PaymentSucceededData
	err = json.Unmarshal(b, &decoded)
	require.NoError(t, err)

	assert.Equal(t, data.PaymentIntentID, decoded.PaymentIntentID)
	assert.Equal(t, data.AmountMinor, decoded.AmountMinor)
}

func TestPaymentFailedData_Serialization(t *testing.T) {
	data := PaymentFailedData{
		ParticipantID:   uuid.New(),
		TripID:          uuid.New(),
		RiderID:         uuid.New(),
		PaymentIntentID: "pi_456",
		FailedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded PaymentFailedData
	err = json.Unmarshal(b, &decoded)
	require.NoError(t, err)

	assert.Equal(t, data.PaymentIntentID, decoded.PaymentIntentID)
}

func TestDriverLocationUpdatedData_Serialization(t *testing.T) {
	data := DriverLocationUpdatedData{
		DriverID:  uuid.New(),
		Latitude:  37.7749,
		Longitude: -122.4194,
		H3Cell:    "8928308280fffff",
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded DriverLocationUpdatedData
	err = json.Unmarshal(b, &decoded)
	require.NoError(t, err)

	assert.Equal(t, data.H3Cell, decoded.H3Cell)
}

func TestNewEvent_WithTripCreatedData(t *testing.T) {
	data := TripCreatedData{
		TripID:        uuid.New(),
		DriverID:      uuid.New(),
		TotalSeats:    4,
		DepartureTime: time.Now().UTC(),
		CreatedAt:     time.Now().UTC(),
	}

	event, err := NewEvent(SubjectTripCreated, "booking-service", data)
	require.NoError(t, err)
	assert.Equal(t, SubjectTripCreated, event.Type)

	var decoded TripCreatedData
	err = json.Unmarshal(event.Data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, data.TripID, decoded.TripID)
}

func TestBus_Connected_NilConn(t *testing.T) {
	bus := &Bus{}
	assert.False(t, bus.Connected())
}

func TestBus_Close_NoSubs(t *testing.T) {
	bus := &Bus{}
	bus.Close()
}

func TestEvent_ZeroValue(t *testing.T) {
	var event Event
	assert.Empty(t, event.ID)
	assert.Empty(t, event.Type)
	assert.Empty(t, event.Source)
	assert.True(t, event.Timestamp.IsZero())
	assert.Nil(t, event.Data)
}

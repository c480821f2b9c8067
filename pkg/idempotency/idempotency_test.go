package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carpoolhq/backend/pkg/cache"
)

func newLedgerWithMock(t *testing.T) (*Ledger, redismock.ClientMock) {
	t.Helper()
	redisDB, mock := redismock.NewClientMock()
	c := cache.NewCache(redisDB)
	return New(c, nil), mock
}

func TestCheckRequestMissReturnsFalse(t *testing.T) {
	ledger, mock := newLedgerWithMock(t)
	mock.ExpectGet(requestKey("booking", "user-1", "abc")).RedisNil()

	_, ok := ledger.CheckRequest(context.Background(), "booking", "user-1", "abc")
	assert.False(t, ok)
}

func TestRecordThenCheckRequestReplays(t *testing.T) {
	redisDB, mock := redismock.NewClientMock()
	c := cache.NewCache(redisDB)
	ledger := New(c, nil)

	key := requestKey("booking", "user-1", "abc")
	mock.Regexp().ExpectSet(key, `.*`, RequestTTL).SetVal("OK")
	ledger.RecordRequest(context.Background(), "booking", "user-1", "abc", 201, json.RawMessage(`{"id":"trip-1"}`))

	stored := Record{Key: "abc", StatusCode: 201, Response: json.RawMessage(`{"id":"trip-1"}`), RecordedAt: time.Now()}
	data, err := json.Marshal(stored)
	require.NoError(t, err)
	mock.ExpectGet(key).SetVal(string(data))

	rec, ok := ledger.CheckRequest(context.Background(), "booking", "user-1", "abc")
	require.True(t, ok)
	assert.Equal(t, 201, rec.StatusCode)
}

func TestWebhookSeenRoundTrip(t *testing.T) {
	ledger, mock := newLedgerWithMock(t)

	key := webhookKey("stripe", "evt_123")
	mock.ExpectGet(key).RedisNil()
	assert.False(t, ledger.CheckWebhook(context.Background(), "stripe", "evt_123"))

	mock.Regexp().ExpectSet(key, `.*`, WebhookTTL).SetVal("OK")
	ledger.MarkWebhookSeen(context.Background(), "stripe", "evt_123")
}

func TestLedgerWithNilStoresNeverPanics(t *testing.T) {
	ledger := New(nil, nil)
	_, ok := ledger.CheckRequest(context.Background(), "booking", "user-1", "abc")
	assert.False(t, ok)

	assert.NotPanics(t, func() {
		ledger.RecordRequest(context.Background(), "booking", "user-1", "abc", 200, nil)
	})
}

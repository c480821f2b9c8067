// Package idempotency implements the dual-store idempotency ledger used by
// both client-submitted request keys and provider webhook events (spec
// §2.8, §4.8). Every record is written through a fast KV store first and a
// durable Postgres table second; either store being unavailable degrades
// the check rather than failing the request outright, logged at warn.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carpoolhq/backend/pkg/cache"
	"github.com/carpoolhq/backend/pkg/logger"
)

// RequestTTL is the lifetime of a client idempotency key record (spec §2.8).
const RequestTTL = 10 * time.Minute

// WebhookTTL is the lifetime of a webhook replay-guard record (spec §2.8).
const WebhookTTL = 7 * 24 * time.Hour

// Record is a previously observed idempotent operation, returned on replay
// so the caller can resend the exact original response instead of
// re-executing the side effect.
type Record struct {
	Key        string          `json:"key"`
	StatusCode int             `json:"statusCode"`
	Response   json.RawMessage `json:"response"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// Ledger is the idempotency store. It is safe for concurrent use.
type Ledger struct {
	cache *cache.Cache
	db    *pgxpool.Pool
}

// New builds a Ledger backed by cache (may be nil) and db (may be nil); at
// least one should be non-nil or every check silently no-ops as "not seen".
func New(c *cache.Cache, db *pgxpool.Pool) *Ledger {
	return &Ledger{cache: c, db: db}
}

func requestKey(scope, userID, key string) string {
	return fmt.Sprintf("idempotency:%s:%s:%s", scope, userID, key)
}

func webhookKey(provider, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", provider, eventID)
}

// CheckRequest looks up a previously recorded response for a client
// idempotency key scoped to (scope, userID). ok is true on a replay hit.
func (l *Ledger) CheckRequest(ctx context.Context, scope, userID, key string) (rec *Record, ok bool) {
	return l.lookup(ctx, requestKey(scope, userID, key))
}

// RecordRequest persists the response produced for a client idempotency key
// so a subsequent identical request replays it instead of re-running the
// operation (spec §4.8).
func (l *Ledger) RecordRequest(ctx context.Context, scope, userID, key string, statusCode int, response json.RawMessage) {
	l.store(ctx, requestKey(scope, userID, key), &Record{
		Key:        key,
		StatusCode: statusCode,
		Response:   response,
		RecordedAt: time.Now(),
	}, RequestTTL)
}

// CheckWebhook reports whether a provider event id has already been
// processed. Unlike client requests, webhook replays carry no cached
// response: the caller just needs to know to skip re-applying side effects.
func (l *Ledger) CheckWebhook(ctx context.Context, provider, eventID string) bool {
	_, ok := l.lookup(ctx, webhookKey(provider, eventID))
	return ok
}

// MarkWebhookSeen records that a webhook event has been fully processed.
// Callers must call this only after every side effect has committed (spec
// §4.8's crash-safety requirement): marking it seen before the effects run
// risks losing the effect if the process dies mid-handler, since a retry
// would then be silently swallowed as a replay.
func (l *Ledger) MarkWebhookSeen(ctx context.Context, provider, eventID string) {
	l.store(ctx, webhookKey(provider, eventID), &Record{
		Key:        eventID,
		RecordedAt: time.Now(),
	}, WebhookTTL)
}

func (l *Ledger) lookup(ctx context.Context, key string) (*Record, bool) {
	if l.cache != nil {
		var rec Record
		if err := l.cache.Get(ctx, key, &rec); err == nil {
			return &rec, true
		}
	}

	if l.db != nil {
		rec, err := l.lookupDB(ctx, key)
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				logger.Get().Sugar().Warnf("idempotency: db lookup failed for %s: %v", key, err)
			}
			return nil, false
		}
		return rec, true
	}

	return nil, false
}

func (l *Ledger) store(ctx context.Context, key string, rec *Record, ttl time.Duration) {
	if l.cache != nil {
		if err := l.cache.Set(ctx, key, rec, ttl); err != nil {
			logger.Get().Sugar().Warnf("idempotency: cache write failed for %s: %v", key, err)
		}
	}

	if l.db != nil {
		if err := l.storeDB(ctx, key, rec, ttl); err != nil {
			logger.Get().Sugar().Warnf("idempotency: db write failed for %s: %v", key, err)
		}
	}
}

func (l *Ledger) lookupDB(ctx context.Context, key string) (*Record, error) {
	var rec Record
	var response []byte
	var expiresAt time.Time

	err := l.db.QueryRow(ctx, `
		SELECT status_code, response, recorded_at, expires_at
		FROM idempotency_records
		WHERE key = $1
	`, key).Scan(&rec.StatusCode, &response, &rec.RecordedAt, &expiresAt)
	if err != nil {
		return nil, err
	}

	if time.Now().After(expiresAt) {
		return nil, pgx.ErrNoRows
	}

	rec.Key = key
	rec.Response = response
	return &rec, nil
}

func (l *Ledger) storeDB(ctx context.Context, key string, rec *Record, ttl time.Duration) error {
	_, err := l.db.Exec(ctx, `
		INSERT INTO idempotency_records (key, status_code, response, recorded_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO NOTHING
	`, key, rec.StatusCode, []byte(rec.Response), rec.RecordedAt, time.Now().Add(ttl))
	return err
}

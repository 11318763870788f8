package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper suppresses reprocessing of re-sent command mails. Clients in
// disconnected environments retransmit the same request id, so a short
// SETNX lock keyed by kind + request id drops the copies.
type Deduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduper(rdb *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{rdb: rdb, ttl: ttl}
}

// AcquireOnce returns true the first time a (kind, requestID) pair is
// seen within the TTL, false for duplicates. Fails open: when Redis is
// unavailable the request is processed normally.
func (d *Deduper) AcquireOnce(ctx context.Context, kind, requestID string) bool {
	ok, err := d.rdb.SetNX(ctx, d.key(kind, requestID), 1, d.ttl).Result()
	if err != nil {
		return true
	}
	return ok
}

// Release drops a key taken for a message that stayed in the mailbox, so
// its retry is not suppressed as a duplicate. Best effort: if the delete
// fails the key still expires with the TTL.
func (d *Deduper) Release(ctx context.Context, kind, requestID string) {
	d.rdb.Del(ctx, d.key(kind, requestID))
}

func (d *Deduper) key(kind, requestID string) string {
	return fmt.Sprintf("dedup:request:%s:%s", kind, requestID)
}

package domain

import (
	"context"
	"time"
)

// RunStore persists pipeline run reports.
type RunStore interface {
	Create(ctx context.Context, report RunReport) error
	ListRecent(ctx context.Context, limit int) ([]RunReport, error)
}

// OrderStore persists submitted orders.
type OrderStore interface {
	Create(ctx context.Context, order OrderRecord) error
	UpdateStatus(ctx context.Context, id, status string) error
	ListByRun(ctx context.Context, runID string) ([]OrderRecord, error)
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// LockManager provides distributed mutual exclusion. Acquire returns an
// unlock function on success and ErrLockHeld when another holder owns the
// lock.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter enforces a sliding-window request budget per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// NonceSource yields the nonce for the next order. Implementations decide
// whether nonces survive a process restart.
type NonceSource interface {
	Next(ctx context.Context) (string, error)
}

// MarketCache caches normalized markets between pipeline stages so the
// per-market expansion step does not refetch a market the same run already
// saw.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id int64) (Market, error)
}

// BlobWriter writes opaque payloads to object storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}

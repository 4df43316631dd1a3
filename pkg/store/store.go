// Package store persists proxy records and validation cycle history.
// Two implementations share the semantics: a Postgres store for real
// deployments and an in-process store for tests and small setups.
package store

import (
	"context"
	"errors"
	"time"

	"proxy-pool/pkg/models"
)

// ErrNotFound is returned when no record exists for an address.
var ErrNotFound = errors.New("proxy not found")

// Store is the durable repository for proxy records. Implementations
// are safe for concurrent use and keep Mark operations atomic per
// address.
type Store interface {
	// Upsert inserts or updates one record, keyed by address. Discovery
	// timestamps of an existing record are preserved.
	Upsert(ctx context.Context, record *models.ProxyRecord) error
	// UpsertBatch upserts a whole validation batch.
	UpsertBatch(ctx context.Context, records []models.ProxyRecord) error
	// Get returns the record for address, or ErrNotFound.
	Get(ctx context.Context, address string) (*models.ProxyRecord, error)
	// GetByAddresses returns the records that exist among addresses.
	GetByAddresses(ctx context.Context, addresses []string) ([]models.ProxyRecord, error)
	// GetWorking returns working records in selection order. A
	// non-positive limit returns all of them.
	GetWorking(ctx context.Context, limit int) ([]models.ProxyRecord, error)
	// GetRetestable returns records eligible for the next validation
	// cycle: every non-failed record, plus failed records whose last
	// failure is older than the cool-down.
	GetRetestable(ctx context.Context, cooldown time.Duration) ([]models.ProxyRecord, error)
	// GetStats aggregates the pool by state, tier and region.
	GetStats(ctx context.Context) (*models.PoolStats, error)
	// MarkSuccess applies a reported success and returns the updated
	// record. A non-positive responseTimeMs leaves the average alone.
	MarkSuccess(ctx context.Context, address string, responseTimeMs int64) (*models.ProxyRecord, error)
	// MarkFailed applies a reported failure and returns the updated
	// record, so callers can react to a demotion.
	MarkFailed(ctx context.Context, address string, reason string) (*models.ProxyRecord, error)
	// PurgeStale moves failed records past the cool-down back to
	// untested and returns how many changed. Records are never deleted.
	PurgeStale(ctx context.Context, olderThan time.Duration) (int, error)
	// InsertRun records one validation cycle summary.
	InsertRun(ctx context.Context, run *models.ValidationRun) error
	// RecentRuns returns the latest cycle summaries, newest first.
	RecentRuns(ctx context.Context, limit int) ([]models.ValidationRun, error)
	Close() error
}

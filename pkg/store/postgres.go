package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/viper"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"proxy-pool/pkg/models"
)

// DB is the Postgres-backed store.
type DB struct {
	*bun.DB

	policy models.Policy
	clk    clock.Clock
	locks  addressLocks
}

var _ Store = (*DB)(nil)

// NewDB connects to Postgres using the database.* viper keys and
// verifies the connection.
func NewDB(policy models.Policy, clk clock.Clock) (*DB, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		viper.GetString("database.user"),
		viper.GetString("database.password"),
		viper.GetString("database.host"),
		viper.GetInt("database.port"),
		viper.GetString("database.dbname"),
		viper.GetString("database.sslmode"),
	)

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))

	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %v", err)
	}

	return &DB{
		DB:     db,
		policy: policy,
		clk:    clk,
		locks:  addressLocks{locks: make(map[string]*sync.Mutex)},
	}, nil
}

// InitSchema creates the tables and indexes if they don't exist
func (db *DB) InitSchema(ctx context.Context) error {
	_, err := db.NewCreateTable().
		Model((*models.ProxyRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create proxies table: %v", err)
	}

	_, err = db.NewCreateTable().
		Model((*models.ValidationRun)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create validation_runs table: %v", err)
	}

	// Create indexes if they don't exist
	_, err = db.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_indexes WHERE tablename = 'proxies' AND indexname = 'proxies_state_idx') THEN
				CREATE INDEX proxies_state_idx ON proxies (state);
			END IF;
			IF NOT EXISTS (SELECT 1 FROM pg_indexes WHERE tablename = 'proxies' AND indexname = 'proxies_tier_idx') THEN
				CREATE INDEX proxies_tier_idx ON proxies (tier);
			END IF;
			IF NOT EXISTS (SELECT 1 FROM pg_indexes WHERE tablename = 'proxies' AND indexname = 'proxies_last_failure_at_idx') THEN
				CREATE INDEX proxies_last_failure_at_idx ON proxies (last_failure_at);
			END IF;
		END $$;
	`)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %v", err)
	}

	return nil
}

func (db *DB) Upsert(ctx context.Context, record *models.ProxyRecord) error {
	_, err := upsertQuery(db.NewInsert().Model(record)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("error upserting proxy: %v", err)
	}
	return nil
}

func (db *DB) UpsertBatch(ctx context.Context, records []models.ProxyRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := upsertQuery(db.NewInsert().Model(&records)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("error upserting proxies: %v", err)
	}
	return nil
}

// upsertQuery updates every mutable column on conflict; discovered_at
// and created_at keep their original values so first discovery wins.
func upsertQuery(q *bun.InsertQuery) *bun.InsertQuery {
	return q.
		On("CONFLICT (address) DO UPDATE").
		Set("tier = EXCLUDED.tier").
		Set("state = EXCLUDED.state").
		Set("success_rate = EXCLUDED.success_rate").
		Set("avg_response_time_ms = EXCLUDED.avg_response_time_ms").
		Set("consecutive_failures = EXCLUDED.consecutive_failures").
		Set("outcomes = EXCLUDED.outcomes").
		Set("last_success_at = EXCLUDED.last_success_at").
		Set("last_failure_at = EXCLUDED.last_failure_at").
		Set("last_failure_reason = EXCLUDED.last_failure_reason").
		Set("geographic_region = EXCLUDED.geographic_region").
		Set("updated_at = CURRENT_TIMESTAMP")
}

func (db *DB) Get(ctx context.Context, address string) (*models.ProxyRecord, error) {
	var record models.ProxyRecord
	err := db.NewSelect().
		Model(&record).
		Where("address = ?", address).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error querying proxy: %v", err)
	}
	return &record, nil
}

func (db *DB) GetByAddresses(ctx context.Context, addresses []string) ([]models.ProxyRecord, error) {
	if len(addresses) == 0 {
		return nil, nil
	}
	var records []models.ProxyRecord
	err := db.NewSelect().
		Model(&records).
		Where("address IN (?)", bun.In(addresses)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("error querying proxies: %v", err)
	}
	return records, nil
}

func (db *DB) GetWorking(ctx context.Context, limit int) ([]models.ProxyRecord, error) {
	var records []models.ProxyRecord
	q := db.NewSelect().
		Model(&records).
		Where("state = ?", models.StateWorking).
		OrderExpr("success_rate DESC, avg_response_time_ms ASC, consecutive_failures ASC, address ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("error getting working proxies: %v", err)
	}
	return records, nil
}

func (db *DB) GetRetestable(ctx context.Context, cooldown time.Duration) ([]models.ProxyRecord, error) {
	cutoff := db.clk.Now().Add(-cooldown)
	var records []models.ProxyRecord
	err := db.NewSelect().
		Model(&records).
		Where("state IN (?) OR (state = ? AND last_failure_at < ?)",
			bun.In([]models.State{models.StateUntested, models.StateValidating, models.StateWorking, models.StateDegraded}),
			models.StateFailed, cutoff).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting retestable proxies: %v", err)
	}
	return records, nil
}

func (db *DB) GetStats(ctx context.Context) (*models.PoolStats, error) {
	stats := &models.PoolStats{
		ByTier:   make(map[string]int),
		ByRegion: make(map[string]int),
	}

	var stateStats []struct {
		State string `bun:"state"`
		Count int    `bun:"count"`
	}
	err := db.NewSelect().
		Model((*models.ProxyRecord)(nil)).
		Column("state").
		ColumnExpr("count(*) as count").
		Group("state").
		Scan(ctx, &stateStats)
	if err != nil {
		return nil, fmt.Errorf("error getting state stats: %v", err)
	}
	for _, s := range stateStats {
		switch models.State(s.State) {
		case models.StateWorking:
			stats.WorkingCount = s.Count
		case models.StateDegraded:
			stats.DegradedCount = s.Count
		case models.StateFailed:
			stats.FailedCount = s.Count
		case models.StateUntested, models.StateValidating:
			stats.UntestedCount += s.Count
		}
	}

	var tierStats []struct {
		Tier  string `bun:"tier"`
		Count int    `bun:"count"`
	}
	err = db.NewSelect().
		Model((*models.ProxyRecord)(nil)).
		Column("tier").
		ColumnExpr("count(*) as count").
		Group("tier").
		Scan(ctx, &tierStats)
	if err != nil {
		return nil, fmt.Errorf("error getting tier stats: %v", err)
	}
	for _, t := range tierStats {
		stats.ByTier[t.Tier] = t.Count
	}

	var regionStats []struct {
		GeographicRegion string `bun:"geographic_region"`
		Count            int    `bun:"count"`
	}
	err = db.NewSelect().
		Model((*models.ProxyRecord)(nil)).
		Column("geographic_region").
		ColumnExpr("count(*) as count").
		Where("geographic_region != ''").
		Group("geographic_region").
		Scan(ctx, &regionStats)
	if err != nil {
		return nil, fmt.Errorf("error getting region stats: %v", err)
	}
	for _, r := range regionStats {
		stats.ByRegion[r.GeographicRegion] = r.Count
	}

	var rateStats struct {
		Avg float64 `bun:"avg"`
	}
	err = db.NewSelect().
		Model((*models.ProxyRecord)(nil)).
		ColumnExpr("coalesce(avg(success_rate), 0) as avg").
		Where("state = ?", models.StateWorking).
		Scan(ctx, &rateStats)
	if err != nil {
		return nil, fmt.Errorf("error getting success rate stats: %v", err)
	}
	stats.AvgSuccessRate = rateStats.Avg

	return stats, nil
}

// addressLocks serializes mark operations per address so the
// read-apply-write sequence stays atomic without blocking unrelated
// addresses.
type addressLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (a *addressLocks) lock(address string) *sync.Mutex {
	a.mu.Lock()
	m, ok := a.locks[address]
	if !ok {
		m = &sync.Mutex{}
		a.locks[address] = m
	}
	a.mu.Unlock()
	m.Lock()
	return m
}

func (db *DB) MarkSuccess(ctx context.Context, address string, responseTimeMs int64) (*models.ProxyRecord, error) {
	m := db.locks.lock(address)
	defer m.Unlock()

	record, err := db.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	record.ApplySuccess(db.policy, db.clk.Now(), responseTimeMs)

	if err := db.updateOutcome(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (db *DB) MarkFailed(ctx context.Context, address string, reason string) (*models.ProxyRecord, error) {
	m := db.locks.lock(address)
	defer m.Unlock()

	record, err := db.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	record.ApplyFailure(db.policy, db.clk.Now(), reason)

	if err := db.updateOutcome(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (db *DB) updateOutcome(ctx context.Context, record *models.ProxyRecord) error {
	_, err := db.NewUpdate().
		Model(record).
		Column("state", "success_rate", "avg_response_time_ms", "consecutive_failures",
			"outcomes", "last_success_at", "last_failure_at", "last_failure_reason").
		Where("address = ?", record.Address).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("error updating proxy outcome: %v", err)
	}
	return nil
}

func (db *DB) PurgeStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := db.clk.Now().Add(-olderThan)
	res, err := db.NewUpdate().
		Model((*models.ProxyRecord)(nil)).
		Set("state = ?", models.StateUntested).
		Set("updated_at = CURRENT_TIMESTAMP").
		Where("state = ?", models.StateFailed).
		Where("last_failure_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("error purging stale proxies: %v", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error counting purged proxies: %v", err)
	}
	return int(affected), nil
}

func (db *DB) InsertRun(ctx context.Context, run *models.ValidationRun) error {
	_, err := db.NewInsert().
		Model(run).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("error inserting validation run: %v", err)
	}
	return nil
}

func (db *DB) RecentRuns(ctx context.Context, limit int) ([]models.ValidationRun, error) {
	var runs []models.ValidationRun
	q := db.NewSelect().
		Model(&runs).
		Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("error getting validation runs: %v", err)
	}
	return runs, nil
}

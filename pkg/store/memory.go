package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"proxy-pool/pkg/models"
)

// Memory is the in-process store. A single mutex is enough here: every
// operation is a pure map access with no I/O under the lock.
type Memory struct {
	mu      sync.Mutex
	records map[string]*models.ProxyRecord
	runs    []models.ValidationRun
	policy  models.Policy
	clk     clock.Clock
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-process store.
func NewMemory(policy models.Policy, clk clock.Clock) *Memory {
	return &Memory{
		records: make(map[string]*models.ProxyRecord),
		policy:  policy,
		clk:     clk,
	}
}

func (m *Memory) Upsert(ctx context.Context, record *models.ProxyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertLocked(*record)
	return nil
}

func (m *Memory) UpsertBatch(ctx context.Context, records []models.ProxyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range records {
		m.upsertLocked(record)
	}
	return nil
}

func (m *Memory) upsertLocked(record models.ProxyRecord) {
	now := m.clk.Now()
	if existing, ok := m.records[record.Address]; ok {
		// First discovery wins for the discovery timestamps.
		record.DiscoveredAt = existing.DiscoveredAt
		record.CreatedAt = existing.CreatedAt
	} else {
		if record.DiscoveredAt.IsZero() {
			record.DiscoveredAt = now
		}
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	m.records[record.Address] = &record
}

func (m *Memory) Get(ctx context.Context, address string) (*models.ProxyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[address]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (m *Memory) GetByAddresses(ctx context.Context, addresses []string) ([]models.ProxyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []models.ProxyRecord
	for _, address := range addresses {
		if record, ok := m.records[address]; ok {
			records = append(records, *record)
		}
	}
	return records, nil
}

func (m *Memory) GetWorking(ctx context.Context, limit int) ([]models.ProxyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var records []models.ProxyRecord
	for _, record := range m.records {
		if record.State == models.StateWorking {
			records = append(records, *record)
		}
	}
	models.RankRecords(records)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (m *Memory) GetRetestable(ctx context.Context, cooldown time.Duration) ([]models.ProxyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.clk.Now().Add(-cooldown)
	var records []models.ProxyRecord
	for _, record := range m.records {
		switch record.State {
		case models.StateFailed:
			if record.LastFailureAt.Before(cutoff) {
				records = append(records, *record)
			}
		default:
			records = append(records, *record)
		}
	}
	return records, nil
}

func (m *Memory) GetStats(ctx context.Context) (*models.PoolStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.PoolStats{
		ByTier:   make(map[string]int),
		ByRegion: make(map[string]int),
	}
	var rateSum float64
	for _, record := range m.records {
		switch record.State {
		case models.StateWorking:
			stats.WorkingCount++
			rateSum += record.SuccessRate
		case models.StateDegraded:
			stats.DegradedCount++
		case models.StateFailed:
			stats.FailedCount++
		default:
			stats.UntestedCount++
		}
		stats.ByTier[string(record.Tier)]++
		if record.GeographicRegion != "" {
			stats.ByRegion[record.GeographicRegion]++
		}
	}
	if stats.WorkingCount > 0 {
		stats.AvgSuccessRate = rateSum / float64(stats.WorkingCount)
	}
	return stats, nil
}

func (m *Memory) MarkSuccess(ctx context.Context, address string, responseTimeMs int64) (*models.ProxyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[address]
	if !ok {
		return nil, ErrNotFound
	}
	record.ApplySuccess(m.policy, m.clk.Now(), responseTimeMs)
	record.UpdatedAt = m.clk.Now()
	clone := *record
	return &clone, nil
}

func (m *Memory) MarkFailed(ctx context.Context, address string, reason string) (*models.ProxyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[address]
	if !ok {
		return nil, ErrNotFound
	}
	record.ApplyFailure(m.policy, m.clk.Now(), reason)
	record.UpdatedAt = m.clk.Now()
	clone := *record
	return &clone, nil
}

func (m *Memory) PurgeStale(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.clk.Now().Add(-olderThan)
	count := 0
	for _, record := range m.records {
		if record.State == models.StateFailed && record.LastFailureAt.Before(cutoff) {
			record.State = models.StateUntested
			record.UpdatedAt = m.clk.Now()
			count++
		}
	}
	return count, nil
}

func (m *Memory) InsertRun(ctx context.Context, run *models.ValidationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *run)
	return nil
}

func (m *Memory) RecentRuns(ctx context.Context, limit int) ([]models.ValidationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]models.ValidationRun, len(m.runs))
	copy(runs, m.runs)
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *Memory) Close() error {
	return nil
}

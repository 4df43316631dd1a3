package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Trigger records what started a validation cycle.
const (
	TriggerManual     = "manual"
	TriggerStartup    = "startup"
	TriggerScheduled  = "scheduled"
	TriggerEmergency  = "emergency"
	TriggerExhaustion = "exhaustion"
)

// ValidationRun is the summary row written after each validation cycle.
type ValidationRun struct {
	bun.BaseModel `bun:"table:validation_runs,alias:vr"`

	ID             string    `bun:",pk"`
	Trigger        string    `bun:",notnull"`
	StartedAt      time.Time `bun:",nullzero,notnull"`
	DurationMs     int64     `bun:",notnull,default:0"`
	CandidateCount int       `bun:",notnull,default:0"`
	WorkingCount   int       `bun:",notnull,default:0"`
	DegradedCount  int       `bun:",notnull,default:0"`
	FailedCount    int       `bun:",notnull,default:0"`
	CreatedAt      time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// PoolStats aggregates the stored records by state, tier and region.
type PoolStats struct {
	WorkingCount   int
	DegradedCount  int
	FailedCount    int
	UntestedCount  int
	AvgSuccessRate float64
	ByTier         map[string]int
	ByRegion       map[string]int
}

// Total returns the number of records counted across all states.
func (s PoolStats) Total() int {
	return s.WorkingCount + s.DegradedCount + s.FailedCount + s.UntestedCount
}

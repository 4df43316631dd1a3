package models

import (
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Tier identifies the acquisition source class of a proxy. Tiers are
// ordered by expected quality: premium endpoints come from a paid API,
// datacenter endpoints from a curated list, public endpoints from free
// feeds, and emergency endpoints are public proxies admitted under
// relaxed filtering when the pool is close to empty.
type Tier string

const (
	TierPremium    Tier = "premium"
	TierDatacenter Tier = "datacenter"
	TierPublic     Tier = "public"
	TierEmergency  Tier = "emergency"
)

// State is the lifecycle state of a proxy record.
type State string

const (
	StateUntested   State = "untested"
	StateValidating State = "validating"
	StateWorking    State = "working"
	StateDegraded   State = "degraded"
	StateFailed     State = "failed"
)

// Policy carries the tunable parameters that record bookkeeping depends
// on. WindowSize bounds the outcome journal used to compute the success
// rate, and FailureThreshold is the number of consecutive failures that
// demotes a working proxy to failed.
type Policy struct {
	WindowSize       int
	FailureThreshold int
}

// ProxyRecord is the durable state kept for one proxy endpoint. Address
// is the unique key and uses host:port form, optionally prefixed with
// user:pass@ credentials for authenticated endpoints.
type ProxyRecord struct {
	bun.BaseModel `bun:"table:proxies,alias:p"`

	Address             string    `bun:",pk"`
	Tier                Tier      `bun:",notnull"`
	State               State     `bun:",notnull"`
	SuccessRate         float64   `bun:",notnull,default:0"`
	AvgResponseTimeMs   int64     `bun:",notnull,default:0"`
	ConsecutiveFailures int       `bun:",notnull,default:0"`
	Outcomes            string    `bun:",notnull,default:''"`
	LastSuccessAt       time.Time `bun:",nullzero"`
	LastFailureAt       time.Time `bun:",nullzero"`
	LastFailureReason   string
	GeographicRegion    string
	DiscoveredAt        time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	CreatedAt           time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// NewRecord returns an untested record for a freshly discovered address.
func NewRecord(address string, tier Tier, now time.Time) ProxyRecord {
	return ProxyRecord{
		Address:      address,
		Tier:         tier,
		State:        StateUntested,
		DiscoveredAt: now,
	}
}

// ApplySuccess records a successful check: it appends to the outcome
// journal, recomputes the success rate over the window, resets the
// consecutive failure count and folds responseTimeMs into the response
// time average. It does not change State; the caller decides whether
// the record is working or degraded.
func (r *ProxyRecord) ApplySuccess(p Policy, now time.Time, responseTimeMs int64) {
	r.Outcomes = pushOutcome(r.Outcomes, 'S', p.WindowSize)
	r.SuccessRate = rateFromJournal(r.Outcomes)
	r.ConsecutiveFailures = 0
	r.LastSuccessAt = now
	r.ObserveResponseTime(responseTimeMs)
}

// ObserveResponseTime folds one measurement into the response time
// average. The blend is biased toward history so a single slow request
// does not swing the ranking. Non-positive measurements are ignored.
func (r *ProxyRecord) ObserveResponseTime(responseTimeMs int64) {
	if responseTimeMs <= 0 {
		return
	}
	if r.AvgResponseTimeMs == 0 {
		r.AvgResponseTimeMs = responseTimeMs
		return
	}
	r.AvgResponseTimeMs = (r.AvgResponseTimeMs*7 + responseTimeMs*3) / 10
}

// ApplyFailure records a failed check and demotes a working record to
// failed once the consecutive failure count reaches the policy
// threshold. Records that are already failed stay failed; only the
// reason, timestamps and counters keep updating.
func (r *ProxyRecord) ApplyFailure(p Policy, now time.Time, reason string) {
	r.Outcomes = pushOutcome(r.Outcomes, 'F', p.WindowSize)
	r.SuccessRate = rateFromJournal(r.Outcomes)
	r.ConsecutiveFailures++
	r.LastFailureAt = now
	r.LastFailureReason = reason
	if r.State == StateWorking && r.ConsecutiveFailures >= p.FailureThreshold {
		r.State = StateFailed
	}
}

// RankRecords sorts records in place into selection order: success rate
// descending, then average response time ascending, then consecutive
// failures ascending, then address ascending. The address tie-break
// keeps the order deterministic across runs.
func RankRecords(records []ProxyRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		if a.AvgResponseTimeMs != b.AvgResponseTimeMs {
			return a.AvgResponseTimeMs < b.AvgResponseTimeMs
		}
		if a.ConsecutiveFailures != b.ConsecutiveFailures {
			return a.ConsecutiveFailures < b.ConsecutiveFailures
		}
		return a.Address < b.Address
	})
}

// pushOutcome appends one outcome character and trims the journal to
// the window, dropping the oldest entries first.
func pushOutcome(journal string, outcome byte, window int) string {
	journal += string(outcome)
	if window > 0 && len(journal) > window {
		journal = journal[len(journal)-window:]
	}
	return journal
}

func rateFromJournal(journal string) float64 {
	if journal == "" {
		return 0
	}
	successes := strings.Count(journal, "S")
	return float64(successes) / float64(len(journal)) * 100
}

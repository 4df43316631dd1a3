/*
Package models defines the core data structures used throughout the proxy-pool
application. It provides the record types that represent proxy endpoints, their
lifecycle state, and the summaries written after validation cycles.

Core Types:

Tier classifies where a proxy was acquired from:

	type Tier string
	const (
		TierPremium    Tier = "premium"
		TierDatacenter Tier = "datacenter"
		TierPublic     Tier = "public"
		TierEmergency  Tier = "emergency"
	)

State tracks a proxy through its lifecycle:

	type State string
	const (
		StateUntested   State = "untested"
		StateValidating State = "validating"
		StateWorking    State = "working"
		StateDegraded   State = "degraded"
		StateFailed     State = "failed"
	)

ProxyRecord is the durable state for one endpoint:

	type ProxyRecord struct {
		Address             string    // host:port, optionally user:pass@host:port
		Tier                Tier      // acquisition tier
		State               State     // lifecycle state
		SuccessRate         float64   // 0-100, computed over the outcome window
		AvgResponseTimeMs   int64     // weighted moving average of response times
		ConsecutiveFailures int       // failures since the last success
		Outcomes            string    // outcome journal, oldest first ("SSFS")
		LastSuccessAt       time.Time // last successful check
		LastFailureAt       time.Time // last failed check
		LastFailureReason   string    // short failure classification
		GeographicRegion    string    // region label, from feeds or IP lookup
		DiscoveredAt        time.Time // first time the address was seen
	}

ValidationRun summarizes one validation cycle:

	type ValidationRun struct {
		ID             string    // cycle identifier (UUID)
		Trigger        string    // manual/startup/scheduled/emergency/exhaustion
		StartedAt      time.Time // cycle start
		DurationMs     int64     // wall-clock duration
		CandidateCount int       // candidates entering validation
		WorkingCount   int       // candidates that passed both stages
		DegradedCount  int       // reachable but content-degraded candidates
		FailedCount    int       // unreachable candidates
	}

Lifecycle:

Records begin as untested, move to validating while checks run, and settle
into working, degraded, or failed. ApplySuccess and ApplyFailure maintain
the outcome journal, success rate, response time average, and consecutive
failure count; ApplyFailure demotes a working record to failed once the
consecutive failure count reaches Policy.FailureThreshold. Failed records
are retained, not deleted, so their history survives re-discovery.

Ranking:

RankRecords establishes the selection order used everywhere a "best" proxy
is needed: success rate descending, average response time ascending,
consecutive failures ascending, address ascending.

Usage Example:

	policy := models.Policy{WindowSize: 20, FailureThreshold: 2}

	record := models.NewRecord("203.0.113.10:8080", models.TierPublic, time.Now())
	record.ApplySuccess(policy, time.Now(), 420)
	record.State = models.StateWorking

	record.ApplyFailure(policy, time.Now(), "timeout")
	record.ApplyFailure(policy, time.Now(), "timeout")
	// record.State is now models.StateFailed

Thread Safety:

The model structures themselves are not thread-safe. Synchronization is
handled at the store layer when records are updated concurrently.
*/
package models

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/viper"

	"proxy-pool/pkg/config"
	"proxy-pool/pkg/ipinfo"
	"proxy-pool/pkg/models"
	"proxy-pool/pkg/sources"
	"proxy-pool/pkg/store"
	"proxy-pool/pkg/validator"
)

const (
	// workingLimit bounds how many ranked records a selection refresh
	// pulls from the store. Selection only ever serves the head.
	workingLimit = 50

	outcomeBuffer = 256

	outcomeTimeout = 10 * time.Second
)

// Validator runs one validation batch. Satisfied by validator.Validator.
type Validator interface {
	Validate(ctx context.Context, candidates []sources.Candidate, policy models.Policy) (*validator.Report, error)
}

type outcome struct {
	address string
	success bool
	reason  string
}

// Engine ties acquisition, validation and the store together and serves
// proxy selections from a short-lived ranked cache.
type Engine struct {
	store     store.Store
	providers []sources.Provider
	validator Validator
	cfg       *config.Config
	logger    *slog.Logger
	clk       clock.Clock
	policy    models.Policy

	cacheMu  sync.Mutex
	cached   []models.ProxyRecord
	cachedAt time.Time

	outcomes  chan outcome
	wg        sync.WaitGroup
	closeOnce sync.Once

	reacquiring atomic.Bool

	// cycleMu serializes validation cycles so a manual trigger and the
	// maintenance loop never interleave their store writes.
	cycleMu sync.Mutex
}

// New creates an engine and starts its outcome worker.
func New(st store.Store, providers []sources.Provider, v Validator, cfg *config.Config, logger *slog.Logger, clk clock.Clock) *Engine {
	e := &Engine{
		store:     st,
		providers: providers,
		validator: v,
		cfg:       cfg,
		logger:    logger,
		clk:       clk,
		policy:    cfg.Policy(),
		outcomes:  make(chan outcome, outcomeBuffer),
	}
	e.wg.Add(1)
	go e.outcomeWorker()
	return e
}

// Close stops the outcome worker and waits for in-flight background
// work to finish. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.outcomes)
	})
	e.wg.Wait()
}

// GetBestProxy returns the current best working proxy address. When the
// working pool is empty it runs one synchronous emergency acquisition
// cycle before giving up; the boolean is false only when that cycle
// also produced nothing.
func (e *Engine) GetBestProxy(ctx context.Context) (string, bool) {
	records := e.workingSet(ctx)
	if len(records) == 0 {
		e.logger.Info("working pool empty, running emergency acquisition")
		if err := e.runCycle(ctx, models.TriggerEmergency, false); err != nil {
			e.logger.Warn("emergency acquisition failed", "error", err)
		}
		records = e.workingSet(ctx)
		if len(records) == 0 {
			return "", false
		}
	}
	if len(records) < e.cfg.Selector.LowWaterMark {
		e.triggerReacquisition()
	}
	return records[0].Address, true
}

// ReportOutcome feeds a usage result back into the pool. It never
// blocks: outcomes go through a buffered channel to a single worker,
// and overflow falls back to a direct goroutine.
func (e *Engine) ReportOutcome(address string, success bool, reason string) {
	o := outcome{address: address, success: success, reason: reason}
	select {
	case e.outcomes <- o:
	default:
		go e.applyOutcome(o)
	}
}

// GetStats reports pool composition from the store.
func (e *Engine) GetStats(ctx context.Context) (*models.PoolStats, error) {
	return e.store.GetStats(ctx)
}

// Acquire runs one acquisition and validation cycle over fresh
// candidates only.
func (e *Engine) Acquire(ctx context.Context) error {
	return e.runCycle(ctx, models.TriggerManual, false)
}

// ForceRevalidate runs a full cycle that also re-tests every stored
// record currently eligible for testing.
func (e *Engine) ForceRevalidate(ctx context.Context) error {
	return e.runCycle(ctx, models.TriggerManual, true)
}

// Run executes the maintenance loop: one startup cycle, then a full
// revalidation on every tick until the context is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if err := e.runCycle(ctx, models.TriggerStartup, true); err != nil {
		e.logger.Warn("startup cycle failed", "error", err)
	}
	ticker := e.clk.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.runCycle(ctx, models.TriggerScheduled, true); err != nil {
				e.logger.Warn("scheduled cycle failed", "error", err)
			}
		}
	}
}

// workingSet returns the ranked working records, served from the cache
// while it is fresh.
func (e *Engine) workingSet(ctx context.Context) []models.ProxyRecord {
	e.cacheMu.Lock()
	if e.cached != nil && e.clk.Since(e.cachedAt) < e.cfg.Selector.CacheTTL {
		records := e.cached
		e.cacheMu.Unlock()
		return records
	}
	e.cacheMu.Unlock()

	records, err := e.store.GetWorking(ctx, workingLimit)
	if err != nil {
		e.logger.Warn("failed to load working proxies", "error", err)
		return nil
	}
	if len(records) == 0 {
		return nil
	}

	e.cacheMu.Lock()
	e.cached = records
	e.cachedAt = e.clk.Now()
	e.cacheMu.Unlock()
	return records
}

func (e *Engine) invalidateCache() {
	e.cacheMu.Lock()
	e.cached = nil
	e.cacheMu.Unlock()
}

// triggerReacquisition starts one background acquisition cycle. The
// atomic flag keeps repeated selections from piling up cycles.
func (e *Engine) triggerReacquisition() {
	if !e.reacquiring.CompareAndSwap(false, true) {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.reacquiring.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Validator.BatchTimeout+30*time.Second)
		defer cancel()
		e.logger.Info("working pool below low-water mark, acquiring in background",
			"lowWaterMark", e.cfg.Selector.LowWaterMark)
		if err := e.runCycle(ctx, models.TriggerExhaustion, false); err != nil {
			e.logger.Warn("background acquisition failed", "error", err)
		}
	}()
}

func (e *Engine) outcomeWorker() {
	defer e.wg.Done()
	for o := range e.outcomes {
		e.applyOutcome(o)
	}
}

func (e *Engine) applyOutcome(o outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), outcomeTimeout)
	defer cancel()

	var record *models.ProxyRecord
	var err error
	if o.success {
		record, err = e.store.MarkSuccess(ctx, o.address, 0)
	} else {
		record, err = e.store.MarkFailed(ctx, o.address, o.reason)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Debug("outcome for unknown proxy", "address", o.address)
		} else {
			e.logger.Warn("failed to record outcome", "address", o.address, "error", err)
		}
		return
	}
	if !o.success && record.State == models.StateFailed {
		e.invalidateCache()
		e.logger.Info("proxy demoted",
			"address", o.address,
			"reason", o.reason,
			"consecutiveFailures", record.ConsecutiveFailures)
	}
}

// runCycle performs one full lifecycle pass: purge cooled-down
// failures, gather candidates, validate, merge into stored history,
// persist, enrich regions and journal the run.
func (e *Engine) runCycle(ctx context.Context, trigger string, includeStored bool) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	if purged, err := e.store.PurgeStale(ctx, e.cfg.Selector.Cooldown); err != nil {
		e.logger.Warn("failed to reset cooled-down proxies", "error", err)
	} else if purged > 0 {
		e.logger.Info("cooled-down proxies queued for retesting", "count", purged)
	}

	candidates, err := e.gatherCandidates(ctx, trigger, includeStored)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no candidates available from any source")
	}

	report, err := e.validator.Validate(ctx, candidates, e.policy)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	merged, err := e.mergeResults(ctx, report)
	if err != nil {
		return err
	}
	if err := e.store.UpsertBatch(ctx, merged); err != nil {
		return fmt.Errorf("failed to persist validation results: %w", err)
	}

	e.enrichRegions(ctx, merged)

	run := &models.ValidationRun{
		ID:             report.CycleID,
		Trigger:        trigger,
		StartedAt:      report.StartedAt,
		DurationMs:     report.Duration.Milliseconds(),
		CandidateCount: len(candidates),
		WorkingCount:   len(report.Working),
		DegradedCount:  len(report.Degraded),
		FailedCount:    len(report.Failed),
	}
	if err := e.store.InsertRun(ctx, run); err != nil {
		e.logger.Warn("failed to journal validation run", "error", err)
	}

	e.invalidateCache()

	e.logger.Info("validation cycle finished",
		"cycle", report.CycleID,
		"trigger", trigger,
		"candidates", len(candidates),
		"working", len(report.Working),
		"degraded", len(report.Degraded),
		"failed", len(report.Failed),
		"duration", report.Duration)
	return nil
}

// gatherCandidates collects candidates for one cycle: stored retestable
// records first when requested, then the providers in tier order until
// enough fresh candidates have accumulated. Provider failures skip to
// the next tier.
func (e *Engine) gatherCandidates(ctx context.Context, trigger string, includeStored bool) ([]sources.Candidate, error) {
	seen := make(map[string]bool)
	var candidates []sources.Candidate

	if includeStored {
		stored, err := e.store.GetRetestable(ctx, e.cfg.Selector.Cooldown)
		if err != nil {
			e.logger.Warn("failed to load stored proxies for retesting", "error", err)
		}
		for _, record := range stored {
			if seen[record.Address] {
				continue
			}
			seen[record.Address] = true
			candidates = append(candidates, sources.Candidate{
				Address: record.Address,
				Tier:    record.Tier,
				Region:  record.GeographicRegion,
				Source:  "store",
			})
		}
	}

	// The escalation floor counts fresh candidates only. A large stored
	// backlog must not keep the cycle from reaching new sources.
	fresh := 0
	for _, provider := range e.providers {
		if fresh >= e.cfg.Sources.MinCandidates {
			break
		}
		acquired, err := provider.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("source failed", "source", provider.Name(), "error", err)
			continue
		}
		for _, candidate := range acquired {
			if trigger == models.TriggerEmergency && candidate.Tier == models.TierPublic {
				candidate.Tier = models.TierEmergency
			}
			if seen[candidate.Address] {
				continue
			}
			seen[candidate.Address] = true
			candidates = append(candidates, candidate)
			fresh++
		}
		e.logger.Debug("source finished",
			"source", provider.Name(),
			"acquired", len(acquired),
			"candidates", len(candidates))
	}
	return candidates, nil
}

// mergeResults folds a validation report into the records already
// stored, so journal history and discovery metadata survive
// re-validation.
func (e *Engine) mergeResults(ctx context.Context, report *validator.Report) ([]models.ProxyRecord, error) {
	results := make([]models.ProxyRecord, 0, len(report.Working)+len(report.Degraded)+len(report.Failed))
	results = append(results, report.Working...)
	results = append(results, report.Degraded...)
	results = append(results, report.Failed...)

	addresses := make([]string, len(results))
	for i, result := range results {
		addresses[i] = result.Address
	}
	existing, err := e.store.GetByAddresses(ctx, addresses)
	if err != nil {
		return nil, fmt.Errorf("failed to load prior records: %w", err)
	}
	prior := make(map[string]models.ProxyRecord, len(existing))
	for _, record := range existing {
		prior[record.Address] = record
	}

	now := e.clk.Now()
	merged := make([]models.ProxyRecord, 0, len(results))
	for _, result := range results {
		prev, ok := prior[result.Address]
		if !ok {
			merged = append(merged, result)
			continue
		}
		merged = append(merged, mergeRecord(prev, result, e.policy, now))
	}
	return merged, nil
}

// mergeRecord applies one fresh validation result to the stored record.
// The stored journal, counters and discovery metadata carry forward;
// the result decides the new state.
func mergeRecord(prev, result models.ProxyRecord, policy models.Policy, now time.Time) models.ProxyRecord {
	record := prev
	if record.GeographicRegion == "" {
		record.GeographicRegion = result.GeographicRegion
	}
	// A proxy rediscovered through a regular source sheds its
	// emergency tag.
	if record.Tier == models.TierEmergency && result.Tier != models.TierEmergency {
		record.Tier = result.Tier
	}

	switch result.State {
	case models.StateWorking:
		record.ApplySuccess(policy, now, result.AvgResponseTimeMs)
		record.State = models.StateWorking
	case models.StateDegraded:
		record.State = models.StateDegraded
		record.ObserveResponseTime(result.AvgResponseTimeMs)
		record.LastFailureAt = result.LastFailureAt
		record.LastFailureReason = result.LastFailureReason
	default:
		// The validator verdict is authoritative: a record that just
		// failed a full validation pass does not linger as working,
		// whatever the consecutive failure count says.
		record.ApplyFailure(policy, now, result.LastFailureReason)
		record.State = models.StateFailed
	}
	return record
}

// enrichRegions fills missing regions on working records via ipinfo.
// Best-effort and only active when a token is configured.
func (e *Engine) enrichRegions(ctx context.Context, records []models.ProxyRecord) {
	if viper.GetString("ipinfo.token") == "" {
		return
	}
	for i := range records {
		record := &records[i]
		if record.State != models.StateWorking || record.GeographicRegion != "" {
			continue
		}
		host := hostOf(record.Address)
		if net.ParseIP(host) == nil {
			continue
		}
		info, err := ipinfo.GetIPInfo(host)
		if err != nil {
			e.logger.Debug("ipinfo lookup failed", "address", record.Address, "error", err)
			continue
		}
		ipinfo.UpdateRecordWithIPInfo(record, info)
		if record.GeographicRegion == "" {
			continue
		}
		if err := e.store.Upsert(ctx, record); err != nil {
			e.logger.Warn("failed to store region", "address", record.Address, "error", err)
		}
	}
}

// hostOf strips credentials and the port from a proxy address.
func hostOf(address string) string {
	if at := strings.LastIndex(address, "@"); at != -1 {
		address = address[at+1:]
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return address
	}
	return host
}

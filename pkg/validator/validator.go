// Package validator runs the two-stage checks that decide whether a
// candidate proxy is working, degraded, or failed.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"proxy-pool/pkg/config"
	"proxy-pool/pkg/fetch"
	"proxy-pool/pkg/models"
	"proxy-pool/pkg/probe"
	"proxy-pool/pkg/sources"
)

// userAgent presents the checks to the target as a regular browser.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type fetchFunc func(ctx context.Context, url string, opts fetch.Options) (*fetch.Result, error)

type tunnelFunc func(ctx context.Context, transportConfig, resolver, domain string) error

// Report is the outcome of one validation batch, grouped by resulting
// state. Working is pre-sorted into selection order.
type Report struct {
	CycleID   string
	StartedAt time.Time
	Duration  time.Duration
	Working   []models.ProxyRecord
	Degraded  []models.ProxyRecord
	Failed    []models.ProxyRecord
}

// Validator checks candidates concurrently with a bounded worker pool.
// The fetch and tunnel functions are fields so tests can stub them.
type Validator struct {
	cfg    config.ValidatorConfig
	logger *slog.Logger
	clk    clock.Clock
	fetch  fetchFunc
	tunnel tunnelFunc
}

// New creates a Validator using the production fetch and tunnel check.
func New(cfg config.ValidatorConfig, logger *slog.Logger, clk clock.Clock) *Validator {
	return &Validator{
		cfg:    cfg,
		logger: logger,
		clk:    clk,
		fetch:  fetch.Fetch,
		tunnel: probe.CheckTunnel,
	}
}

// TransportURL returns the transport config for dialing through the
// given proxy address.
func TransportURL(address string) string {
	return "socks5://" + address
}

// Validate checks every candidate and returns the grouped report. The
// whole batch is bounded by the configured batch timeout; candidates
// cut off by the deadline are reported failed with a timeout reason, so
// the report always covers the full input.
func (v *Validator) Validate(ctx context.Context, candidates []sources.Candidate, policy models.Policy) (*Report, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidates to validate")
	}

	startedAt := v.clk.Now()
	report := &Report{
		CycleID:   uuid.New().String(),
		StartedAt: startedAt,
	}

	batchCtx, cancel := context.WithTimeout(ctx, v.cfg.BatchTimeout)
	defer cancel()

	jobs := make(chan sources.Candidate, len(candidates))
	results := make(chan models.ProxyRecord, len(candidates))

	// Start worker pool
	workers := v.cfg.Concurrency
	if workers > len(candidates) {
		workers = len(candidates)
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go v.worker(batchCtx, &wg, jobs, results, policy)
	}

	// Send jobs to workers
	for _, candidate := range candidates {
		jobs <- candidate
	}
	close(jobs)

	// Wait for all workers to finish
	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results
	for record := range results {
		switch record.State {
		case models.StateWorking:
			report.Working = append(report.Working, record)
		case models.StateDegraded:
			report.Degraded = append(report.Degraded, record)
		default:
			report.Failed = append(report.Failed, record)
		}
	}

	models.RankRecords(report.Working)
	report.Duration = v.clk.Since(startedAt)

	return report, nil
}

func (v *Validator) worker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan sources.Candidate, results chan<- models.ProxyRecord, policy models.Policy) {
	defer wg.Done()
	for candidate := range jobs {
		record := v.testCandidate(ctx, candidate, policy)
		v.logger.Debug("candidate tested",
			"address", record.Address,
			"state", record.State,
			"reason", record.LastFailureReason)
		results <- record
	}
}

// testCandidate runs the staged checks for one candidate. The returned
// record carries only this run's history; the engine merges it into any
// stored record for the same address.
func (v *Validator) testCandidate(ctx context.Context, candidate sources.Candidate, policy models.Policy) models.ProxyRecord {
	record := models.NewRecord(candidate.Address, candidate.Tier, v.clk.Now())
	record.GeographicRegion = candidate.Region
	record.State = models.StateValidating

	// Candidates that never got a worker slot before the batch deadline
	// fail fast here.
	if ctx.Err() != nil {
		record.ApplyFailure(policy, v.clk.Now(), "validation timeout")
		record.State = models.StateFailed
		return record
	}

	transport := TransportURL(candidate.Address)

	if v.cfg.DialCheck {
		if err := v.tunnel(ctx, transport, v.cfg.Resolver, v.cfg.CheckDomain); err != nil {
			record.ApplyFailure(policy, v.clk.Now(), probe.Classify(err))
			record.State = models.StateFailed
			return record
		}
	}

	latencyMs, err := v.checkConnectivity(ctx, transport)
	if err != nil {
		reason := err.Error()
		if ctx.Err() != nil {
			reason = "validation timeout"
		}
		record.ApplyFailure(policy, v.clk.Now(), reason)
		record.State = models.StateFailed
		return record
	}

	signals, err := v.checkTargetContent(ctx, transport)
	if err != nil {
		reason := err.Error()
		if ctx.Err() != nil {
			reason = "validation timeout"
		}
		v.markDegraded(&record, latencyMs, reason)
		return record
	}
	if signals < v.cfg.MinSignals {
		v.markDegraded(&record, latencyMs, fmt.Sprintf("content signals %d/%d", signals, v.cfg.MinSignals))
		return record
	}

	record.ApplySuccess(policy, v.clk.Now(), latencyMs)
	record.State = models.StateWorking
	return record
}

// markDegraded records a reachable but content-degraded result. The
// outcome journal is left alone: degraded runs are neither a success
// nor a hard failure.
func (v *Validator) markDegraded(record *models.ProxyRecord, latencyMs int64, reason string) {
	record.State = models.StateDegraded
	record.AvgResponseTimeMs = latencyMs
	record.LastFailureAt = v.clk.Now()
	record.LastFailureReason = reason
}

// checkConnectivity fetches the echo endpoints through the candidate
// and returns the average latency over the successful ones. It fails
// when fewer than the required number of endpoints answered.
func (v *Validator) checkConnectivity(ctx context.Context, transport string) (int64, error) {
	var successes int
	var totalMs int64
	for _, endpoint := range v.cfg.EchoEndpoints {
		result, err := v.fetch(ctx, endpoint, fetch.Options{
			Transport:  transport,
			Headers:    []string{"User-Agent: " + userAgent},
			TimeoutSec: int(v.cfg.PerTestTimeout.Seconds()),
		})
		if err != nil {
			v.logger.Debug("echo check failed", "endpoint", endpoint, "error", err)
			continue
		}
		if result.Response.StatusCode != http.StatusOK || len(result.Body) == 0 {
			continue
		}
		successes++
		totalMs += result.Latency.Milliseconds()
	}
	if successes < v.cfg.MinEchoSuccesses {
		return 0, fmt.Errorf("connectivity %d/%d", successes, len(v.cfg.EchoEndpoints))
	}
	return totalMs / int64(successes), nil
}

// checkTargetContent verifies the target answers on its lightweight
// endpoint and that the content page carries enough signal tokens,
// case-insensitive.
func (v *Validator) checkTargetContent(ctx context.Context, transport string) (int, error) {
	opts := fetch.Options{
		Transport:  transport,
		Headers:    []string{"User-Agent: " + userAgent},
		TimeoutSec: int(v.cfg.PerTestTimeout.Seconds()),
	}

	light, err := v.fetch(ctx, v.cfg.TargetLightURL, opts)
	if err != nil {
		return 0, fmt.Errorf("target unreachable: %v", err)
	}
	if light.Response.StatusCode >= 500 {
		return 0, fmt.Errorf("target returned status %d", light.Response.StatusCode)
	}

	page, err := v.fetch(ctx, v.cfg.TargetContentURL, opts)
	if err != nil {
		return 0, fmt.Errorf("content page unreachable: %v", err)
	}

	body := strings.ToLower(string(page.Body))
	signals := 0
	for _, token := range v.cfg.SignalTokens {
		if strings.Contains(body, strings.ToLower(token)) {
			signals++
		}
	}
	return signals, nil
}

package models

import (
	"testing"
	"time"
)

func TestApplyFailureDemotesAtThreshold(t *testing.T) {
	policy := Policy{WindowSize: 20, FailureThreshold: 2}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	record := NewRecord("203.0.113.10:8080", TierPublic, now)
	record.State = StateWorking
	record.Outcomes = "SS"
	record.SuccessRate = 100

	record.ApplyFailure(policy, now, "timeout")
	if record.State != StateWorking {
		t.Errorf("State after first failure = %v, want %v", record.State, StateWorking)
	}
	if record.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", record.ConsecutiveFailures)
	}

	record.ApplyFailure(policy, now.Add(time.Minute), "timeout")
	if record.State != StateFailed {
		t.Errorf("State after second failure = %v, want %v", record.State, StateFailed)
	}
	if record.ConsecutiveFailures != 2 {
		t.Errorf("ConsecutiveFailures = %d, want 2", record.ConsecutiveFailures)
	}

	record.ApplyFailure(policy, now.Add(2*time.Minute), "connection refused")
	if record.State != StateFailed {
		t.Errorf("State after third failure = %v, want %v", record.State, StateFailed)
	}
	if record.LastFailureReason != "connection refused" {
		t.Errorf("LastFailureReason = %q, want %q", record.LastFailureReason, "connection refused")
	}
	if record.Outcomes != "SSFFF" {
		t.Errorf("Outcomes = %q, want %q", record.Outcomes, "SSFFF")
	}
}

func TestApplySuccessResetsFailures(t *testing.T) {
	policy := Policy{WindowSize: 20, FailureThreshold: 2}
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	record := NewRecord("203.0.113.10:8080", TierDatacenter, now)
	record.State = StateDegraded
	record.ConsecutiveFailures = 1
	record.Outcomes = "F"

	record.ApplySuccess(policy, now, 420)
	if record.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", record.ConsecutiveFailures)
	}
	if record.State != StateDegraded {
		t.Errorf("State = %v, want %v (ApplySuccess must not change state)", record.State, StateDegraded)
	}
	if !record.LastSuccessAt.Equal(now) {
		t.Errorf("LastSuccessAt = %v, want %v", record.LastSuccessAt, now)
	}
	if record.SuccessRate != 50 {
		t.Errorf("SuccessRate = %v, want 50", record.SuccessRate)
	}
}

func TestOutcomeWindow(t *testing.T) {
	policy := Policy{WindowSize: 5, FailureThreshold: 2}
	now := time.Now()

	record := NewRecord("203.0.113.10:8080", TierPublic, now)
	for i := 0; i < 4; i++ {
		record.ApplySuccess(policy, now, 0)
	}
	for i := 0; i < 3; i++ {
		record.ApplyFailure(policy, now, "timeout")
	}

	if record.Outcomes != "SSFFF" {
		t.Errorf("Outcomes = %q, want %q", record.Outcomes, "SSFFF")
	}
	if record.SuccessRate != 40 {
		t.Errorf("SuccessRate = %v, want 40 (2 of 5 in window)", record.SuccessRate)
	}
}

func TestResponseTimeAverage(t *testing.T) {
	policy := Policy{WindowSize: 20, FailureThreshold: 2}
	now := time.Now()

	record := NewRecord("203.0.113.10:8080", TierPremium, now)

	record.ApplySuccess(policy, now, 1000)
	if record.AvgResponseTimeMs != 1000 {
		t.Errorf("AvgResponseTimeMs after first success = %d, want 1000", record.AvgResponseTimeMs)
	}

	record.ApplySuccess(policy, now, 500)
	if record.AvgResponseTimeMs != 850 {
		t.Errorf("AvgResponseTimeMs after second success = %d, want 850", record.AvgResponseTimeMs)
	}

	record.ApplySuccess(policy, now, 0)
	if record.AvgResponseTimeMs != 850 {
		t.Errorf("AvgResponseTimeMs after zero measurement = %d, want 850 (unchanged)", record.AvgResponseTimeMs)
	}
}

func TestRankRecords(t *testing.T) {
	testCases := []struct {
		name    string
		records []ProxyRecord
		want    []string
	}{
		{
			name: "Success rate wins",
			records: []ProxyRecord{
				{Address: "a:80", SuccessRate: 50, AvgResponseTimeMs: 100},
				{Address: "b:80", SuccessRate: 90, AvgResponseTimeMs: 900},
			},
			want: []string{"b:80", "a:80"},
		},
		{
			name: "Response time breaks rate ties",
			records: []ProxyRecord{
				{Address: "a:80", SuccessRate: 80, AvgResponseTimeMs: 700},
				{Address: "b:80", SuccessRate: 80, AvgResponseTimeMs: 200},
			},
			want: []string{"b:80", "a:80"},
		},
		{
			name: "Consecutive failures break time ties",
			records: []ProxyRecord{
				{Address: "a:80", SuccessRate: 80, AvgResponseTimeMs: 200, ConsecutiveFailures: 1},
				{Address: "b:80", SuccessRate: 80, AvgResponseTimeMs: 200, ConsecutiveFailures: 0},
			},
			want: []string{"b:80", "a:80"},
		},
		{
			name: "Address keeps full ties deterministic",
			records: []ProxyRecord{
				{Address: "b:80", SuccessRate: 80, AvgResponseTimeMs: 200},
				{Address: "a:80", SuccessRate: 80, AvgResponseTimeMs: 200},
			},
			want: []string{"a:80", "b:80"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			RankRecords(tc.records)
			for i, want := range tc.want {
				if tc.records[i].Address != want {
					t.Errorf("position %d = %q, want %q", i, tc.records[i].Address, want)
				}
			}
		})
	}
}

func TestNewRecord(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	record := NewRecord("203.0.113.10:3128", TierDatacenter, now)

	if record.State != StateUntested {
		t.Errorf("State = %v, want %v", record.State, StateUntested)
	}
	if record.Tier != TierDatacenter {
		t.Errorf("Tier = %v, want %v", record.Tier, TierDatacenter)
	}
	if !record.DiscoveredAt.Equal(now) {
		t.Errorf("DiscoveredAt = %v, want %v", record.DiscoveredAt, now)
	}
	if record.SuccessRate != 0 || record.Outcomes != "" {
		t.Errorf("fresh record has history: rate=%v outcomes=%q", record.SuccessRate, record.Outcomes)
	}
}

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()

	c, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if c.Store.Backend != "postgres" {
		t.Errorf("Store.Backend = %q, want %q", c.Store.Backend, "postgres")
	}
	if c.Sources.MinCandidates != 20 {
		t.Errorf("Sources.MinCandidates = %d, want 20", c.Sources.MinCandidates)
	}
	if len(c.Sources.AllowedPorts) != 5 {
		t.Errorf("Sources.AllowedPorts has %d entries, want 5", len(c.Sources.AllowedPorts))
	}
	if c.Validator.Concurrency != 16 {
		t.Errorf("Validator.Concurrency = %d, want 16", c.Validator.Concurrency)
	}
	if c.Validator.PerTestTimeout != 10*time.Second {
		t.Errorf("Validator.PerTestTimeout = %v, want 10s", c.Validator.PerTestTimeout)
	}
	if c.Validator.MinEchoSuccesses != 2 {
		t.Errorf("Validator.MinEchoSuccesses = %d, want 2", c.Validator.MinEchoSuccesses)
	}
	if c.Validator.MinSignals != 3 {
		t.Errorf("Validator.MinSignals = %d, want 3", c.Validator.MinSignals)
	}
	if c.Selector.FailureThreshold != 2 {
		t.Errorf("Selector.FailureThreshold = %d, want 2", c.Selector.FailureThreshold)
	}
	if c.Selector.Cooldown != 24*time.Hour {
		t.Errorf("Selector.Cooldown = %v, want 24h", c.Selector.Cooldown)
	}
	if c.Selector.CacheTTL != 5*time.Second {
		t.Errorf("Selector.CacheTTL = %v, want 5s", c.Selector.CacheTTL)
	}
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name     string
		override map[string]interface{}
		wantErr  string
	}{
		{
			name:     "Unknown store backend",
			override: map[string]interface{}{"store.backend": "sqlite"},
			wantErr:  "store.backend",
		},
		{
			name:     "Premium enabled without key",
			override: map[string]interface{}{"sources.premium.enabled": true},
			wantErr:  "sources.premium.api_key",
		},
		{
			name:     "More signals required than tokens configured",
			override: map[string]interface{}{"validator.min_signals": 6},
			wantErr:  "signal tokens",
		},
		{
			name:     "Nonpositive concurrency",
			override: map[string]interface{}{"validator.concurrency": 0},
			wantErr:  "validator.concurrency",
		},
		{
			name:     "Dial check without domain",
			override: map[string]interface{}{"validator.dial_check": true},
			wantErr:  "validator.check_domain",
		},
		{
			name:     "Empty target URL",
			override: map[string]interface{}{"validator.target_content_url": ""},
			wantErr:  "target URLs",
		},
		{
			name: "Fewer echo endpoints than required successes",
			override: map[string]interface{}{
				"validator.echo_endpoints": []string{"http://httpbin.org/ip"},
			},
			wantErr: "validator.echo_endpoints",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v := viper.New()
			for key, value := range tc.override {
				v.Set(key, value)
			}

			_, err := Load(v)
			if err == nil {
				t.Fatalf("Load() error = nil, want error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Load() error = %q, want it to contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestPolicy(t *testing.T) {
	v := viper.New()
	v.Set("selector.window_size", 10)
	v.Set("selector.failure_threshold", 4)

	c, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	policy := c.Policy()
	if policy.WindowSize != 10 {
		t.Errorf("Policy().WindowSize = %d, want 10", policy.WindowSize)
	}
	if policy.FailureThreshold != 4 {
		t.Errorf("Policy().FailureThreshold = %d, want 4", policy.FailureThreshold)
	}
}

// Package config loads the application settings from viper and applies
// the defaults and validation the rest of the application relies on.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"proxy-pool/pkg/models"
)

// Config is the resolved application configuration.
type Config struct {
	Store     StoreConfig
	Sources   SourcesConfig
	Validator ValidatorConfig
	Selector  SelectorConfig
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Backend string
}

// SourcesConfig controls acquisition across the tiered providers.
type SourcesConfig struct {
	MinCandidates int
	AllowedPorts  []int
	CDNPrefixes   []string
	Premium       PremiumConfig
	Datacenter    DatacenterConfig
	Public        PublicConfig
}

// PremiumConfig configures the paid proxy API source.
type PremiumConfig struct {
	Enabled    bool
	APIURL     string
	APIKey     string
	MaxRetries int
}

// DatacenterConfig extends the built-in datacenter list.
type DatacenterConfig struct {
	Extra []string
}

// PublicConfig configures the free feed sources.
type PublicConfig struct {
	Feeds      []string
	HTMLFeeds  []string
	Protocol   string
	Countries  []string
	SSL        bool
	Anonymity  string
	MinUptime  int
	TimeoutMs  int
	RatePerSec float64
}

// ValidatorConfig controls the two-stage validation pipeline.
type ValidatorConfig struct {
	Concurrency      int
	PerTestTimeout   time.Duration
	BatchTimeout     time.Duration
	EchoEndpoints    []string
	MinEchoSuccesses int
	TargetLightURL   string
	TargetContentURL string
	SignalTokens     []string
	MinSignals       int
	DialCheck        bool
	Resolver         string
	CheckDomain      string
}

// SelectorConfig controls scoring, demotion and selection behavior.
type SelectorConfig struct {
	FailureThreshold int
	WindowSize       int
	LowWaterMark     int
	Cooldown         time.Duration
	CacheTTL         time.Duration
}

// Load resolves the configuration from v, filling defaults first and
// validating the result. It is the only place settings are read, so
// every tunable has exactly one key and one default.
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	c := &Config{
		Store: StoreConfig{
			Backend: v.GetString("store.backend"),
		},
		Sources: SourcesConfig{
			MinCandidates: v.GetInt("sources.min_candidates"),
			AllowedPorts:  v.GetIntSlice("sources.allowed_ports"),
			CDNPrefixes:   v.GetStringSlice("sources.cdn_prefixes"),
			Premium: PremiumConfig{
				Enabled:    v.GetBool("sources.premium.enabled"),
				APIURL:     v.GetString("sources.premium.api_url"),
				APIKey:     v.GetString("sources.premium.api_key"),
				MaxRetries: v.GetInt("sources.premium.max_retries"),
			},
			Datacenter: DatacenterConfig{
				Extra: v.GetStringSlice("sources.datacenter.extra"),
			},
			Public: PublicConfig{
				Feeds:      v.GetStringSlice("sources.public.feeds"),
				HTMLFeeds:  v.GetStringSlice("sources.public.html_feeds"),
				Protocol:   v.GetString("sources.public.protocol"),
				Countries:  v.GetStringSlice("sources.public.countries"),
				SSL:        v.GetBool("sources.public.ssl"),
				Anonymity:  v.GetString("sources.public.anonymity"),
				MinUptime:  v.GetInt("sources.public.min_uptime"),
				TimeoutMs:  v.GetInt("sources.public.timeout_ms"),
				RatePerSec: v.GetFloat64("sources.public.rate_per_sec"),
			},
		},
		Validator: ValidatorConfig{
			Concurrency:      v.GetInt("validator.concurrency"),
			PerTestTimeout:   v.GetDuration("validator.per_test_timeout"),
			BatchTimeout:     v.GetDuration("validator.batch_timeout"),
			EchoEndpoints:    v.GetStringSlice("validator.echo_endpoints"),
			MinEchoSuccesses: v.GetInt("validator.min_echo_successes"),
			TargetLightURL:   v.GetString("validator.target_light_url"),
			TargetContentURL: v.GetString("validator.target_content_url"),
			SignalTokens:     v.GetStringSlice("validator.signal_tokens"),
			MinSignals:       v.GetInt("validator.min_signals"),
			DialCheck:        v.GetBool("validator.dial_check"),
			Resolver:         v.GetString("validator.resolver"),
			CheckDomain:      v.GetString("validator.check_domain"),
		},
		Selector: SelectorConfig{
			FailureThreshold: v.GetInt("selector.failure_threshold"),
			WindowSize:       v.GetInt("selector.window_size"),
			LowWaterMark:     v.GetInt("selector.low_water_mark"),
			Cooldown:         v.GetDuration("selector.cooldown"),
			CacheTTL:         v.GetDuration("selector.cache_ttl"),
		},
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Policy returns the record bookkeeping parameters derived from the
// selector settings.
func (c *Config) Policy() models.Policy {
	return models.Policy{
		WindowSize:       c.Selector.WindowSize,
		FailureThreshold: c.Selector.FailureThreshold,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", "postgres")

	v.SetDefault("sources.min_candidates", 20)
	v.SetDefault("sources.allowed_ports", []int{80, 443, 8080, 3128, 8888})
	v.SetDefault("sources.cdn_prefixes", []string{
		"104.16.", "104.17.", "104.18.", "104.19.", "104.20.", "104.21.",
		"104.22.", "104.23.", "104.24.", "104.25.", "104.26.", "104.27.",
		"172.64.", "172.67.", "188.114.", "141.101.", "162.158.", "198.41.",
		"173.245.", "23.227.", "185.199.", "140.82.", "192.30.",
	})
	v.SetDefault("sources.premium.enabled", false)
	v.SetDefault("sources.premium.api_url", "https://proxy.webshare.io/api/v2/proxy/list/")
	v.SetDefault("sources.premium.max_retries", 3)
	v.SetDefault("sources.public.feeds", []string{
		"https://api.proxyscrape.com/v4/free-proxy-list/get",
	})
	v.SetDefault("sources.public.html_feeds", []string{
		"https://free-proxy-list.net/",
		"https://www.sslproxies.org/",
	})
	v.SetDefault("sources.public.protocol", "socks5")
	v.SetDefault("sources.public.countries", []string{"US", "CA", "GB", "DE", "NL", "FR"})
	v.SetDefault("sources.public.ssl", true)
	v.SetDefault("sources.public.anonymity", "elite,anonymous")
	v.SetDefault("sources.public.min_uptime", 80)
	v.SetDefault("sources.public.timeout_ms", 8000)
	v.SetDefault("sources.public.rate_per_sec", 2.0)

	v.SetDefault("validator.concurrency", 16)
	v.SetDefault("validator.per_test_timeout", 10*time.Second)
	v.SetDefault("validator.batch_timeout", 60*time.Second)
	v.SetDefault("validator.echo_endpoints", []string{
		"http://httpbin.org/ip",
		"https://api.ipify.org?format=json",
		"https://jsonip.com",
	})
	v.SetDefault("validator.min_echo_successes", 2)
	v.SetDefault("validator.target_light_url", "https://coinmarketcap.com/api/health-check/")
	v.SetDefault("validator.target_content_url", "https://coinmarketcap.com/trending-cryptocurrencies/")
	v.SetDefault("validator.signal_tokens", []string{
		"trending", "cryptocurrency", "bitcoin", "price", "market",
	})
	v.SetDefault("validator.min_signals", 3)
	v.SetDefault("validator.dial_check", false)
	v.SetDefault("validator.resolver", "8.8.8.8")

	v.SetDefault("selector.failure_threshold", 2)
	v.SetDefault("selector.window_size", 20)
	v.SetDefault("selector.low_water_mark", 3)
	v.SetDefault("selector.cooldown", 24*time.Hour)
	v.SetDefault("selector.cache_ttl", 5*time.Second)
}

func (c *Config) validate() error {
	if c.Store.Backend != "postgres" && c.Store.Backend != "memory" {
		return fmt.Errorf("store.backend must be postgres or memory, got %q", c.Store.Backend)
	}
	if c.Sources.MinCandidates <= 0 {
		return fmt.Errorf("sources.min_candidates must be positive")
	}
	if len(c.Sources.AllowedPorts) == 0 {
		return fmt.Errorf("sources.allowed_ports must not be empty")
	}
	if c.Sources.Premium.Enabled && c.Sources.Premium.APIKey == "" {
		return fmt.Errorf("sources.premium.api_key is required when the premium source is enabled")
	}
	if c.Validator.Concurrency <= 0 {
		return fmt.Errorf("validator.concurrency must be positive")
	}
	if c.Validator.PerTestTimeout <= 0 || c.Validator.BatchTimeout <= 0 {
		return fmt.Errorf("validator timeouts must be positive")
	}
	if c.Validator.MinEchoSuccesses <= 0 {
		return fmt.Errorf("validator.min_echo_successes must be positive")
	}
	if len(c.Validator.EchoEndpoints) < c.Validator.MinEchoSuccesses {
		return fmt.Errorf("validator.echo_endpoints has %d entries, need at least %d",
			len(c.Validator.EchoEndpoints), c.Validator.MinEchoSuccesses)
	}
	if c.Validator.TargetLightURL == "" || c.Validator.TargetContentURL == "" {
		return fmt.Errorf("validator target URLs must not be empty")
	}
	if c.Validator.MinSignals > len(c.Validator.SignalTokens) {
		return fmt.Errorf("validator.min_signals is %d but only %d signal tokens are configured",
			c.Validator.MinSignals, len(c.Validator.SignalTokens))
	}
	if c.Validator.DialCheck && c.Validator.CheckDomain == "" {
		return fmt.Errorf("validator.check_domain is required when dial_check is enabled")
	}
	if c.Selector.FailureThreshold <= 0 || c.Selector.WindowSize <= 0 {
		return fmt.Errorf("selector.failure_threshold and selector.window_size must be positive")
	}
	if c.Selector.LowWaterMark < 0 {
		return fmt.Errorf("selector.low_water_mark must not be negative")
	}
	if c.Selector.Cooldown <= 0 || c.Selector.CacheTTL <= 0 {
		return fmt.Errorf("selector.cooldown and selector.cache_ttl must be positive")
	}
	return nil
}

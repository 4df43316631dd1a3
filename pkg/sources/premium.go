package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"proxy-pool/pkg/config"
	"proxy-pool/pkg/models"
)

// PremiumProvider acquires authenticated endpoints from a paid
// provisioning API. Entries arrive pre-vetted, so only address
// normalization is applied, not the structural filter.
type PremiumProvider struct {
	config config.PremiumConfig
	logger *slog.Logger
	client *http.Client
}

func newPremiumProvider(config config.PremiumConfig, logger *slog.Logger) *PremiumProvider {
	// Validate required premium configuration
	if config.APIKey == "" {
		panic("premium API key is required")
	}
	if config.APIURL == "" {
		panic("premium API URL is required")
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3 // default to 3 attempts if not specified
	}

	return &PremiumProvider{
		config: config,
		logger: logger,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *PremiumProvider) Name() string {
	return "premium"
}

func (p *PremiumProvider) Tier() models.Tier {
	return models.TierPremium
}

type premiumEntry struct {
	ProxyAddress string `json:"proxy_address"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	CountryCode  string `json:"country_code"`
	Valid        bool   `json:"valid"`
}

type premiumResponse struct {
	Results []premiumEntry `json:"results"`
}

// Acquire fetches the provisioned proxy list, retrying transient API
// failures up to the configured attempt count.
func (p *PremiumProvider) Acquire(ctx context.Context) ([]Candidate, error) {
	var lastErr error
	for retry := 0; retry < p.config.MaxRetries; retry++ {
		candidates, err := p.fetchList(ctx)
		if err != nil {
			lastErr = err
			p.logger.Debug("premium list fetch failed",
				"attempt", retry+1,
				"error", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return candidates, nil
	}
	return nil, fmt.Errorf("failed to fetch premium list after %d attempts: %v", p.config.MaxRetries, lastErr)
}

func (p *PremiumProvider) fetchList(ctx context.Context) ([]Candidate, error) {
	u, err := url.Parse(p.config.APIURL)
	if err != nil {
		return nil, fmt.Errorf("invalid premium API URL: %w", err)
	}
	q := u.Query()
	q.Set("mode", "direct")
	q.Set("page", "1")
	q.Set("page_size", "100")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.config.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch premium list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("premium list request returned status %d", resp.StatusCode)
	}

	var list premiumResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode premium list: %w", err)
	}

	candidates := make([]Candidate, 0, len(list.Results))
	for _, entry := range list.Results {
		if !entry.Valid || entry.ProxyAddress == "" || entry.Port == 0 {
			continue
		}
		raw := fmt.Sprintf("%s:%d", entry.ProxyAddress, entry.Port)
		if entry.Username != "" && entry.Password != "" {
			raw = fmt.Sprintf("%s:%s@%s", entry.Username, entry.Password, raw)
		}
		address, err := ParseAddress(raw)
		if err != nil {
			p.logger.Debug("skipping malformed premium entry", "entry", entry.ProxyAddress, "error", err)
			continue
		}
		candidates = append(candidates, Candidate{
			Address: address,
			Tier:    models.TierPremium,
			Region:  entry.CountryCode,
			Source:  p.Name(),
		})
	}
	return candidates, nil
}

package sources

import (
	"log/slog"

	"proxy-pool/pkg/config"
)

// BuildProviders creates the enabled providers in escalation order:
// premium first when configured, then datacenter, then the public feeds.
func BuildProviders(cfg config.SourcesConfig, logger *slog.Logger) []Provider {
	filter := NewFilter(cfg.AllowedPorts, cfg.CDNPrefixes)

	var providers []Provider
	if cfg.Premium.Enabled {
		providers = append(providers, newPremiumProvider(cfg.Premium, logger))
	}
	providers = append(providers, newDatacenterProvider(cfg.Datacenter, filter, logger))
	providers = append(providers, newPublicProvider(cfg.Public, filter, logger))
	return providers
}

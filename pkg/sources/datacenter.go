package sources

import (
	"context"
	"log/slog"

	"proxy-pool/pkg/config"
	"proxy-pool/pkg/models"
)

// curatedEndpoints is the built-in datacenter list, grouped by region.
// Entries here are vetted when the list changes, so they bypass the
// structural filter; operator extras from config do not.
var curatedEndpoints = []struct {
	address string
	region  string
}{
	{"198.50.163.192:3129", "US-East"},
	{"207.154.231.193:3128", "US-East"},
	{"167.71.5.83:8080", "US-East"},
	{"159.203.176.62:8080", "US-East"},
	{"68.183.111.90:8080", "US-East"},
	{"138.197.102.119:8080", "US-West"},
	{"159.203.183.149:8080", "US-West"},
	{"167.172.180.40:8080", "US-West"},
	{"178.128.51.12:8080", "US-West"},
	{"134.209.29.120:8080", "US-West"},
	{"157.230.103.189:33333", "EU-Central"},
	{"46.101.103.161:8080", "EU-Central"},
	{"165.22.81.30:8080", "EU-Central"},
	{"161.35.70.249:8080", "EU-Central"},
	{"159.89.101.195:8080", "EU-Central"},
	{"159.89.113.155:8080", "AP-Southeast"},
	{"178.128.59.125:8080", "AP-Southeast"},
	{"165.22.190.209:8080", "AP-Southeast"},
	{"159.89.230.23:8080", "AP-Southeast"},
	{"134.209.200.4:8080", "AP-Southeast"},
}

// DatacenterProvider serves the curated datacenter list plus any
// operator-configured extras.
type DatacenterProvider struct {
	extra  []string
	filter *Filter
	logger *slog.Logger
}

func newDatacenterProvider(config config.DatacenterConfig, filter *Filter, logger *slog.Logger) *DatacenterProvider {
	return &DatacenterProvider{
		extra:  config.Extra,
		filter: filter,
		logger: logger,
	}
}

func (p *DatacenterProvider) Name() string {
	return "datacenter"
}

func (p *DatacenterProvider) Tier() models.Tier {
	return models.TierDatacenter
}

// Acquire returns the curated endpoints in stable order, followed by
// the filtered operator extras.
func (p *DatacenterProvider) Acquire(ctx context.Context) ([]Candidate, error) {
	candidates := make([]Candidate, 0, len(curatedEndpoints)+len(p.extra))
	for _, e := range curatedEndpoints {
		address, err := ParseAddress(e.address)
		if err != nil {
			continue
		}
		candidates = append(candidates, Candidate{
			Address: address,
			Tier:    models.TierDatacenter,
			Region:  e.region,
			Source:  p.Name(),
		})
	}
	for _, raw := range p.extra {
		address, err := ParseAddress(raw)
		if err != nil {
			p.logger.Debug("skipping malformed datacenter extra", "address", raw, "error", err)
			continue
		}
		if !p.filter.Accept(address) {
			p.logger.Debug("skipping filtered datacenter extra", "address", address)
			continue
		}
		candidates = append(candidates, Candidate{
			Address: address,
			Tier:    models.TierDatacenter,
			Source:  p.Name(),
		})
	}
	return candidates, nil
}

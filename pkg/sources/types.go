package sources

import (
	"context"

	"proxy-pool/pkg/models"
)

// Candidate is one acquired address before validation.
type Candidate struct {
	Address string      // normalized host:port, optional user:pass@ prefix
	Tier    models.Tier // tier of the producing provider
	Region  string      // region label when the source knows it
	Source  string      // provider name, for logging
}

// Provider defines the interface for the tiered candidate sources.
type Provider interface {
	// Name identifies the provider in logs.
	Name() string
	// Tier is the tier every candidate from this provider carries.
	Tier() models.Tier
	// Acquire fetches, normalizes and filters candidates. An error means
	// the whole source is unavailable, not that single entries were bad.
	Acquire(ctx context.Context) ([]Candidate, error)
}

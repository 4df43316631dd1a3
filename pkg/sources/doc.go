/*
Package sources provides the tiered proxy acquisition layer of the
proxy-pool application.

The package implements a Provider interface that standardizes candidate
acquisition across sources of very different quality, allowing the engine
to consult them in escalation order and stop as soon as it has enough
candidates.

Key Components:

  - Provider: Interface that defines the contract for candidate sources
  - Candidate: A normalized address with its tier and origin
  - Filter: Structural acceptance rules applied before validation
  - BuildProviders: Creates the ordered provider list from configuration

Provider Interface Methods:

	Name: Identifies the provider in logs
	Tier: The tier every candidate from this provider carries
	Acquire: Fetches, normalizes and filters candidates

Supported Providers:

 1. Premium Provider:
    - Authenticated provisioning API with token header
    - Entries may carry user:pass credentials
    - Retries transient API failures

 2. Datacenter Provider:
    - Curated built-in endpoint list, grouped by region
    - Operator extras from configuration, structurally filtered

 3. Public Provider:
    - Plain-text aggregator feeds with filter query parameters
    - HTML table pages scraped for anonymous and elite rows
    - Concurrent fan-out with a shared politeness rate limiter

Structural Filtering:

Candidates from untrusted feeds pass through the Filter before they are
returned: the port must be on the allowlist, IP literals must be publicly
routable (no private, loopback, link-local, unspecified or multicast
addresses), and known CDN prefixes are excluded because traffic through
them terminates at the edge, not at a proxy.

Usage Example:

	providers := sources.BuildProviders(cfg.Sources, logger)
	for _, provider := range providers {
		candidates, err := provider.Acquire(ctx)
		if err != nil {
			logger.Warn("source unavailable", "source", provider.Name(), "error", err)
			continue
		}
		// feed candidates into validation
	}

Error Handling:

Single malformed or filtered entries are skipped silently; a provider
returns an error only when the whole source is unavailable. Callers are
expected to treat provider errors as non-fatal and move on to the next
tier.

Thread Safety:

Providers are safe for concurrent use. The public provider serializes
its outbound requests through a rate limiter shared by all feeds.
*/
package sources

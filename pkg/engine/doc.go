/*
Package engine orchestrates the proxy pool lifecycle. It ties the
acquisition sources, the validator and the store together, and serves
ranked proxy selections to callers.

Key Components:

  - Engine: Core service that runs lifecycle cycles and serves selections
  - Validator: Small interface the engine validates batches through
  - outcome: Internal structure carrying one usage report to the worker

Engine Methods:

	GetBestProxy: Returns the top-ranked working proxy address
	ReportOutcome: Feeds a usage success or failure back into the pool
	Acquire: Runs one acquisition and validation cycle
	ForceRevalidate: Re-tests stored records along with fresh candidates
	Run: Maintenance loop driven by a clock ticker
	GetStats: Reports pool composition
	Close: Stops the outcome worker and background work

Usage Example:

	// Build the engine from its parts
	eng := engine.New(
		db,
		sources.BuildProviders(cfg.Sources, logger),
		validator.New(cfg.Validator, logger, clk),
		cfg,
		logger,
		clk,
	)
	defer eng.Close()

	// Fill the pool
	if err := eng.Acquire(ctx); err != nil {
		log.Fatal(err)
	}

	// Serve and report
	address, ok := eng.GetBestProxy(ctx)
	if ok {
		eng.ReportOutcome(address, true, "")
	}

Lifecycle Cycle:

1. Purge:
  - Failed records past the cool-down return to untested

2. Acquisition:
  - Stored retestable records join first on full revalidations
  - Providers run in tier order until enough fresh candidates accumulate
  - During emergency acquisition public candidates are tagged emergency
  - Duplicate addresses keep their first (highest) tier

3. Validation:
  - The whole batch runs under one deadline through the validator

4. Merge and Persist:
  - Fresh results fold into stored journals and counters
  - The batch is upserted, regions are enriched, the run is journaled
  - The selection cache is invalidated

Selection:

GetBestProxy serves from a ranked cache with a short TTL. An empty
working pool triggers exactly one synchronous emergency cycle; a pool
below the low-water mark triggers one background re-acquisition guarded
by an atomic in-flight flag.

Error Handling:

Per-source and per-candidate failures never abort a cycle; they are
logged and become state transitions. A cycle errors only when no source
produced any candidate or the store rejected the batch. Selection never
returns an error: exhaustion is the false boolean.

Thread Safety:

The engine is safe for concurrent use:
  - Cycles are serialized by a mutex
  - The selection cache is guarded separately
  - Outcome reports go through a single worker goroutine
  - Background re-acquisition is limited to one in flight

Dependencies:

  - sources: For tiered candidate acquisition
  - validator: For the two-stage validation pipeline
  - store: For durable records and the run journal
  - ipinfo: For optional region enrichment
*/
package engine

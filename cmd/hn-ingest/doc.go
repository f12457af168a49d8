// Package main hosts the ingestion service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and ingestion endpoints. A scrape trigger mints a
//     correlation ID, records acceptance, and hands off to the orchestrator in the background; query endpoints
//     serve persisted runs and items.
//   - Orchestration: internal/orchestrator sequences each run through a persisted step log
//     (internal/steplog). Every pipeline step records its outcome keyed by (correlation_id, step_name), so a
//     re-executed run replays recorded outcomes instead of redoing side effects. Terminal run states are guarded
//     at the SQL level; a conflicting transition surfaces loudly and is never retried.
//   - Scrape pipeline: a shared headless Chromedp browser (internal/session) opens one isolated tab context per
//     run, the listing collector (internal/parser) walks ranked pages with goquery, and the enricher
//     (internal/enricher) fetches discussion pages over plain HTTP with Colly to attach best-effort top replies.
//     Enrichment failures degrade individual items, never the run.
//   - Persistence & fanout: items are upserted idempotently by external ID and run records live beside the step
//     log (memory or Postgres via pgx). Diagnostic page snapshots go to the configured artifact sink
//     (local/GCS/noop), and a compact run-completion event is published when a Pub/Sub topic is configured.
//   - Configuration & plumbing: Viper populates config from env/files (HNINGEST_ prefix); zap provides
//     structured logging; Prometheus counters and histograms are exported via the /metrics handler.
//
// Operational notes:
//   - Concurrency model: the browser launcher bounds parallel tab contexts with a semaphore and rate-limits
//     navigations against the single source host; enrichment fans out under an errgroup limit. Shutdown is
//     coordinated via context cancellation from main through the server to in-flight runs.
//   - Durability: a run interrupted mid-pipeline can be re-triggered with the same correlation ID; recorded
//     steps are skipped and already-enriched items are salvaged before a run is marked FAILED.
//   - Run locally: go run ./cmd/hn-ingest -config config.yaml (or rely solely on env overrides). The process
//     reacts to SIGTERM for graceful drain: HTTP first, then the browser, then stores.
package main

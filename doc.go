// Package main hosts the fiscalharvest entrypoint.
//
// Architecture overview:
//   - Catalog & discovery: internal/catalog describes the government portals
//     (listing URL templates, access method, pacing); internal/discovery expands
//     each (source, fiscal year) pair into candidate documents, scraping
//     server-rendered listings with Colly and WAF-protected portals through the
//     shared Chromedp session.
//   - Existence oracle: internal/existence compares each candidate against the
//     local corpus (size-verified when a HEAD probe is cheap) and splits the
//     worklist into downloads and skips, making reruns idempotent.
//   - Scheduler & executor: internal/schedule partitions the worklist by access
//     method into a bounded direct pool and a strictly sequential browser lane,
//     and internal/download performs the transfers: streamed GETs with bounded
//     retry on the direct path, and a prefetch/browser-fetch/navigate fallback
//     chain when a WAF challenge is detected. Completed files land atomically
//     via temp-file rename.
//   - Extraction: internal/extract unpacks downloaded zip archives on a single
//     background worker with a bounded queue and a drain window at shutdown.
//   - Manifest: internal/manifest records one entry per planned file (ok,
//     skipped, corrupted, error) and persists the document atomically; the
//     retry subcommand rebuilds tasks from a prior document's failures without
//     re-running discovery.
//   - Plumbing: Viper populates config from file and FISCALHARVEST_ env vars;
//     zap provides structured logging; progress events fan out through a
//     buffered hub to log and Prometheus sinks, with an optional /metrics
//     listener.
//
// Operational notes:
//   - Concurrency model: discovery, direct downloads and existence probes run
//     on bounded pools; browser work is serialized on one session. Per-source
//     pacing uses a rate.Limiter per portal, honoring per-source delay
//     overrides.
//   - Shutdown: SIGINT/SIGTERM cancels the run context; unstarted tasks stay
//     pending in the manifest, the extractor gets a bounded drain, and the
//     document is flushed before exit, so a retry run can pick up the rest.
//   - Run locally: go run . fetch --sources comptroller --fiscal-years 2025
//     (or rely on fiscalharvest.yaml and env overrides).
package main

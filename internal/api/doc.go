// Package api hosts the read-only HTTP server for operators. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs and /v1/runs/{run_id} for the run ledger.
//   - GET /v1/runs/{run_id}/audit for per-run audit entries and state counts.
//   - GET /v1/offers/{resource_id}/history for the version history of an offer.
package api

// Package api hosts the operator HTTP surface that runs alongside a crawl:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /status and /status/{target} for the latest run summary per target.
package api

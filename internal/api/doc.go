// Package api exposes the operator HTTP interface for the extraction service.
// Notable routes:
//   - GET /healthz for liveness probes and GET /metrics for Prometheus.
//   - GET/POST /login and GET /logout for the operator session.
//   - GET / renders run status, POST /upload starts a run, GET /download
//     streams the JSONL output.
//   - GET /status returns the status snapshot as JSON.
package api

// Package main hosts the question extractor entrypoint.
//
// Architecture overview:
//   - HTTP UI: internal/api.Server renders the status page, accepts URL list uploads, and serves the JSONL output
//     behind a bcrypt/JWT login gate. An API key header admits scripted clients.
//   - Worker: a single internal/worker.Worker owns at most one run at a time. Each URL is sent to Gemini with the
//     fixed extraction prompt, the reply is parsed into one JSON object, and the record is appended to the output file.
//     Rate-limited attempts back off exponentially, other failures wait a fixed delay, and successes are spaced by
//     the configured cooldown.
//   - Persistence & fanout: records can be mirrored to Postgres. When a run ends the output artifact is archived to
//     the configured BlobStore (local/memory/GCS) and a run summary is published to Pub/Sub when a topic is set.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler.
//
// Quick checklist:
//   - Configure env vars: GEMINI_API_KEY (or EXTRACTOR_GEMINI_API_KEY), EXTRACTOR_AUTH_USERNAME,
//     EXTRACTOR_AUTH_PASSWORD or EXTRACTOR_AUTH_PASSWORD_HASH, EXTRACTOR_AUTH_SESSION_SECRET, and optionally
//     storage (EXTRACTOR_STORAGE_*), pubsub, and database DSN.
//   - Serve the UI: go run ./cmd/extractor -config config.yaml
//   - One-shot batch: go run ./cmd/extractor -input urls.txt
package main

// Package deltasync runs the one-way delta sync from the source table to the
// external API.
//
// A run reports batches left PROCESSING by an earlier run, resumes PENDING
// batches, detects NEW and CHANGED rows against the snapshot, stages them in
// customer-scoped batches, maps and sends each batch and reconciles the results.
// Snapshots advance only for rows the API accepted, so anything that failed is
// detected again on the next run.
//
// # Concurrency
//
// Batches of one customer run sequentially; different customers run
// concurrently up to Config.Workers. The run deadline is checked between
// batches and a started batch always finishes.
//
// # HTTP Endpoints
//
//   - GET /sync/batches : Lists batches (supports ?status=PENDING,PROCESSING).
//   - GET /sync/batches/:id : Returns one batch with its rows.
//   - POST /sync/batches/:id/abandon : Closes a batch stuck in PROCESSING.
//   - POST /sync/rows/:id/reset : Queues an ERROR row for replay.
//   - POST /sync/run : Runs a sync and returns the summary (409 while another runs).
package deltasync

// Package batcher partitions changed rows into customer-scoped batches.
//
// Records are grouped by canonical customer and split into consecutive chunks of
// at most MaxBatchSize rows. A key that already belongs to a PENDING or
// PROCESSING staging row is deferred instead of staged twice; the check is
// repeated right before each batch is persisted.
package batcher

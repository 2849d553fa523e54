// Package store persists the sync engine's durable state.
//
// StagingStore holds batches and their rows with an explicit lifecycle:
// rows move PENDING -> PROCESSING -> SUCCESS or ERROR, and a batch is closed as
// SUCCESS, PARTIAL or FAILED only once every row is terminal. Batches are
// written in one transaction so a failed persist leaves nothing behind. ERROR
// rows can be returned to PENDING with ResetRow for manual replay.
//
// SnapshotStore holds the last synced fingerprint per natural key and is
// advanced only for rows that reached SUCCESS.
package store

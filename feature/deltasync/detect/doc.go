// Package detect classifies source rows against the last synced snapshot.
//
// Each current row is fingerprinted and looked up by natural key: no snapshot
// means NEW, a different fingerprint means CHANGED, otherwise UNCHANGED. Keys
// present only in the snapshot are DELETED. The result is a lazy, restartable
// iter.Seq ordered by natural key.
//
// TableSource reads the source table into SourceRow values.
package detect

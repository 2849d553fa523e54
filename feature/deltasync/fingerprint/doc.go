// Package fingerprint computes deterministic content hashes of source rows.
//
// Values are canonicalized before hashing: text is trimmed and lower-cased,
// numerics are rendered with a fixed number of decimals, dates become RFC 3339
// in UTC, and nil becomes a reserved token. Each field contributes "name=value";
// pairs are joined by the unit separator and hashed with SHA-256.
package fingerprint

// Package canonical resolves raw customer names to canonical customer identities.
//
// Matching is case-insensitive and whitespace-normalized. A name that matches no
// alias is passed through unchanged with status REVIEW; it is data for the run
// summary, not an error. The alias table is loaded once per run.
package canonical

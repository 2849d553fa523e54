// Package models defines the shared data model of the delta sync engine: source
// rows and change records, the staged batch and row lifecycle, snapshots, and
// the run summary.
package models

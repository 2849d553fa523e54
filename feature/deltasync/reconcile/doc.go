// Package reconcile records API results against staging rows and advances the
// snapshot of every row that reached SUCCESS.
package reconcile

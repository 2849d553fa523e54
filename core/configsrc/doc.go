// Package configsrc loads the sync engine's config objects (mapping rules and
// customer alias tables) from a local directory or from object storage, and
// caches them for the duration of one run.
package configsrc

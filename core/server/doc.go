// Package server holds the HTTP ops server configuration.
//
// The start command owns the Fiber app lifecycle; this package only defines the
// settings (port, API key, read timeout) and validates them before the server binds.
package server

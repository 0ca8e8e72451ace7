// Package console serves the bridge's host console as embedded assets.
//
// The console is a small static page that drives the HTTP API: it shows
// the connection snapshot and configured peripherals, starts and stops
// programs, runs blocks by opcode and streams peripheral notifications
// from the WebSocket endpoint.
//
// Assets are embedded with go:embed. For console development, Handler can
// serve them from a directory instead so edits show up without a rebuild.
package console

// Package api implements the HTTP REST API and WebSocket server for the
// SIDEKICK bridge.
//
// This package provides:
//   - REST endpoints for the broker connection, peripherals and program lifecycle
//   - Block execution by opcode (POST /api/v1/blocks/{opcode})
//   - WebSocket hub relaying peripheral notifications on named channels
//   - Prometheus exposition on /metrics and the embedded host console on /console
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API is the host side of the bridge. A block-program host calls the
// block endpoints once per tick; hats and booleans answer false while the
// bridge is disconnected or no program runs, so polling never fails on
// connectivity. Connection outcomes are asynchronous: toggle and connect
// return 202 with the current snapshot, and the result arrives on the
// peripheral.connected or peripheral.error channel.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Security
//
// There is no authentication. The bridge is meant for a classroom LAN; bind
// the API to a trusted interface and restrict CORS origins in config.
package api

// Package gateway assembles the vault-gateway server.
//
// # Overview
//
// The Gateway owns every long-lived component: the vault store, the
// connection registry, the push channel, the dedupe cache, the delivery
// scheduler and the HTTP server. New wires them together; Run starts serving
// and ticking; Shutdown tears them down in order.
//
// # HTTP API
//
// Routes are registered in router.go:
//
//   - GET /health - Liveness check
//   - GET /health/ready - Live connections and scheduler counters (503 before the first tick)
//   - POST /api/vault - Create a message
//   - GET /api/vault/{id} - Fetch one of the caller's messages
//   - PATCH /api/vault/{id} - Edit an undelivered message
//   - DELETE /api/vault/{id} - Delete a message
//   - GET /api/vault/delivered - Delivered listing, newest first (?page, ?limit)
//   - GET /api/vault/upcoming - Upcoming listing, soonest first (?page, ?limit)
//   - GET /api/vault/stream - Server-Sent Events push transport
//   - GET /ws - Websocket push transport
//
// Vault responses share one envelope:
//
//	{"statusCode": 201, "data": {...}, "message": "...", "success": true}
//
// Validation errors are 400, editing a delivered message is 403, a missing
// or foreign message is 404.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks; shuts down when ctx is cancelled
//
// Shutdown order: scheduler (the in-flight tick may finish), HTTP server,
// live connections, Tailscale node, store, dedupe cache.
package gateway

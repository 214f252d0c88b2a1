// Package gateway runs the coven-hostd servers.
//
// # Overview
//
// The Gateway wires the store, the shared worker pool, and the host manager
// together, connects a local resource for every configured host, and serves:
//
//   - an HTTP API for inspecting hosts and dispatching commands
//   - a gRPC health service reporting per-host serving status
//
// # HTTP Endpoints
//
//	GET  /health                     liveness
//	GET  /health/ready               503 until at least one host is connected
//	GET  /api/hosts                  all known hosts
//	GET  /api/hosts/{id}             one host
//	POST /api/hosts/{id}/commands    run a batch and wait for the answers
//	POST /api/hosts/{id}/cron        schedule a cron command
//	POST /api/hosts/{id}/password    update a credential synchronously
//	POST /api/hosts/{id}/connect     (re)bind a configured host
//	POST /api/hosts/{id}/disconnect  disconnect with an optional event
//	GET  /api/hosts/{id}/events      lifecycle events, newest first
//	GET  /api/hosts/{id}/results     persisted cron and late results
//	GET  /api/pool                   worker pool counters
//
// A command batch looks like:
//
//	{"commands": [{"type": "echo", "message": "hi"}], "stop_on_error": true}
//
// # gRPC Health
//
// The standard grpc.health.v1 service is registered. Each host is published
// as "host/<id>" and is SERVING while its status is up. The empty service
// name is SERVING while any host is connected.
//
// # Lifecycle
//
// Run serves both listeners and the manager's leak sweep under one errgroup.
// When the context is canceled, or any of them fails, Shutdown stops the
// servers, disconnects every host, drains the pool, and closes the store.
package gateway

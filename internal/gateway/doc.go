// Package gateway orchestrates the wai-gateway server components.
//
// # Overview
//
// The gateway package builds every long-lived component once, in an
// AppContext, and exposes it over HTTP and gRPC. Handlers receive the
// AppContext explicitly; there is no package-level state.
//
// # AppContext
//
// NewAppContext wires, in order: metrics, the session store (memory, SQLite
// or Redis), the application record repository, the capability providers,
// the dispatch manager, the language model client, the progress broadcaster,
// the conversation engine and the MCP server. Provider initialization failure
// aborts startup.
//
// # HTTP API
//
// The router in router.go serves:
//
//   - GET /health - Liveness check
//   - GET /health/ready - 200 once capabilities are registered
//   - GET /api/v1/health - Component status (healthy or degraded)
//   - GET /api/v1/tools - Registered capabilities with schemas
//   - POST /api/v1/chat - Ask a question (?format=html renders the answer)
//   - POST /api/v1/sessions - Create a session
//   - GET /api/v1/sessions?user_id= - List a user's sessions
//   - GET /api/v1/sessions/{id} - Session detail
//   - PUT /api/v1/sessions/{id} - Merge keys into the session context
//   - DELETE /api/v1/sessions/{id} - Delete a session
//   - GET /api/v1/sessions/{id}/events - Query progress as server-sent events
//   - /metrics - Prometheus metrics, when enabled
//   - /mcp - MCP streamable HTTP transport, when enabled
//
// Errors are JSON objects with "error" and "kind". Session problems map to
// 404, request validation to 400 or 422, model rate limiting to 429, other
// model transport failures to 502 and an exhausted iteration bound to 500.
// Tool failures never surface as HTTP errors; the model sees them instead.
//
// # gRPC
//
// The gRPC server carries the standard grpc.health.v1 service, reporting
// SERVING under both "" and "wai.Gateway" once capabilities are initialized.
//
// # Listeners
//
// By default the gateway listens on the configured TCP addresses. With
// tailscale.enabled it joins a tailnet through tsnet and serves gRPC on
// :50051 and HTTP on :80, :443 with https, or publicly through Funnel.
//
// # Lifecycle
//
// Run starts the listeners, the expired-session sweeper and, when configured,
// the records directory watcher. It blocks until the context is cancelled or
// a server fails, then shuts down with a five second grace period.
package gateway

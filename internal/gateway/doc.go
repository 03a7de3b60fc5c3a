// Package gateway orchestrates the ambivo-gpt server components.
//
// # Overview
//
// The gateway owns the HTTP server and wires everything behind it: the CRM
// client (the only outbound connection pool), the tool dispatcher, the
// rendered OpenAPI/manifest/docs set, and the MCP endpoint. Requests are
// independent; nothing is shared between them except the read-only registry
// and the CRM transport.
//
// # HTTP API
//
//   - POST /query - natural language query, returns the normalized envelope
//   - GET /tools - tool listing with server info (no credential)
//   - POST /tools - run one tool by name
//   - POST /mcp - Model Context Protocol (see package mcp)
//   - GET /health - liveness, no CRM call
//   - GET /openapi.json, /gpt-schema.json, /openapi.yaml - API description
//   - GET /gpt-clean.json, /gpt-store-ready.json - query-only GPT action schemas
//   - GET /.well-known/ai-plugin.json - plugin manifest
//   - GET /docs - usage guide
//   - GET /, /debug - endpoint directory and build info
//
// Failures are written as
//
//	{"success": false, "error": "...", "kind": "validation_error"}
//
// with tool_name, upstream_status and upstream_body added when known. Method
// mismatches are 405 with an Allow header, unknown paths are 404.
//
// # Middleware
//
// Applied outermost first: panic recovery, X-Request-ID, access log, CORS
// (any origin, preflight answered 204), 1 MiB body limit.
//
// # Listeners
//
// Without Tailscale the server listens on server.http_addr. With
// tailscale.enabled it joins the tailnet through tsnet and serves on :443
// via Funnel (public, suitable for GPT actions) or tailnet TLS, or on
// plain :80.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger, version)
//	err = gw.Run(ctx) // blocks; cancel ctx to stop
//
// Run shuts down gracefully when ctx is canceled, waiting for in-flight
// requests up to the CRM timeout before closing idle CRM connections.
package gateway

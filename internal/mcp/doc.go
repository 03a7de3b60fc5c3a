// Package mcp implements the Model Context Protocol endpoint for the gateway's tools.
//
// # Overview
//
// MCP clients reach the same tool registry as POST /tools, through JSON-RPC
// 2.0 at POST /mcp. The transport is Streamable HTTP without sessions: the
// server never issues Mcp-Session-Id and keeps nothing between requests.
//
// # Methods
//
//   - initialize: protocol version negotiation and serverInfo
//   - ping
//   - tools/list: every registered tool with its input schema
//   - tools/call: runs one tool
//
// Notifications (requests without an id) are answered 202 with no body.
//
// # Authentication
//
// Each tools/call resolves its own credential: arguments.api_key, then
//
//	Authorization: Bearer <token>
//
// then the process default. A missing or rejected credential is reported as a
// tool result with isError set, as are validation and CRM failures, so the
// calling model can read the message. Unknown tools are JSON-RPC -32602.
package mcp

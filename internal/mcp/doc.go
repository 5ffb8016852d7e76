// ABOUTME: MCP tool server: JSON-RPC 2.0 over two HTTP transports
// ABOUTME: Stateless POST plus SSE sessions with per-session FIFO delivery queues

// Package mcp implements the Model Context Protocol tool server that lets
// external AI agents manage knowledge points and reviews over JSON-RPC 2.0.
//
// Two transports share one method surface (initialize, tools/list,
// tools/call) and one frozen eight-tool registry:
//
//   - POST /mcp authenticates a bearer API key on every request and returns
//     the JSON-RPC response inline. Each request gets a fresh ServerInstance
//     bound to the resolved identity.
//   - GET /mcp/sse authenticates once and opens a long-lived event stream.
//     The first event names the submission endpoint, which embeds a fresh
//     session id. POST /mcp/messages?sessionId=... then dispatches requests
//     against that session's instance, answering 202 immediately; responses
//     arrive later as message events on the stream, in FIFO enqueue order.
//
// The SessionRegistry is the only shared mutable state. It is in-memory and
// single-process: sessions are sticky to the process that created them and
// end on disconnect, at a hard one-hour lifetime, or at shutdown. Delivery
// is channel-notified rather than polled, so enqueued responses reach the
// stream without a timer tick of latency.
package mcp

// ABOUTME: REST API for the learn-assistant web app
// ABOUTME: Auth, knowledge CRUD, reviews, search, chat, and API key management

// Package web serves the HTTP API used by the web frontend.
//
// Routes live under /api and are authenticated with JWT session tokens,
// except signup and signin. The MCP transports are mounted at /mcp on the
// same router but handle their own API-key authentication.
//
// Ownership follows the same rule as the store: a resource belonging to
// another user answers 404, never 403.
package web

// Package auth provides authentication for the two caller populations of
// learn-assistant: MCP clients presenting API keys, and web/app users
// presenting JWT session tokens.
//
// # API Keys
//
// Keys have the form sk_<43 chars of base64url>. Verification looks up
// candidate records by the indexed 8-character prefix and compares the full
// key in memory, so arbitrary key characters never appear in a query filter.
// Unknown, malformed, and expired keys all verify to nil without error;
// only store failures surface as errors. Successful verification records a
// last-used timestamp in the background, best-effort.
//
// # User Sessions
//
// Session tokens are HS256 JWTs carrying the user ID in the "sub" claim,
// issued at signin and verified by middleware on the REST API.
//
// Both paths produce an Identity that travels via the request context.
package auth

// Package knowledge implements the spaced-repetition domain operations:
// creating question/answer points with review schedules at fixed day offsets,
// listing due reviews, and completing them with recall text.
//
// The Service is stateless beyond its store handle. Every operation requires
// an explicit user ID and is scoped to it; both the MCP tool adapter and the
// REST API go through this one service so the two surfaces cannot drift.
package knowledge

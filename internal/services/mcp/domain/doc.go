// Package domain maps MCP tool calls onto one kernel session.
//
// The Bridge owns the single active session and the transitions between
// "no session" and "session active". Tool handlers are thin: they call the
// Bridge and translate its errors into structured failure results, so a
// caller always receives a result it can read instead of a protocol error.
package domain

// Package mcp implements a JSON-RPC based capability protocol that lets a
// client invoke named tools, read addressable resources, and render prompt
// templates exposed by a server, over interchangeable byte-stream transports
// (stdio pipes, HTTP with server-push, and WebSocket).
//
// The package is organized around a small set of components: a message codec
// for the wire envelope, a Transport contract any carrier must satisfy, a
// Correlator matching outstanding requests to their replies, a Registry of
// capability handlers, a server-side dispatcher, and a client session that
// owns connection lifecycle, heartbeats, and automatic reconnection.
package mcp

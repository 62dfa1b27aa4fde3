// Package ws streams sandbox events to WebSocket subscribers.
//
// Subscribers connect to /stream and receive JSON events:
//
//	{"type": "execution", "timestamp": 1700000000000, "data": {...}}
//
// Event types are system (sent once on connect), execution, undefined,
// reset and reload. A subscriber may send {"type": "ping"} and gets
// {"type": "pong"} back.
package ws

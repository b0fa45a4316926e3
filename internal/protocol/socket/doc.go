// Package socket owns the WebSocket transport for one result stream.
//
// Ownership boundary:
// - tcp/tls dialing and the http upgrade handshake
// - the single background frame reader
// - transmit/close and idempotent teardown
//
// Decoded text payloads are delivered to a Handler; the handler decides what
// is application traffic. Protocol-level ping frames are answered here and
// never reach the handler.
package socket

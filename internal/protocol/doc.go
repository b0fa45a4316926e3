// Package protocol groups the streaming wire stack.
//
// Ownership boundary:
// - queue: bounded-wait FIFO between the reader and the owner
// - socket: websocket client, upgrade, reader loop, transmit and close
// - session: welcome/subscribe/confirm handshake and result delivery
package protocol

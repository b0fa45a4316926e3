// Package session owns the pub/sub layer on top of one websocket.
//
// Ownership boundary:
// - welcome -> subscribe -> confirm_subscription handshake
// - application ping filtering
// - result envelope encoding and delivery
//
// A Session owns exactly one socket.Conn and one queue for its lifetime.
// Reconnection is not attempted; Disconnected is the hook for it.
package session

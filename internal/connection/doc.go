// Package connection implements the bridge's Connection Manager.
//
// The Connection Manager:
//   - Owns exactly one STOMP session to one backend URL
//   - Tracks subscribed destinations in a registry that survives reconnects
//   - Connects on demand when a subscription is requested while disconnected
//   - Re-subscribes every registered destination after Reconnect
//   - Publishes inbound frames to the local bus and hands session errors to an
//     optional error handler
//
// Wire encoding is not done here. The STOMP session is supplied through the Client
// interface; see package stompws for the WebSocket implementation.
package connection

// Package stompws provides STOMP sessions over WebSocket.
//
// The WebSocket is dialed with gorilla/websocket and adapted to an
// io.ReadWriteCloser (one text message per write, inbound messages read as a
// stream) so that go-stomp can run its framing and heart-beating on top of it.
// Sessions report transport failures once, and never after a local Disconnect.
package stompws

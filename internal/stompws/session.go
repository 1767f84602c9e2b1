package stompws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/go-stomp/stomp/v3"
	"github.com/google/uuid"

	"github.com/rickgao/stompbridge/internal/connection"
)

// session is one STOMP connection. It implements connection.Session.
type session struct {
	id             string
	conn           *stomp.Conn
	rwc            *wsConn
	handler        connection.SessionHandler
	rawContentType string
	logger         *slog.Logger

	connected atomic.Bool
	closing   atomic.Bool
}

func newSession(conn *stomp.Conn, rwc *wsConn, handler connection.SessionHandler, rawContentType string, logger *slog.Logger) *session {
	id := uuid.NewString()
	s := &session{
		id:             id,
		conn:           conn,
		rwc:            rwc,
		handler:        handler,
		rawContentType: rawContentType,
		logger:         logger.With("session", id),
	}
	s.connected.Store(true)
	return s
}

func (s *session) ID() string {
	return s.id
}

func (s *session) IsConnected() bool {
	return s.connected.Load()
}

// Send writes body without re-encoding it.
func (s *session) Send(destination string, body []byte) error {
	if !s.IsConnected() {
		return connection.ErrNotConnected
	}
	return s.conn.Send(destination, s.rawContentType, body)
}

// SendObject sends v as JSON.
func (s *session) SendObject(destination string, v any) error {
	if !s.IsConnected() {
		return connection.ErrNotConnected
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return s.conn.Send(destination, "application/json", body)
}

// Subscribe subscribes with auto-ack and delivers messages to handler on a
// dedicated goroutine until the subscription ends.
func (s *session) Subscribe(destination string, handler connection.FrameHandler) (connection.Subscription, error) {
	if !s.IsConnected() {
		return nil, connection.ErrNotConnected
	}

	sub, err := s.conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, err
	}

	go s.drain(sub, handler)

	return &subscription{sub: sub}, nil
}

func (s *session) drain(sub *stomp.Subscription, handler connection.FrameHandler) {
	for msg := range sub.C {
		if msg.Err != nil {
			if s.closing.Load() {
				continue
			}
			// A dropped socket is already reported once as a transport error.
			if !s.IsConnected() && !isErrorFrame(msg.Err) {
				continue
			}
			s.handler.HandleException(s, msg.Err)
			continue
		}
		handler(toFrame(msg))
	}
	s.logger.Debug("subscription ended", "destination", sub.Destination())
}

// Disconnect performs a graceful STOMP DISCONNECT and closes the socket.
func (s *session) Disconnect() error {
	s.closing.Store(true)
	s.rwc.intentional.Store(true)
	s.connected.Store(false)

	err := s.conn.Disconnect()
	if cerr := s.rwc.closeIntentionally(); err == nil && cerr != nil {
		err = cerr
	}
	return err
}

// transportError is installed on the socket adapter.
func (s *session) transportError(err error) {
	if !s.connected.Swap(false) {
		return
	}
	s.logger.Warn("transport error", "error", err)
	s.handler.HandleTransportError(s, err)
}

// isErrorFrame reports whether err carries an ERROR frame sent by the broker.
func isErrorFrame(err error) bool {
	var serr *stomp.Error
	return errors.As(err, &serr) && serr.Frame != nil
}

func toFrame(msg *stomp.Message) connection.Frame {
	f := connection.Frame{
		Destination: msg.Destination,
		Body:        msg.Body,
	}
	if msg.Header != nil {
		n := msg.Header.Len()
		f.Header = make([]connection.HeaderField, 0, n)
		for i := 0; i < n; i++ {
			k, v := msg.Header.GetAt(i)
			f.Header = append(f.Header, connection.HeaderField{Key: k, Value: v})
		}
	}
	return f
}

// subscription implements connection.Subscription.
type subscription struct {
	sub *stomp.Subscription
}

func (s *subscription) Destination() string {
	return s.sub.Destination()
}

func (s *subscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Errors
var (
	ErrNotConnected = errors.New("not connected")
	ErrConnect      = errors.New("connect failed")
)

// State is the lifecycle state of a Manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// HeaderField is one STOMP header entry. Frames keep headers in wire order and
// may repeat a name.
type HeaderField struct {
	Key   string
	Value string
}

// Frame is one message received from the backend.
type Frame struct {
	Destination string // empty when the frame carries no destination header
	Header      []HeaderField
	Body        []byte
}

// HeaderMap returns a single-valued view of the frame headers.
// For repeated names the last value wins.
func (f Frame) HeaderMap() map[string]string {
	m := make(map[string]string, len(f.Header))
	for _, h := range f.Header {
		m[h.Key] = h.Value
	}
	return m
}

// FrameHandler receives frames for one subscription.
type FrameHandler func(Frame)

// SessionHandler receives session-level callbacks from a Client.
type SessionHandler interface {
	AfterConnected(session Session)
	HandleFrame(frame Frame)
	// HandleException reports a protocol-level failure (ERROR frame, undecodable message).
	HandleException(session Session, err error)
	// HandleTransportError reports a socket failure. The session is no longer usable.
	HandleTransportError(session Session, err error)
}

// Subscription is the handle for one active subscription on a Session.
type Subscription interface {
	Destination() string
	Unsubscribe() error
}

// Session is an established STOMP session.
type Session interface {
	ID() string

	// Send writes body as-is.
	Send(destination string, body []byte) error

	// SendObject serializes v before sending.
	SendObject(destination string, v any) error

	Subscribe(destination string, handler FrameHandler) (Subscription, error)
	Disconnect() error
	IsConnected() bool
}

// Client opens sessions. Connect blocks until the STOMP handshake completes or fails.
type Client interface {
	Connect(ctx context.Context, uri string, header http.Header, handler SessionHandler) (Session, error)
}

// Publisher is the local message bus the manager forwards inbound frames to.
type Publisher interface {
	Publish(destination string, payload []byte, headers map[string]string) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(destination string, payload []byte, headers map[string]string) error

// Publish calls f.
func (f PublisherFunc) Publish(destination string, payload []byte, headers map[string]string) error {
	return f(destination, payload, headers)
}

// ErrorKind tells protocol failures from transport failures.
type ErrorKind string

const (
	ErrorKindProtocol  ErrorKind = "protocol"
	ErrorKindTransport ErrorKind = "transport"
)

// SessionError carries an asynchronous session failure to the error handler.
type SessionError struct {
	ID      uuid.UUID
	Manager *Manager
	URL     string
	Session Session // may be nil
	Kind    ErrorKind
	Err     error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s error on %s: %v", e.Kind, e.URL, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// ErrorHandler receives session errors.
type ErrorHandler interface {
	HandleError(err *SessionError)
}

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc func(err *SessionError)

// HandleError calls f.
func (f ErrorHandlerFunc) HandleError(err *SessionError) {
	f(err)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	URL            string        // backend ws:// or wss:// URL
	Header         http.Header   // extra handshake headers
	ConnectTimeout time.Duration // 0 = rely on ctx and the client's own timeout
	Destinations   []string      // subscribed by Start
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ConnectTimeout: 10 * time.Second,
	}
}

// ManagerStats provides statistics about a manager.
type ManagerStats struct {
	State           State
	Subscriptions   int
	FramesForwarded int64
	FramesDropped   int64
	PublishErrors   int64
	ErrorsDelivered int64
	Reconnects      int64
}

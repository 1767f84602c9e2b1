package stompws

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is reported when the socket is closed by anyone other than
// the session owner, e.g. go-stomp giving up after missed heart-beats.
var ErrConnectionClosed = errors.New("websocket connection closed")

// wsConn adapts a WebSocket to the byte stream go-stomp expects.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// Only go-stomp's reader goroutine calls Read.
	reader io.Reader

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error

	// Set before an intentional close so that the resulting errors are not
	// reported as transport failures.
	intentional atomic.Bool

	errMu    sync.Mutex
	onError  func(error)
	failed   error // first unintentional failure
	reported bool
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

// setErrorHandler installs the transport failure callback. A failure recorded
// before the callback was installed is reported immediately.
func (c *wsConn) setErrorHandler(fn func(error)) {
	c.errMu.Lock()
	c.onError = fn
	err := c.failed
	report := err != nil && !c.reported
	if report {
		c.reported = true
	}
	c.errMu.Unlock()

	if report {
		fn(err)
	}
}

// Read returns bytes from consecutive WebSocket messages.
func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.conn.NextReader()
			if err != nil {
				c.fail(err)
				return 0, err
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			c.fail(err)
		}
		return n, err
	}
}

// Write sends p as a single text message.
func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		c.fail(err)
		return 0, err
	}
	return len(p), nil
}

// Close sends a close message and closes the socket. Safe to call repeatedly.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.fail(ErrConnectionClosed)

		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)

		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// closeIntentionally closes without reporting a transport failure.
func (c *wsConn) closeIntentionally() error {
	c.intentional.Store(true)
	return c.Close()
}

// fail records the first unintentional failure and reports it once.
func (c *wsConn) fail(err error) {
	if c.intentional.Load() {
		return
	}

	c.errMu.Lock()
	if c.failed == nil {
		c.failed = err
	}
	first := c.failed
	fn := c.onError
	report := fn != nil && !c.reported
	if report {
		c.reported = true
	}
	c.errMu.Unlock()

	if report {
		fn(first)
	}
}

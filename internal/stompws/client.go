package stompws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"

	"github.com/rickgao/stompbridge/internal/connection"
	"github.com/rickgao/stompbridge/internal/version"
)

// Subprotocols offered on the WebSocket handshake.
var Subprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// Config configures a Client.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	Host     string // STOMP host header; defaults to the URL host name
	Login    string
	Passcode string

	HeartbeatSend time.Duration
	HeartbeatRecv time.Duration

	ConnectHeaders map[string]string // extra headers on the CONNECT frame
	RawContentType string            // content-type for Session.Send; empty omits it
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		HeartbeatSend:    10 * time.Second,
		HeartbeatRecv:    10 * time.Second,
	}
}

// Client opens STOMP sessions over WebSocket. It implements connection.Client.
type Client struct {
	cfg    Config
	logger *slog.Logger
	dialer *websocket.Dialer
}

var _ connection.Client = (*Client)(nil)

// NewClient creates a new Client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			Subprotocols:     Subprotocols,
		},
	}
}

// Connect dials uri and performs the STOMP handshake. It blocks until the
// backend answers CONNECTED, the handshake fails, or ctx is done.
func (c *Client) Connect(ctx context.Context, uri string, header http.Header, handler connection.SessionHandler) (connection.Session, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	if header == nil {
		header = http.Header{}
	}
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", version.UserAgent())
	}

	ws, resp, err := c.dialer.DialContext(ctx, uri, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial websocket (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	rwc := newWSConn(ws, c.cfg.WriteTimeout)

	// stomp.Connect has no context; closing the socket unblocks it.
	stop := context.AfterFunc(ctx, func() {
		rwc.closeIntentionally()
	})

	conn, err := stomp.Connect(rwc, c.connectOptions(u)...)
	if !stop() {
		if conn != nil {
			conn.MustDisconnect()
		}
		return nil, fmt.Errorf("stomp handshake: %w", errors.Join(ctx.Err(), err))
	}
	if err != nil {
		rwc.closeIntentionally()
		return nil, fmt.Errorf("stomp handshake: %w", err)
	}

	s := newSession(conn, rwc, handler, c.cfg.RawContentType, c.logger)
	rwc.setErrorHandler(s.transportError)

	c.logger.Debug("stomp session established",
		"url", uri,
		"session", s.ID(),
		"subprotocol", ws.Subprotocol(),
		"server", conn.Server(),
		"version", conn.Version().String(),
	)

	handler.AfterConnected(s)
	return s, nil
}

func (c *Client) connectOptions(u *url.URL) []func(*stomp.Conn) error {
	host := c.cfg.Host
	if host == "" {
		host = u.Hostname()
	}

	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.Host(host),
		stomp.ConnOpt.HeartBeat(c.cfg.HeartbeatSend, c.cfg.HeartbeatRecv),
		stomp.ConnOpt.Logger(newStompLogger(c.logger)),
	}
	if c.cfg.Login != "" {
		opts = append(opts, stomp.ConnOpt.Login(c.cfg.Login, c.cfg.Passcode))
	}
	for k, v := range c.cfg.ConnectHeaders {
		opts = append(opts, stomp.ConnOpt.Header(k, v))
	}
	return opts
}
